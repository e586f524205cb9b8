package services

import (
	"strings"
	"testing"
	"time"

	"github.com/codyseavey/kpi-widget/internal/models"
)

func TestTrendFor(t *testing.T) {
	tests := []struct {
		name        string
		delta       float64
		unfavorable bool
		want        Trend
	}{
		{"positive delta is good", 5, false, TrendGood},
		{"negative delta is bad", -5, false, TrendBad},
		{"zero delta is neutral", 0, false, TrendNeutral},
		{"positive delta on unfavorable metric is bad", 5, true, TrendBad},
		{"negative delta on unfavorable metric is good", -5, true, TrendGood},
		{"zero delta on unfavorable metric stays neutral", 0, true, TrendNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TrendFor(tt.delta, tt.unfavorable); got != tt.want {
				t.Errorf("TrendFor(%v, %v) = %v, want %v", tt.delta, tt.unfavorable, got, tt.want)
			}
		})
	}
}

func TestFormatDelta(t *testing.T) {
	tests := []struct {
		name         string
		current      float64
		reference    float64
		isPercentage bool
		want         string
	}{
		{"percent metric uses points", 5.5, 3.0, true, "+2.50 pts"},
		{"percent metric negative", 3.0, 5.5, true, "-2.50 pts"},
		{"plain metric percent of reference", 150, 100, false, "+50.0% (+50)"},
		{"plain metric decrease", 80, 100, false, "-20.0% (-20)"},
		{"zero reference has no percent", 40, 0, false, "+40 (n/a %)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatDelta(tt.current, tt.reference, tt.isPercentage); got != tt.want {
				t.Errorf("formatDelta(%v, %v, %v) = %q, want %q", tt.current, tt.reference, tt.isPercentage, got, tt.want)
			}
		})
	}
}

func TestBuildPointTooltip(t *testing.T) {
	point := models.SeriesPoint{
		Date:  time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC),
		Value: 150,
		TooltipValues: map[string]models.TooltipValue{
			"Units": models.NumericTooltipValue(12, "12"),
		},
	}

	content := BuildPointTooltip(point, 100, "Revenue", false, false, []string{"Units"})
	if content.Title != "Mar 5, 2024" {
		t.Errorf("title = %q", content.Title)
	}
	if content.Trend != TrendGood {
		t.Errorf("trend = %v, want good", content.Trend)
	}

	wantLines := []TooltipLine{
		{Label: "Revenue", Value: "150"},
		{Label: "Reference", Value: "100"},
		{Label: "Change", Value: "+50.0% (+50)"},
		{Label: "---"},
		{Label: "Units", Value: "12"},
	}
	if len(content.Lines) != len(wantLines) {
		t.Fatalf("got %d lines, want %d: %+v", len(content.Lines), len(wantLines), content.Lines)
	}
	for i, want := range wantLines {
		if content.Lines[i] != want {
			t.Errorf("line %d = %+v, want %+v", i, content.Lines[i], want)
		}
	}

	t.Run("unfavorable inverts trend only", func(t *testing.T) {
		inv := BuildPointTooltip(point, 100, "ReturnRate", false, true, nil)
		if inv.Trend != TrendBad {
			t.Errorf("trend = %v, want bad for increase of an unfavorable metric", inv.Trend)
		}
		// the delta line keeps its true sign
		if inv.Lines[2].Value != "+50.0% (+50)" {
			t.Errorf("delta line = %q, sign must not be inverted", inv.Lines[2].Value)
		}
	})
}

func TestBuildSummaryTooltip(t *testing.T) {
	windows := models.ComparisonWindows{
		PrevMonth: models.DateWindow{
			Start: time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, time.February, 15, 23, 59, 59, 999000000, time.UTC),
		},
		PrevYear: models.DateWindow{
			Start: time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2023, time.March, 15, 23, 59, 59, 999000000, time.UTC),
		},
	}
	card := models.Card{
		MetricName:     "Revenue",
		DetailGroupKey: "West",
		CurrentTotal:   150,
		ReferenceTotal: 100,
		PriorYearTotal: 200,
		DisplayValue:   "150",
	}

	content := BuildSummaryTooltip(card, windows, nil)
	if content.Title != "Revenue — West" {
		t.Errorf("title = %q", content.Title)
	}
	if content.Trend != TrendGood {
		t.Errorf("trend = %v, want good", content.Trend)
	}
	if content.Lines[0].Value != "150" {
		t.Errorf("current line = %+v", content.Lines[0])
	}
	if !strings.Contains(content.Lines[1].Label, "Feb 1 – Feb 15") {
		t.Errorf("prior-month label = %q, want window range", content.Lines[1].Label)
	}
	if content.Lines[1].Value != "+50.0% (+50)" {
		t.Errorf("prior-month delta = %q", content.Lines[1].Value)
	}
	if content.Lines[2].Value != "-25.0% (-50)" {
		t.Errorf("prior-year delta = %q", content.Lines[2].Value)
	}

	t.Run("unfavorable metric inverts card trend", func(t *testing.T) {
		bad := card
		bad.Unfavorable = true
		if got := BuildSummaryTooltip(bad, windows, nil).Trend; got != TrendBad {
			t.Errorf("trend = %v, want bad", got)
		}
	})

	t.Run("tooltip field totals appended after divider", func(t *testing.T) {
		withTotals := BuildSummaryTooltip(card, windows, []TooltipFieldTotal{
			{Field: "Units", Current: 6, PrevMonth: 3, PrevYear: 1},
		})
		last := withTotals.Lines[len(withTotals.Lines)-1]
		if last.Label != "Units" || last.Value != "6" {
			t.Errorf("units line = %+v", last)
		}
		if withTotals.Lines[len(withTotals.Lines)-2].Label != "---" {
			t.Error("missing divider before tooltip field totals")
		}
	})
}

func TestBuildSelectionTooltip(t *testing.T) {
	mk := func(d int, v float64, region string) models.SeriesPoint {
		p := models.SeriesPoint{Date: time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC), Value: v}
		if region != "" {
			p.TooltipValues = map[string]models.TooltipValue{"Region": models.TextTooltipValue(region)}
		}
		return p
	}
	current := []models.SeriesPoint{mk(1, 10, "West"), mk(2, 20, "East"), mk(3, 30, "West")}
	reference := []models.SeriesPoint{mk(1, 5, ""), mk(2, 15, ""), mk(3, 45, "")}

	t.Run("sums selected indices", func(t *testing.T) {
		content := BuildSelectionTooltip([]int{1, 0}, current, reference, "Revenue", false, false, nil)
		if content.Title != "Mar 1, 2024 – Mar 2, 2024" {
			t.Errorf("title = %q", content.Title)
		}
		wantLines := []TooltipLine{
			{Label: "Revenue", Value: "30"},
			{Label: "Reference", Value: "20"},
			{Label: "Change", Value: "+50.0% (+10)"},
			{Label: "Points", Value: "2"},
		}
		for i, want := range wantLines {
			if content.Lines[i] != want {
				t.Errorf("line %d = %+v, want %+v", i, content.Lines[i], want)
			}
		}
		if content.Trend != TrendGood {
			t.Errorf("trend = %v, want good", content.Trend)
		}
	})

	t.Run("text field collapses to multiple", func(t *testing.T) {
		content := BuildSelectionTooltip([]int{0, 1}, current, reference, "Revenue", false, false, []string{"Region"})
		last := content.Lines[len(content.Lines)-1]
		if last.Label != "Region" || last.Value != "(multiple)" {
			t.Errorf("region line = %+v, want (multiple)", last)
		}
	})

	t.Run("agreeing text field shows the value", func(t *testing.T) {
		content := BuildSelectionTooltip([]int{0, 2}, current, reference, "Revenue", false, false, []string{"Region"})
		last := content.Lines[len(content.Lines)-1]
		if last.Label != "Region" || last.Value != "West" {
			t.Errorf("region line = %+v, want West", last)
		}
	})

	t.Run("unfavorable selection inverts trend", func(t *testing.T) {
		content := BuildSelectionTooltip([]int{0, 1}, current, reference, "ReturnRate", false, true, nil)
		if content.Trend != TrendBad {
			t.Errorf("trend = %v, want bad", content.Trend)
		}
	})
}
