package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codyseavey/kpi-widget/internal/host"
	"github.com/codyseavey/kpi-widget/internal/models"
)

func salesColumns() []host.Column {
	return []host.Column{
		{Field: "OrderDate", Kind: models.DataKindDate, Index: 0},
		{Field: "Revenue", Kind: models.DataKindNumber, Index: 1},
		{Field: "Region", Kind: models.DataKindText, Index: 2},
		{Field: "Units", Kind: models.DataKindNumber, Index: 3},
	}
}

func salesRow(d time.Time, revenue float64, region string, units float64) []host.Cell {
	return []host.Cell{
		dateCell(d),
		numCell(revenue, formatNumber(revenue)),
		textCell(region),
		numCell(units, formatNumber(units)),
	}
}

func marchWindow(fromDay, toDay int) models.DateWindow {
	return models.DateWindow{
		Start: time.Date(2024, time.March, fromDay, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, time.March, toDay, 23, 59, 59, 999000000, time.UTC),
	}
}

func TestFetchTotal(t *testing.T) {
	ctx := context.Background()
	window := marchWindow(1, 10)

	t.Run("sums numeric cells in window", func(t *testing.T) {
		source := newFakeSource(salesColumns(), [][]host.Cell{
			salesRow(day(2024, time.March, 2), 100, "West", 1),
			salesRow(day(2024, time.March, 5), 250, "East", 2),
			salesRow(day(2024, time.March, 20), 999, "West", 3), // outside window
		})
		f := NewFetcher(source)

		got, err := f.FetchTotal(ctx, "Revenue", "OrderDate", window, nil, "")
		if err != nil {
			t.Fatalf("FetchTotal: %v", err)
		}
		if got.Sum != 350 {
			t.Errorf("sum = %v, want 350", got.Sum)
		}
		if source.filterHeld() {
			t.Error("date filter still held after fetch")
		}
	})

	t.Run("skips non-numeric metric cells", func(t *testing.T) {
		rows := [][]host.Cell{
			salesRow(day(2024, time.March, 2), 100, "West", 1),
			{dateCell(day(2024, time.March, 3)), textCell("n/a"), textCell("West"), numCell(1, "1")},
		}
		source := newFakeSource(salesColumns(), rows)
		f := NewFetcher(source)

		got, err := f.FetchTotal(ctx, "Revenue", "OrderDate", window, nil, "")
		if err != nil {
			t.Fatalf("FetchTotal: %v", err)
		}
		if got.Sum != 100 {
			t.Errorf("sum = %v, want 100 (non-numeric skipped)", got.Sum)
		}
	})

	t.Run("percentage detected from first formatted value", func(t *testing.T) {
		rows := [][]host.Cell{
			{dateCell(day(2024, time.March, 2)), numCell(3.5, "3.5%"), textCell("West"), numCell(1, "1")},
		}
		source := newFakeSource(salesColumns(), rows)
		f := NewFetcher(source)

		got, err := f.FetchTotal(ctx, "Revenue", "OrderDate", window, nil, "")
		if err != nil {
			t.Fatalf("FetchTotal: %v", err)
		}
		if !got.IsPercentage {
			t.Error("IsPercentage = false, want true for percent-formatted metric")
		}
	})

	t.Run("detail key restricts rows", func(t *testing.T) {
		source := newFakeSource(salesColumns(), [][]host.Cell{
			salesRow(day(2024, time.March, 2), 100, "West", 1),
			salesRow(day(2024, time.March, 3), 250, "East", 2),
			salesRow(day(2024, time.March, 4), 40, "West", 3),
		})
		f := NewFetcher(source)

		got, err := f.FetchTotal(ctx, "Revenue", "OrderDate", window, []string{"Region"}, "West")
		if err != nil {
			t.Fatalf("FetchTotal: %v", err)
		}
		if got.Sum != 140 {
			t.Errorf("West sum = %v, want 140", got.Sum)
		}
	})

	t.Run("clears filter on fetch error", func(t *testing.T) {
		source := newFakeSource(salesColumns(), nil)
		source.tableErr = errors.New("boom")
		f := NewFetcher(source)

		if _, err := f.FetchTotal(ctx, "Revenue", "OrderDate", window, nil, ""); err == nil {
			t.Fatal("expected error")
		}
		if source.clearCount != 1 {
			t.Errorf("clearCount = %d, want 1", source.clearCount)
		}
		if source.filterHeld() {
			t.Error("date filter still held after failed fetch")
		}
	})
}

func TestDetailGroupsFirstAppearanceOrder(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource(salesColumns(), [][]host.Cell{
		salesRow(day(2024, time.March, 2), 100, "West", 1),
		salesRow(day(2024, time.March, 3), 250, "East", 2),
		salesRow(day(2024, time.March, 4), 40, "West", 3),
		salesRow(day(2024, time.March, 5), 75, "North", 4),
	})
	f := NewFetcher(source)

	groups, err := f.DetailGroups(ctx, "OrderDate", marchWindow(1, 10), []string{"Region"})
	if err != nil {
		t.Fatalf("DetailGroups: %v", err)
	}
	want := []string{"West", "East", "North"}
	if len(groups) != len(want) {
		t.Fatalf("groups = %v, want %v", groups, want)
	}
	for i := range want {
		if groups[i] != want[i] {
			t.Errorf("groups[%d] = %q, want %q (raw row order, never sorted)", i, groups[i], want[i])
		}
	}
}

func TestDetailGroupsNoDetailFields(t *testing.T) {
	f := NewFetcher(newFakeSource(salesColumns(), nil))
	groups, err := f.DetailGroups(context.Background(), "OrderDate", marchWindow(1, 10), nil)
	if err != nil {
		t.Fatalf("DetailGroups: %v", err)
	}
	if groups != nil {
		t.Errorf("groups = %v, want nil when no detail fields bound", groups)
	}
}

func TestFetchSeriesBulk(t *testing.T) {
	ctx := context.Background()
	window := marchWindow(1, 10)
	source := newFakeSource(salesColumns(), [][]host.Cell{
		salesRow(day(2024, time.March, 2), 100, "West", 5),
		salesRow(day(2024, time.March, 2), 50, "East", 2),
		salesRow(day(2024, time.March, 5), 250, "West", 1),
		salesRow(day(2024, time.March, 9), 30, "East", 4),
	})
	f := NewFetcher(source)

	points, err := f.FetchSeries(ctx, "Revenue", "OrderDate", window, models.GranularityDays, models.WeekStartSunday, nil, "", []string{"Units"})
	if err != nil {
		t.Fatalf("FetchSeries: %v", err)
	}
	if len(points) != 10 {
		t.Fatalf("got %d points, want one per day with no gaps", len(points))
	}

	wantValues := map[int]float64{1: 150, 4: 250, 8: 30}
	zeros := 0
	for i, p := range points {
		want := wantValues[i]
		if p.Value != want {
			t.Errorf("point[%d] = %v, want %v", i, p.Value, want)
		}
		if p.Value == 0 {
			zeros++
		}
		if p.Date.Day() != i+1 {
			t.Errorf("point[%d] dated day %d, want %d", i, p.Date.Day(), i+1)
		}
	}
	if zeros != 7 {
		t.Errorf("%d zero points, want 7", zeros)
	}

	// Mar 2 bucket folds two rows: numeric tooltip fields sum
	units, ok := points[1].TooltipValues["Units"]
	if !ok {
		t.Fatal("Mar 2 point missing Units tooltip value")
	}
	if units.Kind != models.TooltipNumeric || units.Number != 7 {
		t.Errorf("Units tooltip = %+v, want numeric 7", units)
	}

	// whole window resolved in one fetch
	if source.tableCount != 1 {
		t.Errorf("tableCount = %d, want 1 bulk fetch", source.tableCount)
	}
	if source.filterHeld() {
		t.Error("date filter still held after series fetch")
	}
}

func TestFetchSeriesPerBucketFallback(t *testing.T) {
	ctx := context.Background()
	window := marchWindow(1, 10)
	source := newFakeSource(salesColumns(), [][]host.Cell{
		salesRow(day(2024, time.March, 2), 100, "West", 5),
		salesRow(day(2024, time.March, 5), 250, "West", 1),
	})
	source.dropDateColumn = true
	f := NewFetcher(source)

	points, err := f.FetchSeries(ctx, "Revenue", "OrderDate", window, models.GranularityDays, models.WeekStartSunday, nil, "", nil)
	if err != nil {
		t.Fatalf("FetchSeries: %v", err)
	}
	if len(points) != 10 {
		t.Fatalf("got %d points, want 10", len(points))
	}
	if points[1].Value != 100 || points[4].Value != 250 {
		t.Errorf("points[1]=%v points[4]=%v, want 100 and 250", points[1].Value, points[4].Value)
	}

	// one failed bulk attempt plus one fetch per bucket
	if source.tableCount != 11 {
		t.Errorf("tableCount = %d, want 11 (1 bulk attempt + 10 buckets)", source.tableCount)
	}
	if source.applyCount != source.clearCount {
		t.Errorf("applyCount %d != clearCount %d: a filter leaked", source.applyCount, source.clearCount)
	}
	if source.filterHeld() {
		t.Error("date filter still held after fallback series fetch")
	}
}

func TestFetchSeriesTooltipKindFixedByFirstValue(t *testing.T) {
	ctx := context.Background()
	window := marchWindow(1, 10)
	source := newFakeSource(salesColumns(), [][]host.Cell{
		// Mar 2: text arrives first, the later numeric cell must not replace it
		{dateCell(day(2024, time.March, 2)), numCell(100, "100"), textCell("West"), textCell("n/a")},
		{dateCell(day(2024, time.March, 2)), numCell(50, "50"), textCell("East"), numCell(3, "3")},
		// Mar 5: numeric arrives first, the later text cell must not replace it
		{dateCell(day(2024, time.March, 5)), numCell(250, "250"), textCell("West"), numCell(4, "4")},
		{dateCell(day(2024, time.March, 5)), numCell(30, "30"), textCell("East"), textCell("pending")},
	})
	f := NewFetcher(source)

	points, err := f.FetchSeries(ctx, "Revenue", "OrderDate", window, models.GranularityDays, models.WeekStartSunday, nil, "", []string{"Units"})
	if err != nil {
		t.Fatalf("FetchSeries: %v", err)
	}

	mar2, ok := points[1].TooltipValues["Units"]
	if !ok {
		t.Fatal("Mar 2 point missing Units tooltip value")
	}
	if mar2.Kind != models.TooltipText || mar2.Text != "n/a" {
		t.Errorf("Mar 2 Units = %+v, want text %q kept", mar2, "n/a")
	}

	mar5, ok := points[4].TooltipValues["Units"]
	if !ok {
		t.Fatal("Mar 5 point missing Units tooltip value")
	}
	if mar5.Kind != models.TooltipNumeric || mar5.Number != 4 {
		t.Errorf("Mar 5 Units = %+v, want numeric 4 kept", mar5)
	}
}

func TestFetchSeriesDetailRestriction(t *testing.T) {
	ctx := context.Background()
	window := marchWindow(1, 5)
	source := newFakeSource(salesColumns(), [][]host.Cell{
		salesRow(day(2024, time.March, 2), 100, "West", 5),
		salesRow(day(2024, time.March, 2), 60, "East", 2),
		salesRow(day(2024, time.March, 4), 40, "West", 1),
	})
	f := NewFetcher(source)

	points, err := f.FetchSeries(ctx, "Revenue", "OrderDate", window, models.GranularityDays, models.WeekStartSunday, []string{"Region"}, "West", nil)
	if err != nil {
		t.Fatalf("FetchSeries: %v", err)
	}
	if points[1].Value != 100 {
		t.Errorf("West Mar 2 = %v, want 100 (East row excluded)", points[1].Value)
	}
	if points[3].Value != 40 {
		t.Errorf("West Mar 4 = %v, want 40", points[3].Value)
	}
}
