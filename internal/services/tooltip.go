package services

import (
	"fmt"
	"math"
	"sort"

	"github.com/codyseavey/kpi-widget/internal/models"
)

// Trend is the good/bad/neutral direction a delta renders with
type Trend string

const (
	TrendGood    Trend = "good"
	TrendBad     Trend = "bad"
	TrendNeutral Trend = "neutral"
)

// TrendFor maps a delta to its display direction. For a normal metric
// up is good; an unfavorable metric inverts the mapping exactly once,
// here. Callers must never pre-invert the delta sign.
func TrendFor(delta float64, unfavorable bool) Trend {
	if delta == 0 {
		return TrendNeutral
	}
	good := delta > 0
	if unfavorable {
		good = !good
	}
	if good {
		return TrendGood
	}
	return TrendBad
}

// TooltipLine is one label/value row of tooltip content
type TooltipLine struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// TooltipContent is the structured tooltip handed to the rendering
// layer together with an anchor position.
type TooltipContent struct {
	Title string        `json:"title"`
	Lines []TooltipLine `json:"lines"`
	Trend Trend         `json:"trend"`
}

const tooltipDateFormat = "Jan 2, 2006"

// formatDelta renders a signed delta: percentage-point form for
// percentage metrics, percent-of-reference otherwise (with the
// absolute change alongside).
func formatDelta(current, reference float64, isPercentage bool) string {
	delta := current - reference
	if isPercentage {
		return fmt.Sprintf("%+.2f pts", delta)
	}
	if reference == 0 {
		return formatSigned(delta) + " (n/a %)"
	}
	pct := delta / math.Abs(reference) * 100
	return fmt.Sprintf("%+.1f%% (%s)", pct, formatSigned(delta))
}

func formatSigned(n float64) string {
	if n >= 0 {
		return "+" + formatNumber(n)
	}
	return "-" + formatNumber(-n)
}

// BuildPointTooltip builds the single-point hover tooltip: date,
// current vs reference value, signed delta, then any configured extra
// tooltip fields after a divider.
func BuildPointTooltip(point models.SeriesPoint, referenceValue float64, metricName string, isPercentage, unfavorable bool, tooltipFields []string) TooltipContent {
	content := TooltipContent{
		Title: point.Date.Format(tooltipDateFormat),
		Trend: TrendFor(point.Value-referenceValue, unfavorable),
	}
	content.Lines = append(content.Lines,
		TooltipLine{Label: metricName, Value: formatNumber(point.Value)},
		TooltipLine{Label: "Reference", Value: formatNumber(referenceValue)},
		TooltipLine{Label: "Change", Value: formatDelta(point.Value, referenceValue, isPercentage)},
	)

	if len(tooltipFields) > 0 && len(point.TooltipValues) > 0 {
		content.Lines = append(content.Lines, TooltipLine{Label: "---"})
		for _, field := range tooltipFields {
			if tv, ok := point.TooltipValues[field]; ok {
				content.Lines = append(content.Lines, TooltipLine{Label: field, Value: tv.Formatted})
			}
		}
	}
	return content
}

// BuildSummaryTooltip builds the card-level tooltip: current total
// plus month-over-month and year-over-year deltas with their window
// date ranges, then the ungrouped tooltip-field totals after a
// divider.
func BuildSummaryTooltip(card models.Card, windows models.ComparisonWindows, tooltipTotals []TooltipFieldTotal) TooltipContent {
	content := TooltipContent{
		Title: card.MetricName,
		Trend: TrendFor(card.CurrentTotal-card.ReferenceTotal, card.Unfavorable),
	}
	if card.DetailGroupKey != "" {
		content.Title = card.MetricName + " — " + card.DetailGroupKey
	}

	content.Lines = append(content.Lines,
		TooltipLine{Label: "Current", Value: card.DisplayValue},
		TooltipLine{
			Label: "vs prior month (" + windowRange(windows.PrevMonth) + ")",
			Value: formatDelta(card.CurrentTotal, card.ReferenceTotal, card.IsPercentage),
		},
		TooltipLine{
			Label: "vs prior year (" + windowRange(windows.PrevYear) + ")",
			Value: formatDelta(card.CurrentTotal, card.PriorYearTotal, card.IsPercentage),
		},
	)

	if len(tooltipTotals) > 0 {
		content.Lines = append(content.Lines, TooltipLine{Label: "---"})
		for _, t := range tooltipTotals {
			content.Lines = append(content.Lines, TooltipLine{Label: t.Field, Value: formatNumber(t.Current)})
		}
	}
	return content
}

func windowRange(w models.DateWindow) string {
	return w.Start.Format("Jan 2") + " – " + w.End.Format("Jan 2")
}

// BuildSelectionTooltip builds the brush tooltip over a selected index
// set: sums of both series, delta of the sums, point count, and the
// selection's date range. Numeric extra fields sum; text fields show
// the value only when the selection agrees on a single one.
func BuildSelectionTooltip(indices []int, current, reference []models.SeriesPoint, metricName string, isPercentage, unfavorable bool, tooltipFields []string) TooltipContent {
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)

	var curSum, refSum float64
	for _, i := range sorted {
		if i >= 0 && i < len(current) {
			curSum += current[i].Value
		}
		if i >= 0 && i < len(reference) {
			refSum += reference[i].Value
		}
	}

	content := TooltipContent{
		Trend: TrendFor(curSum-refSum, unfavorable),
	}
	if len(sorted) > 0 {
		first, last := sorted[0], sorted[len(sorted)-1]
		if first >= 0 && last < len(current) {
			content.Title = current[first].Date.Format(tooltipDateFormat) + " – " + current[last].Date.Format(tooltipDateFormat)
		}
	}

	content.Lines = append(content.Lines,
		TooltipLine{Label: metricName, Value: formatNumber(curSum)},
		TooltipLine{Label: "Reference", Value: formatNumber(refSum)},
		TooltipLine{Label: "Change", Value: formatDelta(curSum, refSum, isPercentage)},
		TooltipLine{Label: "Points", Value: fmt.Sprintf("%d", len(sorted))},
	)

	if len(tooltipFields) > 0 {
		lines := aggregateTooltipFields(sorted, current, tooltipFields)
		if len(lines) > 0 {
			content.Lines = append(content.Lines, TooltipLine{Label: "---"})
			content.Lines = append(content.Lines, lines...)
		}
	}
	return content
}

// aggregateTooltipFields folds extra tooltip values across a
// selection. The tagged union makes this an exhaustive switch:
// numeric sums, text collapses to "multiple" when distinct values
// differ.
func aggregateTooltipFields(indices []int, series []models.SeriesPoint, tooltipFields []string) []TooltipLine {
	var lines []TooltipLine
	for _, field := range tooltipFields {
		var sum float64
		var numeric bool
		var text string
		var textSeen, multiple bool

		for _, i := range indices {
			if i < 0 || i >= len(series) {
				continue
			}
			tv, ok := series[i].TooltipValues[field]
			if !ok {
				continue
			}
			switch tv.Kind {
			case models.TooltipNumeric:
				numeric = true
				sum += tv.Number
			case models.TooltipText:
				if textSeen && tv.Text != text {
					multiple = true
				}
				text = tv.Text
				textSeen = true
			}
		}

		switch {
		case numeric:
			lines = append(lines, TooltipLine{Label: field, Value: formatNumber(sum)})
		case multiple:
			lines = append(lines, TooltipLine{Label: field, Value: "(multiple)"})
		case textSeen:
			lines = append(lines, TooltipLine{Label: field, Value: text})
		}
	}
	return lines
}
