package models

import (
	"time"
)

// ChartKind selects how a card's series is drawn
type ChartKind string

const (
	ChartBar  ChartKind = "bar"
	ChartLine ChartKind = "line"
)

// Card is the unit of rendering: one KPI tile with a comparison chart.
// A refresh produces a fresh card list that fully replaces the prior
// render; cards are never mutated in place.
type Card struct {
	ID             string    `json:"id"`
	MetricName     string    `json:"metric_name"`
	DetailGroupKey string    `json:"detail_group_key"` // empty means ungrouped
	ChartKind      ChartKind `json:"chart_kind"`
	Unfavorable    bool      `json:"unfavorable"`
	CurrentTotal   float64   `json:"current_total"`
	ReferenceTotal float64   `json:"reference_total"` // prior month
	PriorYearTotal float64   `json:"prior_year_total"`
	IsPercentage   bool      `json:"is_percentage"`
	DisplayValue   string    `json:"display_value"`
}

// DisplayIdentity identifies a card independently of the refresh that
// produced it. Used as the series cache key component.
func (c Card) DisplayIdentity() string {
	return c.MetricName + "/" + string(c.ChartKind) + "/" + c.DetailGroupKey
}

// TooltipValueKind tags the TooltipValue union
type TooltipValueKind string

const (
	TooltipNumeric TooltipValueKind = "numeric"
	TooltipText    TooltipValueKind = "text"
)

// TooltipValue is a tagged union so aggregation is an exhaustive
// switch: numeric values sum across a selection, text values collapse
// to "multiple values" when they differ.
type TooltipValue struct {
	Kind      TooltipValueKind `json:"kind"`
	Number    float64          `json:"number,omitempty"`
	Text      string           `json:"text,omitempty"`
	Formatted string           `json:"formatted"`
}

// NumericTooltipValue builds a numeric-kind value
func NumericTooltipValue(n float64, formatted string) TooltipValue {
	return TooltipValue{Kind: TooltipNumeric, Number: n, Formatted: formatted}
}

// TextTooltipValue builds a text-kind value
func TextTooltipValue(s string) TooltipValue {
	return TooltipValue{Kind: TooltipText, Text: s, Formatted: s}
}

// SeriesPoint is one chart bucket: the bucket start date, the metric
// aggregate, and any extra tooltip field aggregates for that bucket.
type SeriesPoint struct {
	Date          time.Time               `json:"date"`
	Value         float64                 `json:"value"`
	TooltipValues map[string]TooltipValue `json:"tooltip_values,omitempty"`
}

// CardSeries carries the two parallel series a card's chart overlays.
// Reference point i is compared against current point i by index, not
// by calendar date ("day 5 of this month" vs "day 5 of last month").
// When the windows differ in length the shorter series simply runs
// out; the overlay does not re-align by date.
type CardSeries struct {
	Current   []SeriesPoint `json:"current"`
	Reference []SeriesPoint `json:"reference"`
}
