package services

import (
	"sync"
	"time"

	"github.com/codyseavey/kpi-widget/internal/models"
)

// ChartGeometry describes the pixel layout hover/brush coordinates
// are resolved against.
type ChartGeometry struct {
	Kind     models.ChartKind `json:"kind"`
	Width    float64          `json:"width"`     // plot width in px
	BandStep float64          `json:"band_step"` // bar band step in px, bars only
}

// HoverResult is the outcome of a pointer hover: the resolved point,
// its tooltip, and the single index to highlight.
type HoverResult struct {
	Index     int            `json:"index"`
	Tooltip   TooltipContent `json:"tooltip"`
	Highlight []int          `json:"highlight"`
}

// BrushResult is the outcome of a range selection: the inclusive
// index set, the aggregated tooltip, and which marks to highlight or
// dim. Dimmed is populated for bar charts only; line charts have no
// discrete mark to dim.
type BrushResult struct {
	Indices   []int          `json:"indices"`
	Tooltip   TooltipContent `json:"tooltip"`
	Highlight []int          `json:"highlight"`
	Dimmed    []int          `json:"dimmed,omitempty"`
}

// Interaction is the per-chart hover/brush state machine. An active
// brush takes precedence: hover is a no-op until the brush clears.
type Interaction struct {
	mu   sync.Mutex
	geom ChartGeometry

	hoverIndex   int
	brushActive  bool
	brushIndices []int
}

func NewInteraction(geom ChartGeometry) *Interaction {
	return &Interaction{geom: geom, hoverIndex: -1}
}

// Hover resolves a pointer x-coordinate to the nearest point and
// returns its tooltip. Returns ok=false while a brush selection is
// active or when x resolves outside the series.
func (in *Interaction) Hover(x float64, card models.Card, series models.CardSeries, tooltipFields []string) (HoverResult, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.brushActive {
		return HoverResult{}, false
	}

	idx := in.indexAt(x, series.Current)
	if idx < 0 {
		return HoverResult{}, false
	}
	in.hoverIndex = idx

	var refValue float64
	if idx < len(series.Reference) {
		refValue = series.Reference[idx].Value
	}

	return HoverResult{
		Index:     idx,
		Highlight: []int{idx},
		Tooltip:   BuildPointTooltip(series.Current[idx], refValue, card.MetricName, card.IsPercentage, card.Unfavorable, tooltipFields),
	}, true
}

// ClearHover resets hover state (pointer exit)
func (in *Interaction) ClearHover() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.hoverIndex = -1
}

// Brush resolves a pixel interval to the inclusive set of indices
// whose mark center (bars) or date position (lines) falls inside it,
// and returns the aggregated selection tooltip. An empty interval
// clears the selection and returns ok=false.
func (in *Interaction) Brush(x0, x1 float64, card models.Card, series models.CardSeries, tooltipFields []string) (BrushResult, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if x0 == x1 {
		in.brushActive = false
		in.brushIndices = nil
		return BrushResult{}, false
	}

	var indices []int
	for i := range series.Current {
		if c, ok := in.markPosition(i, series.Current); ok && c >= x0 && c <= x1 {
			indices = append(indices, i)
		}
	}
	if len(indices) == 0 {
		in.brushActive = false
		in.brushIndices = nil
		return BrushResult{}, false
	}

	in.brushActive = true
	in.brushIndices = indices

	result := BrushResult{
		Indices:   indices,
		Highlight: indices,
		Tooltip:   BuildSelectionTooltip(indices, series.Current, series.Reference, card.MetricName, card.IsPercentage, card.Unfavorable, tooltipFields),
	}
	if in.geom.Kind == models.ChartBar {
		selected := make(map[int]bool, len(indices))
		for _, i := range indices {
			selected[i] = true
		}
		for i := range series.Current {
			if !selected[i] {
				result.Dimmed = append(result.Dimmed, i)
			}
		}
	}
	return result, true
}

// ClearBrush clears the selection, re-enabling hover
func (in *Interaction) ClearBrush() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.brushActive = false
	in.brushIndices = nil
}

// BrushActive reports whether a selection is currently held
func (in *Interaction) BrushActive() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.brushActive
}

// indexAt maps a pixel x to a point index: integer band division for
// bars, nearest-by-date bisection for lines.
func (in *Interaction) indexAt(x float64, current []models.SeriesPoint) int {
	if len(current) == 0 || x < 0 {
		return -1
	}

	if in.geom.Kind == models.ChartBar {
		if in.geom.BandStep <= 0 {
			return -1
		}
		idx := int(x / in.geom.BandStep)
		if idx < 0 || idx >= len(current) {
			return -1
		}
		return idx
	}

	target, ok := in.dateAt(x, current)
	if !ok {
		return -1
	}
	return nearestIndexByDate(current, target)
}

// markPosition is the pixel center of point i: band center for bars,
// linear date position for lines.
func (in *Interaction) markPosition(i int, current []models.SeriesPoint) (float64, bool) {
	if in.geom.Kind == models.ChartBar {
		if in.geom.BandStep <= 0 {
			return 0, false
		}
		return (float64(i) + 0.5) * in.geom.BandStep, true
	}

	if len(current) < 2 {
		return 0, len(current) == 1
	}
	first := current[0].Date
	span := current[len(current)-1].Date.Sub(first)
	if span <= 0 {
		return 0, false
	}
	frac := float64(current[i].Date.Sub(first)) / float64(span)
	return frac * in.geom.Width, true
}

// dateAt inverts the linear time scale at pixel x
func (in *Interaction) dateAt(x float64, current []models.SeriesPoint) (time.Time, bool) {
	if in.geom.Width <= 0 || x > in.geom.Width {
		return time.Time{}, false
	}
	first := current[0].Date
	span := current[len(current)-1].Date.Sub(first)
	if span <= 0 {
		return first, true
	}
	return first.Add(time.Duration(x / in.geom.Width * float64(span))), true
}

// nearestIndexByDate bisects for the point closest to target
func nearestIndexByDate(points []models.SeriesPoint, target time.Time) int {
	lo, hi := 0, len(points)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if points[mid].Date.Before(target) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo > 0 {
		prev := points[lo-1]
		if target.Sub(prev.Date) <= points[lo].Date.Sub(target) {
			return lo - 1
		}
	}
	return lo
}
