package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/codyseavey/kpi-widget/internal/host"
	"github.com/codyseavey/kpi-widget/internal/metrics"
	"github.com/codyseavey/kpi-widget/internal/models"
)

// detailKeySeparator joins multiple detail-field values into one
// group key. The key doubles as display text on the card.
const detailKeySeparator = " | "

// errColumnsUnresolvable signals that the bulk result set cannot
// resolve the date or metric column, so series fetching must fall
// back to one fetch per bucket.
var errColumnsUnresolvable = errors.New("date or metric column not resolvable in result set")

// Fetcher aggregates worksheet rows into window totals and chart
// series. Every fetch applies the window as the source's single date
// filter and clears it again regardless of outcome.
type Fetcher struct {
	source host.DataSource
}

func NewFetcher(source host.DataSource) *Fetcher {
	return &Fetcher{source: source}
}

// TotalResult is one window aggregate for a metric
type TotalResult struct {
	Sum            float64
	FirstFormatted string
	IsPercentage   bool
}

// withDateFilter applies the window filter, runs fn, and always
// clears the filter afterward, success or not.
func (f *Fetcher) withDateFilter(ctx context.Context, dateField string, window models.DateWindow, fn func() error) error {
	if err := f.source.ApplyDateFilter(ctx, dateField, window); err != nil {
		return fmt.Errorf("apply date filter: %w", err)
	}
	defer func() {
		if err := f.source.ClearDateFilter(ctx, dateField); err != nil {
			log.Printf("Fetcher: failed to clear date filter on %q: %v", dateField, err)
		}
	}()
	return fn()
}

func detailKeyForRow(row []host.Cell, detailIdx []int) string {
	parts := make([]string, 0, len(detailIdx))
	for _, idx := range detailIdx {
		parts = append(parts, cellDisplay(row[idx]))
	}
	return strings.Join(parts, detailKeySeparator)
}

func cellDisplay(c host.Cell) string {
	if c.Formatted != "" {
		return c.Formatted
	}
	if c.Native == nil {
		return ""
	}
	return fmt.Sprintf("%v", c.Native)
}

func resolveDetailIndexes(table host.Table, detailFields []string) ([]int, error) {
	idx := make([]int, 0, len(detailFields))
	for _, field := range detailFields {
		i := table.ColumnIndex(field)
		if i < 0 {
			return nil, fmt.Errorf("detail field %q not in result set", field)
		}
		idx = append(idx, i)
	}
	return idx, nil
}

// FetchTotal sums metricField over all rows in the window, optionally
// restricted to rows whose concatenated detail values equal
// detailGroupKey (empty key means ungrouped: all rows). Non-numeric
// metric cells are skipped. The first non-empty formatted value seen
// decides percentage typing for downstream formatting.
func (f *Fetcher) FetchTotal(ctx context.Context, metricField, dateField string, window models.DateWindow, detailFields []string, detailGroupKey string) (TotalResult, error) {
	var result TotalResult

	err := f.withDateFilter(ctx, dateField, window, func() error {
		table, err := f.source.GetTable(ctx)
		if err != nil {
			return err
		}
		metrics.WorksheetFetchesTotal.Inc()

		metricIdx := table.ColumnIndex(metricField)
		if metricIdx < 0 {
			return fmt.Errorf("metric field %q not in result set", metricField)
		}

		var detailIdx []int
		if detailGroupKey != "" {
			detailIdx, err = resolveDetailIndexes(table, detailFields)
			if err != nil {
				return err
			}
		}

		for _, row := range table.Rows {
			if detailGroupKey != "" && detailKeyForRow(row, detailIdx) != detailGroupKey {
				continue
			}
			cell := row[metricIdx]
			if result.FirstFormatted == "" && cell.Formatted != "" {
				result.FirstFormatted = cell.Formatted
			}
			if n, ok := cell.Number(); ok {
				result.Sum += n
			}
		}
		result.IsPercentage = strings.Contains(result.FirstFormatted, "%")
		return nil
	})
	if err != nil {
		return TotalResult{}, err
	}
	return result, nil
}

// DetailGroups returns the distinct detail group keys in the window,
// in first-appearance order of the raw rows. That order is captured
// once from the current window and reused for the prior windows and
// for card creation; it is never re-sorted.
func (f *Fetcher) DetailGroups(ctx context.Context, dateField string, window models.DateWindow, detailFields []string) ([]string, error) {
	if len(detailFields) == 0 {
		return nil, nil
	}

	var groups []string
	err := f.withDateFilter(ctx, dateField, window, func() error {
		table, err := f.source.GetTable(ctx)
		if err != nil {
			return err
		}
		metrics.WorksheetFetchesTotal.Inc()

		detailIdx, err := resolveDetailIndexes(table, detailFields)
		if err != nil {
			return err
		}

		seen := make(map[string]bool)
		for _, row := range table.Rows {
			key := detailKeyForRow(row, detailIdx)
			if !seen[key] {
				seen[key] = true
				groups = append(groups, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// seriesRequest carries everything one series fetch needs
type seriesRequest struct {
	metricField    string
	dateField      string
	window         models.DateWindow
	buckets        []models.DateWindow
	detailFields   []string
	detailGroupKey string
	tooltipFields  []string
}

// seriesStrategy is the fetch-plan interface: bulk fetch with
// client-side grouping when the result set can resolve the date
// column, one fetch per bucket otherwise.
type seriesStrategy interface {
	fetchSeries(ctx context.Context, req seriesRequest) ([]models.SeriesPoint, error)
}

// FetchSeries produces one point per bucket in the window, with no
// gaps: buckets with no matching rows yield a zero point. The bulk
// strategy is attempted first; if it cannot resolve the required
// columns the per-bucket strategy runs instead.
func (f *Fetcher) FetchSeries(ctx context.Context, metricField, dateField string, window models.DateWindow, granularity models.Granularity, weekStart models.WeekStart, detailFields []string, detailGroupKey string, tooltipFields []string) ([]models.SeriesPoint, error) {
	req := seriesRequest{
		metricField:    metricField,
		dateField:      dateField,
		window:         window,
		buckets:        GenerateBuckets(window, granularity, weekStart),
		detailFields:   detailFields,
		detailGroupKey: detailGroupKey,
		tooltipFields:  tooltipFields,
	}

	bulk := &bulkSeriesStrategy{fetcher: f}
	points, err := bulk.fetchSeries(ctx, req)
	if errors.Is(err, errColumnsUnresolvable) {
		log.Printf("Fetcher: bulk grouping unavailable for %q, falling back to per-bucket fetches", metricField)
		fallback := &perBucketSeriesStrategy{fetcher: f}
		return fallback.fetchSeries(ctx, req)
	}
	return points, err
}

// bucketAccumulator aggregates one bucket's rows
type bucketAccumulator struct {
	value    float64
	tooltips map[string]models.TooltipValue
}

func newBucketAccumulator() *bucketAccumulator {
	return &bucketAccumulator{tooltips: make(map[string]models.TooltipValue)}
}

// add folds one row into the accumulator. Numeric tooltip fields sum,
// text tooltip fields keep the first non-empty value. A field's kind
// is fixed by the first value seen: later cells of the other kind are
// ignored rather than overwriting the aggregate.
func (a *bucketAccumulator) add(row []host.Cell, metricIdx int, tooltipIdx map[string]int) {
	if n, ok := row[metricIdx].Number(); ok {
		a.value += n
	}
	for field, idx := range tooltipIdx {
		cell := row[idx]
		prev, seen := a.tooltips[field]
		if n, ok := cell.Number(); ok {
			if seen && prev.Kind == models.TooltipText {
				continue
			}
			sum := prev.Number + n
			a.tooltips[field] = models.NumericTooltipValue(sum, formatNumber(sum))
			continue
		}
		if seen {
			continue
		}
		if text := cellDisplay(cell); text != "" {
			a.tooltips[field] = models.TextTooltipValue(text)
		}
	}
}

func (a *bucketAccumulator) point(bucketStart models.DateWindow) models.SeriesPoint {
	point := models.SeriesPoint{Date: bucketStart.Start, Value: a.value}
	if len(a.tooltips) > 0 {
		point.TooltipValues = a.tooltips
	}
	return point
}

func resolveTooltipIndexes(table host.Table, tooltipFields []string) map[string]int {
	idx := make(map[string]int, len(tooltipFields))
	for _, field := range tooltipFields {
		if i := table.ColumnIndex(field); i >= 0 {
			idx[field] = i
		}
	}
	return idx
}

// bulkSeriesStrategy fetches the whole window once and groups rows
// into buckets by their date cell.
type bulkSeriesStrategy struct {
	fetcher *Fetcher
}

func (s *bulkSeriesStrategy) fetchSeries(ctx context.Context, req seriesRequest) ([]models.SeriesPoint, error) {
	accs := make([]*bucketAccumulator, len(req.buckets))
	for i := range accs {
		accs[i] = newBucketAccumulator()
	}

	err := s.fetcher.withDateFilter(ctx, req.dateField, req.window, func() error {
		table, err := s.fetcher.source.GetTable(ctx)
		if err != nil {
			return err
		}
		metrics.WorksheetFetchesTotal.Inc()

		dateIdx := table.ColumnIndex(req.dateField)
		metricIdx := table.ColumnIndex(req.metricField)
		if dateIdx < 0 || metricIdx < 0 {
			return errColumnsUnresolvable
		}

		var detailIdx []int
		if req.detailGroupKey != "" {
			detailIdx, err = resolveDetailIndexes(table, req.detailFields)
			if err != nil {
				return err
			}
		}
		tooltipIdx := resolveTooltipIndexes(table, req.tooltipFields)

		for _, row := range table.Rows {
			if req.detailGroupKey != "" && detailKeyForRow(row, detailIdx) != req.detailGroupKey {
				continue
			}
			date, ok := row[dateIdx].Date()
			if !ok {
				continue
			}
			b := bucketIndexFor(req.buckets, date.UTC())
			if b < 0 {
				continue
			}
			accs[b].add(row, metricIdx, tooltipIdx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	points := make([]models.SeriesPoint, len(req.buckets))
	for i, acc := range accs {
		points[i] = acc.point(req.buckets[i])
	}
	return points, nil
}

// bucketIndexFor locates the bucket containing t, -1 when outside
func bucketIndexFor(buckets []models.DateWindow, t time.Time) int {
	i := sort.Search(len(buckets), func(i int) bool {
		return !buckets[i].End.Before(t)
	})
	if i < len(buckets) && buckets[i].Contains(t) {
		return i
	}
	return -1
}

// perBucketSeriesStrategy runs one filtered fetch per bucket. Slower,
// but works when the bulk result set cannot resolve the date column.
type perBucketSeriesStrategy struct {
	fetcher *Fetcher
}

func (s *perBucketSeriesStrategy) fetchSeries(ctx context.Context, req seriesRequest) ([]models.SeriesPoint, error) {
	points := make([]models.SeriesPoint, 0, len(req.buckets))

	for _, bucket := range req.buckets {
		acc := newBucketAccumulator()
		err := s.fetcher.withDateFilter(ctx, req.dateField, bucket, func() error {
			table, err := s.fetcher.source.GetTable(ctx)
			if err != nil {
				return err
			}
			metrics.WorksheetFetchesTotal.Inc()

			metricIdx := table.ColumnIndex(req.metricField)
			if metricIdx < 0 {
				return fmt.Errorf("metric field %q not in result set", req.metricField)
			}

			var detailIdx []int
			if req.detailGroupKey != "" {
				detailIdx, err = resolveDetailIndexes(table, req.detailFields)
				if err != nil {
					return err
				}
			}
			tooltipIdx := resolveTooltipIndexes(table, req.tooltipFields)

			for _, row := range table.Rows {
				if req.detailGroupKey != "" && detailKeyForRow(row, detailIdx) != req.detailGroupKey {
					continue
				}
				acc.add(row, metricIdx, tooltipIdx)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		points = append(points, acc.point(bucket))
	}
	return points, nil
}

// formatNumber renders an aggregate for display
func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%.2f", n)
}
