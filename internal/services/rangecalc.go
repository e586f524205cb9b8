package services

import (
	"time"

	"github.com/codyseavey/kpi-widget/internal/models"
)

// Range calculation is pure window math: given a period spec and an
// anchor instant it derives the current comparison window, the prior
// month / prior year windows, and the granularity buckets a chart
// series is aggregated into. All math is in UTC.

// endOfDay returns t's calendar day at 23:59:59.999 UTC
func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999000000, time.UTC)
}

// startOfDay returns t's calendar day at 00:00:00.000 UTC
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// quarterStartMonth returns the first month of m's quarter
func quarterStartMonth(m time.Month) time.Month {
	return time.Month((int(m)-1)/3*3 + 1)
}

// snapToWeekStart moves t backward to the configured week-start
// weekday, leaving t unchanged when it is already on that day.
func snapToWeekStart(t time.Time, weekStart models.WeekStart) time.Time {
	target := weekStart.Weekday()
	diff := (int(t.Weekday()) - int(target) + 7) % 7
	return t.AddDate(0, 0, -diff)
}

// ComputeCurrentWindow derives the "current" window for a period spec.
// The window end is always the anchor's day at 23:59:59.999 UTC.
func ComputeCurrentWindow(spec models.PeriodSpec, anchor time.Time) models.DateWindow {
	anchor = anchor.UTC()
	end := endOfDay(anchor)

	var start time.Time
	switch spec.Kind {
	case models.PeriodMTD:
		start = time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, time.UTC)
	case models.PeriodQTD:
		start = time.Date(anchor.Year(), quarterStartMonth(anchor.Month()), 1, 0, 0, 0, 0, time.UTC)
	case models.PeriodYTD:
		start = time.Date(anchor.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	case models.PeriodRolling:
		start = rollingStart(spec, anchor)
	default:
		start = time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, time.UTC)
	}

	return models.DateWindow{Start: start, End: end}
}

func rollingStart(spec models.PeriodSpec, anchor time.Time) time.Time {
	n := spec.RollingCount
	if n < 1 {
		n = 1
	}

	switch spec.Granularity {
	case models.GranularityDays:
		return startOfDay(anchor).AddDate(0, 0, -(n - 1))
	case models.GranularityWeeks:
		start := startOfDay(anchor).AddDate(0, 0, -(n-1)*7)
		return snapToWeekStart(start, spec.WeekStart)
	case models.GranularityMonths:
		return time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(n - 1), 0)
	case models.GranularityQuarters:
		qs := time.Date(anchor.Year(), quarterStartMonth(anchor.Month()), 1, 0, 0, 0, 0, time.UTC)
		return qs.AddDate(0, -(n-1)*3, 0)
	case models.GranularityYears:
		return time.Date(anchor.Year()-(n-1), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return startOfDay(anchor).AddDate(0, 0, -(n - 1))
	}
}

// DerivePriorMonth shifts both window bounds back one calendar month
// independently. This is a field shift, not a day-count shift: the
// window's length in days can drift across month boundaries (a
// 31-day window shifted into a 30-day month lands on a normalized
// date). Kept as-is to match the comparison the widget displays.
func DerivePriorMonth(w models.DateWindow) models.DateWindow {
	return models.DateWindow{
		Start: w.Start.AddDate(0, -1, 0),
		End:   w.End.AddDate(0, -1, 0),
	}
}

// DerivePriorYear shifts both window bounds back one calendar year,
// same field-shift policy as DerivePriorMonth.
func DerivePriorYear(w models.DateWindow) models.DateWindow {
	return models.DateWindow{
		Start: w.Start.AddDate(-1, 0, 0),
		End:   w.End.AddDate(-1, 0, 0),
	}
}

// GenerateBuckets partitions a window into granularity-sized
// sub-windows. The first bucket starts at the window start, every
// later bucket starts on its natural boundary (week start, first of
// month/quarter/year), and the final bucket is clipped so its end
// never exceeds the outer window's end. Each bucket becomes one
// series point.
func GenerateBuckets(w models.DateWindow, granularity models.Granularity, weekStart models.WeekStart) []models.DateWindow {
	if w.End.Before(w.Start) {
		return nil
	}

	var buckets []models.DateWindow
	cur := w.Start
	for !cur.After(w.End) {
		next := nextBucketStart(cur, granularity, weekStart)
		end := next.Add(-time.Millisecond)
		if end.After(w.End) {
			end = w.End
		}
		buckets = append(buckets, models.DateWindow{Start: cur, End: end})
		cur = next
	}
	return buckets
}

func nextBucketStart(t time.Time, granularity models.Granularity, weekStart models.WeekStart) time.Time {
	day := startOfDay(t)
	switch granularity {
	case models.GranularityWeeks:
		return snapToWeekStart(day, weekStart).AddDate(0, 0, 7)
	case models.GranularityMonths:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	case models.GranularityQuarters:
		return time.Date(t.Year(), quarterStartMonth(t.Month()), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 3, 0)
	case models.GranularityYears:
		return time.Date(t.Year()+1, time.January, 1, 0, 0, 0, 0, time.UTC)
	default: // days
		return day.AddDate(0, 0, 1)
	}
}
