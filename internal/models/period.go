package models

import (
	"fmt"
	"time"
)

// PeriodKind selects how the current comparison window is anchored
type PeriodKind string

const (
	PeriodMTD     PeriodKind = "mtd"
	PeriodQTD     PeriodKind = "qtd"
	PeriodYTD     PeriodKind = "ytd"
	PeriodRolling PeriodKind = "rolling"
)

// Granularity is the bucket size used for rolling windows and chart series
type Granularity string

const (
	GranularityDays     Granularity = "days"
	GranularityWeeks    Granularity = "weeks"
	GranularityMonths   Granularity = "months"
	GranularityQuarters Granularity = "quarters"
	GranularityYears    Granularity = "years"
)

// WeekStart is the day-of-week convention for weekly buckets
type WeekStart string

const (
	WeekStartSunday WeekStart = "sunday"
	WeekStartMonday WeekStart = "monday"
)

// Weekday returns the time.Weekday the convention maps to
func (w WeekStart) Weekday() time.Weekday {
	if w == WeekStartMonday {
		return time.Monday
	}
	return time.Sunday
}

// PeriodSpec is the user-selected comparison period configuration.
// Owned by widget settings; changing it invalidates the stored
// refresh fingerprint.
type PeriodSpec struct {
	Kind         PeriodKind  `json:"kind"`
	Granularity  Granularity `json:"granularity"`
	RollingCount int         `json:"rolling_count"`
	WeekStart    WeekStart   `json:"week_start"`
}

// DefaultPeriodSpec is sensible out-of-the-box widget configuration
func DefaultPeriodSpec() PeriodSpec {
	return PeriodSpec{
		Kind:         PeriodMTD,
		Granularity:  GranularityDays,
		RollingCount: 30,
		WeekStart:    WeekStartSunday,
	}
}

// Validate checks the period settings are internally consistent
func (s PeriodSpec) Validate() error {
	switch s.Kind {
	case PeriodMTD, PeriodQTD, PeriodYTD, PeriodRolling:
	default:
		return fmt.Errorf("invalid period kind %q", s.Kind)
	}
	switch s.Granularity {
	case GranularityDays, GranularityWeeks, GranularityMonths, GranularityQuarters, GranularityYears:
	default:
		return fmt.Errorf("invalid granularity %q", s.Granularity)
	}
	if s.Kind == PeriodRolling && s.RollingCount < 1 {
		return fmt.Errorf("rolling count must be >= 1, got %d", s.RollingCount)
	}
	switch s.WeekStart {
	case WeekStartSunday, WeekStartMonday, "":
	default:
		return fmt.Errorf("invalid week start %q", s.WeekStart)
	}
	return nil
}

// DateWindow is an inclusive UTC time range. Windows are derived,
// never mutated: prior-month and prior-year comparisons each produce
// a new window.
type DateWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window
func (w DateWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Days returns the number of calendar days the window spans, inclusive
func (w DateWindow) Days() int {
	start := time.Date(w.Start.Year(), w.Start.Month(), w.Start.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(w.End.Year(), w.End.Month(), w.End.Day(), 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours()/24) + 1
}

// ComparisonWindows holds the three windows every refresh compares
type ComparisonWindows struct {
	Current   DateWindow `json:"current"`
	PrevMonth DateWindow `json:"prev_month"`
	PrevYear  DateWindow `json:"prev_year"`
}
