// Package host defines the collaborator surface the widget pipeline
// consumes: a tabular data source with a single active date filter,
// a role-binding configuration source, and data-change notification.
package host

import (
	"context"
	"time"

	"github.com/codyseavey/kpi-widget/internal/models"
)

// Cell is one table cell: the native value plus the display string
// the source formatted it with.
type Cell struct {
	Native    interface{} `json:"native"`
	Formatted string      `json:"formatted"`
}

// Number returns the cell's numeric value. ok is false for non-numeric
// cells, which aggregation skips.
func (c Cell) Number() (float64, bool) {
	switch v := c.Native.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	default:
		return 0, false
	}
}

// Date returns the cell's date value if it has one
func (c Cell) Date() (time.Time, bool) {
	t, ok := c.Native.(time.Time)
	return t, ok
}

// Column describes one column of a fetched table
type Column struct {
	Field string          `json:"field"`
	Kind  models.DataKind `json:"kind"`
	Index int             `json:"index"`
}

// Table is a fetched snapshot of the data source: column descriptors
// plus rows of cells in source row order.
type Table struct {
	Columns []Column `json:"columns"`
	Rows    [][]Cell `json:"rows"`
}

// ColumnIndex resolves a field to its cell index, -1 when absent.
// Callers check this before attempting bulk series grouping.
func (t Table) ColumnIndex(field string) int {
	for _, col := range t.Columns {
		if col.Field == field {
			return col.Index
		}
	}
	return -1
}

// FilterKind classifies an active filter
type FilterKind string

const (
	FilterRange  FilterKind = "range"
	FilterValues FilterKind = "values"
)

// FilterDescriptor describes one active filter on the data source
type FilterDescriptor struct {
	Field  string          `json:"field"`
	Kind   FilterKind      `json:"kind"`
	Data   models.DataKind `json:"data_kind"`
	Min    string          `json:"min,omitempty"`
	Max    string          `json:"max,omitempty"`
	Values []string        `json:"values,omitempty"`
}

// DataSource is the tabular source the widget reads. Only one date
// filter may be active at a time on the shared source; callers must
// serialize Apply/fetch/Clear sequences.
type DataSource interface {
	GetTable(ctx context.Context) (Table, error)
	ApplyDateFilter(ctx context.Context, field string, window models.DateWindow) error
	ClearDateFilter(ctx context.Context, field string) error
	ActiveFilters(ctx context.Context) ([]FilterDescriptor, error)

	// Subscribe registers a data-changed callback and returns a
	// subscriber id for Unsubscribe.
	Subscribe(fn func()) string
	Unsubscribe(id string)
}

// RoleBinding is one ordered (role, field) pair from the widget
// configuration.
type RoleBinding struct {
	Role  models.Role `json:"role"`
	Field string      `json:"field"`
}

// ConfigSource exposes the widget's role bindings. Re-read on every
// refresh cycle; never cached by the pipeline.
type ConfigSource interface {
	RoleBindings(ctx context.Context) ([]RoleBinding, error)
}

// FieldsForRole filters bindings to one role, preserving order
func FieldsForRole(bindings []RoleBinding, role models.Role) []string {
	var fields []string
	for _, b := range bindings {
		if b.Role == role {
			fields = append(fields, b.Field)
		}
	}
	return fields
}
