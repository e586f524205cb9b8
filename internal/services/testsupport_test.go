package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codyseavey/kpi-widget/internal/host"
	"github.com/codyseavey/kpi-widget/internal/models"
)

// fakeSource is an in-memory DataSource with host-side date
// filtering. dropDateColumn simulates a result set that cannot
// resolve the date column, forcing the per-bucket series fallback.
type fakeSource struct {
	mu      sync.Mutex
	columns []host.Column
	rows    [][]host.Cell

	filterField  string
	filterWindow models.DateWindow
	hasFilter    bool

	applyCount int
	clearCount int
	tableCount int

	dropDateColumn bool
	tableErr       error
	filtersErr     error
	extraFilters   []host.FilterDescriptor

	subs map[string]func()
}

func newFakeSource(columns []host.Column, rows [][]host.Cell) *fakeSource {
	return &fakeSource{
		columns: columns,
		rows:    rows,
		subs:    make(map[string]func()),
	}
}

func (f *fakeSource) GetTable(ctx context.Context) (host.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tableCount++
	if f.tableErr != nil {
		return host.Table{}, f.tableErr
	}

	rows := f.rows
	if f.hasFilter {
		dateIdx := -1
		for _, col := range f.columns {
			if col.Field == f.filterField {
				dateIdx = col.Index
			}
		}
		var filtered [][]host.Cell
		for _, row := range rows {
			if dateIdx < 0 || dateIdx >= len(row) {
				continue
			}
			if t, ok := row[dateIdx].Date(); ok && f.filterWindow.Contains(t) {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	table := host.Table{Columns: f.columns, Rows: rows}
	if f.dropDateColumn {
		table = dropColumn(table, f.filterField)
	}
	return table, nil
}

// dropColumn removes one column and reindexes the rest
func dropColumn(t host.Table, field string) host.Table {
	out := host.Table{}
	removed := -1
	for _, col := range t.Columns {
		if col.Field == field {
			removed = col.Index
			continue
		}
		idx := col.Index
		if removed >= 0 && idx > removed {
			idx--
		}
		out.Columns = append(out.Columns, host.Column{Field: col.Field, Kind: col.Kind, Index: idx})
	}
	if removed < 0 {
		return t
	}
	for _, row := range t.Rows {
		newRow := make([]host.Cell, 0, len(row)-1)
		for i, cell := range row {
			if i == removed {
				continue
			}
			newRow = append(newRow, cell)
		}
		out.Rows = append(out.Rows, newRow)
	}
	return out
}

func (f *fakeSource) ApplyDateFilter(ctx context.Context, field string, window models.DateWindow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyCount++
	f.filterField = field
	f.filterWindow = window
	f.hasFilter = true
	return nil
}

func (f *fakeSource) ClearDateFilter(ctx context.Context, field string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCount++
	f.hasFilter = false
	return nil
}

func (f *fakeSource) ActiveFilters(ctx context.Context) ([]host.FilterDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.filtersErr != nil {
		return nil, f.filtersErr
	}
	return append([]host.FilterDescriptor(nil), f.extraFilters...), nil
}

func (f *fakeSource) Subscribe(fn func()) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.subs[id] = fn
	return id
}

func (f *fakeSource) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
}

func (f *fakeSource) filterHeld() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasFilter
}

// fakeConfig is a static ConfigSource
type fakeConfig struct {
	bindings []host.RoleBinding
	err      error
}

func (f *fakeConfig) RoleBindings(ctx context.Context) ([]host.RoleBinding, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bindings, nil
}

// cell helpers

func dateCell(t time.Time) host.Cell {
	return host.Cell{Native: t, Formatted: t.Format("2006-01-02")}
}

func numCell(v float64, formatted string) host.Cell {
	return host.Cell{Native: v, Formatted: formatted}
}

func textCell(s string) host.Cell {
	return host.Cell{Native: s, Formatted: s}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}
