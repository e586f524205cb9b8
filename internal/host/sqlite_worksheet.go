package host

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/codyseavey/kpi-widget/internal/models"
)

// SQLiteWorksheet is the production DataSource/ConfigSource backed by
// the gorm worksheet tables. The single-active-filter constraint of
// the host API is enforced here: applying a new date filter replaces
// the previous one, so fetch sequences must be serialized by callers.
type SQLiteWorksheet struct {
	db *gorm.DB

	filterMu     sync.Mutex
	activeField  string
	activeWindow models.DateWindow
	hasFilter    bool

	subMu       sync.RWMutex
	subscribers map[string]func()
}

// NewSQLiteWorksheet creates a worksheet over an initialized database
func NewSQLiteWorksheet(db *gorm.DB) *SQLiteWorksheet {
	return &SQLiteWorksheet{
		db:          db,
		subscribers: make(map[string]func()),
	}
}

// GetTable fetches the worksheet snapshot, restricted by the active
// date filter when one is applied.
func (w *SQLiteWorksheet) GetTable(ctx context.Context) (Table, error) {
	var defs []models.ColumnDef
	if err := w.db.WithContext(ctx).Order("position ASC").Find(&defs).Error; err != nil {
		return Table{}, fmt.Errorf("load column defs: %w", err)
	}

	table := Table{Columns: make([]Column, 0, len(defs))}
	colIndex := make(map[string]int, len(defs))
	for i, def := range defs {
		table.Columns = append(table.Columns, Column{Field: def.Field, Kind: def.Kind, Index: i})
		colIndex[def.Field] = i
	}

	cellQuery := w.db.WithContext(ctx).Model(&models.WorksheetCell{})

	w.filterMu.Lock()
	if w.hasFilter {
		cellQuery = cellQuery.Where(
			"row_id IN (?)",
			w.db.Model(&models.WorksheetCell{}).
				Select("row_id").
				Where("field = ? AND date_value >= ? AND date_value <= ?",
					w.activeField, w.activeWindow.Start, w.activeWindow.End),
		)
	}
	w.filterMu.Unlock()

	var cells []models.WorksheetCell
	if err := cellQuery.Order("row_id ASC, id ASC").Find(&cells).Error; err != nil {
		return Table{}, fmt.Errorf("load worksheet cells: %w", err)
	}

	var currentRow []Cell
	var currentRowID uint
	flush := func() {
		if currentRow != nil {
			table.Rows = append(table.Rows, currentRow)
		}
	}
	for _, cell := range cells {
		if currentRow == nil || cell.RowID != currentRowID {
			flush()
			currentRow = make([]Cell, len(defs))
			currentRowID = cell.RowID
		}
		idx, ok := colIndex[cell.Field]
		if !ok {
			continue // cell for a dropped column
		}
		currentRow[idx] = toCell(cell)
	}
	flush()

	return table, nil
}

func toCell(c models.WorksheetCell) Cell {
	switch {
	case c.NumberValue != nil:
		return Cell{Native: *c.NumberValue, Formatted: c.Formatted}
	case c.DateValue != nil:
		return Cell{Native: (*c.DateValue).UTC(), Formatted: c.Formatted}
	case c.TextValue != nil:
		return Cell{Native: *c.TextValue, Formatted: c.Formatted}
	default:
		return Cell{Formatted: c.Formatted}
	}
}

// ApplyDateFilter sets the single active date-range filter
func (w *SQLiteWorksheet) ApplyDateFilter(ctx context.Context, field string, window models.DateWindow) error {
	w.filterMu.Lock()
	defer w.filterMu.Unlock()

	if w.hasFilter && w.activeField != field {
		log.Printf("Worksheet: replacing active date filter on %q with %q", w.activeField, field)
	}
	w.activeField = field
	w.activeWindow = window
	w.hasFilter = true
	return nil
}

// ClearDateFilter removes the active date filter if it is on field
func (w *SQLiteWorksheet) ClearDateFilter(ctx context.Context, field string) error {
	w.filterMu.Lock()
	defer w.filterMu.Unlock()

	if !w.hasFilter || w.activeField != field {
		return nil
	}
	w.hasFilter = false
	w.activeField = ""
	w.activeWindow = models.DateWindow{}
	return nil
}

// ActiveFilters describes the filters currently applied to the source
func (w *SQLiteWorksheet) ActiveFilters(ctx context.Context) ([]FilterDescriptor, error) {
	w.filterMu.Lock()
	defer w.filterMu.Unlock()

	if !w.hasFilter {
		return nil, nil
	}
	return []FilterDescriptor{{
		Field: w.activeField,
		Kind:  FilterRange,
		Data:  models.DataKindDate,
		Min:   w.activeWindow.Start.Format("2006-01-02"),
		Max:   w.activeWindow.End.Format("2006-01-02"),
	}}, nil
}

// Subscribe registers a data-changed callback
func (w *SQLiteWorksheet) Subscribe(fn func()) string {
	w.subMu.Lock()
	defer w.subMu.Unlock()

	id := uuid.NewString()
	w.subscribers[id] = fn
	return id
}

// Unsubscribe removes a data-changed callback
func (w *SQLiteWorksheet) Unsubscribe(id string) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	delete(w.subscribers, id)
}

func (w *SQLiteWorksheet) notifyDataChanged() {
	w.subMu.RLock()
	fns := make([]func(), 0, len(w.subscribers))
	for _, fn := range w.subscribers {
		fns = append(fns, fn)
	}
	w.subMu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

// AppendRow writes one worksheet row and notifies subscribers.
// Cells are keyed by field name; unknown fields are rejected.
func (w *SQLiteWorksheet) AppendRow(ctx context.Context, cells map[string]models.WorksheetCell) error {
	var defs []models.ColumnDef
	if err := w.db.WithContext(ctx).Find(&defs).Error; err != nil {
		return fmt.Errorf("load column defs: %w", err)
	}
	known := make(map[string]bool, len(defs))
	for _, def := range defs {
		known[def.Field] = true
	}
	for field := range cells {
		if !known[field] {
			return fmt.Errorf("unknown worksheet field %q", field)
		}
	}

	var maxRow struct{ MaxID uint }
	w.db.WithContext(ctx).Model(&models.WorksheetCell{}).
		Select("COALESCE(MAX(row_id), 0) as max_id").Scan(&maxRow)
	rowID := maxRow.MaxID + 1

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for field, cell := range cells {
			cell.ID = 0
			cell.RowID = rowID
			cell.Field = field
			if err := tx.Create(&cell).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append worksheet row: %w", err)
	}

	w.notifyDataChanged()
	return nil
}

// RoleBindings implements ConfigSource from the role_bindings table,
// preserving declaration order.
func (w *SQLiteWorksheet) RoleBindings(ctx context.Context) ([]RoleBinding, error) {
	var records []models.RoleBinding
	if err := w.db.WithContext(ctx).Order("position ASC, id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load role bindings: %w", err)
	}

	bindings := make([]RoleBinding, 0, len(records))
	for _, r := range records {
		bindings = append(bindings, RoleBinding{Role: r.Role, Field: r.Field})
	}
	return bindings, nil
}
