package models

import (
	"time"
)

// DataKind classifies a worksheet column
type DataKind string

const (
	DataKindNumber DataKind = "number"
	DataKindText   DataKind = "text"
	DataKindDate   DataKind = "date"
	DataKindGeo    DataKind = "geo"
	DataKindBool   DataKind = "bool"
)

// Role binds a worksheet field to a widget function
type Role string

const (
	RoleBars        Role = "bars"
	RoleLines       Role = "lines"
	RoleUnfavorable Role = "unfavorable"
	RoleTooltip     Role = "tooltip"
	RoleDetail      Role = "detail"
	RoleDate        Role = "date"
)

// ColumnDef describes one worksheet column
type ColumnDef struct {
	ID       uint     `json:"id" gorm:"primaryKey;autoIncrement"`
	Field    string   `json:"field" gorm:"uniqueIndex;not null"`
	Kind     DataKind `json:"kind" gorm:"not null"`
	Position int      `json:"position" gorm:"not null"`
}

// WorksheetCell stores one cell of the tabular data source. Rows are
// reconstructed by grouping cells on RowID in row insertion order.
type WorksheetCell struct {
	ID          uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	RowID       uint       `json:"row_id" gorm:"index:idx_cell_row;not null"`
	Field       string     `json:"field" gorm:"index:idx_cell_field;not null"`
	NumberValue *float64   `json:"number_value"`
	TextValue   *string    `json:"text_value"`
	DateValue   *time.Time `json:"date_value" gorm:"index:idx_cell_date"`
	Formatted   string     `json:"formatted"`
}

// RoleBinding maps a widget role to a worksheet field. Position
// preserves the declaration order the widget renders cards in.
type RoleBinding struct {
	ID       uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	Role     Role   `json:"role" gorm:"index:idx_binding_role;not null"`
	Field    string `json:"field" gorm:"not null"`
	Position int    `json:"position" gorm:"not null"`
}

// WidgetSettings is the single-row persisted widget configuration
type WidgetSettings struct {
	ID           uint        `json:"id" gorm:"primaryKey"`
	PeriodKind   PeriodKind  `json:"period_kind"`
	Granularity  Granularity `json:"granularity"`
	RollingCount int         `json:"rolling_count"`
	WeekStart    WeekStart   `json:"week_start"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// PeriodSpec converts the persisted settings to the in-memory spec
func (s WidgetSettings) PeriodSpec() PeriodSpec {
	spec := PeriodSpec{
		Kind:         s.PeriodKind,
		Granularity:  s.Granularity,
		RollingCount: s.RollingCount,
		WeekStart:    s.WeekStart,
	}
	if spec.Validate() != nil {
		return DefaultPeriodSpec()
	}
	return spec
}
