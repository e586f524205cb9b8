package database

import (
	"log"

	"gorm.io/gorm"
)

// RunMigrations runs any custom data migrations after schema changes
func RunMigrations(db *gorm.DB) error {
	if err := normalizeWidgetSettings(db); err != nil {
		return err
	}
	if err := pruneOrphanedCells(db); err != nil {
		return err
	}
	return nil
}

// normalizeWidgetSettings backfills defaults into settings rows written
// before week_start and rolling_count existed
func normalizeWidgetSettings(db *gorm.DB) error {
	if !db.Migrator().HasTable("widget_settings") {
		return nil
	}

	db.Exec(`UPDATE widget_settings SET week_start = 'sunday' WHERE week_start IS NULL OR week_start = ''`)
	db.Exec(`UPDATE widget_settings SET rolling_count = 30 WHERE rolling_count IS NULL OR rolling_count < 1`)
	return nil
}

// pruneOrphanedCells removes worksheet cells whose column definition
// was dropped. Safe to run repeatedly.
func pruneOrphanedCells(db *gorm.DB) error {
	if !db.Migrator().HasTable("worksheet_cells") || !db.Migrator().HasTable("column_defs") {
		return nil
	}

	result := db.Exec(`
		DELETE FROM worksheet_cells
		WHERE field NOT IN (SELECT field FROM column_defs)
	`)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		log.Printf("Cleaned up %d orphaned worksheet cells", result.RowsAffected)
	}

	return nil
}
