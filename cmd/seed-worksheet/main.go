// seed-worksheet populates a widget database with a demo sales
// worksheet: column definitions, role bindings, and ~180 days of
// order rows across two regions.
//
// Usage: go run main.go -db=<path> [-days=180] [-wipe]
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"gorm.io/gorm"

	"github.com/codyseavey/kpi-widget/internal/database"
	"github.com/codyseavey/kpi-widget/internal/models"
)

var regions = []string{"West", "East"}

func main() {
	dbPath := flag.String("db", "./kpi_widget.db", "path to the widget sqlite database")
	days := flag.Int("days", 180, "number of trailing days to generate rows for")
	wipe := flag.Bool("wipe", false, "delete existing worksheet data first")
	flag.Parse()

	if err := database.Initialize(*dbPath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	db := database.GetDB()

	if *wipe {
		db.Exec("DELETE FROM worksheet_cells")
		db.Exec("DELETE FROM column_defs")
		db.Exec("DELETE FROM role_bindings")
		log.Println("Wiped existing worksheet data")
	}

	if err := seedColumns(db); err != nil {
		log.Fatalf("Failed to seed columns: %v", err)
	}
	if err := seedBindings(db); err != nil {
		log.Fatalf("Failed to seed role bindings: %v", err)
	}

	rows, err := seedRows(db, *days)
	if err != nil {
		log.Fatalf("Failed to seed rows: %v", err)
	}

	log.Printf("Seeded %d worksheet rows over %d days", rows, *days)
}

func seedColumns(db *gorm.DB) error {
	columns := []models.ColumnDef{
		{Field: "OrderDate", Kind: models.DataKindDate, Position: 0},
		{Field: "Revenue", Kind: models.DataKindNumber, Position: 1},
		{Field: "Units", Kind: models.DataKindNumber, Position: 2},
		{Field: "ReturnRate", Kind: models.DataKindNumber, Position: 3},
		{Field: "Region", Kind: models.DataKindText, Position: 4},
	}
	for _, col := range columns {
		if err := db.Where("field = ?", col.Field).FirstOrCreate(&col).Error; err != nil {
			return err
		}
	}
	return nil
}

func seedBindings(db *gorm.DB) error {
	bindings := []models.RoleBinding{
		{Role: models.RoleDate, Field: "OrderDate", Position: 0},
		{Role: models.RoleBars, Field: "Revenue", Position: 1},
		{Role: models.RoleLines, Field: "ReturnRate", Position: 2},
		{Role: models.RoleUnfavorable, Field: "ReturnRate", Position: 3},
		{Role: models.RoleTooltip, Field: "Units", Position: 4},
		{Role: models.RoleDetail, Field: "Region", Position: 5},
	}
	for _, b := range bindings {
		if err := db.Where("role = ? AND field = ?", b.Role, b.Field).FirstOrCreate(&b).Error; err != nil {
			return err
		}
	}
	return nil
}

func seedRows(db *gorm.DB, days int) (int, error) {
	rng := rand.New(rand.NewSource(42))
	now := time.Now().UTC()

	var rowID uint
	db.Model(&models.WorksheetCell{}).Select("COALESCE(MAX(row_id), 0)").Scan(&rowID)

	count := 0
	for d := days - 1; d >= 0; d-- {
		day := time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, time.UTC).AddDate(0, 0, -d)
		for _, region := range regions {
			// 1-3 orders per region per day
			orders := 1 + rng.Intn(3)
			for i := 0; i < orders; i++ {
				rowID++
				revenue := 200 + rng.Float64()*1800
				units := float64(1 + rng.Intn(20))
				returnRate := rng.Float64() * 8

				cells := []models.WorksheetCell{
					{RowID: rowID, Field: "OrderDate", DateValue: &day, Formatted: day.Format("2006-01-02")},
					{RowID: rowID, Field: "Revenue", NumberValue: &revenue, Formatted: fmt.Sprintf("$%.2f", revenue)},
					{RowID: rowID, Field: "Units", NumberValue: &units, Formatted: fmt.Sprintf("%.0f", units)},
					{RowID: rowID, Field: "ReturnRate", NumberValue: &returnRate, Formatted: fmt.Sprintf("%.1f%%", returnRate)},
					{RowID: rowID, Field: "Region", TextValue: &region, Formatted: region},
				}
				if err := db.Create(&cells).Error; err != nil {
					return count, err
				}
				count++
			}
		}
	}
	return count, nil
}
