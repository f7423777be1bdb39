// Package export renders canonical promotions as spreadsheet downloads.
package export

import (
	"fmt"
	"io"
	"time"

	"promozone/internal/models"

	"github.com/xuri/excelize/v2"
)

const SheetName = "Promotions"

// ContentType is the MIME type of the XLSX workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var header = []interface{}{
	"marketplace", "item_id", "title", "price", "original_price", "discount_percent",
	"seller", "url", "image_url", "source", "collected_at", "inserted_at", "dedupe_key",
}

// WriteXLSX writes promotions as a single-sheet workbook, one row per record
// in the given order.
func WriteXLSX(w io.Writer, promotions []models.Promotion) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(header))
	if err := f.SetCellStyle(SheetName, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, p := range promotions {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{
			p.Marketplace, p.ItemID, p.Title, p.Price,
			floatOrBlank(p.OriginalPrice), floatOrBlank(p.DiscountPercent),
			stringOrBlank(p.Seller), p.URL, stringOrBlank(p.ImageURL), p.Source,
			p.CollectedAt.UTC().Format(time.RFC3339), timeOrBlank(p.InsertedAt), p.DedupeKey,
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(SheetName, "A", lastCol, 18); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(SheetName, "C", "C", 60); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func floatOrBlank(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func stringOrBlank(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func timeOrBlank(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}
