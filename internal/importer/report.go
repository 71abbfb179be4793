package importer

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const reportSheet = "Import Errors"

// WriteErrorReport writes summary's errors as an XLSX workbook: one row per
// error (Row, Field, Message) followed by a summary block.
func WriteErrorReport(w io.Writer, summary ImportSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(reportSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	headers := []interface{}{"Row", "Field", "Message"}
	if err := f.SetSheetRow(reportSheet, "A1", &headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFE6E6"}, Pattern: 1},
	})
	if err == nil {
		_ = f.SetCellStyle(reportSheet, "A1", "C1", headerStyle)
	}

	for i, e := range summary.Errors {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{e.Row, e.Field, e.Message}
		if err := f.SetSheetRow(reportSheet, cell, &row); err != nil {
			return fmt.Errorf("write error row %d: %w", i, err)
		}
	}

	_ = f.SetColWidth(reportSheet, "A", "A", 8)
	_ = f.SetColWidth(reportSheet, "B", "B", 22)
	_ = f.SetColWidth(reportSheet, "C", "C", 60)

	start := len(summary.Errors) + 4
	block := [][]interface{}{
		{"Import Summary"},
		{"Total Rows:", summary.TotalRows},
		{"Imported Items:", summary.ImportedCount},
		{"Skipped Rows:", summary.SkippedCount},
		{"Errors:", summary.ErrorCount},
	}
	for i, r := range block {
		cell, _ := excelize.CoordinatesToCellName(1, start+i)
		r := r
		if err := f.SetSheetRow(reportSheet, cell, &r); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	if boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		title := fmt.Sprintf("A%d", start)
		_ = f.SetCellStyle(reportSheet, title, title, boldStyle)
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}
	f.SetActiveSheet(0)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
