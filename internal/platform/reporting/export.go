package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/labreview/labreview/pkg/labmodels"
)

const (
	decisionSheet = "Review Decisions"
	// ContentTypeXLSX is the media type of exported workbooks.
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var decisionHeader = []string{
	"Decision ID", "Risk Flag ID", "User ID", "Canonical Name",
	"Gate Result", "Reasons", "Decided At",
}

var decisionColumnWidths = []float64{38, 38, 20, 22, 18, 40, 22}

// WriteDecisions renders decisions as a single-sheet workbook.
func WriteDecisions(w io.Writer, decisions []*labmodels.ReviewDecision) error {
	rows := make([][]interface{}, 0, len(decisions))
	for _, d := range decisions {
		rows = append(rows, []interface{}{
			d.ID.String(),
			d.RiskFlagRef.String(),
			d.UserID,
			d.CanonicalName,
			string(d.GateResult),
			strings.Join(d.Reasons, ", "),
			d.DecidedAt.UTC().Format(time.RFC3339),
		})
	}
	return writeSheet(w, decisionSheet, decisionHeader, decisionColumnWidths, rows)
}

// WriteMeasure renders a measure report, one column per measure column.
func WriteMeasure(w io.Writer, r *MeasureReport) error {
	rows := make([][]interface{}, 0, len(r.Results))
	for _, res := range r.Results {
		row := make([]interface{}, len(r.Columns))
		for i, col := range r.Columns {
			row[i] = res[col]
		}
		rows = append(rows, row)
	}
	// Sheet names are limited to 31 characters.
	name := r.MeasureName
	if len(name) > 31 {
		name = name[:31]
	}
	return writeSheet(w, name, r.Columns, nil, rows)
}

func writeSheet(w io.Writer, sheet string, header []string, widths []float64, rows [][]interface{}) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if sheet != "Sheet1" {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return fmt.Errorf("delete default sheet: %w", err)
		}
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for col, h := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("style header %s: %w", cell, err)
		}
	}

	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, col, col, width); err != nil {
			return fmt.Errorf("set width %s: %w", col, err)
		}
	}

	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", r+2, err)
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
