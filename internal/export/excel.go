// Package export renders the locker board as an Excel workbook.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"locker-status-backend/internal/locker"
)

const (
	BoardSheet   = "Casilleros"
	SummarySheet = "Resumen"
)

// BoardHeader is the header row of the board sheet.
var BoardHeader = []string{
	"Grupo",
	"Código",
	"Estado",
	"Colaborador",
	"Documento",
	"Fecha asignación",
	"Notas",
	"Activo",
	"Actualizado",
}

var columnWidths = []float64{14, 10, 16, 28, 14, 16, 36, 8, 20}

// WriteBoard writes buckets and their status summary to w as xlsx.
func WriteBoard(w io.Writer, buckets []locker.Bucket, summary locker.Summary) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(BoardSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	statusStyles, err := newStatusStyles(f)
	if err != nil {
		return err
	}

	if err := writeRow(f, BoardSheet, 1, toAny(BoardHeader)); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(BoardHeader), 1)
	if err := f.SetCellStyle(BoardSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	for i, width := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(BoardSheet, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	row := 2
	for _, b := range buckets {
		for _, r := range b.Records {
			if err := writeRow(f, BoardSheet, row, recordValues(b.Name, r)); err != nil {
				return err
			}
			cell, _ := excelize.CoordinatesToCellName(3, row)
			if style, ok := statusStyles[r.StatusKey()]; ok {
				if err := f.SetCellStyle(BoardSheet, cell, cell, style); err != nil {
					return fmt.Errorf("failed to set status style: %w", err)
				}
			}
			row++
		}
	}
	if err := f.SetPanes(BoardSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if err := writeSummary(f, summary, headerStyle); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, summary locker.Summary, headerStyle int) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := writeRow(f, SummarySheet, 1, []any{"Estado", "Cantidad"}); err != nil {
		return err
	}
	if err := f.SetCellStyle(SummarySheet, "A1", "B1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	row := 2
	for _, st := range locker.Statuses {
		if err := writeRow(f, SummarySheet, row, []any{string(st), summary.ByStatus[st]}); err != nil {
			return err
		}
		row++
	}
	return writeRow(f, SummarySheet, row, []any{"TOTAL", summary.Total})
}

func newStatusStyles(f *excelize.File) (map[locker.Status]int, error) {
	styles := make(map[locker.Status]int, len(locker.Statuses))
	for _, st := range locker.Statuses {
		id, err := f.NewStyle(&excelize.Style{
			Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
			Fill: excelize.Fill{Type: "pattern", Color: []string{st.Meta().Color}, Pattern: 1},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create style for %s: %w", st, err)
		}
		styles[st] = id
	}
	return styles, nil
}

func recordValues(group string, r locker.Record) []any {
	date := ""
	if r.AssignmentDate != nil {
		date = r.AssignmentDate.Format(locker.DateLayout)
	}
	active := "NO"
	if r.Active {
		active = "SI"
	}
	updated := ""
	if !r.UpdatedAt.IsZero() {
		updated = r.UpdatedAt.UTC().Format(time.DateTime)
	}
	return []any{
		group,
		r.Code,
		string(r.Status),
		str(r.OccupantName),
		str(r.OccupantDocument),
		date,
		str(r.Notes),
		active,
		updated,
	}
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", row, err)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
