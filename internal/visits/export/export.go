// Package export renders visit reports as CSV and XLSX. Dates and times are
// written in the facility's local zone.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"gatehouse/internal/visits/models"
	"gatehouse/pkg/facilitytime"
)

const SheetName = "Registros"

var csvHeader = []string{
	"Id", "Nombre", "Documento", "Motivo", "Destino", "Tipo",
	"FechaIngreso", "HoraIngreso", "FechaSalida", "HoraSalida",
	"RegistradoPor", "FotoUrl",
}

var sheetHeader = []string{
	"Id", "Nombre", "Apellido", "Documento", "Motivo", "Destino", "Tipo",
	"FechaIngreso", "HoraIngreso", "FechaSalida", "HoraSalida",
	"RegistradoPor", "FotoUrl",
}

var columnWidths = []float64{38, 18, 18, 16, 24, 20, 14, 13, 11, 13, 11, 28, 48}

// FileName is the download name for an export taken at now.
func FileName(now time.Time, ext string) string {
	return "registros_" + now.UTC().Format("20060102150405") + "." + ext
}

// WriteCSV writes rows as ';'-separated values with a header line.
func WriteCSV(w io.Writer, rows []models.ExportRow, zone facilitytime.Zone) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		v := r.Visit
		inDate, inClock := zone.FormatDate(v.CheckInAtUTC), zone.FormatClock(v.CheckInAtUTC)
		outDate, outClock := localOrBlank(v.CheckOutAtUTC, zone)
		record := []string{
			v.ID.String(), v.GivenName, v.DocumentID, v.Reason, v.Destination, v.Category,
			inDate, inClock, outDate, outClock,
			r.OperatorEmail, v.PhotoRef,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes rows to a single "Registros" sheet.
func WriteXLSX(w io.Writer, rows []models.ExportRow, zone facilitytime.Zone) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := setRow(f, 1, toAny(sheetHeader)); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(sheetHeader), 1)
	if err := f.SetCellStyle(SheetName, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	for i, width := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SheetName, col, col, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	for i, r := range rows {
		v := r.Visit
		outDate, outClock := localOrBlank(v.CheckOutAtUTC, zone)
		values := []any{
			v.ID.String(), v.GivenName, v.FamilyName, v.DocumentID, v.Reason, v.Destination, v.Category,
			zone.FormatDate(v.CheckInAtUTC), zone.FormatClock(v.CheckInAtUTC), outDate, outClock,
			r.OperatorEmail, v.PhotoRef,
		}
		if err := setRow(f, i+2, values); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("row %d: %w", row, err)
	}
	if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

func localOrBlank(t *time.Time, zone facilitytime.Zone) (string, string) {
	if t == nil {
		return "", ""
	}
	return zone.FormatDate(*t), zone.FormatClock(*t)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
