// Package export renders diary ranges as xlsx workbooks.
package export

import (
	"fmt"
	"io"

	"eyeclinic/internal/booking"
	"eyeclinic/internal/model"

	"github.com/xuri/excelize/v2"
)

// Columns of every day sheet.
var Columns = []string{"Time", "End", "Service", "Patient", "Phone", "Status", "Source"}

// SheetName formats a date as "Mon 2 Mar".
func SheetName(d model.Date) string {
	return d.Time(nil).Format("Mon 2 Jan")
}

// workbook is a row cursor over an excelize file.
type workbook struct {
	file  *excelize.File
	sheet string
	row   int
	bold  int
}

func newWorkbook() (*workbook, error) {
	f := excelize.NewFile()
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create style: %w", err)
	}
	return &workbook{file: f, bold: bold}, nil
}

func (w *workbook) addSheet(name string) error {
	// Excel limit
	if len(name) > 31 {
		name = name[:31]
	}
	if w.sheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.sheet = name
	w.row = 1
	return nil
}

func (w *workbook) writeRow(values []interface{}, bold bool) error {
	for i, val := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, w.row)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.sheet, cell, val); err != nil {
			return err
		}
	}
	if bold && len(values) > 0 {
		first, _ := excelize.CoordinatesToCellName(1, w.row)
		last, _ := excelize.CoordinatesToCellName(len(values), w.row)
		if err := w.file.SetCellStyle(w.sheet, first, last, w.bold); err != nil {
			return err
		}
	}
	w.row++
	return nil
}

// AppointmentRow is the cell values of one appointment.
func AppointmentRow(cfg *model.ClinicConfig, a model.Appointment) []interface{} {
	iv := a.Interval(cfg)
	label := string(a.Service)
	if svc, ok := cfg.Services[a.Service]; ok {
		label = svc.Label
	}
	return []interface{}{
		iv.Start.String(),
		iv.End.String(),
		label,
		a.Patient.Name,
		a.Patient.Phone,
		string(a.Status),
		string(a.Source),
	}
}

// SummaryRow is the footer of a day sheet.
func SummaryRow(s booking.Summary) []interface{} {
	return []interface{}{
		"Total",
		"",
		fmt.Sprintf("%d patients", s.Patients),
		fmt.Sprintf("£%d.%02d", s.RevenuePence/100, s.RevenuePence%100),
		"",
		fmt.Sprintf("%d%% capacity", s.CapacityPercent),
		"",
	}
}

// WriteDiary writes one sheet per day to w. Closed days get a sheet with the
// closure reason in place of appointments.
func WriteDiary(wr io.Writer, cfg *model.ClinicConfig, days []booking.DayDiary) error {
	if len(days) == 0 {
		return fmt.Errorf("export: no days")
	}
	w, err := newWorkbook()
	if err != nil {
		return err
	}
	defer w.file.Close()

	for _, d := range days {
		if err := w.addSheet(SheetName(d.Day.Date)); err != nil {
			return err
		}
		header := make([]interface{}, len(Columns))
		for i, c := range Columns {
			header[i] = c
		}
		if err := w.writeRow(header, true); err != nil {
			return err
		}
		if !d.Day.Open {
			if err := w.writeRow([]interface{}{"Closed", string(d.Day.Reason)}, false); err != nil {
				return err
			}
			continue
		}
		for _, a := range d.Appointments {
			if err := w.writeRow(AppointmentRow(cfg, a), false); err != nil {
				return err
			}
		}
		if err := w.writeRow(SummaryRow(d.Summary), true); err != nil {
			return err
		}
	}

	if err := w.file.Write(wr); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
