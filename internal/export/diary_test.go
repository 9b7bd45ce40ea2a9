package export

import (
	"bytes"
	"testing"

	"eyeclinic/internal/booking"
	"eyeclinic/internal/model"
	"eyeclinic/internal/schedule"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func diary(cfg *model.ClinicConfig, date string, appts ...model.Appointment) booking.DayDiary {
	day := schedule.ResolveDay(cfg, model.MustParseDate(date))
	return booking.DayDiary{Day: day, Appointments: appts, Summary: booking.Summarize(cfg, day, appts)}
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "Mon 2 Mar", SheetName(model.MustParseDate("2026-03-02")))
	assert.Equal(t, "Sun 8 Mar", SheetName(model.MustParseDate("2026-03-08")))
}

func TestWriteDiary(t *testing.T) {
	cfg := model.DefaultClinicConfig()
	monday := model.MustParseDate("2026-03-02")
	days := []booking.DayDiary{
		diary(cfg, "2026-03-02",
			model.Appointment{Date: monday, Start: model.MustParseClock("09:00"), Service: model.ServicePrivate,
				Patient: model.Patient{Name: "Ada Lovelace", Phone: "07700900001"},
				Status:  model.StatusBooked, Source: model.SourceOnlinePatient},
			model.Appointment{Date: monday, Start: model.MustParseClock("10:00"), Service: model.ServiceNHS,
				Patient: model.Patient{Name: "Alan Turing", Phone: "07700900002"},
				Status:  model.StatusArrived, Source: model.SourceStaff},
		),
		diary(cfg, "2026-03-08"),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteDiary(&buf, cfg, days))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Mon 2 Mar", "Sun 8 Mar"}, f.GetSheetList())

	rows, err := f.GetRows("Mon 2 Mar")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, []string{"09:00", "09:30", "Eye Check Private", "Ada Lovelace", "07700900001", "booked", "online_patient"}, rows[1])
	assert.Equal(t, "Eye Check NHS", rows[2][2])
	assert.Equal(t, "2 patients", rows[3][2])
	assert.Equal(t, "£40.00", rows[3][3])
	assert.Equal(t, "14% capacity", rows[3][5])

	style, err := f.GetCellStyle("Mon 2 Mar", "A1")
	require.NoError(t, err)
	assert.NotZero(t, style, "header is styled")

	closed, err := f.GetRows("Sun 8 Mar")
	require.NoError(t, err)
	require.Len(t, closed, 2)
	assert.Equal(t, []string{"Closed", "weekly_off"}, closed[1])
}

func TestWriteDiaryRetiredService(t *testing.T) {
	cfg := model.DefaultClinicConfig()
	a := model.Appointment{Start: model.MustParseClock("11:00"), Service: "retinal_scan", DurationMinutes: 45}

	row := AppointmentRow(cfg, a)
	assert.Equal(t, "11:45", row[1])
	assert.Equal(t, "retinal_scan", row[2])
}

func TestWriteDiaryEmpty(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteDiary(&buf, model.DefaultClinicConfig(), nil))
}
