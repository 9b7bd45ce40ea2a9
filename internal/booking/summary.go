package booking

import (
	"math"

	"eyeclinic/internal/model"
	"eyeclinic/internal/schedule"
	"eyeclinic/internal/slots"
)

// Summary holds the dashboard figures of one day.
type Summary struct {
	Patients        int   `json:"patients"`
	RevenuePence    int64 `json:"revenue_pence"`
	BookedMinutes   int   `json:"booked_minutes"`
	OpenMinutes     int   `json:"open_minutes"`
	CapacityPercent int   `json:"capacity_percent"`
}

// DayDiary is the staff view of a day.
type DayDiary struct {
	Day          schedule.Day        `json:"day"`
	Appointments []model.Appointment `json:"appointments"`
	Gaps         []model.Interval    `json:"gaps"`
	Summary      Summary             `json:"summary"`
}

// Summarize computes the dashboard figures. No-shows count neither as patients
// nor as revenue, but their time stays booked.
func Summarize(cfg *model.ClinicConfig, day schedule.Day, appts []model.Appointment) Summary {
	sum := Summary{OpenMinutes: schedule.OpenMinutes(day)}
	for i := range appts {
		a := &appts[i]
		sum.BookedMinutes += a.Duration(cfg)
		if a.Status == model.StatusNoShow {
			continue
		}
		sum.Patients++
		sum.RevenuePence += cfg.Services[a.Service].PricePence
	}
	if sum.OpenMinutes > 0 {
		pct := math.Round(float64(sum.BookedMinutes) * 100 / float64(sum.OpenMinutes))
		sum.CapacityPercent = int(math.Min(pct, 100))
	}
	return sum
}

func buildDiary(cfg *model.ClinicConfig, date model.Date, appts []model.Appointment) DayDiary {
	day := schedule.ResolveDay(cfg, date)
	if appts == nil {
		appts = []model.Appointment{}
	}
	return DayDiary{
		Day:          day,
		Appointments: appts,
		Gaps:         slots.FindGaps(day, slots.BookedIntervals(cfg, appts)),
		Summary:      Summarize(cfg, day, appts),
	}
}
