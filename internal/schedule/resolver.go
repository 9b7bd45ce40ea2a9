// Package schedule turns the clinic rules into the effective opening hours of a day.
package schedule

import "eyeclinic/internal/model"

// ClosedReason explains why a day has no opening window.
type ClosedReason string

const (
	ReasonNone       ClosedReason = ""
	ReasonClosedDate ClosedReason = "closed_date"
	ReasonWeeklyOff  ClosedReason = "weekly_off"
)

// Day is the resolved schedule of one date.
type Day struct {
	Date   model.Date      `json:"date"`
	Open   bool            `json:"open"`
	Reason ClosedReason    `json:"reason,omitempty"`
	Window *model.Interval `json:"window,omitempty"`
	Lunch  *model.Interval `json:"lunch,omitempty"`
	// Override is set when the window comes from a per-date override.
	Override bool `json:"override,omitempty"`
}

// ResolveDay applies the override precedence
// closedDates > weeklyOff (unless in openDates) > dailyOverrides > standardHours.
// It has no side effects and depends only on its arguments.
func ResolveDay(cfg *model.ClinicConfig, date model.Date) Day {
	day := Day{Date: date}

	if cfg.ClosedDates.Has(date) {
		day.Reason = ReasonClosedDate
		return day
	}
	if cfg.IsWeeklyOff(date.Weekday()) && !cfg.OpenDates.Has(date) {
		day.Reason = ReasonWeeklyOff
		return day
	}

	window := cfg.StandardHours
	if override, ok := cfg.DailyOverrides[date]; ok {
		window = override
		day.Override = true
	}
	day.Open = true
	day.Window = &window

	if cfg.Lunch.Enabled {
		lunch := cfg.Lunch.Interval
		day.Lunch = &lunch
	}
	return day
}

// OpenMinutes is the number of bookable minutes in the day: the window minus
// the part of it covered by lunch.
func OpenMinutes(day Day) int {
	if !day.Open || day.Window == nil {
		return 0
	}
	total := day.Window.Len()
	if day.Lunch != nil && day.Lunch.Overlaps(*day.Window) {
		start := max(day.Lunch.Start, day.Window.Start)
		end := min(day.Lunch.End, day.Window.End)
		total -= int(end - start)
	}
	return total
}

// ResolveRange resolves every date in [from, to].
func ResolveRange(cfg *model.ClinicConfig, from, to model.Date) []Day {
	var days []Day
	for d := from; !d.After(to); d = d.AddDays(1) {
		days = append(days, ResolveDay(cfg, d))
	}
	return days
}
