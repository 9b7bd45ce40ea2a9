package slots

import (
	"time"

	"eyeclinic/internal/model"
	"eyeclinic/internal/schedule"
)

// Booked is an occupied interval on a date.
type Booked struct {
	ID       string
	Date     model.Date
	Interval model.Interval
}

// BookedIntervals converts appointments into occupied intervals using the
// durations configured in cfg.
func BookedIntervals(cfg *model.ClinicConfig, appts []model.Appointment) []Booked {
	out := make([]Booked, 0, len(appts))
	for i := range appts {
		out = append(out, Booked{
			ID:       appts[i].ID,
			Date:     appts[i].Date,
			Interval: appts[i].Interval(cfg),
		})
	}
	return out
}

// Overlaps is the half-open overlap test shared by every scheduling check.
func Overlaps(a, b model.Interval) bool {
	return a.Overlaps(b)
}

// HasConflict reports whether candidate overlaps any booking on date other than
// the one identified by excludeID.
func HasConflict(date model.Date, candidate model.Interval, bookings []Booked, excludeID string) bool {
	for _, b := range bookings {
		if b.Date != date {
			continue
		}
		if excludeID != "" && b.ID == excludeID {
			continue
		}
		if Overlaps(candidate, b.Interval) {
			return true
		}
	}
	return false
}

// Verdict is the outcome of checking one candidate interval.
type Verdict string

const (
	VerdictAccepted      Verdict = "accepted"
	VerdictClosed        Verdict = "clinic_closed"
	VerdictOutsideWindow Verdict = "outside_window"
	VerdictLunch         Verdict = "lunch"
	VerdictElapsed       Verdict = "elapsed"
	VerdictBooked        Verdict = "booked"
)

// Policy carries the time-dependent rules of a check. The zero Policy applies
// no cutoff, which is what staff edits use.
type Policy struct {
	Today   model.Date
	Now     model.Clock
	MinLead int
}

// PolicyAt builds the self-service policy for the instant now, which must
// already be in the clinic's time zone.
func PolicyAt(now time.Time, minLead int) Policy {
	return Policy{Today: model.DateOf(now), Now: model.ClockOf(now), MinLead: minLead}
}

// elapsed returns the part of date that can no longer be offered. On today it
// covers every start t <= now+lead; earlier dates are fully elapsed.
func (p Policy) elapsed(date model.Date) (model.Interval, bool) {
	if p.Today.IsZero() || date.After(p.Today) {
		return model.Interval{}, false
	}
	if date.Before(p.Today) {
		return model.Interval{Start: 0, End: model.MinutesPerDay}, true
	}
	return model.Interval{Start: 0, End: p.Now.Add(p.MinLead + 1)}, true
}

// Check is the single predicate behind both slot listing and booking writes.
func Check(day schedule.Day, candidate model.Interval, bookings []Booked, excludeID string, policy Policy) Verdict {
	if !day.Open || day.Window == nil {
		return VerdictClosed
	}
	if candidate.Len() <= 0 || !day.Window.Contains(candidate) {
		return VerdictOutsideWindow
	}
	if day.Lunch != nil && Overlaps(candidate, *day.Lunch) {
		return VerdictLunch
	}
	if cutoff, ok := policy.elapsed(day.Date); ok && Overlaps(candidate, cutoff) {
		return VerdictElapsed
	}
	if HasConflict(day.Date, candidate, bookings, excludeID) {
		return VerdictBooked
	}
	return VerdictAccepted
}
