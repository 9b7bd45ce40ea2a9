package slots

import (
	"fmt"
	"sort"

	"eyeclinic/internal/model"
	"eyeclinic/internal/schedule"
)

// SlotInfo is the wire representation of a bookable start time.
type SlotInfo struct {
	Start string `json:"start"` // "10:00"
	End   string `json:"end"`   // "10:30"
}

// Generate lists every start minute at which a service of the given duration
// can be booked on day. The result is ascending and free of duplicates; a
// closed day, a non-positive duration or a window shorter than the duration
// all give an empty list.
func Generate(day schedule.Day, duration, granularity int, bookings []Booked, policy Policy) []model.Clock {
	starts := []model.Clock{}
	if !day.Open || day.Window == nil || duration <= 0 {
		return starts
	}
	if granularity <= 0 {
		granularity = model.DefaultSlotGranularity
	}

	onDay := make([]Booked, 0, len(bookings))
	for _, b := range bookings {
		if b.Date == day.Date {
			onDay = append(onDay, b)
		}
	}

	for t := day.Window.Start; t.Add(duration) <= day.Window.End; t = t.Add(granularity) {
		if Check(day, model.Span(t, duration), onDay, "", policy) == VerdictAccepted {
			starts = append(starts, t)
		}
	}
	return starts
}

// ToSlotInfo converts start minutes into start/end pairs for the UI.
func ToSlotInfo(starts []model.Clock, duration int) []SlotInfo {
	result := make([]SlotInfo, len(starts))
	for i, s := range starts {
		result[i] = SlotInfo{
			Start: s.String(),
			End:   s.Add(duration).String(),
		}
	}
	return result
}

// FindGaps returns the free stretches of an open day: the window minus lunch
// and every booking. Staff use it to spot room for walk-ins.
func FindGaps(day schedule.Day, bookings []Booked) []model.Interval {
	if !day.Open || day.Window == nil {
		return nil
	}

	busy := make([]model.Interval, 0, len(bookings)+1)
	if day.Lunch != nil {
		busy = append(busy, *day.Lunch)
	}
	for _, b := range bookings {
		if b.Date == day.Date {
			busy = append(busy, b.Interval)
		}
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start < busy[j].Start })

	var gaps []model.Interval
	cursor := day.Window.Start
	for _, iv := range busy {
		if iv.End <= cursor {
			continue
		}
		if iv.Start >= day.Window.End {
			break
		}
		if iv.Start > cursor {
			gaps = append(gaps, model.Interval{Start: cursor, End: iv.Start})
		}
		cursor = iv.End
	}
	if cursor < day.Window.End {
		gaps = append(gaps, model.Interval{Start: cursor, End: day.Window.End})
	}
	return gaps
}

// FormatDuration formats minutes for patient-facing text.
func FormatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	hours := minutes / 60
	mins := minutes % 60
	if mins == 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%d hr %d min", hours, mins)
}
