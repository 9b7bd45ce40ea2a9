package model

import (
	"sort"
	"time"
)

// Field names of ClinicConfig as stored by the persistence layer.
const (
	FieldServices        = "services"
	FieldStandardHours   = "standard_hours"
	FieldLunch           = "lunch"
	FieldWeeklyOff       = "weekly_off"
	FieldOpenDates       = "open_dates"
	FieldClosedDates     = "closed_dates"
	FieldDailyOverrides  = "daily_overrides"
	FieldSlotGranularity = "slot_granularity"
	FieldMinLeadMinutes  = "min_lead_minutes"
)

// ConfigFields lists every persisted field of ClinicConfig.
var ConfigFields = []string{
	FieldServices, FieldStandardHours, FieldLunch, FieldWeeklyOff, FieldOpenDates,
	FieldClosedDates, FieldDailyOverrides, FieldSlotGranularity, FieldMinLeadMinutes,
}

// ConfigPatch is a staff edit of the clinic rules. Nil or empty members leave
// the corresponding field untouched, and collection members are merged element
// by element so that two staff members editing different dates never clobber
// each other.
type ConfigPatch struct {
	SetServices       map[ServiceKind]Service `json:"set_services,omitempty"`
	RemoveServices    []ServiceKind           `json:"remove_services,omitempty"`
	StandardHours     *Interval               `json:"standard_hours,omitempty"`
	Lunch             *Lunch                  `json:"lunch,omitempty"`
	WeeklyOff         *[]time.Weekday         `json:"weekly_off,omitempty"`
	AddOpenDates      []Date                  `json:"add_open_dates,omitempty"`
	RemoveOpenDates   []Date                  `json:"remove_open_dates,omitempty"`
	AddClosedDates    []Date                  `json:"add_closed_dates,omitempty"`
	RemoveClosedDates []Date                  `json:"remove_closed_dates,omitempty"`
	SetOverrides      map[Date]Interval       `json:"set_overrides,omitempty"`
	ClearOverrides    []Date                  `json:"clear_overrides,omitempty"`
	SlotGranularity   *int                    `json:"slot_granularity,omitempty"`
	MinLeadMinutes    *int                    `json:"min_lead_minutes,omitempty"`
}

// Fields returns the names of the ClinicConfig fields the patch touches.
func (p ConfigPatch) Fields() []string {
	var fields []string
	if len(p.SetServices) > 0 || len(p.RemoveServices) > 0 {
		fields = append(fields, FieldServices)
	}
	if p.StandardHours != nil {
		fields = append(fields, FieldStandardHours)
	}
	if p.Lunch != nil {
		fields = append(fields, FieldLunch)
	}
	if p.WeeklyOff != nil {
		fields = append(fields, FieldWeeklyOff)
	}
	if len(p.AddOpenDates) > 0 || len(p.RemoveOpenDates) > 0 {
		fields = append(fields, FieldOpenDates)
	}
	if len(p.AddClosedDates) > 0 || len(p.RemoveClosedDates) > 0 {
		fields = append(fields, FieldClosedDates)
	}
	if len(p.SetOverrides) > 0 || len(p.ClearOverrides) > 0 {
		fields = append(fields, FieldDailyOverrides)
	}
	if p.SlotGranularity != nil {
		fields = append(fields, FieldSlotGranularity)
	}
	if p.MinLeadMinutes != nil {
		fields = append(fields, FieldMinLeadMinutes)
	}
	return fields
}

func (p ConfigPatch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// ApplyTo returns a copy of cfg with the patch merged in. The result is not validated.
func (p ConfigPatch) ApplyTo(cfg *ClinicConfig) *ClinicConfig {
	out := cfg.Clone()

	for kind, svc := range p.SetServices {
		svc.Kind = kind
		out.Services[kind] = svc
	}
	for _, kind := range p.RemoveServices {
		delete(out.Services, kind)
	}
	if p.StandardHours != nil {
		out.StandardHours = *p.StandardHours
	}
	if p.Lunch != nil {
		out.Lunch = *p.Lunch
	}
	if p.WeeklyOff != nil {
		out.WeeklyOff = uniqueWeekdays(*p.WeeklyOff)
	}
	for _, d := range p.AddOpenDates {
		out.OpenDates[d] = struct{}{}
	}
	for _, d := range p.RemoveOpenDates {
		delete(out.OpenDates, d)
	}
	for _, d := range p.AddClosedDates {
		out.ClosedDates[d] = struct{}{}
	}
	for _, d := range p.RemoveClosedDates {
		delete(out.ClosedDates, d)
	}
	for d, hours := range p.SetOverrides {
		out.DailyOverrides[d] = hours
	}
	for _, d := range p.ClearOverrides {
		delete(out.DailyOverrides, d)
	}
	if p.SlotGranularity != nil {
		out.SlotGranularity = *p.SlotGranularity
	}
	if p.MinLeadMinutes != nil {
		out.MinLeadMinutes = *p.MinLeadMinutes
	}
	return out
}

func uniqueWeekdays(days []time.Weekday) []time.Weekday {
	seen := make(map[time.Weekday]bool, len(days))
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// DiffPatch returns the patch that turns prev into next, element by element.
// Applied to rules that have drifted from prev, it only touches what changed
// between the two.
func DiffPatch(prev, next *ClinicConfig) ConfigPatch {
	var p ConfigPatch

	for kind, svc := range next.Services {
		if old, ok := prev.Services[kind]; !ok || old != svc {
			if p.SetServices == nil {
				p.SetServices = make(map[ServiceKind]Service)
			}
			p.SetServices[kind] = svc
		}
	}
	for kind := range prev.Services {
		if _, ok := next.Services[kind]; !ok {
			p.RemoveServices = append(p.RemoveServices, kind)
		}
	}
	sort.Slice(p.RemoveServices, func(i, j int) bool { return p.RemoveServices[i] < p.RemoveServices[j] })

	if prev.StandardHours != next.StandardHours {
		hours := next.StandardHours
		p.StandardHours = &hours
	}
	if prev.Lunch != next.Lunch {
		lunch := next.Lunch
		p.Lunch = &lunch
	}
	if !sameWeekdays(prev.WeeklyOff, next.WeeklyOff) {
		days := append([]time.Weekday{}, next.WeeklyOff...)
		p.WeeklyOff = &days
	}

	p.AddOpenDates, p.RemoveOpenDates = diffDates(prev.OpenDates, next.OpenDates)
	p.AddClosedDates, p.RemoveClosedDates = diffDates(prev.ClosedDates, next.ClosedDates)

	for d, hours := range next.DailyOverrides {
		if old, ok := prev.DailyOverrides[d]; !ok || old != hours {
			if p.SetOverrides == nil {
				p.SetOverrides = make(map[Date]Interval)
			}
			p.SetOverrides[d] = hours
		}
	}
	for _, d := range sortedDates(prev.DailyOverrides) {
		if _, ok := next.DailyOverrides[d]; !ok {
			p.ClearOverrides = append(p.ClearOverrides, d)
		}
	}

	if prev.SlotGranularity != next.SlotGranularity {
		g := next.SlotGranularity
		p.SlotGranularity = &g
	}
	if prev.MinLeadMinutes != next.MinLeadMinutes {
		m := next.MinLeadMinutes
		p.MinLeadMinutes = &m
	}
	return p
}

func diffDates(prev, next DateSet) (added, removed []Date) {
	for _, d := range next.Sorted() {
		if !prev.Has(d) {
			added = append(added, d)
		}
	}
	for _, d := range prev.Sorted() {
		if !next.Has(d) {
			removed = append(removed, d)
		}
	}
	return added, removed
}

func sortedDates(m map[Date]Interval) []Date {
	out := make([]Date, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func sameWeekdays(a, b []time.Weekday) bool {
	var sa, sb [7]bool
	for _, d := range a {
		if d >= time.Sunday && d <= time.Saturday {
			sa[d] = true
		}
	}
	for _, d := range b {
		if d >= time.Sunday && d <= time.Saturday {
			sb[d] = true
		}
	}
	return sa == sb
}
