package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ServiceKind identifies a bookable service.
type ServiceKind string

const (
	ServicePrivate     ServiceKind = "private"
	ServiceOver60      ServiceKind = "over60"
	ServiceChild       ServiceKind = "child"
	ServiceNHS         ServiceKind = "nhs"
	ServiceContactLens ServiceKind = "contact_lens"
)

// DefaultSlotGranularity is the step between candidate start times, in minutes.
const DefaultSlotGranularity = 5

// Service describes one entry of the clinic's service catalog.
type Service struct {
	Kind       ServiceKind `json:"kind"`
	Label      string      `json:"label"`
	Minutes    int         `json:"minutes"`
	PricePence int64       `json:"price_pence"`
}

// PriceLabel renders the price the way the booking page shows it.
func (s Service) PriceLabel() string {
	if s.PricePence <= 0 {
		return "Free (NHS)"
	}
	if s.PricePence%100 == 0 {
		return fmt.Sprintf("£%d", s.PricePence/100)
	}
	return fmt.Sprintf("£%d.%02d", s.PricePence/100, s.PricePence%100)
}

// Lunch is the daily break. A disabled lunch imposes no constraint.
type Lunch struct {
	Interval
	Enabled bool `json:"enabled"`
}

// DateSet is a set of calendar days, encoded as a sorted JSON array.
type DateSet map[Date]struct{}

func NewDateSet(dates ...Date) DateSet {
	s := make(DateSet, len(dates))
	for _, d := range dates {
		s[d] = struct{}{}
	}
	return s
}

func (s DateSet) Has(d Date) bool {
	_, ok := s[d]
	return ok
}

// Sorted returns the members in ascending order.
func (s DateSet) Sorted() []Date {
	out := make([]Date, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (s DateSet) Clone() DateSet {
	out := make(DateSet, len(s))
	for d := range s {
		out[d] = struct{}{}
	}
	return out
}

func (s DateSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *DateSet) UnmarshalJSON(b []byte) error {
	var dates []Date
	if err := json.Unmarshal(b, &dates); err != nil {
		return err
	}
	*s = NewDateSet(dates...)
	return nil
}

// ClinicConfig holds every rule the scheduling engine reads. A value handed out
// by the rules store is an immutable snapshot; Version increases on each change.
type ClinicConfig struct {
	Version        int64                   `json:"version"`
	Services       map[ServiceKind]Service `json:"services"`
	StandardHours  Interval                `json:"standard_hours"`
	Lunch          Lunch                   `json:"lunch"`
	WeeklyOff      []time.Weekday          `json:"weekly_off"`
	OpenDates      DateSet                 `json:"open_dates"`
	ClosedDates    DateSet                 `json:"closed_dates"`
	DailyOverrides map[Date]Interval       `json:"daily_overrides"`
	// SlotGranularity is the candidate step in minutes; zero means DefaultSlotGranularity.
	SlotGranularity int `json:"slot_granularity"`
	// MinLeadMinutes hides same-day slots starting within this many minutes of now.
	MinLeadMinutes int `json:"min_lead_minutes"`
}

// DefaultClinicConfig returns the Leicester Eye Centre's standard week.
func DefaultClinicConfig() *ClinicConfig {
	return &ClinicConfig{
		Services: map[ServiceKind]Service{
			ServicePrivate: {Kind: ServicePrivate, Label: "Eye Check Private", Minutes: 30, PricePence: 4000},
			ServiceOver60:  {Kind: ServiceOver60, Label: "Eye Check Over 60", Minutes: 30},
			ServiceChild:   {Kind: ServiceChild, Label: "Eye Check Child", Minutes: 30},
			ServiceNHS:     {Kind: ServiceNHS, Label: "Eye Check NHS", Minutes: 30},
		},
		StandardHours:   Interval{Start: 9 * 60, End: 17 * 60},
		Lunch:           Lunch{Interval: Interval{Start: 13 * 60, End: 14 * 60}, Enabled: true},
		WeeklyOff:       []time.Weekday{time.Sunday},
		OpenDates:       DateSet{},
		ClosedDates:     DateSet{},
		DailyOverrides:  map[Date]Interval{},
		SlotGranularity: DefaultSlotGranularity,
	}
}

// DurationOf returns the configured duration of a service in minutes.
func (c *ClinicConfig) DurationOf(kind ServiceKind) (int, bool) {
	svc, ok := c.Services[kind]
	if !ok || svc.Minutes <= 0 {
		return 0, false
	}
	return svc.Minutes, true
}

func (c *ClinicConfig) Granularity() int {
	if c.SlotGranularity <= 0 {
		return DefaultSlotGranularity
	}
	return c.SlotGranularity
}

func (c *ClinicConfig) IsWeeklyOff(day time.Weekday) bool {
	for _, d := range c.WeeklyOff {
		if d == day {
			return true
		}
	}
	return false
}

// ServiceList returns the catalog ordered by kind.
func (c *ClinicConfig) ServiceList() []Service {
	out := make([]Service, 0, len(c.Services))
	for _, svc := range c.Services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Validate checks the structural invariants of the rules.
func (c *ClinicConfig) Validate() error {
	if len(c.Services) == 0 {
		return fmt.Errorf("%w: no services defined", ErrInvalidConfig)
	}
	for kind, svc := range c.Services {
		if kind == "" {
			return fmt.Errorf("%w: service kind is required", ErrInvalidConfig)
		}
		if svc.Kind != "" && svc.Kind != kind {
			return fmt.Errorf("%w: service %s: kind mismatch %s", ErrInvalidConfig, kind, svc.Kind)
		}
		if svc.Minutes <= 0 {
			return fmt.Errorf("%w: service %s: duration must be positive, got %d", ErrInvalidConfig, kind, svc.Minutes)
		}
		if svc.PricePence < 0 {
			return fmt.Errorf("%w: service %s: price cannot be negative", ErrInvalidConfig, kind)
		}
	}
	if !c.StandardHours.Valid() {
		return fmt.Errorf("%w: standard_hours %s: start must be before end", ErrInvalidConfig, c.StandardHours)
	}
	if c.Lunch.Enabled && !c.Lunch.Valid() {
		return fmt.Errorf("%w: lunch %s: start must be before end", ErrInvalidConfig, c.Lunch.Interval)
	}
	for _, d := range c.WeeklyOff {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: weekly_off: invalid day %d, must be 0-6 (0=Sun)", ErrInvalidConfig, d)
		}
	}
	for date, hours := range c.DailyOverrides {
		if !hours.Valid() {
			return fmt.Errorf("%w: override %s %s: start must be before end", ErrInvalidConfig, date, hours)
		}
	}
	if c.SlotGranularity < 0 {
		return fmt.Errorf("%w: slot_granularity cannot be negative", ErrInvalidConfig)
	}
	if c.MinLeadMinutes < 0 {
		return fmt.Errorf("%w: min_lead_minutes cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// Clone returns a deep copy.
func (c *ClinicConfig) Clone() *ClinicConfig {
	out := *c
	out.Services = make(map[ServiceKind]Service, len(c.Services))
	for k, v := range c.Services {
		out.Services[k] = v
	}
	out.WeeklyOff = append([]time.Weekday(nil), c.WeeklyOff...)
	out.OpenDates = c.OpenDates.Clone()
	out.ClosedDates = c.ClosedDates.Clone()
	out.DailyOverrides = make(map[Date]Interval, len(c.DailyOverrides))
	for k, v := range c.DailyOverrides {
		out.DailyOverrides[k] = v
	}
	return &out
}
