package config

import (
	"fmt"
	"os"
	"time"

	"eyeclinic/internal/model"

	"gopkg.in/yaml.v3"
)

// ServiceConfig is one bookable service.
type ServiceConfig struct {
	Kind       string `yaml:"kind"`
	Label      string `yaml:"label"`
	Minutes    int    `yaml:"minutes"`
	PricePence int64  `yaml:"price_pence"`
}

// HoursConfig is an opening window or override.
type HoursConfig struct {
	Date    string `yaml:"date,omitempty"` // overrides only, "2026-12-24"
	Start   string `yaml:"start"`          // "09:00"
	End     string `yaml:"end"`            // "17:00"
	Enabled *bool  `yaml:"enabled,omitempty"`
}

// DateConfig names a special day.
type DateConfig struct {
	Date string `yaml:"date"` // "2026-12-25"
	Name string `yaml:"name"` // "Christmas Day"
}

// ClinicFile is the root of clinic.yaml.
type ClinicFile struct {
	Services        []ServiceConfig `yaml:"services"`
	StandardHours   HoursConfig     `yaml:"standard_hours"`
	Lunch           *HoursConfig    `yaml:"lunch"`
	DaysOff         []int           `yaml:"days_off"` // 1=Mon, 7=Sun
	OpenDates       []DateConfig    `yaml:"open_dates"`
	ClosedDates     []DateConfig    `yaml:"closed_dates"`
	DailyOverrides  []HoursConfig   `yaml:"daily_overrides"`
	SlotGranularity int             `yaml:"slot_granularity"`
	MinLeadMinutes  int             `yaml:"min_lead_minutes"`
}

// LoadClinicConfig loads clinic.yaml and converts it to clinic rules.
func LoadClinicConfig(path string) (*model.ClinicConfig, error) {
	if path == "" {
		path = "configs/clinic.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read clinic config: %w", err)
	}

	var file ClinicFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse clinic config: %w", err)
	}

	cfg, err := file.Rules()
	if err != nil {
		return nil, fmt.Errorf("validate clinic config: %w", err)
	}
	return cfg, nil
}

// Rules converts the file to validated clinic rules.
func (f *ClinicFile) Rules() (*model.ClinicConfig, error) {
	cfg := &model.ClinicConfig{
		Services:        make(map[model.ServiceKind]model.Service, len(f.Services)),
		OpenDates:       model.DateSet{},
		ClosedDates:     model.DateSet{},
		DailyOverrides:  make(map[model.Date]model.Interval, len(f.DailyOverrides)),
		SlotGranularity: f.SlotGranularity,
		MinLeadMinutes:  f.MinLeadMinutes,
	}

	for i, s := range f.Services {
		if s.Kind == "" {
			return nil, fmt.Errorf("services[%d]: kind is required", i)
		}
		kind := model.ServiceKind(s.Kind)
		if _, dup := cfg.Services[kind]; dup {
			return nil, fmt.Errorf("services[%d]: duplicate kind '%s'", i, s.Kind)
		}
		label := s.Label
		if label == "" {
			label = s.Kind
		}
		cfg.Services[kind] = model.Service{Kind: kind, Label: label, Minutes: s.Minutes, PricePence: s.PricePence}
	}

	hours, err := parseHours(f.StandardHours, "standard_hours")
	if err != nil {
		return nil, err
	}
	cfg.StandardHours = hours

	if f.Lunch != nil {
		lunch, err := parseHours(*f.Lunch, "lunch")
		if err != nil {
			return nil, err
		}
		enabled := f.Lunch.Enabled == nil || *f.Lunch.Enabled
		if enabled && (lunch.Start < hours.Start || lunch.End > hours.End) {
			return nil, fmt.Errorf("lunch: lunch break must be within working hours")
		}
		cfg.Lunch = model.Lunch{Interval: lunch, Enabled: enabled}
	}

	for i, d := range f.DaysOff {
		if d < 1 || d > 7 {
			return nil, fmt.Errorf("days_off[%d]: invalid day %d, must be 1-7 (1=Mon, 7=Sun)", i, d)
		}
		cfg.WeeklyOff = append(cfg.WeeklyOff, time.Weekday(d%7))
	}

	for i, d := range f.OpenDates {
		date, err := parseDate(d.Date, fmt.Sprintf("open_dates[%d]", i))
		if err != nil {
			return nil, err
		}
		cfg.OpenDates[date] = struct{}{}
	}
	for i, d := range f.ClosedDates {
		date, err := parseDate(d.Date, fmt.Sprintf("closed_dates[%d]", i))
		if err != nil {
			return nil, err
		}
		cfg.ClosedDates[date] = struct{}{}
	}
	for i, o := range f.DailyOverrides {
		prefix := fmt.Sprintf("daily_overrides[%d]", i)
		date, err := parseDate(o.Date, prefix)
		if err != nil {
			return nil, err
		}
		window, err := parseHours(o, prefix)
		if err != nil {
			return nil, err
		}
		cfg.DailyOverrides[date] = window
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseHours(h HoursConfig, prefix string) (model.Interval, error) {
	if h.Start == "" {
		return model.Interval{}, fmt.Errorf("%s.start is required", prefix)
	}
	if h.End == "" {
		return model.Interval{}, fmt.Errorf("%s.end is required", prefix)
	}
	start, err := model.ParseClock(h.Start)
	if err != nil {
		return model.Interval{}, fmt.Errorf("%s.start: invalid format '%s', expected HH:MM", prefix, h.Start)
	}
	end, err := model.ParseClock(h.End)
	if err != nil {
		return model.Interval{}, fmt.Errorf("%s.end: invalid format '%s', expected HH:MM", prefix, h.End)
	}
	if end <= start {
		return model.Interval{}, fmt.Errorf("%s: end must be after start", prefix)
	}
	return model.Interval{Start: start, End: end}, nil
}

func parseDate(s, prefix string) (model.Date, error) {
	if s == "" {
		return model.Date{}, fmt.Errorf("%s: date is required", prefix)
	}
	d, err := model.ParseDate(s)
	if err != nil {
		return model.Date{}, fmt.Errorf("%s: invalid date format '%s', expected YYYY-MM-DD", prefix, s)
	}
	return d, nil
}
