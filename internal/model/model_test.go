package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"identical", Span(600, 30), Span(600, 30), true},
		{"partial", Span(600, 30), Span(620, 30), true},
		{"contained", Span(600, 60), Span(615, 10), true},
		{"touching end", Span(600, 30), Span(630, 30), false},
		{"touching start", Span(630, 30), Span(600, 30), false},
		{"disjoint", Span(540, 20), Span(600, 30), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a))
		})
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:05")
	require.NoError(t, err)
	assert.Equal(t, Clock(545), c)
	assert.Equal(t, "09:05", c.String())

	end, err := ParseClock("24:00")
	require.NoError(t, err)
	assert.Equal(t, Clock(MinutesPerDay), end)

	for _, bad := range []string{"", "9", "25:00", "10:60", "ab:cd", "24:30"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestDate(t *testing.T) {
	d, err := ParseDate("2026-01-25")
	require.NoError(t, err)
	assert.Equal(t, time.Sunday, d.Weekday())
	assert.Equal(t, "2026-02-01", d.AddDays(7).String())
	assert.True(t, d.Before(d.AddDays(1)))

	_, err = ParseDate("25-01-2026")
	assert.Error(t, err)

	loc := time.FixedZone("BST", 3600)
	assert.Equal(t, time.Date(2026, 1, 25, 9, 30, 0, 0, loc), d.At(MustParseClock("09:30"), loc))
}

func TestDateSetJSON(t *testing.T) {
	s := NewDateSet(MustParseDate("2026-12-26"), MustParseDate("2026-12-25"))
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["2026-12-25","2026-12-26"]`, string(b))

	var back DateSet
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, back.Has(MustParseDate("2026-12-25")))
	assert.Len(t, back, 2)
}

func TestClinicConfigValidate(t *testing.T) {
	require.NoError(t, DefaultClinicConfig().Validate())

	tests := []struct {
		name   string
		mutate func(c *ClinicConfig)
	}{
		{"no services", func(c *ClinicConfig) { c.Services = nil }},
		{"zero duration", func(c *ClinicConfig) {
			c.Services[ServiceNHS] = Service{Kind: ServiceNHS, Minutes: 0}
		}},
		{"inverted hours", func(c *ClinicConfig) { c.StandardHours = Interval{Start: 600, End: 540} }},
		{"inverted lunch", func(c *ClinicConfig) { c.Lunch.Interval = Interval{Start: 840, End: 780} }},
		{"bad weekday", func(c *ClinicConfig) { c.WeeklyOff = []time.Weekday{7} }},
		{"bad override", func(c *ClinicConfig) {
			c.DailyOverrides[MustParseDate("2026-03-02")] = Interval{Start: 600, End: 600}
		}},
		{"negative lead", func(c *ClinicConfig) { c.MinLeadMinutes = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultClinicConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}

	t.Run("disabled lunch is not checked", func(t *testing.T) {
		cfg := DefaultClinicConfig()
		cfg.Lunch = Lunch{Interval: Interval{Start: 840, End: 780}, Enabled: false}
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfigPatchApplyTo(t *testing.T) {
	base := DefaultClinicConfig()
	xmas := MustParseDate("2026-12-25")
	sunday := MustParseDate("2026-12-20")
	hours := Interval{Start: 600, End: 900}
	granularity := 10

	patch := ConfigPatch{
		SetServices:     map[ServiceKind]Service{ServiceContactLens: {Label: "Contact Lens", Minutes: 20}},
		RemoveServices:  []ServiceKind{ServiceChild},
		AddClosedDates:  []Date{xmas},
		AddOpenDates:    []Date{sunday},
		SetOverrides:    map[Date]Interval{sunday: hours},
		SlotGranularity: &granularity,
	}

	out := patch.ApplyTo(base)

	assert.Equal(t, ServiceContactLens, out.Services[ServiceContactLens].Kind)
	_, hasChild := out.Services[ServiceChild]
	assert.False(t, hasChild)
	assert.True(t, out.ClosedDates.Has(xmas))
	assert.True(t, out.OpenDates.Has(sunday))
	assert.Equal(t, hours, out.DailyOverrides[sunday])
	assert.Equal(t, 10, out.Granularity())

	// base is untouched
	_, hasChild = base.Services[ServiceChild]
	assert.True(t, hasChild)
	assert.False(t, base.ClosedDates.Has(xmas))

	assert.ElementsMatch(t,
		[]string{FieldServices, FieldClosedDates, FieldOpenDates, FieldDailyOverrides, FieldSlotGranularity},
		patch.Fields())
	assert.True(t, ConfigPatch{}.IsEmpty())
}

func TestDiffPatch(t *testing.T) {
	xmas := MustParseDate("2026-12-25")
	boxing := MustParseDate("2026-12-26")
	eve := MustParseDate("2026-12-24")

	prev := DefaultClinicConfig()
	prev.ClosedDates = NewDateSet(xmas)
	prev.DailyOverrides[eve] = Span(9*60, 180)

	next := prev.Clone()
	next.ClosedDates = NewDateSet(boxing)
	delete(next.DailyOverrides, eve)
	next.MinLeadMinutes = 60
	next.WeeklyOff = []time.Weekday{time.Sunday, time.Sunday}
	delete(next.Services, ServiceChild)
	nhs := next.Services[ServiceNHS]
	nhs.Minutes = 20
	next.Services[ServiceNHS] = nhs

	p := DiffPatch(prev, next)
	assert.Equal(t, []Date{boxing}, p.AddClosedDates)
	assert.Equal(t, []Date{xmas}, p.RemoveClosedDates)
	assert.Equal(t, []Date{eve}, p.ClearOverrides)
	assert.Equal(t, []ServiceKind{ServiceChild}, p.RemoveServices)
	assert.Equal(t, map[ServiceKind]Service{ServiceNHS: nhs}, p.SetServices)
	require.NotNil(t, p.MinLeadMinutes)
	assert.Equal(t, 60, *p.MinLeadMinutes)
	assert.Nil(t, p.WeeklyOff, "same set of days")
	assert.Nil(t, p.Lunch)
	assert.Nil(t, p.StandardHours)
	assert.Equal(t,
		[]string{FieldServices, FieldClosedDates, FieldDailyOverrides, FieldMinLeadMinutes},
		p.Fields())

	assert.True(t, DiffPatch(prev, prev.Clone()).IsEmpty())

	// Rules that drifted from prev keep their own edits.
	drifted := prev.Clone()
	drifted.ClosedDates[MustParseDate("2026-11-02")] = struct{}{}
	got := p.ApplyTo(drifted)
	assert.True(t, got.ClosedDates.Has(MustParseDate("2026-11-02")))
	assert.True(t, got.ClosedDates.Has(boxing))
	assert.False(t, got.ClosedDates.Has(xmas))
}

func TestAppointmentDuration(t *testing.T) {
	cfg := DefaultClinicConfig()
	appt := Appointment{Service: ServicePrivate, Start: 600, DurationMinutes: 45}
	assert.Equal(t, Span(600, 30), appt.Interval(cfg))

	retired := Appointment{Service: "dilation", Start: 600, DurationMinutes: 45}
	assert.Equal(t, Span(600, 45), retired.Interval(cfg))
}

func TestServicePriceLabel(t *testing.T) {
	assert.Equal(t, "£40", Service{PricePence: 4000}.PriceLabel())
	assert.Equal(t, "£12.50", Service{PricePence: 1250}.PriceLabel())
	assert.Equal(t, "Free (NHS)", Service{}.PriceLabel())
}

func TestBookingErrorUnwraps(t *testing.T) {
	err := &BookingError{Err: ErrSlotUnavailable, Date: MustParseDate("2026-03-02"), Start: 600}
	assert.True(t, errors.Is(err, ErrSlotUnavailable))
	assert.Contains(t, err.Error(), "2026-03-02 10:00")
}
