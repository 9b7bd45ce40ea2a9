package schedule

import (
	"testing"
	"time"

	"eyeclinic/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *model.ClinicConfig {
	cfg := model.DefaultClinicConfig()
	cfg.Lunch.Enabled = false
	return cfg
}

func TestResolveDay(t *testing.T) {
	monday := model.MustParseDate("2026-03-02")
	sunday := model.MustParseDate("2026-03-01")
	override := model.Interval{Start: model.MustParseClock("10:00"), End: model.MustParseClock("15:00")}

	tests := []struct {
		name       string
		mutate     func(c *model.ClinicConfig)
		date       model.Date
		wantOpen   bool
		wantReason ClosedReason
		wantWindow model.Interval
	}{
		{
			name:       "standard weekday",
			date:       monday,
			wantOpen:   true,
			wantWindow: model.Interval{Start: 540, End: 1020},
		},
		{
			name:       "weekly off",
			date:       sunday,
			wantReason: ReasonWeeklyOff,
		},
		{
			name:       "weekly off reopened",
			mutate:     func(c *model.ClinicConfig) { c.OpenDates = model.NewDateSet(sunday) },
			date:       sunday,
			wantOpen:   true,
			wantWindow: model.Interval{Start: 540, End: 1020},
		},
		{
			name:       "closed date",
			mutate:     func(c *model.ClinicConfig) { c.ClosedDates = model.NewDateSet(monday) },
			date:       monday,
			wantReason: ReasonClosedDate,
		},
		{
			name: "closed date beats open date",
			mutate: func(c *model.ClinicConfig) {
				c.ClosedDates = model.NewDateSet(sunday)
				c.OpenDates = model.NewDateSet(sunday)
			},
			date:       sunday,
			wantReason: ReasonClosedDate,
		},
		{
			name:       "override replaces standard hours",
			mutate:     func(c *model.ClinicConfig) { c.DailyOverrides[monday] = override },
			date:       monday,
			wantOpen:   true,
			wantWindow: override,
		},
		{
			name: "override does not open a weekly off day",
			mutate: func(c *model.ClinicConfig) {
				c.DailyOverrides[sunday] = override
			},
			date:       sunday,
			wantReason: ReasonWeeklyOff,
		},
		{
			name: "closed date beats override",
			mutate: func(c *model.ClinicConfig) {
				c.DailyOverrides[monday] = override
				c.ClosedDates = model.NewDateSet(monday)
			},
			date:       monday,
			wantReason: ReasonClosedDate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			day := ResolveDay(cfg, tt.date)
			assert.Equal(t, tt.wantOpen, day.Open)
			assert.Equal(t, tt.wantReason, day.Reason)
			if tt.wantOpen {
				require.NotNil(t, day.Window)
				assert.Equal(t, tt.wantWindow, *day.Window)
			} else {
				assert.Nil(t, day.Window)
				assert.Nil(t, day.Lunch)
			}
		})
	}
}

func TestResolveDayLunch(t *testing.T) {
	monday := model.MustParseDate("2026-03-02")
	cfg := model.DefaultClinicConfig()

	day := ResolveDay(cfg, monday)
	require.NotNil(t, day.Lunch)
	assert.Equal(t, model.Interval{Start: 780, End: 840}, *day.Lunch)

	cfg.Lunch.Enabled = false
	assert.Nil(t, ResolveDay(cfg, monday).Lunch)
}

func TestResolveDayIdempotent(t *testing.T) {
	cfg := model.DefaultClinicConfig()
	cfg.OpenDates = model.NewDateSet(model.MustParseDate("2026-03-01"))
	cfg.DailyOverrides[model.MustParseDate("2026-03-03")] = model.Interval{Start: 600, End: 720}

	for _, d := range ResolveRange(cfg, model.MustParseDate("2026-02-25"), model.MustParseDate("2026-03-10")) {
		again := ResolveDay(cfg, d.Date)
		assert.Equal(t, d, again)
		assert.Equal(t, d.Open, d.Window != nil, "open iff window present")
	}
}

func TestWeekdayNumbering(t *testing.T) {
	cfg := testConfig()
	cfg.WeeklyOff = []time.Weekday{time.Saturday}
	assert.False(t, ResolveDay(cfg, model.MustParseDate("2026-03-07")).Open)
	assert.True(t, ResolveDay(cfg, model.MustParseDate("2026-03-01")).Open)
}

func TestOpenMinutes(t *testing.T) {
	monday := model.MustParseDate("2026-03-02")
	cfg := model.DefaultClinicConfig()
	assert.Equal(t, 420, OpenMinutes(ResolveDay(cfg, monday)))

	cfg.DailyOverrides[monday] = model.Interval{Start: 540, End: 810}
	assert.Equal(t, 240, OpenMinutes(ResolveDay(cfg, monday)))

	assert.Equal(t, 0, OpenMinutes(ResolveDay(cfg, model.MustParseDate("2026-03-01"))))
}
