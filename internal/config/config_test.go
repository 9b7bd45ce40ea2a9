package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"eyeclinic/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_RELAY_URL", "http://relay.local/send")
	path := writeFile(t, dir, "config.yaml", `
clinic:
  name: "Leicester Eye Centre"
  timezone: "Europe/London"
  reminder_hours_before: 48
database:
  path: "`+filepath.Join(dir, "data", "clinic.db")+`"
sms:
  relay_url: "${TEST_RELAY_URL}"
redis:
  slot_cache_ttl_seconds: 60
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://relay.local/send", cfg.SMS.RelayURL)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, "configs/clinic.yaml", cfg.Clinic.RulesPath)
	assert.Equal(t, 48*time.Hour, cfg.ReminderLead())
	assert.Equal(t, time.Minute, cfg.SlotCacheTTL())
	assert.Equal(t, 10*time.Second, cfg.LockTTL())
	assert.Equal(t, 24*time.Hour, cfg.BackupInterval())
	assert.DirExists(t, filepath.Join(dir, "data"))

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", loc.String())
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := writeFile(t, dir, "tz.yaml", "clinic:\n  timezone: Mars/Olympus\ndatabase:\n  path: "+filepath.Join(dir, "x.db")+"\n")
	_, err = Load(bad)
	assert.ErrorContains(t, err, "clinic.timezone")
}

func TestLoadClinicConfigShipped(t *testing.T) {
	cfg, err := LoadClinicConfig(filepath.Join("..", "..", "configs", "clinic.yaml"))
	require.NoError(t, err)

	assert.Len(t, cfg.Services, 5)
	assert.Equal(t, 20, cfg.Services[model.ServiceContactLens].Minutes)
	assert.Equal(t, []time.Weekday{time.Sunday}, cfg.WeeklyOff)
	assert.True(t, cfg.Lunch.Enabled)
	assert.True(t, cfg.ClosedDates.Has(model.MustParseDate("2026-12-25")))
	assert.Equal(t, model.MustParseClock("12:00"), cfg.DailyOverrides[model.MustParseDate("2026-12-24")].End)
}

const minimalClinic = `
services:
  - kind: nhs
    minutes: 30
standard_hours:
  start: "09:00"
  end: "17:00"
`

func TestLoadClinicConfig(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"minimal", minimalClinic, ""},
		{"no services", "standard_hours: {start: \"09:00\", end: \"17:00\"}\n", "no services"},
		{"bad hours", "services: [{kind: nhs, minutes: 30}]\nstandard_hours: {start: \"17:00\", end: \"09:00\"}\n", "end must be after start"},
		{"bad clock", "services: [{kind: nhs, minutes: 30}]\nstandard_hours: {start: \"9am\", end: \"17:00\"}\n", "expected HH:MM"},
		{"duplicate service", "services: [{kind: nhs, minutes: 30}, {kind: nhs, minutes: 20}]\nstandard_hours: {start: \"09:00\", end: \"17:00\"}\n", "duplicate kind"},
		{"zero duration", "services: [{kind: nhs, minutes: 0}]\nstandard_hours: {start: \"09:00\", end: \"17:00\"}\n", "duration must be positive"},
		{"day off range", minimalClinic + "days_off: [8]\n", "must be 1-7"},
		{"lunch outside hours", minimalClinic + "lunch: {start: \"08:00\", end: \"09:30\"}\n", "within working hours"},
		{"bad closed date", minimalClinic + "closed_dates: [{date: \"25/12/2026\"}]\n", "expected YYYY-MM-DD"},
		{"override without date", minimalClinic + "daily_overrides: [{start: \"10:00\", end: \"12:00\"}]\n", "date is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "clinic.yaml", tt.body)
			cfg, err := LoadClinicConfig(path)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.False(t, cfg.Lunch.Enabled, "no lunch section means no lunch")
			assert.Empty(t, cfg.WeeklyOff)
		})
	}
}

func TestLoadClinicConfigDisabledLunch(t *testing.T) {
	path := writeFile(t, t.TempDir(), "clinic.yaml", minimalClinic+"lunch: {start: \"13:00\", end: \"14:00\", enabled: false}\ndays_off: [6, 7]\n")

	cfg, err := LoadClinicConfig(path)
	require.NoError(t, err)
	assert.False(t, cfg.Lunch.Enabled)
	assert.Equal(t, model.MustParseClock("13:00"), cfg.Lunch.Start)
	assert.Equal(t, []time.Weekday{time.Saturday, time.Sunday}, cfg.WeeklyOff)
}

func TestWatchClinic(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "clinic.yaml", minimalClinic)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		edits []RulesEdit
		errs  []error
	)
	baseline, err := WatchClinic(ctx, path, 10*time.Millisecond,
		func(e RulesEdit) {
			mu.Lock()
			edits = append(edits, e)
			mu.Unlock()
		},
		func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		})
	require.NoError(t, err)
	require.NotNil(t, baseline)
	assert.Zero(t, baseline.MinLeadMinutes)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, edits, "the file found at start is not an edit")
	mu.Unlock()

	replace(t, path, minimalClinic+"min_lead_minutes: 45\n", time.Now().Add(time.Second))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(edits) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	first := edits[0]
	mu.Unlock()
	assert.Same(t, baseline, first.Previous)
	assert.Equal(t, 45, first.Next.MinLeadMinutes)
	assert.Equal(t, []string{model.FieldMinLeadMinutes}, first.Patch().Fields())

	replace(t, path, "services: [", time.Now().Add(2*time.Second))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The next good save is diffed against the last good one.
	replace(t, path, minimalClinic+"min_lead_minutes: 45\nslot_granularity: 10\n", time.Now().Add(3*time.Second))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(edits) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{model.FieldSlotGranularity}, edits[1].Patch().Fields())
}

// replace swaps the file in one rename so the watcher never sees a partial write.
func replace(t *testing.T, path, body string, mtime time.Time) {
	t.Helper()
	tmp := writeFile(t, filepath.Dir(path), ".clinic.yaml.tmp", body)
	require.NoError(t, os.Chtimes(tmp, mtime, mtime))
	require.NoError(t, os.Rename(tmp, path))
}

func TestWatchClinicInitialError(t *testing.T) {
	_, err := WatchClinic(context.Background(), filepath.Join(t.TempDir(), "none.yaml"), time.Second, nil, nil)
	assert.Error(t, err)
}
