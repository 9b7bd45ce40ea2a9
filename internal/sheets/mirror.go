package sheets

import (
	"context"
	"sort"
	"sync"

	"eyeclinic/internal/booking"
	"eyeclinic/internal/events"
	"eyeclinic/internal/export"
	"eyeclinic/internal/model"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DiarySource loads the staff view of a day.
type DiarySource interface {
	Diary(ctx context.Context, date model.Date) (*booking.DayDiary, error)
}

// Mirror rewrites a day's tab whenever that day's appointments change.
type Mirror struct {
	client  Client
	diary   DiarySource
	rules   booking.RulesSource
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu      sync.Mutex
	pending map[model.Date]struct{}
	wake    chan struct{}
}

// NewMirror creates a mirror. The Sheets API allows about one write request
// per second per user, so syncs are throttled to that.
func NewMirror(client Client, diary DiarySource, rules booking.RulesSource, logger *zerolog.Logger) *Mirror {
	return &Mirror{
		client:  client,
		diary:   diary,
		rules:   rules,
		limiter: rate.NewLimiter(rate.Limit(1), 5),
		logger:  logger.With().Str("component", "sheets").Logger(),
		pending: make(map[model.Date]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Start subscribes to appointment changes and syncs in the background until
// ctx is done.
func (m *Mirror) Start(ctx context.Context, bus *events.EventBus) {
	unsubscribe := bus.Subscribe(events.TypeAppointmentsChanged, func(e events.Event) {
		m.mark(e.Dates...)
	})
	go func() {
		defer unsubscribe()
		m.run(ctx)
	}()
}

func (m *Mirror) mark(dates ...model.Date) {
	m.mu.Lock()
	for _, d := range dates {
		m.pending[d] = struct{}{}
	}
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Mirror) drain() []model.Date {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Date, 0, len(m.pending))
	for d := range m.pending {
		out = append(out, d)
	}
	m.pending = make(map[model.Date]struct{})
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (m *Mirror) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}
		for _, d := range m.drain() {
			if err := m.limiter.Wait(ctx); err != nil {
				return
			}
			if err := m.Sync(ctx, d); err != nil {
				m.logger.Error().Err(err).Str("date", d.String()).Msg("sheet sync failed")
			}
		}
	}
}

// Sync rewrites the tab of one day.
func (m *Mirror) Sync(ctx context.Context, date model.Date) error {
	d, err := m.diary.Diary(ctx, date)
	if err != nil {
		return err
	}
	title := date.String()
	if err := m.client.EnsureSheet(ctx, title); err != nil {
		return err
	}
	if err := m.client.ReplaceValues(ctx, title, DiaryRows(m.rules.Current(), d)); err != nil {
		return err
	}
	m.logger.Debug().Str("date", title).Int("appointments", len(d.Appointments)).Msg("sheet synced")
	return nil
}

// DiaryRows lays a day out the same way the xlsx export does.
func DiaryRows(cfg *model.ClinicConfig, d *booking.DayDiary) [][]interface{} {
	header := make([]interface{}, len(export.Columns))
	for i, c := range export.Columns {
		header[i] = c
	}
	rows := [][]interface{}{header}
	if !d.Day.Open {
		return append(rows, []interface{}{"Closed", string(d.Day.Reason)})
	}
	for _, a := range d.Appointments {
		rows = append(rows, export.AppointmentRow(cfg, a))
	}
	return append(rows, export.SummaryRow(d.Summary))
}
