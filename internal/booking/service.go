// Package booking implements availability queries and the single gateway
// through which every appointment write passes.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eyeclinic/internal/events"
	"eyeclinic/internal/metrics"
	"eyeclinic/internal/model"
	"eyeclinic/internal/notify"
	"eyeclinic/internal/schedule"
	"eyeclinic/internal/slots"

	"github.com/rs/zerolog"
)

// Enqueuer accepts fire-and-forget notifications.
type Enqueuer interface {
	Enqueue(msg notify.Message) bool
}

// Options configures a Service.
type Options struct {
	// Location is the clinic's time zone; dates and minutes are local to it.
	Location *time.Location
	// Now overrides the wall clock in tests.
	Now func() time.Time
	// ReminderLead is how long before the visit the reminder goes out.
	ReminderLead time.Duration
}

// Service answers availability queries and applies appointment writes.
type Service struct {
	store        Store
	rules        RulesSource
	locker       Locker
	notifier     Enqueuer
	cache        SlotCache
	events       Subscriber
	fsm          *StatusFSM
	loc          *time.Location
	now          func() time.Time
	reminderLead time.Duration
	logger       zerolog.Logger
}

// NewService creates a service with an in-process date locker and no
// notifications, cache or change feed; attach those with the Use* methods.
func NewService(store Store, rules RulesSource, opts Options, logger *zerolog.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReminderLead <= 0 {
		opts.ReminderLead = 24 * time.Hour
	}
	return &Service{
		store:        store,
		rules:        rules,
		locker:       NewLocalLocker(),
		fsm:          NewStatusFSM(),
		loc:          opts.Location,
		now:          opts.Now,
		reminderLead: opts.ReminderLead,
		logger:       logger.With().Str("component", "booking").Logger(),
	}
}

func (s *Service) UseLocker(l Locker) {
	s.locker = l
}

func (s *Service) UseNotifier(n Enqueuer) {
	s.notifier = n
}

func (s *Service) UseSlotCache(c SlotCache) {
	s.cache = c
}

func (s *Service) UseEvents(sub Subscriber) {
	s.events = sub
}

// Location returns the clinic's time zone.
func (s *Service) Location() *time.Location {
	return s.loc
}

func (s *Service) clock() time.Time {
	return s.now().In(s.loc)
}

// Today returns the current clinic date.
func (s *Service) Today() model.Date {
	return model.DateOf(s.clock())
}

// Services lists the bookable services.
func (s *Service) Services() []model.Service {
	return s.rules.Current().ServiceList()
}

// Day resolves the opening hours of date under the current rules.
func (s *Service) Day(date model.Date) schedule.Day {
	return schedule.ResolveDay(s.rules.Current(), date)
}

// Slots lists the start times a patient can book for kind on date right now.
// Only an unknown service or a storage failure produce an error; a closed or
// fully booked day yields an empty list.
func (s *Service) Slots(ctx context.Context, date model.Date, kind model.ServiceKind) ([]model.Clock, error) {
	started := time.Now()
	defer func() { metrics.ObserveSlotGeneration(time.Since(started).Seconds()) }()

	cfg := s.rules.Current()
	duration, ok := cfg.DurationOf(kind)
	if !ok {
		return nil, &model.BookingError{Err: model.ErrInvalidDuration, Date: date, Service: kind, Detail: "unknown service"}
	}

	policy := slots.PolicyAt(s.clock(), cfg.MinLeadMinutes)
	day := schedule.ResolveDay(cfg, date)
	if !day.Open || date.Before(policy.Today) {
		return []model.Clock{}, nil
	}

	snap, err := s.store.DaySnapshot(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load day %s: %w", date, err)
	}

	// Today's answer depends on the clock, so only future days are cached.
	cacheable := s.cache != nil && date.After(policy.Today)
	key := fmt.Sprintf("%s:%s:v%d:r%d", date, kind, cfg.Version, snap.Revision)
	if cacheable {
		if cached, ok := s.cache.GetSlots(ctx, key); ok {
			return cached, nil
		}
	}

	starts := slots.Generate(day, duration, cfg.Granularity(), slots.BookedIntervals(cfg, snap.Appointments), policy)
	if cacheable {
		s.cache.SetSlots(ctx, key, starts)
	}
	return starts, nil
}

// Get returns one appointment.
func (s *Service) Get(ctx context.Context, id string) (*model.Appointment, error) {
	return s.store.GetAppointment(ctx, id)
}

// Diary returns the staff view of one day.
func (s *Service) Diary(ctx context.Context, date model.Date) (*DayDiary, error) {
	snap, err := s.store.DaySnapshot(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load day %s: %w", date, err)
	}
	diary := buildDiary(s.rules.Current(), date, snap.Appointments)
	return &diary, nil
}

// DiaryRange returns the diaries of every day in [from, to].
func (s *Service) DiaryRange(ctx context.Context, from, to model.Date) ([]DayDiary, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: range end %s before start %s", model.ErrInvalidRequest, to, from)
	}
	appts, err := s.store.ListAppointments(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	byDate := make(map[model.Date][]model.Appointment)
	for _, a := range appts {
		byDate[a.Date] = append(byDate[a.Date], a)
	}

	cfg := s.rules.Current()
	var out []DayDiary
	for d := from; !d.After(to); d = d.AddDays(1) {
		out = append(out, buildDiary(cfg, d, byDate[d]))
	}
	return out, nil
}

// ErrNoChangeFeed is returned by WatchDay when no event source is attached.
var ErrNoChangeFeed = errors.New("change feed not configured")

// WatchDay streams the full list of date's appointments, once immediately and
// again after every change to that day, until ctx is done.
func (s *Service) WatchDay(ctx context.Context, date model.Date) (<-chan []model.Appointment, error) {
	if s.events == nil {
		return nil, ErrNoChangeFeed
	}
	signal, unsubscribe := s.events.Signal(events.TypeAppointmentsChanged, func(e events.Event) bool {
		return e.Touches(date)
	})

	out := make(chan []model.Appointment, 1)
	go func() {
		defer close(out)
		defer unsubscribe()

		send := func() bool {
			snap, err := s.store.DaySnapshot(ctx, date)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				s.logger.Error().Err(err).Str("date", date.String()).Msg("watch: load day failed")
				return true
			}
			select {
			case out <- snap.Appointments:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-signal:
				if !send() {
					return
				}
			}
		}
	}()
	return out, nil
}

// SaveReminderHandle implements notify.HandleSink.
func (s *Service) SaveReminderHandle(ctx context.Context, id string, handle notify.Handle) error {
	h := string(handle)
	_, err := s.store.MergeAppointment(ctx, id, model.AppointmentFields{ReminderHandle: &h})
	return err
}
