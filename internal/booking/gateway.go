package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eyeclinic/internal/metrics"
	"eyeclinic/internal/model"
	"eyeclinic/internal/notify"
	"eyeclinic/internal/schedule"
	"eyeclinic/internal/slots"

	"github.com/google/uuid"
)

// CreateRequest is a new booking.
type CreateRequest struct {
	Date       model.Date
	Start      model.Clock
	Service    model.ServiceKind
	PatientRef string
	Patient    model.Patient
	Source     model.Source
}

func (r *CreateRequest) validate() error {
	if r.Date.IsZero() {
		return fmt.Errorf("%w: date is required", model.ErrInvalidRequest)
	}
	if r.Source == "" {
		r.Source = model.SourceStaff
	}
	if !r.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", model.ErrInvalidRequest, r.Source)
	}
	r.Patient.Name = strings.TrimSpace(r.Patient.Name)
	r.Patient.Phone = strings.TrimSpace(r.Patient.Phone)
	if r.Patient.Name == "" && r.PatientRef == "" {
		return fmt.Errorf("%w: patient name is required", model.ErrInvalidRequest)
	}
	if r.Source == model.SourceOnlinePatient && r.Patient.Phone == "" {
		return fmt.Errorf("%w: phone is required for online bookings", model.ErrInvalidRequest)
	}
	return nil
}

// EditRequest changes an existing appointment. Nil fields stay as they are.
type EditRequest struct {
	Date       *model.Date
	Start      *model.Clock
	Service    *model.ServiceKind
	Patient    *model.Patient
	PatientRef *string
}

func lockKey(date model.Date) string {
	return "date:" + date.String()
}

// withRetry runs fn and repeats it once if a concurrent writer invalidated the
// state it was based on.
func (s *Service) withRetry(op string, fn func() error) error {
	err := fn()
	if !errors.Is(err, model.ErrConcurrentModification) {
		return err
	}
	metrics.IncConcurrentRetry()
	s.logger.Warn().Str("op", op).Msg("concurrent modification, retrying")
	return fn()
}

func (s *Service) policyFor(source model.Source, cfg *model.ClinicConfig) slots.Policy {
	if source == model.SourceOnlinePatient {
		return slots.PolicyAt(s.clock(), cfg.MinLeadMinutes)
	}
	// Staff may back-enter walk-ins, so no cutoff applies.
	return slots.Policy{}
}

// admit runs the shared scheduling predicate and translates a rejection into
// a typed error.
func (s *Service) admit(cfg *model.ClinicConfig, date model.Date, start model.Clock, kind model.ServiceKind,
	duration int, snap *Snapshot, excludeID string, policy slots.Policy,
) error {
	day := schedule.ResolveDay(cfg, date)
	verdict := slots.Check(day, model.Span(start, duration), slots.BookedIntervals(cfg, snap.Appointments), excludeID, policy)
	if verdict == slots.VerdictAccepted {
		return nil
	}
	metrics.IncBookingRejected(string(verdict))

	be := &model.BookingError{Date: date, Start: start, Service: kind}
	switch verdict {
	case slots.VerdictClosed:
		be.Err = model.ErrClinicClosed
		be.Detail = string(day.Reason)
	case slots.VerdictOutsideWindow:
		be.Err = model.ErrOutOfHours
		be.Detail = "opening hours " + day.Window.String()
	case slots.VerdictLunch:
		be.Err = model.ErrOutOfHours
		be.Detail = "overlaps lunch " + day.Lunch.String()
	case slots.VerdictElapsed:
		be.Err = model.ErrOutOfHours
		be.Detail = "start time has passed"
	default:
		be.Err = model.ErrSlotUnavailable
	}
	return be
}

func durationOf(cfg *model.ClinicConfig, date model.Date, start model.Clock, kind model.ServiceKind) (int, error) {
	duration, ok := cfg.DurationOf(kind)
	if !ok {
		return 0, &model.BookingError{Err: model.ErrInvalidDuration, Date: date, Start: start, Service: kind, Detail: "unknown service"}
	}
	return duration, nil
}

func serviceOf(cfg *model.ClinicConfig, kind model.ServiceKind) model.Service {
	if svc, ok := cfg.Services[kind]; ok {
		return svc
	}
	return model.Service{Kind: kind, Label: string(kind)}
}

// Create books a new appointment.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Appointment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var (
		created *model.Appointment
		svc     model.Service
	)
	err := s.withRetry("create", func() error {
		cfg := s.rules.Current()
		duration, err := durationOf(cfg, req.Date, req.Start, req.Service)
		if err != nil {
			return err
		}

		unlock, err := s.locker.Lock(ctx, lockKey(req.Date))
		if err != nil {
			return fmt.Errorf("lock %s: %w", req.Date, err)
		}
		defer unlock()

		snap, err := s.store.DaySnapshot(ctx, req.Date)
		if err != nil {
			return fmt.Errorf("load day %s: %w", req.Date, err)
		}
		if err := s.admit(cfg, req.Date, req.Start, req.Service, duration, snap, "", s.policyFor(req.Source, cfg)); err != nil {
			return err
		}

		now := s.clock()
		appt := &model.Appointment{
			ID:              uuid.NewString(),
			Date:            req.Date,
			Start:           req.Start,
			Service:         req.Service,
			PatientRef:      req.PatientRef,
			Patient:         req.Patient,
			Status:          model.StatusBooked,
			Source:          req.Source,
			DurationMinutes: duration,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.store.Commit(ctx, &Commit{Expect: map[model.Date]int64{req.Date: snap.Revision}, Put: appt}); err != nil {
			return err
		}
		created = appt
		svc = serviceOf(cfg, req.Service)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncAppointmentCreated(string(created.Source))
	s.logger.Info().
		Str("appointment_id", created.ID).
		Str("date", created.Date.String()).
		Str("start", created.Start.String()).
		Str("service", string(created.Service)).
		Str("source", string(created.Source)).
		Msg("appointment created")

	s.enqueue(notify.Message{Kind: notify.KindConfirmation, Appointment: *created, Service: svc})
	s.scheduleReminder(*created, svc, "", false)
	return created, nil
}

// Move reschedules an appointment. Moving onto its own current slot succeeds.
func (s *Service) Move(ctx context.Context, id string, date model.Date, start model.Clock) (*model.Appointment, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", model.ErrInvalidRequest)
	}
	return s.reschedule(ctx, "move", id, EditRequest{Date: &date, Start: &start}, true)
}

// Edit changes an appointment. Changes to date, time or service are validated
// like a move; patient details are merged without touching the schedule.
func (s *Service) Edit(ctx context.Context, id string, req EditRequest) (*model.Appointment, error) {
	return s.reschedule(ctx, "edit", id, req, false)
}

func (s *Service) reschedule(ctx context.Context, op, id string, req EditRequest, forceCheck bool) (*model.Appointment, error) {
	var (
		before, after model.Appointment
		svc           model.Service
		timeChanged   bool
	)
	err := s.withRetry(op, func() error {
		cfg := s.rules.Current()
		existing, err := s.store.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		if !CanReschedule(existing.Status) {
			return fmt.Errorf("%w: appointment is %s", model.ErrInvalidTransition, existing.Status)
		}

		updated := applyEdit(*existing, req)
		timeChanged = updated.Date != existing.Date || updated.Start != existing.Start || updated.Service != existing.Service

		if !timeChanged && !forceCheck {
			merged, err := s.store.MergeAppointment(ctx, id, model.AppointmentFields{
				Patient:    req.Patient,
				PatientRef: req.PatientRef,
				IfVersion:  existing.Version,
			})
			if err != nil {
				return err
			}
			before, after = *existing, *merged
			return nil
		}

		duration, err := durationOf(cfg, updated.Date, updated.Start, updated.Service)
		if err != nil {
			return err
		}

		unlock, err := s.locker.Lock(ctx, lockKey(existing.Date), lockKey(updated.Date))
		if err != nil {
			return fmt.Errorf("lock %s: %w", updated.Date, err)
		}
		defer unlock()

		// Everything below runs under the date locks; the commit still checks
		// the revisions in case another process bypassed them.
		snap, err := s.store.DaySnapshot(ctx, updated.Date)
		if err != nil {
			return fmt.Errorf("load day %s: %w", updated.Date, err)
		}
		if err := s.admit(cfg, updated.Date, updated.Start, updated.Service, duration, snap, id, slots.Policy{}); err != nil {
			return err
		}

		expect := map[model.Date]int64{updated.Date: snap.Revision}
		if existing.Date != updated.Date {
			old, err := s.store.DaySnapshot(ctx, existing.Date)
			if err != nil {
				return fmt.Errorf("load day %s: %w", existing.Date, err)
			}
			expect[existing.Date] = old.Revision
		}

		updated.DurationMinutes = duration
		updated.UpdatedAt = s.clock()
		if err := s.store.Commit(ctx, &Commit{Expect: expect, Put: &updated}); err != nil {
			return err
		}
		before, after = *existing, updated
		svc = serviceOf(cfg, updated.Service)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", id).
		Str("op", op).
		Str("date", after.Date.String()).
		Str("start", after.Start.String()).
		Bool("time_changed", timeChanged).
		Msg("appointment updated")

	if timeChanged {
		metrics.IncAppointmentMoved()
		previous := notify.Handle(before.ReminderHandle)
		amendment := notify.Message{Kind: notify.KindAmendment, Appointment: after, Service: svc}
		if !s.canRemind(after) {
			// No new reminder will replace the old one, so the amendment cancels it.
			amendment.Previous = previous
			amendment.Supersedes = true
		}
		s.enqueue(amendment)
		s.scheduleReminder(after, svc, previous, true)
	}
	return &after, nil
}

func applyEdit(a model.Appointment, req EditRequest) model.Appointment {
	if req.Date != nil {
		a.Date = *req.Date
	}
	if req.Start != nil {
		a.Start = *req.Start
	}
	if req.Service != nil {
		a.Service = *req.Service
	}
	if req.Patient != nil {
		a.Patient = *req.Patient
	}
	if req.PatientRef != nil {
		a.PatientRef = *req.PatientRef
	}
	return a
}

// Cancel removes an appointment.
func (s *Service) Cancel(ctx context.Context, id string) error {
	var removed model.Appointment
	err := s.withRetry("cancel", func() error {
		existing, err := s.store.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		if !CanReschedule(existing.Status) {
			return fmt.Errorf("%w: appointment is %s", model.ErrInvalidTransition, existing.Status)
		}

		unlock, err := s.locker.Lock(ctx, lockKey(existing.Date))
		if err != nil {
			return fmt.Errorf("lock %s: %w", existing.Date, err)
		}
		defer unlock()

		if err := s.store.Commit(ctx, &Commit{DeleteID: id}); err != nil {
			return err
		}
		removed = *existing
		return nil
	})
	if err != nil {
		return err
	}

	metrics.IncAppointmentCancelled()
	s.logger.Info().Str("appointment_id", id).Str("date", removed.Date.String()).Msg("appointment cancelled")

	cfg := s.rules.Current()
	s.enqueue(notify.Message{
		Kind:        notify.KindAmendment,
		Appointment: removed,
		Service:     serviceOf(cfg, removed.Service),
		Previous:    notify.Handle(removed.ReminderHandle),
		Cancelled:   true,
		Supersedes:  true,
	})
	return nil
}

// SetStatus advances the visit workflow. It never affects availability.
func (s *Service) SetStatus(ctx context.Context, id string, to model.Status) (*model.Appointment, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidRequest, to)
	}

	var updated *model.Appointment
	err := s.withRetry("status", func() error {
		existing, err := s.store.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		if !s.fsm.CanTransition(existing.Status, to) {
			return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, existing.Status, to)
		}
		updated, err = s.store.MergeAppointment(ctx, id, model.AppointmentFields{Status: &to, IfVersion: existing.Version})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", id).Str("status", string(to)).Msg("appointment status changed")
	if to == model.StatusCompleted {
		s.enqueue(notify.Message{
			Kind:        notify.KindReviewRequest,
			Appointment: *updated,
			Service:     serviceOf(s.rules.Current(), updated.Service),
		})
	}
	return updated, nil
}

func (s *Service) enqueue(msg notify.Message) {
	if s.notifier == nil {
		return
	}
	s.notifier.Enqueue(msg)
}

func (s *Service) reminderTime(a model.Appointment) time.Time {
	return a.StartsAt(s.loc).Add(-s.reminderLead)
}

func (s *Service) canRemind(a model.Appointment) bool {
	return s.notifier != nil && notify.CanSchedule(s.reminderTime(a), s.clock())
}

// scheduleReminder queues the reminder of a. A rescheduled reminder replaces
// the outstanding one, whose stored handle is previous; the dispatcher may know
// a newer one.
func (s *Service) scheduleReminder(a model.Appointment, svc model.Service, previous notify.Handle, rescheduled bool) {
	if !s.canRemind(a) {
		return
	}
	s.enqueue(notify.Message{
		Kind:        notify.KindReminder,
		Appointment: a,
		Service:     svc,
		Previous:    previous,
		SendAt:      s.reminderTime(a),
		Supersedes:  rescheduled,
	})
}
