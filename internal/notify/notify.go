// Package notify delivers patient and staff notifications about appointments.
// Delivery is best effort: callers enqueue and move on.
package notify

import (
	"context"
	"errors"
	"time"

	"eyeclinic/internal/model"
)

// Kind is the purpose of a notification.
type Kind string

const (
	KindConfirmation  Kind = "confirmation"
	KindReminder      Kind = "reminder"
	KindAmendment     Kind = "amendment"
	KindReviewRequest Kind = "review_request"
)

// Handle identifies a scheduled message at the provider so it can be cancelled.
type Handle string

// MinScheduleAhead is the shortest lead the SMS provider accepts for a
// scheduled message.
const MinScheduleAhead = 15 * time.Minute

var ErrNoRecipient = errors.New("no recipient")

// Message is one notification about an appointment.
type Message struct {
	Kind        Kind
	Appointment model.Appointment
	Service     model.Service
	// Previous is the handle of a reminder this message supersedes.
	Previous Handle
	// SendAt schedules delivery; zero sends immediately.
	SendAt time.Time
	// Cancelled marks an amendment announcing a cancellation.
	Cancelled bool
	// Supersedes marks a message that replaces the appointment's outstanding
	// reminder. The dispatcher fills Previous with the last handle it issued.
	Supersedes bool
}

// Notifier sends a message and returns the provider handle, if any.
type Notifier interface {
	Notify(ctx context.Context, msg Message) (Handle, error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) (Handle, error)

func (f NotifierFunc) Notify(ctx context.Context, msg Message) (Handle, error) {
	return f(ctx, msg)
}

// Multi fans a message out to every notifier. The first non-empty handle wins;
// errors are joined so one channel failing does not hide the others.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) (Handle, error) {
	var (
		handle Handle
		errs   []error
	)
	for _, n := range m {
		h, err := n.Notify(ctx, msg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if handle == "" {
			handle = h
		}
	}
	return handle, errors.Join(errs...)
}

// CanSchedule reports whether a reminder at sendAt can still be booked with
// the provider at instant now.
func CanSchedule(sendAt, now time.Time) bool {
	return !sendAt.IsZero() && !sendAt.Before(now.Add(MinScheduleAhead))
}
