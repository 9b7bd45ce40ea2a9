package booking

import (
	"context"

	"eyeclinic/internal/events"
	"eyeclinic/internal/model"
)

// Snapshot is the state of one day's diary at a revision.
type Snapshot struct {
	Date         model.Date
	Appointments []model.Appointment
	// Revision increases on every committed change to the day.
	Revision int64
}

// Commit is a conditional write. It succeeds only if every day in Expect is
// still at the given revision, and bumps the revision of every day it touches.
type Commit struct {
	Expect map[model.Date]int64
	// Put inserts an appointment (Version 0) or replaces the stored row whose
	// version equals Put.Version. On success Put carries the new version.
	Put *model.Appointment
	// DeleteID removes an appointment.
	DeleteID string
}

// Store is the persistence boundary of the booking engine.
type Store interface {
	GetAppointment(ctx context.Context, id string) (*model.Appointment, error)
	DaySnapshot(ctx context.Context, date model.Date) (*Snapshot, error)
	ListAppointments(ctx context.Context, from, to model.Date) ([]model.Appointment, error)
	// Commit returns model.ErrConcurrentModification when an expectation
	// fails and model.ErrNotFound when the target row is gone.
	Commit(ctx context.Context, c *Commit) error
	// MergeAppointment writes non-scheduling fields without touching the
	// day revision.
	MergeAppointment(ctx context.Context, id string, fields model.AppointmentFields) (*model.Appointment, error)
}

// RulesSource hands out the current clinic rules snapshot.
type RulesSource interface {
	Current() *model.ClinicConfig
}

// Subscriber delivers change notifications.
type Subscriber interface {
	Signal(eventType string, accept func(events.Event) bool) (<-chan struct{}, func())
}

// SlotCache memoises slot listings. Keys embed the config version and day
// revision, so entries never need explicit invalidation.
type SlotCache interface {
	GetSlots(ctx context.Context, key string) ([]model.Clock, bool)
	SetSlots(ctx context.Context, key string, starts []model.Clock)
}
