package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"eyeclinic/internal/events"
	"eyeclinic/internal/model"
)

// MemoryStore is a Store held in process memory. It backs single-node demos
// and tests; the sqlite store is used in production.
type MemoryStore struct {
	mu        sync.Mutex
	appts     map[string]model.Appointment
	revisions map[model.Date]int64
	bus       *events.EventBus
}

// NewMemoryStore creates an empty store publishing changes to bus, which may be nil.
func NewMemoryStore(bus *events.EventBus) *MemoryStore {
	return &MemoryStore{
		appts:     make(map[string]model.Appointment),
		revisions: make(map[model.Date]int64),
		bus:       bus,
	}
}

func (m *MemoryStore) GetAppointment(_ context.Context, id string) (*model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return &a, nil
}

func (m *MemoryStore) DaySnapshot(_ context.Context, date model.Date) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := &Snapshot{Date: date, Revision: m.revisions[date], Appointments: []model.Appointment{}}
	for _, a := range m.appts {
		if a.Date == date {
			snap.Appointments = append(snap.Appointments, a)
		}
	}
	sortAppointments(snap.Appointments)
	return snap, nil
}

func (m *MemoryStore) ListAppointments(_ context.Context, from, to model.Date) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Appointment{}
	for _, a := range m.appts {
		if !a.Date.Before(from) && !a.Date.After(to) {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return out, nil
}

func (m *MemoryStore) Commit(_ context.Context, c *Commit) error {
	m.mu.Lock()
	touched, err := m.commitLocked(c)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.publish(touched)
	return nil
}

func (m *MemoryStore) commitLocked(c *Commit) ([]model.Date, error) {
	for date, rev := range c.Expect {
		if m.revisions[date] != rev {
			return nil, fmt.Errorf("%w: day %s moved from revision %d to %d",
				model.ErrConcurrentModification, date, rev, m.revisions[date])
		}
	}

	touched := make(map[model.Date]bool, len(c.Expect)+2)
	for date := range c.Expect {
		touched[date] = true
	}

	now := time.Now()
	if c.Put != nil {
		put := *c.Put
		if put.Version == 0 {
			if _, exists := m.appts[put.ID]; exists {
				return nil, fmt.Errorf("%w: duplicate id %s", model.ErrConcurrentModification, put.ID)
			}
			if put.CreatedAt.IsZero() {
				put.CreatedAt = now
			}
		} else {
			stored, ok := m.appts[put.ID]
			if !ok {
				return nil, fmt.Errorf("%w: %s", model.ErrNotFound, put.ID)
			}
			if stored.Version != put.Version {
				return nil, fmt.Errorf("%w: appointment %s version %d, expected %d",
					model.ErrConcurrentModification, put.ID, stored.Version, put.Version)
			}
			touched[stored.Date] = true
		}
		put.Version++
		if put.UpdatedAt.IsZero() {
			put.UpdatedAt = now
		}
		m.appts[put.ID] = put
		touched[put.Date] = true
		*c.Put = put
	}

	if c.DeleteID != "" {
		stored, ok := m.appts[c.DeleteID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", model.ErrNotFound, c.DeleteID)
		}
		delete(m.appts, c.DeleteID)
		touched[stored.Date] = true
	}

	dates := make([]model.Date, 0, len(touched))
	for date := range touched {
		m.revisions[date]++
		dates = append(dates, date)
	}
	return dates, nil
}

func (m *MemoryStore) MergeAppointment(_ context.Context, id string, f model.AppointmentFields) (*model.Appointment, error) {
	m.mu.Lock()
	a, ok := m.appts[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if f.IfVersion != 0 && a.Version != f.IfVersion {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: appointment %s version %d, expected %d",
			model.ErrConcurrentModification, id, a.Version, f.IfVersion)
	}
	a.Merge(f)
	a.Version++
	a.UpdatedAt = time.Now()
	m.appts[id] = a
	m.mu.Unlock()

	m.publish([]model.Date{a.Date})
	return &a, nil
}

func (m *MemoryStore) publish(dates []model.Date) {
	if m.bus == nil || len(dates) == 0 {
		return
	}
	m.bus.Publish(events.Event{Type: events.TypeAppointmentsChanged, Dates: dates})
}

func sortAppointments(appts []model.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].Date != appts[j].Date {
			return appts[i].Date.Before(appts[j].Date)
		}
		if appts[i].Start != appts[j].Start {
			return appts[i].Start < appts[j].Start
		}
		return appts[i].ID < appts[j].ID
	})
}
