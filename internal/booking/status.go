package booking

import "eyeclinic/internal/model"

// StatusFSM holds the allowed visit status transitions.
type StatusFSM struct {
	transitions map[model.Status][]model.Status
}

// NewStatusFSM creates the clinic's visit workflow:
// booked -> arrived | no_show -> in_progress -> completed.
// A no-show who turns up late can still be seen.
func NewStatusFSM() *StatusFSM {
	return &StatusFSM{
		transitions: map[model.Status][]model.Status{
			model.StatusBooked:     {model.StatusArrived, model.StatusNoShow},
			model.StatusArrived:    {model.StatusInProgress},
			model.StatusNoShow:     {model.StatusInProgress},
			model.StatusInProgress: {model.StatusCompleted},
			model.StatusCompleted:  {},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *StatusFSM) CanTransition(from, to model.Status) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanReschedule reports whether an appointment in status s may still be moved
// or cancelled.
func CanReschedule(s model.Status) bool {
	return s != model.StatusCompleted
}
