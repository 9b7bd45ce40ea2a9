package model

import (
	"errors"
	"fmt"
)

var (
	ErrClinicClosed           = errors.New("clinic closed")
	ErrOutOfHours             = errors.New("outside opening hours")
	ErrSlotUnavailable        = errors.New("slot unavailable")
	ErrInvalidDuration        = errors.New("invalid service duration")
	ErrNotFound               = errors.New("appointment not found")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrInvalidConfig          = errors.New("invalid clinic config")
	ErrInvalidRequest         = errors.New("invalid request")
)

// BookingError explains a rejected scheduling request. It unwraps to one of the
// sentinel errors above.
type BookingError struct {
	Err     error
	Date    Date
	Start   Clock
	Service ServiceKind
	Detail  string
}

func (e *BookingError) Error() string {
	msg := fmt.Sprintf("%s: %s %s", e.Err, e.Date, e.Start)
	if e.Service != "" {
		msg += " (" + string(e.Service) + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *BookingError) Unwrap() error {
	return e.Err
}
