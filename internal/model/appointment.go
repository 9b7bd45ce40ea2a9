package model

import "time"

// Status is the visit progress of an appointment. It never affects scheduling.
type Status string

const (
	StatusBooked     Status = "booked"
	StatusArrived    Status = "arrived"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusNoShow     Status = "no_show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusBooked, StatusArrived, StatusInProgress, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

// Source records who created the appointment.
type Source string

const (
	SourceOnlinePatient Source = "online_patient"
	SourceStaff         Source = "staff"
)

func (s Source) Valid() bool {
	return s == SourceOnlinePatient || s == SourceStaff
}

// Patient holds the contact and triage details captured by the booking wizard.
type Patient struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Email       string `json:"email,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Triage      string `json:"triage,omitempty"`
}

// Appointment is one booked visit.
type Appointment struct {
	ID         string      `json:"id"`
	Date       Date        `json:"date"`
	Start      Clock       `json:"start"`
	Service    ServiceKind `json:"service"`
	PatientRef string      `json:"patient_ref"`
	Patient    Patient     `json:"patient"`
	Status     Status      `json:"status"`
	Source     Source      `json:"source"`
	// DurationMinutes is the service duration at booking time. The clinic rules
	// remain authoritative; the snapshot covers services retired since.
	DurationMinutes int       `json:"duration_minutes"`
	ReminderHandle  string    `json:"reminder_handle,omitempty"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Duration resolves the appointment length against the current rules.
func (a *Appointment) Duration(cfg *ClinicConfig) int {
	if cfg != nil {
		if minutes, ok := cfg.DurationOf(a.Service); ok {
			return minutes
		}
	}
	return a.DurationMinutes
}

// Interval returns the occupied minutes [start, start+duration).
func (a *Appointment) Interval(cfg *ClinicConfig) Interval {
	return Span(a.Start, a.Duration(cfg))
}

// StartsAt returns the start instant in loc.
func (a *Appointment) StartsAt(loc *time.Location) time.Time {
	return a.Date.At(a.Start, loc)
}

// AppointmentFields is a write-merge of non-scheduling appointment data.
type AppointmentFields struct {
	Patient        *Patient
	PatientRef     *string
	Status         *Status
	ReminderHandle *string
	// IfVersion, when non-zero, makes the merge conditional on the stored version.
	IfVersion int64
}

// Merge copies the set members of f onto a. Versioning is the store's job.
func (a *Appointment) Merge(f AppointmentFields) {
	if f.Patient != nil {
		a.Patient = *f.Patient
	}
	if f.PatientRef != nil {
		a.PatientRef = *f.PatientRef
	}
	if f.Status != nil {
		a.Status = *f.Status
	}
	if f.ReminderHandle != nil {
		a.ReminderHandle = *f.ReminderHandle
	}
}
