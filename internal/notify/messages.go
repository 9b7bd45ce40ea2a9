package notify

import (
	"fmt"
	"time"
)

// DefaultClinicName signs outgoing messages.
const DefaultClinicName = "Leicester Eye Centre"

// Templates renders message bodies.
type Templates struct {
	ClinicName string
	Location   *time.Location
}

func (t Templates) clinic() string {
	if t.ClinicName == "" {
		return DefaultClinicName
	}
	return t.ClinicName
}

func (t Templates) when(msg Message) string {
	loc := t.Location
	if loc == nil {
		loc = time.Local
	}
	return msg.Appointment.StartsAt(loc).Format("Mon 2 Jan at 15:04")
}

func (t Templates) service(msg Message) string {
	if msg.Service.Label != "" {
		return msg.Service.Label
	}
	return string(msg.Appointment.Service)
}

// Render builds the SMS body for msg.
func (t Templates) Render(msg Message) string {
	switch msg.Kind {
	case KindConfirmation:
		return fmt.Sprintf("%s: your %s is booked for %s. Reply to this message if you need to change it.",
			t.clinic(), t.service(msg), t.when(msg))
	case KindReminder:
		return fmt.Sprintf("Reminder from %s: your %s is on %s. Please bring your glasses and any current prescription.",
			t.clinic(), t.service(msg), t.when(msg))
	case KindAmendment:
		if msg.Cancelled {
			return fmt.Sprintf("%s: your %s on %s has been cancelled. Call us to rebook.",
				t.clinic(), t.service(msg), t.when(msg))
		}
		return fmt.Sprintf("%s: your appointment has changed. Your %s is now on %s.",
			t.clinic(), t.service(msg), t.when(msg))
	case KindReviewRequest:
		return fmt.Sprintf("Thank you for visiting %s today. We would love to hear how your %s went.",
			t.clinic(), t.service(msg))
	default:
		return fmt.Sprintf("%s: update about your appointment on %s.", t.clinic(), t.when(msg))
	}
}

// RenderStaff builds the staff channel text for msg.
func (t Templates) RenderStaff(msg Message) string {
	a := msg.Appointment
	head := "New booking"
	switch {
	case msg.Kind == KindAmendment && msg.Cancelled:
		head = "Cancelled"
	case msg.Kind == KindAmendment:
		head = "Moved"
	}
	return fmt.Sprintf("%s: %s, %s\nPatient: %s (%s)\nSource: %s",
		head, t.service(msg), t.when(msg), a.Patient.Name, a.Patient.Phone, a.Source)
}
