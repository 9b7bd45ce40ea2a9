package events

import (
	"testing"

	"eyeclinic/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestEventBusPublish(t *testing.T) {
	bus := NewEventBus()
	var got []Event
	unsubscribe := bus.Subscribe(TypeAppointmentsChanged, func(e Event) { got = append(got, e) })

	bus.Publish(Event{Type: TypeAppointmentsChanged, Dates: []model.Date{model.MustParseDate("2026-03-02")}})
	bus.Publish(Event{Type: TypeConfigChanged, Version: 2})

	assert.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())

	unsubscribe()
	bus.Publish(Event{Type: TypeAppointmentsChanged})
	assert.Len(t, got, 1)
}

func TestEventBusSignalCoalesces(t *testing.T) {
	bus := NewEventBus()
	monday := model.MustParseDate("2026-03-02")
	ch, unsubscribe := bus.Signal(TypeAppointmentsChanged, func(e Event) bool { return e.Touches(monday) })
	defer unsubscribe()

	bus.Publish(Event{Type: TypeAppointmentsChanged, Dates: []model.Date{monday.AddDays(1)}})
	assert.Len(t, ch, 0)

	for i := 0; i < 3; i++ {
		bus.Publish(Event{Type: TypeAppointmentsChanged, Dates: []model.Date{monday}})
	}
	assert.Len(t, ch, 1)
	<-ch
	assert.Len(t, ch, 0)
}
