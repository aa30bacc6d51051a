package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBusDispatchesToSubscribersInOrder(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var order []int
	bus.Subscribe(BVCredited, func(event *Event) { order = append(order, 1) })
	bus.Subscribe(BVCredited, func(event *Event) { order = append(order, 2) })
	bus.Subscribe(PairPaid, func(event *Event) { order = append(order, 99) })

	NewManager(bus, zerolog.Nop()).EmitTyped("test", &BVCreditedData{UserID: "u1", Amount: 35})

	assert.Equal(t, []int{1, 2}, order)
}

func TestBusRecoversPanickingHandler(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var reached bool
	bus.Subscribe(PairPaid, func(event *Event) { panic("boom") })
	bus.Subscribe(PairPaid, func(event *Event) { reached = true })

	manager := NewManager(bus, zerolog.Nop())
	assert.NotPanics(t, func() {
		manager.EmitTyped("test", &PairPaidData{UserID: "u1", Amount: 10})
	})
	assert.True(t, reached)
}

func TestEventCarriesTypedData(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got *Event
	bus.Subscribe(SessionCompleted, func(event *Event) { got = event })

	NewManager(bus, zerolog.Nop()).EmitTyped("binary", &SessionCompletedData{
		SessionRunID: "run1",
		DateKey:      "2026-01-05",
		SessionIndex: 3,
	})

	if assert.NotNil(t, got) {
		assert.Equal(t, SessionCompleted, got.Type)
		assert.Equal(t, "binary", got.Module)
		data, ok := got.Data.(*SessionCompletedData)
		if assert.True(t, ok) {
			assert.Equal(t, 3, data.SessionIndex)
		}
	}
}
