package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.Subscribe(func(e Event) { got = append(got, "first:"+e.Subject) })
	bus.Subscribe(func(e Event) { got = append(got, "second:"+e.Subject) })

	bus.Publish(LedgerChanged, "alice")

	assert.Equal(t, []string{"first:alice", "second:alice"}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	unsubscribe := bus.Subscribe(func(Event) { calls++ })

	bus.Publish(PendingChanged, "alice")
	unsubscribe()
	unsubscribe()
	bus.Publish(PendingChanged, "alice")

	assert.Equal(t, 1, calls)
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(LedgerChanged, "alice") })
}
