package marketdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_FanOut(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe()
	b := bus.Subscribe()
	assert.Equal(t, 2, bus.Subscribers())

	bus.Publish(Event{Type: EventSession, Data: "authenticated"})
	assert.Equal(t, "authenticated", (<-a).Data)
	assert.Equal(t, "authenticated", (<-b).Data)

	bus.Unsubscribe(a)
	bus.Unsubscribe(a)
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, bus.Subscribers())
}

func TestBus_SlowSubscriberDropsEvents(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	for i := 0; i < bus.buffer+10; i++ {
		bus.Publish(Event{Type: EventFrame, Data: i})
	}
	assert.Len(t, ch, bus.buffer)
	assert.Equal(t, 0, (<-ch).Data)
}
