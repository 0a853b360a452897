package marketdata

import (
	"sync"
)

const (
	EventFrame   = "frame"
	EventSession = "session"
)

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Bus fans events out to websocket clients. A subscriber that falls behind
// loses events rather than stalling the poller.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	buffer int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{}), buffer: 16}
}

func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.RUnlock()
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
