package events

import (
	"sync"
	"time"
)

type Kind string

const (
	LedgerChanged        Kind = "ledger_changed"
	PendingChanged       Kind = "pending_changed"
	NotificationsChanged Kind = "notifications_changed"
)

// Event tells observers that a subject's ledger, pending set or notification
// snapshot changed.
// Observers re-read the store; the event carries no state.
type Event struct {
	Kind    Kind      `json:"kind"`
	Subject string    `json:"subject"`
	At      time.Time `json:"at"`
}

// Bus fans events out to subscribers synchronously, in subscription order.
// A nil *Bus is valid and drops everything.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
	order  []int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *Bus) Publish(kind Kind, subject string) {
	if b == nil {
		return
	}
	e := Event{Kind: kind, Subject: subject, At: time.Now().UTC()}

	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}
