package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the polling engine.
const (
	TypeCycleStarted    = "poller.cycle_started"
	TypeCycleFinished   = "poller.cycle_finished"
	TypeCycleSkipped    = "poller.cycle_skipped"
	TypeGroupFailed     = "poller.group_failed"
	TypeDispatched      = "notifier.dispatched"
	TypeDeliveryFailed  = "notifier.delivery_failed"
	TypeDeduped         = "dedup.suppressed"
	TypeDeactivated     = "subscription.deactivated"
	TypeWindowsExpired  = "subscription.windows_expired"
	TypeCatalogRefresh  = "catalog.refreshed"
	TypeScheduleRun     = "scheduler.run"
	TypeScheduleSkipped = "scheduler.skipped"
)

// Event is a small in-memory signal used to decouple components.
//
// Publish never blocks. Subscribers get buffered channels and a slow
// subscriber drops events instead of stalling publishers.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Emit publishes on bus when it is non-nil.
func Emit(bus Bus, typ string, data any) {
	if bus == nil {
		return
	}
	bus.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Holding the read lock keeps unsubscribe from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
