package notify

import (
	"context"
	"sync"
)

// Bus fans events out to in-process subscribers keyed by asset id.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe returns a channel receiving events for assetID and a function
// that unsubscribes and closes it.
func (b *Bus) Subscribe(assetID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 4)
	b.subs[assetID] = append(b.subs[assetID], ch)

	var once sync.Once
	return ch, func() { once.Do(func() { b.unsubscribe(assetID, ch) }) }
}

func (b *Bus) unsubscribe(assetID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[assetID]
	for i, sub := range subs {
		if sub == ch {
			b.subs[assetID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(b.subs[assetID]) == 0 {
		delete(b.subs, assetID)
	}
}

// Notify implements Notifier. Delivery never blocks; a full subscriber misses
// the event.
func (b *Bus) Notify(_ context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[ev.AssetID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}
