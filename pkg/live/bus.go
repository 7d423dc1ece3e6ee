package live

import "sync"

// Handler receives events of the kind it subscribed to.
type Handler func(Event)

// Subscription identifies one registered handler.
type Subscription struct {
	kind EventKind
	id   uint64
}

// Bus is a typed publish/subscribe registry. Publish calls every current
// subscriber of the event's kind synchronously, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[EventKind][]busEntry
}

type busEntry struct {
	id uint64
	fn Handler
}

func NewBus() *Bus {
	return &Bus{subs: make(map[EventKind][]busEntry)}
}

// Subscribe registers fn for kind.
func (b *Bus) Subscribe(kind EventKind, fn Handler) Subscription {
	if fn == nil {
		return Subscription{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[kind] = append(b.subs[kind], busEntry{id: b.nextID, fn: fn})
	return Subscription{kind: kind, id: b.nextID}
}

// Unsubscribe removes a handler. Unknown subscriptions are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	if sub.id == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.subs[sub.kind]
	for i, e := range entries {
		if e.id != sub.id {
			continue
		}
		next := make([]busEntry, 0, len(entries)-1)
		next = append(next, entries[:i]...)
		next = append(next, entries[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, sub.kind)
		} else {
			b.subs[sub.kind] = next
		}
		return
	}
}

// Publish delivers ev. Handlers may subscribe or unsubscribe from inside a
// callback; the change takes effect from the next Publish.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}
	b.mu.RLock()
	entries := b.subs[ev.Kind()]
	b.mu.RUnlock()
	for _, e := range entries {
		e.fn(ev)
	}
}

// Count returns the number of handlers registered for kind.
func (b *Bus) Count(kind EventKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}
