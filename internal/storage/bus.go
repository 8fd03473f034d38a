package storage

import (
	"sync"
)

type busEntry struct {
	event ChangeEvent
	fn    ChangeHandler
}

// ChangeBus fans change notifications out to subscribers keyed by table
type ChangeBus struct {
	subs   map[string]map[uint64]busEntry
	nextID uint64
	onIdle func(table string)
	mu     sync.RWMutex
}

// NewChangeBus creates an empty bus
func NewChangeBus() *ChangeBus {
	return &ChangeBus{
		subs: make(map[string]map[uint64]busEntry),
	}
}

// OnIdle registers fn to be called when the last subscriber of a table leaves
func (b *ChangeBus) OnIdle(fn func(table string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onIdle = fn
}

// Subscribe registers fn for changes of the given type on table. first is true
// when no other subscriber was listening to table.
func (b *ChangeBus) Subscribe(table string, event ChangeEvent, fn ChangeHandler) (sub Subscription, first bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, ok := b.subs[table]
	if !ok {
		entries = make(map[uint64]busEntry)
		b.subs[table] = entries
	}
	first = len(entries) == 0

	b.nextID++
	id := b.nextID
	entries[id] = busEntry{event: event, fn: fn}

	return &busSubscription{bus: b, table: table, id: id}, first
}

// Publish delivers change to every matching subscriber and returns how many
// handlers were called. Handlers run on the caller's goroutine, outside the
// bus lock.
func (b *ChangeBus) Publish(change Change) int {
	b.mu.RLock()
	handlers := make([]ChangeHandler, 0, len(b.subs[change.Table]))
	for _, entry := range b.subs[change.Table] {
		if entry.event.Matches(change.Type) {
			handlers = append(handlers, entry.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(change)
	}
	return len(handlers)
}

// Count returns the number of subscribers on table
func (b *ChangeBus) Count(table string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[table])
}

// Tables returns every table with at least one subscriber
func (b *ChangeBus) Tables() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tables := make([]string, 0, len(b.subs))
	for table, entries := range b.subs {
		if len(entries) > 0 {
			tables = append(tables, table)
		}
	}
	return tables
}

func (b *ChangeBus) remove(table string, id uint64) {
	b.mu.Lock()
	entries := b.subs[table]
	if _, ok := entries[id]; !ok {
		b.mu.Unlock()
		return
	}
	delete(entries, id)
	idle := len(entries) == 0
	if idle {
		delete(b.subs, table)
	}
	onIdle := b.onIdle
	b.mu.Unlock()

	if idle && onIdle != nil {
		onIdle(table)
	}
}

type busSubscription struct {
	bus   *ChangeBus
	table string
	id    uint64
	once  sync.Once
}

func (s *busSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.remove(s.table, s.id)
	})
	return nil
}
