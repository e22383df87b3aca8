// Package events carries the in-process history-updated signal so independent
// observers (summary views, widgets) converge after any mutation. It replaces
// an ambient broadcast center with an explicit, injectable bus.
package events

import "sync"

type HistoryUpdated struct {
	UserID string
}

type Bus struct {
	mu   sync.Mutex
	subs map[int]func(HistoryUpdated)
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(HistoryUpdated))}
}

// Subscribe registers a handler and returns a token for Unsubscribe.
// Handlers are invoked synchronously on the publishing goroutine.
func (b *Bus) Subscribe(fn func(HistoryUpdated)) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.subs[b.next] = fn
	return b.next
}

func (b *Bus) Unsubscribe(token int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, token)
}

func (b *Bus) Publish(event HistoryUpdated) {
	b.mu.Lock()
	handlers := make([]func(HistoryUpdated), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(event)
	}
}
