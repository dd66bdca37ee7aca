// Package authevents provides the in-process auth event bus.
package authevents

import (
	"context"
	"slices"
	"sync"

	"github.com/northwind-consulting/portal/internal/ports"
)

// LocalBus delivers events to subscribers in the same process, synchronously
// and in subscription order.
type LocalBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(ports.AuthEvent)
}

// NewLocalBus creates an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[int]func(ports.AuthEvent))}
}

var _ ports.AuthEventBus = (*LocalBus)(nil)

// Publish delivers evt to every subscriber of evt.SessionID.
func (b *LocalBus) Publish(_ context.Context, evt ports.AuthEvent) error {
	b.Dispatch(evt)
	return nil
}

// Dispatch is Publish without a context, used by transports that receive remote events.
func (b *LocalBus) Dispatch(evt ports.AuthEvent) {
	b.mu.RLock()
	set := b.subs[evt.SessionID]
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	fns := make([]func(ports.AuthEvent), 0, len(set))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, set[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(evt)
	}
}

// Subscribe registers fn for sessionID. The returned func is idempotent.
func (b *LocalBus) Subscribe(sessionID string, fn func(ports.AuthEvent)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	set, ok := b.subs[sessionID]
	if !ok {
		set = make(map[int]func(ports.AuthEvent))
		b.subs[sessionID] = set
	}
	set[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[sessionID], id)
			if len(b.subs[sessionID]) == 0 {
				delete(b.subs, sessionID)
			}
		})
	}
}

// Subscribers returns the number of live subscriptions for sessionID.
func (b *LocalBus) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}
