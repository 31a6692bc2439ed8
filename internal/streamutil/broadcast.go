// Package streamutil provides a single reusable subscribe/cancel
// broadcaster, used by both internal/onset and internal/follow so the
// observer pattern in cbegin-mmlfm-go's player.go Watch()/eventCh isn't
// reimplemented twice.
package streamutil

import "sync"

// Broadcaster delivers values of type T to at most one live subscriber at
// a time, matching Watch()'s "only the most recent channel receives
// events" contract. Sends never block the publisher: a full or absent
// channel silently drops the value.
type Broadcaster[T any] struct {
	mu sync.Mutex
	ch chan T
}

// NewBroadcaster returns a broadcaster with no subscriber yet.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{}
}

// Subscribe opens a new buffered channel and makes it the sole recipient
// of subsequent Publish calls, replacing any prior subscription.
func (b *Broadcaster[T]) Subscribe(buffer int) <-chan T {
	ch := make(chan T, buffer)
	b.mu.Lock()
	b.ch = ch
	b.mu.Unlock()
	return ch
}

// Cancel detaches the current subscriber, if any, without closing its
// channel (a reader that already received a reference keeps draining a
// channel that will simply stop advancing).
func (b *Broadcaster[T]) Cancel() {
	b.mu.Lock()
	b.ch = nil
	b.mu.Unlock()
}

// Publish delivers v to the current subscriber, if one exists and has
// room. It never blocks.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
	}
}
