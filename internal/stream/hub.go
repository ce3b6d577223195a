// Package stream provides the in-process broadcast hub behind the live
// SSE feeds. One hub instance exists per payload type (events, device
// presence); it never replays history, so consumers fetch a snapshot
// before subscribing and deduplicate the overlap.
package stream

import (
	"sync"
	"sync/atomic"
)

type Hub[T any] struct {
	subscribers map[uint64]chan T
	nextID      atomic.Uint64
	bufferSize  int
	mu          sync.RWMutex
	closed      bool
}

func NewHub[T any](bufferSize int) *Hub[T] {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Hub[T]{
		subscribers: make(map[uint64]chan T),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new subscription with an empty backlog. The
// returned channel is closed on Unsubscribe, on hub Close, or when the
// subscriber falls too far behind.
func (h *Hub[T]) Subscribe() (uint64, <-chan T) {
	id := h.nextID.Add(1)
	ch := make(chan T, h.bufferSize)

	h.mu.Lock()
	if h.closed {
		close(ch)
	} else {
		h.subscribers[id] = ch
	}
	h.mu.Unlock()

	return id, ch
}

// Unsubscribe is idempotent; safe to call after the connection is gone.
func (h *Hub[T]) Unsubscribe(id uint64) {
	h.mu.Lock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
}

// Publish delivers v to every active subscription in registration-safe
// FIFO order per subscriber. A subscriber whose buffer is full is not
// waited on: its channel is closed and it is dropped, so a stalled or
// dead connection can never block the publisher.
func (h *Hub[T]) Publish(v T) {
	var stale []uint64

	h.mu.RLock()
	for id, ch := range h.subscribers {
		select {
		case ch <- v:
		default:
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range stale {
		h.Unsubscribe(id)
	}
}

func (h *Hub[T]) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close closes every subscriber channel, letting stream handlers exit
// gracefully. Later Subscribe calls get an already-closed channel.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
