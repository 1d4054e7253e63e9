// Package bus decouples chat adapters from the agent: a bounded FIFO of
// inbound messages and a fan-out of outbound ones.
package bus

import (
	"context"
	"sync"
)

// DefaultCapacity bounds the inbound queue. A full queue blocks producers.
const DefaultCapacity = 256

type MessageBus struct {
	queue chan InboundMessage

	mu        sync.RWMutex
	listeners map[uint64]Listener
	nextID    uint64

	closed    chan struct{}
	closeOnce sync.Once
}

func NewMessageBus(capacity int) *MessageBus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &MessageBus{
		queue:     make(chan InboundMessage, capacity),
		listeners: make(map[uint64]Listener),
		closed:    make(chan struct{}),
	}
}

// PushInbound enqueues msg, blocking while the queue is full. It reports false
// when ctx is cancelled or the bus is closed before the message was accepted.
func (mb *MessageBus) PushInbound(ctx context.Context, msg InboundMessage) bool {
	ctx = orBackground(ctx)
	// a closed bus must refuse even when the queue has room
	if mb.stopped(ctx) {
		return false
	}

	select {
	case mb.queue <- msg:
		return true
	case <-ctx.Done():
	case <-mb.closed:
	}
	return false
}

// PopInbound blocks until the next message is available, in FIFO order.
func (mb *MessageBus) PopInbound(ctx context.Context) (InboundMessage, bool) {
	ctx = orBackground(ctx)

	select {
	case msg := <-mb.queue:
		return msg, true
	case <-ctx.Done():
	case <-mb.closed:
	}
	return InboundMessage{}, false
}

func (mb *MessageBus) InboundPending() int {
	return len(mb.queue)
}

func (mb *MessageBus) OutboundListenerCount() int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.listeners)
}

// Closed returns a channel that is closed once the bus shuts down.
func (mb *MessageBus) Closed() <-chan struct{} {
	return mb.closed
}

// Close wakes every blocked producer and consumer and drops all listeners.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		close(mb.closed)
		clear(mb.listeners)
		mb.mu.Unlock()
	})
}

func (mb *MessageBus) stopped(ctx context.Context) bool {
	select {
	case <-mb.closed:
		return true
	default:
		return ctx.Err() != nil
	}
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
