package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// SubscribeOutbound registers listener for every published outbound message.
// The returned func removes it and is safe to call more than once.
func (mb *MessageBus) SubscribeOutbound(listener Listener) func() {
	if listener == nil {
		return func() {}
	}

	mb.mu.Lock()
	if mb.stopped(context.Background()) {
		mb.mu.Unlock()
		return func() {}
	}
	id := mb.nextID
	mb.nextID++
	mb.listeners[id] = listener
	mb.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			mb.mu.Lock()
			delete(mb.listeners, id)
			mb.mu.Unlock()
		})
	}
}

// PublishOutbound delivers msg to all listeners concurrently and waits for them.
// A failing or panicking listener is logged and never affects the others.
func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) {
	ctx = orBackground(ctx)

	mb.mu.RLock()
	snapshot := make([]Listener, 0, len(mb.listeners))
	for _, listener := range mb.listeners {
		snapshot = append(snapshot, listener)
	}
	mb.mu.RUnlock()

	if len(snapshot) == 0 {
		busLogger().Debug("Outbound message has no listeners", "channel", msg.Channel, "chat_id", msg.ChatID)
		return
	}

	var wg sync.WaitGroup
	for _, listener := range snapshot {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := invoke(ctx, listener, msg); err != nil {
				busLogger().Error("Outbound listener failed",
					"channel", msg.Channel,
					"chat_id", msg.ChatID,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

func invoke(ctx context.Context, listener Listener, msg OutboundMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()

	return listener(ctx, msg)
}

func busLogger() *slog.Logger {
	return slog.Default().With("component", "bus")
}
