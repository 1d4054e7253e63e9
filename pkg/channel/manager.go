package channel

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"grip/pkg/bus"
)

// Manager owns the lifecycle of the configured channels.
type Manager struct {
	bus      *bus.MessageBus
	channels []Channel
	log      *slog.Logger

	mu      sync.RWMutex
	running []Channel
}

func NewManager(b *bus.MessageBus, log *slog.Logger, channels ...Channel) *Manager {
	if log == nil {
		log = slog.Default()
	}

	return &Manager{
		bus:      b,
		channels: channels,
		log:      log.With("component", "channel.manager"),
	}
}

// StartAll starts every channel in order. A channel that fails to start is
// logged and skipped. It returns the names of the channels now running.
func (m *Manager) StartAll(ctx context.Context) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	started := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		if err := ch.Start(ctx, m.bus); err != nil {
			m.log.Error("Failed to start channel", "channel", ch.Name(), "error", err)
			continue
		}

		m.running = append(m.running, ch)
		started = append(started, ch.Name())
		m.log.Info("Channel started", "channel", ch.Name())
	}

	return started
}

// StopAll stops running channels in reverse start order. Stop errors are
// logged and do not prevent the remaining channels from stopping.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	running := m.running
	m.running = nil
	m.mu.Unlock()

	for _, ch := range slices.Backward(running) {
		if err := ch.Stop(ctx); err != nil {
			m.log.Error("Error stopping channel", "channel", ch.Name(), "error", err)
			continue
		}
		m.log.Info("Channel stopped", "channel", ch.Name())
	}
}

// Get returns the running channel with the given name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.running {
		if ch.Name() == name {
			return ch, true
		}
	}

	return nil, false
}

// Running returns the names of running channels in start order.
func (m *Manager) Running() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.running))
	for _, ch := range m.running {
		names = append(names, ch.Name())
	}

	return names
}
