// Package heartbeat periodically feeds HEARTBEAT.md to the engine so the agent
// can run self-directed maintenance between conversations.
package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"grip/pkg/engine"
)

const (
	SessionKey = "heartbeat:periodic"

	DefaultIntervalMinutes = 30
	MinIntervalMinutes     = 5
	MaxIntervalMinutes     = 1440
)

type Engine interface {
	Run(ctx context.Context, text string, sessionKey string, model string) (engine.RunResult, error)
}

type Service struct {
	file     string
	engine   Engine
	interval time.Duration
	log      *slog.Logger

	beats atomic.Uint64
}

// New builds a heartbeat that reads file every intervalMinutes, clamped to
// 5..1440. Zero selects the 30 minute default.
func New(file string, eng Engine, intervalMinutes int, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		file:     file,
		engine:   eng,
		interval: time.Duration(ClampInterval(intervalMinutes)) * time.Minute,
		log:      log.With("component", "heartbeat"),
	}
}

func ClampInterval(minutes int) int {
	switch {
	case minutes <= 0:
		return DefaultIntervalMinutes
	case minutes < MinIntervalMinutes:
		return MinIntervalMinutes
	case minutes > MaxIntervalMinutes:
		return MaxIntervalMinutes
	default:
		return minutes
	}
}

func (s *Service) Interval() time.Duration {
	return s.interval
}

// Beats counts heartbeats that reached the engine.
func (s *Service) Beats() uint64 {
	return s.beats.Load()
}

// Run waits one interval before each beat and returns when ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.engine == nil {
		return errors.New("heartbeat has no engine")
	}

	s.log.Info("Heartbeat started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("Heartbeat stopped")
			return nil
		case <-ticker.C:
			s.Beat(ctx)
		}
	}
}

// Beat runs HEARTBEAT.md once. A missing or blank file is skipped. The run has
// no timeout and its result is not routed anywhere.
func (s *Service) Beat(ctx context.Context) {
	data, err := os.ReadFile(s.file)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Debug("No HEARTBEAT.md found, skipping")
		return
	}
	if err != nil {
		s.log.Warn("Failed to read HEARTBEAT.md", "path", s.file, "error", err)
		return
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		s.log.Debug("HEARTBEAT.md is empty, skipping")
		return
	}

	s.beats.Add(1)
	s.log.Info("Heartbeat triggered", "chars", len(content))

	result, err := s.engine.Run(ctx, content, SessionKey, "")
	if err != nil {
		s.log.Error("Heartbeat run failed", "error", err)
		return
	}

	s.log.Info("Heartbeat completed",
		"iterations", result.Iterations,
		"total_tokens", result.TotalTokens(),
	)
}
