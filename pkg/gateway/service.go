package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"grip/pkg/bus"
	"grip/pkg/channel"
	"grip/pkg/config"
	"grip/pkg/cron"
	"grip/pkg/heartbeat"
	"grip/pkg/ratelimit"
)

const (
	defaultHealthHost = "127.0.0.1"
	defaultHealthPort = 18790

	providerCheckInterval = 30 * time.Second
	limiterCleanupEvery   = time.Minute
	stopTimeout           = 10 * time.Second
	httpShutdownTimeout   = 5 * time.Second
)

// HealthChecker is implemented by provider clients.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Options wires a gateway Service. Cron, Heartbeat, Provider and Registry are
// optional.
type Options struct {
	Config    config.GatewayConfig
	Bus       *bus.MessageBus
	Channels  *channel.Manager
	Consumer  *Consumer
	Cron      *cron.Service
	Heartbeat *heartbeat.Service
	Provider  HealthChecker
	Limiter   *ratelimit.Limiter
	Registry  *prometheus.Registry
	Logger    *slog.Logger
}

// Service runs the channels, the inbound consumer, the scheduled triggers and
// the health server as one unit.
type Service struct {
	cfg       config.GatewayConfig
	bus       *bus.MessageBus
	channels  *channel.Manager
	consumer  *Consumer
	cron      *cron.Service
	heartbeat *heartbeat.Service
	provider  HealthChecker
	limiter   *ratelimit.Limiter
	registry  *prometheus.Registry
	log       *slog.Logger

	mu               sync.RWMutex
	addr             string
	startedAt        time.Time
	providerLastOKAt time.Time
	providerLastErr  string
	ready            chan struct{}
}

type statusResponse struct {
	Status           string    `json:"status"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
	ProviderLastOKAt string    `json:"provider_last_ok_at,omitempty"`
	ProviderLastErr  string    `json:"provider_last_error,omitempty"`
	Channels         []string  `json:"channels"`
	Bus              busStatus `json:"bus"`
	Cron             *cronInfo `json:"cron,omitempty"`
	Processed        uint64    `json:"messages_processed"`
}

type busStatus struct {
	InboundPending    int `json:"inbound_pending"`
	OutboundListeners int `json:"outbound_listeners"`
}

type cronInfo struct {
	Jobs     int `json:"jobs"`
	Enabled  int `json:"enabled"`
	InFlight int `json:"in_flight"`
}

func NewService(opts Options) (*Service, error) {
	if opts.Bus == nil {
		return nil, errors.New("message bus is required")
	}
	if opts.Channels == nil {
		return nil, errors.New("channel manager is required")
	}
	if opts.Consumer == nil {
		return nil, errors.New("consumer is required")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		cfg:       opts.Config,
		bus:       opts.Bus,
		channels:  opts.Channels,
		consumer:  opts.Consumer,
		cron:      opts.Cron,
		heartbeat: opts.Heartbeat,
		provider:  opts.Provider,
		limiter:   opts.Limiter,
		registry:  opts.Registry,
		log:       log.With("component", "gateway.service"),
		ready:     make(chan struct{}),
	}, nil
}

// Addr returns the bound health server address once Run has started listening.
func (s *Service) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Ready is closed once channels and the health server are up.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Run blocks until ctx is cancelled or a component fails. Shutdown stops the
// consumer and the scheduled triggers first, then the channels in reverse
// order, then closes the bus, then shuts the health server down.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if s.provider != nil {
		if err := s.checkProviderHealth(ctx); err != nil {
			return err
		}
	}

	listener, server, err := s.listen()
	if err != nil {
		return err
	}

	if running := s.channels.StartAll(ctx); len(running) == 0 {
		_ = listener.Close()
		s.bus.Close()
		return errors.New("no channels started")
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("serve status server: %w", err)
		}
	}()

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()
	group, groupCtx := errgroup.WithContext(workCtx)

	group.Go(func() error { return s.consumer.Run(groupCtx) })
	if s.cron != nil {
		group.Go(func() error { return s.cron.Run(groupCtx) })
	}
	if s.heartbeat != nil {
		group.Go(func() error { return s.heartbeat.Run(groupCtx) })
	}
	if s.limiter != nil {
		group.Go(func() error {
			s.limiter.RunCleanup(groupCtx, limiterCleanupEvery)
			return nil
		})
	}
	if s.provider != nil {
		group.Go(func() error {
			s.watchProvider(groupCtx)
			return nil
		})
	}

	workersDone := make(chan error, 1)
	go func() { workersDone <- group.Wait() }()

	close(s.ready)
	s.log.Info("Gateway started", "channels", s.channels.Running(), "address", s.Addr())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
	case runErr = <-workersDone:
		workersDone <- runErr
	}

	s.log.Info("Shutting down gateway")
	cancelWork()
	if err := <-workersDone; err != nil && runErr == nil {
		runErr = err
	}

	stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancelStop()
	s.channels.StopAll(stopCtx)

	s.bus.Close()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("Status server shutdown failed", "error", err)
	}

	s.log.Info("Gateway shutdown complete")
	return runErr
}

func (s *Service) listen() (net.Listener, *http.Server, error) {
	host := strings.TrimSpace(s.cfg.Host)
	if host == "" {
		host = defaultHealthHost
	}
	port := s.cfg.Port
	if port < 0 {
		port = defaultHealthPort
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, nil, fmt.Errorf("listen status server: %w", err)
	}

	s.mu.Lock()
	s.addr = listener.Addr().String()
	s.mu.Unlock()

	server := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return listener, server, nil
}

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/status", s.rateLimited(http.HandlerFunc(s.handleStatus)))
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	}

	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.isReady() {
		s.respondStatus(w, http.StatusServiceUnavailable, "not_ready")
		return
	}

	s.respondStatus(w, http.StatusOK, "ready")
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if !s.isReady() {
		status = "degraded"
	}

	s.respondStatus(w, http.StatusOK, status)
}

// rateLimited applies the per-IP sliding window to next.
func (s *Service) rateLimited(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, retryAfter := s.limiter.Allow(clientIP(r))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			seconds := int(math.Ceil(retryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}
	providerLastOK := ""
	if !s.providerLastOKAt.IsZero() {
		providerLastOK = s.providerLastOKAt.Format(time.RFC3339)
	}
	providerLastErr := s.providerLastErr
	s.mu.RUnlock()

	resp := statusResponse{
		Status:           status,
		UptimeSeconds:    uptime,
		ProviderLastOKAt: providerLastOK,
		ProviderLastErr:  providerLastErr,
		Channels:         s.channels.Running(),
		Bus: busStatus{
			InboundPending:    s.bus.InboundPending(),
			OutboundListeners: s.bus.OutboundListenerCount(),
		},
		Processed: s.consumer.Processed(),
	}
	if resp.Channels == nil {
		resp.Channels = []string{}
	}
	if s.cron != nil {
		total, enabled := s.cron.JobCount()
		resp.Cron = &cronInfo{Jobs: total, Enabled: enabled, InFlight: s.cron.InFlight()}
	}

	return resp
}

func (s *Service) isReady() bool {
	if len(s.channels.Running()) == 0 {
		return false
	}
	if s.provider == nil {
		return true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return !s.providerLastOKAt.IsZero() && s.providerLastErr == ""
}

func (s *Service) watchProvider(ctx context.Context) {
	ticker := time.NewTicker(providerCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.checkProviderHealth(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("Provider health check failed", "error", err)
			}
		}
	}
}

func (s *Service) checkProviderHealth(ctx context.Context) error {
	if err := s.provider.Health(ctx); err != nil {
		s.mu.Lock()
		s.providerLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("provider health check failed: %w", err)
	}

	s.mu.Lock()
	s.providerLastErr = ""
	s.providerLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
