package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"grip/pkg/bus"
	"grip/pkg/channel"
	"grip/pkg/config"
	"grip/pkg/cron"
	"grip/pkg/engine"
	"grip/pkg/gateway"
	"grip/pkg/heartbeat"
	"grip/pkg/memory"
	"grip/pkg/metrics"
	"grip/pkg/provider"
	"grip/pkg/ratelimit"
	"grip/pkg/session"
	fantasytools "grip/pkg/tools/fantasy"
	fstools "grip/pkg/tools/fs"
	"grip/pkg/trust"
	"grip/pkg/workspace"
)

const cronStoreFileName = "jobs.json"

// stack holds the components shared by every command that runs the agent.
type stack struct {
	cfg       *config.Config
	workspace *workspace.Workspace
	bus       *bus.MessageBus
	provider  provider.Client
	runner    *engine.Runner
	consumer  *gateway.Consumer
	cron      *cron.Service
	heartbeat *heartbeat.Service
	log       *slog.Logger
}

func buildStack(cfg *config.Config, log *slog.Logger) (*stack, error) {
	ws, err := workspace.Open(cfg.Agents.Defaults.Workspace)
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewStore(ws.SessionsDir(), session.DefaultCacheSize, log)
	if err != nil {
		return nil, err
	}

	mem, err := memory.New(ws.MemoryDir())
	if err != nil {
		return nil, err
	}

	trustStore := trust.NewStore(ws.StateDir(), ws.Root(), log)
	tools := fantasytools.BuildFSTools(fstools.NewService(ws.Root(), trustStore), log)

	client, err := provider.New(cfg, tools...)
	if err != nil {
		return nil, fmt.Errorf("configure provider: %w", err)
	}

	systemPrompt, err := engine.ResolveSystemPrompt(ws.Root())
	if err != nil {
		return nil, err
	}

	defaults := cfg.Agents.Defaults
	runner, err := engine.NewRunner(client, sessions, mem, engine.Options{
		Model:              defaults.Model,
		ConsolidationModel: defaults.ConsolidationModel,
		MaxTokens:          defaults.MaxTokens,
		Temperature:        defaults.Temperature,
		MemoryWindow:       defaults.MemoryWindow,
		SystemPrompt:       systemPrompt,
		Logger:             log,
	})
	if err != nil {
		return nil, err
	}

	b := bus.NewMessageBus(bus.DefaultCapacity)

	consumer, err := gateway.NewConsumer(gateway.ConsumerDeps{
		Bus:          b,
		Engine:       runner,
		Sessions:     sessions,
		Memory:       mem,
		Trust:        trustStore,
		DefaultModel: runner.DefaultModel(),
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}

	cronSvc, err := cron.NewService(cronStorePath(ws), runner, b, cron.Options{
		CheckInterval:      time.Duration(cfg.Tools.Cron.CheckIntervalSeconds) * time.Second,
		ExecTimeoutMinutes: cfg.Tools.Cron.ExecTimeoutMinutes,
		Logger:             log,
	})
	if err != nil {
		return nil, err
	}

	var hb *heartbeat.Service
	if cfg.Heartbeat.Enabled {
		hb = heartbeat.New(ws.HeartbeatFile(), runner, cfg.Heartbeat.IntervalMinutes, log)
	}

	return &stack{
		cfg:       cfg,
		workspace: ws,
		bus:       b,
		provider:  client,
		runner:    runner,
		consumer:  consumer,
		cron:      cronSvc,
		heartbeat: hb,
		log:       log,
	}, nil
}

// service assembles the gateway around channels. A nil registry disables
// the /metrics endpoint; scheduled=false leaves cron and the heartbeat idle.
func (s *stack) service(gatewayCfg config.GatewayConfig, channels []channel.Channel, registry *prometheus.Registry, scheduled bool) (*gateway.Service, error) {
	if len(channels) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	limiter := ratelimit.New(gatewayCfg.RateLimit.RequestsPerMinute, time.Minute)

	opts := gateway.Options{
		Config:   gatewayCfg,
		Bus:      s.bus,
		Channels: channel.NewManager(s.bus, s.log, channels...),
		Consumer: s.consumer,
		Provider: s.provider,
		Limiter:  limiter,
		Registry: registry,
		Logger:   s.log,
	}
	if scheduled {
		opts.Cron = s.cron
		opts.Heartbeat = s.heartbeat
	}

	if registry != nil {
		sources := metrics.Sources{
			Bus:      s.bus,
			Limiter:  limiter,
			Consumer: s.consumer,
		}
		if opts.Cron != nil {
			sources.Cron = opts.Cron
		}
		if opts.Heartbeat != nil {
			sources.Heartbeat = opts.Heartbeat
		}
		if err := metrics.Register(registry, sources); err != nil {
			return nil, err
		}
	}

	return gateway.NewService(opts)
}

func cronStorePath(ws *workspace.Workspace) string {
	return filepath.Join(ws.CronDir(), cronStoreFileName)
}
