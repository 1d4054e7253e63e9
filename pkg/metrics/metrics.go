// Package metrics exposes gateway internals as Prometheus collectors. Every
// value is read from its owner at scrape time.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"grip/pkg/cron"
)

const namespace = "grip"

type BusSource interface {
	InboundPending() int
	OutboundListenerCount() int
}

type CronSource interface {
	JobCount() (total int, enabled int)
	InFlight() int
	Stats() cron.Stats
}

type LimiterSource interface {
	Keys() int
}

type ConsumerSource interface {
	Processed() uint64
	Failed() uint64
}

type HeartbeatSource interface {
	Beats() uint64
}

// Sources lists the components to export. Nil fields are skipped.
type Sources struct {
	Bus       BusSource
	Cron      CronSource
	Limiter   LimiterSource
	Consumer  ConsumerSource
	Heartbeat HeartbeatSource
}

// Register adds collectors for every non-nil source to reg.
func Register(reg prometheus.Registerer, src Sources) error {
	if reg == nil {
		return errors.New("metrics registerer is required")
	}

	var collectors []prometheus.Collector

	if src.Bus != nil {
		collectors = append(collectors,
			gauge("bus", "inbound_pending", "Messages waiting in the inbound queue.", func() float64 {
				return float64(src.Bus.InboundPending())
			}),
			gauge("bus", "outbound_listeners", "Subscribed outbound listeners.", func() float64 {
				return float64(src.Bus.OutboundListenerCount())
			}),
		)
	}

	if src.Cron != nil {
		collectors = append(collectors,
			gauge("cron", "jobs", "Persisted cron jobs.", func() float64 {
				total, _ := src.Cron.JobCount()
				return float64(total)
			}),
			gauge("cron", "jobs_enabled", "Enabled cron jobs.", func() float64 {
				_, enabled := src.Cron.JobCount()
				return float64(enabled)
			}),
			gauge("cron", "jobs_in_flight", "Cron jobs executing right now.", func() float64 {
				return float64(src.Cron.InFlight())
			}),
			counter("cron", "runs_total", "Cron job executions started.", func() float64 {
				return float64(src.Cron.Stats().Runs)
			}),
			counter("cron", "failures_total", "Cron job executions that failed.", func() float64 {
				return float64(src.Cron.Stats().Failures)
			}),
			counter("cron", "timeouts_total", "Cron job executions that timed out.", func() float64 {
				return float64(src.Cron.Stats().Timeouts)
			}),
		)
	}

	if src.Limiter != nil {
		collectors = append(collectors,
			gauge("ratelimit", "tracked_keys", "Clients with requests inside the current window.", func() float64 {
				return float64(src.Limiter.Keys())
			}),
		)
	}

	if src.Consumer != nil {
		collectors = append(collectors,
			counter("consumer", "messages_total", "Inbound messages processed.", func() float64 {
				return float64(src.Consumer.Processed())
			}),
			counter("consumer", "failures_total", "Inbound messages whose processing failed.", func() float64 {
				return float64(src.Consumer.Failed())
			}),
		)
	}

	if src.Heartbeat != nil {
		collectors = append(collectors,
			counter("heartbeat", "beats_total", "Heartbeats sent to the engine.", func() float64 {
				return float64(src.Heartbeat.Beats())
			}),
		)
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return fmt.Errorf("register collector: %w", err)
		}
	}

	return nil
}

func gauge(subsystem string, name string, help string, fn func() float64) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}

func counter(subsystem string, name string, help string, fn func() float64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}
