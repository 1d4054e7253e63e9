package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"grip/pkg/bus"
	"grip/pkg/engine"
)

const (
	DefaultCheckInterval      = 30 * time.Second
	DefaultExecTimeoutMinutes = 5

	publishTimeout = 30 * time.Second
	shutdownGrace  = 10 * time.Second
)

// Engine runs a prompt in a session. It is satisfied by *engine.Runner.
type Engine interface {
	Run(ctx context.Context, text string, sessionKey string, model string) (engine.RunResult, error)
}

// Publisher delivers job results to channels. It is satisfied by *bus.MessageBus.
type Publisher interface {
	PublishOutbound(ctx context.Context, msg bus.OutboundMessage)
}

type Options struct {
	CheckInterval      time.Duration
	ExecTimeoutMinutes int
	Logger             *slog.Logger
}

// Stats counts job executions since the service was created.
type Stats struct {
	Runs     uint64
	Failures uint64
	Timeouts uint64
}

// Service owns the job list and its store file. Engine and publisher may be
// nil when the service is only used to edit jobs.
type Service struct {
	path      string
	engine    Engine
	publisher Publisher
	log       *slog.Logger

	checkInterval  time.Duration
	timeoutMinutes int
	execTimeout    time.Duration
	now            func() time.Time

	mu   sync.Mutex
	jobs []Job

	inFlight atomic.Int64
	runs     atomic.Uint64
	failures atomic.Uint64
	timeouts atomic.Uint64
}

// NewService loads the job list stored at path.
func NewService(path string, eng Engine, publisher Publisher, opts Options) (*Service, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("cron store path is required")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.ExecTimeoutMinutes <= 0 {
		opts.ExecTimeoutMinutes = DefaultExecTimeoutMinutes
	}

	jobs, err := loadJobs(path)
	if err != nil {
		return nil, err
	}

	s := &Service{
		path:           path,
		engine:         eng,
		publisher:      publisher,
		log:            log.With("component", "cron.service"),
		checkInterval:  opts.CheckInterval,
		timeoutMinutes: opts.ExecTimeoutMinutes,
		execTimeout:    time.Duration(opts.ExecTimeoutMinutes) * time.Minute,
		now:            time.Now,
		jobs:           jobs,
	}
	s.log.Debug("Loaded cron jobs", "count", len(jobs), "path", path)

	return s, nil
}

// AddJob validates and persists a new enabled job.
func (s *Service) AddJob(name string, schedule string, prompt string, replyTo string) (*Job, error) {
	name = strings.TrimSpace(name)
	schedule = strings.TrimSpace(schedule)
	prompt = strings.TrimSpace(prompt)
	replyTo = strings.TrimSpace(replyTo)

	if name == "" {
		return nil, errors.New("job name is required")
	}
	if prompt == "" {
		return nil, errors.New("job prompt is required")
	}
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}
	if replyTo != "" {
		if _, _, err := ParseReplyTo(replyTo); err != nil {
			return nil, err
		}
	}

	job := Job{
		ID:        newJobID(),
		Name:      name,
		Schedule:  schedule,
		Prompt:    prompt,
		Enabled:   true,
		CreatedAt: s.now().UTC(),
		ReplyTo:   replyTo,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = append(s.jobs, job)
	if err := saveJobs(s.path, s.jobs); err != nil {
		s.jobs = s.jobs[:len(s.jobs)-1]
		return nil, err
	}

	s.log.Info("Cron job added", "job_id", job.ID, "name", name, "schedule", schedule)
	return &job, nil
}

// RemoveJob deletes a job. It reports false when the id is unknown.
func (s *Service) RemoveJob(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return false, nil
	}

	remaining := slices.Delete(slices.Clone(s.jobs), idx, idx+1)
	if err := saveJobs(s.path, remaining); err != nil {
		return false, err
	}
	s.jobs = remaining

	s.log.Info("Cron job removed", "job_id", id)
	return true, nil
}

func (s *Service) EnableJob(id string) (bool, error) {
	return s.setEnabled(id, true)
}

func (s *Service) DisableJob(id string) (bool, error) {
	return s.setEnabled(id, false)
}

// ListJobs returns a copy of all jobs in creation order.
func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

func (s *Service) GetJob(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return Job{}, false
	}

	return s.jobs[idx], true
}

// JobCount returns the total and enabled number of jobs.
func (s *Service) JobCount() (total int, enabled int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.Enabled {
			enabled++
		}
	}

	return len(s.jobs), enabled
}

// InFlight reports how many jobs are executing right now.
func (s *Service) InFlight() int {
	return int(s.inFlight.Load())
}

func (s *Service) Stats() Stats {
	return Stats{
		Runs:     s.runs.Load(),
		Failures: s.failures.Load(),
		Timeouts: s.timeouts.Load(),
	}
}

// Run checks for due jobs immediately and then on every check interval until
// ctx is cancelled. It returns after all started jobs have finished.
func (s *Service) Run(ctx context.Context) error {
	if s.engine == nil {
		return errors.New("cron service has no engine")
	}

	total, enabled := s.JobCount()
	s.log.Info("Cron service started", "jobs", total, "enabled", enabled, "check_interval", s.checkInterval)

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		s.log.Info("Cron service stopped")
	}()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		for _, job := range s.claimDue(s.now().UTC()) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.execute(ctx, job)
			}()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// claimDue stamps last_run on every due job, persists the stamps, and returns
// copies of the claimed jobs.
func (s *Service) claimDue(now time.Time) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Job
	for i := range s.jobs {
		job := &s.jobs[i]
		if !job.Enabled {
			continue
		}

		ok, err := Due(*job, now)
		if err != nil {
			s.log.Error("Cron expression error", "job_id", job.ID, "schedule", job.Schedule, "error", err)
			continue
		}
		if !ok {
			continue
		}

		stamp := now
		job.LastRun = &stamp
		due = append(due, *job)
	}

	if len(due) > 0 {
		if err := saveJobs(s.path, s.jobs); err != nil {
			s.log.Error("Failed to persist cron run times", "error", err)
		}
	}

	return due
}

type outcome struct {
	result engine.RunResult
	err    error
}

// execute runs one job with a hard deadline. The engine call runs in its own
// goroutine so a call that ignores cancellation cannot delay the timeout
// notice; its late result is dropped.
func (s *Service) execute(ctx context.Context, job Job) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	s.runs.Add(1)

	s.log.Info("Executing cron job", "job_id", job.ID, "name", job.Name)

	runCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		result, err := s.engine.Run(runCtx, job.Prompt, "cron:"+job.ID, "")
		done <- outcome{result: result, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
		if ctx.Err() == nil {
			s.timeouts.Add(1)
			s.log.Error("Cron job timed out", "job_id", job.ID, "timeout", s.execTimeout)
			s.publish(ctx, job, fmt.Sprintf("Cron job '%s' timed out after %d minutes.", job.Name, s.timeoutMinutes))
			return
		}
		// shutdown: give the engine a bounded chance to finish its turn
		select {
		case out = <-done:
		case <-time.After(shutdownGrace):
			s.log.Warn("Cron job abandoned at shutdown", "job_id", job.ID, "grace", shutdownGrace)
			return
		}
	}

	switch {
	case out.err == nil:
		s.log.Info("Cron job completed",
			"job_id", job.ID,
			"iterations", out.result.Iterations,
			"response_length", len(out.result.Response),
		)
		if out.result.Response != "" {
			s.publish(ctx, job, out.result.Response)
		}
	case ctx.Err() != nil:
		s.log.Warn("Cron job cancelled", "job_id", job.ID, "error", out.err)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		// the engine returned on the deadline before the select saw it
		s.timeouts.Add(1)
		s.log.Error("Cron job timed out", "job_id", job.ID, "timeout", s.execTimeout)
		s.publish(ctx, job, fmt.Sprintf("Cron job '%s' timed out after %d minutes.", job.Name, s.timeoutMinutes))
	default:
		s.failures.Add(1)
		s.log.Error("Cron job failed", "job_id", job.ID, "error", out.err)
		s.publish(ctx, job, fmt.Sprintf("Cron job '%s' failed: %v", job.Name, out.err))
	}
}

// publish routes text to the job's reply_to target. Jobs without one stay silent.
func (s *Service) publish(ctx context.Context, job Job, text string) {
	if job.ReplyTo == "" || s.publisher == nil {
		return
	}

	channel, chatID, err := ParseReplyTo(job.ReplyTo)
	if err != nil {
		s.log.Warn("Invalid reply_to for cron job", "job_id", job.ID, "reply_to", job.ReplyTo)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	s.publisher.PublishOutbound(pubCtx, bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Text:    text,
	})
	s.log.Info("Cron job result published", "job_id", job.ID, "channel", channel, "chat_id", chatID)
}

func (s *Service) setEnabled(id string, enabled bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return false, nil
	}

	previous := s.jobs[idx].Enabled
	s.jobs[idx].Enabled = enabled
	if err := saveJobs(s.path, s.jobs); err != nil {
		s.jobs[idx].Enabled = previous
		return false, err
	}

	return true, nil
}

func (s *Service) indexLocked(id string) int {
	for i, job := range s.jobs {
		if job.ID == id {
			return i
		}
	}

	return -1
}
