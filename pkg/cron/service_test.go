package cron

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grip/pkg/bus"
	"grip/pkg/engine"
)

type fakeEngine struct {
	mu    sync.Mutex
	calls []string
	run   func(ctx context.Context, text string) (engine.RunResult, error)
}

func (f *fakeEngine) Run(ctx context.Context, text string, sessionKey string, _ string) (engine.RunResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sessionKey)
	f.mu.Unlock()

	return f.run(ctx, text)
}

func (f *fakeEngine) sessionKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakePublisher struct {
	messages chan bus.OutboundMessage
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{messages: make(chan bus.OutboundMessage, 8)}
}

func (f *fakePublisher) PublishOutbound(_ context.Context, msg bus.OutboundMessage) {
	f.messages <- msg
}

func storePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "cron", "jobs.json")
}

func TestAddJobPersistsAndReloads(t *testing.T) {
	path := storePath(t)

	svc, err := NewService(path, nil, nil, Options{})
	require.NoError(t, err)

	job, err := svc.AddJob("digest", "0 9 * * *", "Summarize my inbox", "telegram:12345")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(job.ID, "cron_"))
	assert.Len(t, job.ID, len("cron_")+8)
	assert.True(t, job.Enabled)
	assert.Nil(t, job.LastRun)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a save")

	reloaded, err := NewService(path, nil, nil, Options{})
	require.NoError(t, err)

	got, ok := reloaded.GetJob(job.ID)
	require.True(t, ok)
	assert.Equal(t, "digest", got.Name)
	assert.Equal(t, "0 9 * * *", got.Schedule)
	assert.Equal(t, "Summarize my inbox", got.Prompt)
	assert.Equal(t, "telegram:12345", got.ReplyTo)
	assert.True(t, got.CreatedAt.Equal(job.CreatedAt))
}

func TestAddJobValidation(t *testing.T) {
	svc, err := NewService(storePath(t), nil, nil, Options{})
	require.NoError(t, err)

	_, err = svc.AddJob("a", "* * * * *", "p", "telegram")
	require.ErrorIs(t, err, ErrInvalidReplyTo)

	_, err = svc.AddJob("a", "* * * * *", "p", ":123")
	require.ErrorIs(t, err, ErrInvalidReplyTo)

	_, err = svc.AddJob("a", "every tuesday", "p", "")
	require.ErrorIs(t, err, ErrInvalidSchedule)

	_, err = svc.AddJob("", "* * * * *", "p", "")
	require.Error(t, err)

	_, err = svc.AddJob("a", "* * * * *", "  ", "")
	require.Error(t, err)

	job, err := svc.AddJob("a", "*/15 weekdays", "p", "slack:C1:thread")
	require.NoError(t, err, "a minute step is runnable through the interval fallback")
	assert.Equal(t, "slack:C1:thread", job.ReplyTo)

	assert.Len(t, svc.ListJobs(), 1)
}

func TestParseReplyToSplitsOnFirstColon(t *testing.T) {
	channel, chatID, err := ParseReplyTo("matrix:!room:example.org")
	require.NoError(t, err)
	assert.Equal(t, "matrix", channel)
	assert.Equal(t, "!room:example.org", chatID)
}

func TestEnableDisableRemove(t *testing.T) {
	path := storePath(t)
	svc, err := NewService(path, nil, nil, Options{})
	require.NoError(t, err)

	job, err := svc.AddJob("a", "* * * * *", "p", "")
	require.NoError(t, err)

	ok, err := svc.DisableJob(job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	reloaded, err := NewService(path, nil, nil, Options{})
	require.NoError(t, err)
	got, _ := reloaded.GetJob(job.ID)
	assert.False(t, got.Enabled)
	total, enabled := reloaded.JobCount()
	assert.Equal(t, 1, total)
	assert.Zero(t, enabled)

	ok, err = svc.EnableJob(job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.EnableJob("cron_missing")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.RemoveJob(job.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.RemoveJob(job.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	reloaded, err = NewService(path, nil, nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, reloaded.ListJobs())
}

func TestCorruptStoreFailsLoad(t *testing.T) {
	path := storePath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("["), 0o600))

	_, err := NewService(path, nil, nil, Options{})
	require.Error(t, err)
}

func TestDue(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)

	cases := []struct {
		name     string
		schedule string
		lastRun  *time.Time
		now      time.Time
		want     bool
	}{
		{"before first tick", "*/5 * * * *", nil, created.Add(4 * time.Minute), false},
		{"at first tick", "*/5 * * * *", nil, time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC), true},
		{"last run wins over creation", "*/5 * * * *", ptr(created.Add(5 * time.Minute)), created.Add(7 * time.Minute), false},
		{"step fallback not yet", "*/10 weekdays", nil, created.Add(9 * time.Minute), false},
		{"step fallback elapsed", "*/10 weekdays", nil, created.Add(10 * time.Minute), true},
		{"default fallback", "sometimes", nil, created.Add(59 * time.Minute), false},
		{"default fallback elapsed", "sometimes", nil, created.Add(time.Hour), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			job := Job{Schedule: tc.schedule, CreatedAt: created, LastRun: tc.lastRun}
			got, err := Due(job, tc.now)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func newRunService(t *testing.T, eng Engine, pub Publisher, replyTo string) (*Service, Job, string) {
	t.Helper()

	path := storePath(t)
	svc, err := NewService(path, eng, pub, Options{ExecTimeoutMinutes: 5})
	require.NoError(t, err)

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return created }
	job, err := svc.AddJob("nightly", "* * * * *", "run the report", replyTo)
	require.NoError(t, err)

	svc.now = func() time.Time { return created.Add(10 * time.Minute) }
	return svc, *job, path
}

func runUntil(t *testing.T, svc *Service, wait func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	wait()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("cron service did not stop")
	}
}

func waitMessage(t *testing.T, pub *fakePublisher) bus.OutboundMessage {
	t.Helper()

	select {
	case msg := <-pub.messages:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published result")
		return bus.OutboundMessage{}
	}
}

func TestRunTimeoutRoutesNotice(t *testing.T) {
	eng := &fakeEngine{run: func(ctx context.Context, _ string) (engine.RunResult, error) {
		<-ctx.Done()
		return engine.RunResult{}, ctx.Err()
	}}
	pub := newFakePublisher()
	svc, job, path := newRunService(t, eng, pub, "telegram:12345")
	svc.execTimeout = 20 * time.Millisecond

	var msg bus.OutboundMessage
	runUntil(t, svc, func() { msg = waitMessage(t, pub) })

	assert.Equal(t, "telegram", msg.Channel)
	assert.Equal(t, "12345", msg.ChatID)
	assert.Equal(t, "Cron job 'nightly' timed out after 5 minutes.", msg.Text)
	assert.Equal(t, []string{"cron:" + job.ID}, eng.sessionKeys())
	assert.Equal(t, uint64(1), svc.Stats().Timeouts)

	reloaded, err := NewService(path, nil, nil, Options{})
	require.NoError(t, err)
	got, ok := reloaded.GetJob(job.ID)
	require.True(t, ok)
	require.NotNil(t, got.LastRun)
	assert.True(t, got.LastRun.Equal(job.CreatedAt.Add(10*time.Minute)))
}

func TestRunTimeoutIgnoresLateEngineResult(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	eng := &fakeEngine{run: func(context.Context, string) (engine.RunResult, error) {
		// never looks at ctx
		select {
		case <-release:
		case <-time.After(300 * time.Millisecond):
		}
		return engine.RunResult{Response: "late answer"}, nil
	}}
	pub := newFakePublisher()
	svc, _, _ := newRunService(t, eng, pub, "telegram:12345")
	svc.execTimeout = 20 * time.Millisecond

	var msg bus.OutboundMessage
	started := time.Now()
	runUntil(t, svc, func() { msg = waitMessage(t, pub) })

	assert.Equal(t, "Cron job 'nightly' timed out after 5 minutes.", msg.Text)
	assert.Less(t, time.Since(started), 250*time.Millisecond, "notice must go out at the deadline")
	assert.Equal(t, uint64(1), svc.Stats().Timeouts)
	assert.Zero(t, svc.Stats().Failures)

	time.Sleep(350 * time.Millisecond)
	assert.Empty(t, pub.messages, "a late result must not be published")
}

func TestRunPanickingEngineCountsFailure(t *testing.T) {
	eng := &fakeEngine{run: func(context.Context, string) (engine.RunResult, error) {
		panic("boom")
	}}
	pub := newFakePublisher()
	svc, _, _ := newRunService(t, eng, pub, "slack:C1")

	var msg bus.OutboundMessage
	runUntil(t, svc, func() { msg = waitMessage(t, pub) })
	assert.Equal(t, "Cron job 'nightly' failed: panic: boom", msg.Text)
	assert.Equal(t, uint64(1), svc.Stats().Failures)
}

func TestRunRoutesSuccessAndFailure(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		eng := &fakeEngine{run: func(context.Context, string) (engine.RunResult, error) {
			return engine.RunResult{Response: "report ready", Iterations: 2}, nil
		}}
		pub := newFakePublisher()
		svc, _, _ := newRunService(t, eng, pub, "discord:c-9")

		var msg bus.OutboundMessage
		runUntil(t, svc, func() { msg = waitMessage(t, pub) })
		assert.Equal(t, "discord", msg.Channel)
		assert.Equal(t, "report ready", msg.Text)
	})

	t.Run("failure", func(t *testing.T) {
		eng := &fakeEngine{run: func(context.Context, string) (engine.RunResult, error) {
			return engine.RunResult{}, errors.New("provider down")
		}}
		pub := newFakePublisher()
		svc, _, _ := newRunService(t, eng, pub, "slack:C1")

		var msg bus.OutboundMessage
		runUntil(t, svc, func() { msg = waitMessage(t, pub) })
		assert.Equal(t, "Cron job 'nightly' failed: provider down", msg.Text)
		assert.Equal(t, uint64(1), svc.Stats().Failures)
	})
}

func TestRunWithoutReplyToStaysSilent(t *testing.T) {
	ran := make(chan struct{})
	eng := &fakeEngine{run: func(context.Context, string) (engine.RunResult, error) {
		close(ran)
		return engine.RunResult{Response: "done"}, nil
	}}
	pub := newFakePublisher()
	svc, _, _ := newRunService(t, eng, pub, "")

	runUntil(t, svc, func() {
		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatal("job did not run")
		}
	})
	assert.Empty(t, pub.messages)
}

func TestRunDropsMalformedReplyTo(t *testing.T) {
	ran := make(chan struct{})
	eng := &fakeEngine{run: func(context.Context, string) (engine.RunResult, error) {
		close(ran)
		return engine.RunResult{Response: "done"}, nil
	}}
	pub := newFakePublisher()
	svc, _, _ := newRunService(t, eng, pub, "")
	svc.jobs[0].ReplyTo = "no-separator"

	runUntil(t, svc, func() {
		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatal("job did not run")
		}
	})
	assert.Empty(t, pub.messages)
}

func TestRunWaitsForInFlightJobs(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})
	eng := &fakeEngine{run: func(ctx context.Context, _ string) (engine.RunResult, error) {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		close(finished)
		return engine.RunResult{}, ctx.Err()
	}}
	svc, _, _ := newRunService(t, eng, nil, "")

	runUntil(t, svc, func() {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("job did not start")
		}
	})

	select {
	case <-finished:
	default:
		t.Fatal("Run returned before the in-flight job finished")
	}
	assert.Zero(t, svc.InFlight())
}

func TestRunRequiresEngine(t *testing.T) {
	svc, err := NewService(storePath(t), nil, nil, Options{})
	require.NoError(t, err)
	require.Error(t, svc.Run(context.Background()))
}

func ptr(t time.Time) *time.Time {
	return &t
}
