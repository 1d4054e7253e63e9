package cmd

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grip/pkg/cron"
)

func newCronStore(t *testing.T) *cron.Service {
	t.Helper()

	svc, err := cron.NewService(filepath.Join(t.TempDir(), "cron", "jobs.json"), nil, nil, cron.Options{})
	require.NoError(t, err)
	return svc
}

func TestAddJobEchoesJob(t *testing.T) {
	svc := newCronStore(t)

	var out bytes.Buffer
	require.NoError(t, addJob(&out, svc, "standup", "0 9 * * 1-5", "Summarize my open tasks", "telegram:12345"))

	jobs := svc.ListJobs()
	require.Len(t, jobs, 1)
	assert.Contains(t, out.String(), jobs[0].ID)
	assert.Contains(t, out.String(), "Schedule: 0 9 * * 1-5")
	assert.Contains(t, out.String(), "Reply to: telegram:12345")
}

func TestAddJobRejectsBadInput(t *testing.T) {
	svc := newCronStore(t)

	var out bytes.Buffer
	err := addJob(&out, svc, "bad", "every day", "hi", "")
	require.ErrorIs(t, err, cron.ErrInvalidSchedule)

	err = addJob(&out, svc, "bad", "*/5 * * * *", "hi", "telegram")
	require.ErrorIs(t, err, cron.ErrInvalidReplyTo)

	assert.Empty(t, svc.ListJobs())
	assert.Empty(t, out.String())
}

func TestApplyJobOpReportsMissingJob(t *testing.T) {
	svc := newCronStore(t)

	var out bytes.Buffer
	err := applyJobOp(&out, svc, "cron_missing", "Removed", okStyle, (*cron.Service).RemoveJob)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cron.ErrJobNotFound))
	assert.Empty(t, out.String())
}

func TestApplyJobOpTogglesJob(t *testing.T) {
	svc := newCronStore(t)
	job, err := svc.AddJob("tidy", "*/30 * * * *", "Check the inbox folder", "")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, applyJobOp(&out, svc, job.ID, "Disabled", warnStyle, (*cron.Service).DisableJob))
	assert.Contains(t, out.String(), job.ID)

	got, ok := svc.GetJob(job.ID)
	require.True(t, ok)
	assert.False(t, got.Enabled)

	require.NoError(t, applyJobOp(&out, svc, job.ID, "Removed", okStyle, (*cron.Service).RemoveJob))
	assert.Empty(t, svc.ListJobs())
}

func TestPrintJobs(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		var out bytes.Buffer
		printJobs(&out, nil)
		assert.Contains(t, out.String(), "No cron jobs configured.")
	})

	t.Run("rows", func(t *testing.T) {
		svc := newCronStore(t)
		job, err := svc.AddJob("digest", "0 18 * * *", strings.Repeat("x", 60), "slack:C123")
		require.NoError(t, err)

		var out bytes.Buffer
		printJobs(&out, svc.ListJobs())

		text := out.String()
		assert.Contains(t, text, job.ID)
		assert.Contains(t, text, "digest")
		assert.Contains(t, text, "Never")
		assert.Contains(t, text, "slack:C123")
		assert.NotContains(t, text, strings.Repeat("x", 60))
	})
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "abcd…", clip("abcdefgh", 5))
}
