package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// DefaultFallbackInterval applies to schedules gronx cannot evaluate and that
// carry no "*/N" minute step.
const DefaultFallbackInterval = 60 * time.Minute

// ValidateSchedule accepts any expression gronx understands, plus a leading
// "*/N" minute step that the interval fallback can run.
func ValidateSchedule(schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return fmt.Errorf("%w: schedule is empty", ErrInvalidSchedule)
	}
	if gronx.New().IsValid(schedule) {
		return nil
	}
	if _, ok := stepInterval(schedule); ok {
		return nil
	}

	return fmt.Errorf("%w: %q", ErrInvalidSchedule, schedule)
}

// Due reports whether job should fire at now. The next tick is computed from
// the last run, or from creation for jobs that never ran. An error means the
// expression parsed but produced no next tick; callers treat the job as not due.
func Due(job Job, now time.Time) (bool, error) {
	ref := job.reference().UTC()

	if gronx.New().IsValid(job.Schedule) {
		next, err := gronx.NextTickAfter(job.Schedule, ref, false)
		if err != nil {
			return false, fmt.Errorf("next tick for %q: %w", job.Schedule, err)
		}
		return !now.Before(next), nil
	}

	interval, ok := stepInterval(job.Schedule)
	if !ok {
		interval = DefaultFallbackInterval
	}

	return now.Sub(ref) >= interval, nil
}

// stepInterval reads the minute step out of "*/N ..." schedules.
func stepInterval(schedule string) (time.Duration, bool) {
	fields := strings.Fields(schedule)
	if len(fields) == 0 {
		return 0, false
	}

	step, found := strings.CutPrefix(fields[0], "*/")
	if !found {
		return 0, false
	}
	minutes, err := strconv.Atoi(step)
	if err != nil || minutes <= 0 {
		return 0, false
	}

	return time.Duration(minutes) * time.Minute, true
}
