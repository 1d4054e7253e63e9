// Package cron persists scheduled prompts and runs them through the engine
// when their cron expression comes due.
package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidReplyTo  = errors.New("invalid reply_to")
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrJobNotFound     = errors.New("cron job not found")
)

// Job is one persisted scheduled prompt. ReplyTo is a session key
// ("telegram:12345") that receives the result, or empty for silent jobs.
type Job struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Prompt    string     `json:"prompt"`
	Enabled   bool       `json:"enabled"`
	LastRun   *time.Time `json:"last_run"`
	CreatedAt time.Time  `json:"created_at"`
	ReplyTo   string     `json:"reply_to"`
}

// reference is the instant the next tick is computed from.
func (j Job) reference() time.Time {
	if j.LastRun != nil {
		return *j.LastRun
	}

	return j.CreatedAt
}

func newJobID() string {
	return "cron_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ParseReplyTo splits a "channel:chat_id" target on its first colon. Chat ids
// may themselves contain colons.
func ParseReplyTo(replyTo string) (channel string, chatID string, err error) {
	channel, chatID, found := strings.Cut(replyTo, ":")
	if !found || strings.TrimSpace(channel) == "" || strings.TrimSpace(chatID) == "" {
		return "", "", fmt.Errorf("%w: %q, expected 'channel:chat_id' (e.g. 'telegram:12345')", ErrInvalidReplyTo, replyTo)
	}

	return channel, chatID, nil
}
