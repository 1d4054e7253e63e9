// Package session persists per-conversation transcripts as JSON files.
package session

import (
	"slices"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one role-tagged transcript entry.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content,omitempty"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Session is one conversation transcript keyed by "<channel>:<chat_id>" or a
// synthetic namespace such as "cron:<id>".
type Session struct {
	Key       string    `json:"key"`
	Messages  []Message `json:"messages"`
	Summary   *string   `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newSession(key string) *Session {
	now := time.Now().UTC()
	return &Session{Key: key, Messages: []Message{}, CreatedAt: now, UpdatedAt: now}
}

func (s *Session) AddMessage(role string, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
	s.UpdatedAt = time.Now().UTC()
}

func (s *Session) MessageCount() int {
	return len(s.Messages)
}

// Recent returns the last window messages.
func (s *Session) Recent(window int) []Message {
	if window <= 0 || len(s.Messages) <= window {
		return slices.Clone(s.Messages)
	}

	return slices.Clone(s.Messages[len(s.Messages)-window:])
}

// OldMessages returns the messages outside the recent window.
func (s *Session) OldMessages(window int) []Message {
	if len(s.Messages) <= window {
		return nil
	}

	return slices.Clone(s.Messages[:len(s.Messages)-window])
}

// PruneToWindow keeps the last window messages and returns how many were dropped.
func (s *Session) PruneToWindow(window int) int {
	if len(s.Messages) <= window {
		return 0
	}

	pruned := len(s.Messages) - window
	s.Messages = slices.Clone(s.Messages[pruned:])
	s.UpdatedAt = time.Now().UTC()
	return pruned
}

// DropLast removes the last n messages and reports whether any were removed.
func (s *Session) DropLast(n int) bool {
	if n <= 0 || len(s.Messages) == 0 {
		return false
	}

	n = min(n, len(s.Messages))
	s.Messages = s.Messages[:len(s.Messages)-n]
	s.UpdatedAt = time.Now().UTC()
	return true
}

// Clear empties the transcript and its summary.
func (s *Session) Clear() {
	s.Messages = []Message{}
	s.Summary = nil
	s.UpdatedAt = time.Now().UTC()
}

// SummaryText returns the summary or "".
func (s *Session) SummaryText() string {
	if s.Summary == nil {
		return ""
	}

	return *s.Summary
}

func (s *Session) SetSummary(summary string) {
	s.Summary = &summary
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}

	copied := *s
	copied.Messages = slices.Clone(s.Messages)
	if s.Summary != nil {
		summary := *s.Summary
		copied.Summary = &summary
	}

	return &copied
}
