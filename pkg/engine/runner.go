package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"grip/pkg/memory"
	providertypes "grip/pkg/provider/types"
	"grip/pkg/session"
)

// DefaultMemoryWindow is the number of recent messages sent with every turn.
const DefaultMemoryWindow = 50

// Completer is the provider surface the runner needs.
type Completer interface {
	Complete(ctx context.Context, req providertypes.CompletionRequest) (providertypes.CompletionResult, error)
}

// Options tunes a Runner. Zero values fall back to defaults.
type Options struct {
	Model              string
	ConsolidationModel string
	MaxTokens          int
	Temperature        float64
	MemoryWindow       int
	SystemPrompt       string
	Logger             *slog.Logger
}

// Runner executes turns against a provider, keeping the transcript in the
// session store. Turns for the same session key are serialized.
type Runner struct {
	client   Completer
	sessions *session.Store
	memory   *memory.Memory
	opts     Options
	log      *slog.Logger

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewRunner wires a runner. memory may be nil, which disables long-term facts.
func NewRunner(client Completer, sessions *session.Store, mem *memory.Memory, opts Options) (*Runner, error) {
	if client == nil {
		return nil, errors.New("provider client is required")
	}
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("model is required")
	}
	if opts.MemoryWindow <= 0 {
		opts.MemoryWindow = DefaultMemoryWindow
	}
	if strings.TrimSpace(opts.ConsolidationModel) == "" {
		opts.ConsolidationModel = opts.Model
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Runner{
		client:   client,
		sessions: sessions,
		memory:   mem,
		opts:     opts,
		log:      log.With("component", "engine.runner"),
		locks:    make(map[string]chan struct{}),
	}, nil
}

// DefaultModel returns the model used when a run carries no override.
func (r *Runner) DefaultModel() string {
	return r.opts.Model
}

// Run sends text as the next user turn in sessionKey. model overrides the
// default model for this run when non-empty.
func (r *Runner) Run(ctx context.Context, text string, sessionKey string, model string) (RunResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return RunResult{}, errors.New("message is empty")
	}

	unlock, err := r.lockSession(ctx, sessionKey)
	if err != nil {
		return RunResult{}, err
	}
	defer unlock()

	if strings.TrimSpace(model) == "" {
		model = r.opts.Model
	}

	sess := r.sessions.GetOrCreate(sessionKey)
	req := providertypes.CompletionRequest{
		Model:     model,
		System:    buildSystemPrompt(r.opts.SystemPrompt, r.readMemory(), sess.SummaryText()),
		History:   toProviderMessages(sess.Recent(r.opts.MemoryWindow)),
		Prompt:    text,
		MaxTokens: r.opts.MaxTokens,
	}
	if r.opts.Temperature > 0 {
		temp := r.opts.Temperature
		req.Temperature = &temp
	}

	r.log.Debug("Running turn", "session_key", sessionKey, "model", model, "history_length", len(req.History))

	completion, err := r.client.Complete(ctx, req)
	if err != nil {
		return RunResult{}, err
	}

	sess.AddMessage(session.RoleUser, text)
	sess.AddMessage(session.RoleAssistant, completion.Text)
	if err := r.sessions.Save(sess); err != nil {
		return RunResult{}, fmt.Errorf("save session: %w", err)
	}
	r.appendHistory("User: " + truncate(text, 200))
	r.appendHistory("Assistant: " + truncate(completion.Text, 200))

	if sess.MessageCount() > 2*r.opts.MemoryWindow {
		if _, err := r.consolidateLocked(ctx, sess); err != nil {
			r.log.Error("Memory consolidation failed", "session_key", sessionKey, "error", err)
		}
	}

	return RunResult{
		Response:         completion.Text,
		Iterations:       max(completion.Steps, 1),
		PromptTokens:     completion.Usage.InputTokens,
		CompletionTokens: completion.Usage.OutputTokens,
		ToolCallsMade:    completion.ToolCalls,
	}, nil
}

// ConsolidateSession summarises the messages outside the memory window into
// long-term memory and prunes the transcript to the window.
func (r *Runner) ConsolidateSession(ctx context.Context, sessionKey string) error {
	unlock, err := r.lockSession(ctx, sessionKey)
	if err != nil {
		return err
	}
	defer unlock()

	sess, ok := r.sessions.Get(sessionKey)
	if !ok {
		return nil
	}

	pruned, err := r.consolidateLocked(ctx, sess)
	if err != nil {
		return err
	}
	r.log.Info("Manual consolidation complete", "session_key", sessionKey, "pruned", pruned)

	return nil
}

// ResetSession clears a session transcript and summary. It waits for any
// in-flight turn on the same key.
func (r *Runner) ResetSession(ctx context.Context, sessionKey string) error {
	unlock, err := r.lockSession(ctx, sessionKey)
	if err != nil {
		return err
	}
	defer unlock()

	sess := r.sessions.GetOrCreate(sessionKey)
	sess.Clear()
	return r.sessions.Save(sess)
}

func (r *Runner) consolidateLocked(ctx context.Context, sess *session.Session) (int, error) {
	old := sess.OldMessages(r.opts.MemoryWindow)
	if len(old) == 0 {
		return 0, nil
	}

	r.log.Info("Consolidating session",
		"session_key", sess.Key,
		"old_messages", len(old),
		"model", r.opts.ConsolidationModel,
	)

	facts, err := r.extractFacts(ctx, old)
	if err != nil {
		return 0, err
	}

	if facts != "" && !strings.Contains(strings.ToLower(facts), "no new facts") {
		if r.memory != nil {
			entry := fmt.Sprintf("\n### Consolidated %s\n%s\n", timeNow().UTC().Format("2006-01-02"), facts)
			if err := r.memory.Append(entry); err != nil {
				return 0, err
			}
		}
		sess.SetSummary("[Previous conversation context]\n" + facts)
	}
	r.appendHistory(historySummary(old))

	pruned := sess.PruneToWindow(r.opts.MemoryWindow)
	if err := r.sessions.Save(sess); err != nil {
		return 0, fmt.Errorf("save session: %w", err)
	}

	return pruned, nil
}

func (r *Runner) extractFacts(ctx context.Context, messages []session.Message) (string, error) {
	temp := 0.3
	result, err := r.client.Complete(ctx, providertypes.CompletionRequest{
		Model:       r.opts.ConsolidationModel,
		System:      "You extract key facts from conversations.",
		Prompt:      consolidationPrompt + formatForConsolidation(messages),
		MaxTokens:   1024,
		Temperature: &temp,
	})
	if err != nil {
		return "", fmt.Errorf("extract facts: %w", err)
	}

	return strings.TrimSpace(result.Text), nil
}

func (r *Runner) readMemory() string {
	if r.memory == nil {
		return ""
	}

	content, err := r.memory.Read()
	if err != nil {
		r.log.Warn("Failed to read memory", "error", err)
		return ""
	}

	return content
}

func (r *Runner) appendHistory(entry string) {
	if r.memory == nil {
		return
	}
	if err := r.memory.AppendHistory(entry); err != nil {
		r.log.Warn("Failed to append history", "error", err)
	}
}

// lockSession takes the per-key slot, giving up when ctx ends first.
func (r *Runner) lockSession(ctx context.Context, key string) (func(), error) {
	r.mu.Lock()
	slot, ok := r.locks[key]
	if !ok {
		slot = make(chan struct{}, 1)
		r.locks[key] = slot
	}
	r.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for session %s: %w", key, ctx.Err())
	}
}

func toProviderMessages(messages []session.Message) []providertypes.Message {
	out := make([]providertypes.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleUser, session.RoleAssistant, session.RoleSystem:
			out = append(out, providertypes.Message{Role: msg.Role, Content: msg.Content})
		}
	}

	return out
}

func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}

	return string([]rune(text)[:limit])
}
