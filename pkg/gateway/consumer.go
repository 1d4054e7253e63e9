package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"grip/pkg/bus"
	"grip/pkg/engine"
	"grip/pkg/memory"
	"grip/pkg/session"
	"grip/pkg/trust"
	"grip/pkg/workspace"
)

// Engine is the part of the engine runner the consumer drives.
type Engine interface {
	Run(ctx context.Context, text string, sessionKey string, model string) (engine.RunResult, error)
	ConsolidateSession(ctx context.Context, sessionKey string) error
	ResetSession(ctx context.Context, sessionKey string) error
}

// ConsumerDeps wires a Consumer. Memory and Trust are optional.
type ConsumerDeps struct {
	Bus          *bus.MessageBus
	Engine       Engine
	Sessions     *session.Store
	Memory       *memory.Memory
	Trust        *trust.Store
	DefaultModel string
	Logger       *slog.Logger
}

// Consumer drains the inbound queue one message at a time, answering control
// commands itself and sending everything else through the engine.
type Consumer struct {
	bus          *bus.MessageBus
	engine       Engine
	sessions     *session.Store
	memory       *memory.Memory
	trust        *trust.Store
	defaultModel string
	log          *slog.Logger

	mu     sync.Mutex
	models map[string]string

	processed atomic.Uint64
	failed    atomic.Uint64
}

func NewConsumer(deps ConsumerDeps) (*Consumer, error) {
	if deps.Bus == nil {
		return nil, errors.New("message bus is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("session store is required")
	}

	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Consumer{
		bus:          deps.Bus,
		engine:       deps.Engine,
		sessions:     deps.Sessions,
		memory:       deps.Memory,
		trust:        deps.Trust,
		defaultModel: deps.DefaultModel,
		log:          log.With("component", "gateway.consumer"),
		models:       make(map[string]string),
	}, nil
}

// Run processes messages until ctx is cancelled or the bus closes.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("Inbound consumer started")
	for {
		msg, ok := c.bus.PopInbound(ctx)
		if !ok {
			c.log.Info("Inbound consumer stopped")
			return nil
		}
		c.process(ctx, msg)
	}
}

// Processed and Failed count messages handled and engine runs that errored.
func (c *Consumer) Processed() uint64 { return c.processed.Load() }

func (c *Consumer) Failed() uint64 { return c.failed.Load() }

// ModelFor returns the model the next turn in sessionKey runs with.
func (c *Consumer) ModelFor(sessionKey string) string {
	if model := c.modelOverride(sessionKey); model != "" {
		return model
	}

	return c.defaultModel
}

func (c *Consumer) process(ctx context.Context, msg bus.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.failed.Add(1)
			c.log.Error("Panic while processing inbound message",
				"channel", msg.Channel,
				"chat_id", msg.ChatID,
				"panic", r,
			)
		}
	}()
	defer c.processed.Add(1)

	sessionKey := msg.SessionKey()

	switch msg.Command() {
	case "new":
		c.handleNew(sessionKey)
	case "clear":
		c.handleClear(ctx, sessionKey)
	case "undo":
		c.reply(ctx, msg, c.handleUndo(sessionKey), nil)
	case "compact":
		c.reply(ctx, msg, c.handleCompact(ctx, sessionKey), nil)
	case "model":
		c.reply(ctx, msg, c.handleModel(sessionKey, msg.Metadata[bus.MetaModelName]), nil)
	case "status":
		c.reply(ctx, msg, c.handleStatus(sessionKey), nil)
	case "trust":
		c.reply(ctx, msg, c.handleTrust(msg.Metadata[bus.MetaTrustPath]), nil)
	default:
		c.handleTurn(ctx, msg, sessionKey)
	}
}

func (c *Consumer) handleNew(sessionKey string) {
	if _, err := c.sessions.Delete(sessionKey); err != nil {
		c.log.Error("Failed to delete session", "session_key", sessionKey, "error", err)
	}

	c.mu.Lock()
	delete(c.models, sessionKey)
	c.mu.Unlock()

	c.log.Info("Session reset via /new", "session_key", sessionKey)
}

func (c *Consumer) handleClear(ctx context.Context, sessionKey string) {
	if err := c.engine.ResetSession(ctx, sessionKey); err != nil {
		c.log.Error("Failed to clear session", "session_key", sessionKey, "error", err)
		return
	}

	c.log.Info("Session cleared via /clear", "session_key", sessionKey)
}

func (c *Consumer) handleUndo(sessionKey string) string {
	sess := c.sessions.GetOrCreate(sessionKey)
	if sess.MessageCount() < 2 {
		return "Nothing to undo."
	}

	sess.DropLast(2)
	if err := c.sessions.Save(sess); err != nil {
		c.log.Error("Failed to save session after undo", "session_key", sessionKey, "error", err)
		return "Undo failed: " + err.Error()
	}

	return "Last exchange removed."
}

func (c *Consumer) handleCompact(ctx context.Context, sessionKey string) string {
	sess := c.sessions.GetOrCreate(sessionKey)
	if sess.MessageCount() < 4 {
		return "Session too short to compact."
	}

	if err := c.engine.ConsolidateSession(ctx, sessionKey); err != nil {
		c.log.Error("Compact failed", "session_key", sessionKey, "error", err)
		return fmt.Sprintf("Compact failed: %v", err)
	}

	sess = c.sessions.GetOrCreate(sessionKey)
	return fmt.Sprintf("Session compacted. %d messages remain.", sess.MessageCount())
}

func (c *Consumer) handleModel(sessionKey string, modelName string) string {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		return "Current model: " + c.ModelFor(sessionKey)
	}

	c.mu.Lock()
	c.models[sessionKey] = modelName
	c.mu.Unlock()

	c.log.Info("Model override set", "session_key", sessionKey, "model", modelName)
	return "Model switched to: " + modelName
}

func (c *Consumer) handleStatus(sessionKey string) string {
	sess := c.sessions.GetOrCreate(sessionKey)

	memoryLines := 0
	if c.memory != nil {
		memoryLines = c.memory.LineCount()
	}

	trusted := "none"
	if dirs := c.trustedDirectories(); len(dirs) > 0 {
		trusted = strings.Join(dirs, ", ")
	}

	return fmt.Sprintf("Session: %s\nMessages: %d\nModel: %s\nMemory facts: ~%d lines\nTrusted dirs: %s",
		sessionKey,
		sess.MessageCount(),
		c.ModelFor(sessionKey),
		memoryLines,
		trusted,
	)
}

func (c *Consumer) handleTrust(arg string) string {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		dirs := c.trustedDirectories()
		if len(dirs) == 0 {
			return "No directories trusted yet. Use /trust ~/path to trust a directory."
		}

		var b strings.Builder
		b.WriteString("Trusted directories:")
		for _, dir := range dirs {
			b.WriteString("\n  ")
			b.WriteString(dir)
		}
		return b.String()
	}

	if c.trust == nil {
		return "Trust store is not available."
	}

	if verb, rest, _ := strings.Cut(arg, " "); verb == "revoke" && strings.TrimSpace(rest) != "" {
		target := strings.TrimSpace(rest)
		resolved, err := workspace.ResolvePath(target)
		if err != nil {
			return "Trust failed: " + err.Error()
		}

		revoked, err := c.trust.Revoke(resolved)
		if err != nil {
			return "Trust failed: " + err.Error()
		}
		if !revoked {
			return "Directory not found in trusted list: " + resolved
		}
		return "Revoked trust for: " + resolved
	}

	resolved, err := c.trust.Trust(arg)
	if err != nil {
		return "Trust failed: " + err.Error()
	}

	return "Trusted: " + resolved
}

func (c *Consumer) handleTurn(ctx context.Context, msg bus.InboundMessage, sessionKey string) {
	result, err := c.engine.Run(ctx, msg.Text, sessionKey, c.modelOverride(sessionKey))
	if err != nil {
		if ctx.Err() != nil {
			c.log.Warn("Turn cancelled", "session_key", sessionKey, "error", err)
			return
		}

		c.failed.Add(1)
		c.log.Error("Engine run failed", "session_key", sessionKey, "error", err)
		c.reply(ctx, msg, fmt.Sprintf("Sorry, an error occurred: %v", err), nil)
		return
	}

	c.log.Info("Turn completed",
		"session_key", sessionKey,
		"iterations", result.Iterations,
		"total_tokens", result.TotalTokens(),
	)
	c.reply(ctx, msg, result.Response, result.Metadata())
}

func (c *Consumer) reply(ctx context.Context, msg bus.InboundMessage, text string, metadata map[string]string) {
	c.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel:          msg.Channel,
		ChatID:           msg.ChatID,
		Text:             text,
		Metadata:         metadata,
		ReplyToMessageID: msg.Metadata[bus.MetaMessageID],
	})
}

func (c *Consumer) modelOverride(sessionKey string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.models[sessionKey]
}

func (c *Consumer) trustedDirectories() []string {
	if c.trust == nil {
		return nil
	}

	return c.trust.TrustedDirectories()
}
