// Package logger builds the process slog.Logger: charmbracelet/log for humans,
// one JSON object per line for machines.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	charmLog "github.com/charmbracelet/log"

	"grip/pkg/config"
)

// Environment overrides, applied on top of the config file.
const (
	EnvFormat    = "GRIP_LOG_FORMAT"
	EnvLevel     = "GRIP_LOG_LEVEL"
	EnvAddSource = "GRIP_LOG_ADD_SOURCE"
)

type settings struct {
	json      bool
	level     slog.Level
	addSource bool
}

func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewFile builds a logger that appends to path, for commands that own the
// terminal. The returned closer releases the file.
func NewFile(cfg config.LoggingConfig, path string) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	log, err := NewWithWriter(cfg, file)
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}

	return log, file, nil
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	if s.json {
		return slog.New(newJSONHandler(w, s.level, s.addSource)), nil
	}

	return slog.New(charmLog.NewWithOptions(w, charmLog.Options{
		Level:           toCharm(s.level),
		ReportTimestamp: true,
		ReportCaller:    s.addSource,
		Formatter:       charmLog.TextFormatter,
	})), nil
}

func resolve(cfg config.LoggingConfig) (settings, error) {
	var s settings

	switch format := override(EnvFormat, cfg.Format, "text"); format {
	case "json":
		s.json = true
	case "text":
	default:
		return s, fmt.Errorf("unsupported log format %q", format)
	}

	levels := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	name := override(EnvLevel, cfg.Level, "info")
	level, ok := levels[name]
	if !ok {
		return s, fmt.Errorf("unsupported log level %q", name)
	}
	s.level = level

	s.addSource = cfg.AddSource
	if raw := override(EnvAddSource, "", ""); raw != "" {
		s.addSource = raw == "1" || raw == "true" || raw == "yes" || raw == "on"
	}

	return s, nil
}

// override returns the normalized env value when set, then the config value,
// then fallback.
func override(env, configured, fallback string) string {
	for _, candidate := range []string{os.Getenv(env), configured} {
		if value := strings.ToLower(strings.TrimSpace(candidate)); value != "" {
			return value
		}
	}
	return fallback
}

func toCharm(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	}
	return charmLog.ErrorLevel
}
