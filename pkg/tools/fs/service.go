// Package fs implements the bounded file operations behind the agent's file
// tools. Relative paths resolve against the workspace; anything outside it
// must sit in a directory the user has trusted.
package fs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"grip/pkg/workspace"
)

const (
	MaxReadBytes      = 256 * 1024
	MaxWriteBytes     = 1024 * 1024
	MaxListEntries    = 500
	OperationDeadline = 10 * time.Second
)

// Access reports whether a resolved path outside the workspace may be used.
// It is satisfied by *trust.Store.
type Access interface {
	IsTrusted(path string) bool
}

type Service struct {
	root           string
	access         Access
	maxReadBytes   int
	maxWriteBytes  int
	maxListEntries int
	deadline       time.Duration
}

type ReadResult struct {
	Path    string
	Content string
	Bytes   int
}

type WriteResult struct {
	Path         string
	BytesWritten int
}

type AppendResult struct {
	Path          string
	BytesAppended int
	Size          int64
}

type ListEntry struct {
	Name  string
	IsDir bool
	Size  int64
}

type ListResult struct {
	Path      string
	Entries   []ListEntry
	Truncated bool
	Total     int
}

type EditResult struct {
	Path          string
	Matches       int
	ReplacedCount int
}

// NewService serves files under root plus whatever access trusts. access may
// be nil, which confines the service to root.
func NewService(root string, access Access) *Service {
	return &Service{
		root:           filepath.Clean(root),
		access:         access,
		maxReadBytes:   MaxReadBytes,
		maxWriteBytes:  MaxWriteBytes,
		maxListEntries: MaxListEntries,
		deadline:       OperationDeadline,
	}
}

// Display returns path relative to the workspace when it lies inside it.
func (s *Service) Display(path string) string {
	if workspace.IsWithin(s.root, path) {
		if rel, err := filepath.Rel(s.root, path); err == nil {
			return rel
		}
	}

	return path
}

func (s *Service) ReadFile(ctx context.Context, path string) (ReadResult, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	resolved, err := s.resolve(path)
	if err != nil {
		return ReadResult{}, err
	}
	if err := checkContext(ctx); err != nil {
		return ReadResult{}, err
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return ReadResult{}, workspace.FromOS(err, "read")
	}
	if len(content) > s.maxReadBytes {
		return ReadResult{}, workspace.NewError(workspace.ErrorIO, fmt.Sprintf("file exceeds %d bytes", s.maxReadBytes))
	}
	if err := ensureText(content); err != nil {
		return ReadResult{}, err
	}

	return ReadResult{Path: resolved, Content: string(content), Bytes: len(content)}, nil
}

func (s *Service) WriteFile(ctx context.Context, path string, content string) (WriteResult, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	if len(content) > s.maxWriteBytes {
		return WriteResult{}, workspace.NewError(workspace.ErrorIO, fmt.Sprintf("content exceeds %d bytes", s.maxWriteBytes))
	}

	resolved, err := s.resolve(path)
	if err != nil {
		return WriteResult{}, err
	}
	if err := checkContext(ctx); err != nil {
		return WriteResult{}, err
	}

	mode, err := existingMode(resolved)
	if err != nil {
		return WriteResult{}, err
	}
	if err := workspace.WriteFileAtomic(resolved, []byte(content), mode); err != nil {
		return WriteResult{}, workspace.FromOS(err, "write")
	}

	return WriteResult{Path: resolved, BytesWritten: len(content)}, nil
}

func (s *Service) AppendFile(ctx context.Context, path string, content string) (AppendResult, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	if len(content) > s.maxWriteBytes {
		return AppendResult{}, workspace.NewError(workspace.ErrorIO, fmt.Sprintf("content exceeds %d bytes", s.maxWriteBytes))
	}

	resolved, err := s.resolve(path)
	if err != nil {
		return AppendResult{}, err
	}
	if err := checkContext(ctx); err != nil {
		return AppendResult{}, err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return AppendResult{}, workspace.FromOS(err, "create parent directory")
	}

	file, err := os.OpenFile(resolved, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return AppendResult{}, workspace.FromOS(err, "open")
	}
	defer file.Close()

	written, err := file.WriteString(content)
	if err != nil {
		return AppendResult{}, workspace.FromOS(err, "append")
	}

	info, err := file.Stat()
	if err != nil {
		return AppendResult{}, workspace.FromOS(err, "stat")
	}

	return AppendResult{Path: resolved, BytesAppended: written, Size: info.Size()}, nil
}

// ListDir lists path sorted by name, capped at MaxListEntries.
func (s *Service) ListDir(ctx context.Context, path string) (ListResult, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	if strings.TrimSpace(path) == "" {
		path = "."
	}

	resolved, err := s.resolve(path)
	if err != nil {
		return ListResult{}, err
	}
	if err := checkContext(ctx); err != nil {
		return ListResult{}, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return ListResult{}, workspace.FromOS(err, "list")
	}

	result := ListResult{Path: resolved, Total: len(entries)}
	if len(entries) > s.maxListEntries {
		entries = entries[:s.maxListEntries]
		result.Truncated = true
	}

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return ListResult{}, workspace.FromOS(err, "stat")
		}
		result.Entries = append(result.Entries, ListEntry{Name: entry.Name(), IsDir: entry.IsDir(), Size: info.Size()})
	}

	return result, nil
}

// EditFile replaces oldText with newText. Without replaceAll, oldText must
// match exactly once.
func (s *Service) EditFile(ctx context.Context, path string, oldText string, newText string, replaceAll bool) (EditResult, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	if oldText == "" {
		return EditResult{}, workspace.NewError(workspace.ErrorInvalidPath, "old_text must not be empty")
	}

	resolved, err := s.resolve(path)
	if err != nil {
		return EditResult{}, err
	}
	if err := checkContext(ctx); err != nil {
		return EditResult{}, err
	}

	raw, err := os.ReadFile(resolved)
	if err != nil {
		return EditResult{}, workspace.FromOS(err, "read")
	}
	if err := ensureText(raw); err != nil {
		return EditResult{}, err
	}

	original := string(raw)
	matches := strings.Count(original, oldText)
	switch {
	case matches == 0:
		return EditResult{}, workspace.NewError(workspace.ErrorEditNotFound, "old_text not found")
	case matches > 1 && !replaceAll:
		return EditResult{}, workspace.NewError(workspace.ErrorAmbiguousEdit, fmt.Sprintf("old_text matched %d locations", matches))
	}

	replaced := 1
	if replaceAll {
		replaced = -1
	}
	updated := strings.Replace(original, oldText, newText, replaced)
	if len(updated) > s.maxWriteBytes {
		return EditResult{}, workspace.NewError(workspace.ErrorIO, fmt.Sprintf("content exceeds %d bytes", s.maxWriteBytes))
	}

	mode, err := existingMode(resolved)
	if err != nil {
		return EditResult{}, err
	}
	if err := workspace.WriteFileAtomic(resolved, []byte(updated), mode); err != nil {
		return EditResult{}, workspace.FromOS(err, "write")
	}

	if replaceAll {
		replaced = matches
	}
	return EditResult{Path: resolved, Matches: matches, ReplacedCount: replaced}, nil
}

func (s *Service) resolve(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", workspace.NewError(workspace.ErrorInvalidPath, "path must not be empty")
	}
	if !filepath.IsAbs(trimmed) && trimmed != "~" && !strings.HasPrefix(trimmed, "~"+string(filepath.Separator)) {
		trimmed = filepath.Join(s.root, trimmed)
	}

	resolved, err := workspace.ResolvePath(trimmed)
	if err != nil {
		return "", err
	}

	if workspace.IsWithin(s.root, resolved) {
		return resolved, nil
	}
	if s.access != nil && s.access.IsTrusted(resolved) {
		return resolved, nil
	}

	return "", workspace.NewError(workspace.ErrorUntrustedPath,
		fmt.Sprintf("%s is outside the workspace; the user can allow it with /trust %s", resolved, filepath.Dir(resolved)))
}

func (s *Service) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.deadline <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, s.deadline)
}

func existingMode(path string) (os.FileMode, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		return info.Mode().Perm(), nil
	case os.IsNotExist(err):
		return 0o644, nil
	default:
		return 0, workspace.FromOS(err, "stat")
	}
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return workspace.NewError(workspace.ErrorIO, err.Error())
	}

	return nil
}

func ensureText(content []byte) error {
	if bytes.IndexByte(content, 0) >= 0 || !utf8.Valid(content) {
		return workspace.NewError(workspace.ErrorIO, "file appears to be binary")
	}

	return nil
}
