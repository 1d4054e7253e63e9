// Package memory manages the long-term MEMORY.md fact file and the
// append-only HISTORY.md log inside the workspace.
package memory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"grip/pkg/workspace"
)

const (
	memoryFileName  = "MEMORY.md"
	historyFileName = "HISTORY.md"
)

type Memory struct {
	memoryPath  string
	historyPath string
	now         func() time.Time

	mu sync.RWMutex
}

// New ensures dir exists and returns a Memory rooted there.
func New(dir string) (*Memory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory directory: %w", err)
	}

	return &Memory{
		memoryPath:  filepath.Join(dir, memoryFileName),
		historyPath: filepath.Join(dir, historyFileName),
		now:         time.Now,
	}, nil
}

// Read returns MEMORY.md, or "" when it does not exist.
func (m *Memory) Read() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return readOptional(m.memoryPath)
}

// LineCount returns the number of lines in MEMORY.md.
func (m *Memory) LineCount() int {
	content, err := m.Read()
	if err != nil {
		return 0
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return 0
	}

	return len(strings.Split(trimmed, "\n"))
}

// Append adds entry at the end of MEMORY.md, keeping a trailing newline.
func (m *Memory) Append(entry string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := readOptional(m.memoryPath)
	if err != nil {
		return err
	}
	if current != "" && !strings.HasSuffix(current, "\n") {
		current += "\n"
	}

	next := current + strings.TrimRight(entry, " \t\n") + "\n"
	if err := workspace.WriteFileAtomic(m.memoryPath, []byte(next), 0o600); err != nil {
		return fmt.Errorf("write memory: %w", err)
	}

	return nil
}

// AppendHistory writes one timestamped line to HISTORY.md.
func (m *Memory) AppendHistory(entry string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	line := fmt.Sprintf("[%s] %s\n", m.now().UTC().Format("2006-01-02 15:04:05 UTC"), strings.TrimRight(entry, " \t\n"))

	file, err := os.OpenFile(m.historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	return nil
}

// ReadHistory returns HISTORY.md, or "" when it does not exist.
func (m *Memory) ReadHistory() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return readOptional(m.historyPath)
}

func readOptional(path string) (string, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	return string(content), nil
}
