// Package trust persists the set of filesystem directories the user has
// allowed the agent to access outside its workspace.
package trust

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"grip/pkg/workspace"
)

const fileName = "trusted_dirs.json"

type fileFormat struct {
	Directories []string `json:"directories"`
}

// Store is a mutex-guarded set of trusted directories backed by a JSON file.
type Store struct {
	path      string
	workspace string
	log       *slog.Logger

	mu      sync.RWMutex
	trusted map[string]struct{}
}

// NewStore loads <stateDir>/trusted_dirs.json. A missing or unreadable file
// yields an empty store. workspaceRoot is always considered trusted.
func NewStore(stateDir string, workspaceRoot string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}

	s := &Store{
		path:      filepath.Join(stateDir, fileName),
		workspace: workspaceRoot,
		log:       log.With("component", "trust"),
		trusted:   make(map[string]struct{}),
	}
	s.load()

	return s
}

func (s *Store) load() {
	content, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		s.log.Warn("Failed to read trusted directories", "path", s.path, "error", err)
		return
	}

	var data fileFormat
	if err := json.Unmarshal(content, &data); err != nil {
		s.log.Warn("Failed to parse trusted directories", "path", s.path, "error", err)
		return
	}

	for _, dir := range data.Directories {
		s.trusted[dir] = struct{}{}
	}
	s.log.Debug("Loaded trusted directories", "count", len(s.trusted))
}

// TrustedDirectories returns the trusted paths in sorted order.
func (s *Store) TrustedDirectories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedKeys(s.trusted)
}

// Trust resolves dir and persists it as trusted. It returns the resolved path.
func (s *Store) Trust(dir string) (string, error) {
	resolved, err := workspace.ResolvePath(dir)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trusted[resolved]; ok {
		return resolved, nil
	}

	s.trusted[resolved] = struct{}{}
	if err := s.saveLocked(); err != nil {
		delete(s.trusted, resolved)
		return "", err
	}
	s.log.Info("Trusted directory", "path", resolved)

	return resolved, nil
}

// Revoke removes dir from the trusted set. It reports false when dir was not
// trusted.
func (s *Store) Revoke(dir string) (bool, error) {
	resolved, err := workspace.ResolvePath(dir)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trusted[resolved]; !ok {
		return false, nil
	}

	delete(s.trusted, resolved)
	if err := s.saveLocked(); err != nil {
		s.trusted[resolved] = struct{}{}
		return false, err
	}
	s.log.Info("Revoked trust", "path", resolved)

	return true, nil
}

// IsTrusted reports whether path lies inside the workspace or any trusted
// directory.
func (s *Store) IsTrusted(path string) bool {
	resolved, err := workspace.ResolvePath(path)
	if err != nil {
		return false
	}

	if s.workspace != "" && workspace.IsWithin(s.workspace, resolved) {
		return true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for dir := range s.trusted {
		if workspace.IsWithin(dir, resolved) {
			return true
		}
	}

	return false
}

// TrustTarget picks the directory to trust for path: the first child of the
// home directory for paths under home, else the first component below root.
func TrustTarget(path string) (string, error) {
	resolved, err := workspace.ResolvePath(path)
	if err != nil {
		return "", err
	}

	if home, err := os.UserHomeDir(); err == nil {
		if realHome, err := workspace.ResolvePath(home); err == nil {
			if rel, err := filepath.Rel(realHome, resolved); err == nil && workspace.IsWithin(realHome, resolved) {
				if rel == "." {
					return resolved, nil
				}
				return filepath.Join(realHome, firstComponent(rel)), nil
			}
		}
	}

	volume := filepath.VolumeName(resolved)
	rest := resolved[len(volume):]
	rel, err := filepath.Rel(string(filepath.Separator), rest)
	if err != nil || rel == "." {
		return resolved, nil
	}

	return volume + string(filepath.Separator) + firstComponent(rel), nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(fileFormat{Directories: sortedKeys(s.trusted)}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode trusted directories: %w", err)
	}

	if err := workspace.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("save trusted directories: %w", err)
	}

	return nil
}

func firstComponent(rel string) string {
	for {
		dir := filepath.Dir(rel)
		if dir == "." {
			return rel
		}
		rel = dir
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	return keys
}
