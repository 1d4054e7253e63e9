package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"grip/pkg/workspace"
)

// DefaultCacheSize bounds the number of sessions kept in memory.
const DefaultCacheSize = 200

var unsafeKeyChars = regexp.MustCompile(`[^\w\-.]`)

// Store loads and saves sessions under one directory. Callers receive copies,
// so a session is only shared once it is saved back.
type Store struct {
	dir   string
	cache *lru.Cache[string, *Session]
	log   *slog.Logger

	mu sync.Mutex
}

// NewStore creates dir when missing and returns a store with an LRU cache of
// cacheSize sessions (DefaultCacheSize when <= 0).
func NewStore(dir string, cacheSize int, log *slog.Logger) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if log == nil {
		log = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}

	cache, err := lru.New[string, *Session](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}

	return &Store{
		dir:   dir,
		cache: cache,
		log:   log.With("component", "session.store"),
	}, nil
}

// Get loads an existing session. It reports false when none exists or the
// file is corrupt.
func (s *Store) Get(key string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.loadLocked(key)
	if !ok {
		return nil, false
	}

	return session.clone(), true
}

// GetOrCreate loads a session or returns a new empty one. New sessions are not
// written until Save.
func (s *Store) GetOrCreate(key string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.loadLocked(key); ok {
		return session.clone()
	}

	session := newSession(key)
	s.cache.Add(key, session)
	s.log.Debug("Created new session", "session_key", key)

	return session.clone()
}

// Save persists session atomically and refreshes the cache.
func (s *Store) Save(session *Session) error {
	if session == nil || strings.TrimSpace(session.Key) == "" {
		return errors.New("session key is required")
	}

	stored := session.clone()
	stored.UpdatedAt = time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = stored.UpdatedAt
	}
	if stored.Messages == nil {
		stored.Messages = []Message{}
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := workspace.WriteFileAtomic(s.pathFor(stored.Key), data, 0o600); err != nil {
		return fmt.Errorf("save session %q: %w", stored.Key, err)
	}
	s.cache.Add(stored.Key, stored)
	s.log.Debug("Saved session", "session_key", stored.Key, "messages", stored.MessageCount())

	return nil
}

// Delete removes a session from disk and cache. It reports whether a file
// existed.
func (s *Store) Delete(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Remove(key)

	err := os.Remove(s.pathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete session %q: %w", key, err)
	}
	s.log.Debug("Deleted session", "session_key", key)

	return true, nil
}

// ListSessions returns every session key found on disk or in cache, sorted.
func (s *Store) ListSessions() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make(map[string]struct{})
	cachedNames := make(map[string]struct{})
	for _, key := range s.cache.Keys() {
		keys[key] = struct{}{}
		cachedNames[sanitizeKey(key)] = struct{}{}
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		stem := strings.TrimSuffix(name, ".json")
		if _, ok := cachedNames[stem]; ok {
			continue
		}

		session, err := s.readFile(filepath.Join(s.dir, name))
		if err != nil {
			keys[stem] = struct{}{}
			continue
		}
		keys[session.Key] = struct{}{}
	}

	result := make([]string, 0, len(keys))
	for key := range keys {
		result = append(result, key)
	}
	slices.Sort(result)

	return result, nil
}

func (s *Store) loadLocked(key string) (*Session, bool) {
	if session, ok := s.cache.Get(key); ok {
		return session, true
	}

	path := s.pathFor(key)
	session, err := s.readFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false
	}
	if err != nil {
		s.log.Warn("Corrupt session file", "path", path, "error", err)
		return nil, false
	}

	s.cache.Add(key, session)
	s.log.Debug("Loaded session", "session_key", key, "messages", session.MessageCount())

	return session, true
}

func (s *Store) readFile(path string) (*Session, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var session Session
	if err := json.Unmarshal(content, &session); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	if session.Key == "" {
		return nil, errors.New("session file has no key")
	}
	if session.Messages == nil {
		session.Messages = []Message{}
	}

	return &session, nil
}

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key)+".json")
}

func sanitizeKey(key string) string {
	return unsafeKeyChars.ReplaceAllString(key, "_")
}
