// Package workspace owns the on-disk layout of a grip workspace and the path
// rules the file tools apply to it.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultRoot is used when the config leaves the workspace empty. It is
// relative to the user's home directory.
const DefaultRoot = ".grip/workspace"

// HeartbeatFileName is the user-editable prompt read by the heartbeat.
const HeartbeatFileName = "HEARTBEAT.md"

// layout lists the directories Open creates beneath the root.
var layout = []string{"sessions", "cron", "state", "memory", "logs"}

// Workspace names the on-disk layout shared by the stores.
type Workspace struct {
	root string
}

// Open resolves path, creating the root and its standard subdirectories.
func Open(path string) (*Workspace, error) {
	root, err := ResolveRoot(path)
	if err != nil {
		return nil, err
	}

	for _, dir := range layout {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create workspace %s directory: %w", dir, err)
		}
	}

	return &Workspace{root: root}, nil
}

// ResolveRoot turns the configured workspace into a canonical absolute path,
// creating the directory when missing. "" selects DefaultRoot under $HOME.
func ResolveRoot(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("~", DefaultRoot)
	}

	abs, err := absolute(path)
	if err != nil {
		return "", fmt.Errorf("resolve workspace path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create workspace directory: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", FromOS(err, "resolve workspace root")
	}

	return resolved, nil
}

func (w *Workspace) Root() string {
	if w == nil {
		return ""
	}

	return w.root
}

func (w *Workspace) SessionsDir() string { return filepath.Join(w.Root(), "sessions") }

func (w *Workspace) CronDir() string { return filepath.Join(w.Root(), "cron") }

func (w *Workspace) StateDir() string { return filepath.Join(w.Root(), "state") }

func (w *Workspace) MemoryDir() string { return filepath.Join(w.Root(), "memory") }

func (w *Workspace) LogsDir() string { return filepath.Join(w.Root(), "logs") }

func (w *Workspace) HeartbeatFile() string { return filepath.Join(w.Root(), HeartbeatFileName) }
