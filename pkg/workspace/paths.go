package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath expands "~", makes the path absolute, and resolves symlinks on
// the longest existing prefix. The path itself need not exist.
func ResolvePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", NewError(ErrorInvalidPath, "path must not be empty")
	}

	abs, err := absolute(path)
	if err != nil {
		return "", NewError(ErrorInvalidPath, "path could not be resolved")
	}

	// Walk up until a prefix exists, then re-attach the missing tail.
	head, tail := abs, ""
	for {
		resolved, err := filepath.EvalSymlinks(head)
		if err == nil {
			return filepath.Join(resolved, tail), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", FromOS(err, "resolve path")
		}

		parent := filepath.Dir(head)
		if parent == head {
			return "", NewError(ErrorInvalidPath, "path could not be resolved")
		}
		tail = filepath.Join(filepath.Base(head), tail)
		head = parent
	}
}

// IsWithin reports whether target equals root or lies beneath it. Both must
// already be clean absolute paths.
func IsWithin(root string, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// absolute expands a leading "~" and returns a clean absolute path.
func absolute(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}

	return filepath.Abs(path)
}
