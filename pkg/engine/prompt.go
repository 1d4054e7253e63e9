package engine

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ProfileFileName is the workspace file that replaces the built-in system prompt.
const ProfileFileName = "AGENT.md"

//go:embed templates/*.md
var templatesFS embed.FS

// ResolveSystemPrompt returns <workspaceRoot>/AGENT.md when it exists and is
// not blank, otherwise the built-in default profile.
func ResolveSystemPrompt(workspaceRoot string) (string, error) {
	if strings.TrimSpace(workspaceRoot) != "" {
		content, err := os.ReadFile(filepath.Join(workspaceRoot, ProfileFileName))
		switch {
		case err == nil:
			if profile := strings.TrimSpace(string(content)); profile != "" {
				return profile, nil
			}
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("read %s: %w", ProfileFileName, err)
		}
	}

	content, err := templatesFS.ReadFile("templates/system.md")
	if err != nil {
		return "", fmt.Errorf("load default profile template: %w", err)
	}

	profile := strings.TrimSpace(string(content))
	if profile == "" {
		return "", errors.New("default profile template is empty")
	}

	return profile, nil
}

func buildSystemPrompt(profile string, memory string, summary string) string {
	sections := []string{strings.TrimSpace(profile)}
	if memory = strings.TrimSpace(memory); memory != "" {
		sections = append(sections, "## Long-term memory\n\n"+memory)
	}
	if summary = strings.TrimSpace(summary); summary != "" {
		sections = append(sections, summary)
	}

	return strings.Join(sections, "\n\n")
}
