// Package fantasy exposes the workspace file operations as fantasy agent tools.
package fantasy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	core "charm.land/fantasy"

	fstools "grip/pkg/tools/fs"
	"grip/pkg/workspace"
)

type readFileInput struct {
	Path string `json:"path" description:"File path, relative to the workspace or absolute inside a trusted directory."`
}

type writeFileInput struct {
	Path    string `json:"path" description:"File path, relative to the workspace or absolute inside a trusted directory."`
	Content string `json:"content" description:"Full file content to write."`
}

type appendFileInput struct {
	Path    string `json:"path" description:"File path, relative to the workspace or absolute inside a trusted directory."`
	Content string `json:"content" description:"Text to append at the end of the file."`
}

type listDirInput struct {
	Path string `json:"path,omitempty" description:"Directory to list. Defaults to the workspace root."`
}

type editFileInput struct {
	Path       string `json:"path" description:"File path, relative to the workspace or absolute inside a trusted directory."`
	OldText    string `json:"old_text" description:"Exact text to replace."`
	NewText    string `json:"new_text" description:"Replacement text."`
	ReplaceAll bool   `json:"replace_all,omitempty" description:"Replace every match. When false old_text must match exactly once."`
}

// BuildFSTools returns read_file, write_file, append_file, list_dir and
// edit_file bound to svc.
func BuildFSTools(svc *fstools.Service, log *slog.Logger) []core.AgentTool {
	if svc == nil {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "tools.fs")

	return []core.AgentTool{
		newTool(log, "read_file", "Read a UTF-8 text file.", func(ctx context.Context, in readFileInput) (string, error) {
			result, err := svc.ReadFile(ctx, in.Path)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("ok: read %d bytes from %s\n%s", result.Bytes, svc.Display(result.Path), result.Content), nil
		}),
		newTool(log, "write_file", "Create or overwrite a text file.", func(ctx context.Context, in writeFileInput) (string, error) {
			result, err := svc.WriteFile(ctx, in.Path, in.Content)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("ok: wrote %d bytes to %s", result.BytesWritten, svc.Display(result.Path)), nil
		}),
		newTool(log, "append_file", "Append text to a file, creating it when missing.", func(ctx context.Context, in appendFileInput) (string, error) {
			result, err := svc.AppendFile(ctx, in.Path, in.Content)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("ok: appended %d bytes to %s (size=%d)", result.BytesAppended, svc.Display(result.Path), result.Size), nil
		}),
		newTool(log, "list_dir", "List a directory.", func(ctx context.Context, in listDirInput) (string, error) {
			result, err := svc.ListDir(ctx, in.Path)
			if err != nil {
				return "", err
			}
			return formatListing(svc, result), nil
		}),
		newTool(log, "edit_file", "Replace exact text in a file.", func(ctx context.Context, in editFileInput) (string, error) {
			result, err := svc.EditFile(ctx, in.Path, in.OldText, in.NewText, in.ReplaceAll)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("ok: replaced %d match(es) in %s", result.ReplacedCount, svc.Display(result.Path)), nil
		}),
	}
}

// newTool adapts run to a fantasy tool. Failures become error responses the
// model can read; they never abort the agent loop.
func newTool[T any](log *slog.Logger, name string, description string, run func(context.Context, T) (string, error)) core.AgentTool {
	return core.NewAgentTool(name, description, func(ctx context.Context, input T, _ core.ToolCall) (core.ToolResponse, error) {
		start := time.Now()
		text, err := run(ctx, input)
		elapsed := time.Since(start).Milliseconds()
		if err != nil {
			log.Debug("Tool failed", "tool", name, "duration_ms", elapsed, "error_category", workspace.CategoryFromError(err))
			return errorResponse(err), nil
		}

		log.Debug("Tool completed", "tool", name, "duration_ms", elapsed)
		return core.NewTextResponse(text), nil
	})
}

func formatListing(svc *fstools.Service, result fstools.ListResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ok: listed %d entries in %s", len(result.Entries), svc.Display(result.Path))
	if result.Truncated {
		fmt.Fprintf(&b, " (truncated from %d)", result.Total)
	}
	for _, entry := range result.Entries {
		kind := "file"
		if entry.IsDir {
			kind = "dir"
		}
		fmt.Fprintf(&b, "\n- %s\t%s\t%d", entry.Name, kind, entry.Size)
	}

	return b.String()
}

func errorResponse(err error) core.ToolResponse {
	message := err.Error()
	if category := workspace.CategoryFromError(err); !strings.HasPrefix(message, category) {
		message = category + ": " + message
	}

	return core.NewTextErrorResponse(message)
}
