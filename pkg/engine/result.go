// Package engine runs one conversational turn against a language model, backed
// by the on-disk session store and the workspace memory files.
package engine

import (
	"strconv"
	"strings"
)

// Outbound metadata keys used to carry run accounting to channels.
const (
	IterationsKey        = "iterations"
	UsageInputTokensKey  = "usage_input_tokens"
	UsageOutputTokensKey = "usage_output_tokens"
	UsageTotalTokensKey  = "usage_total_tokens"
	ToolCallsKey         = "tool_calls"
)

// RunResult is what every engine returns after a run. Only Response is
// guaranteed to be set.
type RunResult struct {
	Response         string
	Iterations       int
	PromptTokens     int64
	CompletionTokens int64
	ToolCallsMade    []string
}

func (r RunResult) TotalTokens() int64 {
	return r.PromptTokens + r.CompletionTokens
}

// Metadata serializes iteration, token and tool call counts into outbound
// metadata.
func (r RunResult) Metadata() map[string]string {
	metadata := map[string]string{
		IterationsKey: strconv.Itoa(r.Iterations),
	}
	if r.TotalTokens() > 0 {
		metadata[UsageInputTokensKey] = strconv.FormatInt(r.PromptTokens, 10)
		metadata[UsageOutputTokensKey] = strconv.FormatInt(r.CompletionTokens, 10)
		metadata[UsageTotalTokensKey] = strconv.FormatInt(r.TotalTokens(), 10)
	}
	if len(r.ToolCallsMade) > 0 {
		metadata[ToolCallsKey] = strings.Join(r.ToolCallsMade, ",")
	}

	return metadata
}

// ResultFromMetadata rebuilds the accounting part of a RunResult from outbound
// metadata. Missing or malformed values read as zero.
func ResultFromMetadata(text string, metadata map[string]string) RunResult {
	result := RunResult{Response: text}
	if metadata == nil {
		return result
	}

	result.Iterations = int(parseInt64(metadata[IterationsKey]))
	result.PromptTokens = parseInt64(metadata[UsageInputTokensKey])
	result.CompletionTokens = parseInt64(metadata[UsageOutputTokensKey])
	if calls := strings.TrimSpace(metadata[ToolCallsKey]); calls != "" {
		result.ToolCallsMade = strings.Split(calls, ",")
	}

	return result
}

func parseInt64(value string) int64 {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0
	}

	return parsed
}
