package types

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one provider-neutral chat message.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest asks a provider to answer Prompt given a system prompt and
// prior History.
type CompletionRequest struct {
	Model       string
	System      string
	History     []Message
	Prompt      string
	MaxTokens   int
	Temperature *float64
}

// CompletionResult is the normalized provider response payload. Steps counts
// model round trips; ToolCalls names every tool invoked, in order.
type CompletionResult struct {
	Text      string
	Provider  string
	Model     string
	Usage     TokenUsage
	Steps     int
	ToolCalls []string
}

// TokenUsage carries provider token accounting.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}
