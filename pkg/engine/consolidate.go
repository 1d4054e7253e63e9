package engine

import (
	"fmt"
	"strings"
	"time"

	"grip/pkg/session"
)

var timeNow = time.Now

const consolidationPrompt = "You are a memory consolidation assistant. Review the following conversation " +
	"and extract the key facts, decisions, and important information that should " +
	"be remembered long-term.\n\n" +
	"Rules:\n" +
	"- Extract only durable facts (user preferences, project decisions, names, " +
	"technical choices, important outcomes).\n" +
	"- Skip transient information (greetings, small talk, tool execution details).\n" +
	"- Format as a bulleted list with concise entries.\n" +
	"- If there are no important facts to extract, respond with 'No new facts.'\n\n" +
	"Conversation:\n"

func formatForConsolidation(messages []session.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == session.RoleSystem || msg.Content == "" {
			continue
		}
		lines = append(lines, strings.ToUpper(msg.Role)+": "+truncate(msg.Content, 2000))
	}

	return strings.Join(lines, "\n")
}

// historySummary is the one-line HISTORY.md record of a consolidated batch.
func historySummary(messages []session.Message) string {
	topics := make([]string, 0, 5)
	users := 0
	for _, msg := range messages {
		if msg.Role != session.RoleUser || msg.Content == "" {
			continue
		}
		users++
		if users > 5 {
			continue
		}
		snippet := strings.TrimSpace(strings.ReplaceAll(truncate(msg.Content, 80), "\n", " "))
		if snippet != "" {
			topics = append(topics, snippet)
		}
	}

	if users == 0 {
		return fmt.Sprintf("Consolidated %d messages (no user content)", len(messages))
	}

	return fmt.Sprintf("Consolidated %d messages. Topics: %s", len(messages), strings.Join(topics, "; "))
}
