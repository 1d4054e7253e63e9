package channel

import "strings"

// SplitMessage breaks text into chunks of at most maxLen characters. A chunk
// ends at the last newline before the limit when that newline sits at or past
// the halfway point; otherwise it is cut at the limit. Newlines at the start
// of the remainder are dropped.
func SplitMessage(text string, maxLen int) []string {
	runes := []rune(text)
	if maxLen <= 0 || len(runes) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}

		cut := lastNewline(runes[:maxLen])
		if cut < 0 || cut < maxLen/2 {
			cut = maxLen
		}

		chunks = append(chunks, string(runes[:cut]))
		runes = []rune(strings.TrimLeft(string(runes[cut:]), "\n"))
	}

	return chunks
}

func lastNewline(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}

	return -1
}
