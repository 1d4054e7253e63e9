package channel

import (
	"strings"

	"grip/pkg/bus"
)

// Command describes one control command handled by the gateway.
type Command struct {
	Name        string
	Description string
}

// Commands lists the control commands in menu order.
var Commands = []Command{
	{Name: "new", Description: "Start a fresh conversation"},
	{Name: "status", Description: "Show session info"},
	{Name: "model", Description: "Show or switch AI model"},
	{Name: "trust", Description: "Trust a directory (e.g. /trust ~/Downloads)"},
	{Name: "undo", Description: "Remove last exchange"},
	{Name: "clear", Description: "Clear conversation history"},
	{Name: "compact", Description: "Summarize and compress history"},
}

// IsCommand reports whether name is a gateway control command.
func IsCommand(name string) bool {
	for _, cmd := range Commands {
		if cmd.Name == name {
			return true
		}
	}

	return false
}

// ParseCommand recognizes "/cmd arg" and "!cmd arg". Telegram-style
// "/cmd@botname" suffixes are dropped. ok is false when text is not a command
// prefix at all; name may still be an unknown command when ok is true.
func ParseCommand(text string) (name string, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if len(text) < 2 || (text[0] != '/' && text[0] != '!') {
		return "", "", false
	}

	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	name = strings.ToLower(strings.TrimSpace(head))
	if name == "" {
		return "", "", false
	}

	return name, strings.TrimSpace(rest), true
}

// CommandMetadata builds the inbound metadata for a control command. model
// and trust also carry their argument under the keys the gateway reads.
func CommandMetadata(name string, arg string) map[string]string {
	metadata := map[string]string{
		bus.MetaCommand: name,
		bus.MetaArg:     arg,
	}

	switch name {
	case "model":
		metadata[bus.MetaModelName] = arg
	case "trust":
		metadata[bus.MetaTrustPath] = arg
	}

	return metadata
}

// HelpText renders the command menu.
func HelpText() string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	b.WriteString("/help - List available commands\n")
	for _, cmd := range Commands {
		b.WriteString("/" + cmd.Name + " - " + cmd.Description + "\n")
	}
	b.WriteString("\nSend any text message to chat with the AI.")

	return b.String()
}
