package chat

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// RunInteractive drives the terminal UI until the user quits. ch must already
// be started on the gateway bus.
func RunInteractive(ctx context.Context, ch *Channel, info RuntimeInfo) error {
	model := newModel(ctx, ch.Submit, false, "", info)
	program := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen(), tea.WithMouseCellMotion())
	ch.attach(program)
	defer ch.attach(nil)

	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Println(renderGoodbyeBanner())
	return nil
}

// RunOneShot sends prompt, renders the reply and exits.
func RunOneShot(ctx context.Context, ch *Channel, info RuntimeInfo, prompt string) error {
	model := newModel(ctx, ch.Submit, true, prompt, info)
	program := tea.NewProgram(model, tea.WithContext(ctx))
	ch.attach(program)
	defer ch.attach(nil)

	_, err := program.Run()
	return err
}

func renderGoodbyeBanner() string {
	return title(defaultPalette.paper, defaultPalette.brand).Padding(1, 2).Render("Thanks for using grip")
}
