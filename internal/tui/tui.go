package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/besim-project/besimd/internal/shadow"
)

// Run starts the monitor against the given shadow store, blocking
// until the user quits.
func Run(store *shadow.Store) error {
	model := New(store)
	program := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("tui: run: %w", err)
	}
	return nil
}
