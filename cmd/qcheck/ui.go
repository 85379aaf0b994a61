package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"

	"qcheck/internal/driver"
	"qcheck/internal/ui"
)

type uiMode uint8

const (
	uiModeAuto uiMode = iota
	uiModeOn
	uiModeOff
)

func readUIMode(value string) (uiMode, error) {
	switch value {
	case "", "auto":
		return uiModeAuto, nil
	case "on":
		return uiModeOn, nil
	case "off":
		return uiModeOff, nil
	}
	return uiModeOff, fmt.Errorf("invalid --ui value %q (want auto|on|off)", value)
}

func shouldUseTUI(mode uiMode) bool {
	switch mode {
	case uiModeOn:
		return true
	case uiModeOff:
		return false
	}
	return isTerminal(os.Stdout) && isTerminal(os.Stderr)
}

func colorEnabled() bool {
	return !color.NoColor
}

// runProgress blocks until events is closed or the user quits the view.
func runProgress(title string, units []string, events <-chan driver.Event) error {
	model := ui.NewProgressModel(title, units, events)
	_, err := tea.NewProgram(model, tea.WithOutput(os.Stderr)).Run()
	return err
}
