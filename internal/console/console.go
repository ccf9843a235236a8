// Package console renders operator-facing banners and implements the hold
// primitive an engine process uses to wait for acknowledgement.
package console

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Banner renders a titled panel with one numbered line per guide step.
func Banner(title string, steps []string) string {
	lines := make([]string, 0, len(steps))
	for i, s := range steps {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, s))
	}
	body := titleStyle.Render(title)
	if len(lines) > 0 {
		body += "\n\n" + strings.Join(lines, "\n")
	}
	return panelStyle.Render(body)
}

func Failure(title string, err error) string {
	return panelStyle.Render(errorStyle.Render(title) + "\n\n" + err.Error())
}

func Success(msg string) string {
	return okStyle.Render(msg)
}

func Muted(msg string) string {
	return mutedStyle.Render(msg)
}

func StdinIsTTY() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
