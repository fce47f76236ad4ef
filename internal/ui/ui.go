// Package ui provides terminal rendering helpers for CLI output.
//
// Styles apply only when stdout is a terminal with color support and
// NO_COLOR is unset; piped output stays plain so scripts can parse it.
package ui

import (
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	boldStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	colorOnce sync.Once
	colorOK   bool
)

// Enabled reports whether stdout wants styled output.
func Enabled() bool {
	colorOnce.Do(func() {
		if os.Getenv("NO_COLOR") != "" {
			return
		}
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return
		}
		colorOK = termenv.ColorProfile() != termenv.Ascii
	})
	return colorOK
}

func render(style lipgloss.Style, s string) string {
	if !Enabled() {
		return s
	}
	return style.Render(s)
}

// RenderAccent highlights informational markers.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass highlights success markers.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn highlights warnings.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail highlights failures.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderBold emphasizes labels.
func RenderBold(s string) string { return render(boldStyle, s) }

// RenderDim de-emphasizes secondary detail.
func RenderDim(s string) string { return render(dimStyle, s) }

// RenderPanel wraps content in a rounded border on terminals.
func RenderPanel(s string) string {
	if !Enabled() {
		return s
	}
	return panelStyle.Render(s)
}
