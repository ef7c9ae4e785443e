// Package ui holds the terminal styling helpers shared by the tdv
// commands. Styling degrades to plain text for pipes, dumb terminals,
// and NO_COLOR environments.
package ui

import (
	"os"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

// Enabled reports whether styled output should be produced at all.
func Enabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Init pins the color profile for the process. Call once at startup;
// without it lipgloss probes stdout on first render, which misfires when
// output is piped mid-command.
func Init() {
	if !Enabled() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// Accent styles headings and identifiers.
func Accent(s string) string { return accentStyle.Render(s) }

// Pass styles success markers.
func Pass(s string) string { return passStyle.Render(s) }

// Warn styles warnings.
func Warn(s string) string { return warnStyle.Render(s) }

// Fail styles errors.
func Fail(s string) string { return failStyle.Render(s) }

// Dim styles secondary detail.
func Dim(s string) string { return dimStyle.Render(s) }

// Bold styles emphasis without color.
func Bold(s string) string { return boldStyle.Render(s) }

// Banner renders a section heading with an underline matched to the
// title's width.
func Banner(title string) string {
	rule := strings.Repeat("─", utf8.RuneCountInString(title))
	return Accent(title) + "\n" + Dim(rule)
}

// Checkbox renders a completion marker.
func Checkbox(done bool) string {
	if done {
		return Pass("[x]")
	}
	return Dim("[ ]")
}

// PriorityLabel renders a priority as P1..P9, colored by urgency band:
// 1-3 high, 4-6 medium, 7-9 low. Zero (unset) renders empty.
func PriorityLabel(priority int) string {
	if priority < 1 || priority > 9 {
		return ""
	}
	label := "P" + string(rune('0'+priority))
	switch {
	case priority <= 3:
		return Fail(label)
	case priority <= 6:
		return Warn(label)
	default:
		return Dim(label)
	}
}
