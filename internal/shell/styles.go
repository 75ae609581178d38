// Package shell implements a REPL client driving the HTTP/WS API: the
// "reconscan shell" subcommand issues scans and prints
// streamed events with lipgloss styling, grounded on
// carverauto/serviceradar's pkg/cli terminal styling.
package shell

import "github.com/charmbracelet/lipgloss"

var (
	styleTarget = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD")).Bold(true)
	styleOpen   = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B")).Bold(true)
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C")).Bold(true)
	styleError  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true)
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
	stylePrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("#BD93F9")).Bold(true)
)
