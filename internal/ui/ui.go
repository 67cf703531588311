// Package ui provides the styled terminal output helpers used by the CLI.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	// Colors
	accentColor = lipgloss.Color("#06B6D4")
	passColor   = lipgloss.Color("#10B981")
	warnColor   = lipgloss.Color("#F59E0B")
	errorColor  = lipgloss.Color("#EF4444")
	mutedColor  = lipgloss.Color("#6B7280")

	// Styles
	accentStyle = lipgloss.NewStyle().Foreground(accentColor)
	passStyle   = lipgloss.NewStyle().Foreground(passColor).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(warnColor)
	errorStyle  = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	headerStyle = lipgloss.NewStyle().Bold(true)

	colorEnabled = termenv.DefaultOutput().Profile != termenv.Ascii
)

func render(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

// RenderAccent styles informational markers.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass styles success markers.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn styles warnings.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderError styles errors.
func RenderError(s string) string { return render(errorStyle, s) }

// RenderMuted styles de-emphasized detail lines.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// RenderHeader styles section headers.
func RenderHeader(s string) string { return render(headerStyle, s) }
