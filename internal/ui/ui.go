// Package ui provides shared terminal styling for plog command output.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
)

// RenderPass styles a success marker.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn styles a warning marker.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderErr styles an error marker.
func RenderErr(s string) string { return errStyle.Render(s) }

// RenderAccent styles an informational marker.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderFaint styles secondary detail text.
func RenderFaint(s string) string { return faintStyle.Render(s) }
