// Package ui holds the terminal styles shared by the fieldsync commands.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Pass renders s as a success message.
func Pass(s string) string { return passStyle.Render(s) }

// Warn renders s as a warning.
func Warn(s string) string { return warnStyle.Render(s) }

// Err renders s as an error.
func Err(s string) string { return errStyle.Render(s) }

// Accent renders s emphasized.
func Accent(s string) string { return accentStyle.Render(s) }

// Dim renders s de-emphasized.
func Dim(s string) string { return dimStyle.Render(s) }

// Header renders s as a section header.
func Header(s string) string { return headerStyle.Render(s) }
