// Package tui holds the interactive terminal screens: login, the chat
// surface shared by role-play and knowledge-base questions, and the document
// ingestion progress display.
package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/ragone/internal/client"
)

// Theme holds the color scheme for every screen.
type Theme struct {
	Title      lipgloss.Color
	User       lipgloss.Color
	Reply      lipgloss.Color
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// DefaultTheme provides default colors.
var DefaultTheme = Theme{
	Title:      lipgloss.Color("#AF87FF"), // lavender
	User:       lipgloss.Color("#5FAFD7"), // light blue
	Reply:      lipgloss.Color("#D0D0D0"), // light gray
	Status:     lipgloss.Color("#5FAFD7"),
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) titleStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Title).Bold(true)
}

func (t Theme) userStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.User).Bold(true)
}

func (t Theme) replyStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Reply)
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// ErrorText formats err as a one-line notification with a recovery hint
// when one applies.
func ErrorText(err error) string {
	msg := err.Error()
	if hint := client.Hint(err); hint != "" {
		msg += ". " + hint
	}
	return msg
}
