// Package styles provides Lip Gloss styling for the TUI.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	Primary     = lipgloss.Color("#7C3AED") // Purple
	Secondary   = lipgloss.Color("#10B981") // Green
	Accent      = lipgloss.Color("#F59E0B") // Amber
	Error       = lipgloss.Color("#EF4444") // Red
	Surface     = lipgloss.Color("#374151") // Lighter dark gray
	TextPrimary = lipgloss.Color("#F9FAFB") // Almost white
	TextMuted   = lipgloss.Color("#9CA3AF") // Light gray

	// Header
	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		Padding(0, 1).
		MarginBottom(1)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(TextPrimary)

	Subtitle = lipgloss.NewStyle().
			Foreground(TextMuted).
			Italic(true)

	// Status panel
	Label = lipgloss.NewStyle().
		Foreground(TextMuted).
		Width(22)

	Value = lipgloss.NewStyle().
		Foreground(TextPrimary)

	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Surface).
		Padding(0, 1)

	// Status bar
	StatusBar = lipgloss.NewStyle().
			Foreground(TextMuted).
			Padding(0, 1)

	// States
	ErrorText = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	InfoText = lipgloss.NewStyle().
			Foreground(Accent)

	SuccessText = lipgloss.NewStyle().
			Foreground(Secondary)

	MutedText = lipgloss.NewStyle().
			Foreground(TextMuted)

	// Help
	HelpKey = lipgloss.NewStyle().
		Foreground(Primary).
		Bold(true)

	HelpDesc = lipgloss.NewStyle().
			Foreground(TextMuted)

	Spinner = lipgloss.NewStyle().
		Foreground(Primary)

	// Chapter marker in the activity log
	ChapterMarker = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)
)

// Width returns the available width for content.
func Width(termWidth int) int {
	return termWidth - 4 // Account for padding
}
