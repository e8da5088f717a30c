package status

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	ColorNeon    = lipgloss.Color("#00FF9C")
	ColorBlue    = lipgloss.Color("#00E5FF")
	ColorPink    = lipgloss.Color("#FF007A") // errors
	ColorYellow  = lipgloss.Color("#FFD166") // warnings
	ColorDimmed  = lipgloss.Color("#666666")
	ColorSuccess = lipgloss.Color("#00B894")

	// Styles
	StyleTarget = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorNeon).
			Width(8)

	StyleCompiling = lipgloss.NewStyle().Foreground(ColorBlue)
	StyleSuccess   = lipgloss.NewStyle().Foreground(ColorSuccess)
	StyleFailed    = lipgloss.NewStyle().Foreground(ColorPink).Bold(true)
	StyleWarning   = lipgloss.NewStyle().Foreground(ColorYellow)
	StyleDimmed    = lipgloss.NewStyle().Foreground(ColorDimmed)

	StyleErrors = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(ColorPink).
			PaddingLeft(1)
)
