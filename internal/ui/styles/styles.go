// Package styles contains Lip Gloss style definitions.
package styles

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	// Text hierarchy
	TextPrimaryColor = lipgloss.AdaptiveColor{Light: "#2D3436", Dark: "#CCCCCC"}
	TextMutedColor   = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#696969"}

	BorderDefaultColor = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#696969"}

	StatusSuccessColor = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	StatusWarningColor = lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"}
	StatusErrorColor   = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}

	// Selection indicator color (">" prefix on the selected row)
	SelectionIndicatorColor = lipgloss.AdaptiveColor{Light: "#1A5276", Dark: "#FFFFFF"}

	// HeaderColor is the focused section border and title color. Overridden
	// by ui.header_color.
	HeaderColor lipgloss.TerminalColor = lipgloss.Color("#54A0FF")

	ToastBorderSuccessColor = StatusSuccessColor
	ToastBorderErrorColor   = StatusErrorColor
	ToastBorderInfoColor    = lipgloss.AdaptiveColor{Light: "#1E66F5", Dark: "#89B4FA"}
	ToastBorderWarnColor    = StatusWarningColor

	SelectionIndicatorStyle = lipgloss.NewStyle().Bold(true).Foreground(SelectionIndicatorColor)
	RowStyle                = lipgloss.NewStyle().Foreground(TextPrimaryColor)
	SelectedRowStyle        = lipgloss.NewStyle().Bold(true).Foreground(TextPrimaryColor)
	MutedStyle              = lipgloss.NewStyle().Foreground(TextMutedColor)
	ErrorStyle              = lipgloss.NewStyle().Foreground(StatusErrorColor)
	TitleStyle              = lipgloss.NewStyle().Bold(true).Padding(0, 1)

	RefreshButtonStyle = lipgloss.NewStyle().
				Padding(0, 1).
				Bold(true).
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(lipgloss.Color("#1A5276"))
)

// ApplyHeaderColor replaces HeaderColor. An empty value keeps the current one.
func ApplyHeaderColor(hex string) {
	if hex == "" {
		return
	}
	HeaderColor = lipgloss.Color(hex)
	TitleStyle = TitleStyle.Foreground(HeaderColor)
}
