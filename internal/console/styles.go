package console

import "github.com/charmbracelet/lipgloss"

var (
	colorWarning = lipgloss.Color("214") // orange
	colorError   = lipgloss.Color("196") // red
	colorMuted   = lipgloss.Color("242") // gray
)

var (
	bannerStyle = lipgloss.NewStyle().Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle  = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
)

// Level selects the style of a notice.
type Level int

const (
	Plain Level = iota
	Muted
	Warning
	Failure
	Banner
)

func (c *Console) style(l Level, text string) string {
	if !c.color {
		return text
	}
	switch l {
	case Muted:
		return mutedStyle.Render(text)
	case Warning:
		return warnStyle.Render(text)
	case Failure:
		return errorStyle.Render(text)
	case Banner:
		return bannerStyle.Render(text)
	default:
		return text
	}
}
