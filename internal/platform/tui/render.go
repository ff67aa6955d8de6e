package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vovakirdan/netplay/internal/checksum"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229"))
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
	pausedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("208"))
)

// healthStyles colours the sync health column.
var healthStyles = map[checksum.Status]lipgloss.Style{
	checksum.StatusPending:        lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	checksum.StatusInSync:         lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	checksum.StatusDesyncDetected: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
}

func renderHealth(s checksum.Status) string {
	style, ok := healthStyles[s]
	if !ok {
		style = healthStyles[checksum.StatusPending]
	}
	return style.Render(s.String())
}

// centerText pads text so it sits in the middle of width columns.
func centerText(text string, width int) string {
	w := lipgloss.Width(text)
	if w >= width {
		return text
	}
	return strings.Repeat(" ", (width-w)/2) + text
}
