// Package tui is the live Bubble Tea dashboard for netplay runs.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vovakirdan/netplay/internal/match"
)

// TickMsg is sent to trigger a redraw.
type TickMsg time.Time

// StatsMsg carries one peer's snapshot from the runners.
type StatsMsg match.Stats

// FinishedMsg is sent once the stats channel is closed.
type FinishedMsg struct{}

// tickCmd returns a Bubble Tea command that sends tick messages at the specified rate.
func tickCmd(tickRate int) tea.Cmd {
	interval := time.Second / time.Duration(tickRate)
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// waitForStats blocks on the channel in the background until the next
// snapshot arrives.
func waitForStats(ch <-chan match.Stats) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return FinishedMsg{}
		}
		return StatsMsg(st)
	}
}
