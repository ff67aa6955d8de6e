package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vovakirdan/netplay/internal/match"
)

// Dashboard layout constants
const (
	refreshRate = 10 // redraws per second
	minHeight   = 12
	headerLines = 2 // column titles plus their bottom border
)

// tableHeight is the table height that shows every one of rows peers.
func tableHeight(rows int) int {
	return max(rows, 1) + headerLines
}

// DashboardModel is the Bubble Tea model for a live run.
type DashboardModel struct {
	title     string
	stats     <-chan match.Stats
	cancel    func()
	peers     map[string]match.Stats
	order     []string
	table     table.Model
	help      help.Model
	keys      DashboardKeyMap
	width     int
	height    int
	paused    bool
	showBoard bool
	finished  bool
	quitting  bool
}

// NewDashboardModel creates a dashboard reading from stats. cancel is
// called when the user quits; it may be nil.
func NewDashboardModel(title string, stats <-chan match.Stats, cancel func(), width, height int) DashboardModel {
	h := help.New()
	h.ShowAll = false

	m := DashboardModel{
		title:     title,
		stats:     stats,
		cancel:    cancel,
		peers:     make(map[string]match.Stats),
		keys:      DefaultDashboardKeyMap(),
		help:      h,
		width:     width,
		height:    max(height, minHeight),
		showBoard: true,
	}
	m.table = m.createTable()
	return m
}

// createTable creates a new table with one column per statistic.
func (m *DashboardModel) createTable() table.Model {
	columns := []table.Column{
		{Title: "Peer", Width: 6},
		{Title: "State", Width: 8},
		{Title: "Frame", Width: 7},
		{Title: "Conf", Width: 7},
		{Title: "Ahead", Width: 5},
		{Title: "Rollbk", Width: 6},
		{Title: "Resim", Width: 6},
		{Title: "Depth", Width: 5},
		{Title: "Stall", Width: 5},
		{Title: "Ping", Width: 7},
		{Title: "Kbps", Width: 5},
		{Title: "Queue", Width: 5},
		{Title: "Health", Width: 8},
		{Title: "Score", Width: 6},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	t.SetHeight(tableHeight(len(m.order)))
	return t
}

// updateTableRows rebuilds the rows from the latest snapshots.
func (m *DashboardModel) updateTableRows() {
	rows := make([]table.Row, 0, len(m.order))
	for _, addr := range m.order {
		st := m.peers[addr]
		rows = append(rows, table.Row{
			st.Addr,
			st.State.String(),
			st.Frame.String(),
			st.Confirmed.String(),
			fmt.Sprintf("%d", st.FramesAhead),
			fmt.Sprintf("%d", st.Rollbacks),
			fmt.Sprintf("%d", st.Resimulated),
			fmt.Sprintf("%d", st.MaxRollback),
			fmt.Sprintf("%d", st.Stalls),
			st.Ping.String(),
			fmt.Sprintf("%d", st.KbpsSent),
			fmt.Sprintf("%d", st.SendQueue),
			st.Health.String(),
			fmt.Sprintf("%d-%d", st.Score[0], st.Score[1]),
		})
	}
	m.table.SetRows(rows)
	m.table.SetHeight(tableHeight(len(rows)))
}

// Init starts listening for snapshots and redrawing.
func (m DashboardModel) Init() tea.Cmd {
	return tea.Batch(waitForStats(m.stats), tickCmd(refreshRate))
}

// Update handles messages for the dashboard.
func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case StatsMsg:
		if !m.paused {
			st := match.Stats(msg)
			if _, ok := m.peers[st.Addr]; !ok {
				m.order = append(m.order, st.Addr)
				slices.Sort(m.order)
			}
			m.peers[st.Addr] = st
		}
		return m, waitForStats(m.stats)

	case FinishedMsg:
		m.finished = true
		m.updateTableRows()
		return m, nil

	case TickMsg:
		if !m.paused {
			m.updateTableRows()
		}
		if m.finished {
			return m, nil
		}
		return m, tickCmd(refreshRate)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit

		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
			return m, nil

		case key.Matches(msg, m.keys.Board):
			m.showBoard = !m.showBoard
			return m, nil

		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil

		case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down):
			m.table, cmd = m.table.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = max(msg.Height, minHeight)
		m.help.Width = msg.Width
		return m, nil
	}

	return m, nil
}

// selected returns the snapshot under the table cursor.
func (m DashboardModel) selected() (match.Stats, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.order) {
		return match.Stats{}, false
	}
	return m.peers[m.order[i]], true
}

// View renders the dashboard.
func (m DashboardModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(centerText(m.title, m.width)))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(boxStyle.Render(dimStyle.Italic(true).Render("Waiting for peers...")))
	} else {
		b.WriteString(boxStyle.Render(m.table.View()))
	}
	b.WriteString("\n")

	if st, ok := m.selected(); ok {
		line := fmt.Sprintf("%s  health %s  max ping %v  waited %d frames  desyncs %d",
			st.Addr, renderHealth(st.Health), st.MaxPing, st.WaitFrames, st.Desyncs)
		b.WriteString(line)
		b.WriteString("\n")
		if m.showBoard && st.Board != "" {
			b.WriteString(boxStyle.Render(st.Board))
			b.WriteString("\n")
		}
	}

	switch {
	case m.finished:
		b.WriteString(pausedStyle.Render("Run finished. Press q to exit."))
		b.WriteString("\n")
	case m.paused:
		b.WriteString(pausedStyle.Render("Display frozen"))
		b.WriteString("\n")
	}

	b.WriteString(dimStyle.Render(m.help.View(m.keys)))
	return b.String()
}

// IsFinished reports whether the stats channel was closed.
func (m DashboardModel) IsFinished() bool { return m.finished }

// RunDashboard shows the dashboard until the user quits. Closing stats
// marks the run finished but leaves the final figures on screen.
func RunDashboard(title string, stats <-chan match.Stats, cancel func(), width, height int) error {
	p := tea.NewProgram(
		NewDashboardModel(title, stats, cancel, width, height),
		tea.WithAltScreen(),
	)
	_, err := p.Run()
	return err
}
