package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vovakirdan/netplay/internal/checksum"
	"github.com/vovakirdan/netplay/internal/match"
)

func update(t *testing.T, m DashboardModel, msg tea.Msg) DashboardModel {
	t.Helper()
	next, _ := m.Update(msg)
	dm, ok := next.(DashboardModel)
	if !ok {
		t.Fatalf("Update() returned %T", next)
	}
	return dm
}

func keyPress(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestDashboardShowsPeers(t *testing.T) {
	m := NewDashboardModel("loopback", make(chan match.Stats), nil, 120, 40)
	if !strings.Contains(m.View(), "Waiting for peers") {
		t.Error("empty dashboard does not say it is waiting")
	}

	m = update(t, m, StatsMsg{Addr: "p2", Frame: 40, Rollbacks: 3, Health: checksum.StatusInSync})
	m = update(t, m, StatsMsg{Addr: "p1", Frame: 42, Rollbacks: 5, Board: "BOARD"})
	m = update(t, m, TickMsg(time.Now()))

	if diff := strings.Join(m.order, ","); diff != "p1,p2" {
		t.Errorf("peer order = %s, want p1,p2", diff)
	}
	view := m.View()
	for _, want := range []string{"p1", "p2", "42", "BOARD"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}

	m = update(t, m, keyPress('b'))
	if strings.Contains(m.View(), "BOARD") {
		t.Error("board still shown after toggling it off")
	}
}

func TestDashboardShowsEveryPeerRow(t *testing.T) {
	m := NewDashboardModel("loopback", make(chan match.Stats), nil, 120, 40)
	for _, addr := range []string{"p1", "p2", "p3"} {
		m = update(t, m, StatsMsg{Addr: addr, Frame: 7})
	}
	m = update(t, m, TickMsg(time.Now()))

	table := m.table.View()
	for _, want := range []string{"p1", "p2", "p3"} {
		if !strings.Contains(table, want) {
			t.Errorf("table missing row %q:\n%s", want, table)
		}
	}
}

func TestDashboardPauseFreezesFigures(t *testing.T) {
	m := NewDashboardModel("loopback", make(chan match.Stats), nil, 120, 40)
	m = update(t, m, StatsMsg{Addr: "p1", Frame: 10})
	m = update(t, m, keyPress('p'))
	m = update(t, m, StatsMsg{Addr: "p1", Frame: 99})
	if got := m.peers["p1"].Frame; got != 10 {
		t.Errorf("frame = %v while paused, want 10", got)
	}
	if !strings.Contains(m.View(), "frozen") {
		t.Error("View() does not show the paused state")
	}
}

func TestDashboardFinishAndQuit(t *testing.T) {
	cancelled := false
	m := NewDashboardModel("peer", make(chan match.Stats), func() { cancelled = true }, 120, 40)

	m = update(t, m, FinishedMsg{})
	if !m.IsFinished() || !strings.Contains(m.View(), "Run finished") {
		t.Error("finished run not shown")
	}

	next, cmd := m.Update(keyPress('q'))
	if !cancelled {
		t.Error("quit did not cancel the run")
	}
	if cmd == nil {
		t.Fatal("quit returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("quit command is not tea.Quit")
	}
	if next.(DashboardModel).View() != "" {
		t.Error("View() not empty after quitting")
	}
}

func TestWaitForStats(t *testing.T) {
	ch := make(chan match.Stats, 1)
	ch <- match.Stats{Addr: "p1"}
	if msg, ok := waitForStats(ch)().(StatsMsg); !ok || msg.Addr != "p1" {
		t.Errorf("waitForStats() = %v, want the queued snapshot", msg)
	}
	close(ch)
	if _, ok := waitForStats(ch)().(FinishedMsg); !ok {
		t.Error("closed channel did not finish")
	}
}
