package synclayer

import (
	"fmt"
	"strings"

	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/input"
	"github.com/vovakirdan/netplay/internal/state"
)

// Request is a unit of work the host must execute, in order, before the
// next call into the session.
type Request interface {
	request()
	String() string
}

// SaveGameState asks the host to store its current state (and optionally a
// checksum) in Cell for Frame.
type SaveGameState[S any] struct {
	Cell  *state.Cell[S]
	Frame frame.Frame
}

func (SaveGameState[S]) request() {}

func (r SaveGameState[S]) String() string { return fmt.Sprintf("save(%v)", r.Frame) }

// LoadGameState asks the host to replace its state with the one in Cell.
type LoadGameState[S any] struct {
	Cell  *state.Cell[S]
	Frame frame.Frame
}

func (LoadGameState[S]) request() {}

func (r LoadGameState[S]) String() string { return fmt.Sprintf("load(%v)", r.Frame) }

// AdvanceFrame asks the host to step its simulation once with Inputs,
// indexed by player handle.
type AdvanceFrame[I any] struct {
	Frame  frame.Frame // frame being simulated
	Inputs []input.PlayerInput[I]
}

func (AdvanceFrame[I]) request() {}

func (r AdvanceFrame[I]) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "advance(%v", r.Frame)
	for _, in := range r.Inputs {
		fmt.Fprintf(&sb, " %v:%v", in.Value, in.Status)
	}
	sb.WriteByte(')')
	return sb.String()
}

// Describe renders requests as short strings, handy for logs and tests.
func Describe(reqs []Request) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.String()
	}
	return out
}
