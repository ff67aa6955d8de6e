package match

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/vovakirdan/netplay/internal/games/pong"
	"github.com/vovakirdan/netplay/internal/session"
)

// host owns the game state and carries out a session's requests on it.
type host struct {
	sim    pong.Simulator
	state  pong.State
	stats  Stats
	logger *log.Logger
	name   string
}

// exec carries out the session's requests. advanced says whether the last
// AdvanceFrame request is a new frame rather than a resimulation.
func (h *host) exec(reqs []session.Request, advanced bool) error {
	advances := 0
	for _, req := range reqs {
		switch req := req.(type) {
		case session.SaveGameState[pong.State]:
			st := h.state
			sum := pong.Checksum(st)
			if err := req.Cell.Save(req.Frame, &st, &sum); err != nil {
				return fmt.Errorf("match: save frame %v: %w", req.Frame, err)
			}
		case session.LoadGameState[pong.State]:
			st, err := req.Cell.Load()
			if err != nil {
				return fmt.Errorf("match: load frame %v: %w", req.Frame, err)
			}
			depth := int(h.state.Frame - st.Frame)
			h.state = st
			h.stats.Rollbacks++
			h.stats.MaxRollback = max(h.stats.MaxRollback, depth)
			h.logger.Debug("rollback", "peer", h.name, "to", req.Frame, "depth", depth)
		case session.AdvanceFrame[pong.Input]:
			var in [2]pong.Input
			for i, pi := range req.Inputs {
				if i < len(in) {
					in[i] = pi.Value
				}
			}
			h.state = h.sim.Step(h.state, in)
			advances++
		default:
			return fmt.Errorf("match: unexpected request %T", req)
		}
	}
	if advanced {
		advances--
	}
	h.stats.Resimulated += max(advances, 0)
	return nil
}
