package session

import (
	"fmt"

	"github.com/google/btree"

	"github.com/vovakirdan/netplay/internal/checksum"
	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/input"
	"github.com/vovakirdan/netplay/internal/synclayer"
	"github.com/vovakirdan/netplay/internal/telemetry"
)

type recordedSum struct {
	frame frame.Frame
	sum   checksum.Sum
	ok    bool
}

func recordedLess(a, b recordedSum) bool { return a.frame < b.frame }

// SyncTestSession checks a simulation for determinism without a network.
// Every frame it rolls back CheckDistance frames, resimulates them and
// compares the checksums the host saved with the ones from the first run.
type SyncTestSession[I comparable, S any] struct {
	cfg     Config
	obs     telemetry.Observer
	sync    *synclayer.SyncLayer[I, S]
	connect []input.ConnectionStatus

	history     *btree.BTreeG[recordedSum]
	localInputs map[frame.PlayerHandle]I
}

// NewSyncTest creates a sync test session where every player is local.
func NewSyncTest[I comparable, S any](cfg Config, opts ...Option) (*SyncTestSession[I, S], error) {
	cfg.SaveMode = synclayer.SaveEveryFrame
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CheckDistance >= cfg.MaxPrediction {
		return nil, fmt.Errorf("%w: check distance %d must be below max prediction %d",
			ErrInvalidConfig, cfg.CheckDistance, cfg.MaxPrediction)
	}

	o := newOptions(opts)
	strategy, err := strategyFrom[I](o)
	if err != nil {
		return nil, err
	}
	sl, err := synclayer.New[I, S](cfg.syncLayer(), strategy, o.observer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for p := range cfg.NumPlayers {
		if err := sl.SetFrameDelay(p, cfg.InputDelay); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	return &SyncTestSession[I, S]{
		cfg:         cfg,
		obs:         o.observer,
		sync:        sl,
		connect:     input.NewConnectionStatuses(cfg.NumPlayers),
		history:     btree.NewG(btreeDegree, recordedLess),
		localInputs: make(map[frame.PlayerHandle]I),
	}, nil
}

// AddLocalInput sets a player's input for the current frame. Every player
// needs one before AdvanceFrame.
func (s *SyncTestSession[I, S]) AddLocalInput(h frame.PlayerHandle, v I) error {
	if err := h.ValidatePlayer(s.cfg.NumPlayers); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidHandle, err)
	}
	s.localInputs[h] = v
	return nil
}

// CurrentFrame returns the frame about to be simulated.
func (s *SyncTestSession[I, S]) CurrentFrame() frame.Frame { return s.sync.CurrentFrame() }

// CheckDistance returns how many frames each step rolls back.
func (s *SyncTestSession[I, S]) CheckDistance() int { return s.cfg.CheckDistance }

// AdvanceFrame verifies the recent checksums, rolls back and resimulates,
// then advances one frame.
func (s *SyncTestSession[I, S]) AdvanceFrame() ([]Request, error) {
	var reqs []Request
	current := s.sync.CurrentFrame()
	dist := frame.Frame(s.cfg.CheckDistance) //nolint:gosec // below max prediction

	if dist > 0 && current > dist {
		var mismatched []frame.Frame
		for f := current - dist; f <= current; f++ {
			if !s.consistent(f) {
				mismatched = append(mismatched, f)
			}
		}
		if len(mismatched) > 0 {
			telemetry.Report(s.obs, telemetry.SeverityCritical, telemetry.KindChecksumMismatch, current,
				"resimulation changed the checksum", "frames", mismatched)
			return nil, &MismatchedChecksumError{CurrentFrame: current, MismatchedFrames: mismatched}
		}

		adj, err := s.sync.AdjustGamestate(current-dist, frame.Null, s.connect)
		reqs = append(reqs, adj...)
		if err != nil {
			return reqs, err
		}
	}

	for h := range frame.PlayerHandle(s.cfg.NumPlayers) {
		if _, ok := s.localInputs[h]; !ok {
			return reqs, fmt.Errorf("%w: handle %d at frame %v", ErrMissingInput, h, current)
		}
	}
	for h := range frame.PlayerHandle(s.cfg.NumPlayers) {
		if _, err := s.sync.AddLocalInput(int(h), current, s.localInputs[h]); err != nil {
			return reqs, fmt.Errorf("session: add input for handle %d: %w", h, err)
		}
	}
	clear(s.localInputs)

	if dist > 0 {
		save, err := s.sync.SaveCurrentState()
		if err != nil {
			return reqs, err
		}
		reqs = append(reqs, save)
	}

	inputs, err := s.sync.SynchronizedInputs(s.connect)
	if err != nil {
		return reqs, err
	}
	reqs = append(reqs, AdvanceFrame[I]{Frame: current, Inputs: inputs})
	if err := s.sync.AdvanceFrame(); err != nil {
		return reqs, err
	}

	// Every input is local, so everything older than the check window is final.
	next := s.sync.CurrentFrame()
	if safe := next - dist; safe >= 0 {
		s.sync.SetLastConfirmedFrame(safe)
	}
	for i := range s.connect {
		s.connect[i].LastFrame = next
	}
	return reqs, nil
}

// consistent records the first checksum seen for f and reports whether the
// one saved now matches it.
func (s *SyncTestSession[I, S]) consistent(f frame.Frame) bool {
	oldest := s.sync.CurrentFrame() - frame.Frame(s.cfg.CheckDistance) //nolint:gosec // see above
	for {
		m, ok := s.history.Min()
		if !ok || m.frame >= oldest {
			break
		}
		s.history.DeleteMin()
	}

	cell, ok := s.sync.SavedCell(f)
	if !ok {
		return true
	}
	sum, hasSum := cell.Checksum()
	if first, seen := s.history.Get(recordedSum{frame: f}); seen {
		return first.sum == sum && first.ok == hasSum
	}
	s.history.ReplaceOrInsert(recordedSum{frame: f, sum: sum, ok: hasSum})
	return true
}
