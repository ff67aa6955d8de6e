// Package synclayer keeps every player's input queue, the ring of saved
// states and the frame counters together, and turns mispredictions into the
// load/advance requests that roll the simulation back and forward again.
package synclayer

import (
	"fmt"

	"github.com/vovakirdan/netplay/internal/checksum"
	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/input"
	"github.com/vovakirdan/netplay/internal/state"
	"github.com/vovakirdan/netplay/internal/telemetry"
)

// SaveMode selects when states are saved.
type SaveMode uint8

const (
	// SaveEveryFrame saves each frame and rolls back to the first incorrect one.
	SaveEveryFrame SaveMode = iota
	// SaveSparse saves only confirmed frames and rolls back to the last save.
	SaveSparse
)

func (m SaveMode) String() string {
	if m == SaveSparse {
		return "sparse"
	}
	return "every-frame"
}

// MarshalText lets SaveMode appear by name in YAML.
func (m SaveMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText parses "every-frame" or "sparse".
func (m *SaveMode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "every-frame", "":
		*m = SaveEveryFrame
	case "sparse":
		*m = SaveSparse
	default:
		return fmt.Errorf("%w: unknown save mode %q", ErrInvalidConfig, b)
	}
	return nil
}

// Config sizes a SyncLayer.
type Config struct {
	NumPlayers    int
	MaxPrediction int
	QueueLength   int
	SaveMode      SaveMode
}

// Validate checks the sizes.
func (c Config) Validate() error {
	switch {
	case c.NumPlayers < 1:
		return fmt.Errorf("%w: need at least one player, got %d", ErrInvalidConfig, c.NumPlayers)
	case c.MaxPrediction < 1:
		return fmt.Errorf("%w: max prediction must be positive, got %d", ErrInvalidConfig, c.MaxPrediction)
	case c.QueueLength < input.MinLength:
		return fmt.Errorf("%w: queue length %d below minimum %d", ErrInvalidConfig, c.QueueLength, input.MinLength)
	case c.MaxPrediction >= c.QueueLength:
		return fmt.Errorf("%w: max prediction %d must be below queue length %d", ErrInvalidConfig, c.MaxPrediction, c.QueueLength)
	}
	return nil
}

// SyncLayer is single-writer: the session calls it from the host's tick.
type SyncLayer[I comparable, S any] struct {
	numPlayers    int
	maxPrediction int
	saveMode      SaveMode

	queues []*input.Queue[I]
	states *state.Ring[S]

	currentFrame  frame.Frame
	lastConfirmed frame.Frame
	lastSaved     frame.Frame

	observer telemetry.Observer
}

// New creates a SyncLayer. A nil strategy predicts by repeating the last
// confirmed input; a nil observer discards violations.
func New[I comparable, S any](cfg Config, strategy input.Strategy[I], obs telemetry.Observer) (*SyncLayer[I, S], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if obs == nil {
		obs = telemetry.Discard
	}

	states, err := state.NewRing[S](cfg.MaxPrediction + 1)
	if err != nil {
		return nil, err
	}

	s := &SyncLayer[I, S]{
		numPlayers:    cfg.NumPlayers,
		maxPrediction: cfg.MaxPrediction,
		saveMode:      cfg.SaveMode,
		queues:        make([]*input.Queue[I], cfg.NumPlayers),
		states:        states,
		currentFrame:  0,
		lastConfirmed: frame.Null,
		lastSaved:     frame.Null,
		observer:      obs,
	}
	for i := range s.queues {
		q, err := input.NewQueue(i, cfg.QueueLength, strategy)
		if err != nil {
			return nil, err
		}
		s.queues[i] = q
	}
	return s, nil
}

// CurrentFrame returns the frame about to be simulated.
func (s *SyncLayer[I, S]) CurrentFrame() frame.Frame { return s.currentFrame }

// LastConfirmedFrame returns the newest frame with every input confirmed, or Null.
func (s *SyncLayer[I, S]) LastConfirmedFrame() frame.Frame { return s.lastConfirmed }

// LastSavedFrame returns the newest saved frame, or Null.
func (s *SyncLayer[I, S]) LastSavedFrame() frame.Frame { return s.lastSaved }

// MaxPrediction returns the prediction window in frames.
func (s *SyncLayer[I, S]) MaxPrediction() int { return s.maxPrediction }

// NumPlayers returns the number of input queues.
func (s *SyncLayer[I, S]) NumPlayers() int { return s.numPlayers }

// SaveMode returns the configured save mode.
func (s *SyncLayer[I, S]) SaveMode() SaveMode { return s.saveMode }

// Queue exposes a player's input queue for inspection.
func (s *SyncLayer[I, S]) Queue(player int) (*input.Queue[I], error) {
	if player < 0 || player >= s.numPlayers {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPlayer, player)
	}
	return s.queues[player], nil
}

// SetFrameDelay sets a player's input delay.
func (s *SyncLayer[I, S]) SetFrameDelay(player, delay int) error {
	q, err := s.Queue(player)
	if err != nil {
		return err
	}
	return q.SetFrameDelay(delay)
}

// AdvanceFrame moves to the next frame.
func (s *SyncLayer[I, S]) AdvanceFrame() error {
	next, err := s.currentFrame.Next()
	if err != nil {
		telemetry.Report(s.observer, telemetry.SeverityCritical, telemetry.KindFrameSync, s.currentFrame,
			"frame counter overflow")
		return err
	}
	s.currentFrame = next
	s.checkInvariants()
	return nil
}

func (s *SyncLayer[I, S]) checkInvariants() {
	if !s.lastConfirmed.IsNull() && s.lastConfirmed > s.currentFrame {
		telemetry.Report(s.observer, telemetry.SeverityCritical, telemetry.KindFrameSync, s.currentFrame,
			"last confirmed frame ahead of current frame", "confirmed", s.lastConfirmed)
	}
	if !s.lastSaved.IsNull() && s.lastSaved > s.currentFrame {
		telemetry.Report(s.observer, telemetry.SeverityCritical, telemetry.KindStateManagement, s.currentFrame,
			"last saved frame ahead of current frame", "saved", s.lastSaved)
	}
}

// SaveCurrentState returns the request that saves the current frame.
func (s *SyncLayer[I, S]) SaveCurrentState() (Request, error) {
	cell, err := s.states.Cell(s.currentFrame)
	if err != nil {
		return nil, err
	}
	s.lastSaved = s.currentFrame
	return SaveGameState[S]{Cell: cell, Frame: s.currentFrame}, nil
}

// SavedChecksum returns the checksum the host stored for f, if the cell for
// f still holds that frame.
func (s *SyncLayer[I, S]) SavedChecksum(f frame.Frame) (checksum.Sum, bool) {
	cell, err := s.states.Cell(f)
	if err != nil || cell.Frame() != f {
		return checksum.Sum{}, false
	}
	return cell.Checksum()
}

// SavedCell returns the cell holding f, if it still does.
func (s *SyncLayer[I, S]) SavedCell(f frame.Frame) (*state.Cell[S], bool) {
	cell, err := s.states.Cell(f)
	if err != nil || cell.Frame() != f {
		return nil, false
	}
	return cell, true
}

// LoadFrame validates f as a rollback target and rewinds the frame counter to it.
func (s *SyncLayer[I, S]) LoadFrame(f frame.Frame) (Request, error) {
	invalid := func(reason InvalidFrameReason) error {
		return &InvalidFrameError{Frame: f, Current: s.currentFrame, Reason: reason}
	}

	switch {
	case f.IsNull():
		return nil, invalid(ReasonNullFrame)
	case f >= s.currentFrame:
		return nil, invalid(ReasonNotInPast)
	case s.currentFrame.Distance(f) > int64(s.maxPrediction):
		return nil, invalid(ReasonOutsidePredictionWindow)
	}

	cell, err := s.states.Cell(f)
	if err != nil {
		return nil, err
	}
	if cell.Frame() != f {
		telemetry.Report(s.observer, telemetry.SeverityError, telemetry.KindStateManagement, f,
			"rollback target was overwritten", "cell_frame", cell.Frame())
		return nil, invalid(ReasonWrongSavedFrame)
	}

	s.currentFrame = f
	s.lastSaved = f
	return LoadGameState[S]{Cell: cell, Frame: f}, nil
}

// AddLocalInput stores a local player's input for the current frame and
// returns the frame it lands on after input delay.
func (s *SyncLayer[I, S]) AddLocalInput(player int, f frame.Frame, value I) (frame.Frame, error) {
	q, err := s.Queue(player)
	if err != nil {
		return frame.Null, err
	}
	if f != s.currentFrame {
		return frame.Null, fmt.Errorf("%w: got %v, current %v", ErrNotAtCurrentFrame, f, s.currentFrame)
	}
	return q.AddInput(f, value)
}

// AddRemoteInput stores a remote player's input.
func (s *SyncLayer[I, S]) AddRemoteInput(player int, f frame.Frame, value I) error {
	q, err := s.Queue(player)
	if err != nil {
		return err
	}
	if err := q.AddRemoteInput(f, value); err != nil {
		telemetry.Report(s.observer, telemetry.SeverityWarning, telemetry.KindInputQueue, f,
			"remote input rejected", "player", player, "error", err)
		return err
	}
	return nil
}

// SynchronizedInputs returns one input per player for the current frame.
// Players disconnected before this frame get a blank input.
func (s *SyncLayer[I, S]) SynchronizedInputs(connect []input.ConnectionStatus) ([]input.PlayerInput[I], error) {
	out := make([]input.PlayerInput[I], s.numPlayers)
	for i, q := range s.queues {
		if i < len(connect) && connect[i].Disconnected && connect[i].LastFrame < s.currentFrame {
			out[i] = input.PlayerInput[I]{Status: input.StatusDisconnected}
			continue
		}
		v, status, err := q.Input(s.currentFrame)
		if err != nil {
			telemetry.Report(s.observer, telemetry.SeverityError, telemetry.KindInputQueue, s.currentFrame,
				"input unavailable for current frame", "player", i, "error", err)
			return nil, err
		}
		out[i] = input.PlayerInput[I]{Value: v, Status: status}
	}
	return out, nil
}

// ConfirmedInputs returns the confirmed inputs of every player for f.
func (s *SyncLayer[I, S]) ConfirmedInputs(f frame.Frame, connect []input.ConnectionStatus) ([]input.PlayerInput[I], error) {
	out := make([]input.PlayerInput[I], s.numPlayers)
	for i, q := range s.queues {
		if i < len(connect) && connect[i].Disconnected && connect[i].LastFrame < f {
			out[i] = input.PlayerInput[I]{Status: input.StatusDisconnected}
			continue
		}
		v, err := q.ConfirmedInput(f)
		if err != nil {
			return nil, err
		}
		out[i] = input.PlayerInput[I]{Value: v, Status: input.StatusConfirmed}
	}
	return out, nil
}

// SetLastConfirmedFrame records f as fully confirmed, clamped so that it never
// passes the current frame, a pending misprediction or (in sparse mode) the
// last save, and discards inputs that are no longer needed.
func (s *SyncLayer[I, S]) SetLastConfirmedFrame(f frame.Frame) {
	if f.IsNull() {
		s.lastConfirmed = frame.Null
		return
	}
	if s.saveMode == SaveSparse && !s.lastSaved.IsNull() && f > s.lastSaved {
		f = s.lastSaved
	}
	if f > s.currentFrame {
		f = s.currentFrame
	}
	if first := s.FirstIncorrectFrame(); !first.IsNull() && f >= first {
		f = first - 1
	}

	s.lastConfirmed = f
	if f > 0 {
		for _, q := range s.queues {
			q.DiscardConfirmedTo(f - 1)
		}
	}
}

// FirstIncorrectFrame returns the earliest misprediction over all players, or Null.
func (s *SyncLayer[I, S]) FirstIncorrectFrame() frame.Frame {
	first := frame.Null
	for _, q := range s.queues {
		first = frame.Min(first, q.FirstIncorrectFrame())
	}
	return first
}

// CheckSimulationConsistency is FirstIncorrectFrame under the name the
// session uses when deciding whether to roll back.
func (s *SyncLayer[I, S]) CheckSimulationConsistency() frame.Frame {
	return s.FirstIncorrectFrame()
}

func (s *SyncLayer[I, S]) resetPrediction() {
	for _, q := range s.queues {
		q.ResetPrediction()
	}
}

// AdjustGamestate rolls back to firstIncorrect (or the last save in sparse
// mode) and resimulates up to the current frame. When the target is not
// behind the current frame there is nothing to undo and only the prediction
// state is cleared.
func (s *SyncLayer[I, S]) AdjustGamestate(firstIncorrect, confirmed frame.Frame, connect []input.ConnectionStatus) ([]Request, error) {
	if firstIncorrect.IsNull() {
		return nil, nil
	}

	target := firstIncorrect
	if s.saveMode == SaveSparse {
		target = s.lastSaved
	}
	original := s.currentFrame

	if target.IsNull() || target >= original {
		s.resetPrediction()
		return nil, nil
	}

	count := int(original.Distance(target))
	reqs := make([]Request, 0, 2*count+1)

	load, err := s.LoadFrame(target)
	if err != nil {
		return nil, err
	}
	reqs = append(reqs, load)
	s.resetPrediction()

	for i := range count {
		inputs, err := s.SynchronizedInputs(connect)
		if err != nil {
			return reqs, err
		}

		if i > 0 && (s.saveMode == SaveEveryFrame || s.currentFrame == confirmed) {
			save, err := s.SaveCurrentState()
			if err != nil {
				return reqs, err
			}
			reqs = append(reqs, save)
		}

		reqs = append(reqs, AdvanceFrame[I]{Frame: s.currentFrame, Inputs: inputs})
		if err := s.AdvanceFrame(); err != nil {
			return reqs, err
		}
	}

	if s.currentFrame != original {
		telemetry.Report(s.observer, telemetry.SeverityCritical, telemetry.KindFrameSync, s.currentFrame,
			"rollback ended on the wrong frame", "original", original)
		return reqs, fmt.Errorf("%w: at %v, expected %v", ErrRollbackMismatch, s.currentFrame, original)
	}
	return reqs, nil
}
