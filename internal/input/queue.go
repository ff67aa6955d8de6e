package input

import (
	"fmt"

	"github.com/vovakirdan/netplay/internal/frame"
)

// DefaultLength is the default queue capacity in frames.
const DefaultLength = 128

// MinLength is the smallest usable queue capacity.
const MinLength = 2

type slot[I any] struct {
	frame frame.Frame
	value I
}

// Queue stores one player's inputs in a fixed ring addressed by frame mod
// capacity. Stored frames are always contiguous, ending at lastAdded.
type Queue[I comparable] struct {
	player   int
	strategy Strategy[I]

	entries     []slot[I]
	predictions []slot[I]
	length      int
	frameDelay  int

	lastAdded      frame.Frame
	lastRequested  frame.Frame
	firstIncorrect frame.Frame

	lastConfirmed I
	hasConfirmed  bool
}

// NewQueue creates a queue for player with the given capacity.
// A nil strategy means RepeatLastConfirmed.
func NewQueue[I comparable](player, length int, strategy Strategy[I]) (*Queue[I], error) {
	if length < MinLength {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLength, length)
	}
	if strategy == nil {
		strategy = RepeatLastConfirmed[I]{}
	}

	q := &Queue[I]{
		player:         player,
		strategy:       strategy,
		entries:        make([]slot[I], length),
		predictions:    make([]slot[I], length),
		lastAdded:      frame.Null,
		lastRequested:  frame.Null,
		firstIncorrect: frame.Null,
	}
	q.clearPredictions()
	return q, nil
}

// Player returns the player index this queue belongs to.
func (q *Queue[I]) Player() int { return q.player }

// Len returns the number of stored inputs.
func (q *Queue[I]) Len() int { return q.length }

// Cap returns the queue capacity.
func (q *Queue[I]) Cap() int { return len(q.entries) }

// FrameDelay returns the configured input delay.
func (q *Queue[I]) FrameDelay() int { return q.frameDelay }

// LastAddedFrame returns the newest stored frame, or Null.
func (q *Queue[I]) LastAddedFrame() frame.Frame { return q.lastAdded }

// FirstIncorrectFrame returns the earliest frame whose prediction proved wrong, or Null.
func (q *Queue[I]) FirstIncorrectFrame() frame.Frame { return q.firstIncorrect }

// LastRequestedFrame returns the highest frame ever read, or Null.
func (q *Queue[I]) LastRequestedFrame() frame.Frame { return q.lastRequested }

// SetFrameDelay sets how many frames local inputs are shifted forward.
func (q *Queue[I]) SetFrameDelay(delay int) error {
	if delay < 0 || delay >= len(q.entries) {
		return fmt.Errorf("%w: %d (capacity %d)", ErrInvalidDelay, delay, len(q.entries))
	}
	q.frameDelay = delay
	return nil
}

// AddInput stores a local input, shifted by the frame delay, and returns the
// frame it was stored at.
func (q *Queue[I]) AddInput(f frame.Frame, value I) (frame.Frame, error) {
	if !f.IsValid() {
		return frame.Null, fmt.Errorf("%w: %v", ErrInvalidFrame, f)
	}
	target, err := f.Add(int32(q.frameDelay)) //nolint:gosec // delay < capacity
	if err != nil {
		return frame.Null, err
	}
	if err := q.add(target, value); err != nil {
		return frame.Null, err
	}
	return target, nil
}

// AddRemoteInput stores an input received from the network. A value that
// differs from the prediction handed out for that frame marks the first
// incorrect frame.
func (q *Queue[I]) AddRemoteInput(f frame.Frame, value I) error {
	if !f.IsValid() {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, f)
	}
	return q.add(f, value)
}

func (q *Queue[I]) add(f frame.Frame, value I) error {
	if q.lastAdded.IsNull() {
		// The first input may start late (input delay on the sender); the
		// frames before it are blank.
		var blank I
		for fill := frame.Frame(0); fill < f; fill++ {
			if err := q.push(fill, blank); err != nil {
				return err
			}
		}
		return q.push(f, value)
	}

	if want := q.lastAdded + 1; f != want {
		return &SequenceError{Player: q.player, Expected: want, Got: f}
	}
	return q.push(f, value)
}

func (q *Queue[I]) push(f frame.Frame, value I) error {
	if q.length == len(q.entries) {
		oldest := q.oldest()
		if !q.lastRequested.IsNull() && oldest >= q.lastRequested {
			return fmt.Errorf("%w: cannot evict frame %v (last requested %v)", ErrQueueFull, oldest, q.lastRequested)
		}
		q.length--
	}

	q.entries[f.Mod(len(q.entries))] = slot[I]{frame: f, value: value}
	q.length++
	q.lastAdded = f
	q.lastConfirmed = value
	q.hasConfirmed = true

	p := &q.predictions[f.Mod(len(q.predictions))]
	if p.frame == f {
		if q.firstIncorrect.IsNull() && p.value != value {
			q.firstIncorrect = f
		}
		p.frame = frame.Null
	}
	return nil
}

// oldest returns the oldest stored frame. Only valid when length > 0.
func (q *Queue[I]) oldest() frame.Frame {
	return q.lastAdded - frame.Frame(q.length) + 1 //nolint:gosec // length <= capacity
}

// Input returns the input for f: the stored value if confirmed, otherwise a
// prediction from the strategy. It raises the last requested frame so that
// the frame cannot be discarded while the simulation still needs it.
func (q *Queue[I]) Input(f frame.Frame) (I, Status, error) {
	var zero I
	if !f.IsValid() {
		return zero, StatusConfirmed, fmt.Errorf("%w: %v", ErrInvalidFrame, f)
	}

	if !q.lastAdded.IsNull() && f <= q.lastAdded {
		if q.length == 0 || f < q.oldest() {
			return zero, StatusConfirmed, fmt.Errorf("%w: player %d frame %v", ErrInputDiscarded, q.player, f)
		}
		q.raiseRequested(f)
		return q.entries[f.Mod(len(q.entries))].value, StatusConfirmed, nil
	}

	q.raiseRequested(f)
	v := q.strategy.Predict(f, q.lastConfirmed, q.hasConfirmed, q.player)
	q.predictions[f.Mod(len(q.predictions))] = slot[I]{frame: f, value: v}
	return v, StatusPredicted, nil
}

func (q *Queue[I]) raiseRequested(f frame.Frame) {
	q.lastRequested = frame.Max(q.lastRequested, f)
}

// ConfirmedInput returns the stored input for f without predicting.
func (q *Queue[I]) ConfirmedInput(f frame.Frame) (I, error) {
	var zero I
	if q.length == 0 || !f.IsValid() || f > q.lastAdded || f < q.oldest() {
		return zero, fmt.Errorf("%w: player %d frame %v", ErrInputNotConfirmed, q.player, f)
	}
	return q.entries[f.Mod(len(q.entries))].value, nil
}

// DiscardConfirmedTo drops stored inputs up to and including f, but never a
// frame at or after the last requested frame.
func (q *Queue[I]) DiscardConfirmedTo(f frame.Frame) {
	if q.length == 0 || !f.IsValid() {
		return
	}
	limit := f
	if !q.lastRequested.IsNull() && limit >= q.lastRequested {
		limit = q.lastRequested - 1
	}
	if limit > q.lastAdded {
		limit = q.lastAdded
	}

	oldest := q.oldest()
	if limit < oldest {
		return
	}
	q.length -= int(limit-oldest) + 1
}

// ResetPrediction forgets the first incorrect frame once a rollback has dealt
// with it. Recorded predictions stay: frames before the rollback target were
// simulated with them and must still be checked when their inputs arrive,
// and resimulated frames overwrite their own slots.
func (q *Queue[I]) ResetPrediction() {
	q.firstIncorrect = frame.Null
}

func (q *Queue[I]) clearPredictions() {
	for i := range q.predictions {
		q.predictions[i].frame = frame.Null
	}
}
