// Package input holds per-player input storage and prediction for the
// rollback stack.
package input

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/netplay/internal/frame"
)

// Errors returned by Queue operations.
var (
	ErrInvalidLength     = errors.New("input: queue length must be at least 2")
	ErrInvalidDelay      = errors.New("input: frame delay out of range")
	ErrInvalidFrame      = errors.New("input: invalid frame")
	ErrOutOfOrder        = errors.New("input: out-of-order input")
	ErrQueueFull         = errors.New("input: queue full")
	ErrInputDiscarded    = errors.New("input: input already discarded")
	ErrInputNotConfirmed = errors.New("input: input not confirmed")
)

// SequenceError reports an input that did not follow the last added frame.
type SequenceError struct {
	Player   int
	Expected frame.Frame
	Got      frame.Frame
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("input: player %d: expected frame %v, got %v", e.Player, e.Expected, e.Got)
}

// Is makes errors.Is(err, ErrOutOfOrder) match.
func (e *SequenceError) Is(target error) bool {
	return target == ErrOutOfOrder
}

// Status tags an input handed to the simulation.
type Status uint8

const (
	StatusConfirmed Status = iota
	StatusPredicted
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusPredicted:
		return "predicted"
	case StatusDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// PlayerInput pairs an input value with how it was obtained.
type PlayerInput[I any] struct {
	Value  I
	Status Status
}

// ConnectionStatus is what one peer knows about a player's input stream.
type ConnectionStatus struct {
	Disconnected bool
	LastFrame    frame.Frame
}

// NewConnectionStatus returns a connected status with no inputs yet.
func NewConnectionStatus() ConnectionStatus {
	return ConnectionStatus{LastFrame: frame.Null}
}

// NewConnectionStatuses returns n fresh statuses.
func NewConnectionStatuses(n int) []ConnectionStatus {
	out := make([]ConnectionStatus, n)
	for i := range out {
		out[i] = NewConnectionStatus()
	}
	return out
}
