package synclayer

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/netplay/internal/frame"
)

// Errors returned by SyncLayer.
var (
	ErrInvalidConfig     = errors.New("synclayer: invalid config")
	ErrInvalidPlayer     = errors.New("synclayer: invalid player")
	ErrNotAtCurrentFrame = errors.New("synclayer: input is not for the current frame")
	ErrInvalidFrame      = errors.New("synclayer: invalid frame")
	ErrRollbackMismatch  = errors.New("synclayer: rollback did not return to the original frame")
)

// InvalidFrameReason says why a frame could not be loaded.
type InvalidFrameReason uint8

const (
	ReasonNullFrame InvalidFrameReason = iota
	ReasonNotInPast
	ReasonOutsidePredictionWindow
	ReasonWrongSavedFrame
)

func (r InvalidFrameReason) String() string {
	switch r {
	case ReasonNullFrame:
		return "null frame"
	case ReasonNotInPast:
		return "not in the past"
	case ReasonOutsidePredictionWindow:
		return "outside the prediction window"
	case ReasonWrongSavedFrame:
		return "cell holds a different frame"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// InvalidFrameError reports a rejected load target.
type InvalidFrameError struct {
	Frame   frame.Frame
	Current frame.Frame
	Reason  InvalidFrameReason
}

func (e *InvalidFrameError) Error() string {
	return fmt.Sprintf("synclayer: cannot load frame %v at frame %v: %v", e.Frame, e.Current, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidFrame) match.
func (e *InvalidFrameError) Is(target error) bool {
	return target == ErrInvalidFrame
}
