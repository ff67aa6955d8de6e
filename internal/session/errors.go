package session

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/netplay/internal/frame"
)

// Errors returned by sessions.
var (
	ErrInvalidConfig       = errors.New("session: invalid config")
	ErrInvalidHandle       = errors.New("session: invalid player handle")
	ErrNotSynchronized     = errors.New("session: not synchronized")
	ErrPredictionThreshold = errors.New("session: prediction threshold reached")
	ErrMissingInput        = errors.New("session: missing local input")
	ErrMismatchedChecksum  = errors.New("session: mismatched checksum")
	ErrInvalidRequest      = errors.New("session: invalid request")

	ErrSpectatorTooFarBehind = errors.New("session: spectator too far behind the host")
)

// MismatchedChecksumError is returned by a SyncTestSession whose
// resimulation produced a different checksum than the first run.
type MismatchedChecksumError struct {
	CurrentFrame     frame.Frame
	MismatchedFrames []frame.Frame
}

func (e *MismatchedChecksumError) Error() string {
	return fmt.Sprintf("session: checksum mismatch at frame %v for frames %v", e.CurrentFrame, e.MismatchedFrames)
}

// Is makes errors.Is(err, ErrMismatchedChecksum) match.
func (e *MismatchedChecksumError) Is(target error) bool {
	return target == ErrMismatchedChecksum
}
