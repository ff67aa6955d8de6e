package match

import (
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/netplay/internal/checksum"
	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/session"
)

// EndReason describes why a run ended.
type EndReason int

const (
	EndRunning     EndReason = iota // Not finished yet
	EndCompleted                    // Someone won
	EndFrameLimit                   // Reached the configured frame count
	EndDisconnect                   // Every remote peer went away
	EndDesync                       // A checksum mismatch was detected
	EndSyncTimeout                  // Never synchronized
	EndCancelled                    // Context cancelled
)

func (r EndReason) String() string {
	switch r {
	case EndRunning:
		return "running"
	case EndCompleted:
		return "completed"
	case EndFrameLimit:
		return "frame limit"
	case EndDisconnect:
		return "disconnect"
	case EndDesync:
		return "desync"
	case EndSyncTimeout:
		return "sync timeout"
	case EndCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of one peer's run so far.
type Stats struct {
	Addr        string
	State       session.State
	Frame       frame.Frame
	Confirmed   frame.Frame
	FramesAhead int32
	Rollbacks   int
	Resimulated int // frames simulated again after a load
	MaxRollback int // deepest rollback in frames
	Stalls      int // AdvanceFrame refused at the prediction limit
	WaitFrames  int // frames skipped on a wait recommendation
	Desyncs     int
	Ping        time.Duration
	MaxPing     time.Duration
	KbpsSent    uint64
	SendQueue   int
	Health      checksum.Status
	Score       [2]int32
	Board       string // rendered field, only filled when a sink is attached
}

// Result is the outcome of a finished run.
type Result struct {
	ID       uuid.UUID
	Mode     string
	Addr     string
	Reason   EndReason
	Winner   int32 // 0 if nobody won
	Stats    Stats
	Duration time.Duration
	Desyncs  []session.DesyncDetectedEvent
	Checksum checksum.Sum // of the final state
}

// ResultSaver persists finished runs. The storage package implements it.
type ResultSaver interface {
	SaveResult(r Result) error
}
