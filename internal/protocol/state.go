package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/btree"

	"github.com/vovakirdan/netplay/internal/frame"
)

// ErrInvalidTransition is returned by Transition for an edge that does not
// exist.
var ErrInvalidTransition = errors.New("protocol: invalid state transition")

// StateKind names an endpoint state.
type StateKind uint8

const (
	StateInitializing StateKind = iota
	StateSynchronizing
	StateRunning
	StateDisconnected
	StateShutdown
)

func (k StateKind) String() string {
	switch k {
	case StateInitializing:
		return "initializing"
	case StateSynchronizing:
		return "synchronizing"
	case StateRunning:
		return "running"
	case StateDisconnected:
		return "disconnected"
	case StateShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("state(%d)", uint8(k))
	}
}

// Trigger is what moves an endpoint from one state to the next.
type Trigger uint8

const (
	TriggerSynchronize Trigger = iota
	TriggerSynchronized
	TriggerDisconnect
	TriggerShutdown
)

func (t Trigger) String() string {
	switch t {
	case TriggerSynchronize:
		return "synchronize"
	case TriggerSynchronized:
		return "synchronized"
	case TriggerDisconnect:
		return "disconnect"
	case TriggerShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("trigger(%d)", uint8(t))
	}
}

// Transition returns the state reached from k on t. It has no side effects.
func Transition(k StateKind, t Trigger) (StateKind, error) {
	switch {
	case t == TriggerShutdown:
		return StateShutdown, nil
	case k == StateInitializing && t == TriggerSynchronize:
		return StateSynchronizing, nil
	case k == StateSynchronizing && t == TriggerSynchronized:
		return StateRunning, nil
	case k == StateRunning && t == TriggerDisconnect:
		return StateDisconnected, nil
	}
	return k, fmt.Errorf("%w: %v on %v", ErrInvalidTransition, k, t)
}

// State is the data an endpoint keeps for its current state. The set of
// states is closed.
type State interface {
	Kind() StateKind
}

// Initializing is the state before Synchronize.
type Initializing struct{}

// Synchronizing tracks the handshake roundtrips.
type Synchronizing struct {
	remaining      int
	nonces         map[uint32]struct{}
	requestsSent   int
	started        time.Time
	lastRequest    time.Time
	retryWarned    bool
	durationWarned bool
	timeoutSent    bool
}

// RemainingRoundtrips returns how many replies are still needed.
func (s *Synchronizing) RemainingRoundtrips() int { return s.remaining }

// RequestsSent counts SyncRequests sent so far, retries included.
func (s *Synchronizing) RequestsSent() int { return s.requestsSent }

type pendingInput struct {
	frame frame.Frame
	bytes []byte
}

func pendingLess(a, b pendingInput) bool { return a.frame < b.frame }

// Running holds everything the endpoint needs once the handshake is done.
type Running struct {
	rtt             time.Duration
	lastQuality     time.Time
	lastInputRecv   time.Time
	notifySent      bool
	disconnectSent  bool
	pendingOutput   []pendingInput
	lastAcked       pendingInput
	recvInputs      *btree.BTreeG[pendingInput]
	firstRecv       frame.Frame
	lastRecvFrame   frame.Frame
	remoteAdvantage int32
	started         time.Time
}

// RTT returns the latest round-trip estimate.
func (r *Running) RTT() time.Duration { return r.rtt }

// PendingOutput returns how many local frames await an ack.
func (r *Running) PendingOutput() int { return len(r.pendingOutput) }

// LastReceivedFrame returns the newest remote input frame.
func (r *Running) LastReceivedFrame() frame.Frame { return r.lastRecvFrame }

// Disconnected waits out the shutdown delay.
type Disconnected struct {
	shutdownAt time.Time
}

// ShutdownAt returns when the endpoint moves to Shutdown.
func (d *Disconnected) ShutdownAt() time.Time { return d.shutdownAt }

// Shutdown is terminal.
type Shutdown struct{}

func (*Initializing) Kind() StateKind  { return StateInitializing }
func (*Synchronizing) Kind() StateKind { return StateSynchronizing }
func (*Running) Kind() StateKind       { return StateRunning }
func (*Disconnected) Kind() StateKind  { return StateDisconnected }
func (*Shutdown) Kind() StateKind      { return StateShutdown }
