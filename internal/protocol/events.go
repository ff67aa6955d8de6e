package protocol

import (
	"time"

	"github.com/vovakirdan/netplay/internal/checksum"
	"github.com/vovakirdan/netplay/internal/frame"
)

// Event is something an endpoint reports to its session.
type Event interface {
	endpointEvent()
}

// SynchronizingEvent reports handshake progress.
type SynchronizingEvent struct {
	Total        int
	Count        int
	RequestsSent int
	Elapsed      time.Duration
}

// SynchronizedEvent is emitted once the handshake completes.
type SynchronizedEvent struct{}

// SyncTimeoutEvent is emitted once when the handshake exceeds SyncTimeout.
type SyncTimeoutEvent struct {
	Elapsed time.Duration
}

// NetworkInterruptedEvent is emitted when the peer has been silent for
// DisconnectNotifyStart. DisconnectTimeout is the time left before the
// peer is dropped.
type NetworkInterruptedEvent struct {
	DisconnectTimeout time.Duration
}

// NetworkResumedEvent follows a NetworkInterruptedEvent when traffic
// returns.
type NetworkResumedEvent struct{}

// DisconnectedEvent is emitted once when the peer times out, asks to
// disconnect, or falls too far behind on acks.
type DisconnectedEvent struct{}

// InputReceivedEvent carries the raw input bytes of one remote frame.
type InputReceivedEvent struct {
	Frame frame.Frame
	Bytes []byte
}

// ChecksumReceivedEvent carries a remote digest.
type ChecksumReceivedEvent struct {
	Frame frame.Frame
	Sum   checksum.Sum
}

func (SynchronizingEvent) endpointEvent()      {}
func (SynchronizedEvent) endpointEvent()       {}
func (SyncTimeoutEvent) endpointEvent()        {}
func (NetworkInterruptedEvent) endpointEvent() {}
func (NetworkResumedEvent) endpointEvent()     {}
func (DisconnectedEvent) endpointEvent()       {}
func (InputReceivedEvent) endpointEvent()      {}
func (ChecksumReceivedEvent) endpointEvent()   {}
