package session

import (
	"time"

	"github.com/vovakirdan/netplay/internal/checksum"
	"github.com/vovakirdan/netplay/internal/frame"
)

// Event is something the host should know about. Drain them with Events.
type Event interface {
	sessionEvent()
}

// SynchronizingEvent reports handshake progress with one peer.
type SynchronizingEvent struct {
	Addr         string
	Total        int
	Count        int
	RequestsSent int
	Elapsed      time.Duration
}

// SynchronizedEvent is sent once the handshake with a peer completes.
type SynchronizedEvent struct {
	Addr string
}

// DisconnectedEvent is sent when a peer is gone for good.
type DisconnectedEvent struct {
	Addr string
}

// NetworkInterruptedEvent warns that a peer went quiet.
type NetworkInterruptedEvent struct {
	Addr              string
	DisconnectTimeout time.Duration
}

// NetworkResumedEvent follows NetworkInterruptedEvent when traffic returns.
type NetworkResumedEvent struct {
	Addr string
}

// WaitRecommendationEvent suggests skipping frames because this peer is
// running ahead of the others.
type WaitRecommendationEvent struct {
	SkipFrames uint32
}

// DesyncDetectedEvent reports a checksum disagreement. The host should
// treat it as terminal for the match.
type DesyncDetectedEvent struct {
	Frame  frame.Frame
	Local  checksum.Sum
	Remote checksum.Sum
	Addr   string
}

// SyncTimeoutEvent is sent once when a handshake takes longer than the
// configured timeout. The session keeps trying.
type SyncTimeoutEvent struct {
	Addr    string
	Elapsed time.Duration
}

func (SynchronizingEvent) sessionEvent()      {}
func (SynchronizedEvent) sessionEvent()       {}
func (DisconnectedEvent) sessionEvent()       {}
func (NetworkInterruptedEvent) sessionEvent() {}
func (NetworkResumedEvent) sessionEvent()     {}
func (WaitRecommendationEvent) sessionEvent() {}
func (DesyncDetectedEvent) sessionEvent()     {}
func (SyncTimeoutEvent) sessionEvent()        {}
