// Package protocol implements the per-peer endpoint of the rollback
// stack: the handshake, reliable-by-retransmission input delivery,
// quality reports, keepalives and checksum reports.
package protocol

import (
	"fmt"

	"github.com/vovakirdan/netplay/internal/checksum"
	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/input"
)

// Body is the payload of a Message. The set of bodies is closed.
type Body interface {
	body()
	fmt.Stringer
}

// Message is one datagram on the wire.
type Message struct {
	Magic uint16
	Body  Body
}

func (m Message) String() string {
	return fmt.Sprintf("[%04x] %v", m.Magic, m.Body)
}

// SyncRequest opens a handshake roundtrip.
type SyncRequest struct {
	Nonce uint32
}

// SyncReply echoes the nonce of a SyncRequest.
type SyncReply struct {
	Nonce uint32
}

// Input carries every unacknowledged local input frame, starting at
// StartFrame, compressed against the last input the peer acknowledged.
type Input struct {
	PeerConnectStatus   []input.ConnectionStatus
	DisconnectRequested bool
	StartFrame          frame.Frame
	AckFrame            frame.Frame
	Bytes               []byte
}

// InputAck acknowledges every input up to and including AckFrame.
type InputAck struct {
	AckFrame frame.Frame
}

// QualityReport carries the sender's frame advantage and a ping timestamp
// in milliseconds.
type QualityReport struct {
	FrameAdvantage int16
	Ping           uint64
}

// QualityReply echoes the ping timestamp of a QualityReport.
type QualityReply struct {
	Pong uint64
}

// ChecksumReport announces the sender's digest of a confirmed frame.
type ChecksumReport struct {
	Frame frame.Frame
	Sum   checksum.Sum
}

// KeepAlive keeps the receive timer of an idle peer from expiring.
type KeepAlive struct{}

func (*SyncRequest) body()    {}
func (*SyncReply) body()      {}
func (*Input) body()          {}
func (*InputAck) body()       {}
func (*QualityReport) body()  {}
func (*QualityReply) body()   {}
func (*ChecksumReport) body() {}
func (*KeepAlive) body()      {}

func (b *SyncRequest) String() string { return fmt.Sprintf("sync-request(%08x)", b.Nonce) }
func (b *SyncReply) String() string   { return fmt.Sprintf("sync-reply(%08x)", b.Nonce) }

func (b *Input) String() string {
	return fmt.Sprintf("input(start=%v ack=%v bytes=%d disconnect=%t)",
		b.StartFrame, b.AckFrame, len(b.Bytes), b.DisconnectRequested)
}

func (b *InputAck) String() string { return fmt.Sprintf("input-ack(%v)", b.AckFrame) }

func (b *QualityReport) String() string {
	return fmt.Sprintf("quality-report(adv=%d ping=%d)", b.FrameAdvantage, b.Ping)
}

func (b *QualityReply) String() string { return fmt.Sprintf("quality-reply(%d)", b.Pong) }

func (b *ChecksumReport) String() string {
	return fmt.Sprintf("checksum(%v %v)", b.Frame, b.Sum)
}

func (*KeepAlive) String() string { return "keepalive" }
