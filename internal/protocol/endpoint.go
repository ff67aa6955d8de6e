package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/btree"

	"github.com/vovakirdan/netplay/internal/checksum"
	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/input"
	"github.com/vovakirdan/netplay/internal/telemetry"
	"github.com/vovakirdan/netplay/internal/timesync"
)

// ErrNotRunning is returned by NetworkStats before the handshake is done or
// after the peer is gone.
var ErrNotRunning = errors.New("protocol: endpoint not running")

// udpHeaderSize is added per packet when estimating bandwidth.
const udpHeaderSize = 28

const btreeDegree = 8

// Datagram is one received message and where it came from.
type Datagram struct {
	Addr string
	Msg  Message
}

// Transport moves messages between peers. Neither call blocks; delivery is
// best effort.
type Transport interface {
	SendTo(addr string, msg Message)
	ReceiveAll() []Datagram
}

// Peer describes the remote side of an endpoint.
type Peer struct {
	Addr          string
	Handles       []frame.PlayerHandle // players (or spectators) behind Addr
	NumPlayers    int
	SendSize      int // bytes of input sent per frame
	RecvSize      int // bytes of input received per frame, 0 for spectators
	MaxPrediction int
	TimeSync      timesync.Config
}

// Stats is a snapshot of one connection.
type Stats struct {
	SendQueueLen       int
	Ping               time.Duration
	KbpsSent           uint64
	LocalFramesBehind  int32
	RemoteFramesBehind int32
}

// Endpoint drives the connection to one remote address. It is not safe for
// concurrent use; the owning session serialises every call.
type Endpoint struct {
	peer   Peer
	cfg    Config
	tr     Transport
	obs    telemetry.Observer
	logger *log.Logger

	state       State
	magic       uint16
	remoteMagic uint16
	epoch       time.Time
	lastSend    time.Time
	lastRecv    time.Time

	timeSync       *timesync.TimeSync
	localAdvantage int32
	peerConnect    []input.ConnectionStatus

	bytesSent   uint64
	packetsSent uint64

	events []Event
}

// NewEndpoint returns an endpoint in the Initializing state.
func NewEndpoint(p Peer, cfg Config, tr Transport, obs telemetry.Observer, logger *log.Logger, now time.Time) (*Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case p.Addr == "":
		return nil, fmt.Errorf("%w: empty peer address", ErrInvalidConfig)
	case p.SendSize < 1:
		return nil, fmt.Errorf("%w: send size must be positive, got %d", ErrInvalidConfig, p.SendSize)
	case p.RecvSize < 0:
		return nil, fmt.Errorf("%w: negative receive size %d", ErrInvalidConfig, p.RecvSize)
	case p.NumPlayers < 1:
		return nil, fmt.Errorf("%w: need at least one player", ErrInvalidConfig)
	case p.MaxPrediction < 1:
		return nil, fmt.Errorf("%w: max prediction must be positive", ErrInvalidConfig)
	}
	if tr == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidConfig)
	}
	if obs == nil {
		obs = telemetry.Discard
	}
	if logger == nil {
		logger = telemetry.NewLogger(log.WarnLevel)
	}
	return &Endpoint{
		peer:        p,
		cfg:         cfg,
		tr:          tr,
		obs:         obs,
		logger:      logger.With("peer", p.Addr),
		state:       &Initializing{},
		magic:       rand.N[uint16](math.MaxUint16) + 1,
		epoch:       now,
		lastSend:    now,
		lastRecv:    now,
		timeSync:    timesync.New(p.TimeSync),
		peerConnect: input.NewConnectionStatuses(p.NumPlayers),
	}, nil
}

// Addr returns the remote address.
func (e *Endpoint) Addr() string { return e.peer.Addr }

// Handles returns the handles served by this endpoint.
func (e *Endpoint) Handles() []frame.PlayerHandle { return e.peer.Handles }

// State returns the current state data.
func (e *Endpoint) State() State { return e.state }

// Kind is shorthand for State().Kind().
func (e *Endpoint) Kind() StateKind { return e.state.Kind() }

// IsRunning reports whether the handshake is done and the peer is live.
func (e *Endpoint) IsRunning() bool { return e.state.Kind() == StateRunning }

// IsSynchronized reports whether the handshake ever completed.
func (e *Endpoint) IsSynchronized() bool {
	switch e.state.Kind() {
	case StateRunning, StateDisconnected, StateShutdown:
		return true
	}
	return false
}

// Magic returns the local magic stamped on every outgoing message.
func (e *Endpoint) Magic() uint16 { return e.magic }

// PeerConnectStatus returns what the peer last told us about player i.
func (e *Endpoint) PeerConnectStatus(i int) (input.ConnectionStatus, bool) {
	if i < 0 || i >= len(e.peerConnect) {
		return input.ConnectionStatus{}, false
	}
	return e.peerConnect[i], true
}

// Synchronize starts the handshake.
func (e *Endpoint) Synchronize(now time.Time) {
	s := &Synchronizing{
		remaining: e.cfg.NumSyncPackets,
		nonces:    make(map[uint32]struct{}),
		started:   now,
	}
	if !e.transition(TriggerSynchronize, s) {
		return
	}
	e.lastRecv = now
	e.sendSyncRequest(s, now)
}

// Poll runs the timers and returns the events produced since the last call.
// connect is the local view of every player, sent along with resent input.
func (e *Endpoint) Poll(now time.Time, connect []input.ConnectionStatus) []Event {
	switch s := e.state.(type) {
	case *Synchronizing:
		elapsed := now.Sub(s.started)
		if e.cfg.SyncTimeout > 0 && elapsed > e.cfg.SyncTimeout && !s.timeoutSent {
			s.timeoutSent = true
			e.logger.Warn("synchronization timed out", "elapsed", elapsed)
			e.emit(SyncTimeoutEvent{Elapsed: elapsed})
		}
		if now.Sub(s.lastRequest) >= e.cfg.SyncRetryInterval {
			e.sendSyncRequest(s, now)
		}

	case *Running:
		if len(s.pendingOutput) > 0 && now.Sub(s.lastInputRecv) >= e.cfg.RunningRetryInterval {
			e.sendPendingOutput(s, connect, now)
			s.lastInputRecv = now
		}
		if now.Sub(s.lastQuality) >= e.cfg.QualityReportInterval {
			e.sendQualityReport(s, now)
		}
		if now.Sub(e.lastSend) >= e.cfg.KeepAliveInterval {
			e.send(&KeepAlive{}, now)
		}

		silence := now.Sub(e.lastRecv)
		notify := e.cfg.DisconnectNotifyStart
		if notify > 0 && silence >= notify && !s.notifySent && !s.disconnectSent {
			s.notifySent = true
			e.logger.Info("network interrupted", "silence", silence)
			e.emit(NetworkInterruptedEvent{DisconnectTimeout: e.cfg.DisconnectTimeout - notify})
		}
		if e.cfg.DisconnectTimeout > 0 && silence >= e.cfg.DisconnectTimeout {
			if !s.disconnectSent {
				s.disconnectSent = true
				e.emit(DisconnectedEvent{})
			}
			e.logger.Warn("peer timed out", "silence", silence)
			e.enterDisconnected(now)
		}

	case *Disconnected:
		if !now.Before(s.shutdownAt) {
			e.transition(TriggerShutdown, &Shutdown{})
		}
	}
	return e.drain()
}

// HandleMessage processes one message from the peer. Its events are
// returned by the next Poll.
func (e *Endpoint) HandleMessage(msg Message, now time.Time) {
	if e.state.Kind() == StateShutdown || msg.Body == nil {
		return
	}
	if e.remoteMagic != 0 && msg.Magic != e.remoteMagic {
		e.logger.Debug("dropping message with foreign magic", "magic", msg.Magic, "want", e.remoteMagic)
		return
	}
	e.lastRecv = now

	r, running := e.state.(*Running)
	if running && r.notifySent {
		r.notifySent = false
		e.logger.Info("network resumed")
		e.emit(NetworkResumedEvent{})
	}

	switch b := msg.Body.(type) {
	case *SyncRequest:
		e.send(&SyncReply{Nonce: b.Nonce}, now)
	case *SyncReply:
		e.onSyncReply(msg.Magic, b, now)
	case *Input:
		if running {
			e.onInput(r, b, now)
		}
	case *InputAck:
		if running {
			e.popPending(r, b.AckFrame)
		}
	case *QualityReport:
		if running {
			r.remoteAdvantage = int32(b.FrameAdvantage)
		}
		e.send(&QualityReply{Pong: b.Ping}, now)
	case *QualityReply:
		if running {
			if ms := e.millis(now); ms >= b.Pong {
				r.rtt = time.Duration(ms-b.Pong) * time.Millisecond
			}
		}
	case *ChecksumReport:
		if running {
			e.emit(ChecksumReceivedEvent{Frame: b.Frame, Sum: b.Sum})
		}
	case *KeepAlive:
	}
}

func (e *Endpoint) onSyncReply(magic uint16, b *SyncReply, now time.Time) {
	s, ok := e.state.(*Synchronizing)
	if !ok {
		return
	}
	if _, ok := s.nonces[b.Nonce]; !ok {
		e.logger.Debug("ignoring sync reply with unknown nonce", "nonce", b.Nonce)
		return
	}
	delete(s.nonces, b.Nonce)
	s.remaining--

	if s.remaining > 0 {
		e.emit(SynchronizingEvent{
			Total:        e.cfg.NumSyncPackets,
			Count:        e.cfg.NumSyncPackets - s.remaining,
			RequestsSent: s.requestsSent,
			Elapsed:      now.Sub(s.started),
		})
		e.sendSyncRequest(s, now)
		return
	}

	r := &Running{
		lastQuality:   now,
		lastInputRecv: now,
		lastAcked:     pendingInput{frame: frame.Null, bytes: make([]byte, e.peer.SendSize)},
		recvInputs:    btree.NewG(btreeDegree, pendingLess),
		firstRecv:     frame.Null,
		lastRecvFrame: frame.Null,
		started:       now,
	}
	if !e.transition(TriggerSynchronized, r) {
		return
	}
	e.remoteMagic = magic
	e.logger.Info("synchronized", "requests", s.requestsSent, "elapsed", now.Sub(s.started))
	e.emit(SynchronizedEvent{})
}

func (e *Endpoint) onInput(r *Running, b *Input, now time.Time) {
	r.lastInputRecv = now

	if b.DisconnectRequested {
		if !r.disconnectSent {
			r.disconnectSent = true
			e.logger.Info("peer requested disconnect")
			e.emit(DisconnectedEvent{})
		}
	} else {
		for i, cs := range b.PeerConnectStatus {
			if i >= len(e.peerConnect) {
				break
			}
			e.peerConnect[i].Disconnected = e.peerConnect[i].Disconnected || cs.Disconnected
			e.peerConnect[i].LastFrame = frame.Max(e.peerConnect[i].LastFrame, cs.LastFrame)
		}
	}

	e.popPending(r, b.AckFrame)

	if len(b.Bytes) == 0 || !b.StartFrame.IsValid() {
		return
	}
	if !r.lastRecvFrame.IsNull() && b.StartFrame > r.lastRecvFrame+1 {
		e.logger.Debug("dropping input past a gap", "start", b.StartFrame, "last", r.lastRecvFrame)
		return
	}
	ref, ok := e.reference(r, b.StartFrame)
	if !ok {
		telemetry.Report(e.obs, telemetry.SeverityWarning, telemetry.KindNetworkProtocol, b.StartFrame,
			"input reference frame already pruned", "peer", e.peer.Addr)
		return
	}
	decoded, err := DecodeInputs(ref, b.Bytes)
	if err != nil {
		telemetry.Report(e.obs, telemetry.SeverityWarning, telemetry.KindNetworkProtocol, b.StartFrame,
			"undecodable input payload", "peer", e.peer.Addr, "err", err)
		return
	}

	for i, in := range decoded {
		f := b.StartFrame + frame.Frame(i)
		if !r.lastRecvFrame.IsNull() && f <= r.lastRecvFrame {
			continue
		}
		if r.firstRecv.IsNull() {
			r.firstRecv = f
		}
		r.recvInputs.ReplaceOrInsert(pendingInput{frame: f, bytes: in})
		r.lastRecvFrame = f
		e.emit(InputReceivedEvent{Frame: f, Bytes: in})
	}
	e.pruneReceived(r)
	e.send(&InputAck{AckFrame: r.lastRecvFrame}, now)
}

// reference returns the input the sender compressed start against: the
// frame before start, or zeros if we never saw that frame.
func (e *Endpoint) reference(r *Running, start frame.Frame) ([]byte, bool) {
	if prev, ok := r.recvInputs.Get(pendingInput{frame: start - 1}); ok {
		return prev.bytes, true
	}
	if r.firstRecv.IsNull() || start-1 < r.firstRecv {
		return make([]byte, e.peer.RecvSize), true
	}
	return nil, false
}

func (e *Endpoint) pruneReceived(r *Running) {
	keep := max(2*e.peer.MaxPrediction, e.cfg.PendingOutputLimit)
	cutoff := r.lastRecvFrame - frame.Frame(keep)
	for {
		oldest, ok := r.recvInputs.Min()
		if !ok || oldest.frame >= cutoff {
			return
		}
		r.recvInputs.DeleteMin()
	}
}

func (e *Endpoint) popPending(r *Running, ack frame.Frame) {
	if ack.IsNull() {
		return
	}
	n := 0
	for n < len(r.pendingOutput) && r.pendingOutput[n].frame <= ack {
		n++
	}
	if n == 0 {
		return
	}
	r.lastAcked = r.pendingOutput[n-1]
	r.pendingOutput = append(r.pendingOutput[:0], r.pendingOutput[n:]...)
}

// SendInput queues the local input for f and sends every unacked frame.
func (e *Endpoint) SendInput(f frame.Frame, in []byte, connect []input.ConnectionStatus, now time.Time) {
	r, ok := e.state.(*Running)
	if !ok {
		return
	}
	e.timeSync.AdvanceFrame(f, e.localAdvantage, r.remoteAdvantage)

	r.pendingOutput = append(r.pendingOutput, pendingInput{frame: f, bytes: bytes.Clone(in)})
	n := len(r.pendingOutput)
	if e.cfg.PendingOutputWarn > 0 && n == e.cfg.PendingOutputWarn+1 {
		telemetry.Report(e.obs, telemetry.SeverityWarning, telemetry.KindNetworkProtocol, f,
			"pending output is growing", "peer", e.peer.Addr, "pending", n)
	}
	if n > e.cfg.PendingOutputLimit && !r.disconnectSent {
		r.disconnectSent = true
		telemetry.Report(e.obs, telemetry.SeverityError, telemetry.KindNetworkProtocol, f,
			"pending output limit exceeded", "peer", e.peer.Addr, "pending", n)
		e.emit(DisconnectedEvent{})
	}
	e.sendPendingOutput(r, connect, now)
}

func (e *Endpoint) sendPendingOutput(r *Running, connect []input.ConnectionStatus, now time.Time) {
	if len(r.pendingOutput) == 0 {
		return
	}
	inputs := make([][]byte, len(r.pendingOutput))
	for i, p := range r.pendingOutput {
		inputs[i] = p.bytes
	}
	e.send(&Input{
		PeerConnectStatus: slices.Clone(connect),
		StartFrame:        r.pendingOutput[0].frame,
		AckFrame:          r.lastRecvFrame,
		Bytes:             EncodeInputs(r.lastAcked.bytes, inputs),
	}, now)
}

// SendChecksum reports the local digest of f to the peer.
func (e *Endpoint) SendChecksum(f frame.Frame, sum checksum.Sum, now time.Time) {
	if !e.IsRunning() {
		return
	}
	e.send(&ChecksumReport{Frame: f, Sum: sum}, now)
}

// Disconnect tells a running peer we are leaving and starts the shutdown
// delay. An endpoint that never finished the handshake shuts down at once.
func (e *Endpoint) Disconnect(now time.Time) {
	switch s := e.state.(type) {
	case *Running:
		e.send(&Input{
			DisconnectRequested: true,
			StartFrame:          frame.Null,
			AckFrame:            s.lastRecvFrame,
		}, now)
		e.enterDisconnected(now)
	case *Initializing, *Synchronizing:
		e.transition(TriggerShutdown, &Shutdown{})
	}
}

// Shutdown stops the endpoint for good.
func (e *Endpoint) Shutdown() {
	if e.state.Kind() != StateShutdown {
		e.transition(TriggerShutdown, &Shutdown{})
	}
}

func (e *Endpoint) enterDisconnected(now time.Time) {
	e.transition(TriggerDisconnect, &Disconnected{shutdownAt: now.Add(e.cfg.ShutdownDelay)})
}

// UpdateLocalFrameAdvantage estimates how far the peer is ahead of
// localFrame from its newest input and half the round trip.
func (e *Endpoint) UpdateLocalFrameAdvantage(localFrame frame.Frame) {
	r, ok := e.state.(*Running)
	if !ok || localFrame.IsNull() || r.lastRecvFrame.IsNull() {
		return
	}
	ping := r.rtt.Milliseconds() / 2
	remote := int64(r.lastRecvFrame) + ping*int64(e.cfg.FPS)/1000
	e.localAdvantage = int32(min(max(remote-int64(localFrame), math.MinInt32), math.MaxInt32))
}

// RecommendFrameDelay returns the averaged frame advantage. Positive means
// we are ahead and should wait.
func (e *Endpoint) RecommendFrameDelay() int32 {
	return e.timeSync.AverageFrameAdvantage()
}

// NetworkStats returns connection quality figures.
func (e *Endpoint) NetworkStats(now time.Time) (Stats, error) {
	r, ok := e.state.(*Running)
	if !ok {
		return Stats{}, fmt.Errorf("%w: %v", ErrNotRunning, e.state.Kind())
	}
	st := Stats{
		SendQueueLen:       len(r.pendingOutput),
		Ping:               r.rtt,
		LocalFramesBehind:  e.localAdvantage,
		RemoteFramesBehind: r.remoteAdvantage,
	}
	if secs := uint64(now.Sub(e.epoch) / time.Second); secs > 0 {
		total := e.bytesSent + e.packetsSent*udpHeaderSize
		st.KbpsSent = total * 8 / 1000 / secs
	}
	return st, nil
}

func (e *Endpoint) sendSyncRequest(s *Synchronizing, now time.Time) {
	s.requestsSent++
	s.lastRequest = now

	if t := e.cfg.SyncRetryWarningThreshold; t > 0 && !s.retryWarned && s.requestsSent > t {
		s.retryWarned = true
		telemetry.Report(e.obs, telemetry.SeverityWarning, telemetry.KindSynchronization, frame.Null,
			"excessive sync retries", "peer", e.peer.Addr, "requests", s.requestsSent, "threshold", t)
	}
	if d := e.cfg.SyncDurationWarning; d > 0 && !s.durationWarned && now.Sub(s.started) > d {
		s.durationWarned = true
		telemetry.Report(e.obs, telemetry.SeverityWarning, telemetry.KindSynchronization, frame.Null,
			"synchronization is slow", "peer", e.peer.Addr, "elapsed", now.Sub(s.started), "threshold", d)
	}

	nonce := rand.Uint32()
	s.nonces[nonce] = struct{}{}
	e.send(&SyncRequest{Nonce: nonce}, now)
}

func (e *Endpoint) sendQualityReport(r *Running, now time.Time) {
	r.lastQuality = now
	adv := min(max(e.localAdvantage, math.MinInt16), math.MaxInt16)
	e.send(&QualityReport{FrameAdvantage: int16(adv), Ping: e.millis(now)}, now)
}

func (e *Endpoint) send(b Body, now time.Time) {
	msg := Message{Magic: e.magic, Body: b}
	e.tr.SendTo(e.peer.Addr, msg)
	e.lastSend = now
	e.packetsSent++
	if raw, err := Marshal(msg); err == nil {
		e.bytesSent += uint64(len(raw))
	}
}

func (e *Endpoint) transition(t Trigger, next State) bool {
	from := e.state.Kind()
	to, err := Transition(from, t)
	if err != nil {
		telemetry.Report(e.obs, telemetry.SeverityWarning, telemetry.KindNetworkProtocol, frame.Null,
			"rejected endpoint transition", "peer", e.peer.Addr, "err", err)
		return false
	}
	if to != next.Kind() {
		telemetry.Report(e.obs, telemetry.SeverityCritical, telemetry.KindInternalError, frame.Null,
			"endpoint transition produced the wrong state", "peer", e.peer.Addr, "want", to, "got", next.Kind())
		return false
	}
	e.logger.Debug("endpoint state", "from", from, "to", to)
	e.state = next
	return true
}

func (e *Endpoint) millis(now time.Time) uint64 {
	return uint64(max(now.Sub(e.epoch).Milliseconds(), 0))
}

func (e *Endpoint) emit(ev Event) {
	e.events = append(e.events, ev)
}

func (e *Endpoint) drain() []Event {
	out := e.events
	e.events = nil
	return out
}
