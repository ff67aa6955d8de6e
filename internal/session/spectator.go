package session

import (
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/input"
	"github.com/vovakirdan/netplay/internal/protocol"
	"github.com/vovakirdan/netplay/internal/telemetry"
)

type spectated[I any] struct {
	frame  frame.Frame
	inputs []I
}

// SpectatorSession follows a match through one hosting player peer. It
// never predicts: a frame is simulated only once the host has sent every
// player's confirmed input for it, so there is nothing to roll back.
type SpectatorSession[I comparable] struct {
	cfg    Config
	tr     protocol.Transport
	codec  Codec[I]
	obs    telemetry.Observer
	logger *log.Logger
	clock  func() time.Time

	hostAddr string
	host     *protocol.Endpoint
	state    State

	ring     []spectated[I] // indexed by frame mod QueueLength
	current  frame.Frame
	lastRecv frame.Frame

	events []Event
}

// NewSpectator creates a spectator of the match hosted at hostAddr and
// starts the handshake. The host must register this peer's address with
// AddPlayer(Spectator{...}). Only NumPlayers, QueueLength, MaxPrediction,
// EventQueueSize and the protocol and time sync settings of cfg are used.
func NewSpectator[I comparable](cfg Config, tr protocol.Transport, codec Codec[I], hostAddr string, opts ...Option) (*SpectatorSession[I], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidConfig)
	}
	if codec == nil || codec.Size() < 1 {
		return nil, fmt.Errorf("%w: codec must encode fixed-size inputs", ErrInvalidConfig)
	}
	if hostAddr == "" {
		return nil, fmt.Errorf("%w: empty host address", ErrInvalidConfig)
	}

	o := newOptions(opts)
	now := o.clock()
	handles := make([]frame.PlayerHandle, cfg.NumPlayers)
	for i := range handles {
		handles[i] = frame.PlayerHandle(i)
	}
	frameSize := codec.Size() * cfg.NumPlayers
	ep, err := protocol.NewEndpoint(protocol.Peer{
		Addr:          hostAddr,
		Handles:       handles,
		NumPlayers:    cfg.NumPlayers,
		SendSize:      frameSize,
		RecvSize:      frameSize,
		MaxPrediction: cfg.MaxPrediction,
		TimeSync:      cfg.TimeSync,
	}, cfg.protocol(), tr, o.observer, o.logger, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	ring := make([]spectated[I], cfg.QueueLength)
	for i := range ring {
		ring[i].frame = frame.Null
	}
	s := &SpectatorSession[I]{
		cfg:      cfg,
		tr:       tr,
		codec:    codec,
		obs:      o.observer,
		logger:   o.logger,
		clock:    o.clock,
		hostAddr: hostAddr,
		host:     ep,
		ring:     ring,
		lastRecv: frame.Null,
	}
	ep.Synchronize(now)
	s.logger.Debug("spectator started", "host", hostAddr, "players", cfg.NumPlayers)
	return s, nil
}

// CurrentState reports whether the handshake with the host is done.
func (s *SpectatorSession[I]) CurrentState() State { return s.state }

// CurrentFrame returns the frame about to be simulated.
func (s *SpectatorSession[I]) CurrentFrame() frame.Frame { return s.current }

// LastReceivedFrame returns the newest frame the host has sent, or Null.
func (s *SpectatorSession[I]) LastReceivedFrame() frame.Frame { return s.lastRecv }

// FramesBehindHost returns how many received frames are not simulated yet.
// A host falling behind can call AdvanceFrame several times per tick.
func (s *SpectatorSession[I]) FramesBehindHost() int {
	if s.lastRecv.IsNull() || s.lastRecv < s.current {
		return 0
	}
	return int(s.lastRecv-s.current) + 1
}

// NumPlayers returns the number of players in the spectated match.
func (s *SpectatorSession[I]) NumPlayers() int { return s.cfg.NumPlayers }

// AdvanceFrame returns the single AdvanceFrame request for the current
// frame. ErrPredictionThreshold means the host has not confirmed the frame
// yet; ErrSpectatorTooFarBehind means its inputs were already overwritten.
func (s *SpectatorSession[I]) AdvanceFrame() ([]Request, error) {
	s.PollRemoteClients()
	if s.state != StateRunning {
		return nil, ErrNotSynchronized
	}

	f := s.current
	slot := s.ring[f.Mod(len(s.ring))]
	switch {
	case slot.frame.IsNull() || slot.frame < f:
		return nil, ErrPredictionThreshold
	case slot.frame > f:
		return nil, fmt.Errorf("%w: need frame %v, oldest kept is %v", ErrSpectatorTooFarBehind, f, slot.frame)
	}

	inputs := make([]input.PlayerInput[I], len(slot.inputs))
	for i, v := range slot.inputs {
		inputs[i] = input.PlayerInput[I]{Value: v, Status: input.StatusConfirmed}
		if cs, ok := s.host.PeerConnectStatus(i); ok && cs.Disconnected && cs.LastFrame < f {
			inputs[i].Status = input.StatusDisconnected
		}
	}
	s.current++
	return []Request{AdvanceFrame[I]{Frame: f, Inputs: inputs}}, nil
}

// PollRemoteClients receives the host's datagrams and runs the endpoint's
// timers. Call it between frames to keep the connection alive.
func (s *SpectatorSession[I]) PollRemoteClients() {
	now := s.clock()
	for _, d := range s.tr.ReceiveAll() {
		if d.Addr != s.hostAddr {
			s.logger.Debug("datagram from unknown address", "addr", d.Addr)
			continue
		}
		s.host.HandleMessage(d.Msg, now)
	}

	s.host.UpdateLocalFrameAdvantage(s.current)
	for _, ev := range s.host.Poll(now, s.hostConnect()) {
		s.handleEvent(ev)
	}
}

func (s *SpectatorSession[I]) hostConnect() []input.ConnectionStatus {
	out := input.NewConnectionStatuses(s.cfg.NumPlayers)
	for i := range out {
		if cs, ok := s.host.PeerConnectStatus(i); ok {
			out[i] = cs
		}
	}
	return out
}

func (s *SpectatorSession[I]) handleEvent(ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.SynchronizingEvent:
		s.push(SynchronizingEvent{
			Addr:         s.hostAddr,
			Total:        ev.Total,
			Count:        ev.Count,
			RequestsSent: ev.RequestsSent,
			Elapsed:      ev.Elapsed,
		})
	case protocol.SynchronizedEvent:
		s.state = StateRunning
		s.logger.Info("host synchronized", "host", s.hostAddr)
		s.push(SynchronizedEvent{Addr: s.hostAddr})
	case protocol.SyncTimeoutEvent:
		s.push(SyncTimeoutEvent{Addr: s.hostAddr, Elapsed: ev.Elapsed})
	case protocol.NetworkInterruptedEvent:
		s.push(NetworkInterruptedEvent{Addr: s.hostAddr, DisconnectTimeout: ev.DisconnectTimeout})
	case protocol.NetworkResumedEvent:
		s.push(NetworkResumedEvent{Addr: s.hostAddr})
	case protocol.DisconnectedEvent:
		s.logger.Info("host disconnected", "host", s.hostAddr)
		s.push(DisconnectedEvent{Addr: s.hostAddr})
	case protocol.InputReceivedEvent:
		s.onInput(ev)
	}
}

func (s *SpectatorSession[I]) onInput(ev protocol.InputReceivedEvent) {
	size := s.codec.Size()
	if len(ev.Bytes) != size*s.cfg.NumPlayers {
		telemetry.Report(s.obs, telemetry.SeverityWarning, telemetry.KindNetworkProtocol, ev.Frame,
			"host input has the wrong size", "host", s.hostAddr, "bytes", len(ev.Bytes))
		return
	}
	inputs := make([]I, s.cfg.NumPlayers)
	for i := range inputs {
		v, err := s.codec.Decode(ev.Bytes[i*size : (i+1)*size])
		if err != nil {
			telemetry.Report(s.obs, telemetry.SeverityWarning, telemetry.KindNetworkProtocol, ev.Frame,
				"cannot decode host input", "host", s.hostAddr, "player", i, "error", err)
			return
		}
		inputs[i] = v
	}
	if !s.lastRecv.IsNull() && ev.Frame != s.lastRecv+1 {
		telemetry.Report(s.obs, telemetry.SeverityWarning, telemetry.KindInputQueue, ev.Frame,
			"host input out of sequence", "host", s.hostAddr, "last", s.lastRecv)
	}
	s.ring[ev.Frame.Mod(len(s.ring))] = spectated[I]{frame: ev.Frame, inputs: inputs}
	s.lastRecv = frame.Max(s.lastRecv, ev.Frame)
}

// NetworkStats returns connection figures for the host.
func (s *SpectatorSession[I]) NetworkStats() (protocol.Stats, error) {
	st, err := s.host.NetworkStats(s.clock())
	if err != nil {
		return protocol.Stats{}, fmt.Errorf("%w: %w", ErrNotSynchronized, err)
	}
	return st, nil
}

func (s *SpectatorSession[I]) push(ev Event) {
	if n := len(s.events); n >= s.cfg.EventQueueSize {
		drop := n - s.cfg.EventQueueSize + 1
		s.events = slices.Delete(s.events, 0, drop)
		telemetry.Report(s.obs, telemetry.SeverityWarning, telemetry.KindInternalError, s.current,
			"event queue full, dropping oldest", "dropped", drop)
	}
	s.events = append(s.events, ev)
}

// Events drains the queued events, oldest first.
func (s *SpectatorSession[I]) Events() []Event {
	out := s.events
	s.events = nil
	return out
}
