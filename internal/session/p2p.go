// Package session ties the sync layer, the per-peer endpoints and the
// checksum exchange into the object a game host drives once per frame.
package session

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/btree"

	"github.com/vovakirdan/netplay/internal/checksum"
	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/input"
	"github.com/vovakirdan/netplay/internal/protocol"
	"github.com/vovakirdan/netplay/internal/synclayer"
	"github.com/vovakirdan/netplay/internal/telemetry"
)

const (
	recommendationInterval = 60
	minRecommendation      = 3
	btreeDegree            = 8
)

// State is the coarse state of a session.
type State uint8

const (
	StateSynchronizing State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "synchronizing"
}

// P2PSession runs a peer-to-peer match. It is single-threaded: the host
// calls every method from its game loop.
type P2PSession[I comparable, S any] struct {
	cfg    Config
	tr     protocol.Transport
	codec  Codec[I]
	obs    telemetry.Observer
	logger *log.Logger
	clock  func() time.Time

	sync     *synclayer.SyncLayer[I, S]
	exchange *checksum.Exchange

	players      map[frame.PlayerHandle]PlayerType
	peers        *btree.BTreeG[*peer]
	localHandles []frame.PlayerHandle
	started      bool
	state        State

	localConnect []input.ConnectionStatus
	localInputs  map[frame.PlayerHandle]I
	localAdded   frame.Frame // frame whose local inputs were already queued and sent

	disconnectFrame      frame.Frame
	nextSpectatorFrame   frame.Frame
	nextRecommendedSleep frame.Frame
	framesAhead          int32

	events []Event
}

// NewP2P creates a session. Register every player with AddPlayer, then call
// Start.
func NewP2P[I comparable, S any](cfg Config, tr protocol.Transport, codec Codec[I], opts ...Option) (*P2PSession[I, S], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidConfig)
	}
	if codec == nil || codec.Size() < 1 {
		return nil, fmt.Errorf("%w: codec must encode fixed-size inputs", ErrInvalidConfig)
	}

	o := newOptions(opts)
	strategy, err := strategyFrom[I](o)
	if err != nil {
		return nil, err
	}
	sl, err := synclayer.New[I, S](cfg.syncLayer(), strategy, o.observer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &P2PSession[I, S]{
		cfg:                  cfg,
		tr:                   tr,
		codec:                codec,
		obs:                  o.observer,
		logger:               o.logger,
		clock:                o.clock,
		sync:                 sl,
		exchange:             checksum.NewExchange(cfg.checksum()),
		players:              make(map[frame.PlayerHandle]PlayerType),
		peers:                btree.NewG(btreeDegree, peerLess),
		localConnect:         input.NewConnectionStatuses(cfg.NumPlayers),
		localInputs:          make(map[frame.PlayerHandle]I),
		localAdded:           frame.Null,
		disconnectFrame:      frame.Null,
		nextSpectatorFrame:   0,
		nextRecommendedSleep: 0,
	}, nil
}

// AddPlayer registers handle as the given player type. It must be called
// before Start.
func (s *P2PSession[I, S]) AddPlayer(pt PlayerType, h frame.PlayerHandle) error {
	if s.started {
		return fmt.Errorf("%w: players cannot be added after Start", ErrInvalidRequest)
	}
	if _, dup := s.players[h]; dup {
		return fmt.Errorf("%w: handle %d already registered", ErrInvalidHandle, h)
	}

	switch p := pt.(type) {
	case Local:
		if err := h.ValidatePlayer(s.cfg.NumPlayers); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidHandle, err)
		}
		if err := s.sync.SetFrameDelay(int(h), s.cfg.InputDelay); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	case Remote:
		if err := h.ValidatePlayer(s.cfg.NumPlayers); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidHandle, err)
		}
		if err := s.addPeer(p.Addr, false, h); err != nil {
			return err
		}
	case Spectator:
		if err := h.ValidateSpectator(s.cfg.NumPlayers); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidHandle, err)
		}
		if err := s.addPeer(p.Addr, true, h); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown player type %T", ErrInvalidRequest, pt)
	}

	s.players[h] = pt
	return nil
}

func (s *P2PSession[I, S]) addPeer(addr string, spectator bool, h frame.PlayerHandle) error {
	if addr == "" {
		return fmt.Errorf("%w: empty address for handle %d", ErrInvalidRequest, h)
	}
	if p, ok := s.peers.Get(&peer{addr: addr}); ok {
		if p.spectator != spectator {
			return fmt.Errorf("%w: %s cannot host both players and spectators", ErrInvalidRequest, addr)
		}
		p.handles = append(p.handles, h)
		return nil
	}
	s.peers.ReplaceOrInsert(&peer{addr: addr, spectator: spectator, handles: []frame.PlayerHandle{h}})
	return nil
}

// Start checks that every player handle is registered, creates one endpoint
// per remote address and begins synchronizing.
func (s *P2PSession[I, S]) Start() error {
	if s.started {
		return fmt.Errorf("%w: session already started", ErrInvalidRequest)
	}
	var locals []frame.PlayerHandle
	for h := range frame.PlayerHandle(s.cfg.NumPlayers) {
		pt, ok := s.players[h]
		if !ok {
			return fmt.Errorf("%w: player %d not registered", ErrInvalidRequest, h)
		}
		if _, local := pt.(Local); local {
			locals = append(locals, h)
		}
	}
	if len(locals) == 0 {
		return fmt.Errorf("%w: no local players", ErrInvalidRequest)
	}
	s.localHandles = locals

	now := s.clock()
	size := s.codec.Size()
	var err error
	s.peers.Ascend(func(p *peer) bool {
		slices.Sort(p.handles)
		desc := protocol.Peer{
			Addr:          p.addr,
			Handles:       p.handles,
			NumPlayers:    s.cfg.NumPlayers,
			SendSize:      size * len(s.localHandles),
			RecvSize:      size * len(p.handles),
			MaxPrediction: s.cfg.MaxPrediction,
			TimeSync:      s.cfg.TimeSync,
		}
		if p.spectator {
			desc.SendSize = size * s.cfg.NumPlayers
			desc.RecvSize = 0
		}
		p.ep, err = protocol.NewEndpoint(desc, s.cfg.protocol(), s.tr, s.obs, s.logger, now)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrInvalidConfig, err)
			return false
		}
		if !p.spectator {
			s.exchange.AddPeer(p.addr)
		}
		p.ep.Synchronize(now)
		return true
	})
	if err != nil {
		return err
	}

	s.started = true
	s.checkInitialSync()
	s.logger.Debug("session started", "players", s.cfg.NumPlayers, "peers", s.peers.Len())
	return nil
}

// CurrentState reports whether every peer has finished its handshake.
func (s *P2PSession[I, S]) CurrentState() State { return s.state }

// AddLocalInput sets the input of a local player for the current frame.
// Calling it again before AdvanceFrame replaces the value.
func (s *P2PSession[I, S]) AddLocalInput(h frame.PlayerHandle, v I) error {
	if _, ok := s.players[h].(Local); !ok {
		return fmt.Errorf("%w: %d is not a local player", ErrInvalidHandle, h)
	}
	s.localInputs[h] = v
	return nil
}

// AdvanceFrame moves the match forward by one frame and returns the
// requests the host must fulfil in order. With ErrPredictionThreshold the
// returned requests must still be executed, but the frame did not advance.
func (s *P2PSession[I, S]) AdvanceFrame() ([]Request, error) {
	if !s.started {
		return nil, fmt.Errorf("%w: session not started", ErrNotSynchronized)
	}
	now := s.clock()

	s.PollRemoteClients()
	if s.state != StateRunning {
		return nil, ErrNotSynchronized
	}

	current := s.sync.CurrentFrame()
	for _, h := range s.localHandles {
		if _, ok := s.localInputs[h]; !ok {
			return nil, fmt.Errorf("%w: handle %d at frame %v", ErrMissingInput, h, current)
		}
	}

	var reqs []Request
	s.checkChecksums(now)

	saved := false
	if current == 0 {
		save, err := s.sync.SaveCurrentState()
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, save)
		saved = true
	}

	s.updatePlayerDisconnects(now)
	confirmed := s.confirmedFrame()

	if first := frame.Min(s.sync.CheckSimulationConsistency(), s.disconnectFrame); !first.IsNull() {
		adj, err := s.sync.AdjustGamestate(first, confirmed, s.localConnect)
		reqs = append(reqs, adj...)
		if err != nil {
			return reqs, fmt.Errorf("session: roll back to frame %v: %w", first, err)
		}
		s.disconnectFrame = frame.Null
	}

	more, err := s.saveCurrent(confirmed, saved)
	reqs = append(reqs, more...)
	if err != nil {
		return reqs, err
	}

	s.sendConfirmedToSpectators(confirmed, now)
	s.sync.SetLastConfirmedFrame(confirmed)
	s.checkWaitRecommendation()

	if err := s.addLocalInputs(now); err != nil {
		return reqs, err
	}

	if s.predictionThresholdReached() {
		s.logger.Debug("prediction threshold reached", "frame", current, "confirmed", s.sync.LastConfirmedFrame())
		return reqs, ErrPredictionThreshold
	}

	inputs, err := s.sync.SynchronizedInputs(s.localConnect)
	if err != nil {
		return reqs, err
	}
	reqs = append(reqs, AdvanceFrame[I]{Frame: current, Inputs: inputs})
	if err := s.sync.AdvanceFrame(); err != nil {
		return reqs, err
	}
	clear(s.localInputs)
	return reqs, nil
}

// saveCurrent saves the current frame according to the save mode. Sparse
// saving only saves once the last save is a full prediction window old,
// rolling back to it first when the confirmed frame has not caught up.
func (s *P2PSession[I, S]) saveCurrent(confirmed frame.Frame, alreadySaved bool) ([]Request, error) {
	current := s.sync.CurrentFrame()
	switch s.cfg.SaveMode {
	case synclayer.SaveSparse:
		last := s.sync.LastSavedFrame()
		if !last.IsNull() && current.Distance(last) < int64(s.cfg.MaxPrediction) {
			return nil, nil
		}
		if last.IsNull() || confirmed >= current {
			save, err := s.sync.SaveCurrentState()
			if err != nil {
				return nil, err
			}
			return []Request{save}, nil
		}
		reqs, err := s.sync.AdjustGamestate(last, confirmed, s.localConnect)
		if err != nil {
			return reqs, fmt.Errorf("session: resimulate from save %v: %w", last, err)
		}
		return reqs, nil
	default:
		if alreadySaved {
			return nil, nil
		}
		save, err := s.sync.SaveCurrentState()
		if err != nil {
			return nil, err
		}
		return []Request{save}, nil
	}
}

func (s *P2PSession[I, S]) addLocalInputs(now time.Time) error {
	current := s.sync.CurrentFrame()
	if s.localAdded == current {
		return nil
	}

	size := s.codec.Size()
	buf := make([]byte, 0, size*len(s.localHandles))
	actual := frame.Null
	for _, h := range s.localHandles {
		v := s.localInputs[h]
		f, err := s.sync.AddLocalInput(int(h), current, v)
		if err != nil {
			return fmt.Errorf("session: add input for handle %d: %w", h, err)
		}
		s.localConnect[h].LastFrame = f
		actual = f

		buf, err = s.codec.Encode(buf, v)
		if err != nil {
			return fmt.Errorf("session: encode input for handle %d: %w", h, err)
		}
	}
	s.localAdded = current

	s.peers.Ascend(func(p *peer) bool {
		if !p.spectator {
			p.ep.SendInput(actual, buf, s.localConnect, now)
		}
		return true
	})
	return nil
}

func (s *P2PSession[I, S]) predictionThresholdReached() bool {
	current := s.sync.CurrentFrame()
	ahead := int64(current)
	if last := s.sync.LastConfirmedFrame(); !last.IsNull() {
		ahead = current.Distance(last)
	}
	return ahead >= int64(s.cfg.MaxPrediction)
}

// PollRemoteClients receives pending datagrams, runs every endpoint's timers
// and turns what they report into session events and remote inputs. The
// host may call it between frames to keep the connection alive.
func (s *P2PSession[I, S]) PollRemoteClients() {
	if !s.started {
		return
	}
	now := s.clock()

	for _, d := range s.tr.ReceiveAll() {
		p, ok := s.peers.Get(&peer{addr: d.Addr})
		if !ok {
			s.logger.Debug("datagram from unknown address", "addr", d.Addr)
			continue
		}
		p.ep.HandleMessage(d.Msg, now)
	}

	current := s.sync.CurrentFrame()
	s.peers.Ascend(func(p *peer) bool {
		if !p.spectator {
			p.ep.UpdateLocalFrameAdvantage(current)
		}
		for _, ev := range p.ep.Poll(now, s.localConnect) {
			s.handleEvent(p, ev, now)
		}
		return true
	})
}

func (s *P2PSession[I, S]) handleEvent(p *peer, ev protocol.Event, now time.Time) {
	switch ev := ev.(type) {
	case protocol.SynchronizingEvent:
		s.push(SynchronizingEvent{
			Addr:         p.addr,
			Total:        ev.Total,
			Count:        ev.Count,
			RequestsSent: ev.RequestsSent,
			Elapsed:      ev.Elapsed,
		})
	case protocol.SynchronizedEvent:
		s.logger.Info("peer synchronized", "peer", p.addr)
		s.push(SynchronizedEvent{Addr: p.addr})
		s.checkInitialSync()
	case protocol.SyncTimeoutEvent:
		s.push(SyncTimeoutEvent{Addr: p.addr, Elapsed: ev.Elapsed})
	case protocol.NetworkInterruptedEvent:
		s.push(NetworkInterruptedEvent{Addr: p.addr, DisconnectTimeout: ev.DisconnectTimeout})
	case protocol.NetworkResumedEvent:
		s.push(NetworkResumedEvent{Addr: p.addr})
	case protocol.DisconnectedEvent:
		s.logger.Info("peer disconnected", "peer", p.addr)
		for _, h := range p.handles {
			last := frame.Null
			if !p.spectator {
				last = s.localConnect[h].LastFrame
			}
			s.disconnectPlayerAtFrame(h, last, now)
		}
		s.push(DisconnectedEvent{Addr: p.addr})
	case protocol.InputReceivedEvent:
		if !p.spectator {
			s.onRemoteInput(p, ev)
		}
	case protocol.ChecksumReceivedEvent:
		if p.spectator {
			return
		}
		if err := s.exchange.Receive(p.addr, ev.Frame, ev.Sum); err != nil {
			telemetry.Report(s.obs, telemetry.SeverityWarning, telemetry.KindInternalError, ev.Frame,
				"checksum from unregistered peer", "peer", p.addr, "error", err)
		}
	}
}

func (s *P2PSession[I, S]) onRemoteInput(p *peer, ev protocol.InputReceivedEvent) {
	size := s.codec.Size()
	if len(ev.Bytes) != size*len(p.handles) {
		telemetry.Report(s.obs, telemetry.SeverityWarning, telemetry.KindNetworkProtocol, ev.Frame,
			"remote input has the wrong size", "peer", p.addr, "bytes", len(ev.Bytes))
		return
	}

	for i, h := range p.handles {
		cs := &s.localConnect[h]
		if cs.Disconnected {
			continue
		}
		if !cs.LastFrame.IsNull() && ev.Frame != cs.LastFrame+1 {
			telemetry.Report(s.obs, telemetry.SeverityError, telemetry.KindInputQueue, ev.Frame,
				"remote input out of sequence", "peer", p.addr, "handle", h, "last", cs.LastFrame)
			continue
		}
		v, err := s.codec.Decode(ev.Bytes[i*size : (i+1)*size])
		if err != nil {
			telemetry.Report(s.obs, telemetry.SeverityWarning, telemetry.KindNetworkProtocol, ev.Frame,
				"cannot decode remote input", "peer", p.addr, "handle", h, "error", err)
			continue
		}
		if err := s.sync.AddRemoteInput(int(h), ev.Frame, v); err != nil {
			continue
		}
		cs.LastFrame = ev.Frame
	}
}

func (s *P2PSession[I, S]) checkInitialSync() {
	if s.state == StateRunning {
		return
	}
	synced := true
	s.peers.Ascend(func(p *peer) bool {
		if p.ep == nil || !p.ep.IsSynchronized() {
			synced = false
			return false
		}
		return true
	})
	if synced {
		s.state = StateRunning
		s.logger.Info("all peers synchronized")
	}
}

// confirmedFrame is the newest frame for which every connected player's
// input is known.
func (s *P2PSession[I, S]) confirmedFrame() frame.Frame {
	confirmed := frame.Frame(math.MaxInt32)
	found := false
	for _, cs := range s.localConnect {
		if !cs.Disconnected {
			confirmed = min(confirmed, cs.LastFrame)
			found = true
		}
	}
	if !found {
		telemetry.Report(s.obs, telemetry.SeverityWarning, telemetry.KindSynchronization, s.sync.CurrentFrame(),
			"no connected players when computing the confirmed frame")
		return 0
	}
	return confirmed
}

// updatePlayerDisconnects disconnects players that some running peer has
// already seen disconnect.
func (s *P2PSession[I, S]) updatePlayerDisconnects(now time.Time) {
	for h := range frame.PlayerHandle(s.cfg.NumPlayers) {
		connected := true
		minFrame := frame.Frame(math.MaxInt32)
		s.peers.Ascend(func(p *peer) bool {
			if p.spectator || !p.ep.IsRunning() {
				return true
			}
			cs, ok := p.ep.PeerConnectStatus(int(h))
			if !ok {
				return true
			}
			connected = connected && !cs.Disconnected
			minFrame = min(minFrame, cs.LastFrame)
			return true
		})

		local := s.localConnect[h]
		if !local.Disconnected {
			minFrame = min(minFrame, local.LastFrame)
		}
		if !connected && (!local.Disconnected || local.LastFrame > minFrame) {
			s.disconnectPlayerAtFrame(h, minFrame, now)
		}
	}
}

func (s *P2PSession[I, S]) disconnectPlayerAtFrame(h frame.PlayerHandle, last frame.Frame, now time.Time) {
	var addr string
	switch pt := s.players[h].(type) {
	case Remote:
		addr = pt.Addr
	case Spectator:
		addr = pt.Addr
	default:
		return
	}
	p, ok := s.peers.Get(&peer{addr: addr})
	if !ok || p.ep == nil {
		telemetry.Report(s.obs, telemetry.SeverityWarning, telemetry.KindInternalError, s.sync.CurrentFrame(),
			"no endpoint for disconnected player", "handle", h, "peer", addr)
		return
	}

	if !p.spectator {
		// Inputs at or before the confirmed frame are final; only frames
		// after the oldest stream end need resimulating.
		from := last
		for _, ph := range p.handles {
			if lf := s.localConnect[ph].LastFrame; lf < from {
				from = lf
			}
		}
		if lc := s.sync.LastConfirmedFrame(); !lc.IsNull() && from < lc {
			from = lc
		}
		for _, ph := range p.handles {
			s.localConnect[ph].Disconnected = true
		}
		if s.sync.CurrentFrame() > from {
			s.disconnectFrame = frame.Min(s.disconnectFrame, from+1)
		}
	}
	p.ep.Disconnect(now)
	s.checkInitialSync()
}

// DisconnectPlayer drops a remote player or spectator. Local players cannot
// be disconnected.
func (s *P2PSession[I, S]) DisconnectPlayer(h frame.PlayerHandle) error {
	pt, ok := s.players[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	if !s.started {
		return fmt.Errorf("%w: session not started", ErrInvalidRequest)
	}
	now := s.clock()
	switch pt.(type) {
	case Local:
		return fmt.Errorf("%w: local player %d cannot be disconnected", ErrInvalidRequest, h)
	case Remote:
		if s.localConnect[h].Disconnected {
			return fmt.Errorf("%w: player %d already disconnected", ErrInvalidRequest, h)
		}
		s.disconnectPlayerAtFrame(h, s.localConnect[h].LastFrame, now)
	case Spectator:
		s.disconnectPlayerAtFrame(h, frame.Null, now)
	}
	return nil
}

func (s *P2PSession[I, S]) checkChecksums(now time.Time) {
	if !s.exchange.Enabled() {
		return
	}
	for {
		f, ok := s.exchange.DueFrame(s.sync.LastConfirmedFrame(), s.sync.LastSavedFrame())
		if !ok {
			break
		}
		sum, ok := s.sync.SavedChecksum(f)
		if !ok {
			s.logger.Debug("no checksum saved for frame", "frame", f)
			s.exchange.Skip(f)
			continue
		}
		s.exchange.RecordLocal(f, sum)
		s.peers.Ascend(func(p *peer) bool {
			if !p.spectator {
				p.ep.SendChecksum(f, sum, now)
			}
			return true
		})
	}

	for _, m := range s.exchange.Compare(s.sync.LastConfirmedFrame()) {
		telemetry.Report(s.obs, telemetry.SeverityCritical, telemetry.KindChecksumMismatch, m.Frame,
			"checksum mismatch", "peer", m.Addr, "local", m.Local, "remote", m.Remote)
		s.push(DesyncDetectedEvent{Frame: m.Frame, Local: m.Local, Remote: m.Remote, Addr: m.Addr})
	}
}

func (s *P2PSession[I, S]) sendConfirmedToSpectators(confirmed frame.Frame, now time.Time) {
	spectators := false
	s.peers.Ascend(func(p *peer) bool {
		spectators = p.spectator
		return !spectators
	})
	if !spectators {
		return
	}

	for s.nextSpectatorFrame <= confirmed {
		f := s.nextSpectatorFrame
		inputs, err := s.sync.ConfirmedInputs(f, s.localConnect)
		if err != nil {
			telemetry.Report(s.obs, telemetry.SeverityError, telemetry.KindInputQueue, f,
				"confirmed inputs unavailable for spectators", "error", err)
			return
		}
		buf := make([]byte, 0, s.codec.Size()*len(inputs))
		for _, in := range inputs {
			if buf, err = s.codec.Encode(buf, in.Value); err != nil {
				telemetry.Report(s.obs, telemetry.SeverityError, telemetry.KindInternalError, f,
					"cannot encode input for spectators", "error", err)
				return
			}
		}
		s.peers.Ascend(func(p *peer) bool {
			if p.spectator {
				p.ep.SendInput(f, buf, s.localConnect, now)
			}
			return true
		})
		s.nextSpectatorFrame++
	}
}

func (s *P2PSession[I, S]) checkWaitRecommendation() {
	s.framesAhead = s.maxFrameAdvantage()
	current := s.sync.CurrentFrame()
	if current > s.nextRecommendedSleep && s.framesAhead >= minRecommendation {
		s.nextRecommendedSleep = current + recommendationInterval
		s.push(WaitRecommendationEvent{SkipFrames: uint32(s.framesAhead)})
	}
}

func (s *P2PSession[I, S]) maxFrameAdvantage() int32 {
	best := int32(math.MinInt32)
	s.peers.Ascend(func(p *peer) bool {
		if p.spectator {
			return true
		}
		for _, h := range p.handles {
			if !s.localConnect[h].Disconnected {
				best = max(best, p.ep.RecommendFrameDelay())
			}
		}
		return true
	})
	if best == math.MinInt32 {
		return 0
	}
	return best
}

func (s *P2PSession[I, S]) push(ev Event) {
	if n := len(s.events); n >= s.cfg.EventQueueSize {
		drop := n - s.cfg.EventQueueSize + 1
		s.events = slices.Delete(s.events, 0, drop)
		telemetry.Report(s.obs, telemetry.SeverityWarning, telemetry.KindInternalError, s.sync.CurrentFrame(),
			"event queue full, dropping oldest", "dropped", drop)
	}
	s.events = append(s.events, ev)
}

// Events drains the queued events, oldest first.
func (s *P2PSession[I, S]) Events() []Event {
	out := s.events
	s.events = nil
	return out
}

func (s *P2PSession[I, S]) peerFor(h frame.PlayerHandle) (*peer, error) {
	var addr string
	switch pt := s.players[h].(type) {
	case Remote:
		addr = pt.Addr
	case Spectator:
		addr = pt.Addr
	default:
		return nil, fmt.Errorf("%w: %d is not a remote player or spectator", ErrInvalidHandle, h)
	}
	p, ok := s.peers.Get(&peer{addr: addr})
	if !ok || p.ep == nil {
		return nil, fmt.Errorf("%w: session not started", ErrNotSynchronized)
	}
	return p, nil
}

// NetworkStats returns connection figures for the peer behind h.
func (s *P2PSession[I, S]) NetworkStats(h frame.PlayerHandle) (protocol.Stats, error) {
	p, err := s.peerFor(h)
	if err != nil {
		return protocol.Stats{}, err
	}
	st, err := p.ep.NetworkStats(s.clock())
	if err != nil {
		return protocol.Stats{}, fmt.Errorf("%w: %w", ErrNotSynchronized, err)
	}
	return st, nil
}

// SyncHealth returns the checksum health of the remote player h.
func (s *P2PSession[I, S]) SyncHealth(h frame.PlayerHandle) (checksum.Health, bool) {
	pt, ok := s.players[h].(Remote)
	if !ok {
		return checksum.Health{}, false
	}
	return s.exchange.Health(pt.Addr)
}

// LastVerifiedFrame returns the newest frame whose checksum matched the
// remote player h, or Null.
func (s *P2PSession[I, S]) LastVerifiedFrame(h frame.PlayerHandle) frame.Frame {
	pt, ok := s.players[h].(Remote)
	if !ok {
		return frame.Null
	}
	return s.exchange.LastVerified(pt.Addr)
}

// ConfirmedFrame returns the newest frame with every connected player's
// input received.
func (s *P2PSession[I, S]) ConfirmedFrame() frame.Frame { return s.confirmedFrame() }

// LastConfirmedFrame returns the frame the sync layer treats as final.
func (s *P2PSession[I, S]) LastConfirmedFrame() frame.Frame { return s.sync.LastConfirmedFrame() }

// CurrentFrame returns the frame about to be simulated.
func (s *P2PSession[I, S]) CurrentFrame() frame.Frame { return s.sync.CurrentFrame() }

// FramesAhead returns the latest averaged advantage over the remote players.
func (s *P2PSession[I, S]) FramesAhead() int32 { return s.framesAhead }

// NumPlayers returns the number of player handles.
func (s *P2PSession[I, S]) NumPlayers() int { return s.cfg.NumPlayers }

// MaxPrediction returns the prediction window.
func (s *P2PSession[I, S]) MaxPrediction() int { return s.cfg.MaxPrediction }

// LocalHandles returns the local player handles in ascending order.
func (s *P2PSession[I, S]) LocalHandles() []frame.PlayerHandle {
	return s.handlesOf(func(pt PlayerType) bool { _, ok := pt.(Local); return ok })
}

// RemoteHandles returns the remote player handles in ascending order.
func (s *P2PSession[I, S]) RemoteHandles() []frame.PlayerHandle {
	return s.handlesOf(func(pt PlayerType) bool { _, ok := pt.(Remote); return ok })
}

// SpectatorHandles returns the spectator handles in ascending order.
func (s *P2PSession[I, S]) SpectatorHandles() []frame.PlayerHandle {
	return s.handlesOf(func(pt PlayerType) bool { _, ok := pt.(Spectator); return ok })
}

func (s *P2PSession[I, S]) handlesOf(match func(PlayerType) bool) []frame.PlayerHandle {
	var out []frame.PlayerHandle
	for h, pt := range s.players {
		if match(pt) {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return out
}
