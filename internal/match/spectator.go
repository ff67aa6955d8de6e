package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/games/pong"
	"github.com/vovakirdan/netplay/internal/protocol"
	"github.com/vovakirdan/netplay/internal/session"
	"github.com/vovakirdan/netplay/internal/telemetry"
)

// ModeSpectate is the mode recorded for spectator runs.
const ModeSpectate = "spectate"

// catchUpFrames is how many frames a spectator simulates per tick once it is
// more than a prediction window behind the host.
const catchUpFrames = 2

// Spectator watches a match through one player peer. It only simulates
// confirmed frames, so it never rolls back.
type Spectator struct {
	host
	cfg      Config
	sess     *session.SpectatorSession[pong.Input]
	game     pong.Game
	hostAddr string
	logger   *log.Logger
	clock    func() time.Time
	sink     chan<- Stats
	saver    ResultSaver

	started  time.Time
	reason   EndReason
	hostGone bool
}

// NewSpectator starts watching the peer at hostAddr, which must list this
// peer's address among its spectators. Input options are ignored.
func NewSpectator(cfg Config, tr protocol.Transport, hostAddr string, opts ...Option) (*Spectator, error) {
	if cfg.Frames < 0 {
		return nil, fmt.Errorf("match: negative frame limit %d", cfg.Frames)
	}
	game, err := pong.New(cfg.Game)
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}

	// Runner options carry the logger, observer, clock, sink and saver.
	base := &Runner{
		logger: telemetry.NewLogger(log.WarnLevel),
		obs:    telemetry.Discard,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(base)
	}

	sess, err := session.NewSpectator[pong.Input](cfg.Session, tr, session.BinaryCodec[pong.Input]{}, hostAddr,
		session.WithLogger(base.logger), session.WithObserver(base.obs), session.WithClock(base.clock))
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}

	s := &Spectator{
		host:     host{sim: game, state: game.Start(), logger: base.logger, name: cfg.Name},
		cfg:      cfg,
		sess:     sess,
		game:     game,
		hostAddr: hostAddr,
		logger:   base.logger,
		clock:    base.clock,
		sink:     base.sink,
		saver:    base.saver,
		started:  base.clock(),
	}
	s.stats.Addr = cfg.Name
	s.stats.Confirmed = frame.Null
	return s, nil
}

// Session exposes the underlying session.
func (s *Spectator) Session() *session.SpectatorSession[pong.Input] { return s.sess }

// State returns the last simulated game state.
func (s *Spectator) State() pong.State { return s.state }

// Stats returns the latest snapshot.
func (s *Spectator) Stats() Stats { return s.stats }

// Done reports whether the run has ended.
func (s *Spectator) Done() bool { return s.reason != EndRunning }

// Reason returns why the run ended, or EndRunning.
func (s *Spectator) Reason() EndReason { return s.reason }

// Tick simulates the frames the host has confirmed, one per tick unless the
// spectator has fallen behind or the host is gone.
func (s *Spectator) Tick() error {
	if s.Done() {
		return nil
	}
	s.sess.PollRemoteClients()
	s.drainEvents()
	if s.Done() || s.sess.CurrentState() != session.StateRunning {
		s.refreshStats()
		return nil
	}

	budget := 1
	switch behind := s.sess.FramesBehindHost(); {
	case s.hostGone:
		budget = behind
	case behind > s.cfg.Session.MaxPrediction:
		budget = catchUpFrames
	}
	for range budget {
		reqs, err := s.sess.AdvanceFrame()
		if errors.Is(err, session.ErrPredictionThreshold) {
			s.stats.Stalls++
			break
		}
		if err != nil {
			return fmt.Errorf("match: %w", err)
		}
		if err := s.exec(reqs, true); err != nil {
			return err
		}
		if s.checkEnd() {
			break
		}
	}
	if s.hostGone {
		s.end(EndDisconnect)
	}
	s.refreshStats()
	return nil
}

func (s *Spectator) drainEvents() {
	for _, ev := range s.sess.Events() {
		switch ev := ev.(type) {
		case session.SynchronizedEvent:
			s.logger.Info("watching", "spectator", s.cfg.Name, "host", ev.Addr)
		case session.NetworkInterruptedEvent:
			s.logger.Warn("network interrupted", "spectator", s.cfg.Name, "host", ev.Addr, "timeout", ev.DisconnectTimeout)
		case session.NetworkResumedEvent:
			s.logger.Info("network resumed", "spectator", s.cfg.Name, "host", ev.Addr)
		case session.DisconnectedEvent:
			s.logger.Info("host left", "spectator", s.cfg.Name, "host", ev.Addr, "behind", s.sess.FramesBehindHost())
			s.hostGone = true
		case session.SyncTimeoutEvent:
			s.logger.Error("sync timeout", "spectator", s.cfg.Name, "host", ev.Addr, "elapsed", ev.Elapsed)
			s.end(EndSyncTimeout)
		}
	}
}

func (s *Spectator) checkEnd() bool {
	switch {
	case s.state.Over():
		s.end(EndCompleted)
	case s.cfg.Frames > 0 && int(s.sess.CurrentFrame()) >= s.cfg.Frames:
		s.end(EndFrameLimit)
	}
	return s.Done()
}

func (s *Spectator) end(reason EndReason) {
	if s.reason == EndRunning {
		s.reason = reason
	}
}

func (s *Spectator) refreshStats() {
	st := &s.stats
	st.State = s.sess.CurrentState()
	st.Frame = s.sess.CurrentFrame()
	st.Confirmed = s.sess.LastReceivedFrame()
	st.FramesAhead = -int32(s.sess.FramesBehindHost()) //nolint:gosec // bounded by the queue length
	st.Score = s.state.Score

	st.Ping, st.KbpsSent, st.SendQueue = 0, 0, 0
	if ns, err := s.sess.NetworkStats(); err == nil {
		st.Ping = ns.Ping
		st.KbpsSent = ns.KbpsSent
		st.SendQueue = ns.SendQueueLen
	}
	st.MaxPing = max(st.MaxPing, st.Ping)

	if s.sink != nil {
		st.Board = s.game.Render(s.state)
		select {
		case s.sink <- *st:
		default:
		}
	}
}

// Result builds the outcome of the run so far.
func (s *Spectator) Result() Result {
	return Result{
		ID:       uuid.New(),
		Mode:     ModeSpectate,
		Addr:     s.cfg.Name,
		Reason:   s.reason,
		Winner:   s.state.Winner,
		Stats:    s.stats,
		Duration: s.clock().Sub(s.started),
		Checksum: pong.Checksum(s.state),
	}
}

// Run drives Tick at the session's frame rate until the host leaves, the
// match ends or ctx is cancelled.
func (s *Spectator) Run(ctx context.Context) (Result, error) {
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.Session.FPS))
	defer ticker.Stop()

	for !s.Done() {
		select {
		case <-ctx.Done():
			s.end(EndCancelled)
		case <-ticker.C:
			if err := s.Tick(); err != nil {
				return s.Result(), err
			}
		}
	}

	res := s.Result()
	s.logger.Info("spectator finished", "spectator", s.cfg.Name, "reason", res.Reason, "frames", res.Stats.Frame)
	if s.saver != nil {
		if err := s.saver.SaveResult(res); err != nil {
			s.logger.Warn("cannot save result", "spectator", s.cfg.Name, "err", err)
		}
	}
	return res, nil
}
