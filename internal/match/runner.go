// Package match runs pong over a rollback session: it feeds local input
// in, executes the session's requests against the game state and keeps
// statistics for the dashboard and the run history.
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

// lingerTicks is how long a finished runner keeps polling so peers still
// catching up get their resends.
const lingerTicks = 30

// Config describes one peer's run.
type Config struct {
	Name    string // address other peers know this one by
	Mode    string // recorded with the result
	Session session.Config
	Game    pong.Config
	Frames  int  // 0 plays until someone wins
	Flaky   bool // use a non-deterministic simulation

	// Spectators are addresses allowed to watch this peer. They take the
	// handles after the players, in order.
	Spectators []string
}

// Seats maps every player handle to the address that controls it. The
// local player's address is empty.
type Seats map[frame.PlayerHandle]string

// InputSource picks the local player's input for the next frame.
type InputSource func(g pong.Game, s pong.State) pong.Input

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger for the runner and its session.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithObserver receives the session's violations.
func WithObserver(obs telemetry.Observer) Option {
	return func(r *Runner) { r.obs = obs }
}

// WithClock replaces time.Now for the runner and its session.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.clock = now }
}

// WithInput replaces the default bot.
func WithInput(src InputSource) Option {
	return func(r *Runner) { r.input = src }
}

// WithStatsSink receives a Stats snapshot after every tick. Snapshots are
// dropped while the channel is full.
func WithStatsSink(ch chan<- Stats) Option {
	return func(r *Runner) { r.sink = ch }
}

// WithSaver stores the result when Run finishes.
func WithSaver(s ResultSaver) Option {
	return func(r *Runner) { r.saver = s }
}

// Runner plays one peer of a match.
type Runner struct {
	host
	cfg    Config
	sess   *session.P2PSession[pong.Input, pong.State]
	game   pong.Game
	local  frame.PlayerHandle
	input  InputSource
	logger *log.Logger
	obs    telemetry.Observer
	clock  func() time.Time
	sink   chan<- Stats
	saver  ResultSaver

	remotes map[string]bool // addresses still connected
	skip    int
	started time.Time
	reason  EndReason
	desyncs []session.DesyncDetectedEvent
	lingers int

	released bool // spectators were let go
}

// NewRunner creates and starts the session for one peer.
func NewRunner(cfg Config, tr protocol.Transport, seats Seats, opts ...Option) (*Runner, error) {
	if cfg.Session.NumPlayers != 2 {
		return nil, fmt.Errorf("match: pong needs 2 players, got %d", cfg.Session.NumPlayers)
	}
	if cfg.Frames < 0 {
		return nil, fmt.Errorf("match: negative frame limit %d", cfg.Frames)
	}
	game, err := pong.New(cfg.Game)
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}

	r := &Runner{
		host:    host{sim: game},
		cfg:     cfg,
		game:    game,
		local:   -1,
		logger:  telemetry.NewLogger(log.WarnLevel),
		obs:     telemetry.Discard,
		clock:   time.Now,
		remotes: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	if cfg.Flaky {
		r.sim = pong.NewFlaky(game)
	}
	r.host.logger = r.logger
	r.host.name = cfg.Name

	sess, err := session.NewP2P[pong.Input, pong.State](cfg.Session, tr, session.BinaryCodec[pong.Input]{},
		session.WithLogger(r.logger), session.WithObserver(r.obs), session.WithClock(r.clock))
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}
	for h := range frame.PlayerHandle(cfg.Session.NumPlayers) {
		addr, ok := seats[h]
		if !ok {
			return nil, fmt.Errorf("match: no seat for player %d", h)
		}
		var pt session.PlayerType = session.Local{}
		if addr != "" {
			pt = session.Remote{Addr: addr}
			r.remotes[addr] = true
		} else {
			r.local = h
		}
		if err := sess.AddPlayer(pt, h); err != nil {
			return nil, fmt.Errorf("match: %w", err)
		}
	}
	if r.local < 0 {
		return nil, errors.New("match: no local player")
	}
	for i, addr := range cfg.Spectators {
		h := frame.PlayerHandle(cfg.Session.NumPlayers + i)
		if err := sess.AddPlayer(session.Spectator{Addr: addr}, h); err != nil {
			return nil, fmt.Errorf("match: spectator %s: %w", addr, err)
		}
	}
	if r.input == nil {
		r.input = pong.NewBot(int(r.local)).Input
	}
	if err := sess.Start(); err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}

	r.sess = sess
	r.state = game.Start()
	r.started = r.clock()
	r.stats.Addr = cfg.Name
	r.stats.Confirmed = frame.Null
	return r, nil
}

// Session exposes the underlying session.
func (r *Runner) Session() *session.P2PSession[pong.Input, pong.State] { return r.sess }

// State returns the current, possibly predicted, game state.
func (r *Runner) State() pong.State { return r.state }

// Stats returns the latest snapshot.
func (r *Runner) Stats() Stats { return r.stats }

// Done reports whether the run has ended.
func (r *Runner) Done() bool { return r.reason != EndRunning }

// Reason returns why the run ended, or EndRunning.
func (r *Runner) Reason() EndReason { return r.reason }

// Tick runs one frame of the game loop.
func (r *Runner) Tick() error {
	if r.Done() {
		return nil
	}
	r.sess.PollRemoteClients()
	r.drainEvents()
	if r.Done() || r.sess.CurrentState() != session.StateRunning {
		r.refreshStats()
		return nil
	}

	if r.skip > 0 {
		r.skip--
		r.stats.WaitFrames++
		r.refreshStats()
		return nil
	}

	if err := r.sess.AddLocalInput(r.local, r.input(r.game, r.state)); err != nil {
		return fmt.Errorf("match: %w", err)
	}
	reqs, err := r.sess.AdvanceFrame()
	if execErr := r.exec(reqs, err == nil); execErr != nil {
		return execErr
	}
	switch {
	case errors.Is(err, session.ErrPredictionThreshold):
		r.stats.Stalls++
	case err != nil:
		return fmt.Errorf("match: %w", err)
	}

	r.drainEvents()
	r.checkEnd()
	r.refreshStats()
	return nil
}

// Poll keeps the connection alive without advancing. Finished runners call
// it so their peers can still catch up; after lingerTicks polls the
// spectators are let go.
func (r *Runner) Poll() {
	r.sess.PollRemoteClients()
	r.sess.Events()
	r.lingers++
	if r.lingers >= lingerTicks {
		r.releaseSpectators()
	}
}

// releaseSpectators disconnects every spectator so they stop waiting for
// frames that will never come.
func (r *Runner) releaseSpectators() {
	if r.released {
		return
	}
	r.released = true
	for _, h := range r.sess.SpectatorHandles() {
		if err := r.sess.DisconnectPlayer(h); err != nil {
			r.logger.Debug("cannot release spectator", "peer", r.cfg.Name, "handle", h, "err", err)
		}
	}
}

func (r *Runner) drainEvents() {
	for _, ev := range r.sess.Events() {
		switch ev := ev.(type) {
		case session.SynchronizingEvent:
			r.logger.Debug("synchronizing", "peer", r.cfg.Name, "remote", ev.Addr, "step", ev.Count, "of", ev.Total)
		case session.SynchronizedEvent:
			r.logger.Info("synchronized", "peer", r.cfg.Name, "remote", ev.Addr)
		case session.NetworkInterruptedEvent:
			r.logger.Warn("network interrupted", "peer", r.cfg.Name, "remote", ev.Addr, "timeout", ev.DisconnectTimeout)
		case session.NetworkResumedEvent:
			r.logger.Info("network resumed", "peer", r.cfg.Name, "remote", ev.Addr)
		case session.DisconnectedEvent:
			if !r.remotes[ev.Addr] {
				r.logger.Info("spectator left", "peer", r.cfg.Name, "spectator", ev.Addr)
				break
			}
			r.logger.Warn("disconnected", "peer", r.cfg.Name, "remote", ev.Addr)
			delete(r.remotes, ev.Addr)
			if len(r.remotes) == 0 {
				r.end(EndDisconnect)
			}
		case session.WaitRecommendationEvent:
			r.skip += int(ev.SkipFrames)
			r.logger.Debug("waiting for peers", "peer", r.cfg.Name, "frames", ev.SkipFrames)
		case session.DesyncDetectedEvent:
			r.desyncs = append(r.desyncs, ev)
			r.stats.Desyncs++
			r.logger.Error("desync detected", "peer", r.cfg.Name, "remote", ev.Addr, "frame", ev.Frame,
				"local", ev.Local, "remote_sum", ev.Remote)
			r.end(EndDesync)
		case session.SyncTimeoutEvent:
			r.logger.Error("sync timeout", "peer", r.cfg.Name, "remote", ev.Addr, "elapsed", ev.Elapsed)
			r.end(EndSyncTimeout)
		}
	}
}

func (r *Runner) checkEnd() {
	switch {
	case r.state.Over():
		r.end(EndCompleted)
	case r.cfg.Frames > 0 && int(r.sess.CurrentFrame()) >= r.cfg.Frames:
		r.end(EndFrameLimit)
	}
}

func (r *Runner) end(reason EndReason) {
	if r.reason == EndRunning {
		r.reason = reason
	}
}

func (r *Runner) refreshStats() {
	st := &r.stats
	st.State = r.sess.CurrentState()
	st.Frame = r.sess.CurrentFrame()
	st.Confirmed = r.sess.ConfirmedFrame()
	st.FramesAhead = r.sess.FramesAhead()
	st.Score = r.state.Score

	st.Ping, st.KbpsSent, st.SendQueue = 0, 0, 0
	for _, h := range r.sess.RemoteHandles() {
		if health, ok := r.sess.SyncHealth(h); ok {
			st.Health = max(st.Health, health.Status)
		}
		ns, err := r.sess.NetworkStats(h)
		if err != nil {
			continue
		}
		st.Ping = max(st.Ping, ns.Ping)
		st.KbpsSent += ns.KbpsSent
		st.SendQueue = max(st.SendQueue, ns.SendQueueLen)
	}
	st.MaxPing = max(st.MaxPing, st.Ping)

	if r.sink != nil {
		st.Board = r.game.Render(r.state)
		select {
		case r.sink <- *st:
		default:
		}
	}
}

// Result builds the outcome of the run so far.
func (r *Runner) Result() Result {
	return Result{
		ID:       uuid.New(),
		Mode:     r.cfg.Mode,
		Addr:     r.cfg.Name,
		Reason:   r.reason,
		Winner:   r.state.Winner,
		Stats:    r.stats,
		Duration: r.clock().Sub(r.started),
		Desyncs:  r.desyncs,
		Checksum: pong.Checksum(r.state),
	}
}

// Run drives Tick at the session's frame rate until the run ends or ctx is
// cancelled, lingers briefly for peers still catching up, then reports the
// result to the saver if one is set.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	ticker := time.NewTicker(time.Second / time.Duration(r.cfg.Session.FPS))
	defer ticker.Stop()

	for !r.Done() {
		select {
		case <-ctx.Done():
			r.end(EndCancelled)
		case <-ticker.C:
			if err := r.Tick(); err != nil {
				return r.Result(), err
			}
		}
	}
	for r.reason != EndCancelled && r.lingers < lingerTicks {
		select {
		case <-ctx.Done():
			r.lingers = lingerTicks
		case <-ticker.C:
			r.Poll()
		}
	}

	r.releaseSpectators()

	res := r.Result()
	r.logger.Info("run finished", "peer", r.cfg.Name, "reason", res.Reason, "frames", res.Stats.Frame,
		"rollbacks", res.Stats.Rollbacks, "desyncs", res.Stats.Desyncs)
	if r.saver != nil {
		if err := r.saver.SaveResult(res); err != nil {
			r.logger.Warn("cannot save result", "peer", r.cfg.Name, "err", err)
		}
	}
	return res, nil
}
