package match

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/games/pong"
	"github.com/vovakirdan/netplay/internal/session"
	"github.com/vovakirdan/netplay/internal/telemetry"
)

// SyncTestReport is the outcome of RunSyncTest. Mismatch is set when a
// resimulation changed a checksum.
type SyncTestReport struct {
	Result
	Mismatch *session.MismatchedChecksumError
}

// RunSyncTest plays cfg.Frames frames of bot-controlled pong under a sync
// test session, rolling back every frame. It stops early on the first
// checksum mismatch.
func RunSyncTest(cfg Config, opts ...Option) (SyncTestReport, error) {
	if cfg.Frames <= 0 {
		return SyncTestReport{}, fmt.Errorf("match: sync test needs a frame count, got %d", cfg.Frames)
	}
	game, err := pong.New(cfg.Game)
	if err != nil {
		return SyncTestReport{}, fmt.Errorf("match: %w", err)
	}

	// Runner options are reused for the logger, observer and clock.
	r := &Runner{
		logger: telemetry.NewLogger(log.WarnLevel),
		obs:    telemetry.Discard,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	h := &host{sim: game, state: game.Start(), logger: r.logger, name: cfg.Name}
	if cfg.Flaky {
		h.sim = pong.NewFlaky(game)
	}
	bots := make([]pong.Bot, cfg.Session.NumPlayers)
	for p := range bots {
		bots[p] = pong.NewBot(p)
	}

	sess, err := session.NewSyncTest[pong.Input, pong.State](cfg.Session,
		session.WithLogger(r.logger), session.WithObserver(r.obs), session.WithClock(r.clock))
	if err != nil {
		return SyncTestReport{}, fmt.Errorf("match: %w", err)
	}

	started := r.clock()
	report := SyncTestReport{}
	reason := EndFrameLimit
	for int(sess.CurrentFrame()) < cfg.Frames {
		for p, bot := range bots {
			if err := sess.AddLocalInput(frame.PlayerHandle(p), bot.Input(game, h.state)); err != nil {
				return report, fmt.Errorf("match: %w", err)
			}
		}
		reqs, err := sess.AdvanceFrame()
		var mismatch *session.MismatchedChecksumError
		if errors.As(err, &mismatch) {
			report.Mismatch = mismatch
			h.stats.Desyncs++
			reason = EndDesync
			r.logger.Error("resimulation diverged", "frame", mismatch.CurrentFrame, "frames", mismatch.MismatchedFrames)
			break
		}
		if err := h.exec(reqs, err == nil); err != nil {
			return report, err
		}
		if err != nil {
			return report, fmt.Errorf("match: %w", err)
		}
		if h.state.Over() {
			reason = EndCompleted
			break
		}
	}

	h.stats.Addr = cfg.Name
	h.stats.State = session.StateRunning
	h.stats.Frame = sess.CurrentFrame()
	h.stats.Confirmed = max(h.stats.Frame-frame.Frame(sess.CheckDistance()), frame.Null) //nolint:gosec // below max prediction
	h.stats.Score = h.state.Score
	report.Result = Result{
		ID:       uuid.New(),
		Mode:     cfg.Mode,
		Addr:     cfg.Name,
		Reason:   reason,
		Winner:   h.state.Winner,
		Stats:    h.stats,
		Duration: r.clock().Sub(started),
		Checksum: pong.Checksum(h.state),
	}
	r.logger.Info("sync test finished", "reason", reason, "frames", h.stats.Frame,
		"rollbacks", h.stats.Rollbacks, "resimulated", h.stats.Resimulated)
	if r.saver != nil {
		if err := r.saver.SaveResult(report.Result); err != nil {
			r.logger.Warn("cannot save result", "err", err)
		}
	}
	return report, nil
}
