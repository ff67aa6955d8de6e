package match

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/transport"
)

// Loopback is a whole match in one process: one runner per player, all
// talking over an in-memory network with optional impairments. Spectators
// named in cfg.Spectators watch the first player.
type Loopback struct {
	net        *transport.Network
	runners    []*Runner
	spectators []*Spectator
}

// PeerName is the loopback address of player h.
func PeerName(h frame.PlayerHandle) string {
	return fmt.Sprintf("p%d", h+1)
}

// NewLoopback builds a runner for every player. The options apply to every
// runner; WithClock also drives the network.
func NewLoopback(cfg Config, chaos transport.ChaosConfig, opts ...Option) (*Loopback, error) {
	if err := chaos.Validate(); err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}
	base := &Runner{clock: time.Now}
	for _, opt := range opts {
		opt(base)
	}
	l := &Loopback{net: transport.NewNetwork(chaos, base.clock)}

	n := cfg.Session.NumPlayers
	for local := range frame.PlayerHandle(n) {
		seats := make(Seats, n)
		for h := range frame.PlayerHandle(n) {
			if h != local {
				seats[h] = PeerName(h)
			} else {
				seats[h] = ""
			}
		}
		pc := cfg
		pc.Name = PeerName(local)
		if local != 0 {
			pc.Spectators = nil
		}
		r, err := NewRunner(pc, l.net.Endpoint(pc.Name), seats, opts...)
		if err != nil {
			return nil, err
		}
		l.runners = append(l.runners, r)
	}
	for _, addr := range cfg.Spectators {
		sc := cfg
		sc.Name = addr
		sc.Spectators = nil
		s, err := NewSpectator(sc, l.net.Endpoint(addr), PeerName(0), opts...)
		if err != nil {
			return nil, err
		}
		l.spectators = append(l.spectators, s)
	}
	return l, nil
}

// Runners returns the runners in player order.
func (l *Loopback) Runners() []*Runner { return l.runners }

// Spectators returns the spectators in the order they were configured.
func (l *Loopback) Spectators() []*Spectator { return l.spectators }

// Network returns the shared in-memory network.
func (l *Loopback) Network() *transport.Network { return l.net }

// Done reports whether every runner has finished.
func (l *Loopback) Done() bool {
	for _, r := range l.runners {
		if !r.Done() {
			return false
		}
	}
	for _, s := range l.spectators {
		if !s.Done() {
			return false
		}
	}
	return true
}

// Step ticks every unfinished runner once, in player order, then every
// spectator. Finished runners only poll. Nothing sleeps, so tests drive
// time with a fake clock.
func (l *Loopback) Step() error {
	for _, r := range l.runners {
		if r.Done() {
			r.Poll()
			continue
		}
		if err := r.Tick(); err != nil {
			return fmt.Errorf("%s: %w", r.cfg.Name, err)
		}
	}
	for _, s := range l.spectators {
		if err := s.Tick(); err != nil {
			return fmt.Errorf("%s: %w", s.cfg.Name, err)
		}
	}
	return nil
}

// Results collects every runner's result, then every spectator's.
func (l *Loopback) Results() []Result {
	out := make([]Result, 0, len(l.runners)+len(l.spectators))
	for _, r := range l.runners {
		out = append(out, r.Result())
	}
	for _, s := range l.spectators {
		out = append(out, s.Result())
	}
	return out
}

// Run plays every runner and spectator concurrently in real time. The
// first error cancels the rest. Results are ordered as in Results.
func (l *Loopback) Run(ctx context.Context) ([]Result, error) {
	out := make([]Result, len(l.runners)+len(l.spectators))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range l.runners {
		g.Go(func() error {
			res, err := r.Run(gctx)
			out[i] = res
			if err != nil {
				return fmt.Errorf("%s: %w", r.cfg.Name, err)
			}
			return nil
		})
	}
	for i, s := range l.spectators {
		g.Go(func() error {
			res, err := s.Run(gctx)
			out[len(l.runners)+i] = res
			if err != nil {
				return fmt.Errorf("%s: %w", s.cfg.Name, err)
			}
			return nil
		})
	}
	err := g.Wait()
	return out, err
}
