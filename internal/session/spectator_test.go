package session

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"

	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/input"
	"github.com/vovakirdan/netplay/internal/telemetry"
	"github.com/vovakirdan/netplay/internal/transport"
)

// watched is a two player match hosted by a, with one spectator on a.
type watched struct {
	*match
	spec  *SpectatorSession[uint8]
	sh    *host
	seen  []frame.Frame
	stats []input.Status
}

func newWatched(t *testing.T, cfg, specCfg Config) *watched {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	n := transport.NewNetwork(transport.ChaosConfig{}, clock.Now)

	obs := &telemetry.Collector{}
	a, err := NewP2P[uint8, world](cfg, n.Endpoint("a"), BinaryCodec[uint8]{},
		WithClock(clock.Now), WithObserver(obs), WithLogger(log.New(io.Discard)))
	if err != nil {
		t.Fatalf("NewP2P() failed: %v", err)
	}
	for h, pt := range []PlayerType{Local{}, Remote{Addr: "b"}, Spectator{Addr: "s"}} {
		if err := a.AddPlayer(pt, frame.PlayerHandle(h)); err != nil {
			t.Fatalf("AddPlayer(%d) failed: %v", h, err)
		}
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	spec, err := NewSpectator[uint8](specCfg, n.Endpoint("s"), BinaryCodec[uint8]{}, "a",
		WithClock(clock.Now), WithLogger(log.New(io.Discard)))
	if err != nil {
		t.Fatalf("NewSpectator() failed: %v", err)
	}
	return &watched{
		match: &match{
			clock: clock,
			net:   n,
			a:     &node{s: a, h: &host{t: t}, obs: obs, self: 0},
			b:     newNode(t, cfg, n.Endpoint("b"), clock, 1, "a"),
		},
		spec: spec,
		sh:   &host{t: t},
	}
}

func (w *watched) sync(t *testing.T) {
	t.Helper()
	for range 500 {
		w.a.s.PollRemoteClients()
		w.b.s.PollRemoteClients()
		w.spec.PollRemoteClients()
		if w.a.s.CurrentState() == StateRunning && w.b.s.CurrentState() == StateRunning &&
			w.spec.CurrentState() == StateRunning {
			return
		}
		w.clock.Add(tick / 4)
	}
	t.Fatalf("peers did not synchronize: a=%v b=%v spectator=%v",
		w.a.s.CurrentState(), w.b.s.CurrentState(), w.spec.CurrentState())
}

// watch advances the spectator by at most one frame.
func (w *watched) watch(t *testing.T) {
	t.Helper()
	reqs, err := w.spec.AdvanceFrame()
	switch {
	case errors.Is(err, ErrPredictionThreshold):
		return
	case err != nil:
		t.Fatalf("spectator AdvanceFrame() at frame %v failed: %v", w.spec.CurrentFrame(), err)
	}
	for _, r := range reqs {
		adv, ok := r.(AdvanceFrame[uint8])
		if !ok {
			t.Fatalf("spectator request %T, want only AdvanceFrame", r)
		}
		w.seen = append(w.seen, adv.Frame)
		for _, in := range adv.Inputs {
			w.stats = append(w.stats, in.Status)
		}
	}
	w.sh.exec(reqs)
}

// expected folds the inputs both players entered for frames [0, n).
func expected(n frame.Frame, inputA, inputB func(frame.Frame) uint8) world {
	var w world
	for f := range n {
		w.Total = w.Total*31 + int64(inputA(f))
		w.Total = w.Total*31 + int64(inputB(f))*2
		w.Frame++
	}
	return w
}

func TestSpectatorFollowsConfirmedInputs(t *testing.T) {
	cfg := testConfig()
	w := newWatched(t, cfg, cfg)

	if _, err := w.spec.AdvanceFrame(); !errors.Is(err, ErrNotSynchronized) {
		t.Errorf("AdvanceFrame() before the handshake error = %v, want ErrNotSynchronized", err)
	}
	w.sync(t)

	inputA := func(f frame.Frame) uint8 { return uint8(f % 7) }
	inputB := func(f frame.Frame) uint8 { return uint8(f % 5) }
	const frames = 60
	for range 20 * frames {
		if w.a.s.CurrentFrame() >= frames && w.b.s.CurrentFrame() >= frames {
			break
		}
		if w.a.s.CurrentFrame() < frames {
			w.a.step(t, inputA(w.a.s.CurrentFrame()))
		}
		if w.b.s.CurrentFrame() < frames {
			w.b.step(t, inputB(w.b.s.CurrentFrame()))
		}
		w.watch(t)
		w.clock.Add(tick)
	}

	// the players are done; the spectator drains what the host confirmed
	for range 200 {
		if w.spec.CurrentFrame() >= 50 {
			break
		}
		w.a.s.PollRemoteClients()
		w.b.s.PollRemoteClients()
		w.watch(t)
		w.clock.Add(tick)
	}

	got := w.spec.CurrentFrame()
	if got < 50 {
		t.Fatalf("spectator stopped at frame %v, last received %v", got, w.spec.LastReceivedFrame())
	}
	if w.spec.LastReceivedFrame() > w.a.s.ConfirmedFrame() {
		t.Errorf("spectator received frame %v past the host's confirmed frame %v",
			w.spec.LastReceivedFrame(), w.a.s.ConfirmedFrame())
	}

	wantFrames := make([]frame.Frame, got)
	for i := range wantFrames {
		wantFrames[i] = frame.Frame(i)
	}
	if diff := cmp.Diff(wantFrames, w.seen); diff != "" {
		t.Errorf("spectated frames mismatch (-want +got):\n%s", diff)
	}
	for i, st := range w.stats {
		if st != input.StatusConfirmed {
			t.Fatalf("input %d has status %v, want confirmed", i, st)
		}
	}
	if diff := cmp.Diff(expected(got, inputA, inputB), w.sh.state); diff != "" {
		t.Errorf("spectator state mismatch (-want +got):\n%s", diff)
	}
	if len(w.sh.loads) != 0 || w.sh.saves != 0 {
		t.Errorf("spectator saved %d and loaded %v states, want none", w.sh.saves, w.sh.loads)
	}
	if diff := cmp.Diff([]frame.PlayerHandle{2}, w.a.s.SpectatorHandles()); diff != "" {
		t.Errorf("SpectatorHandles() mismatch (-want +got):\n%s", diff)
	}
	if _, err := w.spec.NetworkStats(); err != nil {
		t.Errorf("NetworkStats() failed: %v", err)
	}

	var synced bool
	for _, ev := range w.spec.Events() {
		if s, ok := ev.(SynchronizedEvent); ok && s.Addr == "a" {
			synced = true
		}
	}
	if !synced {
		t.Error("spectator never reported a SynchronizedEvent for the host")
	}
}

func TestSpectatorTooFarBehind(t *testing.T) {
	cfg := testConfig()
	specCfg := cfg
	specCfg.QueueLength = 16
	w := newWatched(t, cfg, specCfg)
	w.sync(t)

	for range 200 {
		if w.a.s.CurrentFrame() >= 40 && w.b.s.CurrentFrame() >= 40 {
			break
		}
		w.a.step(t, 1)
		w.b.step(t, 2)
		w.spec.PollRemoteClients()
		w.clock.Add(tick)
	}
	w.spec.PollRemoteClients()

	if got := w.spec.FramesBehindHost(); got <= specCfg.QueueLength {
		t.Fatalf("FramesBehindHost() = %d, want more than %d", got, specCfg.QueueLength)
	}
	if _, err := w.spec.AdvanceFrame(); !errors.Is(err, ErrSpectatorTooFarBehind) {
		t.Errorf("AdvanceFrame() error = %v, want ErrSpectatorTooFarBehind", err)
	}
}

func TestNewSpectatorValidation(t *testing.T) {
	n := transport.NewNetwork(transport.ChaosConfig{}, nil)
	bad := testConfig()
	bad.NumPlayers = 0

	tests := []struct {
		name string
		cfg  Config
		tr   *transport.Loopback
		host string
	}{
		{name: "empty host", cfg: testConfig(), tr: n.Endpoint("s"), host: ""},
		{name: "bad config", cfg: bad, tr: n.Endpoint("s"), host: "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpectator[uint8](tt.cfg, tt.tr, BinaryCodec[uint8]{}, tt.host,
				WithLogger(log.New(io.Discard)))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewSpectator() error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	if _, err := NewSpectator[uint8](testConfig(), nil, BinaryCodec[uint8]{}, "a"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewSpectator(nil transport) error = %v, want ErrInvalidConfig", err)
	}
}
