package session

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"

	"github.com/vovakirdan/netplay/internal/checksum"
	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/input"
	"github.com/vovakirdan/netplay/internal/telemetry"
	"github.com/vovakirdan/netplay/internal/transport"
)

const tick = 16 * time.Millisecond

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Add(d time.Duration) { c.now = c.now.Add(d) }

// world is a tiny deterministic simulation: every input is folded into a
// running total.
type world struct {
	Frame int32
	Total int64
}

func (w world) sum() checksum.Sum {
	return checksum.Of(func(out io.Writer) {
		_ = binary.Write(out, binary.LittleEndian, w)
	})
}

type host struct {
	t     *testing.T
	state world
	salt  int64 // added to every checksum to fake a desync
	loads []frame.Frame
	saves int
}

func (h *host) exec(reqs []Request) {
	h.t.Helper()
	for _, r := range reqs {
		switch r := r.(type) {
		case SaveGameState[world]:
			st := h.state
			sum := st.sum()
			if h.salt != 0 {
				sum = world{Frame: st.Frame, Total: st.Total + h.salt}.sum()
			}
			if err := r.Cell.Save(r.Frame, &st, &sum); err != nil {
				h.t.Fatalf("Save(%v) failed: %v", r.Frame, err)
			}
			h.saves++
		case LoadGameState[world]:
			st, err := r.Cell.Load()
			if err != nil {
				h.t.Fatalf("Load(%v) failed: %v", r.Frame, err)
			}
			h.state = st
			h.loads = append(h.loads, r.Frame)
		case AdvanceFrame[uint8]:
			for i, in := range r.Inputs {
				h.state.Total = h.state.Total*31 + int64(in.Value)*int64(i+1)
			}
			h.state.Frame++
		default:
			h.t.Fatalf("unexpected request %T", r)
		}
	}
}

type node struct {
	s    *P2PSession[uint8, world]
	h    *host
	obs  *telemetry.Collector
	self frame.PlayerHandle
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.QueueLength = 64
	return cfg
}

func newNode(t *testing.T, cfg Config, tr *transport.Loopback, clock *fakeClock, self frame.PlayerHandle, remote string) *node {
	t.Helper()
	obs := &telemetry.Collector{}
	s, err := NewP2P[uint8, world](cfg, tr, BinaryCodec[uint8]{},
		WithClock(clock.Now), WithObserver(obs), WithLogger(log.New(io.Discard)))
	if err != nil {
		t.Fatalf("NewP2P() failed: %v", err)
	}
	for h := range frame.PlayerHandle(cfg.NumPlayers) {
		var pt PlayerType = Remote{Addr: remote}
		if h == self {
			pt = Local{}
		}
		if err := s.AddPlayer(pt, h); err != nil {
			t.Fatalf("AddPlayer(%d) failed: %v", h, err)
		}
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	return &node{s: s, h: &host{t: t}, obs: obs, self: self}
}

type match struct {
	clock *fakeClock
	net   *transport.Network
	a, b  *node
}

func newMatch(t *testing.T, cfg Config, chaos transport.ChaosConfig) *match {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	n := transport.NewNetwork(chaos, clock.Now)
	return &match{
		clock: clock,
		net:   n,
		a:     newNode(t, cfg, n.Endpoint("a"), clock, 0, "b"),
		b:     newNode(t, cfg, n.Endpoint("b"), clock, 1, "a"),
	}
}

func (m *match) sync(t *testing.T) {
	t.Helper()
	for range 500 {
		m.a.s.PollRemoteClients()
		m.b.s.PollRemoteClients()
		if m.a.s.CurrentState() == StateRunning && m.b.s.CurrentState() == StateRunning {
			return
		}
		m.clock.Add(tick / 4)
	}
	t.Fatalf("peers did not synchronize: a=%v b=%v", m.a.s.CurrentState(), m.b.s.CurrentState())
}

// step advances one node by one frame, tolerating a prediction stall.
func (n *node) step(t *testing.T, value uint8) {
	t.Helper()
	if err := n.s.AddLocalInput(n.self, value); err != nil {
		t.Fatalf("AddLocalInput() failed: %v", err)
	}
	reqs, err := n.s.AdvanceFrame()
	if err != nil && !errors.Is(err, ErrPredictionThreshold) {
		t.Fatalf("AdvanceFrame() at frame %v failed: %v", n.s.CurrentFrame(), err)
	}
	n.h.exec(reqs)
}

// run steps both nodes until each has simulated frames frames.
func (m *match) run(t *testing.T, frames frame.Frame, inputA, inputB func(frame.Frame) uint8) {
	t.Helper()
	for range 20 * frames {
		if m.a.s.CurrentFrame() >= frames && m.b.s.CurrentFrame() >= frames {
			return
		}
		if m.a.s.CurrentFrame() < frames {
			m.a.step(t, inputA(m.a.s.CurrentFrame()))
		}
		if m.b.s.CurrentFrame() < frames {
			m.b.step(t, inputB(m.b.s.CurrentFrame()))
		}
		m.clock.Add(tick)
	}
	t.Fatalf("match stalled: a at %v, b at %v", m.a.s.CurrentFrame(), m.b.s.CurrentFrame())
}

func constant(v uint8) func(frame.Frame) uint8 {
	return func(frame.Frame) uint8 { return v }
}

func TestPerfectNetworkStaysInSync(t *testing.T) {
	cfg := testConfig()
	cfg.InputDelay = 2
	m := newMatch(t, cfg, transport.ChaosConfig{})
	m.sync(t)

	vary := func(f frame.Frame) uint8 { return uint8(f % 7) }
	m.run(t, 100, vary, func(f frame.Frame) uint8 { return uint8(f % 5) })
	// run on so the later reports get compared too
	m.run(t, 120, vary, constant(1))

	for name, n := range map[string]*node{"a": m.a, "b": m.b} {
		if len(n.h.loads) != 0 {
			t.Errorf("%s loaded states %v, want none", name, n.h.loads)
		}
		remote := 1 - n.self
		health, ok := n.s.SyncHealth(remote)
		if !ok || health.Status != checksum.StatusInSync {
			t.Errorf("%s SyncHealth() = %v, %v, want in sync", name, health, ok)
		}
		if got := n.s.LastVerifiedFrame(remote); got < 90 {
			t.Errorf("%s LastVerifiedFrame() = %v, want at least 90", name, got)
		}
		if got := n.obs.Count(telemetry.KindChecksumMismatch); got != 0 {
			t.Errorf("%s reported %d checksum mismatches", name, got)
		}
	}
	if diff := cmp.Diff(m.a.h.state, m.b.h.state); diff != "" {
		t.Errorf("final states differ (-a +b):\n%s", diff)
	}
}

func TestLateInputRollsBackOnce(t *testing.T) {
	cfg := testConfig()
	m := newMatch(t, cfg, transport.ChaosConfig{Latency: 3 * tick})
	m.sync(t)

	changeAt10 := func(f frame.Frame) uint8 {
		if f >= 10 {
			return 1
		}
		return 0
	}
	m.run(t, 40, changeAt10, constant(0))

	if diff := cmp.Diff([]frame.Frame{10}, m.b.h.loads); diff != "" {
		t.Errorf("b loads mismatch (-want +got):\n%s", diff)
	}
	if len(m.a.h.loads) != 0 {
		t.Errorf("a loaded states %v, want none", m.a.h.loads)
	}
}

func TestDesyncDetected(t *testing.T) {
	cfg := testConfig()
	cfg.InputDelay = 2
	m := newMatch(t, cfg, transport.ChaosConfig{})
	m.sync(t)
	m.b.h.salt = 7

	m.run(t, 40, constant(1), constant(2))

	var desyncs []DesyncDetectedEvent
	for _, ev := range m.a.s.Events() {
		if d, ok := ev.(DesyncDetectedEvent); ok {
			desyncs = append(desyncs, d)
		}
	}
	if len(desyncs) == 0 {
		t.Fatal("a saw no DesyncDetectedEvent")
	}
	if d := desyncs[0]; d.Addr != "b" || d.Frame != 10 || d.Local == d.Remote {
		t.Errorf("first desync = %+v, want frame 10 from b with differing sums", d)
	}
	health, _ := m.a.s.SyncHealth(1)
	if health.Status != checksum.StatusDesyncDetected || health.Frame != 10 {
		t.Errorf("SyncHealth() = %v, want desync at frame 10", health)
	}
	if got := m.a.obs.Count(telemetry.KindChecksumMismatch); got == 0 {
		t.Error("no checksum mismatch reported to the observer")
	}
}

func TestPredictionThreshold(t *testing.T) {
	cfg := testConfig()
	m := newMatch(t, cfg, transport.ChaosConfig{})
	m.sync(t)

	// b never advances, so a can only predict MaxPrediction frames.
	for range cfg.MaxPrediction {
		m.a.step(t, 1)
	}
	if err := m.a.s.AddLocalInput(0, 1); err != nil {
		t.Fatalf("AddLocalInput() failed: %v", err)
	}
	reqs, err := m.a.s.AdvanceFrame()
	if !errors.Is(err, ErrPredictionThreshold) {
		t.Fatalf("AdvanceFrame() error = %v, want ErrPredictionThreshold", err)
	}
	m.a.h.exec(reqs)
	if got := m.a.s.CurrentFrame(); got != frame.Frame(cfg.MaxPrediction) {
		t.Errorf("CurrentFrame() = %v, want %d", got, cfg.MaxPrediction)
	}

	// once b catches up the stall clears without a rollback
	m.run(t, 20, constant(1), constant(0))
	if len(m.a.h.loads) != 0 {
		t.Errorf("a loaded %v, want no rollback for correctly predicted inputs", m.a.h.loads)
	}
}

func TestDisconnectPlayer(t *testing.T) {
	cfg := testConfig()
	m := newMatch(t, cfg, transport.ChaosConfig{})
	m.sync(t)
	m.run(t, 5, constant(1), constant(1))

	if err := m.a.s.DisconnectPlayer(1); err != nil {
		t.Fatalf("DisconnectPlayer() failed: %v", err)
	}
	if err := m.a.s.DisconnectPlayer(1); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("second DisconnectPlayer() error = %v, want ErrInvalidRequest", err)
	}
	if err := m.a.s.DisconnectPlayer(0); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("DisconnectPlayer(local) error = %v, want ErrInvalidRequest", err)
	}
	if err := m.a.s.DisconnectPlayer(9); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("DisconnectPlayer(9) error = %v, want ErrInvalidHandle", err)
	}

	// a keeps going alone, seeing b as disconnected
	var last []input.PlayerInput[uint8]
	for range 20 {
		if err := m.a.s.AddLocalInput(0, 1); err != nil {
			t.Fatalf("AddLocalInput() failed: %v", err)
		}
		reqs, err := m.a.s.AdvanceFrame()
		if err != nil {
			t.Fatalf("AdvanceFrame() after disconnect failed: %v", err)
		}
		m.a.h.exec(reqs)
		for _, r := range reqs {
			if adv, ok := r.(AdvanceFrame[uint8]); ok {
				last = adv.Inputs
			}
		}
		m.b.s.PollRemoteClients()
		m.clock.Add(tick)
	}
	if len(last) != 2 || last[1].Status != input.StatusDisconnected {
		t.Errorf("last inputs = %v, want b disconnected", last)
	}

	var gotDisconnect bool
	for _, ev := range m.b.s.Events() {
		if d, ok := ev.(DisconnectedEvent); ok && d.Addr == "a" {
			gotDisconnect = true
		}
	}
	if !gotDisconnect {
		t.Error("b never saw a DisconnectedEvent from a")
	}
}

func TestAdvanceFrameErrors(t *testing.T) {
	cfg := testConfig()
	m := newMatch(t, cfg, transport.ChaosConfig{})

	if _, err := m.a.s.AdvanceFrame(); !errors.Is(err, ErrNotSynchronized) {
		t.Errorf("AdvanceFrame() before sync error = %v, want ErrNotSynchronized", err)
	}
	m.sync(t)
	if _, err := m.a.s.AdvanceFrame(); !errors.Is(err, ErrMissingInput) {
		t.Errorf("AdvanceFrame() without input error = %v, want ErrMissingInput", err)
	}
	if err := m.a.s.AddLocalInput(1, 0); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("AddLocalInput(remote) error = %v, want ErrInvalidHandle", err)
	}
	if _, err := m.a.s.NetworkStats(0); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("NetworkStats(local) error = %v, want ErrInvalidHandle", err)
	}
	if _, err := m.a.s.NetworkStats(1); err != nil {
		t.Errorf("NetworkStats(remote) failed: %v", err)
	}
}

func TestAddPlayerValidation(t *testing.T) {
	cfg := testConfig()
	tr := transport.NewNetwork(transport.ChaosConfig{}, nil).Endpoint("x")
	s, err := NewP2P[uint8, world](cfg, tr, BinaryCodec[uint8]{}, WithLogger(log.New(io.Discard)))
	if err != nil {
		t.Fatalf("NewP2P() failed: %v", err)
	}

	tests := []struct {
		name string
		pt   PlayerType
		h    frame.PlayerHandle
		want error
	}{
		{"spectator handle as local", Local{}, 2, ErrInvalidHandle},
		{"player handle as spectator", Spectator{Addr: "s"}, 1, ErrInvalidHandle},
		{"negative handle", Remote{Addr: "r"}, -1, ErrInvalidHandle},
		{"empty address", Remote{}, 1, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.AddPlayer(tt.pt, tt.h); !errors.Is(err, tt.want) {
				t.Errorf("AddPlayer() error = %v, want %v", err, tt.want)
			}
		})
	}

	if err := s.AddPlayer(Local{}, 0); err != nil {
		t.Fatalf("AddPlayer(local) failed: %v", err)
	}
	if err := s.AddPlayer(Remote{Addr: "r"}, 0); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("duplicate AddPlayer() error = %v, want ErrInvalidHandle", err)
	}
	if err := s.Start(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Start() with a missing player error = %v, want ErrInvalidRequest", err)
	}
	if err := s.AddPlayer(Remote{Addr: "r"}, 1); err != nil {
		t.Fatalf("AddPlayer(remote) failed: %v", err)
	}
	if err := s.AddPlayer(Spectator{Addr: "r"}, 2); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("spectator on a player address error = %v, want ErrInvalidRequest", err)
	}
	if err := s.AddPlayer(Spectator{Addr: "s"}, 2); err != nil {
		t.Fatalf("AddPlayer(spectator) failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if diff := cmp.Diff([]frame.PlayerHandle{1}, s.RemoteHandles()); diff != "" {
		t.Errorf("RemoteHandles() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]frame.PlayerHandle{2}, s.SpectatorHandles()); diff != "" {
		t.Errorf("SpectatorHandles() mismatch (-want +got):\n%s", diff)
	}
	if err := s.AddPlayer(Remote{Addr: "late"}, 1); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("AddPlayer() after Start error = %v, want ErrInvalidRequest", err)
	}
}

func TestSinglePlayerRunsAlone(t *testing.T) {
	cfg := testConfig()
	cfg.NumPlayers = 1
	tr := transport.NewNetwork(transport.ChaosConfig{}, nil).Endpoint("solo")
	s, err := NewP2P[uint8, world](cfg, tr, BinaryCodec[uint8]{}, WithLogger(log.New(io.Discard)))
	if err != nil {
		t.Fatalf("NewP2P() failed: %v", err)
	}
	if err := s.AddPlayer(Local{}, 0); err != nil {
		t.Fatalf("AddPlayer() failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if s.CurrentState() != StateRunning {
		t.Fatalf("CurrentState() = %v, want running", s.CurrentState())
	}

	h := &host{t: t}
	for range 30 {
		if err := s.AddLocalInput(0, 3); err != nil {
			t.Fatalf("AddLocalInput() failed: %v", err)
		}
		reqs, err := s.AdvanceFrame()
		if err != nil {
			t.Fatalf("AdvanceFrame() failed: %v", err)
		}
		h.exec(reqs)
	}
	if s.CurrentFrame() != 30 || h.state.Frame != 30 || len(h.loads) != 0 {
		t.Errorf("frame %v, state %+v, loads %v", s.CurrentFrame(), h.state, h.loads)
	}
}

func TestSynchronizingEventsAndBoundedQueue(t *testing.T) {
	cfg := testConfig()
	cfg.EventQueueSize = 2
	m := newMatch(t, cfg, transport.ChaosConfig{})
	m.sync(t)

	evs := m.a.s.Events()
	if len(evs) != 2 {
		t.Fatalf("Events() returned %d events, want the queue bound of 2", len(evs))
	}
	if _, ok := evs[len(evs)-1].(SynchronizedEvent); !ok {
		t.Errorf("last event = %#v, want SynchronizedEvent", evs[len(evs)-1])
	}
	if m.a.obs.Count(telemetry.KindInternalError) == 0 {
		t.Error("dropping events was not reported")
	}
	if got := m.a.s.Events(); len(got) != 0 {
		t.Errorf("second Events() = %v, want empty", got)
	}
}

func TestSparseSavingRollsBackToLastSave(t *testing.T) {
	cfg := testConfig()
	cfg.SaveMode = SaveSparse
	m := newMatch(t, cfg, transport.ChaosConfig{Latency: 2 * tick})
	m.sync(t)

	alternate := func(f frame.Frame) uint8 { return uint8(f/4) % 2 }
	m.run(t, 60, alternate, constant(0))
	m.run(t, 70, constant(0), constant(0))

	if len(m.b.h.loads) == 0 {
		t.Fatal("b never rolled back")
	}
	if m.b.h.saves >= 70 {
		t.Errorf("b saved %d times in 70 frames, want sparse saving", m.b.h.saves)
	}
	if diff := cmp.Diff(m.a.h.state, m.b.h.state); diff != "" {
		t.Errorf("final states differ (-a +b):\n%s", diff)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no players", func(c *Config) { c.NumPlayers = 0 }},
		{"prediction beyond queue", func(c *Config) { c.MaxPrediction = c.QueueLength }},
		{"negative delay", func(c *Config) { c.InputDelay = -1 }},
		{"zero desync interval", func(c *Config) { c.DesyncDetection.Interval = 0 }},
		{"zero fps", func(c *Config) { c.FPS = 0 }},
		{"zero event queue", func(c *Config) { c.EventQueueSize = 0 }},
		{"bad protocol", func(c *Config) { c.Protocol.NumSyncPackets = 0 }},
		{"bad timesync", func(c *Config) { c.TimeSync.WindowSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() failed: %v", err)
	}
}
