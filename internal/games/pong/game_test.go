package pong

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newGame(t *testing.T) Game {
	t.Helper()
	g, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return g
}

func play(sim Simulator, g Game, frames int) State {
	s := g.Start()
	a, b := NewBot(0), NewBot(1)
	for range frames {
		s = sim.Step(s, [2]Input{a.Input(g, s), b.Input(g, s)})
	}
	return s
}

func TestStepIsDeterministic(t *testing.T) {
	g := newGame(t)
	first := play(g, g, 2000)
	second := play(g, g, 2000)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("same inputs gave different states (-first +second):\n%s", diff)
	}
	if Checksum(first) != Checksum(second) {
		t.Error("equal states have different checksums")
	}
	if first.Frame != 2000 {
		t.Errorf("Frame = %d, want 2000", first.Frame)
	}
}

func TestChecksumCoversEveryField(t *testing.T) {
	g := newGame(t)
	base := g.Start()
	changed := base
	changed.RNG++
	if Checksum(base) == Checksum(changed) {
		t.Error("checksum ignored the RNG")
	}
}

func TestPaddlesStayOnField(t *testing.T) {
	g := newGame(t)
	s := g.Start()
	for range 100 {
		s = g.Step(s, [2]Input{Up, Down})
	}
	if s.Paddle[0] != Scale {
		t.Errorf("top paddle = %d, want %d", s.Paddle[0], Scale)
	}
	if want := (DefaultHeight - DefaultPaddleHeight - 1) * Scale; s.Paddle[1] != int32(want) {
		t.Errorf("bottom paddle = %d, want %d", s.Paddle[1], want)
	}
}

func TestBallWaitsForServe(t *testing.T) {
	g := newGame(t)
	s := g.Start()
	x := s.BallX
	for range DefaultServeDelay {
		s = g.Step(s, [2]Input{})
	}
	if s.BallX != x || s.Serve != 0 {
		t.Fatalf("ball moved during serve: x %d -> %d, serve %d", x, s.BallX, s.Serve)
	}
	s = g.Step(s, [2]Input{})
	if s.BallX == x {
		t.Error("ball did not move after the serve delay")
	}
}

func TestPaddleReturnsBall(t *testing.T) {
	g := newGame(t)
	s := g.Start()
	s.Serve = 0
	s.BallX = 3*Scale + 64
	s.BallY = 10 * Scale
	s.BallVX = -128
	s.BallVY = 0
	s.Paddle[0] = 8 * Scale

	s = g.Step(s, [2]Input{})
	if s.BallX != 3*Scale || s.BallVX != 130 {
		t.Errorf("after bounce x=%d vx=%d, want x=%d vx=130", s.BallX, s.BallVX, 3*Scale)
	}
	if s.BallVY != -8 {
		t.Errorf("spin vy=%d, want -8", s.BallVY)
	}
}

func TestMissScoresAndWins(t *testing.T) {
	g := newGame(t)
	s := g.Start()
	s.Serve = 0
	s.BallX = Scale
	s.BallY = 10 * Scale
	s.BallVX = -2 * Scale
	s.BallVY = 0
	s.Paddle[0] = Scale
	s.Score[1] = DefaultWinScore - 2

	s = g.Step(s, [2]Input{})
	if s.Score[1] != DefaultWinScore-1 || s.Over() {
		t.Fatalf("score = %v, winner %d", s.Score, s.Winner)
	}
	if s.Serve != DefaultServeDelay || s.BallVX <= 0 {
		t.Errorf("serve = %d vx = %d, want a serve toward the scorer", s.Serve, s.BallVX)
	}

	s.Serve = 0
	s.BallX = Scale
	s.BallVX = -2 * Scale
	s = g.Step(s, [2]Input{})
	if s.Winner != 2 {
		t.Fatalf("Winner = %d, want 2", s.Winner)
	}
	over := g.Step(s, [2]Input{Up, Up})
	over.Frame--
	if diff := cmp.Diff(s, over); diff != "" {
		t.Errorf("finished game still changes (-want +got):\n%s", diff)
	}
}

func TestRender(t *testing.T) {
	g := newGame(t)
	s := g.Start()
	s.Serve = 0
	out := g.Render(s)
	lines := strings.Split(out, "\n")
	if len(lines) != DefaultHeight {
		t.Fatalf("Render() has %d lines, want %d", len(lines), DefaultHeight)
	}
	for _, want := range []string{"P1", "P2", string(BallChar), string(PaddleChar), string(NetChar)} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q", want)
		}
	}

	s.Winner = 1
	if !strings.Contains(g.Render(s), "P1 WINS") {
		t.Error("Render() does not announce the winner")
	}
}

func TestBotChasesBall(t *testing.T) {
	g := newGame(t)
	b := Bot{Player: 0, DeadZone: Scale}
	s := g.Start()
	s.Frame = 1
	s.Paddle[0] = Scale
	s.BallY = 15 * Scale
	if got := b.Input(g, s); got != Down {
		t.Errorf("Input() = %v, want down", got)
	}
	s.Paddle[0] = 12 * Scale
	s.BallY = 2 * Scale
	if got := b.Input(g, s); got != Up {
		t.Errorf("Input() = %v, want up", got)
	}
}

func TestFlakyDiverges(t *testing.T) {
	g := newGame(t)
	f := NewFlaky(g)
	s := g.Start()
	once := f.Step(s, [2]Input{})
	twice := f.Step(s, [2]Input{})
	if Checksum(once) == Checksum(twice) {
		t.Error("Flaky gave the same result twice")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"narrow", func(c *Config) { c.Width = 5 }, false},
		{"short", func(c *Config) { c.Height = c.PaddleHeight }, false},
		{"fast ball", func(c *Config) { c.BallSpeed = 2 * Scale }, false},
		{"no score", func(c *Config) { c.WinScore = 0 }, false},
		{"negative serve", func(c *Config) { c.ServeDelay = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() failed: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
