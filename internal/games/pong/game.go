// Package pong is a deterministic two-player Pong used to exercise the
// rollback session. All positions are fixed-point integers so the same
// inputs produce the same State on every machine.
package pong

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vovakirdan/netplay/internal/checksum"
)

// Scale is the number of sub-cell units in one screen cell.
const Scale = 256

// Default game settings
const (
	DefaultWidth        = 60
	DefaultHeight       = 20
	DefaultPaddleHeight = 5
	DefaultPaddleOffset = 2 // distance from edge
	DefaultBallSpeed    = Scale / 2
	DefaultPaddleSpeed  = Scale
	DefaultWinScore     = 5
	DefaultServeDelay   = 60 // one second at 60fps
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("pong: invalid config")

// Input is one player's buttons for a frame.
type Input uint8

const (
	Up Input = 1 << iota
	Down
)

// Has reports whether b is pressed.
func (in Input) Has(b Input) bool { return in&b != 0 }

func (in Input) String() string {
	switch {
	case in.Has(Up) && in.Has(Down):
		return "up+down"
	case in.Has(Up):
		return "up"
	case in.Has(Down):
		return "down"
	default:
		return "-"
	}
}

// Config holds the field geometry and tuning. Speeds are in sub-cell units
// per frame.
type Config struct {
	Width        int32  `yaml:"width"`
	Height       int32  `yaml:"height"`
	PaddleHeight int32  `yaml:"paddle_height"`
	PaddleOffset int32  `yaml:"paddle_offset"`
	BallSpeed    int32  `yaml:"ball_speed"`
	PaddleSpeed  int32  `yaml:"paddle_speed"`
	WinScore     int32  `yaml:"win_score"`
	ServeDelay   int32  `yaml:"serve_delay"`
	Seed         uint32 `yaml:"seed"`
}

// DefaultConfig returns the standard field.
func DefaultConfig() Config {
	return Config{
		Width:        DefaultWidth,
		Height:       DefaultHeight,
		PaddleHeight: DefaultPaddleHeight,
		PaddleOffset: DefaultPaddleOffset,
		BallSpeed:    DefaultBallSpeed,
		PaddleSpeed:  DefaultPaddleSpeed,
		WinScore:     DefaultWinScore,
		ServeDelay:   DefaultServeDelay,
		Seed:         1,
	}
}

// Validate checks the geometry leaves room to play.
func (c Config) Validate() error {
	switch {
	case c.Width < 4*c.PaddleOffset+4 || c.Width > 1000:
		return fmt.Errorf("%w: width %d", ErrInvalidConfig, c.Width)
	case c.Height < c.PaddleHeight+4 || c.Height > 1000:
		return fmt.Errorf("%w: height %d", ErrInvalidConfig, c.Height)
	case c.PaddleHeight < 1:
		return fmt.Errorf("%w: paddle height %d", ErrInvalidConfig, c.PaddleHeight)
	case c.PaddleOffset < 0:
		return fmt.Errorf("%w: paddle offset %d", ErrInvalidConfig, c.PaddleOffset)
	case c.BallSpeed < 1 || c.BallSpeed > Scale:
		return fmt.Errorf("%w: ball speed %d", ErrInvalidConfig, c.BallSpeed)
	case c.PaddleSpeed < 1:
		return fmt.Errorf("%w: paddle speed %d", ErrInvalidConfig, c.PaddleSpeed)
	case c.WinScore < 1:
		return fmt.Errorf("%w: win score %d", ErrInvalidConfig, c.WinScore)
	case c.ServeDelay < 0:
		return fmt.Errorf("%w: serve delay %d", ErrInvalidConfig, c.ServeDelay)
	}
	return nil
}

// State is the whole simulation. It is a plain value: copying it is a
// snapshot.
type State struct {
	Frame  int32
	BallX  int32
	BallY  int32
	BallVX int32
	BallVY int32
	Paddle [2]int32 // top edge
	Score  [2]int32
	Serve  int32 // frames left before the ball moves
	Winner int32 // 0 while playing, else 1 or 2
	RNG    uint32
}

// Over reports whether someone has won.
func (s State) Over() bool { return s.Winner != 0 }

// Checksum digests every field of s.
func Checksum(s State) checksum.Sum {
	return checksum.Of(func(w io.Writer) {
		_ = binary.Write(w, binary.LittleEndian, s)
	})
}

// Simulator advances a State by one frame.
type Simulator interface {
	Step(s State, in [2]Input) State
}

// Game runs the rules for one Config.
type Game struct {
	cfg Config
}

// New returns a Game for cfg.
func New(cfg Config) (Game, error) {
	if err := cfg.Validate(); err != nil {
		return Game{}, err
	}
	return Game{cfg: cfg}, nil
}

// Config returns the game's settings.
func (g Game) Config() Config { return g.cfg }

// Start returns the state of frame 0, with the ball served toward player 1.
func (g Game) Start() State {
	top := (g.cfg.Height - g.cfg.PaddleHeight) / 2 * Scale
	s := State{
		Paddle: [2]int32{top, top},
		RNG:    g.cfg.Seed,
	}
	g.serve(&s, 0)
	return s
}

// Step applies one frame of input.
func (g Game) Step(s State, in [2]Input) State {
	s.Frame++
	if s.Over() {
		return s
	}

	minY := int32(Scale)
	maxY := (g.cfg.Height - g.cfg.PaddleHeight - 1) * Scale
	for p := range s.Paddle {
		if in[p].Has(Up) {
			s.Paddle[p] -= g.cfg.PaddleSpeed
		}
		if in[p].Has(Down) {
			s.Paddle[p] += g.cfg.PaddleSpeed
		}
		s.Paddle[p] = min(max(s.Paddle[p], minY), maxY)
	}

	if s.Serve > 0 {
		s.Serve--
		return s
	}
	g.moveBall(&s)
	return s
}

func (g Game) moveBall(s *State) {
	s.BallX += s.BallVX
	s.BallY += s.BallVY

	top, bottom := int32(Scale), (g.cfg.Height-2)*Scale
	if s.BallY <= top {
		s.BallY = top
		s.BallVY = -s.BallVY
	}
	if s.BallY >= bottom {
		s.BallY = bottom
		s.BallVY = -s.BallVY
	}

	// the ball only bounces in the frame it crosses a paddle's face
	prevX := s.BallX - s.BallVX
	left := (g.cfg.PaddleOffset + 1) * Scale
	right := (g.cfg.Width - g.cfg.PaddleOffset - 1) * Scale
	if s.BallVX < 0 && prevX > left && s.BallX <= left && g.onPaddle(*s, 0) {
		s.BallX = left
		g.bounce(s, 0)
	}
	if s.BallVX > 0 && prevX < right && s.BallX >= right && g.onPaddle(*s, 1) {
		s.BallX = right - Scale
		g.bounce(s, 1)
	}

	switch {
	case s.BallX < 0:
		g.point(s, 1)
	case s.BallX >= g.cfg.Width*Scale:
		g.point(s, 0)
	}
}

func (g Game) onPaddle(s State, p int) bool {
	return s.BallY >= s.Paddle[p] && s.BallY < s.Paddle[p]+g.cfg.PaddleHeight*Scale
}

// bounce reflects the ball off paddle p. Hitting near an end adds spin and
// every return is a little faster.
func (g Game) bounce(s *State, p int) {
	s.BallVX = -s.BallVX
	s.BallVX += s.BallVX / 50

	hit := (s.BallY-s.Paddle[p])*16/(g.cfg.PaddleHeight*Scale) - 8 // -8..7
	s.BallVY += hit * g.cfg.BallSpeed / 32

	maxVX, maxVY := 3*g.cfg.BallSpeed, 3*g.cfg.BallSpeed/2
	s.BallVX = min(max(s.BallVX, -maxVX), maxVX)
	s.BallVY = min(max(s.BallVY, -maxVY), maxVY)
}

func (g Game) point(s *State, p int) {
	s.Score[p]++
	if s.Score[p] >= g.cfg.WinScore {
		s.Winner = int32(p) + 1 //nolint:gosec // p is 0 or 1
		return
	}
	g.serve(s, p)
}

// serve centres the ball and sends it toward player p after a pause.
func (g Game) serve(s *State, p int) {
	s.BallX = g.cfg.Width / 2 * Scale
	s.BallY = g.cfg.Height / 2 * Scale
	s.BallVX = g.cfg.BallSpeed
	if p == 0 {
		s.BallVX = -s.BallVX
	}

	spread := g.cfg.BallSpeed * 3 / 10
	s.RNG = s.RNG*1664525 + 1013904223
	s.BallVY = int32((s.RNG>>16)%uint32(2*spread+1)) - spread //nolint:gosec // bounded by spread
	s.Serve = g.cfg.ServeDelay
}
