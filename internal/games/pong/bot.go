package pong

import "math/rand/v2"

// Bot generates inputs for one paddle by chasing the ball. It reads only
// the State, so two peers running the same bot on the same frames agree.
type Bot struct {
	Player   int
	DeadZone int32 // sub-cell units of slack before the paddle moves
	Lazy     int32 // every Lazy frames the bot rests for a few frames; 0 never
}

// NewBot returns a bot for player p with some deliberate imperfection.
func NewBot(p int) Bot {
	return Bot{Player: p, DeadZone: Scale, Lazy: 37 + int32(p)*12} //nolint:gosec // p is 0 or 1
}

// Input picks the buttons for the next frame.
func (b Bot) Input(g Game, s State) Input {
	if s.Over() {
		return 0
	}
	if b.Lazy > 0 && s.Frame%b.Lazy < 4 {
		return 0
	}
	center := s.Paddle[b.Player] + g.cfg.PaddleHeight*Scale/2
	switch diff := s.BallY - center; {
	case diff < -b.DeadZone:
		return Up
	case diff > b.DeadZone:
		return Down
	}
	return 0
}

// Flaky wraps a Game and nudges the ball by an amount that depends on this
// process and on how many times Step has run. Two peers, or one state
// simulated twice, drift apart.
type Flaky struct {
	Game
	salt  uint32
	calls uint32
}

// NewFlaky returns a Flaky seeded from the process-wide random source.
func NewFlaky(g Game) *Flaky {
	return &Flaky{Game: g, salt: rand.Uint32()}
}

// Step runs the real rules and then perturbs the RNG.
func (f *Flaky) Step(s State, in [2]Input) State {
	s = f.Game.Step(s, in)
	f.calls++
	s.RNG ^= f.salt + f.calls
	return s
}
