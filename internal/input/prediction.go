package input

import "github.com/vovakirdan/netplay/internal/frame"

// Strategy guesses a player's input for a frame that has not arrived yet.
//
// Implementations must be pure functions of their arguments: every peer runs
// the same strategy and a prediction that depends on anything else (wall
// clock, map order, local-only state) makes rollbacks diverge between peers.
type Strategy[I any] interface {
	Predict(f frame.Frame, lastConfirmed I, hasConfirmed bool, player int) I
}

// RepeatLastConfirmed predicts that the player keeps doing what they last did.
type RepeatLastConfirmed[I any] struct{}

// Predict implements Strategy.
func (RepeatLastConfirmed[I]) Predict(_ frame.Frame, lastConfirmed I, hasConfirmed bool, _ int) I {
	if hasConfirmed {
		return lastConfirmed
	}
	var blank I
	return blank
}

// Blank always predicts the zero input.
type Blank[I any] struct{}

// Predict implements Strategy.
func (Blank[I]) Predict(frame.Frame, I, bool, int) I {
	var blank I
	return blank
}

// StrategyFunc adapts a plain function to Strategy.
type StrategyFunc[I any] func(f frame.Frame, lastConfirmed I, hasConfirmed bool, player int) I

// Predict implements Strategy.
func (fn StrategyFunc[I]) Predict(f frame.Frame, lastConfirmed I, hasConfirmed bool, player int) I {
	return fn(f, lastConfirmed, hasConfirmed, player)
}
