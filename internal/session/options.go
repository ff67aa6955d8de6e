package session

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vovakirdan/netplay/internal/input"
	"github.com/vovakirdan/netplay/internal/telemetry"
)

type options struct {
	observer   telemetry.Observer
	logger     *log.Logger
	clock      func() time.Time
	prediction any
}

// Option configures a session.
type Option func(*options)

// WithObserver sends contract violations to obs.
func WithObserver(obs telemetry.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithLogger replaces the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces time.Now. Tests use it to drive timers by hand.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithPrediction replaces the repeat-last-input prediction. The strategy's
// input type must match the session's.
func WithPrediction[I any](s input.Strategy[I]) Option {
	return func(o *options) { o.prediction = s }
}

func newOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.observer == nil {
		o.observer = telemetry.Discard
	}
	if o.logger == nil {
		o.logger = telemetry.NewLogger(log.WarnLevel)
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	return o
}

func strategyFrom[I any](o options) (input.Strategy[I], error) {
	if o.prediction == nil {
		return nil, nil
	}
	s, ok := o.prediction.(input.Strategy[I])
	if !ok {
		return nil, fmt.Errorf("%w: prediction strategy %T does not match the input type", ErrInvalidConfig, o.prediction)
	}
	return s, nil
}
