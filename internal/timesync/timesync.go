// Package timesync estimates how far a remote peer runs ahead of or behind
// the local simulation, using integer math only so that every platform
// computes the same recommendation.
package timesync

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/netplay/internal/frame"
)

// DefaultWindowSize is the number of frames averaged.
const DefaultWindowSize = 30

// ErrInvalidWindow is returned for a window size below 1.
var ErrInvalidWindow = errors.New("timesync: window size must be at least 1")

// Config sets the rolling window length.
type Config struct {
	WindowSize int `yaml:"window_size"`
}

// DefaultConfig returns the default window.
func DefaultConfig() Config {
	return Config{WindowSize: DefaultWindowSize}
}

// Validate checks the window size.
func (c Config) Validate() error {
	if c.WindowSize < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidWindow, c.WindowSize)
	}
	return nil
}

// TimeSync keeps the last WindowSize local and remote frame advantages.
type TimeSync struct {
	local  []int32
	remote []int32
}

// New creates an estimator. An invalid window falls back to the default.
func New(cfg Config) *TimeSync {
	if cfg.Validate() != nil {
		cfg = DefaultConfig()
	}
	return &TimeSync{
		local:  make([]int32, cfg.WindowSize),
		remote: make([]int32, cfg.WindowSize),
	}
}

// AdvanceFrame records the advantages observed at frame f. Null or negative
// frames are ignored.
func (ts *TimeSync) AdvanceFrame(f frame.Frame, localAdv, remoteAdv int32) {
	if !f.IsValid() {
		return
	}
	i := f.Mod(len(ts.local))
	ts.local[i] = localAdv
	ts.remote[i] = remoteAdv
}

// AverageFrameAdvantage returns (sum(remote) - sum(local)) / (2 * window).
// Positive means the remote is ahead and the local side should slow down.
func (ts *TimeSync) AverageFrameAdvantage() int32 {
	var sumLocal, sumRemote int64
	for i := range ts.local {
		sumLocal += int64(ts.local[i])
		sumRemote += int64(ts.remote[i])
	}
	return int32((sumRemote - sumLocal) / int64(2*len(ts.local))) //nolint:gosec // bounded by int32 inputs
}
