package session

import (
	"fmt"

	"github.com/vovakirdan/netplay/internal/checksum"
	"github.com/vovakirdan/netplay/internal/input"
	"github.com/vovakirdan/netplay/internal/protocol"
	"github.com/vovakirdan/netplay/internal/synclayer"
	"github.com/vovakirdan/netplay/internal/timesync"
)

// DesyncDetection controls the periodic checksum exchange.
type DesyncDetection struct {
	Enabled  bool `yaml:"enabled"`
	Interval int  `yaml:"interval"` // frames between reports
}

// Config holds everything a session needs besides its players.
type Config struct {
	NumPlayers         int                `yaml:"num_players"`
	MaxPrediction      int                `yaml:"max_prediction"`
	InputDelay         int                `yaml:"input_delay"`
	QueueLength        int                `yaml:"queue_length"`
	SaveMode           synclayer.SaveMode `yaml:"save_mode"`
	DesyncDetection    DesyncDetection    `yaml:"desync_detection"`
	FPS                int                `yaml:"fps"`
	EventQueueSize     int                `yaml:"event_queue_size"`
	MaxChecksumHistory int                `yaml:"max_checksum_history"`
	CheckDistance      int                `yaml:"check_distance"` // sync test only

	Protocol protocol.Config `yaml:"protocol"`
	TimeSync timesync.Config `yaml:"timesync"`
}

// DefaultConfig returns a two player configuration.
func DefaultConfig() Config {
	return Config{
		NumPlayers:    2,
		MaxPrediction: 8,
		QueueLength:   input.DefaultLength,
		SaveMode:      synclayer.SaveEveryFrame,
		DesyncDetection: DesyncDetection{
			Enabled:  true,
			Interval: checksum.DefaultInterval,
		},
		FPS:                60,
		EventQueueSize:     100,
		MaxChecksumHistory: checksum.DefaultMaxHistory,
		CheckDistance:      2,
		Protocol:           protocol.DefaultConfig(),
		TimeSync:           timesync.DefaultConfig(),
	}
}

// Validate reports the first bad field.
func (c Config) Validate() error {
	if err := c.syncLayer().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch {
	case c.InputDelay < 0 || c.InputDelay >= c.QueueLength:
		return fmt.Errorf("%w: input delay %d outside [0, %d)", ErrInvalidConfig, c.InputDelay, c.QueueLength)
	case c.DesyncDetection.Enabled && c.DesyncDetection.Interval < 1:
		return fmt.Errorf("%w: desync detection interval must be positive, got %d", ErrInvalidConfig, c.DesyncDetection.Interval)
	case c.FPS < 1:
		return fmt.Errorf("%w: fps must be positive, got %d", ErrInvalidConfig, c.FPS)
	case c.EventQueueSize < 1:
		return fmt.Errorf("%w: event queue size must be positive, got %d", ErrInvalidConfig, c.EventQueueSize)
	case c.MaxChecksumHistory < 1:
		return fmt.Errorf("%w: checksum history must be positive, got %d", ErrInvalidConfig, c.MaxChecksumHistory)
	case c.CheckDistance < 0:
		return fmt.Errorf("%w: negative check distance %d", ErrInvalidConfig, c.CheckDistance)
	}
	if err := c.Protocol.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.TimeSync.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) syncLayer() synclayer.Config {
	return synclayer.Config{
		NumPlayers:    c.NumPlayers,
		MaxPrediction: c.MaxPrediction,
		QueueLength:   c.QueueLength,
		SaveMode:      c.SaveMode,
	}
}

func (c Config) checksum() checksum.Config {
	cfg := checksum.Config{MaxHistory: c.MaxChecksumHistory}
	if c.DesyncDetection.Enabled {
		cfg.Interval = c.DesyncDetection.Interval
	}
	return cfg
}

func (c Config) protocol() protocol.Config {
	cfg := c.Protocol
	cfg.FPS = c.FPS
	return cfg
}
