// Package config loads the YAML settings shared by every netplay command.
package config

import (
	"errors"
	"fmt"

	"github.com/vovakirdan/netplay/internal/games/pong"
	"github.com/vovakirdan/netplay/internal/session"
	"github.com/vovakirdan/netplay/internal/transport"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid")

// Config is the whole netplay.yaml file.
type Config struct {
	Session session.Config        `yaml:"session"`
	Chaos   transport.ChaosConfig `yaml:"chaos"`
	Game    pong.Config           `yaml:"game"`
	Run     RunConfig             `yaml:"run"`
	Storage StorageConfig         `yaml:"storage"`
}

// RunConfig bounds a demo run.
type RunConfig struct {
	Frames int `yaml:"frames"` // 0 plays until someone wins
}

// StorageConfig says where run reports go.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig returns the session section.
func (c Config) SessionConfig() session.Config {
	return c.Session
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("%w: session: %w", ErrInvalidConfig, err)
	}
	if err := c.Chaos.Validate(); err != nil {
		return fmt.Errorf("%w: chaos: %w", ErrInvalidConfig, err)
	}
	if err := c.Game.Validate(); err != nil {
		return fmt.Errorf("%w: game: %w", ErrInvalidConfig, err)
	}
	if c.Run.Frames < 0 {
		return fmt.Errorf("%w: run: negative frame limit %d", ErrInvalidConfig, c.Run.Frames)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("%w: storage: empty path", ErrInvalidConfig)
	}
	return nil
}
