package config

import (
	_ "embed"

	"github.com/vovakirdan/netplay/internal/games/pong"
	"github.com/vovakirdan/netplay/internal/session"
	"github.com/vovakirdan/netplay/internal/transport"
)

//go:embed defaults/netplay.yaml
var defaultYAML []byte

// DefaultStoragePath is where run reports are kept unless configured.
const DefaultStoragePath = "~/.netplay/runs.db"

// DefaultConfig returns the built-in settings. The embedded
// defaults/netplay.yaml mirrors it.
func DefaultConfig() Config {
	return Config{
		Session: session.DefaultConfig(),
		Chaos:   transport.ChaosConfig{},
		Game:    pong.DefaultConfig(),
		Run:     RunConfig{Frames: 3600},
		Storage: StorageConfig{Path: DefaultStoragePath},
	}
}
