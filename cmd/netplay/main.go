// netplay runs rollback netcode demos over pong in the terminal.
//
// Usage:
//
//	netplay synctest          - Check the simulation for determinism
//	netplay loopback          - Play two bots over a simulated network
//	netplay peer              - Play one side of a match over UDP
//	netplay spectate          - Watch a match through one of its peers
//	netplay runs [run-id]     - Show stored run reports
//
// Global flags:
//
//	--config <path>     - Load settings from this YAML file
//	--log-level <level> - debug, info, warn or error (default: warn)
//	--db <path>         - Set database path (default: ~/.netplay/runs.db)
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vovakirdan/netplay/internal/config"
	"github.com/vovakirdan/netplay/internal/storage"
	"github.com/vovakirdan/netplay/internal/telemetry"
)

var (
	// Global flags
	flagConfig   string
	flagLogLevel string
	flagDBPath   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "netplay",
	Short: "Rollback netcode playground",
	Long: `netplay runs pong over a GGPO-style rollback session so the
netcode can be watched, stressed and checked for desyncs.

Available commands:
  synctest  - Roll back every frame and compare checksums
  loopback  - Two bots over an in-memory network with optional chaos
  peer      - One side of a real match over UDP
  spectate  - Watch a peer's match from confirmed inputs only
  runs      - List stored run reports

Examples:
  netplay synctest --frames 600
  netplay loopback --latency 80ms --jitter 20ms --loss 0.05
  netplay loopback --no-tui --ssh :2222
  netplay peer --bind :7000 --remote 10.0.0.2:7000 --local-handle 0
  netplay runs`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a netplay.yaml file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "Path to the runs database (overrides the config)")

	// Add subcommands
	rootCmd.AddCommand(synctestCmd)
	rootCmd.AddCommand(loopbackCmd)
	rootCmd.AddCommand(peerCmd)
	rootCmd.AddCommand(spectateCmd)
	rootCmd.AddCommand(runsCmd)
}

// errRunFailed reports a run that ended badly. Its details are already printed.
var errRunFailed = errors.New("run failed")

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if flagDBPath != "" {
		cfg.Storage.Path = flagDBPath
	}
	return cfg, nil
}

func newLogger() (*log.Logger, error) {
	level, err := log.ParseLevel(flagLogLevel)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	return telemetry.NewLogger(level), nil
}

// quietLogger keeps log lines off the screen while the dashboard owns it.
func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// openStore opens the runs database. A failure is reported but does not
// stop the run.
func openStore(cfg config.Config, logger *log.Logger) *storage.Store {
	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		logger.Warn("run history disabled", "path", cfg.Storage.Path, "err", err)
		return nil
	}
	return store
}

// useDashboard reports whether stdout is a terminal the dashboard can take.
func useDashboard(disabled bool) bool {
	return !disabled && term.IsTerminal(int(os.Stdout.Fd()))
}

// terminalSize returns the terminal dimensions, or 80x24.
func terminalSize() (int, int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80, 24
	}
	return width, height
}
