package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/netplay/internal/match"
)

var (
	flagSyncFrames   int
	flagSyncDistance int
	flagSyncDesync   bool
)

var synctestCmd = &cobra.Command{
	Use:   "synctest",
	Short: "Check the simulation for determinism",
	Long: `Run pong under a sync test session. Every frame rolls back
--check-distance frames, resimulates them and compares the checksums with
the first pass. Any difference means the simulation is not deterministic.

Examples:
  netplay synctest
  netplay synctest --frames 1200 --check-distance 6
  netplay synctest --inject-desync`,
	RunE: runSyncTest,
}

func init() {
	synctestCmd.Flags().IntVar(&flagSyncFrames, "frames", 0, "Frames to simulate (default: run.frames from the config)")
	synctestCmd.Flags().IntVar(&flagSyncDistance, "check-distance", 0, "Frames to roll back each step (default: from the config)")
	synctestCmd.Flags().BoolVar(&flagSyncDesync, "inject-desync", false, "Use a simulation that differs on every call")
}

func runSyncTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}

	mc := match.Config{
		Name:    "local",
		Mode:    "synctest",
		Session: cfg.SessionConfig(),
		Game:    cfg.Game,
		Frames:  cfg.Run.Frames,
		Flaky:   flagSyncDesync,
	}
	if flagSyncFrames > 0 {
		mc.Frames = flagSyncFrames
	}
	if flagSyncDistance > 0 {
		mc.Session.CheckDistance = flagSyncDistance
	}

	opts := []match.Option{match.WithLogger(logger)}
	if store := openStore(cfg, logger); store != nil {
		defer store.Close()
		opts = append(opts, match.WithSaver(store))
	}

	report, err := match.RunSyncTest(mc, opts...)
	if err != nil {
		return fmt.Errorf("running sync test: %w", err)
	}

	st := report.Stats
	fmt.Printf("Sync test - %d frames, check distance %d\n", st.Frame, mc.Session.CheckDistance)
	fmt.Printf("  rollbacks:   %d\n", st.Rollbacks)
	fmt.Printf("  resimulated: %d\n", st.Resimulated)
	fmt.Printf("  score:       %d - %d\n", st.Score[0], st.Score[1])
	fmt.Printf("  checksum:    %s\n", report.Checksum)
	if report.Mismatch != nil {
		fmt.Printf("FAILED: %v\n", report.Mismatch)
		return errRunFailed
	}
	fmt.Println("OK: every resimulation matched")
	return nil
}
