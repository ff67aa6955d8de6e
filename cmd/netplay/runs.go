package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/netplay/internal/storage"
)

var (
	flagRunsLimit int
	flagRunsClear bool
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "Show stored run reports",
	Long: `List the most recent runs, or show one run with its desyncs.

Examples:
  netplay runs
  netplay runs --limit 50
  netplay runs 7c9e6679-7425-40de-944b-e07fc1f90ae7
  netplay runs --clear`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().IntVar(&flagRunsLimit, "limit", 20, "Number of runs to list")
	runsCmd.Flags().BoolVar(&flagRunsClear, "clear", false, "Delete every stored run")
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening runs database: %w", err)
	}
	defer store.Close()

	switch {
	case flagRunsClear:
		if err := store.ClearRuns(); err != nil {
			return fmt.Errorf("clearing runs: %w", err)
		}
		fmt.Println("Run history cleared.")
		return nil
	case len(args) == 1:
		return showRun(store, args[0])
	default:
		return listRuns(store)
	}
}

func listRuns(store *storage.Store) error {
	runs, err := store.RecentRuns(flagRunsLimit)
	if err != nil {
		return fmt.Errorf("retrieving runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs yet. Try 'netplay loopback'.")
		return nil
	}

	fmt.Printf("%-36s  %-8s  %-21s  %-12s  %6s  %9s  %7s  %s\n",
		"RUN", "MODE", "PEER", "END", "FRAMES", "ROLLBACKS", "DESYNCS", "WHEN")
	for _, r := range runs {
		fmt.Printf("%-36s  %-8s  %-21s  %-12s  %6d  %9d  %7d  %s\n",
			r.RunID, r.Mode, r.Peer, r.EndReason, r.Frames, r.Rollbacks, r.Desyncs,
			r.CreatedAt.Local().Format(time.DateTime))
	}
	return nil
}

func showRun(store *storage.Store, arg string) error {
	id, err := uuid.Parse(arg)
	if err != nil {
		return fmt.Errorf("parsing run id: %w", err)
	}
	run, err := store.RunByID(id)
	if err != nil {
		return fmt.Errorf("retrieving run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("no run %s", id)
	}

	fmt.Printf("Run %s (%s, peer %s)\n", run.RunID, run.Mode, run.Peer)
	fmt.Printf("  ended:        %s after %d frames in %v\n", run.EndReason, run.Frames, run.Duration)
	fmt.Printf("  winner:       %d\n", run.Winner)
	fmt.Printf("  rollbacks:    %d (max depth %d, %d frames resimulated)\n", run.Rollbacks, run.MaxRollback, run.Resimulated)
	fmt.Printf("  stalls:       %d\n", run.Stalls)
	fmt.Printf("  max ping:     %v\n", run.MaxPing)
	fmt.Printf("  checksum:     %s\n", run.Checksum)

	desyncs, err := store.RunDesyncs(id)
	if err != nil {
		return fmt.Errorf("retrieving desyncs: %w", err)
	}
	if len(desyncs) == 0 {
		return nil
	}
	fmt.Println("  desyncs:")
	for _, d := range desyncs {
		fmt.Printf("    frame %6d  %-21s  local %s  remote %s\n", d.Frame, d.Peer, d.Local, d.Remote)
	}
	return nil
}
