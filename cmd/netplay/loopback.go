package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/netplay/internal/match"
)

var (
	flagLoopFrames  int
	flagLoopLatency time.Duration
	flagLoopJitter  time.Duration
	flagLoopLoss    float64
	flagLoopSeed    uint64
	flagLoopFlaky   bool
	flagLoopNoTUI   bool
	flagLoopSSH     string
	flagLoopWatch   int
)

var loopbackCmd = &cobra.Command{
	Use:   "loopback",
	Short: "Play two bots over a simulated network",
	Long: `Run both peers of a match in one process, connected by an in-memory
network that can add latency, jitter and packet loss. A live dashboard
shows rollbacks, ping and sync health when stdout is a terminal.

Flags override the chaos section of the config.

Examples:
  netplay loopback
  netplay loopback --latency 100ms --jitter 30ms --loss 0.1
  netplay loopback --flaky --no-tui
  netplay loopback --spectators 2
  netplay loopback --no-tui --ssh :2222`,
	RunE: runLoopback,
}

func init() {
	f := loopbackCmd.Flags()
	f.IntVar(&flagLoopFrames, "frames", 0, "Frames to play (default: run.frames from the config)")
	f.DurationVar(&flagLoopLatency, "latency", 0, "One-way latency")
	f.DurationVar(&flagLoopJitter, "jitter", 0, "Random extra latency")
	f.Float64Var(&flagLoopLoss, "loss", 0, "Send loss probability in [0, 1]")
	f.Uint64Var(&flagLoopSeed, "seed", 0, "Chaos RNG seed (0 = random)")
	f.BoolVar(&flagLoopFlaky, "flaky", false, "Give one peer a non-deterministic simulation")
	f.BoolVar(&flagLoopNoTUI, "no-tui", false, "Print a summary instead of the dashboard")
	f.StringVar(&flagLoopSSH, "ssh", "", "Also serve the dashboard over SSH on this address")
	f.IntVar(&flagLoopWatch, "spectators", 0, "Spectators watching the first player")
}

func runLoopback(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	chaos := cfg.Chaos
	f := cmd.Flags()
	if f.Changed("latency") {
		chaos.Latency = flagLoopLatency
	}
	if f.Changed("jitter") {
		chaos.Jitter = flagLoopJitter
	}
	if f.Changed("loss") {
		chaos.SendLoss = flagLoopLoss
	}
	if f.Changed("seed") {
		chaos.Seed = flagLoopSeed
	}

	mc := match.Config{
		Mode:    "loopback",
		Session: cfg.SessionConfig(),
		Game:    cfg.Game,
		Frames:  cfg.Run.Frames,
		Flaky:   flagLoopFlaky,
	}
	if flagLoopFrames > 0 {
		mc.Frames = flagLoopFrames
	}
	if flagLoopWatch < 0 {
		return fmt.Errorf("--spectators cannot be negative, got %d", flagLoopWatch)
	}
	for i := range flagLoopWatch {
		mc.Spectators = append(mc.Spectators, fmt.Sprintf("s%d", i+1))
	}

	dashboard := useDashboard(flagLoopNoTUI)
	logger, err := newLogger()
	if err != nil {
		return err
	}
	if dashboard {
		logger = quietLogger()
	}
	opts := []match.Option{match.WithLogger(logger)}
	if store := openStore(cfg, logger); store != nil {
		defer store.Close()
		opts = append(opts, match.WithSaver(store))
	}

	play := func(ctx context.Context, sink chan<- match.Stats) ([]match.Result, error) {
		runOpts := opts
		if sink != nil {
			runOpts = append(runOpts[:len(runOpts):len(runOpts)], match.WithStatsSink(sink))
		}
		l, err := match.NewLoopback(mc, chaos, runOpts...)
		if err != nil {
			return nil, err
		}
		return l.Run(ctx)
	}

	results, err := watch(viewers{
		title:   fmt.Sprintf("loopback  latency %v  jitter %v  loss %.0f%%", chaos.Latency, chaos.Jitter, chaos.SendLoss*100),
		local:   dashboard,
		sshAddr: flagLoopSSH,
		logger:  logger,
	}, play)
	if err != nil {
		return fmt.Errorf("running loopback: %w", err)
	}
	if !printResults(results) {
		return errRunFailed
	}
	return nil
}

// printResults prints one summary block per peer and reports whether every
// peer ended cleanly.
func printResults(results []match.Result) bool {
	ok := true
	for _, res := range results {
		st := res.Stats
		fmt.Printf("%s  %s after %d frames (%v)\n", res.Addr, res.Reason, st.Frame, res.Duration.Round(time.Millisecond))
		fmt.Printf("  score %d - %d  rollbacks %d  max depth %d  resimulated %d  stalls %d  max ping %v\n",
			st.Score[0], st.Score[1], st.Rollbacks, st.MaxRollback, st.Resimulated, st.Stalls, st.MaxPing)
		fmt.Printf("  final checksum %s\n", res.Checksum)
		for _, d := range res.Desyncs {
			fmt.Printf("  desync at frame %d with %s: local %s remote %s\n", d.Frame, d.Addr, d.Local, d.Remote)
		}
		switch res.Reason {
		case match.EndDesync, match.EndSyncTimeout:
			ok = false
		case match.EndDisconnect:
			// spectators end when the peer they watch leaves
			ok = ok && res.Mode == match.ModeSpectate
		}
	}
	return ok
}
