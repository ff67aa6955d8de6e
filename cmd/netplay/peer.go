package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/netplay/internal/frame"
	"github.com/vovakirdan/netplay/internal/match"
	"github.com/vovakirdan/netplay/internal/transport"
)

var (
	flagPeerBind   string
	flagPeerRemote string
	flagPeerHandle int
	flagPeerFrames int
	flagPeerNoTUI  bool
	flagPeerSSH    string
	flagPeerWatch  []string
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Play one side of a match over UDP",
	Long: `Bind a UDP socket and play one side of a two-player match against
a remote peer. Both sides must use the same config and opposite handles.
The local side is played by a bot. Spectators listed with --spectator
must connect (netplay spectate) before the match starts.

Examples:
  netplay peer --bind :7000 --remote 192.168.1.20:7000 --local-handle 0
  netplay peer --bind :7000 --remote 192.168.1.10:7000 --local-handle 1
  netplay peer --remote 192.168.1.20:7000 --no-tui --ssh :2222
  netplay peer --remote 192.168.1.20:7000 --spectator 192.168.1.30:7001`,
	RunE: runPeer,
}

func init() {
	f := peerCmd.Flags()
	f.StringVar(&flagPeerBind, "bind", ":7000", "Local UDP address")
	f.StringVar(&flagPeerRemote, "remote", "", "Remote peer address (host:port)")
	f.IntVar(&flagPeerHandle, "local-handle", 0, "Player handle played here (0 or 1)")
	f.IntVar(&flagPeerFrames, "frames", 0, "Frames to play (default: run.frames from the config)")
	f.BoolVar(&flagPeerNoTUI, "no-tui", false, "Log progress instead of the dashboard")
	f.StringVar(&flagPeerSSH, "ssh", "", "Also serve the dashboard over SSH on this address")
	f.StringArrayVar(&flagPeerWatch, "spectator", nil, "Address of a spectator to stream confirmed inputs to (repeatable)")
	_ = peerCmd.MarkFlagRequired("remote")
}

func runPeer(cmd *cobra.Command, args []string) error {
	if flagPeerHandle != 0 && flagPeerHandle != 1 {
		return fmt.Errorf("--local-handle must be 0 or 1, got %d", flagPeerHandle)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dashboard := useDashboard(flagPeerNoTUI)
	logger, err := newLogger()
	if err != nil {
		return err
	}
	if dashboard {
		logger = quietLogger()
	}

	udp, err := transport.ListenUDP(flagPeerBind, logger)
	if err != nil {
		return fmt.Errorf("binding UDP socket: %w", err)
	}
	defer udp.Close()

	local := frame.PlayerHandle(flagPeerHandle)
	seats := match.Seats{local: "", 1 - local: flagPeerRemote}
	mc := match.Config{
		Name:    udp.LocalAddr(),
		Mode:    "peer",
		Session: cfg.SessionConfig(),
		Game:    cfg.Game,
		Frames:  cfg.Run.Frames,

		Spectators: flagPeerWatch,
	}
	if flagPeerFrames > 0 {
		mc.Frames = flagPeerFrames
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
		r, err := match.NewRunner(mc, udp, seats, runOpts...)
		if err != nil {
			return nil, err
		}
		logger.Info("waiting for peer", "bind", udp.LocalAddr(), "remote", flagPeerRemote, "handle", local)
		res, err := r.Run(ctx)
		return []match.Result{res}, err
	}

	results, err := watch(viewers{
		title:   fmt.Sprintf("peer %d  %s <-> %s", local+1, udp.LocalAddr(), flagPeerRemote),
		local:   dashboard,
		sshAddr: flagPeerSSH,
		logger:  logger,
	}, play)
	if err != nil {
		return fmt.Errorf("running peer: %w", err)
	}
	if !printResults(results) {
		return errRunFailed
	}
	return nil
}
