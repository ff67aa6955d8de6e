package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/netplay/internal/match"
	"github.com/vovakirdan/netplay/internal/transport"
)

var (
	flagSpecBind  string
	flagSpecHost  string
	flagSpecNoTUI bool
	flagSpecSSH   string
)

var spectateCmd = &cobra.Command{
	Use:   "spectate",
	Short: "Watch a match through one of its peers",
	Long: `Bind a UDP socket and watch a match hosted by a peer that lists this
address with --spectator. Only confirmed frames are shown, so the board
never rolls back. Both sides must use the same config.

Examples:
  netplay spectate --bind :7001 --host 192.168.1.10:7000
  netplay spectate --host 192.168.1.10:7000 --no-tui`,
	RunE: runSpectate,
}

func init() {
	f := spectateCmd.Flags()
	f.StringVar(&flagSpecBind, "bind", ":7001", "Local UDP address")
	f.StringVar(&flagSpecHost, "host", "", "Address of the peer to watch (host:port)")
	f.BoolVar(&flagSpecNoTUI, "no-tui", false, "Log progress instead of the dashboard")
	f.StringVar(&flagSpecSSH, "ssh", "", "Also serve the dashboard over SSH on this address")
	_ = spectateCmd.MarkFlagRequired("host")
}

func runSpectate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dashboard := useDashboard(flagSpecNoTUI)
	logger, err := newLogger()
	if err != nil {
		return err
	}
	if dashboard {
		logger = quietLogger()
	}

	udp, err := transport.ListenUDP(flagSpecBind, logger)
	if err != nil {
		return fmt.Errorf("binding UDP socket: %w", err)
	}
	defer udp.Close()

	mc := match.Config{
		Name:    udp.LocalAddr(),
		Mode:    match.ModeSpectate,
		Session: cfg.SessionConfig(),
		Game:    cfg.Game,
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
		s, err := match.NewSpectator(mc, udp, flagSpecHost, runOpts...)
		if err != nil {
			return nil, err
		}
		logger.Info("waiting for host", "bind", udp.LocalAddr(), "host", flagSpecHost)
		res, err := s.Run(ctx)
		return []match.Result{res}, err
	}

	results, err := watch(viewers{
		title:   fmt.Sprintf("spectating %s from %s", flagSpecHost, udp.LocalAddr()),
		local:   dashboard,
		sshAddr: flagSpecSSH,
		logger:  logger,
	}, play)
	if err != nil {
		return fmt.Errorf("spectating: %w", err)
	}
	if !printResults(results) {
		return errRunFailed
	}
	return nil
}
