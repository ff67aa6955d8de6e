package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/vovakirdan/netplay/internal/match"
	"github.com/vovakirdan/netplay/internal/platform/tui"
)

// playFunc runs a match, sending snapshots to sink when it is not nil.
type playFunc func(ctx context.Context, sink chan<- match.Stats) ([]match.Result, error)

// viewers says where a run's live stats are shown.
type viewers struct {
	title   string
	local   bool   // dashboard on this terminal
	sshAddr string // serve the dashboard over SSH when set
	logger  *log.Logger
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// watch runs play and shows its snapshots on every configured viewer. The
// local dashboard stays up with the final figures until the user quits, and
// quitting it cancels the match. SSH viewers only watch.
func watch(v viewers, play playFunc) ([]match.Result, error) {
	ctx, cancel := signalContext()
	defer cancel()

	if !v.local && v.sshAddr == "" {
		return play(ctx, nil)
	}

	hub := tui.NewHub()
	sink := make(chan match.Stats, 64)
	go hub.Forward(sink)

	if v.sshAddr != "" {
		cfg := tui.DefaultSSHServerConfig()
		cfg.Address = v.sshAddr
		cfg.Title = v.title
		srv, err := tui.NewSSHServer(cfg, hub, v.logger)
		if err != nil {
			close(sink)
			return nil, err
		}
		if err := srv.Start(); err != nil {
			close(sink)
			return nil, err
		}
		defer func() {
			if err := srv.Shutdown(); err != nil {
				v.logger.Warn("SSH shutdown failed", "err", err)
			}
		}()
		if !v.local {
			fmt.Printf("Dashboard served over SSH on %s\n", srv.Addr())
		}
	}

	type outcome struct {
		results []match.Result
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		results, err := play(ctx, sink)
		close(sink)
		done <- outcome{results, err}
	}()

	if v.local {
		stats, unsubscribe := hub.Subscribe()
		defer unsubscribe()
		width, height := terminalSize()
		if err := tui.RunDashboard(v.title, stats, cancel, width, height); err != nil {
			cancel()
			<-done
			return nil, err
		}
		cancel()
	}
	out := <-done
	return out.results, out.err
}
