package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"autoconf/pkg/logging"
)

// runDaemon starts the trigger source and the policy manager and blocks
// until ctx is cancelled or the process receives SIGINT or SIGTERM.
//
// Shutdown stops the manager first, which deactivates every reconciler and
// deletes its records, and then the source.
//
// When running under systemd, READY=1 is sent once both are started and
// STOPPING=1 when shutdown begins.
func runDaemon(ctx context.Context, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := services.Source.Start(ctx); err != nil {
		logging.Error("Daemon", err, "Failed to start trigger source")
		return fmt.Errorf("failed to start trigger source: %w", err)
	}

	if err := services.Manager.Start(ctx); err != nil {
		logging.Error("Daemon", err, "Failed to start policy manager")
		_ = services.Source.Stop()
		return fmt.Errorf("failed to start policy manager: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		notify(daemon.SdNotifyReady)
		logging.Info("Daemon", "autoconf is running. Press Ctrl+C to stop.")
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		notify(daemon.SdNotifyStopping)
		logging.Info("Daemon", "Shutting down")

		if err := services.Manager.Stop(); err != nil {
			logging.Error("Daemon", err, "Failed to stop policy manager")
		}
		if err := services.Source.Stop(); err != nil {
			logging.Error("Daemon", err, "Failed to stop trigger source")
		}
		return nil
	})

	return g.Wait()
}

func notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logging.WarnErr("Daemon", err, "Failed to notify systemd")
		return
	}
	if sent {
		logging.Debug("Daemon", "Notified systemd: %s", state)
	}
}
