package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ridge/iosocket/tlog"
	"go.uber.org/zap"
)

// handleSignals returns nil when a termination signal arrives
func handleSignals(ctx context.Context) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(signals)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-signals:
		tlog.Get(ctx).Info("Terminating", zap.Stringer("signal", sig))
		return nil
	}
}
