package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// forceExit is replaced in tests.
var forceExit = os.Exit

// shutdownContext returns a context canceled by the first SIGINT or SIGTERM.
// A second signal exits with status 1 without waiting for pending watchlist
// writes. The returned stop releases the signal handler.
func shutdownContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, finishing pending writes",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-done:
			return
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, exiting now",
				slog.String("signal", sig.String()),
			)
			forceExit(1)
		case <-done:
		}
	}()

	var once sync.Once

	stop := func() {
		once.Do(func() {
			close(done)
			cancel()
		})
	}

	return ctx, stop
}
