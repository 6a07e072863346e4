package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// shutdownContext returns a context that the first SIGINT or SIGTERM
// cancels, so a transfer stops between requests and an upload keeps its
// saved session. A second signal exits immediately. The returned stop
// function releases the signal handler and must be called when the command
// returns.
func shutdownContext(parent context.Context, logger *slog.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		defer signal.Stop(sigCh)

		interrupted := false

		for {
			select {
			case sig := <-sigCh:
				if interrupted {
					logger.Warn("second signal, exiting without cleanup", slog.String("signal", sig.String()))
					os.Exit(exitInterrupted)
				}

				interrupted = true

				logger.Info("interrupted, stopping; signal again to exit now",
					slog.String("signal", sig.String()))
				cancel()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once

	return ctx, func() {
		once.Do(func() {
			close(done)
			cancel()
		})
	}
}
