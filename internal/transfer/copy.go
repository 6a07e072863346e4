package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tonimelisma/graphdrive/internal/graph"
	"github.com/tonimelisma/graphdrive/internal/resource"
)

// CopyFailedError reports a copy the service ended with an error.
type CopyFailedError struct {
	Object *resource.ErrorObject
}

func (e *CopyFailedError) Error() string {
	if e.Object == nil {
		return "transfer: copy failed"
	}

	return "transfer: copy failed: " + e.Object.String()
}

// errStillRunning signals retry.Do to poll again.
var errStillRunning = errors.New("copy still running")

// WaitOptions controls WaitForCopy.
type WaitOptions struct {
	// Interval is the first delay between polls; it doubles up to MaxInterval.
	Interval    time.Duration
	MaxInterval time.Duration
	// OnStatus, if set, receives every non-terminal status.
	OnStatus func(graph.CopyStatus)
}

// WaitForCopy polls mon until the copy completes or fails, or ctx ends.
// Transient poll errors are retried on the same schedule.
func WaitForCopy(
	ctx context.Context, mon *graph.CopyProgressMonitor, opts WaitOptions, logger *slog.Logger,
) (graph.CopyCompleted, error) {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}

	if opts.MaxInterval < opts.Interval {
		opts.MaxInterval = opts.Interval
	}

	backoff := retry.WithCappedDuration(opts.MaxInterval, retry.NewExponential(opts.Interval))

	var done graph.CopyCompleted

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		status, err := mon.Poll(ctx)
		if err != nil {
			if graph.IsRetryable(err) {
				logger.Warn("copy status poll failed, retrying", slog.String("error", err.Error()))
				return retry.RetryableError(err)
			}

			return err
		}

		switch s := status.(type) {
		case graph.CopyCompleted:
			done = s
			return nil
		case graph.CopyFailed:
			return &CopyFailedError{Object: s.Error}
		default:
			if opts.OnStatus != nil {
				opts.OnStatus(s)
			}

			return retry.RetryableError(errStillRunning)
		}
	})
	if err != nil {
		return graph.CopyCompleted{}, fmt.Errorf("transfer: waiting for copy: %w", err)
	}

	logger.Info("copy completed", slog.Bool("has_item", done.Item != nil))

	return done, nil
}
