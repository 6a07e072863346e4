package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/graphdrive/internal/graph"
	"github.com/tonimelisma/graphdrive/internal/option"
	"github.com/tonimelisma/graphdrive/internal/resource"
)

// ChangeSource starts change enumerations. *graph.Client implements it.
type ChangeSource interface {
	TrackChanges(item graph.ItemLocation, opt option.Collection[resource.DriveItem]) *graph.TrackChangeFetcher
	TrackChangesFrom(deltaURL string) (*graph.TrackChangeFetcher, error)
}

// SyncResult summarizes one Sync call.
type SyncResult struct {
	Pages    int
	Upserted int
	Deleted  int
	// Full is set when the mirror was rebuilt from a full enumeration.
	Full bool
}

// Sync brings scope up to date with the subtree at root. It resumes from the
// saved delta URL when there is one; otherwise, or when the server reports
// the token expired, it clears scope and enumerates everything. onChange, if
// set, sees every change in server order before it is applied.
//
// The delta URL is saved only after the final page, so an interrupted Sync
// replays from the previous URL next time.
func (m *Mirror) Sync(
	ctx context.Context, src ChangeSource, scope string, root graph.ItemLocation, onChange func(resource.DriveItem),
) (SyncResult, error) {
	deltaURL, err := m.DeltaURL(ctx, scope)
	if err != nil {
		return SyncResult{}, err
	}

	res, err := m.enumerate(ctx, src, scope, root, deltaURL, onChange)
	if errors.Is(err, graph.ErrGone) && deltaURL != "" {
		m.logger.Warn("delta token expired, rebuilding mirror", slog.String("scope", scope))

		res, err = m.enumerate(ctx, src, scope, root, "", onChange)
	}

	if err != nil {
		return res, err
	}

	m.logger.Info("mirror synced",
		slog.String("scope", scope),
		slog.Int("pages", res.Pages),
		slog.Int("upserted", res.Upserted),
		slog.Int("deleted", res.Deleted),
		slog.Bool("full", res.Full),
	)

	return res, nil
}

func (m *Mirror) enumerate(
	ctx context.Context, src ChangeSource, scope string, root graph.ItemLocation, deltaURL string,
	onChange func(resource.DriveItem),
) (SyncResult, error) {
	var (
		res     SyncResult
		fetcher *graph.TrackChangeFetcher
	)

	if deltaURL == "" {
		if err := m.Reset(ctx, scope); err != nil {
			return res, err
		}

		res.Full = true
		fetcher = src.TrackChanges(root, option.NewCollection[resource.DriveItem]())
	} else {
		var err error

		fetcher, err = src.TrackChangesFrom(deltaURL)
		if err != nil {
			return res, fmt.Errorf("mirror: resuming %s: %w", scope, err)
		}
	}

	for more := true; more; {
		var (
			items []resource.DriveItem
			err   error
		)

		items, more, err = fetcher.NextPage(ctx)
		if err != nil {
			return res, fmt.Errorf("mirror: syncing %s: %w", scope, err)
		}

		if onChange != nil {
			for _, item := range items {
				onChange(item)
			}
		}

		stats, err := m.ApplyPage(ctx, scope, items)
		if err != nil {
			return res, err
		}

		res.Pages++
		res.Upserted += stats.Upserted
		res.Deleted += stats.Deleted
	}

	next, _ := fetcher.DeltaURL()
	if err := m.SaveDeltaURL(ctx, scope, next); err != nil {
		return res, err
	}

	return res, nil
}
