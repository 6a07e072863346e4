package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/graphdrive/internal/graph"
	"github.com/tonimelisma/graphdrive/internal/resource"
)

// Job is one local file to upload.
type Job struct {
	LocalPath string
	Target    graph.ItemLocation
}

// Result is the outcome of one Job. Exactly one of Item and Err is set.
type Result struct {
	Job  Job
	Item *resource.DriveItem
	Err  error
}

// UploadAll uploads jobs with at most parallel uploads in flight. A failed
// job does not stop the others; its error is reported in its Result. The
// returned error is non-nil only when ctx ends first. progress, if set, is
// called per job and must be safe for concurrent use.
func (u *Uploader) UploadAll(
	ctx context.Context, jobs []Job, parallel int, progress func(Job, int64, int64),
) ([]Result, error) {
	results := make([]Result, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))

	for i := range jobs {
		job := jobs[i]

		g.Go(func() error {
			var pf ProgressFunc
			if progress != nil {
				pf = func(done, total int64) { progress(job, done, total) }
			}

			item, err := u.UploadFile(gctx, job.LocalPath, job.Target, pf)
			results[i] = Result{Job: job, Item: item, Err: err}

			if err != nil {
				u.logger.Warn("upload failed",
					slog.String("path", job.LocalPath),
					slog.String("error", err.Error()),
				)
			}

			return nil
		})
	}

	_ = g.Wait()

	return results, ctx.Err()
}

// UploadFile uploads the local file at path to target, using the file's
// modification time.
func (u *Uploader) UploadFile(
	ctx context.Context, path string, target graph.ItemLocation, progress ProgressFunc,
) (*resource.DriveItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transfer: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("transfer: stat %s: %w", path, err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("transfer: %s is a directory", path)
	}

	return u.Upload(ctx, f, info.Size(), target, info.ModTime().UTC(), progress)
}
