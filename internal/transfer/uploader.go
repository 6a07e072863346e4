package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tonimelisma/graphdrive/internal/graph"
	"github.com/tonimelisma/graphdrive/internal/resource"
)

// ErrSizeMismatch is returned when the uploaded item's size differs from
// the local size.
var ErrSizeMismatch = errors.New("transfer: uploaded size does not match local size")

const (
	defaultChunkSize       = 10 * 1024 * 1024
	defaultMaxChunkRetries = 5
	defaultRetryBase       = time.Second
	maxRetryDelay          = 30 * time.Second

	// A chunk is halved after this many consecutive transient failures.
	halveAfterFailures = 2

	// maxRangeResyncs bounds consecutive 416 answers for one session before
	// the upload gives up.
	maxRangeResyncs = 3
)

// ProgressFunc reports bytes acknowledged by the server out of total.
type ProgressFunc func(done, total int64)

// Options configures an Uploader. Zero values select defaults.
type Options struct {
	// ChunkSize is the preferred chunk length. It should be a multiple of
	// graph.ChunkAlignment.
	ChunkSize int64
	// MaxChunkRetries bounds retries of a single chunk. Zero selects the
	// default; a negative value disables retries.
	MaxChunkRetries int
	// SimpleUploadMax is the largest file sent in one request instead of a
	// session. Zero means graph.SimpleUploadMaxSize.
	SimpleUploadMax int64
	// RetryBase is the first retry delay; later delays double.
	RetryBase time.Duration
	Conflict  graph.ConflictBehavior
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}

	if o.MaxChunkRetries == 0 {
		o.MaxChunkRetries = defaultMaxChunkRetries
	}

	if o.SimpleUploadMax <= 0 || o.SimpleUploadMax > graph.SimpleUploadMaxSize {
		o.SimpleUploadMax = graph.SimpleUploadMaxSize
	}

	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}

	if o.Conflict == "" {
		o.Conflict = graph.ConflictReplace
	}

	return o
}

// Uploader uploads local content to a drive. It is safe for concurrent use
// on different targets.
type Uploader struct {
	client *graph.Client
	store  *SessionStore
	opts   Options
	logger *slog.Logger
}

// NewUploader creates an Uploader. store may be nil, in which case sessions
// are not persisted and interrupted uploads restart from zero.
func NewUploader(client *graph.Client, store *SessionStore, opts Options, logger *slog.Logger) *Uploader {
	return &Uploader{client: client, store: store, opts: opts.withDefaults(), logger: logger}
}

// Upload writes size bytes read from content to target and returns the
// resulting item. Session uploads send modTime as the item's last-modified
// time; it also identifies the content when resuming a persisted session.
func (u *Uploader) Upload(
	ctx context.Context, content io.ReaderAt, size int64, target graph.ItemLocation, modTime time.Time,
	progress ProgressFunc,
) (*resource.DriveItem, error) {
	if progress == nil {
		progress = func(int64, int64) {}
	}

	var (
		item *resource.DriveItem
		err  error
	)

	if size <= u.opts.SimpleUploadMax {
		item, err = u.uploadSimple(ctx, content, size, target)
	} else {
		item, err = u.uploadChunked(ctx, content, size, target, modTime, progress)
	}

	if err != nil {
		return nil, err
	}

	progress(size, size)

	if got := item.SizeOrZero(); got != size {
		return item, fmt.Errorf("%w: %s: local %d, remote %d", ErrSizeMismatch, target, size, got)
	}

	u.logger.Info("upload complete",
		slog.String("target", target.String()),
		slog.String("item_id", string(item.ID)),
		slog.Int64("size", size),
	)

	return item, nil
}

func (u *Uploader) uploadSimple(
	ctx context.Context, content io.ReaderAt, size int64, target graph.ItemLocation,
) (*resource.DriveItem, error) {
	data := make([]byte, size)
	if err := readFull(content, data, 0); err != nil {
		return nil, err
	}

	item, err := u.client.UploadSmall(ctx, target, data, u.opts.Conflict)
	if err != nil {
		return nil, fmt.Errorf("transfer: uploading %s: %w", target, err)
	}

	return item, nil
}

func (u *Uploader) uploadChunked(
	ctx context.Context, content io.ReaderAt, size int64, target graph.ItemLocation, modTime time.Time,
	progress ProgressFunc,
) (*resource.DriveItem, error) {
	drive, key := u.client.Drive().String(), target.String()

	if u.store != nil {
		lock, err := u.store.Acquire(drive, key)
		if err != nil {
			return nil, err
		}
		defer lock.Unlock() //nolint:errcheck // advisory lock; released on process exit anyway
	}

	sess, err := u.openSession(ctx, size, target, modTime)
	if err != nil {
		return nil, err
	}

	item, err := u.sendChunks(ctx, sess, content, progress)
	if err != nil {
		// The record stays for the next attempt unless the session is gone.
		if errors.Is(err, graph.ErrNotFound) || errors.Is(err, graph.ErrGone) {
			u.forget(drive, key)
		}

		return nil, fmt.Errorf("transfer: uploading %s: %w", target, err)
	}

	u.forget(drive, key)

	return item, nil
}

// openSession resumes the persisted session for target when it matches the
// content, and otherwise creates a new one.
func (u *Uploader) openSession(
	ctx context.Context, size int64, target graph.ItemLocation, modTime time.Time,
) (*graph.UploadSession, error) {
	drive, key := u.client.Drive().String(), target.String()

	if sess := u.resume(ctx, size, target, modTime); sess != nil {
		return sess, nil
	}

	var sess *graph.UploadSession

	err := retry.Do(ctx, u.backoff(), func(ctx context.Context) error {
		var err error

		sess, err = u.client.NewUploadSession(ctx, target, size, u.opts.Conflict, modTime)

		return u.retryable(ctx, err)
	})
	if err != nil {
		return nil, fmt.Errorf("transfer: creating upload session for %s: %w", target, err)
	}

	if u.store != nil {
		rec := &SessionRecord{
			Drive:      drive,
			Target:     key,
			UploadURL:  sess.UploadURL(),
			FileSize:   size,
			ModTime:    modTime,
			Expiration: sess.Expiration(),
		}

		if err := u.store.Save(rec); err != nil {
			u.logger.Warn("failed to persist upload session, resume after a crash will restart",
				slog.String("target", key),
				slog.String("error", err.Error()),
			)
		}
	}

	u.logger.Debug("created upload session", slog.String("target", key), slog.Any("session", sess))

	return sess, nil
}

// resume returns nil whenever the persisted session cannot be used.
func (u *Uploader) resume(
	ctx context.Context, size int64, target graph.ItemLocation, modTime time.Time,
) *graph.UploadSession {
	if u.store == nil {
		return nil
	}

	drive, key := u.client.Drive().String(), target.String()

	rec, err := u.store.Load(drive, key)
	if err != nil {
		u.logger.Warn("ignoring unreadable upload session", slog.String("error", err.Error()))
		return nil
	}

	if rec == nil {
		return nil
	}

	if !rec.Matches(size, modTime) || rec.Expired(time.Now()) {
		u.logger.Info("discarding outdated upload session", slog.String("target", key))
		u.forget(drive, key)

		return nil
	}

	sess, err := u.client.ResumeUploadSession(rec.UploadURL, size)
	if err != nil {
		u.forget(drive, key)
		return nil
	}

	if err := sess.Refresh(ctx); err != nil {
		u.logger.Info("persisted upload session unusable, starting over",
			slog.String("target", key),
			slog.String("error", err.Error()),
		)
		u.forget(drive, key)

		return nil
	}

	u.logger.Info("resuming upload session",
		slog.String("target", key),
		slog.Any("session", sess),
	)

	return sess
}

// sendChunks uploads the first missing range chunk by chunk until the
// server returns the item.
func (u *Uploader) sendChunks(
	ctx context.Context, sess *graph.UploadSession, content io.ReaderAt, progress ProgressFunc,
) (*resource.DriveItem, error) {
	size := sess.FileSize()
	chunkSize := u.opts.ChunkSize
	buf := make([]byte, chunkSize)
	resyncs := 0

	for {
		missing := sess.NextExpectedRanges()
		if len(missing) == 0 {
			return nil, errors.New("transfer: session has no missing ranges but returned no item")
		}

		progress(size-missingBytes(missing), size)

		next := missing[0]
		failures := 0

		var item *resource.DriveItem

		err := retry.Do(ctx, u.backoff(), func(ctx context.Context) error {
			r := graph.ExpectRange{Start: next.Start, End: min(next.End, next.Start+chunkSize)}
			data := buf[:r.Len()]

			if err := readFull(content, data, r.Start); err != nil {
				return err
			}

			var err error

			item, err = sess.UploadChunk(ctx, r, data)

			switch {
			case err == nil:
				resyncs = 0
				return nil
			case errors.Is(err, graph.ErrRangeNotSatisfiable):
				resyncs++
				if resyncs > maxRangeResyncs {
					return fmt.Errorf("transfer: range %d-%d rejected %d times in a row: %w",
						r.Start, r.End-1, resyncs, err)
				}

				// The server already has some of these bytes; resync.
				return u.retryable(ctx, sess.Refresh(ctx))
			}

			failures++
			if failures >= halveAfterFailures && graph.IsRetryable(err) {
				if smaller := halveChunk(chunkSize); smaller < chunkSize {
					u.logger.Warn("reducing chunk size after repeated failures",
						slog.Int64("from", chunkSize),
						slog.Int64("to", smaller),
					)

					chunkSize = smaller
					failures = 0
				}
			}

			return u.retryable(ctx, err)
		})
		if err != nil {
			return nil, err
		}

		if item != nil {
			return item, nil
		}
	}
}

// retryable marks transient errors for retry.Do and waits out any
// Retry-After hint, which go-retry's backoff cannot express.
func (u *Uploader) retryable(ctx context.Context, err error) error {
	if err == nil || !graph.IsRetryable(err) {
		return err
	}

	u.logger.Warn("transient upload failure, retrying", slog.String("error", err.Error()))

	if d, ok := graph.RetryAfter(err); ok && d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	return retry.RetryableError(err)
}

func (u *Uploader) backoff() retry.Backoff {
	b := retry.NewExponential(u.opts.RetryBase)
	b = retry.WithCappedDuration(maxRetryDelay, b)

	return retry.WithMaxRetries(uint64(max(u.opts.MaxChunkRetries, 0)), b) //nolint:gosec // clamped non-negative
}

func (u *Uploader) forget(drive, key string) {
	if u.store == nil {
		return
	}

	if err := u.store.Delete(drive, key); err != nil {
		u.logger.Warn("failed to delete session file", slog.String("error", err.Error()))
	}
}

// halveChunk halves n, keeping it a multiple of graph.ChunkAlignment and at
// least one alignment unit.
func halveChunk(n int64) int64 {
	half := (n / 2) / graph.ChunkAlignment * graph.ChunkAlignment
	return max(half, graph.ChunkAlignment)
}

// readFull fills data from content at off. A short read means the file
// shrank since it was measured.
func readFull(content io.ReaderAt, data []byte, off int64) error {
	n, err := content.ReadAt(data, off)
	if n == len(data) {
		return nil
	}

	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}

	return fmt.Errorf("transfer: reading content at offset %d: %w", off, err)
}

func missingBytes(ranges []graph.ExpectRange) int64 {
	var n int64
	for _, r := range ranges {
		n += r.Len()
	}

	return n
}
