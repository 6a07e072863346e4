package transfer

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// ErrCorruptSession is returned when a session file cannot be parsed. The
// corrupt file is removed.
var ErrCorruptSession = errors.New("transfer: corrupt session file")

// ErrSessionBusy is returned when another process is uploading to the same
// target.
var ErrSessionBusy = errors.New("transfer: upload already in progress for this target")

const (
	sessionFilePerms = 0o600
	sessionDirPerms  = 0o700
)

// StaleSessionAge is how long a session file is kept. The service expires
// sessions well before this.
const StaleSessionAge = 7 * 24 * time.Hour

// SessionRecord is the on-disk form of an upload in progress. UploadURL is
// pre-authenticated, so records are owner-readable only and never logged.
type SessionRecord struct {
	Drive      string    `json:"drive"`
	Target     string    `json:"target"`
	UploadURL  string    `json:"upload_url"`
	FileSize   int64     `json:"file_size"`
	ModTime    time.Time `json:"mod_time"`
	Expiration time.Time `json:"expiration,omitzero"`
	CreatedAt  time.Time `json:"created_at"`
}

// Matches reports whether rec belongs to an upload of the same content.
func (rec *SessionRecord) Matches(size int64, modTime time.Time) bool {
	return rec.FileSize == size && rec.ModTime.Equal(modTime)
}

// Expired reports whether the service has already discarded the session.
func (rec *SessionRecord) Expired(now time.Time) bool {
	return !rec.Expiration.IsZero() && now.After(rec.Expiration)
}

// SessionStore persists upload sessions as JSON files in one directory,
// keyed by drive and target. A lock file per key ensures a single uploader
// per target across processes.
type SessionStore struct {
	dir    string
	logger *slog.Logger
}

// NewSessionStore creates a store rooted at dir. The directory is created on
// first save.
func NewSessionStore(dir string, logger *slog.Logger) *SessionStore {
	return &SessionStore{dir: dir, logger: logger}
}

// Acquire takes the per-target lock. The caller must Unlock the returned
// lock when the upload ends.
func (s *SessionStore) Acquire(drive, target string) (*flock.Flock, error) {
	if err := os.MkdirAll(s.dir, sessionDirPerms); err != nil {
		return nil, fmt.Errorf("transfer: creating session dir: %w", err)
	}

	lock := flock.New(s.filePath(drive, target) + ".lock")

	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("transfer: locking session: %w", err)
	}

	if !ok {
		return nil, ErrSessionBusy
	}

	return lock, nil
}

// Load returns the record for drive and target, or nil if there is none.
func (s *SessionStore) Load(drive, target string) (*SessionRecord, error) {
	path := s.filePath(drive, target)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("transfer: reading session file: %w", err)
	}

	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("corrupt session file, deleting",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.Warn("failed to remove corrupt session file", slog.String("error", rmErr.Error()))
		}

		return nil, fmt.Errorf("%w: %w", ErrCorruptSession, err)
	}

	return &rec, nil
}

// Save writes rec atomically.
func (s *SessionStore) Save(rec *SessionRecord) error {
	if err := os.MkdirAll(s.dir, sessionDirPerms); err != nil {
		return fmt.Errorf("transfer: creating session dir: %w", err)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("transfer: encoding session record: %w", err)
	}

	path := s.filePath(rec.Drive, rec.Target)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, sessionFilePerms); err != nil {
		return fmt.Errorf("transfer: writing session file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("transfer: renaming session file: %w", err)
	}

	return nil
}

// Delete removes the record for drive and target. A missing record is fine.
func (s *SessionStore) Delete(drive, target string) error {
	if err := os.Remove(s.filePath(drive, target)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("transfer: deleting session file: %w", err)
	}

	return nil
}

// CleanStale removes session files not modified within maxAge and returns
// how many were removed. A lock file older than maxAge goes too once its
// session file is gone and no uploader holds it.
func (s *SessionStore) CleanStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("transfer: reading session dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	// Entries are sorted, so a session file is handled before its lock.
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json.lock") {
			s.removeIdleLock(e, cutoff)
			continue
		}

		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to clean stale session",
				slog.String("file", e.Name()),
				slog.String("error", err.Error()),
			)

			continue
		}

		deleted++
	}

	if deleted > 0 {
		s.logger.Info("cleaned stale upload sessions", slog.Int("count", deleted))
	}

	return deleted, nil
}

func (s *SessionStore) removeIdleLock(e fs.DirEntry, cutoff time.Time) {
	info, err := e.Info()
	if err != nil || !info.ModTime().Before(cutoff) {
		return
	}

	path := filepath.Join(s.dir, e.Name())
	if _, err := os.Stat(strings.TrimSuffix(path, ".lock")); !errors.Is(err, fs.ErrNotExist) {
		return
	}

	lock := flock.New(path)
	if ok, err := lock.TryLock(); err != nil || !ok {
		return
	}
	defer lock.Unlock() //nolint:errcheck // the file is being removed

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("failed to remove idle session lock",
			slog.String("file", e.Name()),
			slog.String("error", err.Error()),
		)
	}
}

// sessionKey length-prefixes drive so ("a:", "b") and ("a", ":b") differ.
func sessionKey(drive, target string) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%d:%s:%s", len(drive), drive, target))
	return fmt.Sprintf("%x.json", h)
}

func (s *SessionStore) filePath(drive, target string) string {
	return filepath.Join(s.dir, sessionKey(drive, target))
}
