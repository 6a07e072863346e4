// Package tokenfile persists the OAuth2 token of a signed-in account together
// with the drive it was used for. Writers take an advisory lock beside the
// file so a refresh in one process cannot interleave with a login in another.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// ErrNotFound is returned by Load when no token file exists.
var ErrNotFound = errors.New("tokenfile: no saved token")

// File is the on-disk format.
type File struct {
	Token *oauth2.Token `json:"token"`
	// Drive is the textual drive location the token was obtained for.
	Drive   string    `json:"drive,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

// Load reads the token file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil {
		return nil, fmt.Errorf("tokenfile: %s missing token field (re-login required)", path)
	}

	return &tf, nil
}

// Save writes f atomically with 0600 permissions while holding the lock.
// Token values are never logged.
func Save(path string, f *File) error {
	if f == nil || f.Token == nil {
		return errors.New("tokenfile: refusing to save an empty token")
	}

	if f.SavedAt.IsZero() {
		f.SavedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("tokenfile: locking %s: %w", path, err)
	}
	defer lock.Unlock() //nolint:errcheck // unlock failure leaves a stale advisory lock only

	return writeAtomic(dir, path, data)
}

// writeAtomic replaces path with data via a synced temp file in dir, so a
// crash leaves either the old token or the new one.
func writeAtomic(dir, path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	steps := []struct {
		what string
		run  func() error
	}{
		{"setting permissions", func() error { return tmp.Chmod(FilePerms) }},
		{"writing", func() error { _, werr := tmp.Write(data); return werr }},
		{"syncing", tmp.Sync},
		{"closing", tmp.Close},
		{"renaming", func() error { return os.Rename(tmp.Name(), path) }},
	}

	for _, step := range steps {
		if serr := step.run(); serr != nil {
			return fmt.Errorf("tokenfile: %s: %w", step.what, serr)
		}
	}

	return nil
}

// Remove deletes the token file and its lock. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	if err := os.Remove(path + ".lock"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing lock: %w", err)
	}

	return nil
}
