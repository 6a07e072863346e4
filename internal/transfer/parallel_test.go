package transfer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/graphdrive/internal/graph"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func TestUploadAll_ReportsEachJob(t *testing.T) {
	f := newFakeGraph(t)
	u := NewUploader(f.client(), nil, chunkedOpts(), testLogger())

	jobs := []Job{
		{LocalPath: writeTemp(t, "a", payload(10)), Target: mustTarget(t, "/a.txt")},
		{LocalPath: writeTemp(t, "b", payload(20)), Target: mustTarget(t, "/conflict.txt")},
		{LocalPath: filepath.Join(t.TempDir(), "missing"), Target: mustTarget(t, "/c.txt")},
		{LocalPath: writeTemp(t, "d", payload(30)), Target: mustTarget(t, "/d.txt")},
	}

	var (
		mu   sync.Mutex
		seen = map[string]int64{}
	)

	results, err := u.UploadAll(context.Background(), jobs, 2, func(j Job, done, _ int64) {
		mu.Lock()
		defer mu.Unlock()

		seen[j.Target.String()] = done
	})
	require.NoError(t, err)
	require.Len(t, results, len(jobs))

	for i, r := range results {
		assert.Equal(t, jobs[i], r.Job)
	}

	require.NoError(t, results[0].Err)
	assert.Equal(t, int64(10), results[0].Item.SizeOrZero())

	require.ErrorIs(t, results[1].Err, graph.ErrConflict)
	assert.Nil(t, results[1].Item)

	require.ErrorIs(t, results[2].Err, os.ErrNotExist)

	require.NoError(t, results[3].Err)
	assert.Equal(t, int64(30), results[3].Item.SizeOrZero())

	assert.Equal(t, map[string]int64{"/a.txt": 10, "/d.txt": 30}, seen)
}

func TestUploadAll_CanceledContext(t *testing.T) {
	f := newFakeGraph(t)
	u := NewUploader(f.client(), nil, chunkedOpts(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := u.UploadAll(ctx, []Job{
		{LocalPath: writeTemp(t, "a", payload(10)), Target: mustTarget(t, "/a.txt")},
	}, 1, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
}

func TestUploadFile_RejectsDirectory(t *testing.T) {
	f := newFakeGraph(t)
	u := NewUploader(f.client(), nil, chunkedOpts(), testLogger())

	_, err := u.UploadFile(context.Background(), t.TempDir(), mustTarget(t, "/dir"), nil)
	require.ErrorContains(t, err, "is a directory")
}
