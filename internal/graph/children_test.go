package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/graphdrive/internal/option"
	"github.com/tonimelisma/graphdrive/internal/resource"
)

// pagedChildrenServer serves three pages of children. Continuation links
// carry an opaque skiptoken that must be echoed back untouched.
func pagedChildrenServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()

	var srv *httptest.Server

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Query().Get("$skiptoken") {
		case "":
			assert.Equal(t, "/drives/d/items/folder-1/children", r.URL.Path)
			fmt.Fprintf(w, `{"value":[{"id":"a"},{"id":"b"}],"@odata.nextLink":"%s/opaque/page?$skiptoken=P%%2B2"}`, srv.URL)
		case "P+2":
			assert.Equal(t, "/opaque/page", r.URL.Path)
			fmt.Fprintf(w, `{"value":[{"id":"c"}],"@odata.nextLink":"%s/opaque/page?$skiptoken=P3"}`, srv.URL)
		case "P3":
			fmt.Fprint(w, `{"value":[{"id":"d"},{"id":"e"}]}`)
		default:
			t.Errorf("unexpected skiptoken %q", r.URL.Query().Get("$skiptoken"))
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func ids(items []resource.DriveItem) []string {
	out := make([]string, 0, len(items))
	for i := range items {
		out = append(out, string(items[i].ID))
	}

	return out
}

func TestListChildren_PagesUntilExhausted(t *testing.T) {
	var hits atomic.Int32

	srv := pagedChildrenServer(t, &hits)
	client := newTestClient(t, srv.URL)

	f := client.ListChildren(ItemByID("folder-1"), option.NewCollection[resource.DriveItem]())
	assert.Equal(t, int32(0), hits.Load(), "construction performs no I/O")

	items, more, err := f.NextPage(context.Background())
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, []string{"a", "b"}, ids(items))

	items, more, err = f.NextPage(context.Background())
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, []string{"c"}, ids(items))

	items, more, err = f.NextPage(context.Background())
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, []string{"d", "e"}, ids(items))
	assert.True(t, f.Exhausted())

	_, _, err = f.NextPage(context.Background())
	require.ErrorIs(t, err, ErrMisuse)
	assert.Equal(t, int32(3), hits.Load())
}

func TestListChildren_FetchAll(t *testing.T) {
	var hits atomic.Int32

	srv := pagedChildrenServer(t, &hits)
	client := newTestClient(t, srv.URL)

	items, err := client.ListChildren(ItemByID("folder-1"), option.NewCollection[resource.DriveItem]()).
		FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids(items))
}

func TestListChildren_AllStopsEarly(t *testing.T) {
	var hits atomic.Int32

	srv := pagedChildrenServer(t, &hits)
	client := newTestClient(t, srv.URL)

	f := client.ListChildren(ItemByID("folder-1"), option.NewCollection[resource.DriveItem]())

	var seen []string

	for item, err := range f.All(context.Background()) {
		require.NoError(t, err)

		seen = append(seen, string(item.ID))
		if len(seen) == 3 {
			break
		}
	}

	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.Equal(t, int32(2), hits.Load(), "pages are fetched on demand")
	assert.False(t, f.Exhausted())
}

func TestListChildren_DefaultAndExplicitTop(t *testing.T) {
	var (
		mu      sync.Mutex
		queries []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.RawQuery)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, WithPageSize(50))

	_, err := client.ListChildren(Root(), option.NewCollection[resource.DriveItem]()).FetchAll(context.Background())
	require.NoError(t, err)

	opt := option.NewCollection[resource.DriveItem]().
		Select(resource.DriveItemField.ID, resource.DriveItemField.Name).
		Top(7)

	_, err = client.ListChildren(Root(), opt).FetchAll(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, queries, 2)
	assert.Equal(t, "$top=50", queries[0])
	assert.Equal(t, "$select=id,name&$top=7", queries[1])
}

func TestListChildren_ErrorLeavesStateUnchanged(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value":[{"id":"a"}]}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	f := client.ListChildren(Root(), option.NewCollection[resource.DriveItem]())

	_, _, err := f.NextPage(context.Background())
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.False(t, f.Exhausted())

	items, more, err := f.NextPage(context.Background())
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, []string{"a"}, ids(items))
}

func TestListChildren_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":"itemNotFound","message":"gone"}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.ListChildren(ItemByID("nope"), option.NewCollection[resource.DriveItem]()).
		FetchAll(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}
