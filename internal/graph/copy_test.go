package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/graphdrive/internal/resource"
)

func TestCopyItem_ReturnsMonitor(t *testing.T) {
	var got map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/drives/d/items/src-1/copy", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Location", "https://monitor.example/jobs/1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	dest := resource.ItemReference{DriveID: "d2", ID: "folder-9"}

	mon, err := client.CopyItem(context.Background(), ItemByID("src-1"), dest, MustFileName("copy.txt"))
	require.NoError(t, err)
	assert.Equal(t, "https://monitor.example/jobs/1", mon.MonitorURL())
	assert.Equal(t, CopyNotStarted{}, mon.Status())

	assert.Equal(t, "copy.txt", got["name"])
	parent, ok := got["parentReference"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "d2", parent["driveId"])
	assert.Equal(t, "folder-9", parent["id"])
}

func TestCopyItem_KeepsNameWhenZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NotContains(t, string(body), `"name"`)

		w.Header().Set("Location", "https://monitor.example/jobs/1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.CopyItem(context.Background(), ItemByID("src"), resource.ItemReference{ID: "dst"}, FileName{})
	require.NoError(t, err)
}

func TestCopyItem_UnexpectedResponses(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		location string
	}{
		{"missing location", http.StatusAccepted, ""},
		{"wrong status", http.StatusOK, "https://monitor.example/jobs/1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.location != "" {
					w.Header().Set("Location", tt.location)
				}

				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL)

			_, err := client.CopyItem(context.Background(), ItemByID("src"), resource.ItemReference{ID: "dst"}, FileName{})
			require.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestCopyItem_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":{"code":"nameAlreadyExists","message":"exists"}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.CopyItem(context.Background(), ItemByID("src"), resource.ItemReference{ID: "dst"}, FileName{})
	require.ErrorIs(t, err, ErrConflict)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "nameAlreadyExists", apiErr.Object.Code)
}

func TestCopyMonitor_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		body string
		want CopyStatus
	}{
		{"not started", `{"status":"notStarted"}`, CopyNotStarted{}},
		{"waiting", `{"status":"waiting"}`, CopyNotStarted{}},
		{"in progress", `{"status":"inProgress","percentageComplete":42.5}`, CopyInProgress{Percentage: 42.5}},
		{"in progress without percentage", `{"status":"inProgress"}`, CopyInProgress{}},
		{"delete pending", `{"status":"deletePending"}`, CopyInProgress{}},
		{"completed", `{"status":"completed","resourceId":"new-1"}`,
			CopyCompleted{Item: &resource.DriveItem{ID: "new-1"}}},
		{"completed without id", `{"status":"completed"}`, CopyCompleted{}},
		{"failed", `{"status":"failed","error":{"code":"quotaLimitReached","message":"full"}}`,
			CopyFailed{Error: &resource.ErrorObject{Code: "quotaLimitReached", Message: "full"}}},
		{"delete failed", `{"status":"deleteFailed"}`, CopyFailed{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Empty(t, r.Header.Get("Authorization"), "monitor URLs are pre-authenticated")
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL)

			mon, err := client.OpenCopyMonitor(srv.URL + "/jobs/1")
			require.NoError(t, err)

			status, err := mon.Poll(context.Background())
			require.NoError(t, err)

			switch want := tt.want.(type) {
			case CopyFailed:
				got, ok := status.(CopyFailed)
				require.True(t, ok, "got %T", status)

				if want.Error == nil {
					assert.Nil(t, got.Error)
				} else {
					require.NotNil(t, got.Error)
					assert.Equal(t, want.Error.Code, got.Error.Code)
					assert.Equal(t, want.Error.Message, got.Error.Message)
				}
			default:
				assert.Equal(t, tt.want, status)
			}

			assert.Equal(t, status, mon.Status())
			assert.Equal(t, status.Terminal(), mon.Status().Terminal())
		})
	}
}

func TestCopyMonitor_SeeOtherIsCompleted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", "https://graph.example/drives/d/items/new-2")
		w.WriteHeader(http.StatusSeeOther)
		fmt.Fprint(w, `{"status":"completed","resourceId":"new-2"}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	mon, err := client.OpenCopyMonitor(srv.URL + "/jobs/1")
	require.NoError(t, err)

	status, err := mon.Poll(context.Background())
	require.NoError(t, err)

	done, ok := status.(CopyCompleted)
	require.True(t, ok, "got %T", status)
	assert.Equal(t, "https://graph.example/drives/d/items/new-2", done.Location)
	require.NotNil(t, done.Item)
	assert.Equal(t, resource.ItemID("new-2"), done.Item.ID)
}

func TestCopyMonitor_UnknownStatusIsProtocolError(t *testing.T) {
	for _, body := range []string{`{"status":"exploded"}`, `{}`, `not json`} {
		t.Run(body, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, body)
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL)

			mon, err := client.OpenCopyMonitor(srv.URL + "/jobs/1")
			require.NoError(t, err)

			_, err = mon.Poll(context.Background())
			require.ErrorIs(t, err, ErrProtocol)
			assert.Equal(t, CopyNotStarted{}, mon.Status(), "failed poll must not change status")
		})
	}
}

func TestCopyMonitor_NoRequestAfterTerminal(t *testing.T) {
	var polls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := polls.Add(1)
		w.Header().Set("Content-Type", "application/json")

		if n == 1 {
			fmt.Fprint(w, `{"status":"inProgress","percentageComplete":10}`)
			return
		}

		fmt.Fprint(w, `{"status":"completed","resourceId":"x"}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	mon, err := client.OpenCopyMonitor(srv.URL + "/jobs/1")
	require.NoError(t, err)

	status, err := mon.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Terminal())

	status, err = mon.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Terminal())

	_, err = mon.Poll(context.Background())
	require.ErrorIs(t, err, ErrMisuse)
	assert.Equal(t, int32(2), polls.Load())
}

func TestCopyMonitor_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	mon, err := client.OpenCopyMonitor(srv.URL + "/jobs/1")
	require.NoError(t, err)

	_, err = mon.Poll(context.Background())
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.False(t, mon.Status().Terminal())
}

func TestOpenCopyMonitor_RejectsRelativeURL(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1")

	_, err := client.OpenCopyMonitor("/jobs/1")
	require.ErrorIs(t, err, ErrMisuse)
}
