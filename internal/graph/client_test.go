package graph

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// staticToken is a test TokenSource that returns a fixed token.
type staticToken string

func (t staticToken) Token() (string, error) {
	return string(t), nil
}

// failingToken is a test TokenSource that always returns an error.
type failingToken struct{}

func (failingToken) Token() (string, error) {
	return "", errors.New("token error")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newTestClient creates a Client bound to drive "d" on the given httptest
// server, with instant retry sleeps.
func newTestClient(t *testing.T, url string, opts ...ClientOption) *Client {
	t.Helper()

	c := NewClient(url, DriveByID("d"), http.DefaultClient, staticToken("test-token"), discardLogger(), opts...)
	c.sleepFunc = noopSleep

	return c
}

func TestExecute_SetsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))

		_, err := uuid.Parse(r.Header.Get("client-request-id"))
		assert.NoError(t, err, "client-request-id must be a UUID")

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, WithUserAgent("test-agent"))
	resp, err := client.Execute(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/x"})
	require.NoError(t, err)
	resp.Body.Close()
}

func TestExecute_Unauthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// A failing token source proves the token is not even requested.
	client := NewClient(srv.URL, MyDrive(), http.DefaultClient, failingToken{}, slog.Default())
	resp, err := client.Execute(context.Background(), &Request{
		Method:          http.MethodGet,
		URL:             srv.URL,
		Unauthenticated: true,
	})
	require.NoError(t, err)
	resp.Body.Close()
}

func TestExecute_TokenError(t *testing.T) {
	client := NewClient("http://localhost", MyDrive(), http.DefaultClient, failingToken{}, slog.Default())

	_, err := client.Execute(context.Background(), &Request{Method: http.MethodGet, URL: "http://localhost/x"})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "token")
}

func TestExecute_NilTokenSourceIsMisuse(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, MyDrive(), http.DefaultClient, nil, discardLogger())

	_, err := client.Do(context.Background(), &Request{Op: "get item", Method: http.MethodGet, URL: srv.URL + "/x"})
	require.ErrorIs(t, err, ErrMisuse)
	assert.Contains(t, err.Error(), "get item")
	assert.Zero(t, hits.Load(), "nothing is sent")

	resp, err := client.Execute(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL, Unauthenticated: true})
	require.NoError(t, err)
	resp.Body.Close()
}

func TestExecute_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("request-id", "req-1")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":"itemNotFound","message":"The resource could not be found.",
			"innerError":{"code":"notFoundDetail","request-id":"req-1"}}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Execute(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "req-1", apiErr.RequestID)
	assert.Equal(t, "itemNotFound", apiErr.Object.Code)
	assert.Equal(t, "notFoundDetail", apiErr.Code())
	assert.False(t, IsRetryable(err))
}

func TestExecute_NonJSONErrorIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html>bad gateway</html>")
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Execute(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)

	var tErr *TransportError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, http.StatusBadGateway, tErr.StatusCode)
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, ErrServerError)
	assert.True(t, IsRetryable(err))
}

func TestExecute_NeverRetries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Execute(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecute_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := newTestClient(t, url)
	_, err := client.Execute(context.Background(), &Request{Method: http.MethodGet, URL: url})
	require.ErrorIs(t, err, ErrTransport)

	var tErr *TransportError
	require.ErrorAs(t, err, &tErr)
	assert.Zero(t, tErr.StatusCode)
	assert.True(t, IsRetryable(err))
}

func TestExecute_AcceptedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Execute(context.Background(), &Request{
		Method: http.MethodGet,
		URL:    srv.URL,
		Accept: []int{http.StatusNotModified},
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)
}

func TestDo_RetryOn5xx(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Do(context.Background(), &Request{Method: http.MethodGet, URL: "/me"})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_RespectsRetryAfter(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"code":"activityLimitReached"}}`)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var (
		mu     sync.Mutex
		sleeps []time.Duration
	)

	client := newTestClient(t, srv.URL)
	client.sleepFunc = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()

		sleeps = append(sleeps, d)

		return nil
	}

	resp, err := client.Do(context.Background(), &Request{Method: http.MethodGet, URL: "/me"})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []time.Duration{7 * time.Second}, sleeps)
}

func TestDo_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"error":{"code":"nameAlreadyExists"}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Do(context.Background(), &Request{Method: http.MethodGet, URL: "/x"})
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Do(context.Background(), &Request{Method: http.MethodGet, URL: "/x"})
	require.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestDo_RewindsBodyBetweenAttempts(t *testing.T) {
	var (
		calls  atomic.Int32
		mu     sync.Mutex
		bodies []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)

		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Do(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    "/x",
		Body:   strings.NewReader(`{"a":1}`),
	})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{`{"a":1}`, `{"a":1}`}, bodies)
}

func TestDo_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())

	client := newTestClient(t, srv.URL)
	client.sleepFunc = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := client.Do(ctx, &Request{Method: http.MethodGet, URL: "/x"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"throttled", &APIError{StatusCode: http.StatusTooManyRequests, Err: ErrThrottled}, true},
		{"bandwidth", &APIError{StatusCode: 509}, true},
		{"not found", &APIError{StatusCode: http.StatusNotFound, Err: ErrNotFound}, false},
		{"network", &TransportError{Method: "GET", Err: errors.New("reset")}, true},
		{"canceled", &TransportError{Method: "GET", Err: context.Canceled}, false},
		{"protocol", &ProtocolError{Op: "x", Reason: "y"}, false},
		{"misuse", &MisuseError{Op: "x", Reason: "y"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestErrorKinds(t *testing.T) {
	assert.ErrorIs(t, &ProtocolError{Op: "x", Reason: "y"}, ErrProtocol)
	assert.ErrorIs(t, &MisuseError{Op: "x", Reason: "y"}, ErrMisuse)
	assert.NotErrorIs(t, &MisuseError{Op: "x", Reason: "y"}, ErrTransport)
}

func TestExecute_RecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	client := newTestClient(t, srv.URL, WithMeterProvider(mp))

	for range 2 {
		resp, err := client.Execute(context.Background(), &Request{Op: "probe", Method: http.MethodGet, URL: srv.URL})
		require.NoError(t, err)
		resp.Body.Close()
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "graph_requests_total" {
				continue
			}

			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)

			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}

	assert.Equal(t, int64(2), total)
}
