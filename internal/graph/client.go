package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/tonimelisma/graphdrive/internal/resource"
)

// DefaultBaseURL is the Graph v1.0 service root.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// DefaultPageSize is the $top used by listings when the caller sets none.
const DefaultPageSize = 200

// Retry and backoff constants for Do.
const (
	maxRetries       = 5
	baseBackoff      = 1 * time.Second
	maxBackoff       = 60 * time.Second
	backoffFactor    = 2.0
	jitterFraction   = 0.25
	defaultUserAgent = "graphdrive/0.1"

	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 << 10
)

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer
// (graph package) per Go convention "accept interfaces, return structs".
type TokenSource interface {
	Token() (string, error)
}

// Client talks to the drive endpoints of one drive.
//
// Do retries transient failures with exponential backoff and is used for
// plain metadata calls. Execute performs exactly one round trip and is the
// only path used by the protocol drivers.
type Client struct {
	baseURL    string
	drive      DriveLocation
	httpClient *http.Client
	noRedirect *http.Client
	token      TokenSource
	logger     *slog.Logger
	userAgent  string
	pageSize   int
	meter      metric.MeterProvider
	metrics    *clientMetrics

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithPageSize sets the default $top for listings.
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithMeterProvider records request metrics to mp instead of the global
// OpenTelemetry provider.
func WithMeterProvider(mp metric.MeterProvider) ClientOption {
	return func(c *Client) {
		if mp != nil {
			c.meter = mp
		}
	}
}

// NewClient creates a Graph API client bound to drive.
// baseURL is typically DefaultBaseURL.
func NewClient(
	baseURL string, drive DriveLocation, httpClient *http.Client, token TokenSource, logger *slog.Logger,
	opts ...ClientOption,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if drive.IsZero() {
		drive = MyDrive()
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		drive:      drive,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		userAgent:  defaultUserAgent,
		pageSize:   DefaultPageSize,
		meter:      otel.GetMeterProvider(),
		sleepFunc:  timeSleep,
	}

	for _, opt := range opts {
		opt(c)
	}

	// Copy monitors must see the 303 themselves rather than have the
	// transport follow it to the created item.
	nr := *httpClient
	nr.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	c.noRedirect = &nr

	m, err := newClientMetrics(c.meter.Meter(meterName))
	if err != nil {
		logger.Warn("request metrics disabled", slog.String("error", err.Error()))
	}

	c.metrics = m

	return c
}

// Drive returns the drive this client is bound to.
func (c *Client) Drive() DriveLocation { return c.drive }

// Request describes one HTTP round trip.
type Request struct {
	// Op labels the request in logs and metrics, e.g. "upload_chunk".
	Op     string
	Method string
	// URL is absolute. Use Client.URL to build one from an API path.
	URL    string
	Header http.Header
	Body   io.Reader
	// ContentLength is sent verbatim when positive.
	ContentLength int64
	// Unauthenticated omits the bearer token. Pre-authenticated URLs
	// (upload sessions, copy monitors) reject requests that carry one.
	Unauthenticated bool
	// NoRedirect returns 3xx responses instead of following them.
	NoRedirect bool
	// Accept lists non-2xx status codes returned as responses, not errors.
	Accept []int
}

// URL joins an API path to the service root.
func (c *Client) URL(path string) string {
	return c.baseURL + path
}

// itemURL builds the URL of a sub-resource of item in the bound drive.
func (c *Client) itemURL(item ItemLocation, suffix string) string {
	return c.baseURL + c.drive.Path() + item.Path() + suffix
}

// Execute performs exactly one round trip. A response is returned only for
// 2xx statuses and statuses listed in req.Accept; the caller closes its body.
// Everything else becomes *TransportError or *APIError.
func (c *Client) Execute(ctx context.Context, req *Request) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, req.Body)
	if err != nil {
		return nil, &TransportError{Method: req.Method, Err: fmt.Errorf("creating request: %w", err)}
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	if !req.Unauthenticated {
		if c.token == nil {
			op := req.Op
			if op == "" {
				op = req.Method
			}

			return nil, misuse(op, "authenticated request on a client without a token source")
		}

		tok, tokErr := c.token.Token()
		if tokErr != nil {
			return nil, &TransportError{Method: req.Method, Err: fmt.Errorf("obtaining token: %w", tokErr)}
		}

		httpReq.Header.Set("Authorization", "Bearer "+tok)
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("client-request-id", uuid.NewString())

	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if req.ContentLength > 0 {
		httpReq.ContentLength = req.ContentLength
	}

	hc := c.httpClient
	if req.NoRedirect {
		hc = c.noRedirect
	}

	start := time.Now()
	resp, err := hc.Do(httpReq)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	c.metrics.recordRequest(ctx, req.Op, req.Method, status, time.Since(start))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &TransportError{Method: req.Method, Err: ctxErr}
		}

		return nil, &TransportError{Method: req.Method, Err: err}
	}

	c.logger.Debug("graph round trip",
		slog.String("op", req.Op),
		slog.String("method", req.Method),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", resp.Header.Get("request-id")),
	)

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	if slices.Contains(req.Accept, resp.StatusCode) {
		return resp, nil
	}

	return nil, errorFromResponse(req.Method, resp)
}

// errorFromResponse consumes and closes resp.Body.
func errorFromResponse(method string, resp *http.Response) error {
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var env resource.ErrorResponse
	if readErr == nil && len(body) > 0 && json.Unmarshal(body, &env) == nil && env.Error != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("request-id"),
			Object:     env.Error,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	return &TransportError{Method: method, StatusCode: resp.StatusCode, Err: readErr}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}

	seconds, err := strconv.Atoi(v)
	if err != nil || seconds <= 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}

// Do executes req, retrying transient failures with exponential backoff.
// A relative req.URL is joined to the service root. A non-nil body must be
// an io.Seeker so it can be rewound between attempts.
func (c *Client) Do(ctx context.Context, req *Request) (*http.Response, error) {
	attemptReq := *req
	if strings.HasPrefix(attemptReq.URL, "/") {
		attemptReq.URL = c.URL(attemptReq.URL)
	}

	var attempt int

	for {
		if attempt > 0 {
			if err := rewindBody(attemptReq.Body); err != nil {
				return nil, fmt.Errorf("graph: %s %s: %w", req.Method, req.Op, err)
			}
		}

		resp, err := c.Execute(ctx, &attemptReq)
		if err == nil {
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("graph: request canceled: %w", ctx.Err())
		}

		if !IsRetryable(err) || attempt >= maxRetries {
			if attempt > 0 {
				c.logger.Error("request failed after retries",
					slog.String("op", req.Op),
					slog.String("method", req.Method),
					slog.Int("attempts", attempt+1),
					slog.String("error", err.Error()),
				)
			}

			return nil, err
		}

		backoff := c.calcBackoff(attempt)
		if ra, ok := RetryAfter(err); ok {
			backoff = ra
		}

		c.logger.Warn("retrying after transient error",
			slog.String("op", req.Op),
			slog.String("method", req.Method),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)
		c.metrics.recordRetry(ctx, req.Method)

		if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil, fmt.Errorf("graph: request canceled: %w", sleepErr)
		}

		attempt++
	}
}

func rewindBody(body io.Reader) error {
	if body == nil {
		return nil
	}

	s, ok := body.(io.Seeker)
	if !ok {
		return errors.New("request body cannot be rewound for retry")
	}

	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding request body: %w", err)
	}

	return nil
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// jsonBody encodes v for use as a request body.
func jsonBody(v any) (*bytes.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("graph: encoding request: %w", err)
	}

	return bytes.NewReader(data), nil
}

// decodeJSON decodes resp.Body into v and closes it. A body that is not the
// expected JSON is a protocol violation.
func decodeJSON(op string, resp *http.Response, v any) error {
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return protocolErr(op, "decoding response body", err)
	}

	return nil
}

// drainClose discards the rest of body so the connection can be reused.
func drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBody))
	body.Close()
}
