package graph

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/tonimelisma/graphdrive/internal/graph"

// Metric attribute keys.
const (
	attrMethod    = "method"
	attrStatus    = "status"
	attrOperation = "operation"
	attrResult    = "result"
)

// clientMetrics records one counter increment and one duration sample per
// HTTP round trip issued by the client.
type clientMetrics struct {
	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram
	retriesTotal    metric.Int64Counter
}

func newClientMetrics(meter metric.Meter) (*clientMetrics, error) {
	m := &clientMetrics{}

	var err error

	m.requestsTotal, err = meter.Int64Counter(
		"graph_requests_total",
		metric.WithDescription("Total number of Graph API requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph_requests_total counter: %w", err)
	}

	m.requestDuration, err = meter.Float64Histogram(
		"graph_request_duration_seconds",
		metric.WithDescription("Graph API request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph_request_duration_seconds histogram: %w", err)
	}

	m.retriesTotal, err = meter.Int64Counter(
		"graph_retries_total",
		metric.WithDescription("Total number of retried Graph API requests"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph_retries_total counter: %w", err)
	}

	return m, nil
}

// recordRequest records a finished round trip. status is 0 when no response
// was received.
func (m *clientMetrics) recordRequest(ctx context.Context, op, method string, status int, d time.Duration) {
	if m == nil {
		return
	}

	result := "ok"

	switch {
	case status == 0:
		result = "transport_error"
	case status >= 400:
		result = "error"
	}

	attrs := metric.WithAttributes(
		attribute.String(attrOperation, op),
		attribute.String(attrMethod, method),
		attribute.String(attrStatus, strconv.Itoa(status)),
		attribute.String(attrResult, result),
	)

	m.requestsTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *clientMetrics) recordRetry(ctx context.Context, method string) {
	if m == nil {
		return
	}

	m.retriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrMethod, method)))
}
