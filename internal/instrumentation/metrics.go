package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrAPIKind   = "api_kind"
	attrOperation = "operation"
	attrOutcome   = "outcome"
	attrReason    = "reason"
	attrResult    = "result"
	attrTool      = "tool"
	attrTenant    = "tenant_id"
)

var (
	durationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}
	waitBuckets     = []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60}
)

// Metrics records inboxfleet metrics. All methods are safe on a nil
// receiver so callers never need to check whether instrumentation is on.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	remoteCallsTotal   metric.Int64Counter
	remoteCallDuration metric.Float64Histogram
	remoteRetriesTotal metric.Int64Counter
	rateLimitWait      metric.Float64Histogram

	tokenRefreshTotal  metric.Int64Counter
	sessionResolutions metric.Int64Counter
	activeSessions     metric.Int64Gauge
	sessionsPurged     metric.Int64Counter

	paginationPages metric.Int64Histogram
	paginationLoops metric.Int64Counter

	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	detailedLabels bool
}

// NewMetrics creates every instrument on meter.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{detailedLabels: detailedLabels}
	var err error

	if m.httpRequestsTotal, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}")); err != nil {
		return nil, wrapInstrumentErr("http_requests_total", err)
	}
	if m.httpRequestDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0)); err != nil {
		return nil, wrapInstrumentErr("http_request_duration_seconds", err)
	}

	if m.remoteCallsTotal, err = meter.Int64Counter("remote_calls_total",
		metric.WithDescription("Logical remote API calls by outcome, after retries"),
		metric.WithUnit("{call}")); err != nil {
		return nil, wrapInstrumentErr("remote_calls_total", err)
	}
	if m.remoteCallDuration, err = meter.Float64Histogram("remote_call_duration_seconds",
		metric.WithDescription("Remote API call duration including retries and rate-limit waits"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...)); err != nil {
		return nil, wrapInstrumentErr("remote_call_duration_seconds", err)
	}
	if m.remoteRetriesTotal, err = meter.Int64Counter("remote_retries_total",
		metric.WithDescription("Remote API attempts that were retried"),
		metric.WithUnit("{retry}")); err != nil {
		return nil, wrapInstrumentErr("remote_retries_total", err)
	}
	if m.rateLimitWait, err = meter.Float64Histogram("rate_limit_wait_seconds",
		metric.WithDescription("Time spent waiting for a rate limiter slot"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(waitBuckets...)); err != nil {
		return nil, wrapInstrumentErr("rate_limit_wait_seconds", err)
	}

	if m.tokenRefreshTotal, err = meter.Int64Counter("oauth_token_refresh_total",
		metric.WithDescription("OAuth token refresh attempts by result"),
		metric.WithUnit("{attempt}")); err != nil {
		return nil, wrapInstrumentErr("oauth_token_refresh_total", err)
	}
	if m.sessionResolutions, err = meter.Int64Counter("session_resolutions_total",
		metric.WithDescription("Session token resolutions by result"),
		metric.WithUnit("{resolution}")); err != nil {
		return nil, wrapInstrumentErr("session_resolutions_total", err)
	}
	if m.activeSessions, err = meter.Int64Gauge("active_sessions",
		metric.WithDescription("Tenants holding a live session"),
		metric.WithUnit("{session}")); err != nil {
		return nil, wrapInstrumentErr("active_sessions", err)
	}
	if m.sessionsPurged, err = meter.Int64Counter("sessions_purged_total",
		metric.WithDescription("Expired sessions removed by the maintenance sweep"),
		metric.WithUnit("{session}")); err != nil {
		return nil, wrapInstrumentErr("sessions_purged_total", err)
	}

	if m.paginationPages, err = meter.Int64Histogram("pagination_pages",
		metric.WithDescription("Pages fetched per paginated listing"),
		metric.WithUnit("{page}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100)); err != nil {
		return nil, wrapInstrumentErr("pagination_pages", err)
	}
	if m.paginationLoops, err = meter.Int64Counter("pagination_loops_detected_total",
		metric.WithDescription("Paginated listings stopped because a page repeated"),
		metric.WithUnit("{listing}")); err != nil {
		return nil, wrapInstrumentErr("pagination_loops_detected_total", err)
	}

	if m.toolInvocationsTotal, err = meter.Int64Counter("mcp_tool_invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}")); err != nil {
		return nil, wrapInstrumentErr("mcp_tool_invocations_total", err)
	}
	if m.toolDuration, err = meter.Float64Histogram("mcp_tool_duration_seconds",
		metric.WithDescription("MCP tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...)); err != nil {
		return nil, wrapInstrumentErr("mcp_tool_duration_seconds", err)
	}

	return m, nil
}

func wrapInstrumentErr(name string, err error) error {
	return fmt.Errorf("failed to create %s instrument: %w", name, err)
}

// RecordHTTPRequest records an inbound HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordRemoteCall records the outcome of one logical remote call.
// outcome is "success" or an error kind.
func (m *Metrics) RecordRemoteCall(ctx context.Context, apiKind, operation, outcome, tenantID string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(attrAPIKind, apiKind),
		attribute.String(attrOperation, operation),
		attribute.String(attrOutcome, outcome),
	}
	if m.detailedLabels && tenantID != "" {
		attrs = append(attrs, attribute.String(attrTenant, tenantID))
	}
	m.remoteCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.remoteCallDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRemoteRetry records a failed attempt that will be retried.
// reason is the error kind of the failed attempt.
func (m *Metrics) RecordRemoteRetry(ctx context.Context, apiKind, operation, reason string) {
	if m == nil {
		return
	}
	m.remoteRetriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrAPIKind, apiKind),
		attribute.String(attrOperation, operation),
		attribute.String(attrReason, reason),
	))
}

// RecordRateLimitWait records time a caller was held by a rate limiter.
func (m *Metrics) RecordRateLimitWait(ctx context.Context, apiKind string, waited time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWait.Record(ctx, waited.Seconds(), metric.WithAttributes(attribute.String(attrAPIKind, apiKind)))
}

// RecordTokenRefresh records an OAuth refresh attempt.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.tokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordSessionResolution records a session token resolution.
func (m *Metrics) RecordSessionResolution(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.sessionResolutions.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// SetActiveSessions records the current number of live sessions.
func (m *Metrics) SetActiveSessions(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.activeSessions.Record(ctx, n)
}

// RecordSessionsPurged records sessions removed by a sweep.
func (m *Metrics) RecordSessionsPurged(ctx context.Context, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsPurged.Add(ctx, n)
}

// RecordPagination records a completed paginated listing.
func (m *Metrics) RecordPagination(ctx context.Context, apiKind, operation string, pages int, loopDetected bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrAPIKind, apiKind),
		attribute.String(attrOperation, operation),
	)
	m.paginationPages.Record(ctx, int64(pages), attrs)
	if loopDetected {
		m.paginationLoops.Add(ctx, 1, attrs)
	}
}

// RecordToolInvocation records an MCP tool invocation.
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	)
	m.toolInvocationsTotal.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
}
