// Package instrumentation wires OpenTelemetry metrics and tracing for
// inboxfleet and emits audit events.
//
// # Metrics
//
// Remote API calls:
//   - remote_calls_total: logical calls by api_kind, operation and outcome
//   - remote_call_duration_seconds: call duration including retries
//   - remote_retries_total: retried attempts by reason
//   - rate_limit_wait_seconds: time held by the per-tenant limiter
//
// Sessions and credentials:
//   - session_resolutions_total: session lookups by result
//   - active_sessions: tenants holding a live session
//   - sessions_purged_total: sessions removed by the maintenance sweep
//   - oauth_token_refresh_total: refresh attempts by result
//
// Pagination:
//   - pagination_pages: pages fetched per listing
//   - pagination_loops_detected_total: listings stopped on a repeated page
//
// Transport:
//   - http_requests_total, http_request_duration_seconds
//   - mcp_tool_invocations_total, mcp_tool_duration_seconds
//
// Metrics are exported through Prometheus by default and served on the
// dedicated metrics listener. OTLP and stdout exporters are available.
//
// # Tracing
//
// Spans are created for tool invocations (tool.<name>) and remote calls
// (remote.<api_kind>.<operation>). Tracing is off unless TRACING_EXPORTER
// selects an exporter.
//
// # Audit
//
// AuditLogger writes audit_event records for tool calls and session
// lifecycle events. Emails are hashed unless AUDIT_LOGGING_INCLUDE_PII is
// set.
package instrumentation
