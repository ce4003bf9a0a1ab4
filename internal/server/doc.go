// Package server provides the MCP server context, the bearer session
// middleware and the HTTP servers of inboxfleet.
//
// # Key Components
//
// ServerContext gives tool handlers access to the tenant of the current
// call. Over HTTP the tenant is resolved by RequireSession before the MCP
// handler runs; over stdio it is resolved from the configured session
// token on every call.
//
// HTTPServer serves the streamable HTTP transport on /mcp together with
// the /healthz, /readyz and /healthz/detailed probes.
//
// MetricsServer serves Prometheus metrics on a separate port.
//
// # Authentication
//
// Clients present the opaque session token issued when the tenant was
// imported:
//
//	Authorization: Bearer sess_...
//
// Unknown or expired sessions, unusable credentials and failed token
// refreshes are answered with 401 and an invalid_token challenge.
package server
