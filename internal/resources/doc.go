// Package resources provides MCP resources describing the tenant a session
// belongs to. Resources are read-only data sources that MCP clients can
// fetch; each read resolves the caller's tenant the same way a tool call
// does.
package resources
