// Package leads_tools exposes campaign replies from the outreach API as MCP
// tools. The tools need the tenant's secondary API key; tenants without one
// get a key_missing error.
package leads_tools
