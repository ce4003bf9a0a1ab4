// Package cmd implements the command-line interface for inboxfleet.
//
// This package provides the following commands:
//   - serve: start the MCP server (stdio or streamable HTTP)
//   - tenant: import, show, update and revoke tenants in the credential store
//   - sessions purge: delete tenants whose session has expired
//   - keygen: print a new credential encryption key
//   - generate-docs: generate markdown documentation for all MCP tools
//   - version: display version information
package cmd
