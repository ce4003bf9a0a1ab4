// Package gmail_tools exposes the caller's Gmail mailbox as MCP tools.
//
// Read tools:
//   - gmail_list_messages: list messages matching a search query
//   - gmail_get_message: fetch one or more messages with their text body
//
// Write tools, registered unless the server is read-only:
//   - gmail_send_email: send a message from the caller's mailbox
//
// Every call runs against the tenant resolved from the session token, so
// one server process serves many mailboxes without sharing state.
package gmail_tools
