// Package calendar_tools provides MCP tools for the caller's Google Calendar.
//
//   - calendar_list_events: list events in a time window
//   - calendar_create_event: create an event, optionally with a Meet link
//     (not registered in read-only mode)
package calendar_tools
