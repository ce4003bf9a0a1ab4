// Package meet_tools provides read-only MCP tools for Google Meet
// conference records and their transcripts.
package meet_tools
