package meet_tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxfleet/internal/server"
	"github.com/teemow/inboxfleet/internal/session"
	"github.com/teemow/inboxfleet/internal/tools/common"
)

// RegisterMeetTools registers all Meet-related tools with the MCP server.
// Meet access is read-only, so readOnly changes nothing.
func RegisterMeetTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	listConferencesTool := mcp.NewTool("meet_list_conferences",
		mcp.WithDescription("List recent Google Meet conference records"),
		mcp.WithString("filter",
			mcp.Description(`Meet API filter, e.g. 'start_time>="2026-01-01T00:00:00Z"'`),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of records to return (default: 25)"),
		),
	)
	s.AddTool(listConferencesTool, common.InstrumentedToolHandler("meet_list_conferences", sc, handleListConferences))

	listTranscriptsTool := mcp.NewTool("meet_list_transcripts",
		mcp.WithDescription("List the transcripts of a Google Meet conference"),
		mcp.WithString("conference_record",
			mcp.Required(),
			mcp.Description("Conference record name (e.g., 'conferenceRecords/CONF_ID')"),
		),
	)
	s.AddTool(listTranscriptsTool, common.InstrumentedToolHandler("meet_list_transcripts", sc, handleListTranscripts))

	getTranscriptTool := mcp.NewTool("meet_get_transcript",
		mcp.WithDescription("Get the text of a Google Meet transcript with speaker and timing per entry"),
		mcp.WithString("transcript",
			mcp.Required(),
			mcp.Description("Transcript name (e.g., 'conferenceRecords/CONF_ID/transcripts/TRANSCRIPT_ID')"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of entries to return (default: all)"),
		),
	)
	s.AddTool(getTranscriptTool, common.InstrumentedToolHandler("meet_get_transcript", sc, handleGetTranscript))

	return nil
}

func handleListConferences(ctx context.Context, request mcp.CallToolRequest, tc *session.TenantContext) (*mcp.CallToolResult, error) {
	filter := request.GetString("filter", "")
	maxResults := request.GetInt("max_results", 0)
	if maxResults < 0 {
		return mcp.NewToolResultError("max_results must not be negative"), nil
	}

	records, err := tc.Meet.ListConferenceRecords(ctx, filter, maxResults)
	if err != nil {
		return nil, err
	}
	return common.JSONResult(map[string]any{
		"count":             len(records),
		"conferenceRecords": records,
	})
}

func handleListTranscripts(ctx context.Context, request mcp.CallToolRequest, tc *session.TenantContext) (*mcp.CallToolResult, error) {
	record, err := request.RequireString("conference_record")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	transcripts, err := tc.Meet.ListTranscripts(ctx, record)
	if err != nil {
		return nil, err
	}
	return common.JSONResult(map[string]any{
		"count":       len(transcripts),
		"transcripts": transcripts,
	})
}

func handleGetTranscript(ctx context.Context, request mcp.CallToolRequest, tc *session.TenantContext) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("transcript")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	maxResults := request.GetInt("max_results", 0)

	entries, err := tc.Meet.ListTranscriptEntries(ctx, name, maxResults)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&text, "[%s] %s: %s\n", e.StartTime.Format("15:04:05"), e.Participant, e.Text)
	}
	return common.JSONResult(map[string]any{
		"transcript": name,
		"count":      len(entries),
		"text":       text.String(),
		"entries":    entries,
	})
}
