package leads_tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxfleet/internal/apperrors"
	"github.com/teemow/inboxfleet/internal/server"
	"github.com/teemow/inboxfleet/internal/session"
	"github.com/teemow/inboxfleet/internal/tools/common"
)

// RegisterLeadsTools registers the outreach tools with the MCP server.
func RegisterLeadsTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	listRepliesTool := mcp.NewTool("leads_list_replies",
		mcp.WithDescription("List the latest reply from each lead, most recent first"),
		mcp.WithString("campaign_id",
			mcp.Description("Only replies to this campaign"),
		),
		mcp.WithString("since",
			mcp.Description("Only leads whose latest reply is at or after this time (RFC 3339)"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of replies to return (default: all)"),
		),
	)
	s.AddTool(listRepliesTool, common.InstrumentedToolHandler("leads_list_replies", sc, handleListReplies))
	return nil
}

func handleListReplies(ctx context.Context, request mcp.CallToolRequest, tc *session.TenantContext) (*mcp.CallToolResult, error) {
	if !tc.HasSecondaryKey() {
		return common.ErrorResult(apperrors.New(apperrors.KindKeyMissing, "leads.replies.list",
			"no outreach API key is stored for this account")), nil
	}

	since, err := common.ParseTime("since", request.GetString("since", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	maxResults := request.GetInt("max_results", 0)
	if maxResults < 0 {
		return mcp.NewToolResultError("max_results must not be negative"), nil
	}

	replies, err := tc.Leads.ListReplies(ctx, request.GetString("campaign_id", ""), since)
	if err != nil {
		return nil, err
	}
	total := len(replies)
	if maxResults > 0 && len(replies) > maxResults {
		replies = replies[:maxResults]
	}
	return common.JSONResult(map[string]any{
		"total":   total,
		"count":   len(replies),
		"replies": replies,
	})
}
