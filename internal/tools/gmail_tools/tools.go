package gmail_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxfleet/internal/gmail"
	"github.com/teemow/inboxfleet/internal/server"
	"github.com/teemow/inboxfleet/internal/session"
	"github.com/teemow/inboxfleet/internal/tools/batch"
	"github.com/teemow/inboxfleet/internal/tools/common"
)

// RegisterGmailTools registers all Gmail-related tools with the MCP server.
func RegisterGmailTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	listMessagesTool := mcp.NewTool("gmail_list_messages",
		mcp.WithDescription("List Gmail messages matching a query, newest first"),
		mcp.WithString("query",
			mcp.Description("Gmail search query (e.g., 'in:inbox is:unread', 'from:user@example.com')"),
		),
		mcp.WithString("label_ids",
			mcp.Description("Comma-separated label IDs to filter by (e.g., 'INBOX,UNREAD')"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of messages to return (default: 100)"),
		),
	)
	s.AddTool(listMessagesTool, common.InstrumentedToolHandler("gmail_list_messages", sc, handleListMessages))

	getMessageTool := mcp.NewTool("gmail_get_message",
		mcp.WithDescription("Get one or more Gmail messages including their plain text body"),
		mcp.WithString("message_id",
			mcp.Required(),
			mcp.Description("Message ID (string) or array of message IDs"),
		),
	)
	s.AddTool(getMessageTool, common.InstrumentedToolHandler("gmail_get_message", sc, handleGetMessage))

	if err := RegisterEmailTools(s, sc, readOnly); err != nil {
		return fmt.Errorf("failed to register email tools: %w", err)
	}
	return nil
}

func handleListMessages(ctx context.Context, request mcp.CallToolRequest, tc *session.TenantContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	opts := gmail.ListOptions{}
	if q, ok := args["query"].(string); ok {
		opts.Query = q
	}
	if labels, ok := args["label_ids"].(string); ok {
		opts.LabelIDs = splitList(labels)
	}
	if n, ok := args["max_results"].(float64); ok {
		if n < 1 {
			return mcp.NewToolResultError("max_results must be at least 1"), nil
		}
		opts.MaxResults = int(n)
	}

	messages, err := tc.Gmail.ListMessages(ctx, opts)
	if err != nil {
		return nil, err
	}
	return common.JSONResult(map[string]any{
		"count":    len(messages),
		"messages": messages,
	})
}

func handleGetMessage(ctx context.Context, request mcp.CallToolRequest, tc *session.TenantContext) (*mcp.CallToolResult, error) {
	ids, err := batch.ParseStringOrArray(request.GetArguments()["message_id"], "message_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(ids) == 1 {
		msg, err := tc.Gmail.GetMessage(ctx, ids[0])
		if err != nil {
			return nil, err
		}
		return common.JSONResult(msg)
	}

	results := batch.Process(ctx, ids, batch.DefaultConcurrency, tc.Gmail.GetMessage, common.ErrorMessage)
	return mcp.NewToolResultText(batch.FormatResults(results)), nil
}
