package gmail_tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxfleet/internal/gmail"
	"github.com/teemow/inboxfleet/internal/server"
	"github.com/teemow/inboxfleet/internal/session"
	"github.com/teemow/inboxfleet/internal/tools/common"
)

// RegisterEmailTools registers the tools that send mail. They are skipped
// in read-only mode.
func RegisterEmailTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	if readOnly {
		return nil
	}

	sendEmailTool := mcp.NewTool("gmail_send_email",
		mcp.WithDescription("Send an email from the caller's Gmail account"),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Comma-separated recipient addresses"),
		),
		mcp.WithString("cc",
			mcp.Description("Comma-separated CC addresses"),
		),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Subject line"),
		),
		mcp.WithString("body",
			mcp.Required(),
			mcp.Description("Message body"),
		),
		mcp.WithBoolean("is_html",
			mcp.Description("Send the body as HTML (default: false)"),
		),
	)
	s.AddTool(sendEmailTool, common.InstrumentedToolHandler("gmail_send_email", sc, handleSendEmail))
	return nil
}

func handleSendEmail(ctx context.Context, request mcp.CallToolRequest, tc *session.TenantContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	toStr, ok := args["to"].(string)
	if !ok || strings.TrimSpace(toStr) == "" {
		return mcp.NewToolResultError("'to' field is required"), nil
	}
	subject, ok := args["subject"].(string)
	if !ok || subject == "" {
		return mcp.NewToolResultError("'subject' field is required"), nil
	}
	body, ok := args["body"].(string)
	if !ok || body == "" {
		return mcp.NewToolResultError("'body' field is required"), nil
	}

	msg := gmail.EmailMessage{
		To:      splitList(toStr),
		Subject: subject,
		Body:    body,
	}
	if cc, ok := args["cc"].(string); ok {
		msg.Cc = splitList(cc)
	}
	if isHTML, ok := args["is_html"].(bool); ok {
		msg.IsHTML = isHTML
	}

	id, err := tc.Gmail.SendMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	return common.JSONResult(map[string]any{
		"id":         id,
		"recipients": len(msg.To) + len(msg.Cc),
	})
}

// splitList splits a comma-separated argument, dropping blanks.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
