package common

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/inboxfleet/internal/instrumentation"
	"github.com/teemow/inboxfleet/internal/logging"
	"github.com/teemow/inboxfleet/internal/server"
	"github.com/teemow/inboxfleet/internal/session"
)

// TenantHandler handles one tool call on behalf of a resolved tenant.
type TenantHandler func(ctx context.Context, request mcp.CallToolRequest, tc *session.TenantContext) (*mcp.CallToolResult, error)

// InstrumentedToolHandler resolves the caller's tenant, runs handler and
// records the invocation in metrics and the audit log.
//
// Errors returned by handler become error results so that the client sees
// a readable message instead of a protocol failure.
//
// Usage:
//
//	s.AddTool(myTool, common.InstrumentedToolHandler("my_tool", sc, handler))
func InstrumentedToolHandler(toolName string, sc *server.ServerContext, handler TenantHandler) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := instrumentation.StartToolSpan(ctx, toolName)
		defer span.End()
		start := time.Now()

		tc, err := sc.TenantContext(ctx)
		if err != nil {
			sc.Metrics().RecordToolInvocation(ctx, toolName, instrumentation.StatusError, time.Since(start))
			sc.AuditLogger().ToolInvoked(ctx, toolName, "", "", time.Since(start), err)
			instrumentation.SetSpanError(span, err)
			return ErrorResult(err), nil
		}
		span.SetAttributes(attribute.String(instrumentation.SpanAttrTenant, tc.TenantID))

		result, err := handler(ctx, request, tc)
		d := time.Since(start)
		if err != nil {
			sc.Logger().Warn("tool call failed",
				logging.Tool(toolName),
				logging.TenantID(tc.TenantID),
				logging.Duration(d),
				logging.Err(err),
			)
			result = ErrorResult(err)
		}

		status := instrumentation.StatusSuccess
		if result != nil && result.IsError {
			status = instrumentation.StatusError
			instrumentation.SetSpanError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
		sc.Metrics().RecordToolInvocation(ctx, toolName, status, d)
		sc.AuditLogger().ToolInvoked(ctx, toolName, tc.TenantID, tc.Email, d, err)
		return result, nil
	}
}
