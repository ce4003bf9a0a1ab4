// Package tooltest builds tenants and tool requests for handler tests.
package tooltest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/teemow/inboxfleet/internal/calendar"
	"github.com/teemow/inboxfleet/internal/gmail"
	"github.com/teemow/inboxfleet/internal/leads"
	"github.com/teemow/inboxfleet/internal/meet"
	"github.com/teemow/inboxfleet/internal/retry"
	"github.com/teemow/inboxfleet/internal/server"
	"github.com/teemow/inboxfleet/internal/session"
)

// TenantID and Email identify the tenant NewTenant builds.
const (
	TenantID = "tenant-test"
	Email    = "user@example.com"
)

// NewTenant returns a TenantContext whose clients all talk to a test server
// running h. The leads client is only set when leadsKey is non-empty.
func NewTenant(t *testing.T, h http.Handler, leadsKey string) *session.TenantContext {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	exec := func(kind string) *retry.Executor {
		return retry.New(nil, retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}, retry.WithScope(kind, TenantID))
	}

	tc := &session.TenantContext{TenantID: TenantID, Email: Email}
	var err error
	tc.Gmail, err = gmail.New(ctx, srv.Client(), exec(session.KindGmail), option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	tc.Calendar, err = calendar.New(ctx, srv.Client(), exec(session.KindCalendar), option.WithEndpoint(srv.URL+"/calendar/v3/"))
	require.NoError(t, err)
	tc.Meet, err = meet.New(ctx, srv.Client(), exec(session.KindMeet), option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	if leadsKey != "" {
		tc.Leads, err = leads.New(leadsKey, exec(session.KindLeads),
			leads.WithBaseURL(srv.URL), leads.WithHTTPClient(srv.Client()))
		require.NoError(t, err)
	}
	return tc
}

// NewServerContext returns a ServerContext without a resolver. Tool calls
// must carry their tenant in ctx.
func NewServerContext(t *testing.T, readOnly bool) *server.ServerContext {
	t.Helper()
	sc := server.NewServerContext(context.Background(), server.Config{ReadOnly: readOnly})
	t.Cleanup(func() { _ = sc.Shutdown() })
	return sc
}

// Request builds a tool call request.
func Request(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// Text returns the text of the first content item of result.
func Text(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

// Decode unmarshals the JSON text of result into v.
func Decode(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()
	require.False(t, result.IsError, Text(t, result))
	require.NoError(t, json.Unmarshal([]byte(Text(t, result)), v))
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// ToolNames lists the tools registered on s, sorted.
func ToolNames(t *testing.T, s *mcpserver.MCPServer) []string {
	t.Helper()
	names := make([]string, 0)
	for name := range s.ListTools() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
