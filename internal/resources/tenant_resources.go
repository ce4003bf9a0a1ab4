package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxfleet/internal/server"
)

const (
	// ProfileURI describes the tenant and its stored grants.
	ProfileURI = "tenant://profile"
	// MailboxURI summarises the tenant's Gmail mailbox.
	MailboxURI = "tenant://gmail/mailbox"
)

// TenantProfile is served at ProfileURI. It never carries secrets.
type TenantProfile struct {
	TenantID        string     `json:"tenant_id"`
	Email           string     `json:"email"`
	Scopes          []string   `json:"scopes"`
	TokenExpiry     *time.Time `json:"token_expiry,omitempty"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	HasSecondaryKey bool       `json:"has_secondary_key"`
}

// RegisterTenantResources registers the tenant resources on s.
func RegisterTenantResources(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	s.AddResource(mcp.NewResource(
		ProfileURI,
		"Tenant Profile",
		mcp.WithResourceDescription("The account this session acts for, its granted scopes and whether an outreach API key is stored"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleProfile(ctx, request, sc)
	})

	s.AddResource(mcp.NewResource(
		MailboxURI,
		"Gmail Mailbox",
		mcp.WithResourceDescription("Message and thread totals of the tenant's Gmail mailbox"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleMailbox(ctx, request, sc)
	})

	return nil
}

func handleProfile(ctx context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	tc, err := sc.TenantContext(ctx)
	if err != nil {
		return nil, err
	}

	profile := TenantProfile{
		TenantID:        tc.TenantID,
		Email:           tc.Email,
		Scopes:          []string{},
		HasSecondaryKey: tc.HasSecondaryKey(),
	}
	if cred := tc.Credential(); cred != nil {
		profile.Scopes = cred.Scopes
		profile.HasRefreshToken = cred.HasRefreshToken()
		if !cred.Expiry.IsZero() {
			profile.TokenExpiry = &cred.Expiry
		}
	}
	return jsonContents(request.Params.URI, profile)
}

func handleMailbox(ctx context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	tc, err := sc.TenantContext(ctx)
	if err != nil {
		return nil, err
	}

	profile, err := tc.Gmail.GetProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get mailbox profile: %w", err)
	}
	return jsonContents(request.Params.URI, profile)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
