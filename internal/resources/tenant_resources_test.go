package resources

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/teemow/inboxfleet/internal/credential"
	"github.com/teemow/inboxfleet/internal/session"
	"github.com/teemow/inboxfleet/internal/tools/tooltest"
)

func readRequest(uri string) mcp.ReadResourceRequest {
	var req mcp.ReadResourceRequest
	req.Params.URI = uri
	return req
}

func text(t *testing.T, contents []mcp.ResourceContents) string {
	t.Helper()
	require.Len(t, contents, 1)
	tr, ok := contents[0].(*mcp.TextResourceContents)
	require.True(t, ok, "expected text contents, got %T", contents[0])
	assert.Equal(t, "application/json", tr.MIMEType)
	return tr.Text
}

func TestProfileResource(t *testing.T) {
	sc := tooltest.NewServerContext(t, true)
	tc := tooltest.NewTenant(t, http.NotFoundHandler(), "lead-key")
	expiry := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tc.SetCredential(&credential.Credential{
		Token:        "ya29.secret",
		RefreshToken: "1//refresh",
		Scopes:       []string{"https://www.googleapis.com/auth/gmail.readonly"},
		Expiry:       expiry,
	})

	ctx := session.WithTenantContext(context.Background(), tc)
	contents, err := handleProfile(ctx, readRequest(ProfileURI), sc)
	require.NoError(t, err)

	body := text(t, contents)
	assert.NotContains(t, body, "ya29.secret")
	assert.NotContains(t, body, "1//refresh")

	var p TenantProfile
	require.NoError(t, json.Unmarshal([]byte(body), &p))
	assert.Equal(t, tooltest.TenantID, p.TenantID)
	assert.Equal(t, tooltest.Email, p.Email)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/gmail.readonly"}, p.Scopes)
	assert.True(t, p.HasRefreshToken)
	assert.True(t, p.HasSecondaryKey)
	require.NotNil(t, p.TokenExpiry)
	assert.True(t, expiry.Equal(*p.TokenExpiry))
}

func TestProfileResourceWithoutCredential(t *testing.T) {
	sc := tooltest.NewServerContext(t, true)
	tc := tooltest.NewTenant(t, http.NotFoundHandler(), "")

	ctx := session.WithTenantContext(context.Background(), tc)
	contents, err := handleProfile(ctx, readRequest(ProfileURI), sc)
	require.NoError(t, err)

	var p TenantProfile
	require.NoError(t, json.Unmarshal([]byte(text(t, contents)), &p))
	assert.Empty(t, p.Scopes)
	assert.False(t, p.HasSecondaryKey)
	assert.Nil(t, p.TokenExpiry)
}

func TestMailboxResource(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		tooltest.WriteJSON(w, &gmailapi.Profile{EmailAddress: tooltest.Email, MessagesTotal: 1200, ThreadsTotal: 300})
	})
	sc := tooltest.NewServerContext(t, true)
	tc := tooltest.NewTenant(t, mux, "")

	ctx := session.WithTenantContext(context.Background(), tc)
	contents, err := handleMailbox(ctx, readRequest(MailboxURI), sc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"emailAddress":"user@example.com","messagesTotal":1200,"threadsTotal":300}`, text(t, contents))
}

func TestResourcesRequireTenant(t *testing.T) {
	sc := tooltest.NewServerContext(t, true)

	_, err := handleProfile(context.Background(), readRequest(ProfileURI), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth_error")

	_, err = handleMailbox(context.Background(), readRequest(MailboxURI), sc)
	require.Error(t, err)
}
