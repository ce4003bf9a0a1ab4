package session

import (
	"context"

	"github.com/teemow/inboxfleet/internal/calendar"
	"github.com/teemow/inboxfleet/internal/credential"
	"github.com/teemow/inboxfleet/internal/gmail"
	"github.com/teemow/inboxfleet/internal/leads"
	"github.com/teemow/inboxfleet/internal/meet"
)

// API kinds. Each tenant gets one rate limiter per kind.
const (
	KindGmail    = "gmail"
	KindCalendar = "calendar"
	KindMeet     = "meet"
	KindLeads    = "leads"
)

// Kinds lists every API kind.
var Kinds = []string{KindGmail, KindCalendar, KindMeet, KindLeads}

// TenantContext is the per-request view of one tenant.
type TenantContext struct {
	TenantID string
	Email    string

	Gmail    *gmail.Client
	Calendar *calendar.Client
	Meet     *meet.Client
	// Leads is nil when the tenant has not stored a secondary API key.
	Leads *leads.Client

	cred *credential.Credential
}

// HasSecondaryKey reports whether the leads client is available.
func (tc *TenantContext) HasSecondaryKey() bool {
	return tc.Leads != nil
}

// Credential returns a copy of the credential the clients were built with,
// or nil when none was recorded.
func (tc *TenantContext) Credential() *credential.Credential {
	return tc.cred.Clone()
}

// SetCredential records a copy of cred as the credential behind the clients.
func (tc *TenantContext) SetCredential(cred *credential.Credential) {
	tc.cred = cred.Clone()
}

type contextKey struct{}

// WithTenantContext returns a copy of ctx carrying tc.
func WithTenantContext(ctx context.Context, tc *TenantContext) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the TenantContext stored by WithTenantContext.
func FromContext(ctx context.Context) (*TenantContext, bool) {
	tc, ok := ctx.Value(contextKey{}).(*TenantContext)
	return tc, ok && tc != nil
}
