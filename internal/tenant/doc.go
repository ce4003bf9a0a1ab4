// Package tenant implements the credential store: one row per end user
// holding the encrypted OAuth credential, an optional encrypted secondary
// API key and the user's opaque session token.
//
// Sessions expire 90 days after each consent. A session whose expiry is at
// or before the current time is invisible to GetTenantBySession and is
// removed by PurgeExpiredSessions.
package tenant
