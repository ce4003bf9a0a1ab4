// Package logging provides structured logging helpers for inboxfleet.
//
// Everything logs through log/slog. The helpers here keep attribute names
// consistent and make sure tenant identity and secrets are never written in
// clear text:
//
//	logger := logging.WithTenant(logging.WithOperation(slog.Default(), "session.build_context"), tenantID)
//	logger.Info("session resolved", logging.UserHash(email))
//
// Emails are reduced to a short hash by UserHash, tokens to a length
// indicator by SanitizeToken.
package logging
