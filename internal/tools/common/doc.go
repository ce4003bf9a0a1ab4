// Package common holds the pieces every tool package shares: the handler
// wrapper that resolves the caller's tenant and records metrics and audit
// events, and helpers that turn values and errors into tool results.
package common
