// Package ratelimit bounds outbound request rates with a sliding window.
//
// Each (tenant, API kind) pair owns its own Limiter, handed out by a
// Registry, so one busy tenant cannot consume another tenant's quota.
package ratelimit
