// Package retry runs remote API calls under one shared policy.
//
// Every attempt passes through the caller's rate limiter first. Failures
// are classified once, here, by HTTP status: 401 and 404 fail fast, 429,
// 500, 503 and network timeouts are retried with exponential backoff, and
// anything else fails fast. When the policy gives up the caller receives a
// typed *apperrors.Error, never a sentinel value.
package retry
