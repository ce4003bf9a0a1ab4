package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/inboxfleet/internal/apperrors"
)

// JSONResult renders v as indented JSON text.
func JSONResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to format result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ErrorResult turns err into an error result whose text starts with the
// error kind, so clients can branch on it without parsing prose.
func ErrorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(ErrorMessage(err))
}

// ErrorMessage formats err for a tool result.
func ErrorMessage(err error) string {
	var ae *apperrors.Error
	if !errors.As(err, &ae) {
		return err.Error()
	}

	var hint string
	switch {
	case apperrors.RequiresReauth(err):
		hint = "reconnect the account to continue"
	case ae.Kind == apperrors.KindRateLimitExhausted:
		hint = "the remote API is rate limiting this account, try again later"
	case ae.Kind == apperrors.KindServer, ae.Kind == apperrors.KindTimeout:
		hint = "the remote API is temporarily unavailable"
	case ae.Kind == apperrors.KindNotFound:
		hint = "the requested resource does not exist"
	case ae.Kind == apperrors.KindKeyMissing:
		hint = "no API key is configured for this service"
	default:
		return fmt.Sprintf("%s: %s", ae.Kind, ae.Error())
	}
	return fmt.Sprintf("%s: %s (%s)", ae.Kind, hint, ae.Error())
}

// ParseTime parses an optional RFC 3339 argument. An empty value yields
// the zero time.
func ParseTime(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp, e.g. 2026-01-02T15:04:05Z: %w", name, err)
	}
	return t, nil
}
