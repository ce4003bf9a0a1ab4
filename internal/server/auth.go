package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/teemow/inboxfleet/internal/apperrors"
	"github.com/teemow/inboxfleet/internal/logging"
	"github.com/teemow/inboxfleet/internal/session"
)

const authRealm = "inboxfleet"

// ErrorResponse is the JSON body of an authentication failure.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// RequireSession authenticates the bearer session token of every request
// and stores the resolved TenantContext in the request context.
//
// Failures that only the end user can fix are answered with 401 and an
// invalid_token challenge so MCP clients prompt for re-authentication.
func RequireSession(resolver TenantResolver, logger *slog.Logger, next http.Handler) http.Handler {
	logger = logging.OrDefault(logger)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm=%q`, authRealm))
			writeError(w, http.StatusUnauthorized, "missing_token", "Missing Authorization header")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			unauthorized(w, "Invalid Authorization header format")
			return
		}

		tc, err := resolver.BuildContext(r.Context(), token)
		if err != nil {
			switch {
			case apperrors.RequiresReauth(err):
				unauthorized(w, reauthMessage(err))
			case errors.Is(err, context.Canceled):
				// Client went away.
			default:
				logger.Error("failed to resolve session", logging.Err(err))
				writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable",
					"The session could not be resolved. Please try again in a moment.")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(session.WithTenantContext(r.Context(), tc)))
	})
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(
		`Bearer realm=%q, error="invalid_token", error_description=%q`, authRealm, description))
	writeError(w, http.StatusUnauthorized, "invalid_token", description)
}

// reauthMessage converts a credential failure into an actionable message.
func reauthMessage(err error) string {
	switch apperrors.KindOf(err) {
	case apperrors.KindCorruptCredentials:
		return "Stored Google credentials are unusable. Please reconnect your account."
	case apperrors.KindRefresh:
		return "Google access could not be renewed. Please reconnect your account."
	default:
		return "Session token is invalid or expired. Please reconnect your account."
	}
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, ErrorResponse{Error: code, ErrorDescription: description})
}
