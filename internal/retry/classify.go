package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/teemow/inboxfleet/internal/apperrors"
)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// Classification is the outcome of inspecting one failed attempt.
type Classification struct {
	// Kind is the error kind surfaced if no further attempt is made.
	Kind apperrors.Kind
	// Status is the HTTP status, 0 for network-level failures.
	Status int
	// Retryable reports whether another attempt may succeed.
	Retryable bool
}

// Classify maps a failed attempt to the retry policy:
//
//	401            fail fast, auth_error
//	404            fail fast, not_found
//	429            retry, rate_limit_exhausted when attempts run out
//	500, 503       retry, server_error when attempts run out
//	network timeout retry, timeout when attempts run out
//	anything else  fail fast, unclassified_http_error
//
// parent is the caller's context. A deadline on parent is the caller giving
// up, not a remote timeout, and is never retried.
func Classify(parent context.Context, err error) Classification {
	if status, ok := StatusOf(err); ok {
		return classifyStatus(status)
	}

	if parent.Err() == nil && isTimeout(err) {
		return Classification{Kind: apperrors.KindTimeout, Retryable: true}
	}

	return Classification{Kind: apperrors.KindUnclassifiedHTTP}
}

func classifyStatus(status int) Classification {
	switch status {
	case http.StatusUnauthorized:
		return Classification{Kind: apperrors.KindAuth, Status: status}
	case http.StatusNotFound:
		return Classification{Kind: apperrors.KindNotFound, Status: status}
	case http.StatusTooManyRequests:
		return Classification{Kind: apperrors.KindRateLimitExhausted, Status: status, Retryable: true}
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		return Classification{Kind: apperrors.KindServer, Status: status, Retryable: true}
	default:
		return Classification{Kind: apperrors.KindUnclassifiedHTTP, Status: status}
	}
}

// StatusOf extracts an HTTP status code from err's chain.
func StatusOf(err error) (int, bool) {
	var coder StatusCoder
	if errors.As(err, &coder) && coder.HTTPStatus() != 0 {
		return coder.HTTPStatus(), true
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code != 0 {
		return gerr.Code, true
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		return rerr.Response.StatusCode, true
	}

	var aerr *apperrors.Error
	if errors.As(err, &aerr) && aerr.Status != 0 {
		return aerr.Status, true
	}

	return 0, false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
