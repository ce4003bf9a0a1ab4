// Package apperrors defines the error kinds shared by the credential,
// execution and pagination layers.
//
// Every failure that crosses a package boundary is an *Error carrying a
// Kind. Callers match kinds with errors.Is against the exported sentinels:
//
//	if errors.Is(err, apperrors.ErrAuth) {
//		// prompt for re-authentication
//	}
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind string

const (
	KindAuth               Kind = "auth_error"
	KindCorruptCredentials Kind = "corrupt_credentials"
	KindRefresh            Kind = "refresh_error"
	KindRateLimitExhausted Kind = "rate_limit_exhausted"
	KindServer             Kind = "server_error"
	KindTimeout            Kind = "timeout"
	KindUnclassifiedHTTP   Kind = "unclassified_http_error"
	KindNotFound           Kind = "not_found"
	KindKeyMissing         Kind = "key_missing"
	KindEncryption         Kind = "encryption_error"
	KindDecrypt            Kind = "decrypt_error"
	KindPaginationLoop     Kind = "pagination_loop_detected"
	KindIntegrity          Kind = "integrity_error"
)

// Error is the typed error returned across package boundaries.
type Error struct {
	Kind Kind
	// Op names the operation that failed (e.g. "gmail.list_messages").
	Op string
	// Status is the remote HTTP status, 0 when not applicable.
	Status int
	// Attempts is the number of remote attempts made, 0 when not applicable.
	Attempts int
	Message  string
	Err      error
}

// Sentinels for errors.Is matching. Only the Kind is compared.
var (
	ErrAuth               = &Error{Kind: KindAuth}
	ErrCorruptCredentials = &Error{Kind: KindCorruptCredentials}
	ErrRefresh            = &Error{Kind: KindRefresh}
	ErrRateLimitExhausted = &Error{Kind: KindRateLimitExhausted}
	ErrServer             = &Error{Kind: KindServer}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrUnclassifiedHTTP   = &Error{Kind: KindUnclassifiedHTTP}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrKeyMissing         = &Error{Kind: KindKeyMissing}
	ErrEncryption         = &Error{Kind: KindEncryption}
	ErrDecrypt            = &Error{Kind: KindDecrypt}
	ErrPaginationLoop     = &Error{Kind: KindPaginationLoop}
	ErrIntegrity          = &Error{Kind: KindIntegrity}
)

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an error of the given kind wrapping cause.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// RequiresReauth reports whether err can only be resolved by the end user
// authenticating again.
func RequiresReauth(err error) bool {
	switch KindOf(err) {
	case KindAuth, KindCorruptCredentials, KindRefresh:
		return true
	default:
		return false
	}
}
