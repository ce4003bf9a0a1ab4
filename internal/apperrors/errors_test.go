package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := &Error{Kind: KindServer, Op: "gmail.list", Status: 503, Attempts: 3}
	wrapped := fmt.Errorf("tool failed: %w", err)

	assert.True(t, errors.Is(wrapped, ErrServer))
	assert.False(t, errors.Is(wrapped, ErrAuth))
	assert.Equal(t, KindServer, KindOf(wrapped))
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "kind only",
			err:  &Error{Kind: KindKeyMissing},
			want: "key_missing",
		},
		{
			name: "op status attempts",
			err:  &Error{Kind: KindServer, Op: "leads.list_replies", Status: 500, Attempts: 3},
			want: "leads.list_replies: server_error (status 500) after 3 attempts",
		},
		{
			name: "message and cause",
			err:  &Error{Kind: KindAuth, Message: "invalid or expired session token", Err: errors.New("not found")},
			want: "auth_error: invalid or expired session token: not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindDecrypt, "secret.decrypt", cause)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestRequiresReauth(t *testing.T) {
	assert.True(t, RequiresReauth(New(KindAuth, "", "")))
	assert.True(t, RequiresReauth(fmt.Errorf("x: %w", New(KindRefresh, "", ""))))
	assert.True(t, RequiresReauth(New(KindCorruptCredentials, "", "")))
	assert.False(t, RequiresReauth(New(KindServer, "", "")))
	assert.False(t, RequiresReauth(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
