package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
		check   func(t *testing.T, out string)
	}{
		{
			name:   "json info",
			level:  "info",
			format: "json",
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, `"msg":"hello"`)
				assert.NotContains(t, out, "hidden")
			},
		},
		{
			name:   "text debug",
			level:  "debug",
			format: "text",
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, "msg=hello")
				assert.Contains(t, out, "hidden")
			},
		},
		{name: "bad level", level: "loud", format: "text", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(&buf, tt.level, tt.format)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			logger.Debug("hidden")
			logger.Info("hello")
			tt.check(t, buf.String())
		})
	}
}

func TestOrDefault(t *testing.T) {
	assert.Same(t, slog.Default(), OrDefault(nil))
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, l, OrDefault(l))
}

func TestWithTenantAddsAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	WithTenant(WithOperation(logger, "session.build_context"), "t-1").Info("resolved")

	out := buf.String()
	assert.Contains(t, out, "operation=session.build_context")
	assert.Contains(t, out, "tenant_id=t-1")
}

func TestErr(t *testing.T) {
	attr := Err(errors.New("boom"))
	assert.Equal(t, KeyError, attr.Key)
	assert.Equal(t, "boom", attr.Value.String())

	var buf bytes.Buffer
	slog.New(slog.NewTextHandler(&buf, nil)).Info("ok", Err(nil))
	assert.NotContains(t, buf.String(), "error")
}

func TestAnonymizeEmail(t *testing.T) {
	a := AnonymizeEmail("Alice@Example.com")
	b := AnonymizeEmail(" alice@example.com ")

	assert.True(t, strings.HasPrefix(a, "user:"))
	assert.Len(t, a, len("user:")+16)
	assert.Equal(t, a, b, "normalised before hashing")
	assert.NotContains(t, a, "alice")
	assert.Empty(t, AnonymizeEmail(""))
}

func TestSanitizeToken(t *testing.T) {
	assert.Equal(t, "<empty>", SanitizeToken(""))
	assert.Equal(t, "[token:13 chars]", SanitizeToken("sess_abcdefgh"))
}

func TestExtractDomain(t *testing.T) {
	tests := map[string]string{
		"user@example.com": "example.com",
		"no-at-sign":       "",
		"a@b@c":            "",
		"":                 "",
		"user@":            "",
	}
	for in, want := range tests {
		assert.Equal(t, want, ExtractDomain(in), in)
	}
	assert.Equal(t, "user_domain", Domain("x@y.z").Key)
}

func TestAttrKeys(t *testing.T) {
	assert.Equal(t, KeyOperation, Operation("x").Key)
	assert.Equal(t, KeyTool, Tool("x").Key)
	assert.Equal(t, KeyTenantID, TenantID("x").Key)
	assert.Equal(t, KeyAPIKind, APIKind("gmail").Key)
	assert.Equal(t, int64(2), Attempt(2).Value.Int64())
	assert.Equal(t, KeyStatus, Status(StatusSuccess).Key)
}
