package leads

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxfleet/internal/apperrors"
	"github.com/teemow/inboxfleet/internal/retry"
)

func testExec() *retry.Executor {
	return retry.New(nil, retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, retry.WithScope("leads", "tenant-1"))
}

func email(id, from string, at time.Time) map[string]any {
	return map[string]any{
		"id":                 id,
		"timestamp_email":    at.Format(time.RFC3339),
		"from_address_email": from,
		"subject":            "Re: intro",
		"campaign_id":        "camp-1",
		"body":               map[string]string{"text": "reply " + id},
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc, pageSize int) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New("key-123", testExec(), WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithPaging(pageSize, 10))
	require.NoError(t, err)
	return c
}

func TestListReplies_CollapsesBySender(t *testing.T) {
	base := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	pages := map[string][]map[string]any{
		"": {
			email("e1", "Ann@Example.com", base),
			email("e2", "bob@example.com", base.Add(time.Hour)),
		},
		"e2": {
			email("e3", "ann@example.com", base.Add(2*time.Hour)),
		},
	}

	var cursors []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/emails", r.URL.Path)
		assert.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))
		assert.Equal(t, "received", r.URL.Query().Get("email_type"))
		assert.Equal(t, "camp-1", r.URL.Query().Get("campaign_id"))
		cursor := r.URL.Query().Get("starting_after")
		cursors = append(cursors, cursor)
		_ = json.NewEncoder(w).Encode(map[string]any{"items": pages[cursor], "next_starting_after": "e3"})
	}, 2)

	replies, err := c.ListReplies(context.Background(), "camp-1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"", "e2"}, cursors)
	require.Len(t, replies, 2)
	assert.Equal(t, "e3", replies[0].ID)
	assert.Equal(t, "ann@example.com", replies[0].From)
	assert.Equal(t, "e2", replies[1].ID)
	assert.Equal(t, "reply e2", replies[1].Body)
}

func TestListReplies_Since(t *testing.T) {
	base := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		items := []map[string]any{
			email("old", "old@x.io", base),
			email("new", "new@x.io", base.Add(2*time.Hour)),
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	}, 10)

	replies, err := c.ListReplies(context.Background(), "", base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "new", replies[0].ID)
}

func TestListReplies_StuckCursor(t *testing.T) {
	base := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		items := []map[string]any{
			email("a", "a@x.io", base),
			email("b", "b@x.io", base.Add(time.Minute)),
			email("c", "c@x.io", base.Add(2*time.Minute)),
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	}, 3)

	replies, err := c.ListReplies(context.Background(), "", time.Time{})
	require.NoError(t, err)
	assert.Len(t, replies, 3)
	assert.Equal(t, int32(2), calls.Load())
}

func TestListReplies_Errors(t *testing.T) {
	tests := []struct {
		status    int
		wantKind  apperrors.Kind
		wantCalls int32
	}{
		{status: http.StatusUnauthorized, wantKind: apperrors.KindAuth, wantCalls: 1},
		{status: http.StatusNotFound, wantKind: apperrors.KindNotFound, wantCalls: 1},
		{status: http.StatusTooManyRequests, wantKind: apperrors.KindRateLimitExhausted, wantCalls: 3},
		{status: http.StatusInternalServerError, wantKind: apperrors.KindServer, wantCalls: 3},
		{status: http.StatusBadRequest, wantKind: apperrors.KindUnclassifiedHTTP, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"message":"nope"}`)
			}, 10)

			_, err := c.ListReplies(context.Background(), "", time.Time{})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperrors.KindOf(err))
			assert.Equal(t, tt.wantCalls, calls.Load())

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, "nope", apiErr.Message)
		})
	}
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New("", testExec())
	assert.Error(t, err)
}
