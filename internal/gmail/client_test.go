package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/teemow/inboxfleet/internal/apperrors"
	"github.com/teemow/inboxfleet/internal/retry"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	exec := retry.New(nil, retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, retry.WithScope("gmail", "tenant-1"))
	c, err := New(context.Background(), srv.Client(), exec, option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func metadataMessage(id, subject string) *gmail.Message {
	return &gmail.Message{
		Id:           id,
		ThreadId:     "thread-" + id,
		Snippet:      "snippet " + id,
		InternalDate: 1767225600000,
		Payload: &gmail.MessagePart{Headers: []*gmail.MessagePartHeader{
			{Name: "From", Value: "Alice <alice@example.com>"},
			{Name: "Subject", Value: subject},
		}},
	}
}

func TestListMessages(t *testing.T) {
	var listCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		listCalls.Add(1)
		assert.Equal(t, "in:inbox", r.URL.Query().Get("q"))
		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(w, gmail.ListMessagesResponse{
				Messages:      []*gmail.Message{{Id: "m1"}, {Id: "m2"}},
				NextPageToken: "page-2",
			})
			return
		}
		writeJSON(w, gmail.ListMessagesResponse{Messages: []*gmail.Message{{Id: "m3"}}})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "metadata", r.URL.Query().Get("format"))
		id := r.PathValue("id")
		writeJSON(w, metadataMessage(id, "subject "+id))
	})

	c := newTestClient(t, mux)
	c.maxPages = 5

	msgs, err := c.ListMessages(context.Background(), ListOptions{Query: "in:inbox", MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "subject m2", msgs[1].Subject)
	assert.Equal(t, "Alice <alice@example.com>", msgs[0].From)
	assert.False(t, msgs[0].Date.IsZero())
	assert.Equal(t, int32(1), listCalls.Load())
}

func TestListMessages_FollowsPageTokens(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("pageToken") {
		case "":
			writeJSON(w, gmail.ListMessagesResponse{Messages: []*gmail.Message{{Id: "m1"}, {Id: "m2"}}, NextPageToken: "p2"})
		case "p2":
			writeJSON(w, gmail.ListMessagesResponse{Messages: []*gmail.Message{{Id: "m3"}}})
		default:
			t.Errorf("unexpected page token %q", r.URL.Query().Get("pageToken"))
		}
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, metadataMessage(r.PathValue("id"), "s"))
	})

	c := newTestClient(t, mux)
	msgs, err := c.ListMessages(context.Background(), ListOptions{MaxResults: 1000})
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestGetMessage_DecodesBody(t *testing.T) {
	body := base64.RawURLEncoding.EncodeToString([]byte("hello from the body"))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "full", r.URL.Query().Get("format"))
		msg := metadataMessage("m1", "Hi")
		msg.Payload.MimeType = "multipart/alternative"
		msg.Payload.Parts = []*gmail.MessagePart{
			{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("<p>x</p>"))}},
			{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: body}},
		}
		writeJSON(w, msg)
	})

	c := newTestClient(t, mux)
	msg, err := c.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "hello from the body", msg.Body)
	assert.Equal(t, "Hi", msg.Subject)
}

func TestGetMessage_NotFound(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found."}}`))
	}))

	_, err := c.GetMessage(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, &gmail.Profile{EmailAddress: "ada@example.com", MessagesTotal: 42, ThreadsTotal: 17})
	})

	c := newTestClient(t, mux)
	p, err := c.GetProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Profile{EmailAddress: "ada@example.com", MessagesTotal: 42, ThreadsTotal: 17}, p)
}

func TestSendMessage_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gmail/v1/users/me/messages/send", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"backend"}}`))
			return
		}
		var msg gmail.Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		raw, err := base64.URLEncoding.DecodeString(msg.Raw)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "To: bob@example.com\r\n")
		assert.Contains(t, string(raw), "Subject: Quarterly numbers\r\n")
		writeJSON(w, gmail.Message{Id: "sent-1"})
	}))

	id, err := c.SendMessage(context.Background(), EmailMessage{
		To:      []string{"bob@example.com"},
		Subject: "Quarterly numbers",
		Body:    "attached",
	})
	require.NoError(t, err)
	assert.Equal(t, "sent-1", id)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBuildRaw(t *testing.T) {
	_, err := buildRaw(EmailMessage{Subject: "s", Body: "b"})
	assert.Error(t, err)
	_, err = buildRaw(EmailMessage{To: []string{"a@b.c"}, Body: "b"})
	assert.Error(t, err)
	_, err = buildRaw(EmailMessage{To: []string{"a@b.c"}, Subject: "s"})
	assert.Error(t, err)

	raw, err := buildRaw(EmailMessage{To: []string{"a@b.c"}, Cc: []string{"c@d.e"}, Subject: "Grüße", Body: "<b>x</b>", IsHTML: true})
	require.NoError(t, err)
	decoded, err := base64.URLEncoding.DecodeString(raw)
	require.NoError(t, err)
	text := string(decoded)
	assert.Contains(t, text, "Cc: c@d.e\r\n")
	assert.Contains(t, text, "=?UTF-8?b?")
	assert.True(t, strings.Contains(text, "Content-Type: text/html"))
}

func TestHeaderValue(t *testing.T) {
	m := metadataMessage("m", "x")
	assert.Equal(t, "x", HeaderValue(m, "subject"))
	assert.Empty(t, HeaderValue(m, "Cc"))
	assert.Empty(t, HeaderValue(&gmail.Message{}, "From"))
}
