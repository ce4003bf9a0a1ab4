package meet_tools

import (
	"context"
	"net/http"
	"testing"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	meet "google.golang.org/api/meet/v2"

	"github.com/teemow/inboxfleet/internal/tools/tooltest"
)

func TestRegisterMeetTools(t *testing.T) {
	s := mcpserver.NewMCPServer("test", "0.0.0", mcpserver.WithToolCapabilities(true))
	require.NoError(t, RegisterMeetTools(s, tooltest.NewServerContext(t, true), true))
	assert.Equal(t, []string{"meet_get_transcript", "meet_list_conferences", "meet_list_transcripts"}, tooltest.ToolNames(t, s))
}

func TestHandleListConferences(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/conferenceRecords", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `space.name="spaces/abc"`, r.URL.Query().Get("filter"))
		tooltest.WriteJSON(w, meet.ListConferenceRecordsResponse{ConferenceRecords: []*meet.ConferenceRecord{
			{Name: "conferenceRecords/c1", Space: "spaces/abc", StartTime: "2026-05-01T09:00:00Z"},
			{Name: "conferenceRecords/c2", Space: "spaces/abc", StartTime: "2026-04-30T09:00:00Z"},
		}})
	})
	tc := tooltest.NewTenant(t, mux, "")

	result, err := handleListConferences(context.Background(), tooltest.Request("meet_list_conferences", map[string]any{
		"filter": `space.name="spaces/abc"`,
	}), tc)
	require.NoError(t, err)

	var out struct {
		Count   int `json:"count"`
		Records []struct {
			Name string `json:"name"`
		} `json:"conferenceRecords"`
	}
	tooltest.Decode(t, result, &out)
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, "conferenceRecords/c1", out.Records[0].Name)
}

func TestHandleListTranscripts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/conferenceRecords/c1/transcripts", func(w http.ResponseWriter, r *http.Request) {
		tooltest.WriteJSON(w, meet.ListTranscriptsResponse{Transcripts: []*meet.Transcript{{
			Name:            "conferenceRecords/c1/transcripts/t1",
			State:           "FILE_GENERATED",
			DocsDestination: &meet.DocsDestination{ExportUri: "https://docs.google.com/document/d/x"},
		}}})
	})
	tc := tooltest.NewTenant(t, mux, "")

	result, err := handleListTranscripts(context.Background(), tooltest.Request("meet_list_transcripts", map[string]any{
		"conference_record": "conferenceRecords/c1",
	}), tc)
	require.NoError(t, err)

	var out struct {
		Transcripts []struct {
			Name        string `json:"name"`
			DocumentURI string `json:"documentUri"`
		} `json:"transcripts"`
	}
	tooltest.Decode(t, result, &out)
	require.Len(t, out.Transcripts, 1)
	assert.Equal(t, "https://docs.google.com/document/d/x", out.Transcripts[0].DocumentURI)

	result, err = handleListTranscripts(context.Background(), tooltest.Request("meet_list_transcripts", nil), tc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleGetTranscript(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/conferenceRecords/c1/transcripts/t1/entries", func(w http.ResponseWriter, r *http.Request) {
		tooltest.WriteJSON(w, meet.ListTranscriptEntriesResponse{TranscriptEntries: []*meet.TranscriptEntry{
			{Name: "conferenceRecords/c1/transcripts/t1/entries/e1", Participant: "conferenceRecords/c1/participants/p1", Text: "Hello everyone", StartTime: "2026-05-01T09:00:01Z"},
			{Name: "conferenceRecords/c1/transcripts/t1/entries/e2", Participant: "conferenceRecords/c1/participants/p2", Text: "Hi", StartTime: "2026-05-01T09:00:05Z"},
		}})
	})
	tc := tooltest.NewTenant(t, mux, "")

	result, err := handleGetTranscript(context.Background(), tooltest.Request("meet_get_transcript", map[string]any{
		"transcript": "conferenceRecords/c1/transcripts/t1",
	}), tc)
	require.NoError(t, err)

	var out struct {
		Count int    `json:"count"`
		Text  string `json:"text"`
	}
	tooltest.Decode(t, result, &out)
	assert.Equal(t, 2, out.Count)
	assert.Contains(t, out.Text, "[09:00:01] conferenceRecords/c1/participants/p1: Hello everyone\n")
}

func TestHandleGetTranscript_InvalidName(t *testing.T) {
	tc := tooltest.NewTenant(t, http.NotFoundHandler(), "")
	_, err := handleGetTranscript(context.Background(), tooltest.Request("meet_get_transcript", map[string]any{
		"transcript": "conferenceRecords/c1",
	}), tc)
	assert.ErrorContains(t, err, "invalid transcript name")
}
