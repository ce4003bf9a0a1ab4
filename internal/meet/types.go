package meet

import (
	"time"

	meet "google.golang.org/api/meet/v2"
)

// ConferenceRecord is one past or ongoing conference.
type ConferenceRecord struct {
	Name      string    `json:"name"`
	Space     string    `json:"space"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime,omitzero"`
}

// Transcript is a transcript attached to a conference record.
type Transcript struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime,omitzero"`
	// DocumentURI links the Google Docs export, when generated.
	DocumentURI string `json:"documentUri,omitempty"`
}

// TranscriptEntry is one spoken segment.
type TranscriptEntry struct {
	Name        string    `json:"name"`
	Participant string    `json:"participant"`
	Text        string    `json:"text"`
	Language    string    `json:"language,omitempty"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func toConferenceRecord(r *meet.ConferenceRecord) ConferenceRecord {
	return ConferenceRecord{
		Name:      r.Name,
		Space:     r.Space,
		StartTime: parseTime(r.StartTime),
		EndTime:   parseTime(r.EndTime),
	}
}

func toTranscript(t *meet.Transcript) Transcript {
	out := Transcript{
		Name:      t.Name,
		State:     t.State,
		StartTime: parseTime(t.StartTime),
		EndTime:   parseTime(t.EndTime),
	}
	if t.DocsDestination != nil {
		out.DocumentURI = t.DocsDestination.ExportUri
	}
	return out
}

func toTranscriptEntry(e *meet.TranscriptEntry) TranscriptEntry {
	return TranscriptEntry{
		Name:        e.Name,
		Participant: e.Participant,
		Text:        e.Text,
		Language:    e.LanguageCode,
		StartTime:   parseTime(e.StartTime),
		EndTime:     parseTime(e.EndTime),
	}
}
