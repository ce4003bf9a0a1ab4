package meet

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	meet "google.golang.org/api/meet/v2"
	"google.golang.org/api/option"

	"github.com/teemow/inboxfleet/internal/paginate"
	"github.com/teemow/inboxfleet/internal/retry"
)

// Page size limits of the Meet API.
const (
	maxRecordPageSize = 100
	maxEntryPageSize  = 100
)

// Client wraps the Meet service for one tenant.
type Client struct {
	svc  *meet.Service
	exec *retry.Executor
}

// New creates a Client. hc must carry the tenant's OAuth token.
func New(ctx context.Context, hc *http.Client, exec *retry.Executor, opts ...option.ClientOption) (*Client, error) {
	svc, err := meet.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(hc)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Meet service: %w", err)
	}
	return &Client{svc: svc, exec: exec}, nil
}

// ListConferenceRecords lists conference records, most recent first.
// filter uses the Meet API filter syntax, for example
// `start_time>="2026-01-01T00:00:00Z"`.
func (c *Client) ListConferenceRecords(ctx context.Context, filter string, maxResults int) ([]ConferenceRecord, error) {
	if maxResults <= 0 {
		maxResults = 25
	}
	fetch := func(ctx context.Context, cursor string, pageSize int) (paginate.Page[*meet.ConferenceRecord], error) {
		call := c.svc.ConferenceRecords.List().PageSize(int64(pageSize)).Context(ctx)
		if filter != "" {
			call = call.Filter(filter)
		}
		if cursor != "" {
			call = call.PageToken(cursor)
		}
		resp, err := call.Do()
		if err != nil {
			return paginate.Page[*meet.ConferenceRecord]{}, err
		}
		return paginate.Page[*meet.ConferenceRecord]{Items: resp.ConferenceRecords, Next: resp.NextPageToken}, nil
	}

	res, err := paginate.FetchAll(ctx, c.exec, "meet.conference_records.list", fetch, paginate.Options[*meet.ConferenceRecord]{
		PageSize: min(maxResults, maxRecordPageSize),
		MaxPages: (maxResults + maxRecordPageSize - 1) / maxRecordPageSize,
		ID:       func(r *meet.ConferenceRecord) string { return r.Name },
	})
	if err != nil {
		return nil, err
	}

	records := res.Items
	if len(records) > maxResults {
		records = records[:maxResults]
	}
	out := make([]ConferenceRecord, 0, len(records))
	for _, r := range records {
		out = append(out, toConferenceRecord(r))
	}
	return out, nil
}

// ListTranscripts lists the transcripts of a conference record.
func (c *Client) ListTranscripts(ctx context.Context, conferenceRecord string) ([]Transcript, error) {
	if !strings.HasPrefix(conferenceRecord, "conferenceRecords/") {
		return nil, fmt.Errorf("invalid conference record name %q", conferenceRecord)
	}
	resp, err := retry.Do(ctx, c.exec, "meet.transcripts.list", func(ctx context.Context) (*meet.ListTranscriptsResponse, error) {
		return c.svc.ConferenceRecords.Transcripts.List(conferenceRecord).Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}
	out := make([]Transcript, 0, len(resp.Transcripts))
	for _, t := range resp.Transcripts {
		out = append(out, toTranscript(t))
	}
	return out, nil
}

// ListTranscriptEntries returns the entries of a transcript in spoken
// order, up to maxResults (zero means all, bounded by the page limit).
func (c *Client) ListTranscriptEntries(ctx context.Context, transcript string, maxResults int) ([]TranscriptEntry, error) {
	if !strings.Contains(transcript, "/transcripts/") {
		return nil, fmt.Errorf("invalid transcript name %q", transcript)
	}
	fetch := func(ctx context.Context, cursor string, pageSize int) (paginate.Page[*meet.TranscriptEntry], error) {
		call := c.svc.ConferenceRecords.Transcripts.Entries.List(transcript).PageSize(int64(pageSize)).Context(ctx)
		if cursor != "" {
			call = call.PageToken(cursor)
		}
		resp, err := call.Do()
		if err != nil {
			return paginate.Page[*meet.TranscriptEntry]{}, err
		}
		return paginate.Page[*meet.TranscriptEntry]{Items: resp.TranscriptEntries, Next: resp.NextPageToken}, nil
	}

	opts := paginate.Options[*meet.TranscriptEntry]{
		PageSize: maxEntryPageSize,
		ID:       func(e *meet.TranscriptEntry) string { return e.Name },
	}
	if maxResults > 0 {
		opts.MaxPages = (maxResults + maxEntryPageSize - 1) / maxEntryPageSize
	}
	res, err := paginate.FetchAll(ctx, c.exec, "meet.transcript_entries.list", fetch, opts)
	if err != nil {
		return nil, err
	}

	entries := res.Items
	if maxResults > 0 && len(entries) > maxResults {
		entries = entries[:maxResults]
	}
	out := make([]TranscriptEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, toTranscriptEntry(e))
	}
	return out, nil
}
