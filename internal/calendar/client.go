package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/teemow/inboxfleet/internal/paginate"
	"github.com/teemow/inboxfleet/internal/retry"
)

// PrimaryCalendar is the tenant's own calendar.
const PrimaryCalendar = "primary"

const maxPageSize = 250

// Client wraps the Calendar service for one tenant.
type Client struct {
	svc  *calendar.Service
	exec *retry.Executor
}

// New creates a Client. hc must carry the tenant's OAuth token.
func New(ctx context.Context, hc *http.Client, exec *retry.Executor, opts ...option.ClientOption) (*Client, error) {
	svc, err := calendar.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(hc)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return &Client{svc: svc, exec: exec}, nil
}

// ListEventsOptions selects events.
type ListEventsOptions struct {
	CalendarID string
	From, To   time.Time
	Query      string
	// MaxResults caps the result. Zero means 100.
	MaxResults int
}

// ListEvents returns single events in [From, To) ordered by start time.
func (c *Client) ListEvents(ctx context.Context, opts ListEventsOptions) ([]EventSummary, error) {
	calendarID := opts.CalendarID
	if calendarID == "" {
		calendarID = PrimaryCalendar
	}
	limit := opts.MaxResults
	if limit <= 0 {
		limit = 100
	}

	fetch := func(ctx context.Context, cursor string, pageSize int) (paginate.Page[*calendar.Event], error) {
		call := c.svc.Events.List(calendarID).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(int64(pageSize)).
			Context(ctx)
		if !opts.From.IsZero() {
			call = call.TimeMin(opts.From.Format(time.RFC3339))
		}
		if !opts.To.IsZero() {
			call = call.TimeMax(opts.To.Format(time.RFC3339))
		}
		if opts.Query != "" {
			call = call.Q(opts.Query)
		}
		if cursor != "" {
			call = call.PageToken(cursor)
		}
		resp, err := call.Do()
		if err != nil {
			return paginate.Page[*calendar.Event]{}, err
		}
		return paginate.Page[*calendar.Event]{Items: resp.Items, Next: resp.NextPageToken}, nil
	}

	res, err := paginate.FetchAll(ctx, c.exec, "calendar.events.list", fetch, paginate.Options[*calendar.Event]{
		PageSize: min(limit, maxPageSize),
		MaxPages: (limit + maxPageSize - 1) / maxPageSize,
		ID:       func(e *calendar.Event) string { return e.Id },
	})
	if err != nil {
		return nil, err
	}

	events := res.Items
	if len(events) > limit {
		events = events[:limit]
	}
	out := make([]EventSummary, 0, len(events))
	for _, e := range events {
		out = append(out, toEventSummary(e))
	}
	return out, nil
}

// CreateEvent inserts an event and returns it as stored.
func (c *Client) CreateEvent(ctx context.Context, in EventInput) (*EventSummary, error) {
	if in.Summary == "" {
		return nil, fmt.Errorf("summary is required")
	}
	if !in.End.After(in.Start) {
		return nil, fmt.Errorf("end must be after start")
	}
	calendarID := in.CalendarID
	if calendarID == "" {
		calendarID = PrimaryCalendar
	}

	event := &calendar.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Location:    in.Location,
	}
	if in.AllDay {
		event.Start = &calendar.EventDateTime{Date: in.Start.Format(time.DateOnly)}
		event.End = &calendar.EventDateTime{Date: in.End.Format(time.DateOnly)}
	} else {
		tz := in.TimeZone
		if tz == "" {
			tz = "UTC"
		}
		event.Start = &calendar.EventDateTime{DateTime: in.Start.Format(time.RFC3339), TimeZone: tz}
		event.End = &calendar.EventDateTime{DateTime: in.End.Format(time.RFC3339), TimeZone: tz}
	}
	for _, email := range in.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
	}
	if in.AddMeet {
		// The request id makes a retried insert reuse the same conference.
		event.ConferenceData = &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             uuid.NewString(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		}
	}

	created, err := retry.Do(ctx, c.exec, "calendar.events.insert", func(ctx context.Context) (*calendar.Event, error) {
		call := c.svc.Events.Insert(calendarID, event).Context(ctx)
		if in.AddMeet {
			call = call.ConferenceDataVersion(1)
		}
		return call.Do()
	})
	if err != nil {
		return nil, err
	}
	s := toEventSummary(created)
	return &s, nil
}
