package calendar

import (
	"time"

	calendar "google.golang.org/api/calendar/v3"
)

// EventInput describes an event to create.
type EventInput struct {
	CalendarID  string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	// TimeZone is an IANA zone name. Defaults to UTC.
	TimeZone  string
	Attendees []string
	AllDay    bool
	// AddMeet asks Calendar to attach a Google Meet conference.
	AddMeet bool
}

// EventSummary is a simplified event.
type EventSummary struct {
	ID          string     `json:"id"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	Organizer   string     `json:"organizer,omitempty"`
	Status      string     `json:"status,omitempty"`
	Attendees   []Attendee `json:"attendees,omitempty"`
	MeetLink    string     `json:"meetLink,omitempty"`
	HTMLLink    string     `json:"htmlLink,omitempty"`
	Updated     time.Time  `json:"updated"`
}

// Attendee is one event attendee.
type Attendee struct {
	Email          string `json:"email"`
	ResponseStatus string `json:"responseStatus,omitempty"`
	Optional       bool   `json:"optional,omitempty"`
}

func toEventSummary(e *calendar.Event) EventSummary {
	s := EventSummary{
		ID:          e.Id,
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		Status:      e.Status,
		HTMLLink:    e.HtmlLink,
		Start:       parseEventTime(e.Start),
		End:         parseEventTime(e.End),
	}
	if t, err := time.Parse(time.RFC3339, e.Updated); err == nil {
		s.Updated = t
	}
	if e.Organizer != nil {
		s.Organizer = e.Organizer.Email
	}
	for _, a := range e.Attendees {
		s.Attendees = append(s.Attendees, Attendee{Email: a.Email, ResponseStatus: a.ResponseStatus, Optional: a.Optional})
	}
	if e.HangoutLink != "" {
		s.MeetLink = e.HangoutLink
	} else if e.ConferenceData != nil {
		for _, ep := range e.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				s.MeetLink = ep.Uri
				break
			}
		}
	}
	return s
}

// parseEventTime handles both timed and all-day events.
func parseEventTime(dt *calendar.EventDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t
		}
	}
	if dt.Date != "" {
		if t, err := time.Parse(time.DateOnly, dt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}
