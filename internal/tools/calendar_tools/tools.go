package calendar_tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxfleet/internal/calendar"
	"github.com/teemow/inboxfleet/internal/server"
	"github.com/teemow/inboxfleet/internal/session"
	"github.com/teemow/inboxfleet/internal/tools/common"
)

// RegisterCalendarTools registers all Calendar-related tools with the MCP
// server.
func RegisterCalendarTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	listEventsTool := mcp.NewTool("calendar_list_events",
		mcp.WithDescription("List calendar events in a time window, ordered by start time"),
		mcp.WithString("calendar_id",
			mcp.Description("Calendar ID (default: 'primary')"),
		),
		mcp.WithString("time_min",
			mcp.Description("Lower bound (RFC 3339) for event end times"),
		),
		mcp.WithString("time_max",
			mcp.Description("Upper bound (RFC 3339) for event start times"),
		),
		mcp.WithString("query",
			mcp.Description("Free text search terms"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of events to return (default: 100)"),
		),
	)
	s.AddTool(listEventsTool, common.InstrumentedToolHandler("calendar_list_events", sc, handleListEvents))

	if readOnly {
		return nil
	}

	createEventTool := mcp.NewTool("calendar_create_event",
		mcp.WithDescription("Create a calendar event"),
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("Event title"),
		),
		mcp.WithString("start",
			mcp.Required(),
			mcp.Description("Start time (RFC 3339)"),
		),
		mcp.WithString("end",
			mcp.Required(),
			mcp.Description("End time (RFC 3339)"),
		),
		mcp.WithString("description",
			mcp.Description("Event description"),
		),
		mcp.WithString("location",
			mcp.Description("Event location"),
		),
		mcp.WithString("attendees",
			mcp.Description("Comma-separated attendee email addresses"),
		),
		mcp.WithString("time_zone",
			mcp.Description("IANA time zone, e.g. 'Europe/Berlin' (default: UTC)"),
		),
		mcp.WithBoolean("all_day",
			mcp.Description("Create an all-day event using the dates of start and end"),
		),
		mcp.WithBoolean("add_meet",
			mcp.Description("Attach a Google Meet conference"),
		),
		mcp.WithString("calendar_id",
			mcp.Description("Calendar ID (default: 'primary')"),
		),
	)
	s.AddTool(createEventTool, common.InstrumentedToolHandler("calendar_create_event", sc, handleCreateEvent))
	return nil
}

type listEventsArgs struct {
	CalendarID string  `json:"calendar_id"`
	TimeMin    string  `json:"time_min"`
	TimeMax    string  `json:"time_max"`
	Query      string  `json:"query"`
	MaxResults float64 `json:"max_results"`
}

func handleListEvents(ctx context.Context, request mcp.CallToolRequest, tc *session.TenantContext) (*mcp.CallToolResult, error) {
	var args listEventsArgs
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	from, err := common.ParseTime("time_min", args.TimeMin)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := common.ParseTime("time_max", args.TimeMax)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return mcp.NewToolResultError("time_max must be after time_min"), nil
	}

	events, err := tc.Calendar.ListEvents(ctx, calendar.ListEventsOptions{
		CalendarID: args.CalendarID,
		From:       from,
		To:         to,
		Query:      args.Query,
		MaxResults: int(args.MaxResults),
	})
	if err != nil {
		return nil, err
	}
	return common.JSONResult(map[string]any{
		"count":  len(events),
		"events": events,
	})
}

type createEventArgs struct {
	Summary     string `json:"summary"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Attendees   string `json:"attendees"`
	TimeZone    string `json:"time_zone"`
	AllDay      bool   `json:"all_day"`
	AddMeet     bool   `json:"add_meet"`
	CalendarID  string `json:"calendar_id"`
}

func handleCreateEvent(ctx context.Context, request mcp.CallToolRequest, tc *session.TenantContext) (*mcp.CallToolResult, error) {
	var args createEventArgs
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Summary == "" {
		return mcp.NewToolResultError("summary is required"), nil
	}
	if args.Start == "" || args.End == "" {
		return mcp.NewToolResultError("start and end are required"), nil
	}

	start, err := common.ParseTime("start", args.Start)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	end, err := common.ParseTime("end", args.End)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	in := calendar.EventInput{
		CalendarID:  args.CalendarID,
		Summary:     args.Summary,
		Description: args.Description,
		Location:    args.Location,
		Start:       start,
		End:         end,
		TimeZone:    args.TimeZone,
		AllDay:      args.AllDay,
		AddMeet:     args.AddMeet,
	}
	for _, a := range strings.Split(args.Attendees, ",") {
		if a = strings.TrimSpace(a); a != "" {
			in.Attendees = append(in.Attendees, a)
		}
	}

	event, err := tc.Calendar.CreateEvent(ctx, in)
	if err != nil {
		return nil, err
	}
	return common.JSONResult(event)
}
