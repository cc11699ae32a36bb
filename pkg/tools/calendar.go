package tools

import (
	"context"
	"fmt"
	"time"
)

const (
	CalendarListEventsName  = "calendar_list_events"
	CalendarCreateEventName = "calendar_create_event"
)

// CalendarListArgs are the normalized arguments of calendar_list_events.
type CalendarListArgs struct {
	TimeMin time.Time `json:"time_min"`
	TimeMax time.Time `json:"time_max"`
}

func (CalendarListArgs) ToolName() string { return CalendarListEventsName }

// CalendarCreateArgs are the normalized arguments of calendar_create_event.
type CalendarCreateArgs struct {
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Attendees []string  `json:"attendees,omitempty"`
	Location  string    `json:"location,omitempty"`
}

func (CalendarCreateArgs) ToolName() string { return CalendarCreateEventName }

var calendarListSchema = mustParamSchema([]Param{
	{Name: "time_min", Type: "string", Description: "Start of the window, RFC3339", Required: true},
	{Name: "time_max", Type: "string", Description: "End of the window, RFC3339", Required: true},
})

var calendarCreateSchema = mustParamSchema([]Param{
	{Name: "title", Type: "string", Description: "Event title", Required: true},
	{Name: "start", Type: "string", Description: "Event start, RFC3339", Required: true},
	{Name: "end", Type: "string", Description: "Event end, RFC3339", Required: true},
	{Name: "attendees", Type: "array", Items: "string", Description: "Attendee email addresses"},
	{Name: "location", Type: "string", Description: "Optional location"},
})

type rawCalendarList struct {
	TimeMin string `json:"time_min"`
	TimeMax string `json:"time_max"`
}

type rawCalendarCreate struct {
	Title     string   `json:"title"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Attendees []string `json:"attendees"`
	Location  string   `json:"location"`
}

// CalendarListEvents lists events within a time window.
type CalendarListEvents struct {
	calendar CalendarProvider
}

// NewCalendarListEvents creates the calendar_list_events tool.
func NewCalendarListEvents(calendar CalendarProvider) *CalendarListEvents {
	return &CalendarListEvents{calendar: calendar}
}

func (t *CalendarListEvents) Name() string { return CalendarListEventsName }

func (t *CalendarListEvents) Description() string {
	return "List events on the user's calendar between two timestamps."
}

func (t *CalendarListEvents) SideEffect() bool { return false }

func (t *CalendarListEvents) Schema() map[string]interface{} { return calendarListSchema.doc }

func (t *CalendarListEvents) ValidateArgs(raw map[string]interface{}) (Args, error) {
	var in rawCalendarList
	if err := calendarListSchema.validate(raw, &in); err != nil {
		return nil, err
	}
	from, err := parseTimestamp("time_min", in.TimeMin)
	if err != nil {
		return nil, err
	}
	to, err := parseTimestamp("time_max", in.TimeMax)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, fmt.Errorf("time_min must not be after time_max")
	}
	return CalendarListArgs{TimeMin: from, TimeMax: to}, nil
}

func (t *CalendarListEvents) PreviewForApproval(args Args) string {
	a, ok := args.(CalendarListArgs)
	if !ok {
		return "List calendar events"
	}
	return fmt.Sprintf("List calendar events from %s to %s",
		a.TimeMin.Format(time.RFC3339), a.TimeMax.Format(time.RFC3339))
}

func (t *CalendarListEvents) Execute(ctx context.Context, args Args) (map[string]interface{}, error) {
	a, ok := args.(CalendarListArgs)
	if !ok {
		return nil, fmt.Errorf("calendar_list_events: unexpected argument type %T", args)
	}
	if t.calendar == nil {
		return nil, fmt.Errorf("calendar_list_events: calendar provider not configured")
	}

	events, err := t.calendar.ListEvents(ctx, userFromContext(ctx), a.TimeMin, a.TimeMax)
	if err != nil {
		return nil, fmt.Errorf("calendar_list_events: %w", err)
	}

	return map[string]interface{}{
		"count":  len(events),
		"events": events,
	}, nil
}

// CalendarCreateEvent creates a calendar event.
type CalendarCreateEvent struct {
	calendar CalendarProvider
}

// NewCalendarCreateEvent creates the calendar_create_event tool.
func NewCalendarCreateEvent(calendar CalendarProvider) *CalendarCreateEvent {
	return &CalendarCreateEvent{calendar: calendar}
}

func (t *CalendarCreateEvent) Name() string { return CalendarCreateEventName }

func (t *CalendarCreateEvent) Description() string {
	return "Create an event on the user's calendar and invite attendees."
}

func (t *CalendarCreateEvent) SideEffect() bool { return true }

func (t *CalendarCreateEvent) Schema() map[string]interface{} { return calendarCreateSchema.doc }

func (t *CalendarCreateEvent) ValidateArgs(raw map[string]interface{}) (Args, error) {
	var in rawCalendarCreate
	if err := calendarCreateSchema.validate(raw, &in); err != nil {
		return nil, err
	}
	title, err := requireText("title", in.Title)
	if err != nil {
		return nil, err
	}
	start, err := parseTimestamp("start", in.Start)
	if err != nil {
		return nil, err
	}
	end, err := parseTimestamp("end", in.End)
	if err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("start must be before end")
	}
	attendees, err := normalizeEmails("attendees", in.Attendees)
	if err != nil {
		return nil, err
	}

	return CalendarCreateArgs{
		Title:     title,
		Start:     start,
		End:       end,
		Attendees: attendees,
		Location:  in.Location,
	}, nil
}

func (t *CalendarCreateEvent) PreviewForApproval(args Args) string {
	a, ok := args.(CalendarCreateArgs)
	if !ok {
		return "Create a calendar event"
	}
	preview := fmt.Sprintf("Create calendar event %q from %s to %s",
		a.Title, a.Start.Format(time.RFC3339), a.End.Format(time.RFC3339))
	if len(a.Attendees) > 0 {
		preview += fmt.Sprintf(" with %d attendee(s)", len(a.Attendees))
	}
	return preview
}

func (t *CalendarCreateEvent) Execute(ctx context.Context, args Args) (map[string]interface{}, error) {
	a, ok := args.(CalendarCreateArgs)
	if !ok {
		return nil, fmt.Errorf("calendar_create_event: unexpected argument type %T", args)
	}
	if t.calendar == nil {
		return nil, fmt.Errorf("calendar_create_event: calendar provider not configured")
	}

	id, err := t.calendar.CreateEvent(ctx, userFromContext(ctx), CalendarEvent{
		Title:     a.Title,
		Start:     a.Start,
		End:       a.End,
		Attendees: a.Attendees,
		Location:  a.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("calendar_create_event: %w", err)
	}

	return map[string]interface{}{
		"event_id": id,
		"status":   "created",
	}, nil
}
