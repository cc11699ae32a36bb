package tools

import (
	"context"
	"time"
)

// OutgoingMail is a message handed to a MailProvider.
type OutgoingMail struct {
	To      string
	Cc      []string
	Subject string
	Body    string
}

// MailSummary is one search hit.
type MailSummary struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Snippet string    `json:"snippet"`
	Date    time.Time `json:"date"`
}

// MailProvider sends and searches email on behalf of a user.
type MailProvider interface {
	Send(ctx context.Context, userID string, msg OutgoingMail) (messageID string, err error)
	Search(ctx context.Context, userID, query string, maxResults int) ([]MailSummary, error)
}

// CalendarEvent is an event read from or written to a calendar.
type CalendarEvent struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Attendees []string  `json:"attendees,omitempty"`
	Location  string    `json:"location,omitempty"`
}

// CalendarProvider reads and writes a user's calendar.
type CalendarProvider interface {
	ListEvents(ctx context.Context, userID string, from, to time.Time) ([]CalendarEvent, error)
	CreateEvent(ctx context.Context, userID string, event CalendarEvent) (eventID string, err error)
}

// ChatProvider posts messages to a team chat workspace.
type ChatProvider interface {
	PostMessage(ctx context.Context, channel, text string) (messageID string, err error)
}
