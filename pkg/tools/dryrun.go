package tools

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DryRunMail is a MailProvider that records outgoing mail instead of sending it.
// The daemon uses it when no mail account is connected.
type DryRunMail struct {
	logger zerolog.Logger

	mu   sync.Mutex
	sent map[string][]OutgoingMail
}

// NewDryRunMail creates a dry-run mail provider
func NewDryRunMail(logger zerolog.Logger) *DryRunMail {
	return &DryRunMail{
		logger: logger.With().Str("component", "dryrun_mail").Logger(),
		sent:   make(map[string][]OutgoingMail),
	}
}

// Send records msg and returns a generated message id
func (m *DryRunMail) Send(ctx context.Context, userID string, msg OutgoingMail) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	m.mu.Lock()
	m.sent[userID] = append(m.sent[userID], msg)
	m.mu.Unlock()

	m.logger.Info().
		Str("user_id", userID).
		Str("message_id", id).
		Str("to", msg.To).
		Int("cc", len(msg.Cc)).
		Msg("Dry-run mail recorded")
	return id, nil
}

// Search matches the query against recorded subjects and bodies, newest first
func (m *DryRunMail) Search(ctx context.Context, userID, query string, maxResults int) ([]MailSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	needle := strings.ToLower(query)
	sent := m.sent[userID]
	var hits []MailSummary
	for i := len(sent) - 1; i >= 0 && len(hits) < maxResults; i-- {
		msg := sent[i]
		if !strings.Contains(strings.ToLower(msg.Subject+" "+msg.Body), needle) {
			continue
		}
		hits = append(hits, MailSummary{
			ID:      uuid.NewSHA1(uuid.NameSpaceOID, []byte(userID+msg.Subject+msg.Body)).String(),
			From:    userID,
			Subject: msg.Subject,
			Snippet: truncateSnippet(msg.Body, 120),
		})
	}
	return hits, nil
}

// Sent returns the mail recorded for a user
func (m *DryRunMail) Sent(userID string) []OutgoingMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OutgoingMail(nil), m.sent[userID]...)
}

// DryRunCalendar is an in-memory CalendarProvider
type DryRunCalendar struct {
	logger zerolog.Logger

	mu     sync.Mutex
	events map[string][]CalendarEvent
}

// NewDryRunCalendar creates a dry-run calendar
func NewDryRunCalendar(logger zerolog.Logger) *DryRunCalendar {
	return &DryRunCalendar{
		logger: logger.With().Str("component", "dryrun_calendar").Logger(),
		events: make(map[string][]CalendarEvent),
	}
}

// ListEvents returns events overlapping [from, to]
func (c *DryRunCalendar) ListEvents(ctx context.Context, userID string, from, to time.Time) ([]CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []CalendarEvent
	for _, ev := range c.events[userID] {
		if ev.End.Before(from) || ev.Start.After(to) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// CreateEvent stores the event and returns its id
func (c *DryRunCalendar) CreateEvent(ctx context.Context, userID string, event CalendarEvent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	event.ID = uuid.NewString()
	c.mu.Lock()
	c.events[userID] = append(c.events[userID], event)
	c.mu.Unlock()

	c.logger.Info().
		Str("user_id", userID).
		Str("event_id", event.ID).
		Str("title", event.Title).
		Time("start", event.Start).
		Msg("Dry-run calendar event created")
	return event.ID, nil
}

// DryRunChat logs chat messages instead of posting them
type DryRunChat struct {
	logger zerolog.Logger
}

// NewDryRunChat creates a dry-run chat provider
func NewDryRunChat(logger zerolog.Logger) *DryRunChat {
	return &DryRunChat{logger: logger.With().Str("component", "dryrun_chat").Logger()}
}

// PostMessage logs the message and returns a generated id
func (c *DryRunChat) PostMessage(ctx context.Context, channel, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	c.logger.Info().Str("channel", channel).Str("message_id", id).Int("chars", len(text)).Msg("Dry-run chat message recorded")
	return id, nil
}

func truncateSnippet(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
