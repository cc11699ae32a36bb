package tools

import (
	"context"
	"fmt"
	"strings"
)

const (
	GmailSendName   = "gmail_send"
	GmailSearchName = "gmail_search"

	defaultSearchResults = 10
	maxSearchResults     = 50
)

// GmailSendArgs are the normalized arguments of gmail_send.
type GmailSendArgs struct {
	To      string   `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

func (GmailSendArgs) ToolName() string { return GmailSendName }

// GmailSearchArgs are the normalized arguments of gmail_search.
type GmailSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

func (GmailSearchArgs) ToolName() string { return GmailSearchName }

var gmailSendSchema = mustParamSchema([]Param{
	{Name: "to", Type: "string", Description: "Recipient email address", Required: true},
	{Name: "cc", Type: "array", Items: "string", Description: "Additional recipients copied on the email"},
	{Name: "subject", Type: "string", Description: "Subject line", Required: true},
	{Name: "body", Type: "string", Description: "Plain text body", Required: true},
})

var gmailSearchSchema = mustParamSchema([]Param{
	{Name: "query", Type: "string", Description: "Gmail search query, e.g. from:alice newer_than:7d", Required: true},
	{Name: "max_results", Type: "integer", Description: "Maximum number of messages to return", Minimum: intPtr(1), Maximum: intPtr(maxSearchResults)},
})

// GmailSend sends an email.
type GmailSend struct {
	mail MailProvider
}

// NewGmailSend creates the gmail_send tool.
func NewGmailSend(mail MailProvider) *GmailSend {
	return &GmailSend{mail: mail}
}

func (t *GmailSend) Name() string { return GmailSendName }

func (t *GmailSend) Description() string {
	return "Send an email from the user's mailbox to one recipient, optionally copying others."
}

func (t *GmailSend) SideEffect() bool { return true }

func (t *GmailSend) Schema() map[string]interface{} { return gmailSendSchema.doc }

func (t *GmailSend) ValidateArgs(raw map[string]interface{}) (Args, error) {
	var in GmailSendArgs
	if err := gmailSendSchema.validate(raw, &in); err != nil {
		return nil, err
	}

	to, err := NormalizeEmail(in.To)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	cc, err := normalizeEmails("cc", in.Cc)
	if err != nil {
		return nil, err
	}
	subject, err := requireText("subject", in.Subject)
	if err != nil {
		return nil, err
	}
	body, err := requireText("body", in.Body)
	if err != nil {
		return nil, err
	}

	return GmailSendArgs{To: to, Cc: cc, Subject: subject, Body: body}, nil
}

func (t *GmailSend) PreviewForApproval(args Args) string {
	a, ok := args.(GmailSendArgs)
	if !ok {
		return "Send an email"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Send email to %s", a.To)
	if len(a.Cc) > 0 {
		fmt.Fprintf(&sb, " (cc: %s)", strings.Join(a.Cc, ", "))
	}
	fmt.Fprintf(&sb, " with subject %q (%d characters)", a.Subject, len([]rune(a.Body)))
	return sb.String()
}

// Recipient returns the primary recipient address.
func (t *GmailSend) Recipient(args Args) (string, bool) {
	a, ok := args.(GmailSendArgs)
	if !ok || a.To == "" {
		return "", false
	}
	return a.To, true
}

func (t *GmailSend) Execute(ctx context.Context, args Args) (map[string]interface{}, error) {
	a, ok := args.(GmailSendArgs)
	if !ok {
		return nil, fmt.Errorf("gmail_send: unexpected argument type %T", args)
	}
	if t.mail == nil {
		return nil, fmt.Errorf("gmail_send: mail provider not configured")
	}

	id, err := t.mail.Send(ctx, userFromContext(ctx), OutgoingMail{
		To:      a.To,
		Cc:      a.Cc,
		Subject: a.Subject,
		Body:    a.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("gmail_send: %w", err)
	}

	return map[string]interface{}{
		"message_id": id,
		"to":         a.To,
		"status":     "sent",
	}, nil
}

// GmailSearch searches the user's mailbox.
type GmailSearch struct {
	mail MailProvider
}

// NewGmailSearch creates the gmail_search tool.
func NewGmailSearch(mail MailProvider) *GmailSearch {
	return &GmailSearch{mail: mail}
}

func (t *GmailSearch) Name() string { return GmailSearchName }

func (t *GmailSearch) Description() string {
	return "Search the user's mailbox and return matching message summaries."
}

func (t *GmailSearch) SideEffect() bool { return false }

func (t *GmailSearch) Schema() map[string]interface{} { return gmailSearchSchema.doc }

func (t *GmailSearch) ValidateArgs(raw map[string]interface{}) (Args, error) {
	var in GmailSearchArgs
	if err := gmailSearchSchema.validate(raw, &in); err != nil {
		return nil, err
	}
	query, err := requireText("query", in.Query)
	if err != nil {
		return nil, err
	}
	if in.MaxResults == 0 {
		in.MaxResults = defaultSearchResults
	}
	return GmailSearchArgs{Query: query, MaxResults: in.MaxResults}, nil
}

func (t *GmailSearch) PreviewForApproval(args Args) string {
	a, ok := args.(GmailSearchArgs)
	if !ok {
		return "Search email"
	}
	return fmt.Sprintf("Search email for %q (up to %d results)", a.Query, a.MaxResults)
}

func (t *GmailSearch) Execute(ctx context.Context, args Args) (map[string]interface{}, error) {
	a, ok := args.(GmailSearchArgs)
	if !ok {
		return nil, fmt.Errorf("gmail_search: unexpected argument type %T", args)
	}
	if t.mail == nil {
		return nil, fmt.Errorf("gmail_search: mail provider not configured")
	}

	hits, err := t.mail.Search(ctx, userFromContext(ctx), a.Query, a.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("gmail_search: %w", err)
	}
	if len(hits) > a.MaxResults {
		hits = hits[:a.MaxResults]
	}

	return map[string]interface{}{
		"count":    len(hits),
		"messages": hits,
	}, nil
}
