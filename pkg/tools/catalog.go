package tools

// Providers bundles the external collaborators the built-in tools call.
// A nil provider still registers its tools; Execute reports it as unconfigured.
type Providers struct {
	Mail     MailProvider
	Calendar CalendarProvider
	Chat     ChatProvider
}

// Builtin returns the full catalog wired to p.
func Builtin(p Providers) []Tool {
	return []Tool{
		NewGmailSend(p.Mail),
		NewGmailSearch(p.Mail),
		NewCalendarListEvents(p.Calendar),
		NewCalendarCreateEvent(p.Calendar),
		NewChatPostMessage(p.Chat),
	}
}

// NewBuiltinRegistry builds a registry over the built-in catalog.
func NewBuiltinRegistry(p Providers) (*Registry, error) {
	return NewRegistry(Builtin(p)...)
}
