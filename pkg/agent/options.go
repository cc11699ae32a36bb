package agent

const (
	MinSteps     = 1
	MaxSteps     = 15
	DefaultSteps = 8

	defaultHistoryWindow        = 30
	defaultMaxContextItems      = 5
	defaultMaxContextFieldChars = 2000
	defaultToolResultMaxChars   = 4000
)

const defaultPersona = `You are Steward, a personal assistant that works on the user's behalf across email, calendar and chat.
Use a tool when it helps answer the request. Call at most one tool per turn and wait for its result.
Tools that send, create or post may need the user's approval before they run; when that happens, stop and let the user decide.
Be concise and confirm what you did.`

// Options are the run-time knobs of the orchestrator. They are passed in explicitly and
// can be replaced on a live orchestrator with SetOptions.
type Options struct {
	MaxSteps             int    `json:"max_steps"`
	SideEffectsDisabled  bool   `json:"side_effects_disabled"`
	HistoryWindow        int    `json:"history_window"`
	MaxContextItems      int    `json:"max_context_items"`
	MaxContextFieldChars int    `json:"max_context_field_chars"`
	ToolResultMaxChars   int    `json:"tool_result_max_chars"`
	Model                string `json:"model"`
	Persona              string `json:"persona,omitempty"`
}

// DefaultOptions returns the default orchestrator options.
func DefaultOptions() Options {
	return Options{
		MaxSteps:             DefaultSteps,
		HistoryWindow:        defaultHistoryWindow,
		MaxContextItems:      defaultMaxContextItems,
		MaxContextFieldChars: defaultMaxContextFieldChars,
		ToolResultMaxChars:   defaultToolResultMaxChars,
	}
}

// ClampSteps bounds a step budget to [MinSteps, MaxSteps]. Zero or negative means default.
func ClampSteps(n int) int {
	switch {
	case n <= 0:
		return DefaultSteps
	case n > MaxSteps:
		return MaxSteps
	}
	return n
}

func (o Options) normalized() Options {
	o.MaxSteps = ClampSteps(o.MaxSteps)
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = defaultHistoryWindow
	}
	if o.MaxContextItems < 0 {
		o.MaxContextItems = 0
	} else if o.MaxContextItems == 0 {
		o.MaxContextItems = defaultMaxContextItems
	}
	if o.MaxContextFieldChars <= 0 {
		o.MaxContextFieldChars = defaultMaxContextFieldChars
	}
	if o.ToolResultMaxChars <= 0 {
		o.ToolResultMaxChars = defaultToolResultMaxChars
	}
	if o.Persona == "" {
		o.Persona = defaultPersona
	}
	return o
}
