package agent

import (
	"context"

	"github.com/harun/steward/pkg/models"
	"github.com/harun/steward/pkg/tools"
)

// Turn is one entry of the planning conversation. Tool turns carry a JSON tool result.
type Turn struct {
	Role models.Role `json:"role"`
	Text string      `json:"text"`
}

// ToolCall is a structured tool request produced by the planner.
type ToolCall struct {
	ID   string                 `json:"id,omitempty"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// Usage tracks token consumption of one planner call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// PlanRequest is the input of one planner call.
type PlanRequest struct {
	Model             string
	Conversation      []Turn
	Tools             []tools.Declaration
	SystemInstruction string
	// OnTextDelta and OnThoughtDelta receive streamed chunks when set.
	OnTextDelta    func(string)
	OnThoughtDelta func(string)
}

// PlanResponse is the next assistant turn.
type PlanResponse struct {
	Model     string     `json:"model"`
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Planner produces the next assistant turn from a conversation and the tool catalog.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error)
	// Provider returns the provider name used in metrics.
	Provider() string
}

// firstActionable returns the first tool call with a non-empty name.
func firstActionable(calls []ToolCall) *ToolCall {
	for i := range calls {
		if calls[i].Name != "" {
			return &calls[i]
		}
	}
	return nil
}
