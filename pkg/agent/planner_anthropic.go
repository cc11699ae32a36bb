package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/harun/steward/pkg/models"
	"github.com/harun/steward/pkg/tools"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicPlanner implements Planner on the Anthropic Messages streaming API.
type AnthropicPlanner struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAnthropicPlanner creates a planner authenticated with apiKey.
func NewAnthropicPlanner(apiKey string, opts ...option.RequestOption) *AnthropicPlanner {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicPlanner{
		client:    anthropic.NewClient(opts...),
		maxTokens: defaultAnthropicMaxTokens,
	}
}

// Provider returns the provider name
func (p *AnthropicPlanner) Provider() string {
	return "anthropic"
}

// Plan streams one assistant turn, relaying text and thinking deltas.
func (p *AnthropicPlanner) Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  toAnthropicMessages(req.Conversation),
		MaxTokens: p.maxTokens,
	}
	if req.SystemInstruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemInstruction}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("anthropic: failed to accumulate stream: %w", err)
		}

		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			switch delta.Delta.Type {
			case "text_delta":
				if req.OnTextDelta != nil && delta.Delta.Text != "" {
					req.OnTextDelta(delta.Delta.Text)
				}
			case "thinking_delta":
				if req.OnThoughtDelta != nil && delta.Delta.Thinking != "" {
					req.OnThoughtDelta(delta.Delta.Thinking)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	resp := &PlanResponse{
		Model: string(message.Model),
		Usage: Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}

	var text strings.Builder
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args := map[string]interface{}{}
			if raw := b.JSON.Input.Raw(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					return nil, fmt.Errorf("anthropic: failed to parse tool input: %w", err)
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Args: args})
		}
	}
	resp.Text = text.String()

	return resp, nil
}

// toAnthropicMessages maps the planning conversation onto alternating user/assistant
// messages. Tool results are sent as user text; consecutive same-role turns are merged.
func toAnthropicMessages(conv []Turn) []anthropic.MessageParam {
	out := []anthropic.MessageParam{}
	for _, turn := range conv {
		text := turn.Text
		if strings.TrimSpace(text) == "" {
			continue
		}

		role := anthropic.MessageParamRoleUser
		if turn.Role == models.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		if turn.Role == models.RoleTool {
			text = "Tool result:\n" + text
		}

		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, anthropic.NewTextBlock(text))
			continue
		}
		out = append(out, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(text)},
		})
	}
	return out
}

func toAnthropicTools(decls []tools.Declaration) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(decls))
	for _, d := range decls {
		param := anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: d.Parameters["properties"],
			},
		}
		if required, ok := d.Parameters["required"].([]string); ok {
			param.InputSchema.Required = required
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}
