package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/harun/steward/pkg/models"
	"github.com/harun/steward/pkg/tools"
)

// OpenAIPlanner implements Planner on the OpenAI chat completions streaming API.
type OpenAIPlanner struct {
	client openai.Client
}

// NewOpenAIPlanner creates a new OpenAI planner
func NewOpenAIPlanner(apiKey string, opts ...option.RequestOption) *OpenAIPlanner {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIPlanner{
		client: openai.NewClient(opts...),
	}
}

// Provider returns the provider name
func (p *OpenAIPlanner) Provider() string {
	return "openai"
}

// Plan streams one assistant turn from OpenAI.
func (p *OpenAIPlanner) Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: toOpenAIMessages(req.SystemInstruction, req.Conversation),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if len(req.Tools) > 0 {
		params.Tools = toOpenAITools(req.Tools)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 && req.OnTextDelta != nil {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				req.OnTextDelta(delta)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	if len(acc.Choices) == 0 {
		return nil, fmt.Errorf("openai: no response choices returned")
	}
	choice := acc.Choices[0]

	resp := &PlanResponse{
		Model: acc.Model,
		Text:  choice.Message.Content,
		Usage: Usage{
			InputTokens:  int(acc.Usage.PromptTokens),
			OutputTokens: int(acc.Usage.CompletionTokens),
		},
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}

	for _, tc := range choice.Message.ToolCalls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("openai: failed to parse tool arguments: %w", err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	return resp, nil
}

func toOpenAIMessages(system string, conv []Turn) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}

	for _, turn := range conv {
		switch turn.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		case models.RoleTool:
			// History carries no call ids, so results go back as user text.
			messages = append(messages, openai.UserMessage("Tool result:\n"+turn.Text))
		default:
			messages = append(messages, openai.UserMessage(turn.Text))
		}
	}
	return messages
}

func toOpenAITools(decls []tools.Declaration) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(decls))
	for _, d := range decls {
		out = append(out, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  openai.FunctionParameters(d.Parameters),
			},
		})
	}
	return out
}
