package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

const ChatPostMessageName = "chat_post_message"

const maxChatText = 4000

// ChatPostArgs are the normalized arguments of chat_post_message.
type ChatPostArgs struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

func (ChatPostArgs) ToolName() string { return ChatPostMessageName }

var chatPostSchema = mustParamSchema([]Param{
	{Name: "channel", Type: "string", Description: "Channel name (#general) or channel id", Required: true},
	{Name: "text", Type: "string", Description: "Message text", Required: true},
})

// ChatPostMessage posts a message to a chat channel.
type ChatPostMessage struct {
	chat ChatProvider
}

// NewChatPostMessage creates the chat_post_message tool.
func NewChatPostMessage(chat ChatProvider) *ChatPostMessage {
	return &ChatPostMessage{chat: chat}
}

func (t *ChatPostMessage) Name() string { return ChatPostMessageName }

func (t *ChatPostMessage) Description() string {
	return "Post a message to a team chat channel."
}

func (t *ChatPostMessage) SideEffect() bool { return true }

func (t *ChatPostMessage) Schema() map[string]interface{} { return chatPostSchema.doc }

func (t *ChatPostMessage) ValidateArgs(raw map[string]interface{}) (Args, error) {
	var in ChatPostArgs
	if err := chatPostSchema.validate(raw, &in); err != nil {
		return nil, err
	}
	channel, err := requireText("channel", in.Channel)
	if err != nil {
		return nil, err
	}
	if strings.ContainsAny(channel, " \t\n") {
		return nil, fmt.Errorf("channel cannot contain whitespace: %q", channel)
	}
	text, err := requireText("text", in.Text)
	if err != nil {
		return nil, err
	}
	if len([]rune(text)) > maxChatText {
		return nil, fmt.Errorf("text exceeds %d characters", maxChatText)
	}
	return ChatPostArgs{Channel: channel, Text: text}, nil
}

func (t *ChatPostMessage) PreviewForApproval(args Args) string {
	a, ok := args.(ChatPostArgs)
	if !ok {
		return "Post a chat message"
	}
	return fmt.Sprintf("Post to %s: %q", a.Channel, clip(a.Text, 120))
}

func (t *ChatPostMessage) Execute(ctx context.Context, args Args) (map[string]interface{}, error) {
	a, ok := args.(ChatPostArgs)
	if !ok {
		return nil, fmt.Errorf("chat_post_message: unexpected argument type %T", args)
	}
	if t.chat == nil {
		return nil, fmt.Errorf("chat_post_message: chat provider not configured")
	}

	id, err := t.chat.PostMessage(ctx, a.Channel, a.Text)
	if err != nil {
		return nil, fmt.Errorf("chat_post_message: %w", err)
	}

	return map[string]interface{}{
		"message_id": id,
		"channel":    a.Channel,
		"status":     "posted",
	}, nil
}

// SlackChat is a ChatProvider backed by the Slack Web API.
type SlackChat struct {
	client *slack.Client
}

// NewSlackChat creates a Slack provider from a bot token.
func NewSlackChat(token string, opts ...slack.Option) (*SlackChat, error) {
	if token == "" {
		return nil, fmt.Errorf("slack token cannot be empty")
	}
	return &SlackChat{client: slack.New(token, opts...)}, nil
}

// PostMessage posts text and returns the message timestamp.
func (s *SlackChat) PostMessage(ctx context.Context, channel, text string) (string, error) {
	channel = strings.TrimPrefix(channel, "#")
	_, ts, err := s.client.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("slack post to %s: %w", channel, err)
	}
	return ts, nil
}
