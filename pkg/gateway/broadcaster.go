package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/steward/pkg/agent"
)

// EventBroadcaster pushes events to the websocket clients of a user
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     atomic.Int64
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
}

// Publish sends msg to every client connected as userID
func (b *EventBroadcaster) Publish(userID string, msg EventMessage) int {
	msg.Type = "event"
	msg.Seq = b.seq.Add(1)
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", msg.Event).Msg("Failed to marshal event")
		return 0
	}

	delivered := 0
	for _, client := range b.clients.ForUser(userID) {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			b.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("event", msg.Event).
				Int64("seq", msg.Seq).
				Msg("Failed to deliver event")
			continue
		}
		delivered++
	}
	return delivered
}

// Broadcast sends msg to every connected client
func (b *EventBroadcaster) Broadcast(event string, data interface{}) {
	msg := EventMessage{Type: "event", Event: event, Data: data, Seq: b.seq.Add(1), Timestamp: time.Now().UnixMilli()}
	raw, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return
	}
	for _, client := range b.clients.All() {
		_ = client.WriteMessage(websocket.TextMessage, raw)
	}
}

// PublishStream forwards orchestrator events to the user's clients until events is closed.
func (b *EventBroadcaster) PublishStream(userID string, events <-chan agent.StreamEvent) {
	for ev := range events {
		msg := EventMessage{
			Event:    string(ev.Type),
			RunID:    ev.RunID,
			ThreadID: ev.ThreadID,
			Data:     streamPayload(ev),
		}
		if !ev.Timestamp.IsZero() {
			msg.Timestamp = ev.Timestamp.UnixMilli()
		}
		b.Publish(userID, msg)
	}
}

func streamPayload(ev agent.StreamEvent) map[string]interface{} {
	payload := make(map[string]interface{}, len(ev.Data)+1)
	for k, v := range ev.Data {
		payload[k] = v
	}
	if ev.Text != "" {
		payload["text"] = ev.Text
	}
	return payload
}
