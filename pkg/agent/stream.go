package agent

import (
	"context"
	"time"
)

// EventType names a stream event.
type EventType string

const (
	EventRunStarted       EventType = "run.started"
	EventTextDelta        EventType = "text.delta"
	EventThoughtDelta     EventType = "thought.delta"
	EventToolStarted      EventType = "tool.started"
	EventToolCompleted    EventType = "tool.completed"
	EventApprovalRequired EventType = "approval.required"
	EventRunCompleted     EventType = "run.completed"
	EventRunFailed        EventType = "run.failed"
)

// StreamEvent is one progress notification of a run or an approval resolution.
type StreamEvent struct {
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id"`
	ThreadID  string                 `json:"thread_id,omitempty"`
	Text      string                 `json:"text,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// emitter writes events to a caller-owned channel. Sends block until the consumer reads
// or ctx is done; once ctx is done nothing more is written. The channel is never closed here.
type emitter struct {
	ctx      context.Context
	ch       chan<- StreamEvent
	runID    string
	threadID string
}

func newEmitter(ctx context.Context, ch chan<- StreamEvent, runID, threadID string) *emitter {
	return &emitter{ctx: ctx, ch: ch, runID: runID, threadID: threadID}
}

func (e *emitter) emit(typ EventType, text string, data map[string]interface{}) {
	if e == nil || e.ch == nil || e.ctx.Err() != nil {
		return
	}

	event := StreamEvent{
		Type:      typ,
		RunID:     e.runID,
		ThreadID:  e.threadID,
		Text:      text,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	select {
	case e.ch <- event:
	case <-e.ctx.Done():
	}
}

func (e *emitter) textDelta(chunk string) {
	e.emit(EventTextDelta, chunk, nil)
}

func (e *emitter) thoughtDelta(chunk string) {
	e.emit(EventThoughtDelta, chunk, nil)
}
