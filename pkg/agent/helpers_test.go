package agent

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/harun/steward/internal/observability"
	"github.com/harun/steward/pkg/memory"
	"github.com/harun/steward/pkg/models"
	"github.com/harun/steward/pkg/policy"
	"github.com/harun/steward/pkg/store"
	"github.com/harun/steward/pkg/tools"
)

// countingMail records every send so tests can assert how often a side effect happened.
type countingMail struct {
	sends   atomic.Int32
	sendErr error
	delay   time.Duration

	mu   sync.Mutex
	sent []tools.OutgoingMail
}

func (m *countingMail) Send(ctx context.Context, userID string, msg tools.OutgoingMail) (string, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.sends.Add(1)
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return "msg-1", nil
}

func (m *countingMail) Search(ctx context.Context, userID, query string, maxResults int) ([]tools.MailSummary, error) {
	return []tools.MailSummary{{ID: "m1", From: "dana@example.com", Subject: "Agenda"}}, nil
}

type nopCalendar struct{}

func (nopCalendar) ListEvents(ctx context.Context, userID string, from, to time.Time) ([]tools.CalendarEvent, error) {
	return nil, nil
}

func (nopCalendar) CreateEvent(ctx context.Context, userID string, event tools.CalendarEvent) (string, error) {
	return "evt-1", nil
}

type nopChat struct{}

func (nopChat) PostMessage(ctx context.Context, channel, text string) (string, error) {
	return "1700000000.000100", nil
}

// scriptedPlanner replays responses in order and repeats the last one when exhausted.
type scriptedPlanner struct {
	responses []*PlanResponse
	err       error
	onPlan    func(ctx context.Context, req PlanRequest) (*PlanResponse, error)

	mu       sync.Mutex
	requests []PlanRequest
}

func (p *scriptedPlanner) Provider() string { return "scripted" }

func (p *scriptedPlanner) Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	n := len(p.requests)
	p.mu.Unlock()

	if p.onPlan != nil {
		return p.onPlan(ctx, req)
	}
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &PlanResponse{Model: "scripted-1", Text: "ok"}, nil
	}
	if n > len(p.responses) {
		n = len(p.responses)
	}
	resp := *p.responses[n-1]
	if req.OnTextDelta != nil && resp.Text != "" {
		req.OnTextDelta(resp.Text)
	}
	return &resp, nil
}

func (p *scriptedPlanner) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedPlanner) lastRequest() PlanRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

func answer(text string) *PlanResponse {
	return &PlanResponse{Model: "scripted-1", Text: text}
}

func callTool(name string, args map[string]interface{}) *PlanResponse {
	return &PlanResponse{
		Model:     "scripted-1",
		ToolCalls: []ToolCall{{ID: "call-1", Name: name, Args: args}},
	}
}

func sendMailCall() *PlanResponse {
	return callTool(tools.GmailSendName, map[string]interface{}{
		"to":      "Dana@Example.com",
		"subject": "Agenda",
		"body":    "Here is the agenda for Monday.",
	})
}

func searchCall() *PlanResponse {
	return callTool(tools.GmailSearchName, map[string]interface{}{"query": "agenda"})
}

type harness struct {
	db      *store.DB
	orch    *Orchestrator
	mail    *countingMail
	planner *scriptedPlanner
	engine  *policy.Engine
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	opts     Options
	wrap     func(*store.DB) Store
	registry func(tools.Providers) (*tools.Registry, error)
	mail     *countingMail
}

func withOptions(opts Options) harnessOption {
	return func(c *harnessConfig) { c.opts = opts }
}

func withStore(wrap func(*store.DB) Store) harnessOption {
	return func(c *harnessConfig) { c.wrap = wrap }
}

func withMail(mail *countingMail) harnessOption {
	return func(c *harnessConfig) { c.mail = mail }
}

func newHarness(t *testing.T, planner Planner, options ...harnessOption) *harness {
	t.Helper()

	prev := observability.SetAuditLogger(observability.NewAuditLogger(io.Discard))
	t.Cleanup(func() { observability.SetAuditLogger(prev) })

	cfg := harnessConfig{
		opts:     DefaultOptions(),
		registry: tools.NewBuiltinRegistry,
		mail:     &countingMail{},
	}
	for _, opt := range options {
		opt(&cfg)
	}

	var tick atomic.Int64
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	db, err := store.Open(store.Config{
		Path:   filepath.Join(t.TempDir(), "steward.db"),
		Logger: zerolog.Nop(),
		Now: func() time.Time {
			return base.Add(time.Duration(tick.Add(1)) * time.Millisecond)
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry, err := cfg.registry(tools.Providers{Mail: cfg.mail, Calendar: nopCalendar{}, Chat: nopChat{}})
	require.NoError(t, err)

	engine, err := policy.NewEngine(policy.Config{Trust: db, Allowlist: db, Logger: zerolog.Nop()})
	require.NoError(t, err)

	mem, err := memory.NewProvider(memory.Config{Store: db, Logger: zerolog.Nop()})
	require.NoError(t, err)

	var st Store = db
	if cfg.wrap != nil {
		st = cfg.wrap(db)
	}

	orch, err := New(Config{
		Store:    st,
		Planner:  planner,
		Registry: registry,
		Policy:   engine,
		Memory:   mem,
		Options:  cfg.opts,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return base },
	})
	require.NoError(t, err)

	h := &harness{db: db, orch: orch, mail: cfg.mail, engine: engine}
	h.planner, _ = planner.(*scriptedPlanner)
	return h
}

func (h *harness) setTrust(t *testing.T, userID string, level models.TrustLevel) {
	t.Helper()
	require.NoError(t, h.db.SetTrustLevel(context.Background(), userID, level))
}

var errInjected = errors.New("injected failure")
