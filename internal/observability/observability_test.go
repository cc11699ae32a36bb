package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogger_Record(t *testing.T) {
	var buf bytes.Buffer
	prev := SetAuditLogger(NewAuditLogger(&buf))
	t.Cleanup(func() { SetAuditLogger(prev) })

	RecordPolicyAudit(context.Background(), "gmail_send", "u1", "require_approval",
		"supervised trust requires approval before gmail_send runs",
		map[string]interface{}{"run_id": "r1"})

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	assert.Equal(t, "policy", event["type"])
	assert.Equal(t, "u1", event["actor"])
	assert.Equal(t, "policy:gmail_send", event["action"])
	assert.Equal(t, "require_approval", event["status"])
	assert.Equal(t, "supervised trust requires approval before gmail_send runs", event["reason"])
	assert.Equal(t, "r1", event["metadata"].(map[string]interface{})["run_id"])
}

func TestAuditLogger_Helpers(t *testing.T) {
	var buf bytes.Buffer
	prev := SetAuditLogger(NewAuditLogger(&buf))
	t.Cleanup(func() { SetAuditLogger(prev) })

	RecordApprovalAudit(context.Background(), "resolve", "u1", "rejected", nil)
	RecordToolAudit(context.Background(), "chat_post_message", "u1", "success", nil)
	RecordConfigAudit(context.Background(), "agent_options_reloaded", "system", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"action":"approval:resolve"`)
	assert.Contains(t, lines[1], `"action":"execute:chat_post_message"`)
	assert.Contains(t, lines[2], `"type":"config"`)
}

func TestMetrics_Counters(t *testing.T) {
	m := getMetrics()

	before := testutil.ToFloat64(m.policyDecisionTotal.WithLabelValues("gmail_send", "deny"))
	RecordPolicyDecision("gmail_send", "deny")
	assert.Equal(t, before+1, testutil.ToFloat64(m.policyDecisionTotal.WithLabelValues("gmail_send", "deny")))

	before = testutil.ToFloat64(m.secondaryFailuresTotal.WithLabelValues("save_run"))
	RecordSecondaryFailure("save_run")
	assert.Equal(t, before+1, testutil.ToFloat64(m.secondaryFailuresTotal.WithLabelValues("save_run")))

	SetPendingApprovals(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(m.pendingApprovals))

	before = testutil.ToFloat64(m.toolExecutionTotal.WithLabelValues("gmail_send", "approval", "error"))
	RecordToolExecution("gmail_send", "approval", 10*time.Millisecond, false)
	assert.Equal(t, before+1, testutil.ToFloat64(m.toolExecutionTotal.WithLabelValues("gmail_send", "approval", "error")))
}

func TestMetricsHandler(t *testing.T) {
	RecordRun("assistant_text", "completed", 1, time.Second)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "steward_run_total")
}
