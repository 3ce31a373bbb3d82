package mirror

import (
	"encoding/json"
	"testing"
	"time"
)

func decodePayload(t *testing.T, raw string) any {
	t.Helper()
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("decode payload failed: %v", err)
	}
	return payload
}

func TestNormalizeWorkflowsAcceptsBareArrayAndEnvelope(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	bare := decodePayload(t, `[{"id": "wf1", "name": "Billing", "active": true}]`)
	envelope := decodePayload(t, `{"data": [{"id": "wf1", "name": "Billing", "active": true}]}`)

	for _, payload := range []any{bare, envelope} {
		workflows := NormalizeWorkflows(payload, "env", now)
		if len(workflows) != 1 {
			t.Fatalf("expected 1 workflow, got %d", len(workflows))
		}
		wf := workflows[0]
		if wf.ID != "env:wf1" {
			t.Fatalf("expected prefixed id env:wf1, got %q", wf.ID)
		}
		if wf.Name != "Billing" || !wf.Active {
			t.Fatalf("unexpected workflow fields: %+v", wf)
		}
		if !wf.UpdatedAt.Equal(now) {
			t.Fatalf("expected updated_at %v, got %v", now, wf.UpdatedAt)
		}
	}
}

func TestNormalizeWorkflowsDropsRecordsWithoutID(t *testing.T) {
	now := time.Now().UTC()
	payload := decodePayload(t, `[
		{"name": "no id"},
		{"id": "  ", "name": "blank id"},
		{"id": "keep", "name": "Kept"},
		"not an object",
		{"id": 7, "name": "Numeric"}
	]`)
	workflows := NormalizeWorkflows(payload, "local", now)
	if len(workflows) != 2 {
		t.Fatalf("expected 2 workflows, got %d: %+v", len(workflows), workflows)
	}
	if workflows[0].ID != "local:keep" {
		t.Fatalf("expected local:keep, got %q", workflows[0].ID)
	}
	if workflows[1].ID != "local:7" {
		t.Fatalf("expected numeric id stringified as local:7, got %q", workflows[1].ID)
	}
}

func TestNormalizeWorkflowsUnrecognizedPayloadIsEmpty(t *testing.T) {
	now := time.Now().UTC()
	for _, payload := range []any{nil, "nonsense", map[string]any{"results": []any{}}, 42.0} {
		if got := NormalizeWorkflows(payload, "env", now); len(got) != 0 {
			t.Fatalf("expected empty result for payload %v, got %+v", payload, got)
		}
	}
}

func TestNormalizeExecutionsStatusFallback(t *testing.T) {
	payload := decodePayload(t, `[
		{"id": "e1", "workflowId": "w1", "finished": true},
		{"id": "e2", "workflowId": "w1", "finished": false},
		{"id": "e3", "workflowId": "w1", "finished": true, "status": "error"}
	]`)
	executions := NormalizeExecutions(payload, "env")
	if len(executions) != 3 {
		t.Fatalf("expected 3 executions, got %d", len(executions))
	}
	if executions[0].Status != "finished" {
		t.Fatalf("expected derived status finished, got %q", executions[0].Status)
	}
	if executions[1].Status != "running" {
		t.Fatalf("expected derived status running, got %q", executions[1].Status)
	}
	if executions[2].Status != "error" {
		t.Fatalf("expected upstream status preserved, got %q", executions[2].Status)
	}
}

func TestNormalizeExecutionsDropsWithoutIDs(t *testing.T) {
	payload := decodePayload(t, `[
		{"workflowId": "w1", "finished": true},
		{"id": "e1", "finished": true},
		{"executionId": "e2", "workflow_id": "w2"}
	]`)
	executions := NormalizeExecutions(payload, "env")
	if len(executions) != 1 {
		t.Fatalf("expected only the alternate-key record to survive, got %d", len(executions))
	}
	if executions[0].ID != "env:e2" || executions[0].WorkflowID != "env:w2" {
		t.Fatalf("unexpected ids: %+v", executions[0])
	}
}

func TestNormalizeExecutionsTimestamps(t *testing.T) {
	payload := decodePayload(t, `[
		{"id": "e1", "workflowId": "w1", "startedAt": "2026-08-01T10:30:00Z", "stoppedAt": "2026-08-01 10:31:00"},
		{"id": "e2", "workflowId": "w1", "startedAt": "not a time", "stoppedAt": null}
	]`)
	executions := NormalizeExecutions(payload, "env")
	if len(executions) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(executions))
	}

	first := executions[0]
	if first.StartedAt == nil || !first.StartedAt.Equal(time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected started_at: %v", first.StartedAt)
	}
	if first.StoppedAt == nil || first.StoppedAt.Minute() != 31 {
		t.Fatalf("unexpected stopped_at: %v", first.StoppedAt)
	}

	second := executions[1]
	if second.StartedAt != nil || second.StoppedAt != nil {
		t.Fatalf("unparseable timestamps should be nil, got %+v", second)
	}
	if second.ID != "env:e2" {
		t.Fatalf("record with bad timestamps must survive, got %q", second.ID)
	}
}

func TestCanonicalIDKeepsSourcesApart(t *testing.T) {
	payload := decodePayload(t, `[{"id": "wf1", "name": "Same upstream id"}]`)
	now := time.Now().UTC()
	a := NormalizeWorkflows(payload, "env", now)
	b := NormalizeWorkflows(payload, "local", now)
	if a[0].ID == b[0].ID {
		t.Fatalf("same upstream id from different sources must not collide: %q", a[0].ID)
	}
}

func TestStringifyIDNumericForms(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"abc", "abc"},
		{" abc ", "abc"},
		{float64(42), "42"},
		{float64(42.5), "42.5"},
		{nil, ""},
		{true, "true"},
	}
	for _, tc := range cases {
		if got := stringifyID(tc.in); got != tc.want {
			t.Fatalf("stringifyID(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
