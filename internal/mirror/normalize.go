package mirror

import (
	"fmt"
	"strings"
	"time"

	"github.com/opsboard/flowmirror/internal/store"
)

// NormalizeWorkflows converts one source's raw workflow payload into
// canonical records. The payload may be a bare JSON array or an envelope
// object with the array under "data"; anything else normalizes to empty.
// Records without a resolvable id are dropped. Pure: no network, no store.
func NormalizeWorkflows(payload any, prefix string, now time.Time) []store.Workflow {
	var workflows []store.Workflow
	for _, item := range payloadItems(payload) {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := canonicalID(prefix, raw["id"])
		if id == "" {
			continue
		}
		name, _ := raw["name"].(string)
		active, _ := raw["active"].(bool)
		workflows = append(workflows, store.Workflow{
			ID:        id,
			Name:      name,
			Active:    active,
			UpdatedAt: now,
		})
	}
	return workflows
}

// NormalizeExecutions converts one source's raw execution payload into
// canonical records. Status falls back to "finished"/"running" derived from
// the finished flag when the upstream omits it. Timestamps are best-effort:
// an unparseable value yields a nil timestamp, never a dropped record.
// Records without a resolvable execution or workflow id are dropped.
func NormalizeExecutions(payload any, prefix string) []store.Execution {
	var executions []store.Execution
	for _, item := range payloadItems(payload) {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := canonicalID(prefix, firstValue(raw, "id", "executionId"))
		workflowID := canonicalID(prefix, firstValue(raw, "workflowId", "workflow_id"))
		if id == "" || workflowID == "" {
			continue
		}
		finished, _ := raw["finished"].(bool)
		status, _ := raw["status"].(string)
		if status == "" {
			if finished {
				status = "finished"
			} else {
				status = "running"
			}
		}
		executions = append(executions, store.Execution{
			ID:         id,
			WorkflowID: workflowID,
			Status:     status,
			Finished:   finished,
			StartedAt:  parseTimestamp(firstValue(raw, "startedAt", "started_at")),
			StoppedAt:  parseTimestamp(firstValue(raw, "stoppedAt", "stopped_at")),
		})
	}
	return executions
}

// payloadItems unwraps the two accepted payload shapes.
func payloadItems(payload any) []any {
	switch v := payload.(type) {
	case []any:
		return v
	case map[string]any:
		if items, ok := v["data"].([]any); ok {
			return items
		}
	}
	return nil
}

func firstValue(raw map[string]any, keys ...string) any {
	for _, key := range keys {
		if value, ok := raw[key]; ok && value != nil {
			return value
		}
	}
	return nil
}

// canonicalID builds "<prefix>:<raw id>". Upstreams report ids as strings
// or numbers; both stringify the same way here. A missing id yields "".
func canonicalID(prefix string, rawID any) string {
	id := stringifyID(rawID)
	if id == "" {
		return ""
	}
	return prefix + ":" + id
}

func stringifyID(rawID any) string {
	switch v := rawID.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// timestampLayouts are tried in order; upstreams disagree on fractional
// seconds and zone notation.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(raw any) *time.Time {
	text, ok := raw.(string)
	if !ok {
		return nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			return &parsed
		}
	}
	return nil
}
