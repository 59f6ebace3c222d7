package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOrchestrationStartJSON() string {
	return `{
		"schema_version": "v1",
		"type": "OrchestrationRunStarted",
		"event_id": "11111111-1111-1111-1111-111111111111",
		"tenant_id": "tenant-a",
		"orchestration_run_id": "22222222-2222-2222-2222-222222222222",
		"workflow_id": "wf-1",
		"request_timestamp": "2026-07-01T00:00:00Z",
		"event_time": "2026-07-01T00:00:01Z",
		"orchestration": {
			"workflow": "research-brief",
			"query": "what happened to rates this week",
			"request_time": "2026-07-01T00:00:00Z"
		}
	}`
}

func TestValidateEventAcceptsWellFormedOrchestrationStart(t *testing.T) {
	r := ValidateEvent(json.RawMessage(validOrchestrationStartJSON()))
	require.True(t, r.OK(), "errors: %+v", r.Errors)
	require.NotNil(t, r.Value)
	assert.Equal(t, EventOrchestrationRunStarted, r.Value.Type)
	require.NotNil(t, r.Value.OrchestrationRunStart)
	assert.Equal(t, "research-brief", r.Value.OrchestrationRunStart.Workflow)
}

func TestValidateEventRejectsUnknownTopLevelField(t *testing.T) {
	raw := `{
		"schema_version": "v1",
		"type": "OrchestrationRunStarted",
		"event_id": "11111111-1111-1111-1111-111111111111",
		"tenant_id": "tenant-a",
		"orchestration_run_id": "22222222-2222-2222-2222-222222222222",
		"workflow_id": "wf-1",
		"request_timestamp": "2026-07-01T00:00:00Z",
		"event_time": "2026-07-01T00:00:01Z",
		"unexpected_field": true,
		"orchestration": {"workflow": "x", "request_time": "2026-07-01T00:00:00Z"}
	}`
	r := ValidateEvent(json.RawMessage(raw))
	assert.False(t, r.OK())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "type", r.Errors[0].Keyword)
}

func TestValidateEventRejectsWrongSchemaVersion(t *testing.T) {
	raw := `{
		"schema_version": "v2",
		"type": "OrchestrationRunStarted",
		"event_id": "11111111-1111-1111-1111-111111111111",
		"tenant_id": "tenant-a",
		"orchestration_run_id": "22222222-2222-2222-2222-222222222222",
		"workflow_id": "wf-1",
		"request_timestamp": "2026-07-01T00:00:00Z",
		"event_time": "2026-07-01T00:00:01Z",
		"orchestration": {"workflow": "x", "request_time": "2026-07-01T00:00:00Z"}
	}`
	r := ValidateEvent(json.RawMessage(raw))
	assert.False(t, r.OK())
	var found bool
	for _, e := range r.Errors {
		if e.Path == "/schema_version" && e.Keyword == "const" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateEventRejectsMissingRequiredEnvelopeFields(t *testing.T) {
	raw := `{"schema_version": "v1", "type": "OrchestrationRunStarted"}`
	r := ValidateEvent(json.RawMessage(raw))
	assert.False(t, r.OK())
	assert.GreaterOrEqual(t, len(r.Errors), 4)
}

func TestValidateEventRejectsMissingSubObject(t *testing.T) {
	raw := `{
		"schema_version": "v1",
		"type": "OrchestrationRunStarted",
		"event_id": "11111111-1111-1111-1111-111111111111",
		"tenant_id": "tenant-a",
		"orchestration_run_id": "22222222-2222-2222-2222-222222222222",
		"workflow_id": "wf-1",
		"request_timestamp": "2026-07-01T00:00:00Z",
		"event_time": "2026-07-01T00:00:01Z"
	}`
	r := ValidateEvent(json.RawMessage(raw))
	assert.False(t, r.OK())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "/orchestration", r.Errors[0].Path)
	assert.Equal(t, "required", r.Errors[0].Keyword)
}

func TestValidateEventRejectsUnrecognizedType(t *testing.T) {
	raw := `{
		"schema_version": "v1",
		"type": "SomethingElse",
		"event_id": "11111111-1111-1111-1111-111111111111",
		"tenant_id": "tenant-a",
		"orchestration_run_id": "22222222-2222-2222-2222-222222222222",
		"workflow_id": "wf-1",
		"request_timestamp": "2026-07-01T00:00:00Z",
		"event_time": "2026-07-01T00:00:01Z"
	}`
	r := ValidateEvent(json.RawMessage(raw))
	assert.False(t, r.OK())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "/type", r.Errors[0].Path)
}

func TestValidateEventAgentRunCompletedValidatesMetrics(t *testing.T) {
	raw := `{
		"schema_version": "v1",
		"type": "AgentRunCompleted",
		"event_id": "11111111-1111-1111-1111-111111111111",
		"tenant_id": "tenant-a",
		"orchestration_run_id": "22222222-2222-2222-2222-222222222222",
		"workflow_id": "wf-1",
		"request_timestamp": "2026-07-01T00:00:00Z",
		"event_time": "2026-07-01T00:00:01Z",
		"agent_run": {
			"agent_run_id": "33333333-3333-3333-3333-333333333333",
			"completed_at": "2026-07-01T00:00:05Z",
			"metrics": {"latency_ms": -1}
		}
	}`
	r := ValidateEvent(json.RawMessage(raw))
	assert.False(t, r.OK())
	var found bool
	for _, e := range r.Errors {
		if e.Keyword == "gte" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateBatchSeparatesGoodAndBadByIndex(t *testing.T) {
	good := json.RawMessage(validOrchestrationStartJSON())
	bad := json.RawMessage(`{"schema_version": "v1"}`)
	result := ValidateBatch([]json.RawMessage{good, bad})
	assert.Len(t, result.Values, 1)
	assert.Contains(t, result.PerEventErrors, 1)
	assert.NotContains(t, result.PerEventErrors, 0)
}

func TestCheckBatchInvariantsRejectsEmptyAndMixedTenant(t *testing.T) {
	errs := CheckBatchInvariants(nil)
	require.Len(t, errs, 1)
	assert.Equal(t, "minItems", errs[0].Keyword)

	a := Event{Envelope: Envelope{TenantID: "tenant-a"}}
	bEvt := Event{Envelope: Envelope{TenantID: "tenant-b"}}
	errs = CheckBatchInvariants([]Event{a, bEvt})
	require.Len(t, errs, 1)
	assert.Equal(t, "tenant", errs[0].Keyword)

	errs = CheckBatchInvariants([]Event{a, a})
	assert.Empty(t, errs)
}
