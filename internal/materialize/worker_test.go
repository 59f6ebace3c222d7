package materialize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/evalpipeline/internal/normalize"
	"github.com/codeready-toolchain/evalpipeline/internal/store/storetest"
)

func TestMaterializeAgentRunCompletedCreatesEvaluationRecord(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()

	orchestrationID := "run-1"
	agentRunID := "11111111-1111-1111-1111-111111111111"

	startPayload := `{
		"schema_version": "v1", "type": "OrchestrationRunStarted",
		"event_id": "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa", "tenant_id": "tenant-a",
		"orchestration_run_id": "` + orchestrationID + `", "workflow_id": "wf-1",
		"request_timestamp": "2026-07-01T00:00:00Z", "event_time": "2026-07-01T00:00:00Z",
		"orchestration": {"workflow": "research-brief", "request_time": "2026-07-01T00:00:00Z"}
	}`
	agentStartPayload := `{
		"schema_version": "v1", "type": "AgentRunStarted",
		"event_id": "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb", "tenant_id": "tenant-a",
		"orchestration_run_id": "` + orchestrationID + `", "workflow_id": "wf-1",
		"request_timestamp": "2026-07-01T00:00:00Z", "event_time": "2026-07-01T00:00:01Z",
		"agent_run": {"agent_run_id": "` + agentRunID + `", "agent_id": "retriever", "agent_version": "1.0.0", "started_at": "2026-07-01T00:00:01Z"}
	}`
	agentCompletePayload := `{
		"schema_version": "v1", "type": "AgentRunCompleted",
		"event_id": "cccccccc-cccc-cccc-cccc-cccccccccccc", "tenant_id": "tenant-a",
		"orchestration_run_id": "` + orchestrationID + `", "workflow_id": "wf-1",
		"request_timestamp": "2026-07-01T00:00:00Z", "event_time": "2026-07-01T00:00:05Z",
		"agent_run": {
			"agent_run_id": "` + agentRunID + `", "completed_at": "2026-07-01T00:00:05Z",
			"metrics": {"latency_ms": 120, "faithfulness": 0.9, "coverage": 0.8, "confidence": 0.95, "hallucination_flag": false}
		}
	}`

	for _, p := range []struct{ id, typ, payload string }{
		{"aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa", "OrchestrationRunStarted", startPayload},
		{"bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb", "AgentRunStarted", agentStartPayload},
		{"cccccccc-cccc-cccc-cccc-cccccccccccc", "AgentRunCompleted", agentCompletePayload},
	} {
		_, err := st.Pool.Exec(ctx, `
			INSERT INTO raw_events (tenant, event_id, schema_version, type, event_time, payload)
			VALUES ('tenant-a', $1, 'v1', $2, now(), $3)`, p.id, p.typ, p.payload)
		require.NoError(t, err)
	}

	w := NewWorker("test-worker", st, Config{BatchSize: 10, MaxAttempts: 5, PollInterval: 10 * time.Millisecond})
	processed, err := w.cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, processed)

	var unprocessed int
	err = st.Pool.QueryRow(ctx, `SELECT count(*) FROM raw_events WHERE processed_at IS NULL`).Scan(&unprocessed)
	require.NoError(t, err)
	assert.Equal(t, 0, unprocessed)

	var runStatus string
	err = st.Pool.QueryRow(ctx, `SELECT status FROM orchestration_runs WHERE tenant='tenant-a' AND run_id=$1`, orchestrationID).Scan(&runStatus)
	require.NoError(t, err)
	assert.Equal(t, "running", runStatus)

	var qualityScore float64
	var workflow, agent string
	err = st.Pool.QueryRow(ctx, `
		SELECT run_quality_score, workflow, agent FROM evaluation_records
		WHERE tenant='tenant-a' AND agent_run_id=$1`, agentRunID).Scan(&qualityScore, &workflow, &agent)
	require.NoError(t, err)
	assert.Greater(t, qualityScore, 0.0)
	assert.Equal(t, "research-brief", workflow)
	assert.Equal(t, "retriever", agent)
}

func TestMaterializeAppliesPerWorkflowNormalizeOverride(t *testing.T) {
	ctx := context.Background()

	runQualityScoreFor := func(overrides map[string]normalize.WorkflowConfig) float64 {
		st := storetest.New(t)
		orchestrationID := "run-1"
		agentRunID := "11111111-1111-1111-1111-111111111111"

		startPayload := `{
			"schema_version": "v1", "type": "OrchestrationRunStarted",
			"event_id": "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa", "tenant_id": "tenant-a",
			"orchestration_run_id": "` + orchestrationID + `", "workflow_id": "wf-1",
			"request_timestamp": "2026-07-01T00:00:00Z", "event_time": "2026-07-01T00:00:00Z",
			"orchestration": {"workflow": "research-brief", "request_time": "2026-07-01T00:00:00Z"}
		}`
		agentStartPayload := `{
			"schema_version": "v1", "type": "AgentRunStarted",
			"event_id": "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb", "tenant_id": "tenant-a",
			"orchestration_run_id": "` + orchestrationID + `", "workflow_id": "wf-1",
			"request_timestamp": "2026-07-01T00:00:00Z", "event_time": "2026-07-01T00:00:01Z",
			"agent_run": {"agent_run_id": "` + agentRunID + `", "agent_id": "retriever", "agent_version": "1.0.0", "started_at": "2026-07-01T00:00:01Z"}
		}`
		agentCompletePayload := `{
			"schema_version": "v1", "type": "AgentRunCompleted",
			"event_id": "cccccccc-cccc-cccc-cccc-cccccccccccc", "tenant_id": "tenant-a",
			"orchestration_run_id": "` + orchestrationID + `", "workflow_id": "wf-1",
			"request_timestamp": "2026-07-01T00:00:00Z", "event_time": "2026-07-01T00:00:05Z",
			"agent_run": {
				"agent_run_id": "` + agentRunID + `", "completed_at": "2026-07-01T00:00:05Z",
				"metrics": {"latency_ms": 4000}
			}
		}`

		for _, p := range []struct{ id, typ, payload string }{
			{"aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa", "OrchestrationRunStarted", startPayload},
			{"bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb", "AgentRunStarted", agentStartPayload},
			{"cccccccc-cccc-cccc-cccc-cccccccccccc", "AgentRunCompleted", agentCompletePayload},
		} {
			_, err := st.Pool.Exec(ctx, `
				INSERT INTO raw_events (tenant, event_id, schema_version, type, event_time, payload)
				VALUES ('tenant-a', $1, 'v1', $2, now(), $3)`, p.id, p.typ, p.payload)
			require.NoError(t, err)
		}

		w := NewWorker("test-worker", st, Config{BatchSize: 10, MaxAttempts: 5, PollInterval: 10 * time.Millisecond, NormalizeOverrides: overrides})
		_, err := w.cycle(ctx)
		require.NoError(t, err)

		var score float64
		err = st.Pool.QueryRow(ctx, `
			SELECT run_quality_score FROM evaluation_records
			WHERE tenant='tenant-a' AND agent_run_id=$1`, agentRunID).Scan(&score)
		require.NoError(t, err)
		return score
	}

	defaultScore := runQualityScoreFor(nil)
	overriddenScore := runQualityScoreFor(map[string]normalize.WorkflowConfig{
		"research-brief": {LatencyP99TargetMS: 200},
	})

	// A tighter latency target for "research-brief" penalizes the same
	// 4000ms latency more harshly, so the overridden quality score must be
	// strictly lower than the one computed under the global default.
	assert.Less(t, overriddenScore, defaultScore)
}

func TestMaterializePermanentFailureReachesDeadState(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()

	_, err := st.Pool.Exec(ctx, `
		INSERT INTO raw_events (tenant, event_id, schema_version, type, event_time, payload)
		VALUES ('tenant-a', 'dddddddd-dddd-dddd-dddd-dddddddddddd', 'v1', 'AgentRunCompleted', now(), '{"not": "a valid event"}')`)
	require.NoError(t, err)

	w := NewWorker("test-worker", st, Config{BatchSize: 10, MaxAttempts: 2, PollInterval: time.Millisecond})

	_, err = w.cycle(ctx)
	require.NoError(t, err)
	_, err = w.cycle(ctx)
	require.NoError(t, err)

	var attemptCount int
	var processedAt *time.Time
	err = st.Pool.QueryRow(ctx, `
		SELECT attempt_count, processed_at FROM raw_events WHERE tenant='tenant-a' AND event_id='dddddddd-dddd-dddd-dddd-dddddddddddd'`).
		Scan(&attemptCount, &processedAt)
	require.NoError(t, err)
	assert.Equal(t, 2, attemptCount)
	assert.NotNil(t, processedAt)
}
