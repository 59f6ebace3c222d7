package materialize

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/codeready-toolchain/evalpipeline/internal/normalize"
	"github.com/codeready-toolchain/evalpipeline/internal/schema"
	"github.com/codeready-toolchain/evalpipeline/internal/store"
)

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

const maxProcessingErrorLen = 2000

// processOne revalidates and dispatches one claimed row under its own
// savepoint, per spec.md §4.5 steps 2-4.
func (w *Worker) processOne(ctx context.Context, tx pgx.Tx, seq int, row claimedRow) error {
	sp, err := store.NewSavepoint(ctx, tx, seq)
	if err != nil {
		return err
	}

	var procErr error
	result := schema.ValidateEvent(row.payload)
	if !result.OK() {
		procErr = fmt.Errorf("revalidation failed: %v", result.Errors)
	} else {
		procErr = w.dispatch(ctx, tx, *result.Value)
	}

	if procErr == nil {
		_, err := tx.Exec(ctx, `
			UPDATE raw_events SET processed_at = now(), processing_error = NULL
			WHERE tenant = $1 AND event_id = $2`,
			row.tenant, row.eventID)
		if err != nil {
			return err
		}
		return sp.Release(ctx)
	}

	if err := sp.RollbackTo(ctx); err != nil {
		return err
	}

	newAttempt := row.attemptCount + 1
	truncated := truncate(procErr.Error(), maxProcessingErrorLen)

	if newAttempt >= w.cfg.MaxAttempts {
		_, err = tx.Exec(ctx, `
			UPDATE raw_events SET attempt_count = $3, processing_error = $4, processed_at = now()
			WHERE tenant = $1 AND event_id = $2`,
			row.tenant, row.eventID, newAttempt, truncated)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE raw_events SET attempt_count = $3, processing_error = $4
			WHERE tenant = $1 AND event_id = $2`,
			row.tenant, row.eventID, newAttempt, truncated)
	}
	if err != nil {
		return err
	}
	return sp.Release(ctx)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// dispatch is the exhaustive type switch over the seven event types.
func (w *Worker) dispatch(ctx context.Context, tx pgx.Tx, e schema.Event) error {
	switch e.Type {
	case schema.EventOrchestrationRunStarted:
		return upsertOrchestrationRunStarted(ctx, tx, e)
	case schema.EventOrchestrationRunCompleted:
		return upsertOrchestrationRunCompleted(ctx, tx, e)
	case schema.EventAgentRunStarted:
		return upsertAgentRunStarted(ctx, tx, e)
	case schema.EventAgentRunCompleted:
		return upsertAgentRunCompleted(ctx, tx, e, w.cfg.NormalizeOverrides)
	case schema.EventSignalEmitted:
		return upsertSignal(ctx, tx, e)
	case schema.EventMarketOutcomeIngested:
		return upsertMarketOutcome(ctx, tx, e)
	case schema.EventRetrievalContextAttached:
		return nil // reserved, see SPEC_FULL.md — validated and acknowledged, not persisted
	default:
		return fmt.Errorf("unreachable: unhandled event type %q", e.Type)
	}
}

func ensureOrchestrationRun(ctx context.Context, tx pgx.Tx, tenant, runID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO orchestration_runs (tenant, run_id, status)
		VALUES ($1, $2, 'running')
		ON CONFLICT (tenant, run_id) DO NOTHING`,
		tenant, runID)
	return err
}

func upsertOrchestrationRunStarted(ctx context.Context, tx pgx.Tx, e schema.Event) error {
	sub := e.OrchestrationRunStart
	_, err := tx.Exec(ctx, `
		INSERT INTO orchestration_runs (tenant, run_id, workflow, query, request_time, status, started_at)
		VALUES ($1, $2, $3, $4, $5, 'running', $6)
		ON CONFLICT (tenant, run_id) DO UPDATE SET
			workflow = COALESCE(orchestration_runs.workflow, EXCLUDED.workflow),
			query = COALESCE(orchestration_runs.query, EXCLUDED.query),
			request_time = COALESCE(orchestration_runs.request_time, EXCLUDED.request_time),
			started_at = LEAST(
				COALESCE(orchestration_runs.started_at, EXCLUDED.started_at),
				COALESCE(EXCLUDED.started_at, orchestration_runs.started_at))`,
		e.TenantID, e.OrchestrationRunID, sub.Workflow, nullIfEmpty(sub.Query), sub.RequestTime, sub.RequestTime)
	return err
}

func upsertOrchestrationRunCompleted(ctx context.Context, tx pgx.Tx, e schema.Event) error {
	if err := ensureOrchestrationRun(ctx, tx, e.TenantID, e.OrchestrationRunID); err != nil {
		return err
	}
	sub := e.OrchestrationRunCompleted
	status := "error"
	if sub.Status == "success" {
		status = "success"
	}
	_, err := tx.Exec(ctx, `
		UPDATE orchestration_runs SET
			status = $3,
			completed_at = COALESCE(orchestration_runs.completed_at, $4),
			total_latency_ms = COALESCE(orchestration_runs.total_latency_ms, $5),
			error_code = COALESCE(orchestration_runs.error_code, $6),
			error_message = COALESCE(orchestration_runs.error_message, $7)
		WHERE tenant = $1 AND run_id = $2`,
		e.TenantID, e.OrchestrationRunID, status, sub.CompletedAt, sub.TotalLatencyMs, sub.ErrorCode, sub.ErrorMessage)
	return err
}

func upsertAgentRunStarted(ctx context.Context, tx pgx.Tx, e schema.Event) error {
	if err := ensureOrchestrationRun(ctx, tx, e.TenantID, e.OrchestrationRunID); err != nil {
		return err
	}
	sub := e.AgentRunStart
	_, err := tx.Exec(ctx, `
		INSERT INTO agent_runs (tenant, agent_run_id, orchestration_run_id, agent_id, agent_version, model, config_hash, parent_agent_run_id, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant, agent_run_id) DO UPDATE SET
			agent_id = COALESCE(agent_runs.agent_id, EXCLUDED.agent_id),
			agent_version = COALESCE(agent_runs.agent_version, EXCLUDED.agent_version),
			model = COALESCE(agent_runs.model, EXCLUDED.model),
			config_hash = COALESCE(agent_runs.config_hash, EXCLUDED.config_hash),
			parent_agent_run_id = COALESCE(agent_runs.parent_agent_run_id, EXCLUDED.parent_agent_run_id),
			started_at = LEAST(
				COALESCE(agent_runs.started_at, EXCLUDED.started_at),
				COALESCE(EXCLUDED.started_at, agent_runs.started_at))`,
		e.TenantID, sub.AgentRunID, e.OrchestrationRunID, sub.AgentID, sub.AgentVersion, sub.Model, sub.ConfigHash, sub.ParentAgentRunID, sub.StartedAt)
	return err
}

func upsertAgentRunCompleted(ctx context.Context, tx pgx.Tx, e schema.Event, normalizeOverrides map[string]normalize.WorkflowConfig) error {
	if err := ensureOrchestrationRun(ctx, tx, e.TenantID, e.OrchestrationRunID); err != nil {
		return err
	}
	sub := e.AgentRunCompleted
	_, err := tx.Exec(ctx, `
		INSERT INTO agent_runs (tenant, agent_run_id, orchestration_run_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant, agent_run_id) DO NOTHING`,
		e.TenantID, sub.AgentRunID, e.OrchestrationRunID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE agent_runs SET
			completed_at = COALESCE(agent_runs.completed_at, $3),
			latency_ms = COALESCE(agent_runs.latency_ms, $4),
			output_summary = COALESCE(agent_runs.output_summary, $5),
			output_uri = COALESCE(agent_runs.output_uri, $6)
		WHERE tenant = $1 AND agent_run_id = $2`,
		e.TenantID, sub.AgentRunID, sub.CompletedAt, sub.Metrics.LatencyMs, sub.OutputSummary, sub.OutputURI)
	if err != nil {
		return err
	}

	return insertEvaluationRecord(ctx, tx, e.TenantID, sub.AgentRunID, sub.Metrics, normalizeOverrides)
}

// insertEvaluationRecord computes normalized metrics and aggregates via C2
// and inserts a no-op-on-conflict EvaluationRecord, denormalizing the
// workflow/agent/version grouping columns from the owning runs. The
// workflow's normalization override (if any) is resolved onto the global
// default per spec.md §4.2 before normalizing.
func insertEvaluationRecord(ctx context.Context, tx pgx.Tx, tenant, agentRunID string, metrics schema.Metrics, normalizeOverrides map[string]normalize.WorkflowConfig) error {
	var workflow, agent, version *string
	err := tx.QueryRow(ctx, `
		SELECT o.workflow, a.agent_id, a.agent_version
		FROM agent_runs a JOIN orchestration_runs o
			ON o.tenant = a.tenant AND o.run_id = a.orchestration_run_id
		WHERE a.tenant = $1 AND a.agent_run_id = $2`,
		tenant, agentRunID).Scan(&workflow, &agent, &version)
	if err != nil {
		return fmt.Errorf("resolve grouping columns for agent run %s: %w", agentRunID, err)
	}

	cfg := normalize.DefaultConfig()
	if workflow != nil {
		if override, ok := normalizeOverrides[*workflow]; ok {
			resolved, err := normalize.Resolve(cfg, &override)
			if err != nil {
				return fmt.Errorf("resolve normalization override for workflow %s: %w", *workflow, err)
			}
			cfg = resolved
		}
	}

	raw := normalize.RawMetrics{
		LatencyMs:         &metrics.LatencyMs,
		Faithfulness:      metrics.Faithfulness,
		HallucinationFlag: metrics.HallucinationFlag,
		Coverage:          metrics.Coverage,
		Confidence:        metrics.Confidence,
	}
	normalized := normalize.Normalize(raw, cfg)
	quality := normalize.RunQualityScore(normalized, cfg.QualityWeights)
	risk := normalize.RiskScore(normalized)

	evaluationID := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO evaluation_records (
			tenant, evaluation_id, agent_run_id,
			latency_ms, faithfulness, hallucination_flag, coverage, confidence,
			latency_norm, faithfulness_norm, hallucination_norm, coverage_norm, confidence_norm,
			run_quality_score, risk_score,
			evaluator_version, normalization_version, weighting_version,
			workflow, agent, version
		) VALUES ($1,$2,$3, $4,$5,$6,$7,$8, $9,$10,$11,$12,$13, $14,$15, 'v1','v1','v1', $16,$17,$18)
		ON CONFLICT (tenant, agent_run_id) DO NOTHING`,
		tenant, evaluationID, agentRunID,
		metrics.LatencyMs, metrics.Faithfulness, metrics.HallucinationFlag, metrics.Coverage, metrics.Confidence,
		normalized.LatencyNorm, normalized.FaithfulnessNorm, normalized.HallucinationNorm, normalized.CoverageNorm, normalized.ConfidenceNorm,
		quality, risk,
		workflow, agent, version)
	return err
}

func upsertSignal(ctx context.Context, tx pgx.Tx, e schema.Event) error {
	sub := e.Signal
	universeJSON, err := marshalJSON(sub.InstrumentUniverse)
	if err != nil {
		return err
	}
	valueJSON, err := marshalJSON(sub.SignalValue)
	if err != nil {
		return err
	}
	constraintsJSON, err := marshalJSON(sub.Constraints)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO signals (tenant, signal_id, event_time, horizon, instrument_universe, signal_value, confidence, constraints)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant, signal_id) DO UPDATE SET
			event_time = EXCLUDED.event_time,
			horizon = EXCLUDED.horizon,
			instrument_universe = EXCLUDED.instrument_universe,
			signal_value = EXCLUDED.signal_value,
			confidence = EXCLUDED.confidence,
			constraints = EXCLUDED.constraints`,
		e.TenantID, sub.SignalID, e.EventTime, sub.Horizon, universeJSON, valueJSON, sub.Confidence, constraintsJSON)
	return err
}

func upsertMarketOutcome(ctx context.Context, tx pgx.Tx, e schema.Event) error {
	sub := e.MarketOutcome
	_, err := tx.Exec(ctx, `
		INSERT INTO market_outcomes (tenant, dataset_version, instrument_id, asof_time, realized_return, benchmark_return)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant, dataset_version, instrument_id, asof_time) DO NOTHING`,
		e.TenantID, sub.DatasetVersion, sub.InstrumentID, sub.AsofTime, sub.RealizedReturn, sub.BenchmarkReturn)
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
