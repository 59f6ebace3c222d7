// Package slo implements the SLO breach job (C10): materializes rollups via
// C6, then evaluates each hourly group against a per-workflow SLO and routes
// breaches through C11 as run_investigation actions.
package slo

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/evalpipeline/internal/actions"
	"github.com/codeready-toolchain/evalpipeline/internal/rollup"
	"github.com/codeready-toolchain/evalpipeline/internal/store"
)

// Options is one workflow's SLO thresholds. Nil fields are not evaluated.
type Options struct {
	MaxLatencyP95Ms    *float64 `json:"max_latency_p95_ms,omitempty"`
	MinFaithfulnessP05 *float64 `json:"min_faithfulness_p05,omitempty"`
	MinQualityP05      *float64 `json:"min_quality_p05,omitempty"`
	MaxAnomalyRate     *float64 `json:"max_anomaly_rate,omitempty"`
}

// Config tunes one SLO run: per-workflow options and the rollup lookback
// window to materialize first.
type Config struct {
	Lookback    time.Duration
	PerWorkflow map[string]Options
}

// Violation describes one breach of a workflow's SLO for one hourly group.
type Violation struct {
	Workflow, Agent, Version string
	HourBucket               time.Time
	Kind                     string
}

// Run materializes rollups for tenant, then evaluates every hourly row
// against the matching workflow's SLO, creating run_investigation actions
// for breaches. Returns the violations found.
func Run(ctx context.Context, s *store.Store, tenant string, cfg Config) ([]Violation, error) {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}

	if _, err := rollup.Build(ctx, s, tenant, cfg.Lookback); err != nil {
		return nil, fmt.Errorf("materialize rollups: %w", err)
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT workflow, agent, version, hour_bucket, count, anomaly_count,
			latency_p95_ms, faithfulness_p05, quality_p05
		FROM metric_rollup_hourly
		WHERE tenant = $1 AND hour_bucket >= now() - $2::interval`,
		tenant, cfg.Lookback.String())
	if err != nil {
		return nil, fmt.Errorf("query rollup rows: %w", err)
	}

	type hourlyRow struct {
		workflow, agent, version               string
		hourBucket                             time.Time
		count, anomalyCount                    int
		latencyP95, faithfulnessP05, qualityP05 *float64
	}

	var hourly []hourlyRow
	for rows.Next() {
		var r hourlyRow
		if err := rows.Scan(&r.workflow, &r.agent, &r.version, &r.hourBucket, &r.count, &r.anomalyCount,
			&r.latencyP95, &r.faithfulnessP05, &r.qualityP05); err != nil {
			rows.Close()
			return nil, err
		}
		hourly = append(hourly, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var violations []Violation
	for _, r := range hourly {
		opts, ok := cfg.PerWorkflow[r.workflow]
		if !ok {
			continue
		}

		var kinds []string
		if opts.MaxLatencyP95Ms != nil && r.latencyP95 != nil && *r.latencyP95 > *opts.MaxLatencyP95Ms {
			kinds = append(kinds, "latency_p95")
		}
		if opts.MinFaithfulnessP05 != nil && r.faithfulnessP05 != nil && *r.faithfulnessP05 < *opts.MinFaithfulnessP05 {
			kinds = append(kinds, "faithfulness_p05")
		}
		if opts.MinQualityP05 != nil && r.qualityP05 != nil && *r.qualityP05 < *opts.MinQualityP05 {
			kinds = append(kinds, "quality_p05")
		}
		if opts.MaxAnomalyRate != nil && r.count > 0 {
			rate := float64(r.anomalyCount) / float64(r.count)
			if rate > *opts.MaxAnomalyRate {
				kinds = append(kinds, "anomaly_rate")
			}
		}

		for _, kind := range kinds {
			v := Violation{Workflow: r.workflow, Agent: r.agent, Version: r.version, HourBucket: r.hourBucket, Kind: kind}
			violations = append(violations, v)

			target := map[string]any{
				"workflow":       r.workflow,
				"agent":          r.agent,
				"version":        r.version,
				"hour_bucket":    r.hourBucket.Format(time.RFC3339),
				"violation_kind": kind,
			}
			if _, err := actions.Create(ctx, s, actions.Request{
				Tenant:     tenant,
				ActionType: "run_investigation",
				Target:     target,
				DecidedBy:  "slo-job",
			}); err != nil {
				return violations, fmt.Errorf("propose run_investigation for %s: %w", kind, err)
			}
		}
	}
	return violations, nil
}
