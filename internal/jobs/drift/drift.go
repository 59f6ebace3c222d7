// Package drift implements the distributional drift job (C9): PSI and 1D
// Wasserstein distance between a baseline and current faithfulness window,
// with severity-gated mitigation actions routed through C11.
package drift

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/evalpipeline/internal/actions"
	"github.com/codeready-toolchain/evalpipeline/internal/store"
	"github.com/codeready-toolchain/evalpipeline/internal/stats"
)

const maxConcurrentGroups = 8

// Config tunes one drift-scan run. BaselineHours/CurrentHours correspond to
// spec.md's B and C: base_vals spans [now-(B+C)h, now-Ch), cur_vals spans
// [now-Ch, now).
type Config struct {
	BaselineHours int
	CurrentHours  int
	MinBaseline   int
	MinCurrent    int
	PSIBins       int
}

// DefaultConfig matches spec.md §4.9's minimums.
func DefaultConfig() Config {
	return Config{BaselineHours: 24 * 6, CurrentHours: 24, MinBaseline: 20, MinCurrent: 10, PSIBins: 10}
}

type groupKey struct {
	workflow, agent, version string
}

// Result describes one group's drift finding.
type Result struct {
	Workflow, Agent, Version string
	PSI                      float64
	Wasserstein              float64
	Severity                 string
}

// Scan evaluates drift for every active group and proposes mitigation
// actions for moderate/severe findings. Returns the findings produced.
func Scan(ctx context.Context, s *store.Store, tenant string, cfg Config) ([]Result, error) {
	if cfg.MinBaseline <= 0 {
		cfg = DefaultConfig()
	}

	now := time.Now().UTC()
	curStart := now.Add(-time.Duration(cfg.CurrentHours) * time.Hour)
	baseStart := now.Add(-time.Duration(cfg.BaselineHours+cfg.CurrentHours) * time.Hour)
	baseEnd := curStart

	groups, err := activeGroups(ctx, s, tenant, time.Duration(cfg.BaselineHours+cfg.CurrentHours)*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("list active groups: %w", err)
	}

	var mu sync.Mutex
	var results []Result

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentGroups)
	for _, g := range groups {
		g := g
		eg.Go(func() error {
			baseVals, err := fetchFaithfulness(egCtx, s, tenant, g, baseStart, baseEnd)
			if err != nil {
				return err
			}
			curVals, err := fetchFaithfulness(egCtx, s, tenant, g, curStart, now)
			if err != nil {
				return err
			}
			if len(baseVals) < cfg.MinBaseline || len(curVals) < cfg.MinCurrent {
				return nil
			}

			psi := stats.PSI(baseVals, curVals, cfg.PSIBins)
			wasserstein := stats.Wasserstein1D(baseVals, curVals)
			severity := stats.SeverityFromPSI(psi.PSI)

			r := Result{Workflow: g.workflow, Agent: g.agent, Version: g.version, PSI: psi.PSI, Wasserstein: wasserstein, Severity: severity}
			mu.Lock()
			results = append(results, r)
			mu.Unlock()

			if severity == "none" {
				return nil
			}
			return proposeActions(egCtx, s, tenant, g, severity)
		})
	}
	if err := eg.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func proposeActions(ctx context.Context, s *store.Store, tenant string, g groupKey, severity string) error {
	target := map[string]any{"workflow": g.workflow, "agent": g.agent, "version": g.version}

	rate := 0.05
	if severity == "severe" {
		rate = 0.2
	}
	if _, err := actions.Create(ctx, s, actions.Request{
		Tenant:     tenant,
		ActionType: "increase_eval_sampling",
		Target:     target,
		Payload:    map[string]any{"sampling_rate_suggested": rate, "severity": severity},
		DecidedBy:  "drift-job",
	}); err != nil {
		return fmt.Errorf("propose increase_eval_sampling: %w", err)
	}

	if severity != "severe" {
		return nil
	}

	if _, err := actions.Create(ctx, s, actions.Request{
		Tenant:     tenant,
		ActionType: "require_human_review",
		Target:     target,
		Payload:    map[string]any{"reason": "severe_metric_drift"},
		DecidedBy:  "drift-job",
	}); err != nil {
		return fmt.Errorf("propose require_human_review: %w", err)
	}
	if _, err := actions.Create(ctx, s, actions.Request{
		Tenant:     tenant,
		ActionType: "route_fallback",
		Target:     target,
		Payload:    map[string]any{"reason": "severe_metric_drift"},
		DecidedBy:  "drift-job",
	}); err != nil {
		return fmt.Errorf("propose route_fallback: %w", err)
	}
	return nil
}

func activeGroups(ctx context.Context, s *store.Store, tenant string, lookback time.Duration) ([]groupKey, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT DISTINCT workflow, agent, version
		FROM evaluation_records
		WHERE tenant = $1
			AND workflow IS NOT NULL AND agent IS NOT NULL AND version IS NOT NULL
			AND scoring_timestamp >= now() - $2::interval`,
		tenant, lookback.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []groupKey
	for rows.Next() {
		var g groupKey
		if err := rows.Scan(&g.workflow, &g.agent, &g.version); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func fetchFaithfulness(ctx context.Context, s *store.Store, tenant string, g groupKey, start, end time.Time) ([]float64, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT faithfulness FROM evaluation_records
		WHERE tenant = $1 AND workflow = $2 AND agent = $3 AND version = $4
			AND scoring_timestamp >= $5 AND scoring_timestamp < $6 AND faithfulness IS NOT NULL`,
		tenant, g.workflow, g.agent, g.version, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
