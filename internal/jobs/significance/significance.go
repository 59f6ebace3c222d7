// Package significance implements the version-over-version significance job
// (C8): a window-comparison Welch's t-test detector with Benjamini-Hochberg
// correction, and a rollup-series change-point detector using EWMA/CUSUM.
package significance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/evalpipeline/internal/store"
	"github.com/codeready-toolchain/evalpipeline/internal/stats"
)

const maxConcurrentGroups = 8

// Config tunes one significance-job run.
type Config struct {
	WindowSize time.Duration
	Alpha      float64
	Metric     string // column name in evaluation_records: "faithfulness" or "run_quality_score"
}

// DefaultConfig matches spec.md's window-comparison defaults.
func DefaultConfig() Config {
	return Config{WindowSize: 24 * time.Hour, Alpha: 0.05, Metric: "run_quality_score"}
}

type groupKey struct {
	workflow, agent, version string
}

// RunWindowComparison implements detector A: for each active group, Welch's
// t-test between window A = [now-W, now) and window B = [now-2W, now-W),
// with BH correction applied jointly across all groups. Returns the number
// of PerformanceShift rows written.
func RunWindowComparison(ctx context.Context, s *store.Store, tenant string, cfg Config) (int, error) {
	if cfg.WindowSize <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.Metric == "" {
		cfg.Metric = DefaultConfig().Metric
	}

	now := time.Now().UTC()
	windowAStart := now.Add(-cfg.WindowSize)
	windowBStart := now.Add(-2 * cfg.WindowSize)
	windowBEnd := windowAStart

	groups, err := activeGroups(ctx, s, tenant, 2*cfg.WindowSize)
	if err != nil {
		return 0, fmt.Errorf("list active groups: %w", err)
	}

	type candidate struct {
		g     groupKey
		welch stats.WelchResult
		ok    bool
	}
	slots := make([]candidate, len(groups))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentGroups)
	for i, g := range groups {
		i, g := i, g
		eg.Go(func() error {
			a, err := fetchMetric(egCtx, s, tenant, g, cfg.Metric, windowAStart, now)
			if err != nil {
				return err
			}
			b, err := fetchMetric(egCtx, s, tenant, g, cfg.Metric, windowBStart, windowBEnd)
			if err != nil {
				return err
			}
			if len(a) < 2 || len(b) < 2 {
				return nil
			}
			slots[i] = candidate{g: g, welch: stats.Welch(a, b), ok: true}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	var candidates []candidate
	var pvalues []float64
	for _, c := range slots {
		if !c.ok {
			continue
		}
		candidates = append(candidates, c)
		pvalues = append(pvalues, c.welch.PValue)
	}

	if len(candidates) == 0 {
		return 0, nil
	}

	bh := stats.BenjaminiHochberg(pvalues, cfg.Alpha)

	var written int
	for i, c := range candidates {
		details, err := json.Marshal(map[string]any{
			"mean_a":   c.welch.MeanA,
			"mean_b":   c.welch.MeanB,
			"df":       c.welch.DF,
			"n_a":      c.welch.NA,
			"n_b":      c.welch.NB,
			"metric":   cfg.Metric,
		})
		if err != nil {
			return written, err
		}
		err = insertShift(ctx, s, tenant, c.g, cfg.Metric, "welch_normal_approx",
			windowAStart, now, windowBStart, windowBEnd,
			bh[i].PValue, bh[i].QValue, c.welch.EffectSize, bh[i].Significant, details)
		if err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// ChangePointConfig tunes detector B.
type ChangePointConfig struct {
	Lookback      time.Duration
	MinPoints     int
	EWMALambda    float64
	EWMAThreshold float64
	CUSUMK        float64
	CUSUMH        float64
}

// DefaultChangePointConfig matches spec.md §4.8's detector B defaults.
func DefaultChangePointConfig() ChangePointConfig {
	return ChangePointConfig{
		Lookback:      24 * time.Hour,
		MinPoints:     12,
		EWMALambda:    0.3,
		EWMAThreshold: 0.15,
		CUSUMK:        0.02,
		CUSUMH:        0.2,
	}
}

// RunChangePoint implements detector B: EWMA/CUSUM against a baseline
// derived from the earliest points of each group's hourly mean_quality
// series. Returns the number of PerformanceShift rows written.
func RunChangePoint(ctx context.Context, s *store.Store, tenant string, cfg ChangePointConfig) (int, error) {
	if cfg.MinPoints <= 0 {
		cfg = DefaultChangePointConfig()
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT workflow, agent, version, hour_bucket, quality_mean
		FROM metric_rollup_hourly
		WHERE tenant = $1 AND hour_bucket >= now() - $2::interval AND quality_mean IS NOT NULL
		ORDER BY workflow, agent, version, hour_bucket ASC`,
		tenant, cfg.Lookback.String())
	if err != nil {
		return 0, fmt.Errorf("query rollup series: %w", err)
	}

	series := map[groupKey][]float64{}
	bounds := map[groupKey][2]time.Time{}
	for rows.Next() {
		var g groupKey
		var hourBucket time.Time
		var qualityMean float64
		if err := rows.Scan(&g.workflow, &g.agent, &g.version, &hourBucket, &qualityMean); err != nil {
			rows.Close()
			return 0, err
		}
		series[g] = append(series[g], qualityMean)
		b := bounds[g]
		if b[0].IsZero() {
			b[0] = hourBucket
		}
		b[1] = hourBucket
		bounds[g] = b
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	var written int
	for g, xs := range series {
		if len(xs) < cfg.MinPoints {
			continue
		}
		baselineN := 6
		if len(xs) < baselineN {
			baselineN = len(xs)
		}
		baseline := stats.Mean(xs[:baselineN])

		ewma := stats.EWMA(xs, cfg.EWMALambda)
		ewmaLast := ewma[len(ewma)-1]
		ewmaFired := absf(ewmaLast-baseline) > cfg.EWMAThreshold

		cusum := stats.CUSUM(xs, baseline, cfg.CUSUMK, cfg.CUSUMH)

		if !ewmaFired && !cusum.Signaled {
			continue
		}

		b := bounds[g]
		if ewmaFired {
			details, _ := json.Marshal(map[string]any{"baseline": baseline, "ewma_last": ewmaLast, "n": len(xs)})
			if err := insertShift(ctx, s, tenant, g, "quality_mean", "ewma", b[0], b[1], b[0], b[1],
				0, 0, ewmaLast-baseline, true, details); err != nil {
				return written, err
			}
			written++
		}
		if cusum.Signaled {
			details, _ := json.Marshal(map[string]any{"baseline": baseline, "signal_index": cusum.SignalIndex, "n": len(xs)})
			if err := insertShift(ctx, s, tenant, g, "quality_mean", "cusum", b[0], b[1], b[0], b[1],
				0, 0, cusum.SPlus[cusum.SignalIndex]+cusum.SMinus[cusum.SignalIndex], true, details); err != nil {
				return written, err
			}
			written++
		}
	}
	return written, nil
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
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

func fetchMetric(ctx context.Context, s *store.Store, tenant string, g groupKey, metric string, start, end time.Time) ([]float64, error) {
	col := "run_quality_score"
	if metric == "faithfulness" {
		col = "faithfulness"
	}
	query := fmt.Sprintf(`
		SELECT %s FROM evaluation_records
		WHERE tenant = $1 AND workflow = $2 AND agent = $3 AND version = $4
			AND scoring_timestamp >= $5 AND scoring_timestamp < $6 AND %s IS NOT NULL`, col, col)
	rows, err := s.Pool.Query(ctx, query, tenant, g.workflow, g.agent, g.version, start, end)
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

func insertShift(ctx context.Context, s *store.Store, tenant string, g groupKey, metric, method string,
	windowAStart, windowAEnd, windowBStart, windowBEnd time.Time,
	pValue, qValue, effectSize float64, significant bool, details []byte) error {
	return store.WithTx(ctx, s.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO performance_shifts (
				tenant, shift_id, workflow, agent, version, metric,
				window_a_start, window_a_end, window_b_start, window_b_end,
				method, p_value, bh_adjusted_p_value, effect_size, significant, details
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			tenant, uuid.NewString(), g.workflow, g.agent, g.version, metric,
			windowAStart, windowAEnd, windowBStart, windowBEnd,
			method, pValue, qValue, effectSize, significant, details)
		return err
	})
}
