// Package rollup implements the hourly rollup builder (C6): it derives
// hour-truncated group statistics from EvaluationRecord and upserts them
// into MetricRollupHourly.
package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/evalpipeline/internal/store"
)

// Build derives and upserts hourly rollups for tenant over the given
// lookback window. Returns the number of (workflow, agent, version, hour)
// groups upserted.
func Build(ctx context.Context, s *store.Store, tenant string, lookback time.Duration) (int, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT
			workflow, agent, version,
			date_trunc('hour', scoring_timestamp) AS hour_bucket,
			count(*),
			avg(faithfulness), stddev_samp(faithfulness),
			avg(run_quality_score), stddev_samp(run_quality_score),
			percentile_cont(0.05) within group (order by faithfulness),
			percentile_cont(0.10) within group (order by faithfulness),
			percentile_cont(0.50) within group (order by faithfulness),
			percentile_cont(0.95) within group (order by faithfulness),
			percentile_cont(0.05) within group (order by run_quality_score),
			percentile_cont(0.10) within group (order by run_quality_score),
			percentile_cont(0.50) within group (order by run_quality_score),
			percentile_cont(0.95) within group (order by run_quality_score),
			percentile_cont(0.95) within group (order by latency_ms),
			count(*) filter (where anomaly_flag)
		FROM evaluation_records
		WHERE tenant = $1
			AND workflow IS NOT NULL AND agent IS NOT NULL AND version IS NOT NULL
			AND scoring_timestamp >= now() - $2::interval
		GROUP BY workflow, agent, version, hour_bucket`,
		tenant, lookback.String())
	if err != nil {
		return 0, fmt.Errorf("query rollup source rows: %w", err)
	}
	defer rows.Close()

	type group struct {
		workflow, agent, version                     string
		hourBucket                                   time.Time
		count                                         int
		faithMean, faithStddev, qualMean, qualStddev *float64
		faithP05, faithP10, faithP50, faithP95       *float64
		qualP05, qualP10, qualP50, qualP95           *float64
		latencyP95                                   *float64
		anomalyCount                                 int
	}

	var groups []group
	for rows.Next() {
		var g group
		if err := rows.Scan(
			&g.workflow, &g.agent, &g.version, &g.hourBucket, &g.count,
			&g.faithMean, &g.faithStddev, &g.qualMean, &g.qualStddev,
			&g.faithP05, &g.faithP10, &g.faithP50, &g.faithP95,
			&g.qualP05, &g.qualP10, &g.qualP50, &g.qualP95,
			&g.latencyP95, &g.anomalyCount,
		); err != nil {
			return 0, fmt.Errorf("scan rollup source row: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, g := range groups {
		_, err := s.Pool.Exec(ctx, `
			INSERT INTO metric_rollup_hourly (
				tenant, workflow, agent, version, hour_bucket, count,
				faithfulness_mean, faithfulness_stddev, quality_mean, quality_stddev,
				faithfulness_p05, faithfulness_p10, faithfulness_p50, faithfulness_p95,
				quality_p05, quality_p10, quality_p50, quality_p95,
				latency_p95_ms, anomaly_count
			) VALUES ($1,$2,$3,$4,$5,$6, $7,$8,$9,$10, $11,$12,$13,$14, $15,$16,$17,$18, $19,$20)
			ON CONFLICT (tenant, workflow, agent, version, hour_bucket) DO UPDATE SET
				count = EXCLUDED.count,
				faithfulness_mean = EXCLUDED.faithfulness_mean,
				faithfulness_stddev = EXCLUDED.faithfulness_stddev,
				quality_mean = EXCLUDED.quality_mean,
				quality_stddev = EXCLUDED.quality_stddev,
				faithfulness_p05 = EXCLUDED.faithfulness_p05,
				faithfulness_p10 = EXCLUDED.faithfulness_p10,
				faithfulness_p50 = EXCLUDED.faithfulness_p50,
				faithfulness_p95 = EXCLUDED.faithfulness_p95,
				quality_p05 = EXCLUDED.quality_p05,
				quality_p10 = EXCLUDED.quality_p10,
				quality_p50 = EXCLUDED.quality_p50,
				quality_p95 = EXCLUDED.quality_p95,
				latency_p95_ms = EXCLUDED.latency_p95_ms,
				anomaly_count = EXCLUDED.anomaly_count`,
			tenant, g.workflow, g.agent, g.version, g.hourBucket, g.count,
			g.faithMean, g.faithStddev, g.qualMean, g.qualStddev,
			g.faithP05, g.faithP10, g.faithP50, g.faithP95,
			g.qualP05, g.qualP10, g.qualP50, g.qualP95,
			g.latencyP95, g.anomalyCount)
		if err != nil {
			return 0, fmt.Errorf("upsert rollup for %s/%s/%s@%s: %w", g.workflow, g.agent, g.version, g.hourBucket, err)
		}
	}

	return len(groups), nil
}
