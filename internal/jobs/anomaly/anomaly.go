// Package anomaly implements the per-group anomaly scan (C7): hallucination
// rule, MAD outlier on latency, and z-score checks on confidence and
// faithfulness, cascading in that order per candidate.
package anomaly

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/evalpipeline/internal/store"
	"github.com/codeready-toolchain/evalpipeline/internal/stats"
)

// maxConcurrentGroups bounds how many groups are scanned in parallel within
// one job run; groups are independent so this is safe, but unbounded
// fan-out would open one connection per group against the pool.
const maxConcurrentGroups = 8

const (
	robustZThreshold = 3.5
	zThreshold       = 3.0
	maxCandidates    = 20
)

// Config tunes one anomaly-scan run.
type Config struct {
	Lookback   time.Duration
	MinHistory int
}

// DefaultConfig mirrors the defaults used across the other scheduled jobs.
func DefaultConfig() Config {
	return Config{Lookback: 24 * time.Hour, MinHistory: 20}
}

type row struct {
	evaluationID  string
	scoringTime   time.Time
	latencyMs     *float64
	faithfulness  *float64
	confidence    *float64
	hallucination *bool
	anomalyFlag   bool
}

// Scan runs the cascade over every active (workflow, agent, version) group
// for tenant and returns the number of anomalies created.
func Scan(ctx context.Context, s *store.Store, tenant string, cfg Config) (int, error) {
	if cfg.MinHistory <= 0 {
		cfg = DefaultConfig()
	}

	groups, err := activeGroups(ctx, s, tenant, cfg.Lookback)
	if err != nil {
		return 0, fmt.Errorf("list active groups: %w", err)
	}

	var created int64
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentGroups)
	for _, g := range groups {
		g := g
		eg.Go(func() error {
			n, err := scanGroup(egCtx, s, tenant, g, cfg)
			if err != nil {
				return fmt.Errorf("scan group %s/%s/%s: %w", g.workflow, g.agent, g.version, err)
			}
			atomic.AddInt64(&created, int64(n))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return int(created), err
	}
	return int(created), nil
}

type groupKey struct {
	workflow, agent, version string
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

// scanGroup fetches the most recent rows for one group descending by
// scoring_timestamp, then walks up to maxCandidates not-yet-flagged rows in
// that (newest-first) order, building each candidate's history from the
// rows strictly older than it.
func scanGroup(ctx context.Context, s *store.Store, tenant string, g groupKey, cfg Config) (int, error) {
	rows, err := fetchRecent(ctx, s, tenant, g, cfg.MinHistory+maxCandidates)
	if err != nil {
		return 0, err
	}
	if len(rows) < cfg.MinHistory {
		// Too little history for the statistical checks; the hallucination
		// rule needs none and still applies to each unflagged candidate.
		var created int
		for i := 0; i < len(rows) && i < maxCandidates; i++ {
			c := rows[i]
			if c.anomalyFlag || c.hallucination == nil || !*c.hallucination {
				continue
			}
			if err := writeAnomaly(ctx, s, tenant, c.evaluationID, "hallucination_flag", "rule", 1, 0, nil, nil); err != nil {
				return created, err
			}
			created++
		}
		return created, nil
	}

	var created int
	n := len(rows)
	if n > maxCandidates {
		n = maxCandidates
	}

	for i := 0; i < n; i++ {
		c := rows[i]
		if c.anomalyFlag {
			continue
		}
		history := rows[i+1:]
		ok, err := evaluateCandidate(ctx, s, tenant, c, history, cfg)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func fetchRecent(ctx context.Context, s *store.Store, tenant string, g groupKey, limit int) ([]row, error) {
	pgRows, err := s.Pool.Query(ctx, `
		SELECT evaluation_id, scoring_timestamp, latency_ms, faithfulness, confidence, hallucination_flag, anomaly_flag
		FROM evaluation_records
		WHERE tenant = $1 AND workflow = $2 AND agent = $3 AND version = $4
		ORDER BY scoring_timestamp DESC
		LIMIT $5`,
		tenant, g.workflow, g.agent, g.version, limit)
	if err != nil {
		return nil, err
	}
	defer pgRows.Close()

	var out []row
	for pgRows.Next() {
		var r row
		if err := pgRows.Scan(&r.evaluationID, &r.scoringTime, &r.latencyMs, &r.faithfulness, &r.confidence, &r.hallucination, &r.anomalyFlag); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, pgRows.Err()
}

// evaluateCandidate runs the cascade against one candidate and, if an
// anomaly fires, writes it transactionally alongside the anomaly_flag
// update. Returns whether an anomaly was created.
func evaluateCandidate(ctx context.Context, s *store.Store, tenant string, c row, history []row, cfg Config) (bool, error) {
	if c.hallucination != nil && *c.hallucination {
		return true, writeAnomaly(ctx, s, tenant, c.evaluationID, "hallucination_flag", "rule", 1, 0, nil, nil)
	}

	if c.latencyMs != nil {
		hist := floatsOf(history, func(r row) *float64 { return r.latencyMs })
		if len(hist) > 0 {
			if outlier, z := stats.IsMADOutlier(*c.latencyMs, hist, robustZThreshold); outlier {
				return true, writeAnomaly(ctx, s, tenant, c.evaluationID, "latency_ms", "mad", *c.latencyMs, robustZThreshold, &z, nil)
			}
		}
	}

	if c.confidence != nil {
		hist := floatsOf(history, func(r row) *float64 { return r.confidence })
		if len(hist) >= cfg.MinHistory {
			z := stats.ZScore(*c.confidence, hist)
			if absf(z) > zThreshold {
				return true, writeAnomaly(ctx, s, tenant, c.evaluationID, "confidence", "zscore", *c.confidence, zThreshold, &z, nil)
			}
		}
	}

	if c.faithfulness != nil {
		hist := floatsOf(history, func(r row) *float64 { return r.faithfulness })
		if len(hist) >= cfg.MinHistory {
			z := stats.ZScore(*c.faithfulness, hist)
			if z < 0 && absf(z) > zThreshold {
				return true, writeAnomaly(ctx, s, tenant, c.evaluationID, "faithfulness", "zscore", *c.faithfulness, zThreshold, &z, nil)
			}
		}
	}

	return false, nil
}

func floatsOf(rows []row, sel func(row) *float64) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if v := sel(r); v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func writeAnomaly(ctx context.Context, s *store.Store, tenant, evaluationID, metric, method string, value, threshold float64, z *float64, details []byte) error {
	return store.WithTx(ctx, s.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO anomalies (tenant, anomaly_id, evaluation_id, metric_name, method, value, threshold, z_score, details)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			tenant, uuid.NewString(), evaluationID, metric, method, value, threshold, z, details)
		if err != nil {
			return fmt.Errorf("insert anomaly: %w", err)
		}
		_, err = tx.Exec(ctx, `UPDATE evaluation_records SET anomaly_flag = true WHERE tenant = $1 AND evaluation_id = $2`, tenant, evaluationID)
		if err != nil {
			return fmt.Errorf("flag evaluation record: %w", err)
		}
		return nil
	})
}
