// Package query implements the read-only, tenant-scoped query endpoints
// described in spec.md §5: metrics rollups, anomalies, performance shifts,
// recommended actions, backtest runs, and signal lookup.
package query

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/evalpipeline/internal/store"
)

// RegisterRoutes mounts the query endpoints on r.
func RegisterRoutes(r gin.IRouter, s *store.Store) {
	r.GET("/metrics/agents", handleRows(s, `
		SELECT workflow, agent, version, hour_bucket, count, faithfulness_mean, quality_mean,
			faithfulness_p95, quality_p95, latency_p95_ms, anomaly_count
		FROM metric_rollup_hourly
		WHERE tenant = $1
		ORDER BY hour_bucket DESC, workflow, agent, version
		LIMIT 500`))

	r.GET("/metrics/workflows", handleRows(s, `
		SELECT workflow, hour_bucket, sum(count) AS count, avg(faithfulness_mean) AS faithfulness_mean,
			avg(quality_mean) AS quality_mean, sum(anomaly_count) AS anomaly_count
		FROM metric_rollup_hourly
		WHERE tenant = $1
		GROUP BY workflow, hour_bucket
		ORDER BY hour_bucket DESC, workflow
		LIMIT 500`))

	r.GET("/anomalies", handleRows(s, `
		SELECT anomaly_id, evaluation_id, metric_name, method, value, threshold, z_score, created_at
		FROM anomalies
		WHERE tenant = $1
		ORDER BY created_at DESC
		LIMIT 500`))

	r.GET("/shifts", handleRows(s, `
		SELECT shift_id, workflow, agent, version, metric, method, p_value, bh_adjusted_p_value,
			effect_size, significant, created_at
		FROM performance_shifts
		WHERE tenant = $1
		ORDER BY created_at DESC
		LIMIT 500`))

	r.GET("/actions/recommended", handleRowsWithStatus(s))

	r.GET("/backtests", handleRows(s, `
		SELECT backtest_id, dataset_version, horizon, start_time, end_time, status, summary, created_at
		FROM backtest_runs
		WHERE tenant = $1
		ORDER BY created_at DESC
		LIMIT 500`))

	r.GET("/signals/:id", handleSignalByID(s))
}

func tenantID(c *gin.Context) (string, bool) {
	tenant := c.GetHeader("X-Tenant-Id")
	if tenant == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "X-Tenant-Id header is required"})
		return "", false
	}
	return tenant, true
}

func handleRows(s *store.Store, sql string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := tenantID(c)
		if !ok {
			return
		}
		rows, err := collectRows(c, s, sql, tenant)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "tenant_id": tenant, "rows": rows})
	}
}

func handleRowsWithStatus(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := tenantID(c)
		if !ok {
			return
		}
		status := c.DefaultQuery("status", "open")
		rows, err := collectRows(c, s, `
			SELECT action_id, action_type, target, payload, decided_by, status, created_at
			FROM recommended_actions
			WHERE tenant = $1 AND status = $2
			ORDER BY created_at DESC
			LIMIT 500`, tenant, status)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "tenant_id": tenant, "rows": rows})
	}
}

func handleSignalByID(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := tenantID(c)
		if !ok {
			return
		}
		id := c.Param("id")
		rows, err := collectRows(c, s, `
			SELECT signal_id, event_time, horizon, instrument_universe, signal_value, confidence, constraints, created_at
			FROM signals
			WHERE tenant = $1 AND signal_id = $2`, tenant, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "tenant_id": tenant, "rows": rows})
	}
}

// collectRows runs sql and returns each row as a map keyed by column name,
// using pgx's field descriptions rather than hand-maintained structs — the
// query endpoints are read-only projections with no business logic, so a
// generic scan keeps each route to one SQL statement.
func collectRows(c *gin.Context, s *store.Store, sql string, args ...any) ([]map[string]any, error) {
	rows, err := s.Pool.Query(c.Request.Context(), sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
