package drift

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/evalpipeline/internal/store"
	"github.com/codeready-toolchain/evalpipeline/internal/store/storetest"
)

func insertEval(t *testing.T, ctx context.Context, st *store.Store, tenant string, faithfulness float64, ts time.Time) {
	_, err := st.Pool.Exec(ctx, `
		INSERT INTO evaluation_records (
			tenant, evaluation_id, agent_run_id, faithfulness,
			evaluator_version, normalization_version, weighting_version, scoring_timestamp,
			workflow, agent, version
		) VALUES ($1,$2,$3,$4,'v1','v1','v1',$5,'research-brief','retriever','1.0.0')`,
		tenant, uuid.NewString(), uuid.NewString(), faithfulness, ts)
	require.NoError(t, err)
}

func TestScanDetectsSevereDriftAndProposesActions(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 30; i++ {
		insertEval(t, ctx, st, "tenant-a", 0.9+float64(i%10)*0.001, now.Add(-100*time.Hour+time.Duration(i)*time.Hour))
	}
	for i := 0; i < 15; i++ {
		insertEval(t, ctx, st, "tenant-a", 0.2+float64(i%10)*0.001, now.Add(-time.Duration(i)*time.Hour))
	}

	results, err := Scan(ctx, st, "tenant-a", DefaultConfig())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "severe", results[0].Severity)
	assert.Greater(t, results[0].PSI, 0.35)

	var count int
	err = st.Pool.QueryRow(ctx, `SELECT count(*) FROM recommended_actions WHERE tenant='tenant-a' AND status='open'`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	var payload []byte
	err = st.Pool.QueryRow(ctx, `
		SELECT payload FROM recommended_actions
		WHERE tenant='tenant-a' AND action_type='increase_eval_sampling'`).Scan(&payload)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"sampling_rate_suggested"`)
	assert.NotContains(t, string(payload), `"rate"`)
}

func TestScanNoDriftProposesNoActions(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 60; i++ {
		insertEval(t, ctx, st, "tenant-a", 0.85, now.Add(-time.Duration(i)*time.Hour))
	}

	results, err := Scan(ctx, st, "tenant-a", DefaultConfig())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "none", results[0].Severity)

	var count int
	err = st.Pool.QueryRow(ctx, `SELECT count(*) FROM recommended_actions WHERE tenant='tenant-a'`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
