package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/evalpipeline/internal/store/storetest"
)

func TestRunScalarSignalComputesReturns(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()

	eventTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	targetTime := eventTime.AddDate(0, 0, 1)

	signalID := uuid.NewString()
	_, err := st.Pool.Exec(ctx, `
		INSERT INTO signals (tenant, signal_id, event_time, horizon, instrument_universe, signal_value)
		VALUES ($1,$2,$3,'1d',$4,$5)`,
		"tenant-a", signalID, eventTime,
		`[{"id":"AAA"},{"id":"BBB"}]`,
		`{"type":"scalar","scalar":1.0}`)
	require.NoError(t, err)

	for _, inst := range []struct {
		id     string
		ret    float64
		bench  float64
	}{
		{"AAA", 0.05, 0.01},
		{"BBB", -0.02, 0.01},
	} {
		_, err := st.Pool.Exec(ctx, `
			INSERT INTO market_outcomes (tenant, dataset_version, instrument_id, asof_time, realized_return, benchmark_return)
			VALUES ('tenant-a','ds-1',$1,$2,$3,$4)`,
			inst.id, targetTime, inst.ret, inst.bench)
		require.NoError(t, err)
	}

	summary, err := Run(ctx, st, Request{
		Tenant:         "tenant-a",
		DatasetVersion: "ds-1",
		Horizon:        "1d",
		Start:          eventTime.Add(-time.Hour),
		End:            eventTime.Add(time.Hour),
		CostBps:        10,
		CodeVersion:    "v1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SignalCount)
	assert.Equal(t, 2, summary.InstrumentObservations)

	var outcomeCount int
	err = st.Pool.QueryRow(ctx, `SELECT count(*) FROM signal_outcomes WHERE tenant='tenant-a'`).Scan(&outcomeCount)
	require.NoError(t, err)
	assert.Equal(t, 1, outcomeCount)

	var runCount int
	err = st.Pool.QueryRow(ctx, `SELECT count(*) FROM backtest_runs WHERE tenant='tenant-a'`).Scan(&runCount)
	require.NoError(t, err)
	assert.Equal(t, 1, runCount)
}

func TestRunTextSignalIsSkipped(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()

	eventTime := time.Now().UTC()
	_, err := st.Pool.Exec(ctx, `
		INSERT INTO signals (tenant, signal_id, event_time, horizon, instrument_universe, signal_value)
		VALUES ('tenant-a',$1,$2,'1d',$3,$4)`,
		uuid.NewString(), eventTime, `[{"id":"AAA"},{"id":"BBB"}]`, `{"type":"text","text":"bullish"}`)
	require.NoError(t, err)

	summary, err := Run(ctx, st, Request{
		Tenant:         "tenant-a",
		DatasetVersion: "ds-1",
		Horizon:        "1d",
		Start:          eventTime.Add(-time.Hour),
		End:            eventTime.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SignalCount)
	assert.Equal(t, 0, summary.InstrumentObservations)
}
