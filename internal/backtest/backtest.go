// Package backtest implements the point-in-time backtest runner (C12): it
// replays every Signal in range against the MarketOutcome dataset snapshot
// named by dataset_version and summarizes portfolio performance.
package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/evalpipeline/internal/schema"
	"github.com/codeready-toolchain/evalpipeline/internal/store"
	"github.com/codeready-toolchain/evalpipeline/internal/stats"
)

var horizonPattern = regexp.MustCompile(`^(\d+)\s*([dwmy])$`)

const msPerDay = 86_400_000

// maxConcurrentSignals bounds how many signals are replayed in parallel
// within one backtest run; each signal's outcome lookup and upsert is
// independent of the others.
const maxConcurrentSignals = 8

// Request describes one backtest invocation.
type Request struct {
	Tenant         string
	DatasetVersion string
	Horizon        string
	Start          time.Time
	End            time.Time
	CostBps        float64
	CodeVersion    string
}

// Summary is the aggregate result persisted as BacktestRun.summary.
type Summary struct {
	MeanNetReturn          float64 `json:"mean_net_return"`
	StdNetReturn           float64 `json:"std_net_return"`
	SharpeNetReturn        float64 `json:"sharpe_net_return"`
	MeanExcessReturn       float64 `json:"mean_excess_return"`
	SharpeExcessReturn     float64 `json:"sharpe_excess_return"`
	MeanIC                 float64 `json:"mean_ic"`
	ICTStat                float64 `json:"ic_t_stat"`
	HitRate                float64 `json:"hit_rate"`
	InstrumentObservations int     `json:"instrument_observations"`
	SignalCount            int     `json:"signal_count"`
}

// Run executes one backtest and returns its summary.
func Run(ctx context.Context, s *store.Store, req Request) (Summary, error) {
	horizonMs, err := horizonToMs(req.Horizon)
	if err != nil {
		return Summary{}, err
	}

	signals, err := fetchSignals(ctx, s, req.Tenant, req.Horizon, req.Start, req.End)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch signals: %w", err)
	}

	var mu sync.Mutex
	var netReturns, excessReturns, ics []float64
	instrumentObs := 0

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentSignals)
	for _, sig := range signals {
		sig := sig
		eg.Go(func() error {
			weights, err := portfolioWeights(sig)
			if err != nil {
				return fmt.Errorf("portfolio weights for signal %s: %w", sig.signalID, err)
			}
			if len(weights) < 2 {
				return nil
			}

			targetTime := sig.eventTime.Add(time.Duration(horizonMs) * time.Millisecond)

			outcomes, err := fetchOutcomes(egCtx, s, req.Tenant, req.DatasetVersion, instrumentIDs(weights), targetTime)
			if err != nil {
				return fmt.Errorf("fetch outcomes for signal %s: %w", sig.signalID, err)
			}
			if len(outcomes) == 0 {
				return nil
			}

			var portfolioReturn, benchmarkSum float64
			var benchmarkN int
			var rawScores, rawReturns []float64
			var obs int
			for instrumentID, w := range weights {
				o, ok := outcomes[instrumentID]
				if !ok {
					continue
				}
				portfolioReturn += w * o.realizedReturn
				rawScores = append(rawScores, w)
				rawReturns = append(rawReturns, o.realizedReturn)
				if o.benchmarkReturn != nil {
					benchmarkSum += *o.benchmarkReturn
					benchmarkN++
				}
				obs++
			}

			benchmarkReturn := 0.0
			if benchmarkN > 0 {
				benchmarkReturn = benchmarkSum / float64(benchmarkN)
			}
			netReturn := portfolioReturn - req.CostBps/10000
			excessReturn := netReturn - benchmarkReturn
			ic := stats.Pearson(rawScores, rawReturns)

			details, err := json.Marshal(map[string]any{
				"portfolio_return": portfolioReturn,
				"benchmark_return": benchmarkReturn,
				"ic":               ic,
			})
			if err != nil {
				return err
			}
			if err := upsertSignalOutcome(egCtx, s, req.Tenant, sig.signalID, req.Horizon, req.DatasetVersion, netReturn, benchmarkReturn, excessReturn, details); err != nil {
				return fmt.Errorf("upsert signal outcome for %s: %w", sig.signalID, err)
			}

			mu.Lock()
			netReturns = append(netReturns, netReturn)
			excessReturns = append(excessReturns, excessReturn)
			ics = append(ics, ic)
			instrumentObs += obs
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Summary{}, err
	}

	summary := Summary{
		MeanNetReturn:          stats.Mean(netReturns),
		StdNetReturn:           stats.StdDev(netReturns),
		SharpeNetReturn:        stats.Sharpe(netReturns, stats.DefaultAnnualization),
		MeanExcessReturn:       stats.Mean(excessReturns),
		SharpeExcessReturn:     stats.Sharpe(excessReturns, stats.DefaultAnnualization),
		MeanIC:                 stats.Mean(ics),
		ICTStat:                stats.TStatOfMean(ics),
		HitRate:                stats.HitRate(netReturns),
		InstrumentObservations: instrumentObs,
		SignalCount:            len(signals),
	}

	if err := insertBacktestRun(ctx, s, req, summary); err != nil {
		return summary, fmt.Errorf("insert backtest run: %w", err)
	}
	return summary, nil
}

func horizonToMs(horizon string) (int64, error) {
	m := horizonPattern.FindStringSubmatch(horizon)
	if m == nil {
		return 0, fmt.Errorf("invalid horizon %q", horizon)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid horizon count %q: %w", horizon, err)
	}
	switch m[2] {
	case "d":
		return n * msPerDay, nil
	case "w":
		return n * 7 * msPerDay, nil
	case "m":
		return n * 30 * msPerDay, nil
	case "y":
		return n * 365 * msPerDay, nil
	default:
		return 0, fmt.Errorf("unrecognized horizon unit in %q", horizon)
	}
}

type signalRow struct {
	signalID           string
	eventTime          time.Time
	instrumentUniverse []schema.InstrumentWeight
	signalValue        schema.SignalValue
}

func fetchSignals(ctx context.Context, s *store.Store, tenant, horizon string, start, end time.Time) ([]signalRow, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT signal_id, event_time, instrument_universe, signal_value
		FROM signals
		WHERE tenant = $1 AND horizon = $2 AND event_time >= $3 AND event_time < $4`,
		tenant, horizon, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []signalRow
	for rows.Next() {
		var r signalRow
		var universeJSON, valueJSON []byte
		if err := rows.Scan(&r.signalID, &r.eventTime, &universeJSON, &valueJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(universeJSON, &r.instrumentUniverse); err != nil {
			return nil, fmt.Errorf("decode instrument_universe: %w", err)
		}
		if err := json.Unmarshal(valueJSON, &r.signalValue); err != nil {
			return nil, fmt.Errorf("decode signal_value: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// portfolioWeights builds per-instrument raw scores from the signal value
// variant, then normalizes by the L1 sum. Text signals yield no weights.
func portfolioWeights(sig signalRow) (map[string]float64, error) {
	if sig.signalValue.Type == schema.SignalValueText {
		return nil, nil
	}

	raw := map[string]float64{}
	switch sig.signalValue.Type {
	case schema.SignalValueScalar:
		if sig.signalValue.Scalar == nil {
			return nil, nil
		}
		for _, inst := range sig.instrumentUniverse {
			w := 1.0
			if inst.Weight != nil {
				w = *inst.Weight
			}
			raw[inst.ID] = *sig.signalValue.Scalar * w
		}
	case schema.SignalValueVector:
		for _, inst := range sig.instrumentUniverse {
			v, ok := sig.signalValue.Vector[inst.ID]
			if !ok {
				continue
			}
			w := 1.0
			if inst.Weight != nil {
				w = *inst.Weight
			}
			raw[inst.ID] = v * w
		}
	default:
		return nil, fmt.Errorf("unrecognized signal value type %q", sig.signalValue.Type)
	}

	var l1 float64
	for _, v := range raw {
		if v < 0 {
			l1 += -v
		} else {
			l1 += v
		}
	}
	if l1 == 0 {
		return nil, nil
	}

	weights := make(map[string]float64, len(raw))
	for id, v := range raw {
		weights[id] = v / l1
	}
	return weights, nil
}

func instrumentIDs(weights map[string]float64) []string {
	ids := make([]string, 0, len(weights))
	for id := range weights {
		ids = append(ids, id)
	}
	return ids
}

type outcomeRow struct {
	realizedReturn  float64
	benchmarkReturn *float64
}

func fetchOutcomes(ctx context.Context, s *store.Store, tenant, datasetVersion string, instrumentIDs []string, asofTime time.Time) (map[string]outcomeRow, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT instrument_id, realized_return, benchmark_return
		FROM market_outcomes
		WHERE tenant = $1 AND dataset_version = $2 AND instrument_id = ANY($3) AND asof_time = $4`,
		tenant, datasetVersion, instrumentIDs, asofTime)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]outcomeRow{}
	for rows.Next() {
		var id string
		var o outcomeRow
		if err := rows.Scan(&id, &o.realizedReturn, &o.benchmarkReturn); err != nil {
			return nil, err
		}
		out[id] = o
	}
	return out, rows.Err()
}

func upsertSignalOutcome(ctx context.Context, s *store.Store, tenant, signalID, horizon, datasetVersion string, realized, benchmark, excess float64, details []byte) error {
	return store.WithTx(ctx, s.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO signal_outcomes (tenant, signal_id, horizon, dataset_version, realized_return, benchmark_return, excess_return, details)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (tenant, signal_id, horizon) DO NOTHING`,
			tenant, signalID, horizon, datasetVersion, realized, benchmark, excess, details)
		return err
	})
}

func insertBacktestRun(ctx context.Context, s *store.Store, req Request, summary Summary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return store.WithTx(ctx, s.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO backtest_runs (tenant, backtest_id, dataset_version, horizon, start_time, end_time, status, summary)
			VALUES ($1,$2,$3,$4,$5,$6,'completed',$7)`,
			req.Tenant, uuid.NewString(), req.DatasetVersion, req.Horizon, req.Start, req.End, summaryJSON)
		return err
	})
}
