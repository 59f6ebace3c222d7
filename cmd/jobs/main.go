// Command jobs runs one scheduled, run-to-completion job: anomaly,
// significance, drift, slo, rollup, or backtest.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/evalpipeline/internal/backtest"
	"github.com/codeready-toolchain/evalpipeline/internal/jobs/anomaly"
	"github.com/codeready-toolchain/evalpipeline/internal/jobs/drift"
	"github.com/codeready-toolchain/evalpipeline/internal/jobs/significance"
	"github.com/codeready-toolchain/evalpipeline/internal/jobs/slo"
	"github.com/codeready-toolchain/evalpipeline/internal/rollup"
	"github.com/codeready-toolchain/evalpipeline/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	job := flag.String("job", "", "job to run: anomaly, significance, drift, slo, rollup, backtest")
	tenant := flag.String("tenant", "", "tenant id")
	lookback := flag.Duration("lookback", 24*time.Hour, "lookback window for rollup/anomaly/significance/slo jobs")
	datasetVersion := flag.String("dataset-version", "", "dataset version (backtest only)")
	horizon := flag.String("horizon", "", "signal horizon (backtest only)")
	start := flag.String("start", "", "RFC3339 start time (backtest only)")
	end := flag.String("end", "", "RFC3339 end time (backtest only)")
	costBps := flag.Float64("cost-bps", 0, "transaction cost in basis points (backtest only)")
	slaConfigPath := flag.String("slo-config", "", "path to a JSON file of {workflow: Options} (slo only)")
	flag.Parse()

	if *tenant == "" {
		log.Fatal("-tenant is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbCfg, err := store.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("failed to load database config: %v", err)
	}
	s, err := store.Open(ctx, dbCfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer s.Close()

	switch *job {
	case "rollup":
		n, err := rollup.Build(ctx, s, *tenant, *lookback)
		fatalIfErr(err)
		slog.Info("rollup job complete", "groups_upserted", n)

	case "anomaly":
		n, err := anomaly.Scan(ctx, s, *tenant, anomaly.Config{Lookback: *lookback, MinHistory: anomaly.DefaultConfig().MinHistory})
		fatalIfErr(err)
		slog.Info("anomaly job complete", "anomalies_created", n)

	case "significance":
		nA, err := significance.RunWindowComparison(ctx, s, *tenant, significance.Config{WindowSize: *lookback, Alpha: 0.05, Metric: "run_quality_score"})
		fatalIfErr(err)
		nB, err := significance.RunChangePoint(ctx, s, *tenant, significance.DefaultChangePointConfig())
		fatalIfErr(err)
		slog.Info("significance job complete", "window_shifts", nA, "change_point_shifts", nB)

	case "drift":
		results, err := drift.Scan(ctx, s, *tenant, drift.DefaultConfig())
		fatalIfErr(err)
		slog.Info("drift job complete", "groups_scanned", len(results))

	case "slo":
		opts, err := loadSLOOptions(*slaConfigPath)
		fatalIfErr(err)
		violations, err := slo.Run(ctx, s, *tenant, slo.Config{Lookback: *lookback, PerWorkflow: opts})
		fatalIfErr(err)
		slog.Info("slo job complete", "violations", len(violations))

	case "backtest":
		startTime, err := time.Parse(time.RFC3339, *start)
		fatalIfErr(err)
		endTime, err := time.Parse(time.RFC3339, *end)
		fatalIfErr(err)
		summary, err := backtest.Run(ctx, s, backtest.Request{
			Tenant:         *tenant,
			DatasetVersion: *datasetVersion,
			Horizon:        *horizon,
			Start:          startTime,
			End:            endTime,
			CostBps:        *costBps,
		})
		fatalIfErr(err)
		slog.Info("backtest job complete", "signal_count", summary.SignalCount, "mean_ic", summary.MeanIC)

	default:
		log.Fatalf("unrecognized -job %q", *job)
	}
}

func fatalIfErr(err error) {
	if err != nil {
		log.Fatalf("job failed: %v", err)
	}
}

func loadSLOOptions(path string) (map[string]slo.Options, error) {
	if path == "" {
		return map[string]slo.Options{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var opts map[string]slo.Options
	if err := json.Unmarshal(b, &opts); err != nil {
		return nil, err
	}
	return opts, nil
}
