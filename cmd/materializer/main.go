// Command materializer runs one or more materialization workers (C5)
// against the shared raw event queue.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/evalpipeline/internal/materialize"
	"github.com/codeready-toolchain/evalpipeline/internal/normalize"
	"github.com/codeready-toolchain/evalpipeline/internal/store"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func loadNormalizeOverrides(path string) (map[string]normalize.WorkflowConfig, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var overrides map[string]normalize.WorkflowConfig
	if err := json.Unmarshal(b, &overrides); err != nil {
		return nil, err
	}
	return overrides, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	normalizeConfigPath := flag.String("normalize-config", getEnv("MATERIALIZER_NORMALIZE_CONFIG", ""),
		"path to a JSON file of {workflow: WorkflowConfig} per-workflow normalization overrides")
	flag.Parse()

	overrides, err := loadNormalizeOverrides(*normalizeConfigPath)
	if err != nil {
		log.Fatalf("failed to load normalize config: %v", err)
	}

	workerCount := getEnvInt("MATERIALIZER_WORKERS", 1)
	cfg := materialize.Config{
		BatchSize:          getEnvInt("MATERIALIZER_BATCH_SIZE", materialize.DefaultConfig().BatchSize),
		MaxAttempts:        getEnvInt("MATERIALIZER_MAX_ATTEMPTS", materialize.DefaultConfig().MaxAttempts),
		NormalizeOverrides: overrides,
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

	workers := make([]*materialize.Worker, workerCount)
	for i := range workers {
		w := materialize.NewWorker(fmt.Sprintf("materializer-%d", i), s, cfg)
		workers[i] = w
		w.Start(ctx)
	}
	slog.Info("materialization workers started", "count", workerCount)

	<-ctx.Done()
	slog.Info("shutdown signal received, draining in-flight cycles")

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *materialize.Worker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
}
