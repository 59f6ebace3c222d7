// Package materialize implements the materialization worker (C5): it
// claims batches of raw events with SELECT ... FOR UPDATE SKIP LOCKED,
// revalidates and dispatches each one under its own savepoint, and commits
// the cycle.
package materialize

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/codeready-toolchain/evalpipeline/internal/normalize"
	"github.com/codeready-toolchain/evalpipeline/internal/store"
)

// Config tunes one worker's claim-and-process cycle.
type Config struct {
	BatchSize    int
	MaxAttempts  int
	PollInterval time.Duration

	// NormalizeOverrides is the per-workflow normalization config (spec.md
	// §4.2), keyed by workflow name. A workflow absent from this map uses
	// normalize.DefaultConfig() unchanged.
	NormalizeOverrides map[string]normalize.WorkflowConfig
}

// DefaultConfig mirrors the teacher's production defaults in spirit: modest
// batch size, bounded retries, sub-second idle poll.
func DefaultConfig() Config {
	return Config{BatchSize: 50, MaxAttempts: 5, PollInterval: 500 * time.Millisecond}
}

// Worker is a single materialization worker polling the raw_events queue.
type Worker struct {
	id     string
	store  *store.Store
	cfg    Config
	stopCh chan struct{}
	stopOnce sync.Once
	wg     sync.WaitGroup
}

// NewWorker constructs a Worker.
func NewWorker(id string, s *store.Store, cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Worker{id: id, store: s, cfg: cfg, stopCh: make(chan struct{})}
}

// Start begins the worker's polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop after its in-flight cycle and waits for
// it to finish. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := slog.With("worker_id", w.id)
	log.Info("materialization worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("materialization worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, materialization worker shutting down")
			return
		default:
		}

		processed, err := w.cycle(ctx)
		if err != nil {
			log.Error("materialization cycle failed", "error", err)
			w.sleep(time.Second)
			continue
		}
		if processed == 0 {
			w.sleep(w.cfg.PollInterval)
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// cycle opens one transaction, claims up to BatchSize unprocessed rows with
// FOR UPDATE SKIP LOCKED, processes each under its own savepoint, and
// commits. Returns the number of rows claimed.
func (w *Worker) cycle(ctx context.Context) (int, error) {
	var claimed int
	err := store.WithTx(ctx, w.store.Pool, func(tx pgx.Tx) error {
		rows, err := w.claim(ctx, tx)
		if err != nil {
			return err
		}
		claimed = len(rows)
		for i, row := range rows {
			if err := w.processOne(ctx, tx, i, row); err != nil {
				// processOne already rolled back to its own savepoint and
				// recorded the failure on the row; a returned error here
				// means the savepoint machinery itself failed, which is
				// fatal for the whole cycle.
				return err
			}
		}
		return nil
	})
	return claimed, err
}

type claimedRow struct {
	tenant        string
	eventID       string
	eventType     string
	eventTime     time.Time
	payload       []byte
	attemptCount  int
}

func (w *Worker) claim(ctx context.Context, tx pgx.Tx) ([]claimedRow, error) {
	rows, err := tx.Query(ctx, `
		SELECT tenant, event_id, type, event_time, payload, attempt_count
		FROM raw_events
		WHERE processed_at IS NULL AND attempt_count < $1
		ORDER BY ingest_time, event_time, event_id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		w.cfg.MaxAttempts, w.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []claimedRow
	for rows.Next() {
		var r claimedRow
		if err := rows.Scan(&r.tenant, &r.eventID, &r.eventType, &r.eventTime, &r.payload, &r.attemptCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
