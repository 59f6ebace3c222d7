package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/codeready-toolchain/evalpipeline/internal/schema"
	"github.com/codeready-toolchain/evalpipeline/internal/store"
)

// Service implements the ingest front-end's processing order against the
// shared store.
type Service struct {
	store *store.Store
}

// NewService constructs a Service.
func NewService(s *store.Store) *Service {
	if s == nil {
		panic("ingest.NewService: store must not be nil")
	}
	return &Service{store: s}
}

// Ingest runs the full processing order from step 1 (normalize + hash)
// through step 7 (best-effort audit) and returns the HTTP status and
// JSON-serializable body to write.
func (s *Service) Ingest(ctx context.Context, rawBody []byte, idempotencyKey string) (int, any) {
	sum := sha256.Sum256(rawBody)
	requestSHA256 := hex.EncodeToString(sum[:])

	raws, parseErr := parseEvents(rawBody)
	if parseErr != nil {
		s.deadLetter(ctx, "", "malformed_body", []schema.ValidationError{
			{Path: "", Keyword: "type", Message: parseErr.Error()},
		}, rawBody)
		return 400, ErrorResponse{Error: "request body is not a valid event batch or envelope"}
	}

	batch := schema.ValidateBatch(raws)
	if !batch.OK() {
		s.deadLetter(ctx, tenantOfBatch(batch.Values), "schema_invalid", flattenBatchErrors(batch), rawBody)
		return 400, ErrorResponse{Error: "batch failed schema validation", Errors: batch.PerEventErrors}
	}

	if invErrs := schema.CheckBatchInvariants(batch.Values); len(invErrs) > 0 {
		reason := "empty_batch"
		if len(batch.Values) > 0 {
			reason = "mixed_tenant"
		}
		s.deadLetter(ctx, tenantOfBatch(batch.Values), reason, invErrs, rawBody)
		return 400, ErrorResponse{Error: invErrs[0].Message}
	}

	tenant := batch.Values[0].TenantID

	if idempotencyKey != "" {
		if status, body, handled := s.resolveIdempotency(ctx, tenant, idempotencyKey, requestSHA256); handled {
			return status, body
		}
	}

	inserted, err := s.insertRawEvents(ctx, tenant, batch.Values)
	if err != nil {
		slog.Error("ingest: failed to insert raw events", "tenant", tenant, "error", err)
		if idempotencyKey != "" {
			s.finalizeFailedLedger(ctx, tenant, idempotencyKey, 500)
		}
		s.deadLetter(ctx, tenant, "database_failure", []schema.ValidationError{
			{Path: "", Keyword: "internal", Message: err.Error()},
		}, rawBody)
		return 500, ErrorResponse{Error: "internal error persisting events"}
	}

	resp := IngestResponse{
		OK:                    true,
		SchemaVersion:         schema.SchemaVersion,
		TenantID:              tenant,
		ReceivedEvents:        len(batch.Values),
		InsertedEvents:        inserted,
		DuplicateEvents:       len(batch.Values) - inserted,
		RequestIdempotencyKey: idempotencyKey,
	}

	if idempotencyKey != "" {
		s.finalizeCompletedLedger(ctx, tenant, idempotencyKey, 200, resp)
	}

	s.audit(ctx, tenant, "ingest.batch_accepted", resp)
	return 200, resp
}

func parseEvents(rawBody []byte) ([]json.RawMessage, error) {
	var asEnvelope BatchRequest
	if err := json.Unmarshal(rawBody, &asEnvelope); err == nil && asEnvelope.Events != nil {
		return asEnvelope.Events, nil
	}

	var asArray []json.RawMessage
	if err := json.Unmarshal(rawBody, &asArray); err == nil {
		return asArray, nil
	}

	return nil, fmt.Errorf("body must be a bare JSON array or {schema_version, events: [...]}")
}

func tenantOfBatch(events []schema.Event) string {
	if len(events) == 0 {
		return ""
	}
	return events[0].TenantID
}

func flattenBatchErrors(b schema.BatchResult) []schema.ValidationError {
	var out []schema.ValidationError
	for _, errs := range b.PerEventErrors {
		out = append(out, errs...)
	}
	out = append(out, b.BatchErrors...)
	return out
}

// resolveIdempotency implements step 4: attempt-insert-as-processing, with
// the fresh/completed/processing/conflict branches. handled=false means no
// prior row existed, or the ledger insert or lookup failed (logged), and the
// caller proceeds with a fresh insert.
func (s *Service) resolveIdempotency(ctx context.Context, tenant, key, requestSHA256 string) (int, any, bool) {
	const insertSQL = `
		INSERT INTO ingest_requests (tenant, idempotency_key, request_sha256, status)
		VALUES ($1, $2, $3, 'processing')
		ON CONFLICT (tenant, idempotency_key) DO NOTHING`

	tag, err := s.store.Pool.Exec(ctx, insertSQL, tenant, key, requestSHA256)
	if err != nil {
		slog.Error("ingest: idempotency insert failed", "error", err)
		return 0, nil, false
	}
	if tag.RowsAffected() == 1 {
		return 0, nil, false
	}

	const selectSQL = `
		SELECT request_sha256, status, response_status, response_body
		FROM ingest_requests WHERE tenant = $1 AND idempotency_key = $2`

	var existingSHA, status string
	var responseStatus *int
	var responseBody []byte
	if err := s.store.Pool.QueryRow(ctx, selectSQL, tenant, key).Scan(&existingSHA, &status, &responseStatus, &responseBody); err != nil {
		slog.Error("ingest: idempotency lookup failed", "error", err)
		return 0, nil, false
	}

	if existingSHA != requestSHA256 {
		return 409, ErrorResponse{Error: "idempotency key reused with a different request body"}, true
	}

	switch status {
	case "completed":
		var cached any
		if responseBody != nil {
			_ = json.Unmarshal(responseBody, &cached)
		}
		if responseStatus != nil {
			return *responseStatus, cached, true
		}
		return 200, cached, true
	case "processing":
		return 202, ErrorResponse{Error: "request already being processed, retry"}, true
	default: // failed
		return 409, ErrorResponse{Error: "prior request with this idempotency key failed"}, true
	}
}

// insertRawEvents issues one conflict-ignoring INSERT per event inside a
// single transaction and returns the number of rows actually inserted. It
// does not batch the events into one multi-row statement.
func (s *Service) insertRawEvents(ctx context.Context, tenant string, events []schema.Event) (int, error) {
	inserted := 0
	err := store.WithTx(ctx, s.store.Pool, func(tx pgx.Tx) error {
		for _, e := range events {
			payload, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal event %s: %w", e.EventID, err)
			}

			tag, err := tx.Exec(ctx, `
				INSERT INTO raw_events (tenant, event_id, schema_version, type, event_time, payload)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (tenant, event_id) DO NOTHING`,
				tenant, e.EventID, e.SchemaVersion, string(e.Type), e.EventTime, payload)
			if err != nil {
				return fmt.Errorf("insert raw event %s: %w", e.EventID, err)
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	return inserted, err
}

func (s *Service) finalizeCompletedLedger(ctx context.Context, tenant, key string, status int, body any) {
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		slog.Warn("ingest: failed to marshal response for ledger", "error", err)
		return
	}
	_, err = s.store.Pool.Exec(ctx, `
		UPDATE ingest_requests
		SET status = 'completed', response_status = $3, response_body = $4, updated_at = now()
		WHERE tenant = $1 AND idempotency_key = $2`,
		tenant, key, status, bodyJSON)
	if err != nil {
		slog.Error("ingest: failed to finalize ledger as completed", "error", err)
	}
}

func (s *Service) finalizeFailedLedger(ctx context.Context, tenant, key string, status int) {
	_, err := s.store.Pool.Exec(ctx, `
		UPDATE ingest_requests
		SET status = 'failed', response_status = $3, updated_at = now()
		WHERE tenant = $1 AND idempotency_key = $2`,
		tenant, key, status)
	if err != nil {
		slog.Error("ingest: failed to finalize ledger as failed", "error", err)
	}
}

func (s *Service) deadLetter(ctx context.Context, tenant, reason string, errs []schema.ValidationError, payload []byte) {
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		slog.Error("ingest: failed to marshal dead-letter errors", "error", err)
		return
	}
	_, err = s.store.Pool.Exec(ctx, `
		INSERT INTO dead_letter_events (tenant, reason, errors, payload)
		VALUES ($1, $2, $3, $4)`,
		tenant, reason, errsJSON, payload)
	if err != nil {
		slog.Error("ingest: failed to write dead-letter entry", "reason", reason, "error", err)
	}
}

// audit writes a best-effort audit entry; failures are logged, never
// surfaced to the caller, per spec.md §4.4 step 7.
func (s *Service) audit(ctx context.Context, tenant, action string, details any) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		slog.Warn("ingest: failed to marshal audit details", "error", err)
		return
	}
	_, err = s.store.Pool.Exec(ctx, `
		INSERT INTO audit_entries (tenant, action, details) VALUES ($1, $2, $3)`,
		tenant, action, detailsJSON)
	if err != nil {
		slog.Warn("ingest: best-effort audit log write failed", "action", action, "error", err)
	}
}
