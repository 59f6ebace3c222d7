package ingest

import "errors"

// Error taxonomy per spec.md §7. Service.Ingest reports these failure kinds
// as HTTP status codes with ErrorResponse bodies; it does not return these
// values.
var (
	ErrEmptyBatch      = errors.New("batch must not be empty")
	ErrMixedTenant     = errors.New("batch contains events from more than one tenant")
	ErrSchemaInvalid   = errors.New("batch failed schema validation")
	ErrIdempotencyConflict = errors.New("idempotency key conflict: different request body")
	ErrIdempotencyInProgress = errors.New("idempotency key: request already in progress")
)
