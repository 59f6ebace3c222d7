// Package ingest implements the HTTP ingest front-end (C4): batch
// acceptance, schema validation, idempotency-key handling, and durable
// raw-event storage.
package ingest

import "encoding/json"

// BatchRequest is the accepted request body shape: either
// {schema_version, events: [...]} or a bare array, both normalized to
// this form before validation.
type BatchRequest struct {
	SchemaVersion string            `json:"schema_version"`
	Events        []json.RawMessage `json:"events"`
}

// IngestResponse is the 200 response body for POST /events, including an
// idempotent replay of a completed request.
type IngestResponse struct {
	OK                    bool   `json:"ok"`
	SchemaVersion         string `json:"schema_version"`
	TenantID              string `json:"tenant_id"`
	ReceivedEvents        int    `json:"received_events"`
	InsertedEvents        int    `json:"inserted_events"`
	DuplicateEvents       int    `json:"duplicate_events"`
	RequestIdempotencyKey string `json:"request_idempotency_key,omitempty"`
}

// ErrorResponse is returned on 202/400/409/413/500.
type ErrorResponse struct {
	OK     bool        `json:"ok"`
	Error  string      `json:"error"`
	Errors interface{} `json:"errors,omitempty"`
}
