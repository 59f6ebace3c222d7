package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var fieldValidator = validator.New()

// wireEvent mirrors the on-the-wire JSON shape: the base envelope plus one
// named sub-object key per event type. Unknown top-level fields are
// rejected by decoding with DisallowUnknownFields.
type wireEvent struct {
	Envelope

	Orchestration           json.RawMessage `json:"orchestration,omitempty"`
	OrchestrationCompletion json.RawMessage `json:"orchestration_completion,omitempty"`
	AgentRun                json.RawMessage `json:"agent_run,omitempty"`
	Metrics                 json.RawMessage `json:"metrics,omitempty"`
	Context                 json.RawMessage `json:"context,omitempty"`
	Signal                  json.RawMessage `json:"signal,omitempty"`
	MarketOutcome           json.RawMessage `json:"market_outcome,omitempty"`
}

// ValidateEvent validates a single event given as raw JSON bytes against the
// registry and returns a tagged Result.
func ValidateEvent(raw json.RawMessage) Result {
	var we wireEvent
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&we); err != nil {
		return Result{Errors: []ValidationError{
			newErr("", "type", fmt.Sprintf("malformed event: %v", err), nil),
		}}
	}

	var errs []ValidationError
	errs = append(errs, validateEnvelope(we.Envelope)...)
	if len(errs) > 0 {
		return Result{Errors: errs}
	}

	event := Event{Envelope: we.Envelope}

	switch we.Type {
	case EventOrchestrationRunStarted:
		sub, subErrs := decodeSub[OrchestrationRunSub](we.Orchestration, "/orchestration")
		errs = append(errs, subErrs...)
		event.OrchestrationRunStart = sub
	case EventOrchestrationRunCompleted:
		sub, subErrs := decodeSub[OrchestrationRunCompletionSub](we.OrchestrationCompletion, "/orchestration_completion")
		errs = append(errs, subErrs...)
		event.OrchestrationRunCompleted = sub
	case EventAgentRunStarted:
		sub, subErrs := decodeSub[AgentRunStartSub](we.AgentRun, "/agent_run")
		errs = append(errs, subErrs...)
		event.AgentRunStart = sub
	case EventAgentRunCompleted:
		sub, subErrs := decodeSub[AgentRunCompletionSub](we.AgentRun, "/agent_run")
		errs = append(errs, subErrs...)
		event.AgentRunCompleted = sub
	case EventRetrievalContextAttached:
		sub, subErrs := decodeSub[RetrievalContextSub](we.Context, "/context")
		errs = append(errs, subErrs...)
		event.RetrievalContext = sub
	case EventSignalEmitted:
		sub, subErrs := decodeSub[SignalSub](we.Signal, "/signal")
		errs = append(errs, subErrs...)
		event.Signal = sub
	case EventMarketOutcomeIngested:
		sub, subErrs := decodeSub[MarketOutcomeSub](we.MarketOutcome, "/market_outcome")
		errs = append(errs, subErrs...)
		event.MarketOutcome = sub
	default:
		errs = append(errs, newErr("/type", "enum",
			fmt.Sprintf("unrecognized event type %q", we.Type),
			map[string]any{"allowed": AllEventTypes}))
	}

	if len(errs) > 0 {
		return Result{Errors: errs}
	}
	return Result{Value: &event}
}

// decodeSub decodes a raw sub-object into T, rejecting unknown fields and
// running struct-tag validation. Returns nil and an error list when raw is
// empty (required sub-object missing) or malformed.
func decodeSub[T any](raw json.RawMessage, path string) (*T, []ValidationError) {
	if len(raw) == 0 {
		return nil, []ValidationError{newErr(path, "required", "missing required sub-object", nil)}
	}

	var v T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, []ValidationError{newErr(path, "type", fmt.Sprintf("malformed sub-object: %v", err), nil)}
	}

	if err := fieldValidator.Struct(&v); err != nil {
		return nil, fieldErrorsToValidationErrors(err, path)
	}
	return &v, nil
}

func fieldErrorsToValidationErrors(err error, path string) []ValidationError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{newErr(path, "validation", err.Error(), nil)}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, newErr(
			fmt.Sprintf("%s/%s", path, fe.Field()),
			fe.Tag(),
			fmt.Sprintf("field %q failed %q validation", fe.Field(), fe.Tag()),
			map[string]any{"value": fe.Value()},
		))
	}
	return out
}

func validateEnvelope(e Envelope) []ValidationError {
	var errs []ValidationError
	if e.SchemaVersion != SchemaVersion {
		errs = append(errs, newErr("/schema_version", "const",
			fmt.Sprintf("expected %q, got %q", SchemaVersion, e.SchemaVersion), nil))
	}
	if e.EventID == "" {
		errs = append(errs, newErr("/event_id", "required", "event_id is required", nil))
	}
	if e.TenantID == "" {
		errs = append(errs, newErr("/tenant_id", "required", "tenant_id is required", nil))
	}
	if e.OrchestrationRunID == "" {
		errs = append(errs, newErr("/orchestration_run_id", "required", "orchestration_run_id is required", nil))
	}
	if e.WorkflowID == "" {
		errs = append(errs, newErr("/workflow_id", "required", "workflow_id is required", nil))
	}
	if e.RequestTimestamp.IsZero() {
		errs = append(errs, newErr("/request_timestamp", "required", "request_timestamp is required", nil))
	}
	if e.EventTime.IsZero() {
		errs = append(errs, newErr("/event_time", "required", "event_time is required", nil))
	}
	if !isKnownType(e.Type) {
		errs = append(errs, newErr("/type", "enum",
			fmt.Sprintf("unrecognized event type %q", e.Type),
			map[string]any{"allowed": AllEventTypes}))
	}
	return errs
}

func isKnownType(t EventType) bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ValidateBatch validates a batch of raw JSON events, returning a
// BatchResult with per-event errors attributed by index. Batch-level rules
// (empty batch, mixed tenant) are enforced by the ingest front-end
// (internal/ingest), which calls CheckBatchInvariants after validation.
func ValidateBatch(raws []json.RawMessage) BatchResult {
	result := BatchResult{PerEventErrors: map[int][]ValidationError{}}
	for i, raw := range raws {
		r := ValidateEvent(raw)
		if !r.OK() {
			result.PerEventErrors[i] = r.Errors
			continue
		}
		result.Values = append(result.Values, *r.Value)
	}
	return result
}

// CheckBatchInvariants enforces the empty-batch and mixed-tenant rules from
// spec.md §4.4 step 3 over a successfully-validated event slice; an empty
// slice yields the empty-batch error.
func CheckBatchInvariants(events []Event) []ValidationError {
	if len(events) == 0 {
		return []ValidationError{newErr("", "minItems", "batch must not be empty", nil)}
	}
	tenant := events[0].TenantID
	for _, e := range events[1:] {
		if e.TenantID != tenant {
			return []ValidationError{newErr("", "tenant", "batch contains events from more than one tenant",
				map[string]any{"expected": tenant, "found": e.TenantID})}
		}
	}
	return nil
}
