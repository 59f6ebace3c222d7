// Package schema implements the declarative event schema registry (C3):
// a shared base envelope, seven concrete event types expressed as a closed
// tagged union, and a validator producing AJV-style structured errors.
package schema

import "time"

// EventType is the closed set of event type tags.
type EventType string

// Recognized event types.
const (
	EventOrchestrationRunStarted   EventType = "OrchestrationRunStarted"
	EventOrchestrationRunCompleted EventType = "OrchestrationRunCompleted"
	EventAgentRunStarted           EventType = "AgentRunStarted"
	EventAgentRunCompleted         EventType = "AgentRunCompleted"
	EventRetrievalContextAttached  EventType = "RetrievalContextAttached"
	EventSignalEmitted             EventType = "SignalEmitted"
	EventMarketOutcomeIngested     EventType = "MarketOutcomeIngested"
)

// AllEventTypes lists the closed set, used for exhaustive dispatch checks
// and validation error messages.
var AllEventTypes = []EventType{
	EventOrchestrationRunStarted,
	EventOrchestrationRunCompleted,
	EventAgentRunStarted,
	EventAgentRunCompleted,
	EventRetrievalContextAttached,
	EventSignalEmitted,
	EventMarketOutcomeIngested,
}

// SchemaVersion is the only currently recognized schema_version value.
const SchemaVersion = "v1"

// Envelope is the base envelope shared by every event type, per spec.md
// §4.3.
type Envelope struct {
	SchemaVersion       string    `json:"schema_version"`
	Type                EventType `json:"type"`
	EventID             string    `json:"event_id"`
	TenantID            string    `json:"tenant_id"`
	OrchestrationRunID  string    `json:"orchestration_run_id"`
	WorkflowID          string    `json:"workflow_id"`
	QueryID             string    `json:"query_id"`
	RequestTimestamp    time.Time `json:"request_timestamp"`
	EventTime           time.Time `json:"event_time"`
}

// InstrumentWeight is one entry in a Signal's instrument universe.
type InstrumentWeight struct {
	ID     string   `json:"id"`
	Weight *float64 `json:"weight,omitempty"`
}

// SignalValueType tags the three-case signal value variant (spec.md §9).
type SignalValueType string

const (
	SignalValueScalar SignalValueType = "scalar"
	SignalValueVector SignalValueType = "vector"
	SignalValueText   SignalValueType = "text"
)

// SignalValue is the tagged union {scalar, vector, text}. Exactly one of
// Scalar/Vector/Text is populated, selected by Type.
type SignalValue struct {
	Type   SignalValueType    `json:"type"`
	Scalar *float64           `json:"scalar,omitempty"`
	Vector map[string]float64 `json:"vector,omitempty"`
	Text   *string            `json:"text,omitempty"`
}

// OrchestrationRunSub is the sub-object carried by OrchestrationRunStarted.
type OrchestrationRunSub struct {
	Workflow           string         `json:"workflow" validate:"required"`
	Query              string         `json:"query"`
	RequestTime        time.Time      `json:"request_time" validate:"required"`
	OrchestratorMeta   map[string]any `json:"orchestrator_metadata,omitempty"`
	ClientMeta         map[string]any `json:"client_metadata,omitempty"`
	UserMeta           map[string]any `json:"user_metadata,omitempty"`
}

// OrchestrationRunCompletionSub is carried by OrchestrationRunCompleted.
type OrchestrationRunCompletionSub struct {
	Status        string    `json:"status" validate:"required,oneof=success error"`
	CompletedAt   time.Time `json:"completed_at" validate:"required"`
	TotalLatencyMs float64  `json:"total_latency_ms" validate:"gte=0"`
	ErrorCode     *string   `json:"error_code,omitempty"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
}

// AgentRunStartSub is carried by AgentRunStarted.
type AgentRunStartSub struct {
	AgentRunID          string    `json:"agent_run_id" validate:"required,uuid"`
	AgentID             string    `json:"agent_id" validate:"required"`
	AgentVersion        string    `json:"agent_version" validate:"required"`
	Model               *string   `json:"model,omitempty"`
	ConfigHash          *string   `json:"config_hash,omitempty"`
	ParentAgentRunID    *string   `json:"parent_agent_run_id,omitempty"`
	StartedAt           time.Time `json:"started_at" validate:"required"`
}

// Metrics is the raw metrics sub-object carried by AgentRunCompleted.
type Metrics struct {
	LatencyMs         float64  `json:"latency_ms" validate:"gte=0"`
	Faithfulness      *float64 `json:"faithfulness,omitempty"`
	HallucinationFlag *bool    `json:"hallucination_flag,omitempty"`
	Coverage          *float64 `json:"coverage,omitempty"`
	Confidence        *float64 `json:"confidence,omitempty"`
}

// AgentRunCompletionSub is carried by AgentRunCompleted.
type AgentRunCompletionSub struct {
	AgentRunID    string    `json:"agent_run_id" validate:"required,uuid"`
	CompletedAt   time.Time `json:"completed_at" validate:"required"`
	OutputSummary *string   `json:"output_summary,omitempty"`
	OutputURI     *string   `json:"output_uri,omitempty"`
	Metrics       Metrics   `json:"metrics" validate:"required"`
}

// RetrievalContextSub is carried by RetrievalContextAttached. Handling is
// reserved per spec.md §9 open question (i); the materializer validates and
// acknowledges without persisting.
type RetrievalContextSub struct {
	AgentRunID  string  `json:"agent_run_id" validate:"required,uuid"`
	ContextURI  string  `json:"context_uri" validate:"required"`
	ContextType *string `json:"context_type,omitempty"`
}

// SignalSub is carried by SignalEmitted.
type SignalSub struct {
	SignalID           string              `json:"signal_id" validate:"required,uuid"`
	Horizon            string              `json:"horizon" validate:"required"`
	InstrumentUniverse []InstrumentWeight  `json:"instrument_universe" validate:"required,min=1"`
	SignalValue        SignalValue         `json:"signal_value" validate:"required"`
	Confidence         *float64            `json:"confidence,omitempty"`
	Constraints        map[string]any      `json:"constraints,omitempty"`
}

// MarketOutcomeSub is carried by MarketOutcomeIngested.
type MarketOutcomeSub struct {
	DatasetVersion   string    `json:"dataset_version" validate:"required"`
	InstrumentID     string    `json:"instrument_id" validate:"required"`
	AsofTime         time.Time `json:"asof_time" validate:"required"`
	RealizedReturn   float64   `json:"realized_return"`
	BenchmarkReturn  *float64  `json:"benchmark_return,omitempty"`
}

// Event is the closed tagged sum of envelope + exactly one type-specific
// sub-object, selected by Envelope.Type. Exactly one of the Sub* fields is
// non-nil after successful validation, matching Envelope.Type.
type Event struct {
	Envelope

	OrchestrationRunStart     *OrchestrationRunSub           `json:"-"`
	OrchestrationRunCompleted *OrchestrationRunCompletionSub `json:"-"`
	AgentRunStart             *AgentRunStartSub              `json:"-"`
	AgentRunCompleted         *AgentRunCompletionSub          `json:"-"`
	RetrievalContext          *RetrievalContextSub            `json:"-"`
	Signal                    *SignalSub                      `json:"-"`
	MarketOutcome             *MarketOutcomeSub               `json:"-"`
}
