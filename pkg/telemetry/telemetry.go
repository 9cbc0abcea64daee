// Package telemetry records append-only lifecycle events for workflow
// executions. Recording is best effort: a failed append is logged and
// swallowed so telemetry can never fail a workflow operation.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/conductor-mcp/conductor/pkg/store"
)

// Event types recorded by the orchestrator.
const (
	EventWorkflowCreated         = "workflow_created"
	EventWorkflowStarted         = "workflow_started"
	EventWorkflowCompleted       = "workflow_completed"
	EventWorkflowFailed          = "workflow_failed"
	EventWorkflowStateTransition = "workflow_state_transition"
	EventStepStarted             = "step_started"
	EventStepCompleted           = "step_completed"
	EventStepFailed              = "step_failed"
	EventTokenGenerated          = "token_generated"
	EventTokenValidated          = "token_validated"
	EventTokenExpired            = "token_expired"
	EventArtifactStored          = "artifact_stored"
	EventError                   = "error"
)

// Event is a lifecycle event before persistence. Zero-valued optional fields
// are stored as NULL.
type Event struct {
	Type        string
	ExecutionID string
	StepName    string
	AgentName   string
	Metadata    map[string]any
}

// Recorder appends events to the store.
type Recorder struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder returns a recorder writing through the given store.
func NewRecorder(st *store.Store, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  st,
		logger: logger.With("component", "telemetry"),
		now:    time.Now,
	}
}

// Record appends one event. Failures are logged at warn level and not
// returned; an execution must never fail because its telemetry did.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	r.RecordOn(ctx, r.store.DB(), ev)
}

// RecordOn appends one event through q, which may be an open transaction so
// the event commits or rolls back with the writes it describes.
func (r *Recorder) RecordOn(ctx context.Context, q sqlx.ExtContext, ev Event) {
	row := &store.TelemetryEvent{
		EventType: ev.Type,
		CreatedAt: r.now().UTC(),
	}
	if ev.ExecutionID != "" {
		row.ExecutionID = &ev.ExecutionID
	}
	if ev.StepName != "" {
		row.StepName = &ev.StepName
	}
	if ev.AgentName != "" {
		row.AgentName = &ev.AgentName
	}
	if len(ev.Metadata) > 0 {
		raw, err := json.Marshal(ev.Metadata)
		if err != nil {
			r.logger.Warn("Failed to encode telemetry metadata", "event_type", ev.Type, "error", err)
		} else {
			s := string(raw)
			row.Metadata = &s
		}
	}

	if err := store.InsertTelemetryEvent(ctx, q, row); err != nil {
		r.logger.Warn("Failed to record telemetry event", "event_type", ev.Type, "error", err)
	}
}

// List returns recent events, newest first, with the store's limit clamping.
func (r *Recorder) List(ctx context.Context, filter store.TelemetryFilter) ([]store.TelemetryEvent, error) {
	return store.ListTelemetryEvents(ctx, r.store.DB(), filter)
}
