// Package engine is the write core of the orchestrator: the execution state
// machine, the step executor that advances workflows one continuation token at
// a time, and the advisory timeout sweeper.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
	"github.com/conductor-mcp/conductor/pkg/domain/workflow"
	"github.com/conductor-mcp/conductor/pkg/store"
	"github.com/conductor-mcp/conductor/pkg/telemetry"
)

// legalTransitions is the full transition table. Terminal states have no
// entries: nothing leaves them.
var legalTransitions = map[workflow.WorkflowState][]workflow.WorkflowState{
	workflow.StateIdle: {workflow.StateRunning},
	workflow.StateRunning: {
		workflow.StateCompleted,
		workflow.StateFailed,
		workflow.StatePaused,
		workflow.StateAbandoned,
		workflow.StateDiverged,
	},
	workflow.StatePaused: {workflow.StateRunning, workflow.StateAbandoned},
}

// CanTransition reports whether from → to is a legal state change.
func CanTransition(from, to workflow.WorkflowState) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StateMachine owns execution rows and the legality of their state changes.
type StateMachine struct {
	store     *store.Store
	telemetry *telemetry.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewStateMachine returns a state machine writing through st.
func NewStateMachine(st *store.Store, rec *telemetry.Recorder, logger *slog.Logger) *StateMachine {
	return &StateMachine{
		store:     st,
		telemetry: rec,
		logger:    logger.With("component", "statemachine"),
		now:       time.Now,
	}
}

// Create inserts a new execution in the idle state.
func (m *StateMachine) Create(ctx context.Context, workflowName, executionID string) (*store.Execution, error) {
	var exec *store.Execution
	err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		exec, err = m.CreateOn(ctx, tx, workflowName, executionID, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// CreateOn inserts a new idle execution through q, which may be an open
// transaction.
func (m *StateMachine) CreateOn(ctx context.Context, q sqlx.ExtContext, workflowName, executionID string, timeoutMS *int64) (*store.Execution, error) {
	if workflowName == "" {
		return nil, errors.New(errors.CodeMissingParameter, "engine", "workflow_name is required", nil)
	}
	if executionID == "" {
		return nil, errors.New(errors.CodeMissingParameter, "engine", "execution_id is required", nil)
	}

	now := m.now().UTC()
	exec := &store.Execution{
		ExecutionID:  executionID,
		WorkflowName: workflowName,
		State:        workflow.StateIdle,
		TimeoutMS:    timeoutMS,
		StartedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.InsertExecution(ctx, q, exec); err != nil {
		return nil, err
	}

	m.telemetry.RecordOn(ctx, q, telemetry.Event{
		Type:        telemetry.EventWorkflowCreated,
		ExecutionID: executionID,
		Metadata:    map[string]any{"workflow_name": workflowName},
	})
	return exec, nil
}

// Transition applies one legal state change.
func (m *StateMachine) Transition(ctx context.Context, executionID string, newState workflow.WorkflowState, currentStep *string) error {
	return m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return m.TransitionOn(ctx, tx, executionID, newState, currentStep)
	})
}

// TransitionOn applies one legal state change through q. Terminal transitions
// stamp completed_at and duration_ms, clear current_step, and fail any step
// still running so its outstanding token dies with the execution.
func (m *StateMachine) TransitionOn(ctx context.Context, q sqlx.ExtContext, executionID string, newState workflow.WorkflowState, currentStep *string) error {
	exec, err := store.GetExecution(ctx, q, executionID)
	if err != nil {
		return err
	}
	if exec == nil {
		return errors.Newf(errors.CodeExecutionNotFound, "engine", "execution %q not found", executionID)
	}

	if !CanTransition(exec.State, newState) {
		return errors.Newf(errors.CodeInvalidTransition, "engine",
			"invalid transition from %s to %s for execution %q", exec.State, newState, executionID)
	}

	var completedAt *time.Time
	var durationMS *int64
	if newState.IsTerminal() {
		t := m.now().UTC()
		d := t.Sub(exec.StartedAt).Milliseconds()
		completedAt = &t
		durationMS = &d

		// current_step is non-null only while running or paused.
		currentStep = nil

		steps, err := store.ListSteps(ctx, q, executionID)
		if err != nil {
			return err
		}
		for _, st := range steps {
			if st.Status != workflow.StepRunning {
				continue
			}
			if err := store.FailStep(ctx, q, st.ID, t, t.Sub(st.StartedAt).Milliseconds()); err != nil {
				return err
			}
		}
	} else if currentStep == nil {
		currentStep = exec.CurrentStep
	}

	if err := store.UpdateExecutionState(ctx, q, executionID, newState, currentStep, completedAt, durationMS); err != nil {
		return err
	}

	m.telemetry.RecordOn(ctx, q, telemetry.Event{
		Type:        telemetry.EventWorkflowStateTransition,
		ExecutionID: executionID,
		Metadata:    map[string]any{"old_state": string(exec.State), "new_state": string(newState)},
	})
	return nil
}

// Get loads an execution; (nil, nil) when absent.
func (m *StateMachine) Get(ctx context.Context, executionID string) (*store.Execution, error) {
	return store.GetExecution(ctx, m.store.DB(), executionID)
}

// ListByWorkflow returns executions of one workflow, newest first.
func (m *StateMachine) ListByWorkflow(ctx context.Context, workflowName string) ([]store.Execution, error) {
	return store.ListExecutionsByWorkflow(ctx, m.store.DB(), workflowName)
}

// ListByState returns executions in one state, newest first.
func (m *StateMachine) ListByState(ctx context.Context, state workflow.WorkflowState) ([]store.Execution, error) {
	if !state.Valid() {
		return nil, errors.Newf(errors.CodeInvalidParameter, "engine", "unknown workflow state %q", state)
	}
	return store.ListExecutionsByState(ctx, m.store.DB(), state)
}
