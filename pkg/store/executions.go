package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
	"github.com/conductor-mcp/conductor/pkg/domain/workflow"
)

// Execution is one row of workflow_executions.
type Execution struct {
	ExecutionID  string                 `db:"execution_id" json:"execution_id"`
	WorkflowName string                 `db:"workflow_name" json:"workflow_name"`
	State        workflow.WorkflowState `db:"state" json:"state"`
	CurrentStep  *string                `db:"current_step" json:"current_step,omitempty"`
	TimeoutMS    *int64                 `db:"timeout_ms" json:"timeout_ms,omitempty"`
	StartedAt    time.Time              `db:"started_at" json:"started_at"`
	UpdatedAt    time.Time              `db:"updated_at" json:"updated_at"`
	CompletedAt  *time.Time             `db:"completed_at" json:"completed_at,omitempty"`
	DurationMS   *int64                 `db:"duration_ms" json:"duration_ms,omitempty"`
	Metadata     *string                `db:"metadata" json:"metadata,omitempty"`
}

// InsertExecution inserts a new execution row. An id collision maps to
// DUPLICATE_EXECUTION_ID.
func InsertExecution(ctx context.Context, q sqlx.ExtContext, e *Execution) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO workflow_executions
			(execution_id, workflow_name, state, current_step, timeout_ms, started_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ExecutionID, e.WorkflowName, e.State, e.CurrentStep, e.TimeoutMS, e.StartedAt, e.UpdatedAt, e.Metadata)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Newf(errors.CodeDuplicateExecutionID, "store",
				"execution %q already exists", e.ExecutionID)
		}
		return errors.New(errors.CodeIoError, "store", "failed to insert execution", err)
	}
	return nil
}

// GetExecution loads an execution by id; returns (nil, nil) when absent.
func GetExecution(ctx context.Context, q sqlx.ExtContext, executionID string) (*Execution, error) {
	var e Execution
	err := sqlx.GetContext(ctx, q, &e,
		`SELECT * FROM workflow_executions WHERE execution_id = ?`, executionID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to load execution", err)
	}
	return &e, nil
}

// UpdateExecutionState persists a state change. Terminal transitions carry
// completed_at and duration_ms; updated_at is maintained by trigger.
func UpdateExecutionState(ctx context.Context, q sqlx.ExtContext, executionID string,
	state workflow.WorkflowState, currentStep *string, completedAt *time.Time, durationMS *int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE workflow_executions
		SET state = ?, current_step = ?, completed_at = ?, duration_ms = ?
		WHERE execution_id = ?`,
		state, currentStep, completedAt, durationMS, executionID)
	if err != nil {
		return errors.New(errors.CodeIoError, "store", "failed to update execution state", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return errors.Newf(errors.CodeExecutionNotFound, "store", "execution %q not found", executionID)
	}
	return nil
}

// ListExecutionsByWorkflow returns executions for a workflow, newest first.
func ListExecutionsByWorkflow(ctx context.Context, q sqlx.ExtContext, workflowName string) ([]Execution, error) {
	var out []Execution
	err := sqlx.SelectContext(ctx, q, &out,
		`SELECT * FROM workflow_executions WHERE workflow_name = ? ORDER BY started_at DESC`, workflowName)
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to list executions by workflow", err)
	}
	return out, nil
}

// ListExecutionsByState returns executions in the given state, newest first.
func ListExecutionsByState(ctx context.Context, q sqlx.ExtContext, state workflow.WorkflowState) ([]Execution, error) {
	var out []Execution
	err := sqlx.SelectContext(ctx, q, &out,
		`SELECT * FROM workflow_executions WHERE state = ? ORDER BY started_at DESC`, state)
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to list executions by state", err)
	}
	return out, nil
}

// ListTimedOutExecutions returns running executions whose timeout_ms budget has
// elapsed relative to now. Used by the advisory sweeper.
func ListTimedOutExecutions(ctx context.Context, q sqlx.ExtContext, now time.Time) ([]Execution, error) {
	var out []Execution
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT * FROM workflow_executions
		WHERE state = 'running' AND timeout_ms IS NOT NULL
		  AND (julianday(?) - julianday(started_at)) * 86400000 > timeout_ms`,
		now.UTC())
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to scan for timed-out executions", err)
	}
	return out, nil
}

// DeleteExecution removes an execution and everything bounded by its lifetime:
// steps and artifacts cascade via foreign keys, telemetry rows are removed
// explicitly, and knowledge findings are detached (they outlive executions).
func DeleteExecution(ctx context.Context, q sqlx.ExtContext, executionID string) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE knowledge_findings SET source_execution_id = NULL WHERE source_execution_id = ?`, executionID); err != nil {
		return errors.New(errors.CodeIoError, "store", "failed to detach findings", err)
	}
	if _, err := q.ExecContext(ctx,
		`DELETE FROM telemetry_events WHERE execution_id = ?`, executionID); err != nil {
		return errors.New(errors.CodeIoError, "store", "failed to delete telemetry events", err)
	}
	if _, err := q.ExecContext(ctx,
		`DELETE FROM workflow_executions WHERE execution_id = ?`, executionID); err != nil {
		return errors.New(errors.CodeIoError, "store", "failed to delete execution", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if stderrors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
