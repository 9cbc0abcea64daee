package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
	"github.com/conductor-mcp/conductor/pkg/domain/workflow"
)

// Step is one row of workflow_steps: the runtime realization of a phase.
type Step struct {
	ID          int64               `db:"id" json:"id"`
	ExecutionID string              `db:"execution_id" json:"execution_id"`
	StepName    string              `db:"step_name" json:"step_name"`
	AgentName   string              `db:"agent_name" json:"agent_name"`
	Status      workflow.StepStatus `db:"status" json:"status"`
	StartedAt   time.Time           `db:"started_at" json:"started_at"`
	UpdatedAt   time.Time           `db:"updated_at" json:"updated_at"`
	CompletedAt *time.Time          `db:"completed_at" json:"completed_at,omitempty"`
	DurationMS  *int64              `db:"duration_ms" json:"duration_ms,omitempty"`
	Output      *string             `db:"output" json:"output,omitempty"`
	Token       *string             `db:"token" json:"-"`
}

// InsertStep inserts a step row and backfills its id. A duplicate
// (execution_id, step_name) pair is a fatal transactional error.
func InsertStep(ctx context.Context, q sqlx.ExtContext, st *Step) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO workflow_steps
			(execution_id, step_name, agent_name, status, started_at, updated_at, token)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.ExecutionID, st.StepName, st.AgentName, st.Status, st.StartedAt, st.UpdatedAt, st.Token)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Newf(errors.CodeConstraintViolation, "store",
				"step %q already exists for execution %q", st.StepName, st.ExecutionID)
		}
		return errors.New(errors.CodeIoError, "store", "failed to insert step", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		st.ID = id
	}
	return nil
}

// GetStep loads a step by its (execution_id, step_name) key; (nil, nil) when
// absent.
func GetStep(ctx context.Context, q sqlx.ExtContext, executionID, stepName string) (*Step, error) {
	var st Step
	err := sqlx.GetContext(ctx, q, &st,
		`SELECT * FROM workflow_steps WHERE execution_id = ? AND step_name = ?`, executionID, stepName)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to load step", err)
	}
	return &st, nil
}

// SetStepToken attaches a freshly issued continuation token to a running step.
func SetStepToken(ctx context.Context, q sqlx.ExtContext, stepID int64, token string) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE workflow_steps SET token = ? WHERE id = ?`, token, stepID); err != nil {
		return errors.New(errors.CodeIoError, "store", "failed to set step token", err)
	}
	return nil
}

// CompleteStep marks a step completed, records its output and duration, and
// clears the token so it can never be observed again.
func CompleteStep(ctx context.Context, q sqlx.ExtContext, stepID int64, completedAt time.Time, durationMS int64, output string) error {
	if _, err := q.ExecContext(ctx, `
		UPDATE workflow_steps
		SET status = 'completed', completed_at = ?, duration_ms = ?, output = ?, token = NULL
		WHERE id = ?`,
		completedAt, durationMS, output, stepID); err != nil {
		return errors.New(errors.CodeIoError, "store", "failed to complete step", err)
	}
	return nil
}

// FailStep marks a step failed and clears its token.
func FailStep(ctx context.Context, q sqlx.ExtContext, stepID int64, completedAt time.Time, durationMS int64) error {
	if _, err := q.ExecContext(ctx, `
		UPDATE workflow_steps
		SET status = 'failed', completed_at = ?, duration_ms = ?, token = NULL
		WHERE id = ?`,
		completedAt, durationMS, stepID); err != nil {
		return errors.New(errors.CodeIoError, "store", "failed to mark step failed", err)
	}
	return nil
}

// ListSteps returns all steps for an execution in insertion order.
func ListSteps(ctx context.Context, q sqlx.ExtContext, executionID string) ([]Step, error) {
	var out []Step
	err := sqlx.SelectContext(ctx, q, &out,
		`SELECT * FROM workflow_steps WHERE execution_id = ? ORDER BY id`, executionID)
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to list steps", err)
	}
	return out, nil
}

// StepCounts summarizes step statuses for an execution.
type StepCounts struct {
	Total     int `db:"total" json:"total"`
	Completed int `db:"completed" json:"completed"`
	Failed    int `db:"failed" json:"failed"`
	Running   int `db:"running" json:"running"`
	Pending   int `db:"pending" json:"pending"`
}

// CountSteps aggregates step statuses for an execution.
func CountSteps(ctx context.Context, q sqlx.ExtContext, executionID string) (*StepCounts, error) {
	var c StepCounts
	err := sqlx.GetContext(ctx, q, &c, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(status = 'completed'), 0) AS completed,
			COALESCE(SUM(status = 'failed'), 0)    AS failed,
			COALESCE(SUM(status = 'running'), 0)   AS running,
			COALESCE(SUM(status = 'pending'), 0)   AS pending
		FROM workflow_steps WHERE execution_id = ?`, executionID)
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to count steps", err)
	}
	return &c, nil
}
