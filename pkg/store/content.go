package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
)

// WorkflowDef is one row of workflow_defs: a workflow definition stored as its
// raw YAML source for the database content backend.
type WorkflowDef struct {
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	Content     string    `db:"content" json:"content"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// AgentDef is one row of agent_defs: an agent persona stored as markdown.
type AgentDef struct {
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	Content     string    `db:"content" json:"content"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// UpsertWorkflowDef inserts or replaces a workflow definition by name.
func UpsertWorkflowDef(ctx context.Context, q sqlx.ExtContext, d *WorkflowDef) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO workflow_defs (name, description, content, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			content     = excluded.content,
			updated_at  = excluded.updated_at`,
		d.Name, d.Description, d.Content, d.UpdatedAt)
	if err != nil {
		return errors.New(errors.CodeIoError, "store", "failed to upsert workflow definition", err)
	}
	return nil
}

// GetWorkflowDef returns the named definition row, or nil when absent.
func GetWorkflowDef(ctx context.Context, q sqlx.ExtContext, name string) (*WorkflowDef, error) {
	var d WorkflowDef
	err := sqlx.GetContext(ctx, q, &d, `SELECT * FROM workflow_defs WHERE name = ?`, name)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to load workflow definition", err)
	}
	return &d, nil
}

// ListWorkflowDefs returns all definition rows ordered by name.
func ListWorkflowDefs(ctx context.Context, q sqlx.ExtContext) ([]WorkflowDef, error) {
	var out []WorkflowDef
	err := sqlx.SelectContext(ctx, q, &out, `SELECT * FROM workflow_defs ORDER BY name`)
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to list workflow definitions", err)
	}
	return out, nil
}

// UpsertAgentDef inserts or replaces an agent persona by name.
func UpsertAgentDef(ctx context.Context, q sqlx.ExtContext, a *AgentDef) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO agent_defs (name, description, content, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			content     = excluded.content,
			updated_at  = excluded.updated_at`,
		a.Name, a.Description, a.Content, a.UpdatedAt)
	if err != nil {
		return errors.New(errors.CodeIoError, "store", "failed to upsert agent definition", err)
	}
	return nil
}

// GetAgentDef returns the named agent row, or nil when absent.
func GetAgentDef(ctx context.Context, q sqlx.ExtContext, name string) (*AgentDef, error) {
	var a AgentDef
	err := sqlx.GetContext(ctx, q, &a, `SELECT * FROM agent_defs WHERE name = ?`, name)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to load agent definition", err)
	}
	return &a, nil
}
