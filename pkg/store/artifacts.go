package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
	"github.com/conductor-mcp/conductor/pkg/domain/workflow"
)

// Artifact is one row of workflow_artifacts. Artifacts are immutable: rows are
// inserted during step completion and removed only when their execution is
// deleted.
type Artifact struct {
	ID           int64                 `db:"id" json:"id"`
	ExecutionID  string                `db:"execution_id" json:"execution_id"`
	StepName     string                `db:"step_name" json:"step_name"`
	ArtifactType workflow.ArtifactType `db:"artifact_type" json:"artifact_type"`
	Name         string                `db:"name" json:"name"`
	Content      string                `db:"content" json:"content,omitempty"`
	ContentType  workflow.ContentType  `db:"content_type" json:"content_type"`
	SizeBytes    int64                 `db:"size_bytes" json:"size_bytes"`
	Metadata     *string               `db:"metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time             `db:"created_at" json:"created_at"`
}

// InsertArtifact stores an artifact row and backfills its id.
func InsertArtifact(ctx context.Context, q sqlx.ExtContext, a *Artifact) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO workflow_artifacts
			(execution_id, step_name, artifact_type, name, content, content_type, size_bytes, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ExecutionID, a.StepName, a.ArtifactType, a.Name, a.Content, a.ContentType, a.SizeBytes, a.Metadata, a.CreatedAt)
	if err != nil {
		return errors.New(errors.CodeIoError, "store", "failed to insert artifact", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

// ListArtifacts returns artifact rows for an execution, optionally scoped to
// one step, in insertion order. Content is included; callers projecting
// summaries should drop it.
func ListArtifacts(ctx context.Context, q sqlx.ExtContext, executionID, stepName string) ([]Artifact, error) {
	var out []Artifact
	var err error
	if stepName != "" {
		err = sqlx.SelectContext(ctx, q, &out,
			`SELECT * FROM workflow_artifacts WHERE execution_id = ? AND step_name = ? ORDER BY id`,
			executionID, stepName)
	} else {
		err = sqlx.SelectContext(ctx, q, &out,
			`SELECT * FROM workflow_artifacts WHERE execution_id = ? ORDER BY id`, executionID)
	}
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to list artifacts", err)
	}
	return out, nil
}
