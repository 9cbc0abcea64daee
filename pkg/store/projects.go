package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
)

// Project is one row of the projects registry.
type Project struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Path         string    `db:"path" json:"path"`
	IsGitRepo    bool      `db:"is_git_repo" json:"is_git_repo"`
	Metadata     *string   `db:"metadata" json:"metadata,omitempty"`
	DiscoveredAt time.Time `db:"discovered_at" json:"discovered_at"`
	LastUsedAt   time.Time `db:"last_used_at" json:"last_used_at"`
}

// InsertProject registers a project. Paths are unique.
func InsertProject(ctx context.Context, q sqlx.ExtContext, p *Project) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO projects (name, path, is_git_repo, metadata, discovered_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, p.Path, p.IsGitRepo, p.Metadata, p.DiscoveredAt, p.LastUsedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Newf(errors.CodeAlreadyExists, "store", "project path %q already registered", p.Path)
		}
		return errors.New(errors.CodeIoError, "store", "failed to insert project", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		p.ID = id
	}
	return nil
}

// GetProject loads a project by id; (nil, nil) when absent.
func GetProject(ctx context.Context, q sqlx.ExtContext, id int64) (*Project, error) {
	var p Project
	err := sqlx.GetContext(ctx, q, &p, `SELECT * FROM projects WHERE id = ?`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to load project", err)
	}
	return &p, nil
}

// GetProjectByPath loads a project by its registered path; (nil, nil) when
// absent.
func GetProjectByPath(ctx context.Context, q sqlx.ExtContext, path string) (*Project, error) {
	var p Project
	err := sqlx.GetContext(ctx, q, &p, `SELECT * FROM projects WHERE path = ?`, path)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to load project by path", err)
	}
	return &p, nil
}

// TouchProjectLastUsed records that a project was referenced.
func TouchProjectLastUsed(ctx context.Context, q sqlx.ExtContext, id int64, now time.Time) error {
	res, err := q.ExecContext(ctx, `UPDATE projects SET last_used_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return errors.New(errors.CodeIoError, "store", "failed to touch project", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Newf(errors.CodeNotFound, "store", "project %d not found", id)
	}
	return nil
}

// ListProjects returns all registered projects, most recently used first.
func ListProjects(ctx context.Context, q sqlx.ExtContext) ([]Project, error) {
	var out []Project
	err := sqlx.SelectContext(ctx, q, &out, `SELECT * FROM projects ORDER BY last_used_at DESC`)
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to list projects", err)
	}
	return out, nil
}
