package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
)

// Finding is one row of knowledge_findings. Findings outlive the executions
// that produced them.
type Finding struct {
	ID                int64     `db:"id" json:"id"`
	Scope             string    `db:"scope" json:"scope"`
	ProjectID         *int64    `db:"project_id" json:"project_id,omitempty"`
	Category          string    `db:"category" json:"category"`
	Severity          string    `db:"severity" json:"severity"`
	Status            string    `db:"status" json:"status"`
	Title             string    `db:"title" json:"title"`
	Content           string    `db:"content" json:"content"`
	Tags              *string   `db:"tags" json:"tags,omitempty"`
	SourceExecutionID *string   `db:"source_execution_id" json:"source_execution_id,omitempty"`
	SourceAgent       *string   `db:"source_agent" json:"source_agent,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// severityRank orders findings most severe first in query results.
const severityRank = `CASE severity
	WHEN 'critical' THEN 5
	WHEN 'high' THEN 4
	WHEN 'medium' THEN 3
	WHEN 'low' THEN 2
	ELSE 1 END`

// InsertFinding stores a finding; the FTS mirror is maintained by trigger.
func InsertFinding(ctx context.Context, q sqlx.ExtContext, f *Finding) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO knowledge_findings
			(scope, project_id, category, severity, status, title, content, tags,
			 source_execution_id, source_agent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Scope, f.ProjectID, f.Category, f.Severity, f.Status, f.Title, f.Content, f.Tags,
		f.SourceExecutionID, f.SourceAgent, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		if isConstraintViolation(err) {
			return errors.New(errors.CodeConstraintViolation, "store", "finding violates schema constraints", err)
		}
		return errors.New(errors.CodeIoError, "store", "failed to insert finding", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		f.ID = id
	}
	return nil
}

// GetFinding loads a finding by id; (nil, nil) when absent.
func GetFinding(ctx context.Context, q sqlx.ExtContext, id int64) (*Finding, error) {
	var f Finding
	err := sqlx.GetContext(ctx, q, &f, `SELECT * FROM knowledge_findings WHERE id = ?`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to load finding", err)
	}
	return &f, nil
}

// FindingPatch carries the updatable finding fields; nil fields are left
// untouched.
type FindingPatch struct {
	Category *string
	Severity *string
	Status   *string
	Title    *string
	Content  *string
	Tags     *string
}

// UpdateFinding applies a patch. At least one field must be set; updated_at
// always advances.
func UpdateFinding(ctx context.Context, q sqlx.ExtContext, id int64, patch FindingPatch, now time.Time) error {
	sets := []string{}
	args := []interface{}{}
	add := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, *v)
		}
	}
	add("category", patch.Category)
	add("severity", patch.Severity)
	add("status", patch.Status)
	add("title", patch.Title)
	add("content", patch.Content)
	add("tags", patch.Tags)

	if len(sets) == 0 {
		return errors.New(errors.CodeInvalidParameter, "store", "finding update must change at least one field", nil)
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, now, id)

	res, err := q.ExecContext(ctx,
		`UPDATE knowledge_findings SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		if isConstraintViolation(err) {
			return errors.New(errors.CodeConstraintViolation, "store", "finding update violates schema constraints", err)
		}
		return errors.New(errors.CodeIoError, "store", "failed to update finding", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Newf(errors.CodeNotFound, "store", "finding %d not found", id)
	}
	return nil
}

// FindingFilter narrows QueryFindings. Text joins the FTS index.
type FindingFilter struct {
	Scope     string
	ProjectID *int64
	Category  string
	Severity  string
	Status    string
	Text      string
}

// QueryFindings returns findings matching the filter, most severe and newest
// first.
func QueryFindings(ctx context.Context, q sqlx.ExtContext, f FindingFilter) ([]Finding, error) {
	var (
		query string
		args  []interface{}
	)
	if f.Text != "" {
		query = `SELECT k.* FROM knowledge_findings k
			JOIN knowledge_findings_fts fts ON fts.rowid = k.id
			WHERE knowledge_findings_fts MATCH ?`
		args = append(args, ftsQuery(f.Text))
	} else {
		query = `SELECT k.* FROM knowledge_findings k WHERE 1=1`
	}

	if f.Scope != "" {
		query += ` AND k.scope = ?`
		args = append(args, f.Scope)
	}
	if f.ProjectID != nil {
		query += ` AND k.project_id = ?`
		args = append(args, *f.ProjectID)
	}
	if f.Category != "" {
		query += ` AND k.category = ?`
		args = append(args, f.Category)
	}
	if f.Severity != "" {
		query += ` AND k.severity = ?`
		args = append(args, f.Severity)
	}
	if f.Status != "" {
		query += ` AND k.status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY ` + strings.ReplaceAll(severityRank, "severity", "k.severity") + ` DESC, k.created_at DESC`

	var out []Finding
	if err := sqlx.SelectContext(ctx, q, &out, query, args...); err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to query findings", err)
	}
	return out, nil
}

// ProjectFindings returns active findings applicable to a project: its own
// project-scoped findings plus system-wide ones.
func ProjectFindings(ctx context.Context, q sqlx.ExtContext, projectID int64) ([]Finding, error) {
	var out []Finding
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT * FROM knowledge_findings
		WHERE status = 'active'
		  AND ((scope = 'project' AND project_id = ?) OR scope = 'system')
		ORDER BY `+severityRank+` DESC, created_at DESC`, projectID)
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to list project findings", err)
	}
	return out, nil
}

// GlobalFindings returns active global-scope findings.
func GlobalFindings(ctx context.Context, q sqlx.ExtContext) ([]Finding, error) {
	var out []Finding
	err := sqlx.SelectContext(ctx, q, &out, `
		SELECT * FROM knowledge_findings
		WHERE status = 'active' AND scope = 'global'
		ORDER BY `+severityRank+` DESC, created_at DESC`)
	if err != nil {
		return nil, errors.New(errors.CodeIoError, "store", "failed to list global findings", err)
	}
	return out, nil
}

// ftsQuery quotes each term so user text cannot inject FTS5 query syntax.
func ftsQuery(text string) string {
	terms := strings.Fields(text)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}

func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}
