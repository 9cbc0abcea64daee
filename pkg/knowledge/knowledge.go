// Package knowledge manages long-lived findings: observations produced during
// workflow executions that outlive them. Findings carry a scope (global,
// project, or system wide), are full-text searchable, and are soft-retired by
// deprecation rather than deletion.
package knowledge

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
	"github.com/conductor-mcp/conductor/pkg/store"
)

var (
	validScopes     = map[string]bool{"global": true, "project": true, "system": true}
	validCategories = map[string]bool{"security": true, "architecture": true, "performance": true, "constraint": true, "pattern": true}
	validSeverities = map[string]bool{"info": true, "low": true, "medium": true, "high": true, "critical": true}
)

// Input is a finding to insert.
type Input struct {
	Scope             string
	ProjectID         *int64
	Category          string
	Severity          string
	Title             string
	Content           string
	Tags              []string
	SourceExecutionID string
	SourceAgent       string
}

// Service validates and persists findings.
type Service struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService returns a knowledge service writing through st.
func NewService(st *store.Store, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		logger: logger.With("component", "knowledge"),
		now:    time.Now,
	}
}

// Insert validates and stores a finding, returning its id.
func (s *Service) Insert(ctx context.Context, in Input) (int64, error) {
	if err := validateInput(in); err != nil {
		return 0, err
	}

	now := s.now().UTC()
	f := &store.Finding{
		Scope:     in.Scope,
		ProjectID: in.ProjectID,
		Category:  in.Category,
		Severity:  in.Severity,
		Status:    "active",
		Title:     in.Title,
		Content:   in.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(in.Tags) > 0 {
		raw, err := json.Marshal(in.Tags)
		if err != nil {
			return 0, errors.New(errors.CodeInternalError, "knowledge", "failed to encode tags", err)
		}
		tags := string(raw)
		f.Tags = &tags
	}
	if in.SourceExecutionID != "" {
		f.SourceExecutionID = &in.SourceExecutionID
	}
	if in.SourceAgent != "" {
		f.SourceAgent = &in.SourceAgent
	}

	if err := store.InsertFinding(ctx, s.store.DB(), f); err != nil {
		return 0, err
	}
	s.logger.Info("Finding recorded", "id", f.ID, "scope", f.Scope, "severity", f.Severity)
	return f.ID, nil
}

// Patch carries updatable finding fields; nil leaves a field untouched.
type Patch struct {
	Category *string
	Severity *string
	Title    *string
	Content  *string
	Tags     []string
}

// Update applies a patch to a finding. At least one field must change.
func (s *Service) Update(ctx context.Context, id int64, patch Patch) error {
	if patch.Category != nil && !validCategories[*patch.Category] {
		return errors.Newf(errors.CodeInvalidParameter, "knowledge", "unknown category %q", *patch.Category)
	}
	if patch.Severity != nil && !validSeverities[*patch.Severity] {
		return errors.Newf(errors.CodeInvalidParameter, "knowledge", "unknown severity %q", *patch.Severity)
	}

	p := store.FindingPatch{
		Category: patch.Category,
		Severity: patch.Severity,
		Title:    patch.Title,
		Content:  patch.Content,
	}
	if patch.Tags != nil {
		raw, err := json.Marshal(patch.Tags)
		if err != nil {
			return errors.New(errors.CodeInternalError, "knowledge", "failed to encode tags", err)
		}
		tags := string(raw)
		p.Tags = &tags
	}
	return store.UpdateFinding(ctx, s.store.DB(), id, p, s.now().UTC())
}

// Deprecate retires a finding without deleting it.
func (s *Service) Deprecate(ctx context.Context, id int64) error {
	status := "deprecated"
	return store.UpdateFinding(ctx, s.store.DB(), id, store.FindingPatch{Status: &status}, s.now().UTC())
}

// Get loads one finding; (nil, nil) when absent.
func (s *Service) Get(ctx context.Context, id int64) (*store.Finding, error) {
	return store.GetFinding(ctx, s.store.DB(), id)
}

// Query returns findings matching the filter, most severe and newest first.
// A Text filter joins the full-text index.
func (s *Service) Query(ctx context.Context, filter store.FindingFilter) ([]store.Finding, error) {
	if filter.Scope != "" && !validScopes[filter.Scope] {
		return nil, errors.Newf(errors.CodeInvalidParameter, "knowledge", "unknown scope %q", filter.Scope)
	}
	return store.QueryFindings(ctx, s.store.DB(), filter)
}

// ProjectFindings returns active findings applicable to a project: its own
// plus system-wide ones. The project's last_used_at is touched.
func (s *Service) ProjectFindings(ctx context.Context, projectID int64) (*store.Project, []store.Finding, error) {
	project, err := store.GetProject(ctx, s.store.DB(), projectID)
	if err != nil {
		return nil, nil, err
	}
	if project == nil {
		return nil, nil, errors.Newf(errors.CodeNotFound, "knowledge", "project %d not found", projectID)
	}

	findings, err := store.ProjectFindings(ctx, s.store.DB(), projectID)
	if err != nil {
		return nil, nil, err
	}

	if err := store.TouchProjectLastUsed(ctx, s.store.DB(), projectID, s.now().UTC()); err != nil {
		s.logger.Warn("Failed to touch project", "project_id", projectID, "error", err)
	}
	return project, findings, nil
}

// GlobalFindings returns active global-scope findings.
func (s *Service) GlobalFindings(ctx context.Context) ([]store.Finding, error) {
	return store.GlobalFindings(ctx, s.store.DB())
}

// RegisterProject records a project in the registry, returning the existing
// row when the path is already known.
func (s *Service) RegisterProject(ctx context.Context, name, path string, isGitRepo bool) (*store.Project, error) {
	if path == "" {
		return nil, errors.New(errors.CodeMissingParameter, "knowledge", "project path is required", nil)
	}

	existing, err := store.GetProjectByPath(ctx, s.store.DB(), path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := store.TouchProjectLastUsed(ctx, s.store.DB(), existing.ID, s.now().UTC()); err != nil {
			s.logger.Warn("Failed to touch project", "project_id", existing.ID, "error", err)
		}
		return existing, nil
	}

	now := s.now().UTC()
	p := &store.Project{
		Name:         name,
		Path:         path,
		IsGitRepo:    isGitRepo,
		DiscoveredAt: now,
		LastUsedAt:   now,
	}
	if err := store.InsertProject(ctx, s.store.DB(), p); err != nil {
		return nil, err
	}
	s.logger.Info("Project registered", "id", p.ID, "path", path)
	return p, nil
}

// ProjectByPath looks up a registered project by path; (nil, nil) when the
// path is unknown.
func (s *Service) ProjectByPath(ctx context.Context, path string) (*store.Project, error) {
	if path == "" {
		return nil, errors.New(errors.CodeMissingParameter, "knowledge", "project path is required", nil)
	}
	return store.GetProjectByPath(ctx, s.store.DB(), path)
}

// ListProjects returns every registered project, most recently used first.
func (s *Service) ListProjects(ctx context.Context) ([]store.Project, error) {
	return store.ListProjects(ctx, s.store.DB())
}

func validateInput(in Input) error {
	if !validScopes[in.Scope] {
		return errors.Newf(errors.CodeInvalidParameter, "knowledge", "unknown scope %q", in.Scope)
	}
	if in.Scope == "project" && in.ProjectID == nil {
		return errors.New(errors.CodeMissingParameter, "knowledge", "project-scoped findings require project_id", nil)
	}
	if !validCategories[in.Category] {
		return errors.Newf(errors.CodeInvalidParameter, "knowledge", "unknown category %q", in.Category)
	}
	if !validSeverities[in.Severity] {
		return errors.Newf(errors.CodeInvalidParameter, "knowledge", "unknown severity %q", in.Severity)
	}
	if in.Title == "" {
		return errors.New(errors.CodeMissingParameter, "knowledge", "title is required", nil)
	}
	if in.Content == "" {
		return errors.New(errors.CodeMissingParameter, "knowledge", "content is required", nil)
	}
	return nil
}
