package content

import (
	"context"
	"log/slog"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
	"github.com/conductor-mcp/conductor/pkg/domain/workflow"
	"github.com/conductor-mcp/conductor/pkg/store"
)

// DatabaseProvider serves definitions from the workflow_defs and agent_defs
// tables. Rows hold the raw YAML/markdown source, so a seeded database is
// interchangeable with a filesystem content root.
type DatabaseProvider struct {
	store  *store.Store
	logger *slog.Logger
}

// NewDatabaseProvider returns a provider backed by st.
func NewDatabaseProvider(st *store.Store, logger *slog.Logger) *DatabaseProvider {
	return &DatabaseProvider{
		store:  st,
		logger: logger.With("component", "content"),
	}
}

// GetWorkflow returns the named definition, or (nil, nil) when unknown.
func (p *DatabaseProvider) GetWorkflow(ctx context.Context, name string) (*workflow.Definition, error) {
	row, err := store.GetWorkflowDef(ctx, p.store.DB(), name)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return parseDefinition(row.Name, []byte(row.Content))
}

// GetAgent returns the named agent persona, or (nil, nil) when unknown.
func (p *DatabaseProvider) GetAgent(ctx context.Context, name string) (*workflow.Agent, error) {
	row, err := store.GetAgentDef(ctx, p.store.DB(), name)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	agent := &workflow.Agent{Name: row.Name, Content: row.Content}
	if row.Description != nil {
		agent.Description = *row.Description
	} else {
		agent.Description = firstHeading(row.Content)
	}
	return agent, nil
}

// ListWorkflows returns summaries ordered by name.
func (p *DatabaseProvider) ListWorkflows(ctx context.Context) ([]workflow.WorkflowSummary, error) {
	rows, err := store.ListWorkflowDefs(ctx, p.store.DB())
	if err != nil {
		return nil, err
	}
	out := make([]workflow.WorkflowSummary, 0, len(rows))
	for _, row := range rows {
		def, err := parseDefinition(row.Name, []byte(row.Content))
		if err != nil {
			return nil, err
		}
		out = append(out, workflow.WorkflowSummary{
			Name:        def.Name,
			Description: def.Description,
			Complexity:  def.Complexity,
			Tags:        def.Tags,
			PhaseCount:  len(def.Phases),
		})
	}
	return out, nil
}

// parseDefinition unmarshals raw workflow YAML, applying the same validation
// as the filesystem loader.
func parseDefinition(name string, raw []byte) (*workflow.Definition, error) {
	var def workflow.Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, errors.Newf(errors.CodeContentInvalid, "content",
			"workflow %q is not valid YAML: %v", name, err)
	}
	if def.Name == "" {
		def.Name = name
	}
	if len(def.Phases) == 0 {
		return nil, errors.Newf(errors.CodeContentInvalid, "content",
			"workflow %q has no phases", def.Name)
	}
	def.Content = string(raw)
	return &def, nil
}

// Seed copies the content of a filesystem root into the database tables,
// upserting by name. Used at startup when the database backend is configured
// with seeding enabled.
func Seed(ctx context.Context, st *store.Store, root string, logger *slog.Logger) error {
	src := NewFilesystemProvider(root, logger)
	if err := src.ensureLoaded(); err != nil {
		return err
	}

	now := time.Now().UTC()
	workflows, agents := 0, 0

	src.mu.RLock()
	defer src.mu.RUnlock()
	for _, def := range src.workflows {
		desc := def.Description
		if err := store.UpsertWorkflowDef(ctx, st.DB(), &store.WorkflowDef{
			Name:        def.Name,
			Description: &desc,
			Content:     def.Content,
			UpdatedAt:   now,
		}); err != nil {
			return err
		}
		workflows++
	}
	for _, agent := range src.agents {
		desc := agent.Description
		if err := store.UpsertAgentDef(ctx, st.DB(), &store.AgentDef{
			Name:        agent.Name,
			Description: &desc,
			Content:     agent.Content,
			UpdatedAt:   now,
		}); err != nil {
			return err
		}
		agents++
	}

	logger.Info("Content seeded into database", "workflows", workflows, "agents", agents)
	return nil
}
