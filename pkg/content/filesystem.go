package content

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"sigs.k8s.io/yaml"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
	"github.com/conductor-mcp/conductor/pkg/domain/workflow"
)

// FilesystemProvider loads definitions from a content root laid out as
//
//	<root>/workflows/<name>.yaml
//	<root>/agents/<name>.md
//
// Files are read once and cached; the provider is safe for concurrent use.
type FilesystemProvider struct {
	root   string
	logger *slog.Logger

	mu        sync.RWMutex
	loaded    bool
	workflows map[string]*workflow.Definition
	agents    map[string]*workflow.Agent
}

// NewFilesystemProvider returns a provider rooted at root.
func NewFilesystemProvider(root string, logger *slog.Logger) *FilesystemProvider {
	return &FilesystemProvider{
		root:   root,
		logger: logger.With("component", "content"),
	}
}

// GetWorkflow returns the named definition, or (nil, nil) when unknown.
func (p *FilesystemProvider) GetWorkflow(ctx context.Context, name string) (*workflow.Definition, error) {
	if err := p.ensureLoaded(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.workflows[name], nil
}

// GetAgent returns the named agent persona, or (nil, nil) when unknown.
func (p *FilesystemProvider) GetAgent(ctx context.Context, name string) (*workflow.Agent, error) {
	if err := p.ensureLoaded(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.agents[name], nil
}

// ListWorkflows returns summaries sorted by name.
func (p *FilesystemProvider) ListWorkflows(ctx context.Context) ([]workflow.WorkflowSummary, error) {
	if err := p.ensureLoaded(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]workflow.WorkflowSummary, 0, len(p.workflows))
	for _, def := range p.workflows {
		out = append(out, workflow.WorkflowSummary{
			Name:        def.Name,
			Description: def.Description,
			Complexity:  def.Complexity,
			Tags:        def.Tags,
			PhaseCount:  len(def.Phases),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (p *FilesystemProvider) ensureLoaded() error {
	p.mu.RLock()
	loaded := p.loaded
	p.mu.RUnlock()
	if loaded {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}

	workflows, err := p.loadWorkflows()
	if err != nil {
		return err
	}
	agents, err := p.loadAgents()
	if err != nil {
		return err
	}

	p.workflows = workflows
	p.agents = agents
	p.loaded = true
	p.logger.Info("Content loaded", "workflows", len(workflows), "agents", len(agents))
	return nil
}

func (p *FilesystemProvider) loadWorkflows() (map[string]*workflow.Definition, error) {
	dir := filepath.Join(p.root, "workflows")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string]*workflow.Definition{}, nil
	}
	if err != nil {
		return nil, errors.Newf(errors.CodeIoError, "content", "failed to read workflows directory %s: %v", dir, err)
	}

	out := make(map[string]*workflow.Definition, len(entries))
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Newf(errors.CodeIoError, "content", "failed to read workflow file %s: %v", path, err)
		}

		var def workflow.Definition
		if err := yaml.Unmarshal(raw, &def); err != nil {
			return nil, errors.Newf(errors.CodeContentInvalid, "content",
				"workflow file %s is not valid YAML: %v", path, err)
		}
		if def.Name == "" {
			def.Name = strings.TrimSuffix(entry.Name(), ext)
		}
		if len(def.Phases) == 0 {
			return nil, errors.Newf(errors.CodeContentInvalid, "content",
				"workflow %q has no phases", def.Name)
		}
		def.Content = string(raw)
		out[def.Name] = &def
	}
	return out, nil
}

func (p *FilesystemProvider) loadAgents() (map[string]*workflow.Agent, error) {
	dir := filepath.Join(p.root, "agents")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string]*workflow.Agent{}, nil
	}
	if err != nil {
		return nil, errors.Newf(errors.CodeIoError, "content", "failed to read agents directory %s: %v", dir, err)
	}

	out := make(map[string]*workflow.Agent, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Newf(errors.CodeIoError, "content", "failed to read agent file %s: %v", path, err)
		}

		name := strings.TrimSuffix(entry.Name(), ".md")
		out[name] = &workflow.Agent{
			Name:        name,
			Description: firstHeading(string(raw)),
			Content:     string(raw),
		}
	}
	return out, nil
}

// firstHeading returns the first markdown heading text, used as the agent's
// description.
func firstHeading(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return ""
}
