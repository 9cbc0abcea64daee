package registrar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/conductor-mcp/conductor/pkg/content"
	"github.com/conductor-mcp/conductor/pkg/engine"
	"github.com/conductor-mcp/conductor/pkg/knowledge"
	"github.com/conductor-mcp/conductor/pkg/store"
	"github.com/conductor-mcp/conductor/pkg/telemetry"
)

// scheme is the URI namespace for every resource this server exposes.
const scheme = "conductor://workflow/"

// ResourceRegistrar registers the read surface: JSON projections over the
// store. Failures are returned as JSON bodies with an error field, never as
// transport errors.
type ResourceRegistrar struct {
	logger    *slog.Logger
	store     *store.Store
	machine   *engine.StateMachine
	provider  content.Provider
	knowledge *knowledge.Service
	telemetry *telemetry.Recorder
	metrics   *MetricsCollector
}

// NewResourceRegistrar creates a resource registrar.
func NewResourceRegistrar(
	logger *slog.Logger,
	st *store.Store,
	machine *engine.StateMachine,
	provider content.Provider,
	know *knowledge.Service,
	rec *telemetry.Recorder,
	metrics *MetricsCollector,
) *ResourceRegistrar {
	return &ResourceRegistrar{
		logger:    logger.With("component", "resource_registrar"),
		store:     st,
		machine:   machine,
		provider:  provider,
		knowledge: know,
		telemetry: rec,
		metrics:   metrics,
	}
}

// RegisterAll registers all resources and resource templates.
func (rr *ResourceRegistrar) RegisterAll(mcpServer *server.MCPServer) error {
	statics := []struct {
		uri         string
		name        string
		description string
		handler     server.ResourceHandlerFunc
	}{
		{scheme + "available_workflows", "Available Workflows", "Workflow definitions available to start", rr.handleAvailableWorkflows},
		{scheme + "telemetry", "Telemetry Events", "Recent lifecycle events, newest first", rr.handleTelemetry},
		{scheme + "knowledge/global", "Global Knowledge", "Active global-scope findings", rr.handleGlobalKnowledge},
		{scheme + "knowledge/projects", "Registered Projects", "The project registry, most recently used first", rr.handleProjects},
		{scheme + "tool_metrics", "Tool Metrics", "Per-tool call metrics for this process", rr.handleToolMetrics},
	}
	for _, res := range statics {
		mcpServer.AddResource(
			mcp.NewResource(res.uri, res.name,
				mcp.WithResourceDescription(res.description),
				mcp.WithMIMEType("application/json")),
			res.handler,
		)
	}

	templates := []struct {
		uri         string
		name        string
		description string
		handler     server.ResourceTemplateHandlerFunc
	}{
		{scheme + "workflow_details/{name}", "Workflow Details", "Full workflow definition including content", rr.handleWorkflowDetails},
		{scheme + "current_step/{executionID}", "Current Step", "The running step, its agent persona, and continuation token", rr.handleCurrentStep},
		{scheme + "workflow_status/{executionID}", "Workflow Status", "Execution state and step counts", rr.handleWorkflowStatus},
		{scheme + "step_history/{executionID}", "Step History", "Ordered step rows for an execution", rr.handleStepHistory},
		{scheme + "workflow_artifacts/{executionID}", "Workflow Artifacts", "Artifact summaries for an execution", rr.handleArtifacts},
		{scheme + "workflow_artifacts/{executionID}/{stepName}", "Step Artifacts", "Artifact summaries for one step", rr.handleArtifacts},
		{scheme + "telemetry/{executionID}", "Execution Telemetry", "Lifecycle events for one execution", rr.handleTelemetry},
		{scheme + "knowledge/project/{id}", "Project Knowledge", "A project and its applicable findings", rr.handleProjectKnowledge},
	}
	for _, tpl := range templates {
		mcpServer.AddResourceTemplate(
			mcp.NewResourceTemplate(tpl.uri, tpl.name,
				mcp.WithTemplateDescription(tpl.description),
				mcp.WithTemplateMIMEType("application/json")),
			tpl.handler,
		)
	}

	rr.logger.Info("Resources registered", "static", len(statics), "templates", len(templates))
	return nil
}

// pathSegments parses a resource URI into path segments under the scheme and
// its query values.
func pathSegments(rawURI string) ([]string, url.Values, error) {
	if !strings.HasPrefix(rawURI, scheme) {
		return nil, nil, fmt.Errorf("unknown resource URI %q", rawURI)
	}
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid resource URI %q", rawURI)
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return nil, u.Query(), nil
	}
	return strings.Split(trimmed, "/"), u.Query(), nil
}

func (rr *ResourceRegistrar) handleAvailableWorkflows(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	summaries, err := rr.provider.ListWorkflows(ctx)
	if err != nil {
		return errContents(req.Params.URI, err.Error())
	}
	return jsonContents(req.Params.URI, map[string]interface{}{"workflows": summaries})
}

func (rr *ResourceRegistrar) handleWorkflowDetails(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	segments, _, err := pathSegments(req.Params.URI)
	if err != nil || len(segments) != 2 {
		return errContents(req.Params.URI, "expected workflow_details/{name}")
	}
	name := segments[1]

	def, err := rr.provider.GetWorkflow(ctx, name)
	if err != nil {
		return errContents(req.Params.URI, err.Error())
	}
	if def == nil {
		return errContents(req.Params.URI, fmt.Sprintf("unknown workflow %q", name))
	}
	return jsonContents(req.Params.URI, def)
}

func (rr *ResourceRegistrar) handleCurrentStep(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	segments, _, err := pathSegments(req.Params.URI)
	if err != nil || len(segments) != 2 {
		return errContents(req.Params.URI, "expected current_step/{executionID}")
	}
	executionID := segments[1]

	exec, err := rr.machine.Get(ctx, executionID)
	if err != nil {
		return errContents(req.Params.URI, err.Error())
	}
	if exec == nil {
		return errContents(req.Params.URI, fmt.Sprintf("execution %q not found", executionID))
	}

	response := map[string]interface{}{
		"execution_id":   exec.ExecutionID,
		"workflow_name":  exec.WorkflowName,
		"workflow_state": exec.State,
	}
	if exec.CurrentStep == nil {
		response["message"] = "execution has no current step"
		return jsonContents(req.Params.URI, response)
	}
	current := *exec.CurrentStep
	response["current_step"] = current

	step, err := store.GetStep(ctx, rr.store.DB(), executionID, current)
	if err != nil {
		return errContents(req.Params.URI, err.Error())
	}
	if step != nil {
		response["step_status"] = step.Status
		response["agent_name"] = step.AgentName
		if step.Token != nil {
			response["continuation_token"] = *step.Token
		}
		if agent, err := rr.provider.GetAgent(ctx, step.AgentName); err == nil && agent != nil {
			response["agent_content"] = agent.Content
		}
		response["instructions"] = fmt.Sprintf(
			"Perform the %q step as agent %q, then call workflow_next_step with the continuation token and an output summary.",
			current, step.AgentName)
	}

	if def, err := rr.provider.GetWorkflow(ctx, exec.WorkflowName); err == nil && def != nil {
		if idx := def.PhaseIndex(current); idx >= 0 {
			response["progress"] = fmt.Sprintf("%d/%d", idx+1, len(def.Phases))
		}
	}

	return jsonContents(req.Params.URI, response)
}

func (rr *ResourceRegistrar) handleWorkflowStatus(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	segments, _, err := pathSegments(req.Params.URI)
	if err != nil || len(segments) != 2 {
		return errContents(req.Params.URI, "expected workflow_status/{executionID}")
	}
	executionID := segments[1]

	exec, err := rr.machine.Get(ctx, executionID)
	if err != nil {
		return errContents(req.Params.URI, err.Error())
	}
	if exec == nil {
		return errContents(req.Params.URI, fmt.Sprintf("execution %q not found", executionID))
	}

	counts, err := store.CountSteps(ctx, rr.store.DB(), executionID)
	if err != nil {
		return errContents(req.Params.URI, err.Error())
	}

	return jsonContents(req.Params.URI, map[string]interface{}{
		"execution_id": exec.ExecutionID,
		"state":        exec.State,
		"current_step": exec.CurrentStep,
		"started_at":   exec.StartedAt,
		"updated_at":   exec.UpdatedAt,
		"completed_at": exec.CompletedAt,
		"duration_ms":  exec.DurationMS,
		"steps":        counts,
	})
}

func (rr *ResourceRegistrar) handleStepHistory(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	segments, _, err := pathSegments(req.Params.URI)
	if err != nil || len(segments) != 2 {
		return errContents(req.Params.URI, "expected step_history/{executionID}")
	}
	executionID := segments[1]

	exec, err := rr.machine.Get(ctx, executionID)
	if err != nil {
		return errContents(req.Params.URI, err.Error())
	}
	if exec == nil {
		return errContents(req.Params.URI, fmt.Sprintf("execution %q not found", executionID))
	}

	steps, err := store.ListSteps(ctx, rr.store.DB(), executionID)
	if err != nil {
		return errContents(req.Params.URI, err.Error())
	}
	return jsonContents(req.Params.URI, map[string]interface{}{
		"execution_id": executionID,
		"steps":        steps,
	})
}

func (rr *ResourceRegistrar) handleArtifacts(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	segments, _, err := pathSegments(req.Params.URI)
	if err != nil || len(segments) < 2 || len(segments) > 3 {
		return errContents(req.Params.URI, "expected workflow_artifacts/{executionID}[/{stepName}]")
	}
	executionID := segments[1]
	stepName := ""
	if len(segments) == 3 {
		stepName = segments[2]
	}

	artifacts, err := store.ListArtifacts(ctx, rr.store.DB(), executionID, stepName)
	if err != nil {
		return errContents(req.Params.URI, err.Error())
	}

	// Summaries only: content is large and fetched separately when needed.
	summaries := make([]map[string]interface{}, 0, len(artifacts))
	for _, a := range artifacts {
		summaries = append(summaries, map[string]interface{}{
			"id":            a.ID,
			"step_name":     a.StepName,
			"artifact_type": a.ArtifactType,
			"name":          a.Name,
			"content_type":  a.ContentType,
			"size_bytes":    a.SizeBytes,
			"metadata":      a.Metadata,
			"created_at":    a.CreatedAt,
		})
	}
	return jsonContents(req.Params.URI, map[string]interface{}{
		"execution_id": executionID,
		"artifacts":    summaries,
	})
}

func (rr *ResourceRegistrar) handleTelemetry(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	segments, query, err := pathSegments(req.Params.URI)
	if err != nil || len(segments) < 1 || len(segments) > 2 {
		return errContents(req.Params.URI, "expected telemetry[/{executionID}]")
	}

	filter := store.TelemetryFilter{EventType: query.Get("event_type")}
	if len(segments) == 2 {
		filter.ExecutionID = segments[1]
	}
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return errContents(req.Params.URI, fmt.Sprintf("invalid limit %q", raw))
		}
		filter.Limit = n
	}

	events, err := rr.telemetry.List(ctx, filter)
	if err != nil {
		return errContents(req.Params.URI, err.Error())
	}
	return jsonContents(req.Params.URI, map[string]interface{}{"events": events})
}

func (rr *ResourceRegistrar) handleProjectKnowledge(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	segments, _, err := pathSegments(req.Params.URI)
	if err != nil || len(segments) != 3 {
		return errContents(req.Params.URI, "expected knowledge/project/{id}")
	}
	id, err := strconv.ParseInt(segments[2], 10, 64)
	if err != nil {
		return errContents(req.Params.URI, fmt.Sprintf("invalid project id %q", segments[2]))
	}

	project, findings, err := rr.knowledge.ProjectFindings(ctx, id)
	if err != nil {
		return errContents(req.Params.URI, err.Error())
	}
	return jsonContents(req.Params.URI, map[string]interface{}{
		"project":  project,
		"findings": findings,
	})
}

func (rr *ResourceRegistrar) handleGlobalKnowledge(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	findings, err := rr.knowledge.GlobalFindings(ctx)
	if err != nil {
		return errContents(req.Params.URI, err.Error())
	}
	return jsonContents(req.Params.URI, map[string]interface{}{"findings": findings})
}

func (rr *ResourceRegistrar) handleProjects(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	projects, err := rr.knowledge.ListProjects(ctx)
	if err != nil {
		return errContents(req.Params.URI, err.Error())
	}
	return jsonContents(req.Params.URI, map[string]interface{}{"projects": projects})
}

func (rr *ResourceRegistrar) handleToolMetrics(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(req.Params.URI, rr.metrics.Summarize())
}

func jsonContents(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return errContents(uri, "failed to encode resource")
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
	}, nil
}

func errContents(uri, message string) ([]mcp.ResourceContents, error) {
	data, _ := json.Marshal(map[string]string{"error": message})
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
	}, nil
}
