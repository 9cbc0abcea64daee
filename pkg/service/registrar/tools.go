package registrar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/conductor-mcp/conductor/pkg/content"
	"github.com/conductor-mcp/conductor/pkg/domain/errors"
	"github.com/conductor-mcp/conductor/pkg/domain/workflow"
	"github.com/conductor-mcp/conductor/pkg/engine"
	"github.com/conductor-mcp/conductor/pkg/knowledge"
	"github.com/conductor-mcp/conductor/pkg/store"
	"github.com/conductor-mcp/conductor/pkg/token"
)

// ToolRegistrar registers the write surface: workflow_start,
// workflow_next_step, workflow_abandon, and project_register.
type ToolRegistrar struct {
	logger    *slog.Logger
	executor  *engine.Executor
	machine   *engine.StateMachine
	provider  content.Provider
	knowledge *knowledge.Service
	tokens    *token.Codec
	metrics   *MetricsCollector
	discovery string
}

// NewToolRegistrar creates a tool registrar. discovery selects how
// workflow_start treats an unregistered project_path: "autodiscover" registers
// it on the fly, "manual" requires a prior project_register call.
func NewToolRegistrar(
	logger *slog.Logger,
	executor *engine.Executor,
	machine *engine.StateMachine,
	provider content.Provider,
	know *knowledge.Service,
	tokens *token.Codec,
	metrics *MetricsCollector,
	discovery string,
) *ToolRegistrar {
	return &ToolRegistrar{
		logger:    logger.With("component", "tool_registrar"),
		executor:  executor,
		machine:   machine,
		provider:  provider,
		knowledge: know,
		tokens:    tokens,
		metrics:   metrics,
		discovery: discovery,
	}
}

// RegisterAll registers all tools with the MCP server.
func (tr *ToolRegistrar) RegisterAll(mcpServer *server.MCPServer) error {
	tr.registerStartTool(mcpServer)
	tr.registerNextStepTool(mcpServer)
	tr.registerAbandonTool(mcpServer)
	tr.registerProjectRegisterTool(mcpServer)

	tr.logger.Info("Workflow tools registered", slog.Int("count", 4))
	return nil
}

func (tr *ToolRegistrar) registerStartTool(mcpServer *server.MCPServer) {
	tool := mcp.Tool{
		Name:        "workflow_start",
		Description: "Start a workflow execution. Returns the first step's agent persona and a continuation token; do the step's work, then call workflow_next_step with the token.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workflow_name": map[string]interface{}{
					"type":        "string",
					"description": "Name of the workflow definition to run",
				},
				"execution_id": map[string]interface{}{
					"type":        "string",
					"description": "Optional caller-chosen execution id; generated when omitted",
				},
				"timeout_ms": map[string]interface{}{
					"type":        "integer",
					"description": "Optional running-execution timeout budget in milliseconds",
					"minimum":     1,
				},
				"project_path": map[string]interface{}{
					"type":        "string",
					"description": "Optional project directory to associate with the run; project-scoped findings attach to it",
				},
			},
			Required: []string{"workflow_name"},
		},
	}

	mcpServer.AddTool(tool, tr.metrics.Middleware("workflow_start", tr.handleStart))
}

func (tr *ToolRegistrar) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	workflowName, ok := args["workflow_name"].(string)
	if !ok || workflowName == "" {
		return tr.errorResult("workflow_name parameter is required")
	}

	executionID, _ := args["execution_id"].(string)
	if executionID == "" {
		executionID = uuid.NewString()
	}

	var timeoutMS *int64
	if raw, ok := args["timeout_ms"].(float64); ok && raw > 0 {
		t := int64(raw)
		timeoutMS = &t
	}

	var project *store.Project
	if projectPath, _ := args["project_path"].(string); projectPath != "" {
		var err error
		project, err = tr.resolveProject(ctx, projectPath)
		if err != nil {
			return tr.errorResult(err.Error())
		}
	}

	def, err := tr.provider.GetWorkflow(ctx, workflowName)
	if err != nil {
		return tr.errorResult(err.Error())
	}
	if def == nil {
		return tr.errorResult(fmt.Sprintf("unknown workflow %q", workflowName))
	}

	result, err := tr.executor.Start(ctx, workflowName, executionID, def, timeoutMS)
	if err != nil {
		return tr.errorResult(err.Error())
	}

	response := map[string]interface{}{
		"success":        true,
		"execution_id":   result.ExecutionID,
		"step_name":      result.StepName,
		"agent_name":     result.AgentName,
		"workflow_state": result.WorkflowState,
		"new_token":      result.NewToken,
		"agent_content":  tr.agentContent(ctx, result.AgentName),
		"message":        result.Message,
	}
	if project != nil {
		response["project_id"] = project.ID
	}
	return tr.jsonResult(response)
}

// resolveProject maps a project path to a registry row according to the
// configured discovery method.
func (tr *ToolRegistrar) resolveProject(ctx context.Context, path string) (*store.Project, error) {
	if tr.discovery == "manual" {
		project, err := tr.knowledge.ProjectByPath(ctx, path)
		if err != nil {
			return nil, err
		}
		if project == nil {
			return nil, errors.Newf(errors.CodeNotFound, "service",
				"project path %q is not registered; call project_register first", path)
		}
		return project, nil
	}
	return tr.knowledge.RegisterProject(ctx, filepath.Base(path), path, false)
}

func (tr *ToolRegistrar) registerNextStepTool(mcpServer *server.MCPServer) {
	tool := mcp.Tool{
		Name:        "workflow_next_step",
		Description: "Report a completed step and advance the workflow. Pass the continuation token from the previous call plus an output envelope describing what was done.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"token": map[string]interface{}{
					"type":        "string",
					"description": "Continuation token issued with the current step",
				},
				"output": map[string]interface{}{
					"type":        "object",
					"description": "Step output envelope",
					"properties": map[string]interface{}{
						"summary": map[string]interface{}{
							"type":        "string",
							"description": "What the step accomplished",
						},
						"artifacts": map[string]interface{}{
							"type":        "array",
							"description": "Names of artifacts produced",
							"items":       map[string]interface{}{"type": "string"},
						},
						"artifact_details": map[string]interface{}{
							"type":        "array",
							"description": "Full artifacts to persist (name, artifact_type, content, content_type)",
							"items":       map[string]interface{}{"type": "object"},
						},
						"findings": map[string]interface{}{
							"type":        "array",
							"description": "Free-form findings noted during the step",
							"items":       map[string]interface{}{"type": "string"},
						},
						"next_step_recommendation": map[string]interface{}{
							"type":        "string",
							"description": "Optional advice for the next step",
						},
						"suggested_findings": map[string]interface{}{
							"type":        "array",
							"description": "Knowledge findings to persist (scope, category, severity, title, content)",
							"items":       map[string]interface{}{"type": "object"},
						},
					},
					"required": []string{"summary"},
				},
			},
			Required: []string{"token", "output"},
		},
	}

	mcpServer.AddTool(tool, tr.metrics.Middleware("workflow_next_step", tr.handleNextStep))
}

func (tr *ToolRegistrar) handleNextStep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	tok, ok := args["token"].(string)
	if !ok || tok == "" {
		return tr.errorResult("token parameter is required")
	}

	rawOutput, ok := args["output"]
	if !ok || rawOutput == nil {
		return tr.errorResult("output parameter is required")
	}
	encoded, err := json.Marshal(rawOutput)
	if err != nil {
		return tr.errorResult("output parameter is not a valid object")
	}
	var output workflow.OutputEnvelope
	if err := json.Unmarshal(encoded, &output); err != nil {
		return tr.errorResult(fmt.Sprintf("output envelope is invalid: %s", err))
	}
	if output.Summary == "" {
		return tr.errorResult("output.summary is required")
	}
	for i, a := range output.ArtifactDetails {
		if a.Name == "" {
			return tr.errorResult(fmt.Sprintf("output.artifact_details[%d].name is required", i))
		}
		if !a.ArtifactType.Valid() {
			return tr.errorResult(fmt.Sprintf(
				"output.artifact_details[%d].artifact_type %q is not one of file, data, report, finding", i, a.ArtifactType))
		}
		if !a.ContentType.Valid() {
			return tr.errorResult(fmt.Sprintf(
				"output.artifact_details[%d].content_type %q is not one of text, markdown, json, binary", i, a.ContentType))
		}
	}

	// The workflow definition is looked up via the token's execution id; full
	// validation (age, current-step cross-check) happens in the executor.
	payload, err := tr.tokens.Decode(tok)
	if err != nil {
		return tr.errorResult(err.Error())
	}
	exec, err := tr.machine.Get(ctx, payload.ExecutionID)
	if err != nil {
		return tr.errorResult(err.Error())
	}
	if exec == nil {
		return tr.errorResult(fmt.Sprintf("execution %q not found", payload.ExecutionID))
	}
	def, err := tr.provider.GetWorkflow(ctx, exec.WorkflowName)
	if err != nil {
		return tr.errorResult(err.Error())
	}
	if def == nil {
		return tr.errorResult(fmt.Sprintf("unknown workflow %q", exec.WorkflowName))
	}

	result, err := tr.executor.Continue(ctx, tok, &output, def)
	if err != nil {
		return tr.errorResult(err.Error())
	}

	response := map[string]interface{}{
		"success":        true,
		"execution_id":   result.ExecutionID,
		"workflow_state": result.WorkflowState,
	}
	if result.WorkflowState == workflow.StateCompleted {
		response["message"] = result.Message
	} else {
		response["step_name"] = result.StepName
		response["agent_name"] = result.AgentName
		response["new_token"] = result.NewToken
		response["agent_content"] = tr.agentContent(ctx, result.AgentName)
	}
	return tr.jsonResult(response)
}

func (tr *ToolRegistrar) registerAbandonTool(mcpServer *server.MCPServer) {
	tool := mcp.Tool{
		Name:        "workflow_abandon",
		Description: "Abandon a running or paused workflow execution. Terminal; the execution cannot be resumed.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"execution_id": map[string]interface{}{
					"type":        "string",
					"description": "Execution to abandon",
				},
			},
			Required: []string{"execution_id"},
		},
	}

	mcpServer.AddTool(tool, tr.metrics.Middleware("workflow_abandon", tr.handleAbandon))
}

func (tr *ToolRegistrar) handleAbandon(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	executionID, ok := args["execution_id"].(string)
	if !ok || executionID == "" {
		return tr.errorResult("execution_id parameter is required")
	}

	if err := tr.executor.Abandon(ctx, executionID); err != nil {
		return tr.errorResult(err.Error())
	}

	return tr.jsonResult(map[string]interface{}{
		"success":        true,
		"execution_id":   executionID,
		"workflow_state": workflow.StateAbandoned,
		"message":        "Workflow abandoned",
	})
}

func (tr *ToolRegistrar) registerProjectRegisterTool(mcpServer *server.MCPServer) {
	tool := mcp.Tool{
		Name:        "project_register",
		Description: "Register a project directory in the knowledge registry. Registering an already-known path returns the existing entry.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path of the project directory",
				},
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Optional display name; defaults to the directory name",
				},
				"is_git_repo": map[string]interface{}{
					"type":        "boolean",
					"description": "Whether the directory is a git repository",
				},
			},
			Required: []string{"path"},
		},
	}

	mcpServer.AddTool(tool, tr.metrics.Middleware("project_register", tr.handleProjectRegister))
}

func (tr *ToolRegistrar) handleProjectRegister(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return tr.errorResult("path parameter is required")
	}
	name, _ := args["name"].(string)
	if name == "" {
		name = filepath.Base(path)
	}
	isGitRepo, _ := args["is_git_repo"].(bool)

	project, err := tr.knowledge.RegisterProject(ctx, name, path, isGitRepo)
	if err != nil {
		return tr.errorResult(err.Error())
	}

	return tr.jsonResult(map[string]interface{}{
		"success":      true,
		"project_id":   project.ID,
		"name":         project.Name,
		"path":         project.Path,
		"is_git_repo":  project.IsGitRepo,
		"last_used_at": project.LastUsedAt,
	})
}

// agentContent resolves the persona body for a step's agent; missing agents
// degrade to an empty string rather than failing the call.
func (tr *ToolRegistrar) agentContent(ctx context.Context, agentName string) string {
	agent, err := tr.provider.GetAgent(ctx, agentName)
	if err != nil || agent == nil {
		tr.logger.Warn("Agent content unavailable", "agent", agentName, "error", err)
		return ""
	}
	return agent.Content
}

func (tr *ToolRegistrar) jsonResult(payload map[string]interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return tr.errorResult("failed to encode response")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func (tr *ToolRegistrar) errorResult(message string) (*mcp.CallToolResult, error) {
	data, _ := json.Marshal(map[string]interface{}{
		"success": false,
		"error":   message,
	})
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}
