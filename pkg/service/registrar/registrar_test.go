package registrar

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor-mcp/conductor/pkg/content"
	"github.com/conductor-mcp/conductor/pkg/engine"
	"github.com/conductor-mcp/conductor/pkg/knowledge"
	"github.com/conductor-mcp/conductor/pkg/store"
	"github.com/conductor-mcp/conductor/pkg/telemetry"
	"github.com/conductor-mcp/conductor/pkg/token"
)

const rigWorkflowYAML = `name: demo
description: Two phase demo
phases:
  - phase: plan
    agent: planner
  - phase: build
    agent: builder
    dependsOn: plan
`

type testRig struct {
	st        *store.Store
	tools     *ToolRegistrar
	resources *ResourceRegistrar
	metrics   *MetricsCollector
	knowledge *knowledge.Service
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	root := t.TempDir()
	files := map[string]string{
		"workflows/demo.yaml": rigWorkflowYAML,
		"agents/planner.md":   "# Planner\n\nYou plan things.\n",
		"agents/builder.md":   "# Builder\n\nYou build things.\n",
	}
	for rel, body := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "conductor.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background(), store.MigrateOptions{}))

	rec := telemetry.NewRecorder(st, logger)
	machine := engine.NewStateMachine(st, rec, logger)
	codec := token.NewCodec()
	executor := engine.NewExecutor(st, machine, codec, rec, logger)
	provider := content.NewFilesystemProvider(root, logger)
	know := knowledge.NewService(st, logger)

	metrics := NewMetricsCollector()
	return &testRig{
		st:        st,
		tools:     NewToolRegistrar(logger, executor, machine, provider, know, codec, metrics, "autodiscover"),
		resources: NewResourceRegistrar(logger, st, machine, provider, know, rec, metrics),
		metrics:   metrics,
		knowledge: know,
	}
}

func toolRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resourceRequest(uri string) mcp.ReadResourceRequest {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	return req
}

func toolJSON(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	return payload
}

func resourceJSON(t *testing.T, contents []mcp.ResourceContents) map[string]interface{} {
	t.Helper()
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "application/json", text.MIMEType)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	return payload
}

func startDemo(t *testing.T, rig *testRig, executionID string) map[string]interface{} {
	t.Helper()
	result, err := rig.tools.handleStart(context.Background(), toolRequest(map[string]interface{}{
		"workflow_name": "demo",
		"execution_id":  executionID,
	}))
	require.NoError(t, err)
	payload := toolJSON(t, result)
	require.Equal(t, true, payload["success"])
	return payload
}

func TestStartNextStepCompleteOverTools(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	started := startDemo(t, rig, "exec-tools")
	assert.Equal(t, "exec-tools", started["execution_id"])
	assert.Equal(t, "plan", started["step_name"])
	assert.Equal(t, "planner", started["agent_name"])
	assert.Equal(t, "running", started["workflow_state"])
	assert.Contains(t, started["agent_content"], "You plan things")
	tok := started["new_token"].(string)
	require.NotEmpty(t, tok)

	result, err := rig.tools.handleNextStep(ctx, toolRequest(map[string]interface{}{
		"token": tok,
		"output": map[string]interface{}{
			"summary":   "planned the work",
			"artifacts": []interface{}{"plan.md"},
		},
	}))
	require.NoError(t, err)
	advanced := toolJSON(t, result)
	require.Equal(t, true, advanced["success"])
	assert.Equal(t, "build", advanced["step_name"])
	assert.Equal(t, "builder", advanced["agent_name"])
	assert.Contains(t, advanced["agent_content"], "You build things")
	tok = advanced["new_token"].(string)
	require.NotEmpty(t, tok)

	result, err = rig.tools.handleNextStep(ctx, toolRequest(map[string]interface{}{
		"token":  tok,
		"output": map[string]interface{}{"summary": "built the thing"},
	}))
	require.NoError(t, err)
	done := toolJSON(t, result)
	require.Equal(t, true, done["success"])
	assert.Equal(t, "completed", done["workflow_state"])
	assert.NotContains(t, done, "new_token")
	assert.NotEmpty(t, done["message"])
}

func TestStartToolValidation(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	result, err := rig.tools.handleStart(ctx, toolRequest(map[string]interface{}{}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	payload := toolJSON(t, result)
	assert.Equal(t, false, payload["success"])
	assert.Contains(t, payload["error"], "workflow_name")

	result, err = rig.tools.handleStart(ctx, toolRequest(map[string]interface{}{
		"workflow_name": "nonexistent",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	payload = toolJSON(t, result)
	assert.Contains(t, payload["error"], "unknown workflow")
}

func TestNextStepToolValidation(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	result, err := rig.tools.handleNextStep(ctx, toolRequest(map[string]interface{}{
		"output": map[string]interface{}{"summary": "s"},
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, toolJSON(t, result)["error"], "token")

	result, err = rig.tools.handleNextStep(ctx, toolRequest(map[string]interface{}{
		"token": "abc",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, toolJSON(t, result)["error"], "output")

	started := startDemo(t, rig, "exec-validate")
	tok := started["new_token"].(string)

	result, err = rig.tools.handleNextStep(ctx, toolRequest(map[string]interface{}{
		"token":  tok,
		"output": map[string]interface{}{"artifacts": []interface{}{"a"}},
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, toolJSON(t, result)["error"], "summary")

	result, err = rig.tools.handleNextStep(ctx, toolRequest(map[string]interface{}{
		"token":  "not-a-token",
		"output": map[string]interface{}{"summary": "s"},
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestAbandonTool(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	startDemo(t, rig, "exec-abandon")

	result, err := rig.tools.handleAbandon(ctx, toolRequest(map[string]interface{}{
		"execution_id": "exec-abandon",
	}))
	require.NoError(t, err)
	payload := toolJSON(t, result)
	require.Equal(t, true, payload["success"])
	assert.Equal(t, "abandoned", payload["workflow_state"])

	// Terminal states cannot be abandoned twice.
	result, err = rig.tools.handleAbandon(ctx, toolRequest(map[string]interface{}{
		"execution_id": "exec-abandon",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestMetricsMiddlewareCountsCalls(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	wrapped := rig.metrics.Middleware("workflow_start", rig.tools.handleStart)

	_, err := wrapped(ctx, toolRequest(map[string]interface{}{"workflow_name": "demo"}))
	require.NoError(t, err)
	_, err = wrapped(ctx, toolRequest(map[string]interface{}{}))
	require.NoError(t, err)

	snapshot := rig.metrics.Snapshot()
	m := snapshot["workflow_start"]
	assert.Equal(t, int64(2), m.TotalCalls)
	assert.Equal(t, int64(1), m.SuccessfulCalls)
	assert.Equal(t, int64(1), m.FailedCalls)

	summary := rig.metrics.Summarize()
	assert.Equal(t, int64(2), summary.TotalCalls)
	assert.InDelta(t, 50.0, summary.OverallSuccessRate, 0.01)
}

func TestAvailableWorkflowsResource(t *testing.T) {
	rig := newTestRig(t)

	payload := readResource(t, rig, rig.resources.handleAvailableWorkflows, "conductor://workflow/available_workflows")
	workflows := payload["workflows"].([]interface{})
	require.Len(t, workflows, 1)
	first := workflows[0].(map[string]interface{})
	assert.Equal(t, "demo", first["name"])
}

func TestWorkflowDetailsResource(t *testing.T) {
	rig := newTestRig(t)

	payload := readResource(t, rig, rig.resources.handleWorkflowDetails, "conductor://workflow/workflow_details/demo")
	assert.Equal(t, "demo", payload["name"])
	assert.NotEmpty(t, payload["content"])

	payload = readResource(t, rig, rig.resources.handleWorkflowDetails, "conductor://workflow/workflow_details/nope")
	assert.Contains(t, payload["error"], "unknown workflow")
}

func TestCurrentStepResource(t *testing.T) {
	rig := newTestRig(t)

	started := startDemo(t, rig, "exec-current")
	tok := started["new_token"].(string)

	payload := readResource(t, rig, rig.resources.handleCurrentStep, "conductor://workflow/current_step/exec-current")
	assert.Equal(t, "exec-current", payload["execution_id"])
	assert.Equal(t, "plan", payload["current_step"])
	assert.Equal(t, "running", payload["step_status"])
	assert.Equal(t, "planner", payload["agent_name"])
	assert.Equal(t, tok, payload["continuation_token"])
	assert.Equal(t, "1/2", payload["progress"])
	assert.Contains(t, payload["agent_content"], "You plan things")
	assert.NotEmpty(t, payload["instructions"])

	payload = readResource(t, rig, rig.resources.handleCurrentStep, "conductor://workflow/current_step/missing")
	assert.Contains(t, payload["error"], "not found")
}

func TestWorkflowStatusAndHistoryResources(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	started := startDemo(t, rig, "exec-status")
	result, err := rig.tools.handleNextStep(ctx, toolRequest(map[string]interface{}{
		"token":  started["new_token"],
		"output": map[string]interface{}{"summary": "planned"},
	}))
	require.NoError(t, err)
	require.Equal(t, true, toolJSON(t, result)["success"])

	status := readResource(t, rig, rig.resources.handleWorkflowStatus, "conductor://workflow/workflow_status/exec-status")
	assert.Equal(t, "running", status["state"])
	assert.Equal(t, "build", status["current_step"])
	steps := status["steps"].(map[string]interface{})
	assert.Equal(t, float64(2), steps["total"])
	assert.Equal(t, float64(1), steps["completed"])
	assert.Equal(t, float64(1), steps["running"])

	history := readResource(t, rig, rig.resources.handleStepHistory, "conductor://workflow/step_history/exec-status")
	rows := history["steps"].([]interface{})
	require.Len(t, rows, 2)
	first := rows[0].(map[string]interface{})
	assert.Equal(t, "plan", first["step_name"])
	assert.Equal(t, "completed", first["status"])
	// Tokens never leak through the history projection.
	assert.NotContains(t, first, "token")
}

func TestArtifactsResource(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	started := startDemo(t, rig, "exec-artifacts")
	result, err := rig.tools.handleNextStep(ctx, toolRequest(map[string]interface{}{
		"token": started["new_token"],
		"output": map[string]interface{}{
			"summary": "planned",
			"artifact_details": []interface{}{
				map[string]interface{}{
					"name":          "plan.md",
					"artifact_type": "report",
					"content":       "# The Plan\n",
					"content_type":  "markdown",
				},
			},
		},
	}))
	require.NoError(t, err)
	require.Equal(t, true, toolJSON(t, result)["success"])

	payload := readResource(t, rig, rig.resources.handleArtifacts, "conductor://workflow/workflow_artifacts/exec-artifacts")
	artifacts := payload["artifacts"].([]interface{})
	require.Len(t, artifacts, 1)
	a := artifacts[0].(map[string]interface{})
	assert.Equal(t, "plan.md", a["name"])
	assert.Equal(t, "report", a["artifact_type"])
	assert.Equal(t, float64(len("# The Plan\n")), a["size_bytes"])
	assert.NotContains(t, a, "content")

	payload = readResource(t, rig, rig.resources.handleArtifacts, "conductor://workflow/workflow_artifacts/exec-artifacts/build")
	assert.Empty(t, payload["artifacts"])
}

func TestNextStepRejectsUnknownArtifactEnums(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	started := startDemo(t, rig, "exec-bad-artifact")
	result, err := rig.tools.handleNextStep(ctx, toolRequest(map[string]interface{}{
		"token": started["new_token"],
		"output": map[string]interface{}{
			"summary": "planned",
			"artifact_details": []interface{}{
				map[string]interface{}{
					"name":          "plan.md",
					"artifact_type": "document",
					"content":       "# The Plan\n",
					"content_type":  "text/markdown",
				},
			},
		},
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	body := toolJSON(t, result)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "artifact_details[0].artifact_type")

	// The step is untouched; the same token still works with a legal artifact.
	result, err = rig.tools.handleNextStep(ctx, toolRequest(map[string]interface{}{
		"token": started["new_token"],
		"output": map[string]interface{}{
			"summary": "planned",
			"artifact_details": []interface{}{
				map[string]interface{}{
					"name":          "plan.md",
					"artifact_type": "report",
					"content":       "# The Plan\n",
					"content_type":  "markdown",
				},
			},
		},
	}))
	require.NoError(t, err)
	require.Equal(t, true, toolJSON(t, result)["success"])
}

func TestTelemetryResource(t *testing.T) {
	rig := newTestRig(t)

	startDemo(t, rig, "exec-telemetry")

	payload := readResource(t, rig, rig.resources.handleTelemetry, "conductor://workflow/telemetry/exec-telemetry")
	events := payload["events"].([]interface{})
	require.NotEmpty(t, events)

	payload = readResource(t, rig, rig.resources.handleTelemetry, "conductor://workflow/telemetry/exec-telemetry?event_type=workflow_started&limit=1")
	events = payload["events"].([]interface{})
	require.Len(t, events, 1)
	assert.Equal(t, "workflow_started", events[0].(map[string]interface{})["event_type"])

	payload = readResource(t, rig, rig.resources.handleTelemetry, "conductor://workflow/telemetry?limit=banana")
	assert.Contains(t, payload["error"], "invalid limit")
}

func TestKnowledgeResources(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	project, err := rig.knowledge.RegisterProject(ctx, "webapp", "/srv/webapp", true)
	require.NoError(t, err)
	_, err = rig.knowledge.Insert(ctx, knowledge.Input{
		Scope: "project", ProjectID: &project.ID, Category: "pattern", Severity: "medium",
		Title: "Local convention", Content: "use the shared client",
	})
	require.NoError(t, err)
	_, err = rig.knowledge.Insert(ctx, knowledge.Input{
		Scope: "global", Category: "security", Severity: "high",
		Title: "Global rule", Content: "never log credentials",
	})
	require.NoError(t, err)

	payload := readResource(t, rig, rig.resources.handleProjectKnowledge, "conductor://workflow/knowledge/project/1")
	proj := payload["project"].(map[string]interface{})
	assert.Equal(t, "webapp", proj["name"])
	findings := payload["findings"].([]interface{})
	require.Len(t, findings, 1)

	payload = readResource(t, rig, rig.resources.handleProjectKnowledge, "conductor://workflow/knowledge/project/abc")
	assert.Contains(t, payload["error"], "invalid project id")

	payload = readResource(t, rig, rig.resources.handleGlobalKnowledge, "conductor://workflow/knowledge/global")
	findings = payload["findings"].([]interface{})
	require.Len(t, findings, 1)
	assert.Equal(t, "Global rule", findings[0].(map[string]interface{})["title"])
}

func TestProjectRegisterTool(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	result, err := rig.tools.handleProjectRegister(ctx, toolRequest(map[string]interface{}{
		"path":        "/src/widget",
		"is_git_repo": true,
	}))
	require.NoError(t, err)
	registered := toolJSON(t, result)
	require.Equal(t, true, registered["success"])
	assert.Equal(t, "widget", registered["name"])
	assert.Equal(t, true, registered["is_git_repo"])
	id := registered["project_id"]

	// Re-registering the same path returns the existing entry.
	result, err = rig.tools.handleProjectRegister(ctx, toolRequest(map[string]interface{}{
		"path": "/src/widget",
		"name": "other",
	}))
	require.NoError(t, err)
	again := toolJSON(t, result)
	require.Equal(t, true, again["success"])
	assert.Equal(t, id, again["project_id"])
	assert.Equal(t, "widget", again["name"])

	result, err = rig.tools.handleProjectRegister(ctx, toolRequest(map[string]interface{}{}))
	require.NoError(t, err)
	require.True(t, result.IsError)

	payload := readResource(t, rig, rig.resources.handleProjects, "conductor://workflow/knowledge/projects")
	projects := payload["projects"].([]interface{})
	require.Len(t, projects, 1)
	assert.Equal(t, "/src/widget", projects[0].(map[string]interface{})["path"])
}

func TestStartWithProjectPath(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	result, err := rig.tools.handleStart(ctx, toolRequest(map[string]interface{}{
		"workflow_name": "demo",
		"execution_id":  "exec-project",
		"project_path":  "/src/widget",
	}))
	require.NoError(t, err)
	started := toolJSON(t, result)
	require.Equal(t, true, started["success"])
	require.Contains(t, started, "project_id")

	project, err := rig.knowledge.ProjectByPath(ctx, "/src/widget")
	require.NoError(t, err)
	require.NotNil(t, project)
	assert.Equal(t, float64(project.ID), started["project_id"])

	// Manual discovery refuses paths that were never registered.
	rig.tools.discovery = "manual"
	result, err = rig.tools.handleStart(ctx, toolRequest(map[string]interface{}{
		"workflow_name": "demo",
		"execution_id":  "exec-unregistered",
		"project_path":  "/src/elsewhere",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, toolJSON(t, result)["error"], "project_register")

	// Known paths still resolve.
	result, err = rig.tools.handleStart(ctx, toolRequest(map[string]interface{}{
		"workflow_name": "demo",
		"execution_id":  "exec-manual",
		"project_path":  "/src/widget",
	}))
	require.NoError(t, err)
	manual := toolJSON(t, result)
	require.Equal(t, true, manual["success"])
	assert.Equal(t, float64(project.ID), manual["project_id"])
}

func TestToolMetricsResource(t *testing.T) {
	rig := newTestRig(t)

	rig.metrics.RecordCall("workflow_start", true)
	rig.metrics.RecordCall("workflow_start", false)

	payload := readResource(t, rig, rig.resources.handleToolMetrics, "conductor://workflow/tool_metrics")
	assert.Equal(t, float64(2), payload["total_calls"])
	tools := payload["tools"].(map[string]interface{})
	require.Contains(t, tools, "workflow_start")
}

func TestPathSegments(t *testing.T) {
	segments, query, err := pathSegments("conductor://workflow/telemetry/exec-1?limit=5")
	require.NoError(t, err)
	assert.Equal(t, []string{"telemetry", "exec-1"}, segments)
	assert.Equal(t, "5", query.Get("limit"))

	_, _, err = pathSegments("file:///etc/passwd")
	require.Error(t, err)
}

func readResource(t *testing.T, rig *testRig, handler func(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error), uri string) map[string]interface{} {
	t.Helper()
	contents, err := handler(context.Background(), resourceRequest(uri))
	require.NoError(t, err)
	return resourceJSON(t, contents)
}
