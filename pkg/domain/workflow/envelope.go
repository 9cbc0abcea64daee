package workflow

import "encoding/json"

// OutputEnvelope is the caller's report for the step it just performed. Summary
// is required; everything else is optional.
type OutputEnvelope struct {
	Summary                string          `json:"summary"`
	Artifacts              []string        `json:"artifacts,omitempty"`
	ArtifactDetails        []ArtifactInput `json:"artifact_details,omitempty"`
	Findings               []string        `json:"findings,omitempty"`
	NextStepRecommendation string          `json:"next_step_recommendation,omitempty"`
	SuggestedFindings      []FindingInput  `json:"suggested_findings,omitempty"`
}

// ArtifactInput carries a full artifact to persist alongside step completion.
// Binary content is expected base64-encoded by the caller.
type ArtifactInput struct {
	Name         string          `json:"name"`
	ArtifactType ArtifactType    `json:"artifact_type"`
	Content      string          `json:"content"`
	ContentType  ContentType     `json:"content_type"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// FindingInput is a knowledge finding suggested by the caller during a step.
type FindingInput struct {
	Scope     string   `json:"scope"`
	ProjectID *int64   `json:"project_id,omitempty"`
	Category  string   `json:"category"`
	Severity  string   `json:"severity"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags,omitempty"`
}

// StartResult is returned by the step executor when a workflow starts.
type StartResult struct {
	ExecutionID   string        `json:"execution_id"`
	StepName      string        `json:"step_name"`
	AgentName     string        `json:"agent_name"`
	WorkflowState WorkflowState `json:"workflow_state"`
	NewToken      string        `json:"new_token"`
	Message       string        `json:"message,omitempty"`
}

// ContinueResult is returned by the step executor when a step completes. On the
// terminal step NewToken, StepName and AgentName are empty and WorkflowState is
// "completed".
type ContinueResult struct {
	ExecutionID   string        `json:"execution_id"`
	StepName      string        `json:"step_name,omitempty"`
	AgentName     string        `json:"agent_name,omitempty"`
	WorkflowState WorkflowState `json:"workflow_state"`
	NewToken      string        `json:"new_token,omitempty"`
	Message       string        `json:"message,omitempty"`
}
