// Package workflow provides domain types for token-driven workflow orchestration.
//
// The orchestrator advances a persistent state machine one step at a time: it
// hands the caller an agent persona plus a continuation token, the caller does
// the work out of band, and returns the token with an output envelope. The
// types here are the shared vocabulary between the store, the engine, and the
// MCP service surface:
//   - Definition/Phase describe a declarative workflow loaded from a provider
//   - WorkflowState/StepStatus are the persisted lifecycle enums
//   - OutputEnvelope is the caller's report for a completed step
package workflow

// WorkflowState is the lifecycle state of a workflow execution.
type WorkflowState string

const (
	StateIdle      WorkflowState = "idle"
	StateRunning   WorkflowState = "running"
	StatePaused    WorkflowState = "paused"
	StateCompleted WorkflowState = "completed"
	StateFailed    WorkflowState = "failed"
	StateAbandoned WorkflowState = "abandoned"
	StateDiverged  WorkflowState = "diverged"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s WorkflowState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateAbandoned, StateDiverged:
		return true
	}
	return false
}

// Valid reports whether s is a recognized workflow state.
func (s WorkflowState) Valid() bool {
	switch s {
	case StateIdle, StateRunning, StatePaused, StateCompleted, StateFailed, StateAbandoned, StateDiverged:
		return true
	}
	return false
}

// StepStatus is the lifecycle status of a single step row.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// ArtifactType classifies an artifact produced during a step.
type ArtifactType string

const (
	ArtifactFile    ArtifactType = "file"
	ArtifactData    ArtifactType = "data"
	ArtifactReport  ArtifactType = "report"
	ArtifactFinding ArtifactType = "finding"
)

// Valid reports whether t is a recognized artifact type.
func (t ArtifactType) Valid() bool {
	switch t {
	case ArtifactFile, ArtifactData, ArtifactReport, ArtifactFinding:
		return true
	}
	return false
}

// ContentType describes how artifact content is encoded.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentMarkdown ContentType = "markdown"
	ContentJSON     ContentType = "json"
	ContentBinary   ContentType = "binary"
)

// Valid reports whether c is a recognized content encoding.
func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentMarkdown, ContentJSON, ContentBinary:
		return true
	}
	return false
}

// Complexity grades a workflow definition.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityHigh     Complexity = "high"
)

// Phase is one declarative element of a workflow definition. Phases execute
// sequentially in definition order; DependsOn only refines which phases are
// eligible to start a workflow.
type Phase struct {
	Phase       string `json:"phase"`
	Agent       string `json:"agent"`
	Description string `json:"description,omitempty"`
	DependsOn   string `json:"dependsOn,omitempty"`
}

// Definition is a workflow definition as loaded from a content provider.
// Definitions are read-only to the orchestrator core.
type Definition struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Complexity  Complexity `json:"complexity,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Keywords    []string   `json:"keywords,omitempty"`
	Phases      []Phase    `json:"phases"`
	Content     string     `json:"content,omitempty"`
}

// FirstPhase returns the first phase eligible to start the workflow: the first
// phase in definition order carrying no dependency. Returns nil when every
// phase depends on another.
func (d *Definition) FirstPhase() *Phase {
	for i := range d.Phases {
		if d.Phases[i].DependsOn == "" {
			return &d.Phases[i]
		}
	}
	return nil
}

// NextPhase returns the phase following current in definition order, or nil
// when current is the last phase (or unknown).
func (d *Definition) NextPhase(current string) *Phase {
	for i := range d.Phases {
		if d.Phases[i].Phase == current && i+1 < len(d.Phases) {
			return &d.Phases[i+1]
		}
	}
	return nil
}

// PhaseIndex returns the zero-based position of the named phase, or -1.
func (d *Definition) PhaseIndex(name string) int {
	for i := range d.Phases {
		if d.Phases[i].Phase == name {
			return i
		}
	}
	return -1
}

// Agent is a named persona the external caller uses to perform a step's work.
type Agent struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content"`
}

// WorkflowSummary is the listing projection of a definition.
type WorkflowSummary struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Complexity  Complexity `json:"complexity,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	PhaseCount  int        `json:"phase_count"`
}
