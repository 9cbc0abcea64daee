package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
	"github.com/conductor-mcp/conductor/pkg/domain/workflow"
	"github.com/conductor-mcp/conductor/pkg/store"
	"github.com/conductor-mcp/conductor/pkg/telemetry"
	"github.com/conductor-mcp/conductor/pkg/token"
)

// Executor advances workflow executions one continuation token at a time.
// Every advance is a single transaction: complete the current step, resolve
// the next phase, insert its step row, and issue a fresh token. No reader can
// ever observe a current_step whose step row is missing.
type Executor struct {
	store     *store.Store
	machine   *StateMachine
	tokens    *token.Codec
	telemetry *telemetry.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewExecutor assembles the step executor.
func NewExecutor(st *store.Store, machine *StateMachine, codec *token.Codec, rec *telemetry.Recorder, logger *slog.Logger) *Executor {
	return &Executor{
		store:     st,
		machine:   machine,
		tokens:    codec,
		telemetry: rec,
		logger:    logger.With("component", "executor"),
		now:       time.Now,
	}
}

// Start creates an execution for def and opens its first step.
func (e *Executor) Start(ctx context.Context, workflowName, executionID string, def *workflow.Definition, timeoutMS *int64) (*workflow.StartResult, error) {
	if def == nil || len(def.Phases) == 0 {
		return nil, errors.Newf(errors.CodeValidationFailed, "engine",
			"workflow %q has no phases", workflowName)
	}
	first := def.FirstPhase()
	if first == nil {
		return nil, errors.Newf(errors.CodeValidationFailed, "engine",
			"workflow %q has no phase without dependencies to start from", workflowName)
	}

	var result *workflow.StartResult
	err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := e.machine.CreateOn(ctx, tx, workflowName, executionID, timeoutMS); err != nil {
			return err
		}

		now := e.now().UTC()
		step := &store.Step{
			ExecutionID: executionID,
			StepName:    first.Phase,
			AgentName:   first.Agent,
			Status:      workflow.StepRunning,
			StartedAt:   now,
			UpdatedAt:   now,
		}
		if err := store.InsertStep(ctx, tx, step); err != nil {
			return err
		}

		tok, err := e.tokens.Generate(executionID, first.Phase)
		if err != nil {
			return err
		}
		if err := store.SetStepToken(ctx, tx, step.ID, tok); err != nil {
			return err
		}

		if err := e.machine.TransitionOn(ctx, tx, executionID, workflow.StateRunning, &first.Phase); err != nil {
			return err
		}

		e.telemetry.RecordOn(ctx, tx, telemetry.Event{
			Type:        telemetry.EventWorkflowStarted,
			ExecutionID: executionID,
			Metadata:    map[string]any{"workflow_name": workflowName},
		})
		e.telemetry.RecordOn(ctx, tx, telemetry.Event{
			Type:        telemetry.EventStepStarted,
			ExecutionID: executionID,
			StepName:    first.Phase,
			AgentName:   first.Agent,
		})
		e.telemetry.RecordOn(ctx, tx, telemetry.Event{
			Type:        telemetry.EventTokenGenerated,
			ExecutionID: executionID,
			StepName:    first.Phase,
		})

		result = &workflow.StartResult{
			ExecutionID:   executionID,
			StepName:      first.Phase,
			AgentName:     first.Agent,
			WorkflowState: workflow.StateRunning,
			NewToken:      tok,
			Message:       "Workflow started",
		}
		return nil
	})
	if err != nil {
		e.telemetry.Record(ctx, telemetry.Event{
			Type:        telemetry.EventWorkflowFailed,
			ExecutionID: executionID,
			Metadata:    map[string]any{"error": err.Error(), "workflow_name": workflowName},
		})
		return nil, err
	}

	e.logger.Info("Workflow started",
		"workflow", workflowName, "execution_id", executionID, "first_step", first.Phase)
	return result, nil
}

// Continue completes the step the token is bound to and advances the
// execution. The current-step cross-check is the single-use enforcement:
// once the execution moves on, every earlier token is rejected with a step
// mismatch.
func (e *Executor) Continue(ctx context.Context, tok string, output *workflow.OutputEnvelope, def *workflow.Definition) (*workflow.ContinueResult, error) {
	payload, err := e.tokens.Validate(tok)
	if err != nil {
		if errors.CodeOf(err) == errors.CodeTokenExpired {
			e.recordTokenExpired(ctx, tok)
		}
		return nil, err
	}
	if output == nil || output.Summary == "" {
		return nil, errors.New(errors.CodeMissingParameter, "engine", "output summary is required", nil)
	}
	if def == nil {
		return nil, errors.Newf(errors.CodeWorkflowNotFound, "engine",
			"no workflow definition for execution %q", payload.ExecutionID)
	}

	exec, err := store.GetExecution(ctx, e.store.DB(), payload.ExecutionID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		e.telemetry.Record(ctx, telemetry.Event{
			Type:        telemetry.EventError,
			ExecutionID: payload.ExecutionID,
			Metadata:    map[string]any{"type": "execution_not_found"},
		})
		return nil, errors.Newf(errors.CodeExecutionNotFound, "engine",
			"execution %q not found", payload.ExecutionID)
	}
	if exec.State != workflow.StateRunning {
		e.telemetry.Record(ctx, telemetry.Event{
			Type:        telemetry.EventError,
			ExecutionID: payload.ExecutionID,
			StepName:    payload.StepName,
			Metadata:    map[string]any{"type": "execution_not_running", "state": string(exec.State)},
		})
		return nil, errors.Newf(errors.CodeInvalidTransition, "engine",
			"execution %q is %s; only running executions can advance", payload.ExecutionID, exec.State)
	}
	if exec.CurrentStep == nil || *exec.CurrentStep != payload.StepName {
		current := ""
		if exec.CurrentStep != nil {
			current = *exec.CurrentStep
		}
		e.telemetry.Record(ctx, telemetry.Event{
			Type:        telemetry.EventError,
			ExecutionID: payload.ExecutionID,
			StepName:    payload.StepName,
			Metadata:    map[string]any{"type": "token_step_mismatch", "current_step": current},
		})
		return nil, errors.Newf(errors.CodeTokenStepMismatch, "engine",
			"Token step mismatch: token is for step %q but execution is at %q", payload.StepName, current)
	}

	e.telemetry.Record(ctx, telemetry.Event{
		Type:        telemetry.EventTokenValidated,
		ExecutionID: payload.ExecutionID,
		StepName:    payload.StepName,
	})

	var result *workflow.ContinueResult
	err = e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var txErr error
		result, txErr = e.advance(ctx, tx, payload, output, def)
		return txErr
	})
	if err != nil {
		e.telemetry.Record(ctx, telemetry.Event{
			Type:        telemetry.EventStepFailed,
			ExecutionID: payload.ExecutionID,
			StepName:    payload.StepName,
			Metadata:    map[string]any{"error": err.Error()},
		})
		return nil, err
	}

	e.logger.Info("Step completed",
		"execution_id", payload.ExecutionID, "step", payload.StepName, "state", result.WorkflowState)
	return result, nil
}

// advance holds the transactional body of Continue.
func (e *Executor) advance(ctx context.Context, tx *sqlx.Tx, payload *token.Payload, output *workflow.OutputEnvelope, def *workflow.Definition) (*workflow.ContinueResult, error) {
	step, err := store.GetStep(ctx, tx, payload.ExecutionID, payload.StepName)
	if err != nil {
		return nil, err
	}
	if step == nil || step.Status != workflow.StepRunning {
		status := "missing"
		if step != nil {
			status = string(step.Status)
		}
		return nil, errors.Newf(errors.CodeInvalidStepStatus, "engine",
			"step %q of execution %q is %s, expected running", payload.StepName, payload.ExecutionID, status)
	}

	now := e.now().UTC()
	durationMS := now.Sub(step.StartedAt).Milliseconds()

	serialized, err := json.Marshal(output)
	if err != nil {
		return nil, errors.New(errors.CodeInternalError, "engine", "failed to serialize step output", err)
	}
	if err := store.CompleteStep(ctx, tx, step.ID, now, durationMS, string(serialized)); err != nil {
		return nil, err
	}

	e.telemetry.RecordOn(ctx, tx, telemetry.Event{
		Type:        telemetry.EventStepCompleted,
		ExecutionID: payload.ExecutionID,
		StepName:    payload.StepName,
		AgentName:   step.AgentName,
		Metadata:    map[string]any{"duration_ms": durationMS},
	})

	if err := e.persistArtifacts(ctx, tx, payload, output, now); err != nil {
		return nil, err
	}
	e.suggestFindings(ctx, tx, payload, step.AgentName, output, now)

	next := def.NextPhase(payload.StepName)
	if next == nil {
		if err := e.machine.TransitionOn(ctx, tx, payload.ExecutionID, workflow.StateCompleted, nil); err != nil {
			return nil, err
		}
		counts, err := store.CountSteps(ctx, tx, payload.ExecutionID)
		if err != nil {
			return nil, err
		}
		e.telemetry.RecordOn(ctx, tx, telemetry.Event{
			Type:        telemetry.EventWorkflowCompleted,
			ExecutionID: payload.ExecutionID,
			Metadata:    map[string]any{"total_steps": counts.Total},
		})
		return &workflow.ContinueResult{
			ExecutionID:   payload.ExecutionID,
			WorkflowState: workflow.StateCompleted,
			Message:       "Workflow completed successfully",
		}, nil
	}

	nextStep := &store.Step{
		ExecutionID: payload.ExecutionID,
		StepName:    next.Phase,
		AgentName:   next.Agent,
		Status:      workflow.StepRunning,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.InsertStep(ctx, tx, nextStep); err != nil {
		return nil, err
	}

	newToken, err := e.tokens.Generate(payload.ExecutionID, next.Phase)
	if err != nil {
		return nil, err
	}
	if err := store.SetStepToken(ctx, tx, nextStep.ID, newToken); err != nil {
		return nil, err
	}
	if err := store.UpdateExecutionState(ctx, tx, payload.ExecutionID, workflow.StateRunning, &next.Phase, nil, nil); err != nil {
		return nil, err
	}

	e.telemetry.RecordOn(ctx, tx, telemetry.Event{
		Type:        telemetry.EventStepStarted,
		ExecutionID: payload.ExecutionID,
		StepName:    next.Phase,
		AgentName:   next.Agent,
	})
	e.telemetry.RecordOn(ctx, tx, telemetry.Event{
		Type:        telemetry.EventTokenGenerated,
		ExecutionID: payload.ExecutionID,
		StepName:    next.Phase,
	})

	return &workflow.ContinueResult{
		ExecutionID:   payload.ExecutionID,
		StepName:      next.Phase,
		AgentName:     next.Agent,
		WorkflowState: workflow.StateRunning,
		NewToken:      newToken,
	}, nil
}

// persistArtifacts stores full artifacts carried in the envelope and records
// one artifact_stored event per reported artifact.
func (e *Executor) persistArtifacts(ctx context.Context, tx *sqlx.Tx, payload *token.Payload, output *workflow.OutputEnvelope, now time.Time) error {
	for _, name := range output.Artifacts {
		e.telemetry.RecordOn(ctx, tx, telemetry.Event{
			Type:        telemetry.EventArtifactStored,
			ExecutionID: payload.ExecutionID,
			StepName:    payload.StepName,
			Metadata:    map[string]any{"artifact": name},
		})
	}

	for _, in := range output.ArtifactDetails {
		var metadata *string
		if len(in.Metadata) > 0 {
			s := string(in.Metadata)
			metadata = &s
		}
		row := &store.Artifact{
			ExecutionID:  payload.ExecutionID,
			StepName:     payload.StepName,
			ArtifactType: in.ArtifactType,
			Name:         in.Name,
			Content:      in.Content,
			ContentType:  in.ContentType,
			SizeBytes:    int64(len(in.Content)),
			Metadata:     metadata,
			CreatedAt:    now,
		}
		if err := store.InsertArtifact(ctx, tx, row); err != nil {
			return err
		}
		e.telemetry.RecordOn(ctx, tx, telemetry.Event{
			Type:        telemetry.EventArtifactStored,
			ExecutionID: payload.ExecutionID,
			StepName:    payload.StepName,
			Metadata:    map[string]any{"artifact": in.Name, "artifact_id": row.ID},
		})
	}
	return nil
}

// suggestFindings persists caller-suggested knowledge findings. A rejected
// finding degrades to a telemetry error; it never fails the step advance.
func (e *Executor) suggestFindings(ctx context.Context, tx *sqlx.Tx, payload *token.Payload, agentName string, output *workflow.OutputEnvelope, now time.Time) {
	for _, in := range output.SuggestedFindings {
		var tags *string
		if len(in.Tags) > 0 {
			raw, err := json.Marshal(in.Tags)
			if err == nil {
				s := string(raw)
				tags = &s
			}
		}
		execID := payload.ExecutionID
		agent := agentName
		f := &store.Finding{
			Scope:             in.Scope,
			ProjectID:         in.ProjectID,
			Category:          in.Category,
			Severity:          in.Severity,
			Status:            "active",
			Title:             in.Title,
			Content:           in.Content,
			Tags:              tags,
			SourceExecutionID: &execID,
			SourceAgent:       &agent,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := store.InsertFinding(ctx, tx, f); err != nil {
			e.telemetry.RecordOn(ctx, tx, telemetry.Event{
				Type:        telemetry.EventError,
				ExecutionID: payload.ExecutionID,
				StepName:    payload.StepName,
				Metadata:    map[string]any{"type": "finding_rejected", "error": err.Error(), "title": in.Title},
			})
		}
	}
}

// Abandon is the administrative cancel: a legal transition to abandoned from
// running or paused.
func (e *Executor) Abandon(ctx context.Context, executionID string) error {
	if err := e.machine.Transition(ctx, executionID, workflow.StateAbandoned, nil); err != nil {
		return err
	}
	e.logger.Info("Workflow abandoned", "execution_id", executionID)
	return nil
}

// recordTokenExpired decodes what it can from an expired token so the event
// still names the execution.
func (e *Executor) recordTokenExpired(ctx context.Context, tok string) {
	ev := telemetry.Event{Type: telemetry.EventTokenExpired}
	if payload, err := e.tokens.Decode(tok); err == nil {
		ev.ExecutionID = payload.ExecutionID
		ev.StepName = payload.StepName
	}
	e.telemetry.Record(ctx, ev)
}
