// Package content loads workflow definitions and agent personas. The core
// depends only on the Provider interface; the filesystem implementation walks
// a content root with workflows/ and agents/ subdirectories.
package content

import (
	"context"

	"github.com/conductor-mcp/conductor/pkg/domain/workflow"
)

// Provider supplies workflow definitions and agents to the orchestrator.
type Provider interface {
	// GetWorkflow returns the named definition, or (nil, nil) when unknown.
	GetWorkflow(ctx context.Context, name string) (*workflow.Definition, error)
	// GetAgent returns the named agent persona, or (nil, nil) when unknown.
	GetAgent(ctx context.Context, name string) (*workflow.Agent, error)
	// ListWorkflows returns summaries of every known definition.
	ListWorkflows(ctx context.Context) ([]workflow.WorkflowSummary, error)
}
