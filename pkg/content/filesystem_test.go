package content

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
)

func writeContentRoot(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, body := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return root
}

func newTestProvider(t *testing.T, files map[string]string) *FilesystemProvider {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFilesystemProvider(writeContentRoot(t, files), logger)
}

const demoWorkflowYAML = `name: demo
description: Two phase demo
complexity: simple
tags: [demo]
phases:
  - phase: plan
    agent: planner
  - phase: build
    agent: builder
    dependsOn: plan
`

func TestLoadWorkflowAndAgent(t *testing.T) {
	p := newTestProvider(t, map[string]string{
		"workflows/demo.yaml": demoWorkflowYAML,
		"agents/planner.md":   "# Planner\n\nYou plan things.\n",
	})
	ctx := context.Background()

	def, err := p.GetWorkflow(ctx, "demo")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "demo", def.Name)
	assert.Equal(t, "Two phase demo", def.Description)
	require.Len(t, def.Phases, 2)
	assert.Equal(t, "plan", def.Phases[0].Phase)
	assert.Equal(t, "planner", def.Phases[0].Agent)
	assert.Equal(t, "plan", def.Phases[1].DependsOn)
	assert.NotEmpty(t, def.Content)

	agent, err := p.GetAgent(ctx, "planner")
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.Equal(t, "planner", agent.Name)
	assert.Equal(t, "Planner", agent.Description)
	assert.Contains(t, agent.Content, "You plan things.")

	missing, err := p.GetWorkflow(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestWorkflowNameDefaultsToFilename(t *testing.T) {
	p := newTestProvider(t, map[string]string{
		"workflows/release.yaml": "phases:\n  - phase: ship\n    agent: shipper\n",
	})

	def, err := p.GetWorkflow(context.Background(), "release")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "release", def.Name)
}

func TestListWorkflowsSorted(t *testing.T) {
	p := newTestProvider(t, map[string]string{
		"workflows/zeta.yaml":  "phases:\n  - phase: a\n    agent: x\n",
		"workflows/alpha.yaml": "phases:\n  - phase: a\n    agent: x\n",
	})

	summaries, err := p.ListWorkflows(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "alpha", summaries[0].Name)
	assert.Equal(t, "zeta", summaries[1].Name)
	assert.Equal(t, 1, summaries[0].PhaseCount)
}

func TestInvalidWorkflowRejected(t *testing.T) {
	p := newTestProvider(t, map[string]string{
		"workflows/bad.yaml": "{{{ not yaml",
	})

	_, err := p.GetWorkflow(context.Background(), "bad")
	require.Error(t, err)
	assert.Equal(t, errors.CodeContentInvalid, errors.CodeOf(err))
}

func TestEmptyPhasesRejected(t *testing.T) {
	p := newTestProvider(t, map[string]string{
		"workflows/empty.yaml": "name: empty\nphases: []\n",
	})

	_, err := p.GetWorkflow(context.Background(), "empty")
	require.Error(t, err)
	assert.Equal(t, errors.CodeContentInvalid, errors.CodeOf(err))
}

func TestMissingDirectoriesAreEmpty(t *testing.T) {
	p := newTestProvider(t, map[string]string{})

	summaries, err := p.ListWorkflows(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summaries)
}
