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

	"github.com/conductor-mcp/conductor/pkg/store"
)

func newSeededProvider(t *testing.T) *DatabaseProvider {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	root := t.TempDir()
	files := map[string]string{
		"workflows/demo.yaml": demoWorkflowYAML,
		"agents/planner.md":   "# Planner\n\nYou plan things.\n",
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
	require.NoError(t, Seed(context.Background(), st, root, logger))

	return NewDatabaseProvider(st, logger)
}

func TestDatabaseProviderServesSeededContent(t *testing.T) {
	p := newSeededProvider(t)
	ctx := context.Background()

	def, err := p.GetWorkflow(ctx, "demo")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "demo", def.Name)
	require.Len(t, def.Phases, 2)
	assert.NotEmpty(t, def.Content)

	agent, err := p.GetAgent(ctx, "planner")
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.Equal(t, "Planner", agent.Description)

	summaries, err := p.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].PhaseCount)
}

func TestDatabaseProviderUnknownNames(t *testing.T) {
	p := newSeededProvider(t)
	ctx := context.Background()

	def, err := p.GetWorkflow(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, def)

	agent, err := p.GetAgent(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, agent)
}

func TestSeedIsIdempotent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	root := t.TempDir()
	path := filepath.Join(root, "workflows", "demo.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(demoWorkflowYAML), 0o644))

	st, err := store.Open(filepath.Join(t.TempDir(), "conductor.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background(), store.MigrateOptions{}))

	require.NoError(t, Seed(context.Background(), st, root, logger))
	require.NoError(t, Seed(context.Background(), st, root, logger))

	rows, err := store.ListWorkflowDefs(context.Background(), st.DB())
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
