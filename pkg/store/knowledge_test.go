package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
)

func insertTestFinding(t *testing.T, s *Store, f *Finding) *Finding {
	t.Helper()
	now := time.Now().UTC()
	if f.Status == "" {
		f.Status = "active"
	}
	f.CreatedAt = now
	f.UpdatedAt = now
	require.NoError(t, InsertFinding(context.Background(), s.DB(), f))
	return f
}

func TestFindingFullTextSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := insertTestFinding(t, s, &Finding{
		Scope: "global", Category: "security", Severity: "high",
		Title: "Hardcoded credential", Content: "Detected API key in config.yaml",
	})
	insertTestFinding(t, s, &Finding{
		Scope: "global", Category: "performance", Severity: "low",
		Title: "Slow startup", Content: "Cold start exceeds two seconds",
	})

	hits, err := QueryFindings(ctx, s.DB(), FindingFilter{Text: "api key"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, f.ID, hits[0].ID)

	// Deprecating removes it from active-text queries.
	status := "deprecated"
	require.NoError(t, UpdateFinding(ctx, s.DB(), f.ID, FindingPatch{Status: &status}, time.Now().UTC()))

	hits, err = QueryFindings(ctx, s.DB(), FindingFilter{Status: "active", Text: "api key"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFindingFTSFollowsUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := insertTestFinding(t, s, &Finding{
		Scope: "global", Category: "architecture", Severity: "medium",
		Title: "Tight coupling", Content: "Handlers reach into the storage layer directly",
	})

	title := "Layering violation"
	require.NoError(t, UpdateFinding(ctx, s.DB(), f.ID, FindingPatch{Title: &title}, time.Now().UTC()))

	hits, err := QueryFindings(ctx, s.DB(), FindingFilter{Text: "layering"})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = QueryFindings(ctx, s.DB(), FindingFilter{Text: "coupling"})
	require.NoError(t, err)
	assert.Empty(t, hits, "stale FTS entries must not survive an update")
}

func TestQueryFindingsSeverityOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestFinding(t, s, &Finding{
		Scope: "global", Category: "security", Severity: "low",
		Title: "Minor", Content: "low impact",
	})
	insertTestFinding(t, s, &Finding{
		Scope: "global", Category: "security", Severity: "critical",
		Title: "Major", Content: "critical impact",
	})
	insertTestFinding(t, s, &Finding{
		Scope: "global", Category: "security", Severity: "medium",
		Title: "Middling", Content: "medium impact",
	})

	hits, err := QueryFindings(ctx, s.DB(), FindingFilter{Scope: "global"})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "critical", hits[0].Severity)
	assert.Equal(t, "medium", hits[1].Severity)
	assert.Equal(t, "low", hits[2].Severity)
}

func TestProjectScopeRequiresProjectID(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC()
	err := InsertFinding(context.Background(), s.DB(), &Finding{
		Scope: "project", Category: "constraint", Severity: "info", Status: "active",
		Title: "Orphan", Content: "no project", CreatedAt: now, UpdatedAt: now,
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeConstraintViolation, errors.CodeOf(err))
}

func TestProjectFindingsIncludeSystemScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	p := &Project{Name: "webapp", Path: "/srv/webapp", DiscoveredAt: now, LastUsedAt: now}
	require.NoError(t, InsertProject(ctx, s.DB(), p))
	other := &Project{Name: "cli", Path: "/srv/cli", DiscoveredAt: now, LastUsedAt: now}
	require.NoError(t, InsertProject(ctx, s.DB(), other))

	insertTestFinding(t, s, &Finding{
		Scope: "project", ProjectID: &p.ID, Category: "pattern", Severity: "medium",
		Title: "Project specific", Content: "applies to webapp only",
	})
	insertTestFinding(t, s, &Finding{
		Scope: "project", ProjectID: &other.ID, Category: "pattern", Severity: "medium",
		Title: "Other project", Content: "applies elsewhere",
	})
	insertTestFinding(t, s, &Finding{
		Scope: "system", Category: "constraint", Severity: "high",
		Title: "System wide", Content: "applies everywhere",
	})
	insertTestFinding(t, s, &Finding{
		Scope: "global", Category: "security", Severity: "critical",
		Title: "Global", Content: "global knowledge",
	})

	out, err := ProjectFindings(ctx, s.DB(), p.ID)
	require.NoError(t, err)
	require.Len(t, out, 2)
	titles := []string{out[0].Title, out[1].Title}
	assert.Contains(t, titles, "Project specific")
	assert.Contains(t, titles, "System wide")

	global, err := GlobalFindings(ctx, s.DB())
	require.NoError(t, err)
	require.Len(t, global, 1)
	assert.Equal(t, "Global", global[0].Title)
}

func TestUpdateFindingValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := UpdateFinding(ctx, s.DB(), 1, FindingPatch{}, time.Now().UTC())
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidParameter, errors.CodeOf(err))

	title := "new title"
	err = UpdateFinding(ctx, s.DB(), 9999, FindingPatch{Title: &title}, time.Now().UTC())
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestFindingTagsMustBeJSON(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC()
	badTags := "not json"
	err := InsertFinding(context.Background(), s.DB(), &Finding{
		Scope: "global", Category: "security", Severity: "info", Status: "active",
		Title: "Tagged", Content: "body", Tags: &badTags, CreatedAt: now, UpdatedAt: now,
	})
	require.Error(t, err)

	goodTags := `["auth","secrets"]`
	f := &Finding{
		Scope: "global", Category: "security", Severity: "info", Status: "active",
		Title: "Tagged", Content: "body", Tags: &goodTags, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, InsertFinding(context.Background(), s.DB(), f))

	hits, err := QueryFindings(context.Background(), s.DB(), FindingFilter{Text: "secrets"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, f.ID, hits[0].ID)
}
