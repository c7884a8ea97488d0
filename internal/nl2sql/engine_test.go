package nl2sql

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbsearch/backend/internal/cicd"
)

func newTestEngine(t *testing.T) (*Engine, *MemoryStore, *cicd.Store) {
	t.Helper()

	db, err := cicd.NewStore(filepath.Join(t.TempDir(), "cicd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema())

	require.NoError(t, db.InsertDeployment("frontend", "PROD", "FAILED", "v2.4.2", 95, "ci-bot", "2026-08-30T08:02:00Z"))
	require.NoError(t, db.InsertDeployment("frontend", "PROD", "SUCCESS", "v2.4.1", 312, "ci-bot", "2026-08-28T09:12:00Z"))
	require.NoError(t, db.InsertDeployment("billing", "STAGING", "FAILED", "v3.1.0", 122, "carol", "2026-08-29T19:05:00Z"))

	store := NewMemoryStore(time.Hour)
	engine := NewEngine(store, db, NewExtractor([]string{"frontend", "billing"}), "memory")

	return engine, store, db
}

const failedFrontendSQL = "SELECT app_name, deploy_env, status, version FROM deployment_data " +
	"WHERE app_name = 'frontend' AND deploy_env = 'PROD' AND status = 'FAILED' ORDER BY date DESC"

func TestPrepareMissReturnsSchemaContext(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	res, err := engine.Prepare(context.Background(), "show me failed deployments for frontend in prod", "alice")
	require.NoError(t, err)

	assert.False(t, res.Cached)
	assert.Equal(t, "cicd:frontend:prod:any:failures", res.PatternKey)
	assert.Equal(t, "frontend", res.ExtractedParams.App)
	assert.Equal(t, "PROD", res.ExtractedParams.Environment)
	assert.Contains(t, res.SchemaContext, "deployment_data")
	assert.Contains(t, res.Instruction, res.PatternKey)
	assert.Empty(t, res.Results)
}

func TestExecuteCachesPatternOnSuccess(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	prep, err := engine.Prepare(ctx, "show me failed deployments for frontend in prod", "alice")
	require.NoError(t, err)
	require.False(t, prep.Cached)

	exec, err := engine.Execute(ctx, failedFrontendSQL, prep.PatternKey, true, "alice")
	require.NoError(t, err)
	assert.True(t, exec.Cached)
	require.Len(t, exec.Rows, 1)
	assert.Equal(t, "v2.4.2", exec.Rows[0]["version"])

	entry, found, err := store.Get(ctx, prep.PatternKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, entry.SQLTemplate, "{{app}}")
	assert.Contains(t, entry.SQLTemplate, "{{env}}")
	assert.Equal(t, "alice", entry.CreatedBy)
}

func TestPrepareHitServesParaphrase(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	prep, err := engine.Prepare(ctx, "show me failed deployments for frontend in prod", "alice")
	require.NoError(t, err)
	_, err = engine.Execute(ctx, failedFrontendSQL, prep.PatternKey, true, "alice")
	require.NoError(t, err)

	// A differently worded question with the same intent hits the cache.
	res, err := engine.Prepare(ctx, "frontend deployment failures in production", "bob")
	require.NoError(t, err)

	assert.True(t, res.Cached)
	assert.Equal(t, prep.PatternKey, res.PatternKey)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "FAILED", res.Results[0]["status"])
}

func TestFailedExecuteIsNotCached(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	key := "cicd:frontend:prod:any:list"
	_, err := engine.Execute(ctx, "SELECT * FROM no_such_table", key, true, "alice")
	require.Error(t, err)

	_, found, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExecuteWithoutConfirmSkipsCache(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	key := "cicd:frontend:prod:any:failures"
	exec, err := engine.Execute(ctx, failedFrontendSQL, key, false, "alice")
	require.NoError(t, err)
	assert.False(t, exec.Cached)

	_, found, _ := store.Get(ctx, key)
	assert.False(t, found)
}

func TestDetachedExecuteStillCaches(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	// No prepare happened in this process; the key arrives from outside.
	key := "cicd:billing:staging:any:failures"
	sqlText := "SELECT version FROM deployment_data WHERE app_name = 'billing' AND deploy_env = 'STAGING' AND status = 'FAILED'"

	exec, err := engine.Execute(ctx, sqlText, key, true, "carol")
	require.NoError(t, err)
	assert.True(t, exec.Cached)

	entry, found, _ := store.Get(ctx, key)
	require.True(t, found)
	assert.Contains(t, entry.SQLTemplate, "{{app}}")
}

func TestStalePatternEvictedOnHitFailure(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	key := "cicd:frontend:prod:any:failures"
	require.NoError(t, store.Put(ctx, &Entry{
		Key:         key,
		SQLTemplate: "SELECT * FROM dropped_table WHERE app_name = '{{app}}'",
		CreatedAt:   time.Now(),
	}))

	res, err := engine.Prepare(ctx, "failed deployments for frontend in prod", "alice")
	require.NoError(t, err)

	assert.False(t, res.Cached)
	assert.NotEmpty(t, res.SchemaContext)

	_, found, _ := store.Get(ctx, key)
	assert.False(t, found)
}

func TestStats(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	prep, err := engine.Prepare(ctx, "failed deployments for frontend in prod", "alice")
	require.NoError(t, err)
	_, err = engine.Execute(ctx, failedFrontendSQL, prep.PatternKey, true, "alice")
	require.NoError(t, err)
	_, err = engine.Prepare(ctx, "frontend deployment failures in production", "bob")
	require.NoError(t, err)

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.EntryCount)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	require.Len(t, stats.TopPatterns, 1)
	assert.Equal(t, prep.PatternKey, stats.TopPatterns[0].Key)
}

func TestListEntries(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.Put(ctx, &Entry{Key: "cicd:a:any:any:list", HitCount: 2, CreatedAt: now}))
	require.NoError(t, store.Put(ctx, &Entry{Key: "cicd:b:any:any:list", HitCount: 9, CreatedAt: now}))
	require.NoError(t, store.Put(ctx, &Entry{Key: "cicd:c:any:any:list", HitCount: 9, CreatedAt: now}))

	entries, err := engine.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Sorted by hit count, key breaking ties.
	assert.Equal(t, "cicd:b:any:any:list", entries[0].Key)
	assert.Equal(t, "cicd:c:any:any:list", entries[1].Key)
}

func TestParameterize(t *testing.T) {
	params := Params{App: "frontend", Environment: "PROD"}
	sqlText := "SELECT * FROM deployment_data WHERE app_name = 'frontend' AND deploy_env = 'PROD'"

	template := parameterize(sqlText, params)
	assert.Equal(t, "SELECT * FROM deployment_data WHERE app_name = '{{app}}' AND deploy_env = '{{env}}'", template)

	rendered := renderTemplate(template, params)
	assert.Equal(t, sqlText, rendered)
}
