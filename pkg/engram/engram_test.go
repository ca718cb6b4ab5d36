package engram

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/engramdb/pkg/semantic"
	"github.com/orneryd/engramdb/pkg/snapshot"
)

func newTestEngine(t *testing.T, store snapshot.Store) *Engine {
	t.Helper()
	engine, err := New(nil, semantic.NewNaiveExtractor(), store, nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNotInitialized)

	bad := DefaultConfig()
	bad.CapacityTrigger = 2
	_, err = New(bad, semantic.NewNaiveExtractor(), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEngine_Ingest(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	receipt, err := engine.Ingest(ctx, "I love the new AI model", map[string]string{"source": "chat"})
	require.NoError(t, err)

	assert.Len(t, receipt.Fingerprint, 64, "blake2b-256 hex digest")
	assert.Equal(t, []string{LayerContext, LayerConcepts, LayerTemporal}, receipt.Layers)
	assert.NotEmpty(t, receipt.ObservationID)
	assert.NotEmpty(t, receipt.EventID)
	assert.Equal(t, []string{"ai", "love", "model", "new"}, receipt.Concepts)

	status := engine.Status()
	assert.Equal(t, 1, status.Layers[LayerContext].Size)
	assert.Equal(t, 4, status.Layers[LayerConcepts].Size)
	assert.Equal(t, 1, status.Layers[LayerTemporal].Size)
	assert.Equal(t, int64(1), status.Ingests)
}

func TestEngine_Ingest_BuildsConceptEdges(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := engine.Ingest(ctx, "I love the new AI model", nil)
	require.NoError(t, err)
	_, err = engine.Ingest(ctx, "The AI model learns fast", nil)
	require.NoError(t, err)

	// ai and model co-occurred in both texts, in either order.
	assert.GreaterOrEqual(t, engine.concepts.Weight("ai", "model"), 2)
	assert.Equal(t, engine.concepts.Weight("model", "ai"), engine.concepts.Weight("ai", "model"))
}

func TestEngine_Ingest_PartialFanout(t *testing.T) {
	engine := newTestEngine(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	receipt, err := engine.Ingest(ctx, "some text", nil)
	require.Error(t, err)

	var partial *PartialFanoutError
	require.ErrorAs(t, err, &partial)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, partial.Layers, "cancelled before any layer updated")
	require.NotNil(t, receipt, "receipt still reports what happened")
	assert.NotEmpty(t, receipt.Fingerprint)
}

func TestEngine_Ingest_ExtractionFailure(t *testing.T) {
	engine := newTestEngine(t, nil)

	_, err := engine.Ingest(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, ErrFeatureExtraction)
	assert.ErrorIs(t, err, semantic.ErrEmptyText)
}

func TestEngine_Retrieve(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	for _, text := range []string{
		"I love the new AI model",
		"The AI model learns fast",
		"I hate slow computers",
	} {
		_, err := engine.Ingest(ctx, text, nil)
		require.NoError(t, err)
	}

	result, err := engine.Retrieve(ctx, "AI model", RetrieveOptions{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, result.Results)
	assert.False(t, result.FromCache)
	assert.Empty(t, result.Degraded)
	assert.Greater(t, result.Confidence, 0.0)

	// The unrelated text never surfaces; AI texts and concepts do.
	layers := make(map[string]bool)
	for _, r := range result.Results {
		assert.NotEqual(t, "I hate slow computers", r.Text)
		layers[r.Layer] = true
	}
	assert.True(t, layers[LayerContext], "context layer should contribute")
	assert.True(t, layers[LayerConcepts], "concept layer should contribute")

	// Scores are sorted descending.
	for i := 1; i < len(result.Results); i++ {
		assert.GreaterOrEqual(t, result.Results[i-1].Score, result.Results[i].Score)
	}
}

func TestEngine_Retrieve_CacheHit(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := engine.Ingest(ctx, "I love the new AI model", nil)
	require.NoError(t, err)

	first, err := engine.Retrieve(ctx, "AI model", RetrieveOptions{})
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := engine.Retrieve(ctx, "AI model", RetrieveOptions{})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Results, second.Results)

	// NoCache bypasses the cached response.
	third, err := engine.Retrieve(ctx, "AI model", RetrieveOptions{NoCache: true})
	require.NoError(t, err)
	assert.False(t, third.FromCache)
}

func TestEngine_Retrieve_EmptyQuery(t *testing.T) {
	engine := newTestEngine(t, nil)

	_, err := engine.Retrieve(context.Background(), "   ", RetrieveOptions{})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestEngine_Retrieve_ExpiredContext(t *testing.T) {
	engine := newTestEngine(t, nil)

	_, err := engine.Ingest(context.Background(), "I love the new AI model", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// An expired ctx is a timeout error, not an empty success.
	result, err := engine.Retrieve(ctx, "AI model", RetrieveOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)

	// Nothing was cached for that key; a healthy caller gets full results.
	result, err = engine.Retrieve(context.Background(), "AI model", RetrieveOptions{})
	require.NoError(t, err)
	assert.False(t, result.FromCache)
	assert.Empty(t, result.Degraded)
	assert.NotEmpty(t, result.Results)
}

func TestEngine_Retrieve_CacheHitIsolation(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := engine.Ingest(ctx, "I love the new AI model", nil)
	require.NoError(t, err)

	first, err := engine.Retrieve(ctx, "AI model", RetrieveOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, first.Results)
	want := first.Results[0]

	// Mutating a returned result must not leak into later cache hits,
	// whether the caller got the fresh response or a cached one.
	first.Results[0] = RankedResult{Layer: "bogus", Score: -99}

	second, err := engine.Retrieve(ctx, "AI model", RetrieveOptions{})
	require.NoError(t, err)
	require.True(t, second.FromCache)
	assert.Equal(t, want, second.Results[0])

	second.Results[0] = RankedResult{Layer: "bogus", Score: -99}

	third, err := engine.Retrieve(ctx, "AI model", RetrieveOptions{})
	require.NoError(t, err)
	require.True(t, third.FromCache)
	assert.Equal(t, want, third.Results[0])
}

func TestEngine_Consolidate(t *testing.T) {
	store := snapshot.NewMemStore()
	engine := newTestEngine(t, store)
	ctx := context.Background()

	_, err := engine.Ingest(ctx, "I love the new AI model", nil)
	require.NoError(t, err)

	report, err := engine.Consolidate(ctx)
	require.NoError(t, err)
	assert.True(t, report.SnapshotSaved)
	assert.Equal(t, 0, report.ContextRemoved, "fresh observations survive")

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"context-index", "concept-graph", "temporal-index"}, names)

	assert.Equal(t, int64(1), engine.Status().Consolidations)
}

func TestEngine_Consolidate_ClearsCache(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := engine.Ingest(ctx, "I love the new AI model", nil)
	require.NoError(t, err)
	_, err = engine.Retrieve(ctx, "AI model", RetrieveOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, engine.respCache.Len())

	_, err = engine.Consolidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, engine.respCache.Len())
}

func TestEngine_SnapshotRoundtrip(t *testing.T) {
	store := snapshot.NewMemStore()
	ctx := context.Background()

	first := newTestEngine(t, store)
	_, err := first.Ingest(ctx, "I love the new AI model", nil)
	require.NoError(t, err)
	_, err = first.Ingest(ctx, "The AI model learns fast", nil)
	require.NoError(t, err)
	_, err = first.Consolidate(ctx)
	require.NoError(t, err)

	// A fresh engine over the same store restores all layer state.
	second := newTestEngine(t, store)
	require.NoError(t, second.LoadSnapshots(ctx))

	status := second.Status()
	assert.Equal(t, 2, status.Layers[LayerContext].Size)
	assert.Equal(t, 2, status.Layers[LayerTemporal].Size)
	assert.Greater(t, status.Layers[LayerConcepts].Size, 0)
	assert.GreaterOrEqual(t, second.concepts.Weight("ai", "model"), 2)

	result, err := second.Retrieve(ctx, "AI model", RetrieveOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Results)
}

func TestEngine_Close(t *testing.T) {
	store := snapshot.NewMemStore()
	engine, err := New(nil, semantic.NewNaiveExtractor(), store, nil)
	require.NoError(t, err)

	_, err = engine.Ingest(context.Background(), "I love the new AI model", nil)
	require.NoError(t, err)

	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close(), "Close is idempotent")

	// Final snapshot persisted on shutdown.
	names, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, names, 3)

	_, err = engine.Ingest(context.Background(), "after close", nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = engine.Retrieve(context.Background(), "query", RetrieveOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEngine_BackgroundScheduler(t *testing.T) {
	config := DefaultConfig()
	config.ConsolidateInterval = 20 * time.Millisecond
	engine, err := New(config, semantic.NewNaiveExtractor(), nil, nil)
	require.NoError(t, err)
	defer engine.Close()

	engine.Start()
	time.Sleep(100 * time.Millisecond)

	assert.GreaterOrEqual(t, engine.Status().Consolidations, int64(1))
}

func TestEngine_CapacityTrigger(t *testing.T) {
	config := DefaultConfig()
	config.Context.MaxSize = 10
	engine, err := New(config, semantic.NewNaiveExtractor(), nil, nil)
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()
	for i := 0; i < 8; i++ {
		_, err := engine.Ingest(ctx, "observation about deployments", nil)
		require.NoError(t, err)
	}

	// 8/10 is at the 0.8 trigger; a consolidation request is queued.
	select {
	case <-engine.trigger:
	default:
		t.Error("expected a pending consolidation request at 80% capacity")
	}
}

func TestEngine_Status(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := engine.Ingest(ctx, "I love the new AI model", nil)
	require.NoError(t, err)
	_, err = engine.Retrieve(ctx, "AI model", RetrieveOptions{})
	require.NoError(t, err)

	status := engine.Status()
	assert.Equal(t, int64(1), status.Ingests)
	assert.Equal(t, int64(1), status.Retrievals)
	assert.InDelta(t, 1.0/1000.0, status.Layers[LayerContext].Utilization, 1e-9)
	assert.Equal(t, 1000, status.Layers[LayerContext].Capacity)
}

// ============================================================================
// Fingerprint
// ============================================================================

func TestFingerprint(t *testing.T) {
	e := semantic.NewNaiveExtractor()
	at := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)

	f1, err := e.Extract("The new AI model")
	require.NoError(t, err)

	fp := Fingerprint("The new AI model", f1, at)
	assert.Len(t, fp, 64)

	// Same inputs inside the same minute: same fingerprint.
	assert.Equal(t, fp, Fingerprint("The new AI model", f1, at.Add(10*time.Second)))
	// Case and whitespace differences do not matter.
	assert.Equal(t, fp, Fingerprint("  the NEW ai   model ", f1, at))
	// Different minute or different text: different fingerprint.
	assert.NotEqual(t, fp, Fingerprint("The new AI model", f1, at.Add(time.Minute)))
	f2, err := e.Extract("completely different text")
	require.NoError(t, err)
	assert.NotEqual(t, fp, Fingerprint("completely different text", f2, at))
}

// ============================================================================
// Config
// ============================================================================

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	c := DefaultConfig()
	c.CapacityTrigger = 0
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)

	c = DefaultConfig()
	c.ContextWeight = -1
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)

	c = DefaultConfig()
	c.ContextWeight, c.SemanticWeight, c.TemporalWeight = 0, 0, 0
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.yaml")
	content := `
context:
  max_size: 42
cache_ttl: 2m
temporal_weight: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 42, config.Context.MaxSize)
	assert.Equal(t, 2*time.Minute, config.CacheTTL)
	assert.Equal(t, 0.9, config.TemporalWeight)
	// Absent fields keep their defaults.
	assert.Equal(t, 0.8, config.CapacityTrigger)
	assert.Equal(t, 5000, config.Concepts.MaxConcepts)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
