package engram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/engramdb/pkg/concept"
	"github.com/orneryd/engramdb/pkg/snapshot"
	"github.com/orneryd/engramdb/pkg/temporal"
	"github.com/orneryd/engramdb/pkg/working"
)

// Snapshot names under which each layer's export is persisted.
const (
	snapContext  = "context-index"
	snapConcepts = "concept-graph"
	snapTemporal = "temporal-index"
)

// ConsolidateReport summarizes one consolidation pass.
type ConsolidateReport struct {
	ContextRemoved  int `json:"context_removed"`
	ConceptsRemoved int `json:"concepts_removed"`
	EdgesRemoved    int `json:"edges_removed"`
	EventsRemoved   int `json:"events_removed"`
	Batches         int `json:"batches"`

	// CompressionRatio approximates how much of the temporal history now
	// lives in compressed form: compressed entries over the original
	// events they stand for. 0 when nothing has been compressed.
	CompressionRatio float64 `json:"compression_ratio"`

	// SnapshotSaved reports whether the post-pass snapshot persisted.
	// A save failure is logged and does not fail the pass.
	SnapshotSaved bool `json:"snapshot_saved"`

	Duration time.Duration `json:"duration"`
}

// Consolidate runs one consolidation pass over all three layers, clears the
// response cache, and persists a snapshot of each layer if a store is
// configured.
//
// Each layer consolidates under its own lock, so readers are only blocked
// per layer and only briefly. Snapshot persistence failures are recorded in
// the report and logged, not returned; the in-memory state is already
// consolidated at that point.
func (e *Engine) Consolidate(ctx context.Context) (*ConsolidateReport, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	ctxRes := e.contextIdx.Consolidate()
	conceptRes := e.concepts.Consolidate()
	temporalRes := e.temporalIdx.Consolidate()

	// Consolidation changes what queries would return.
	e.respCache.Clear()

	report := &ConsolidateReport{
		ContextRemoved:   ctxRes.Removed,
		ConceptsRemoved:  conceptRes.RemovedConcepts,
		EdgesRemoved:     conceptRes.RemovedEdges,
		EventsRemoved:    temporalRes.RemovedEvents,
		Batches:          temporalRes.CompressedBatches,
		CompressionRatio: e.compressionRatio(),
	}

	if e.store != nil {
		if err := e.persistSnapshots(ctx); err != nil {
			e.stats.snapshotErrors.Add(1)
			e.log.Warn("snapshot persistence failed", zap.Error(err))
		} else {
			report.SnapshotSaved = true
		}
	}

	report.Duration = time.Since(start)
	e.stats.consolidations.Add(1)

	e.log.Info("consolidation complete",
		zap.Int("context_removed", report.ContextRemoved),
		zap.Int("concepts_removed", report.ConceptsRemoved),
		zap.Int("events_removed", report.EventsRemoved),
		zap.Int("batches", report.Batches),
		zap.Duration("duration", report.Duration))

	return report, nil
}

// compressionRatio is compressed entries over the original events they
// replaced. Lower is tighter; 0 means nothing compressed yet.
func (e *Engine) compressionRatio() float64 {
	compressed := e.temporalIdx.Compressed()
	if len(compressed) == 0 {
		return 0
	}
	var originals int
	for _, c := range compressed {
		originals += c.OriginalCount
	}
	if originals == 0 {
		return 0
	}
	return float64(len(compressed)) / float64(originals)
}

// persistSnapshots writes each layer's export to the snapshot store as JSON.
func (e *Engine) persistSnapshots(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	exports := []struct {
		name string
		data any
	}{
		{snapContext, e.contextIdx.Export()},
		{snapConcepts, e.concepts.Export()},
		{snapTemporal, e.temporalIdx.Export()},
	}

	for _, exp := range exports {
		data, err := json.Marshal(exp.data)
		if err != nil {
			return fmt.Errorf("engram: encode snapshot %s: %w", exp.name, err)
		}
		if err := e.store.Save(ctx, exp.name, data); err != nil {
			return fmt.Errorf("engram: save snapshot %s: %w", exp.name, err)
		}
	}
	return nil
}

// LoadSnapshots restores layer state from the snapshot store, replacing the
// current in-memory state of each layer that has a stored snapshot. Layers
// with no stored snapshot are left as they are. Call before Start.
func (e *Engine) LoadSnapshots(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	if e.isClosed() {
		return ErrClosed
	}

	if data, err := e.loadSnapshot(ctx, snapContext); err != nil {
		return err
	} else if data != nil {
		var snap working.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("engram: decode snapshot %s: %w", snapContext, err)
		}
		e.contextIdx.Import(&snap)
	}

	if data, err := e.loadSnapshot(ctx, snapConcepts); err != nil {
		return err
	} else if data != nil {
		var snap concept.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("engram: decode snapshot %s: %w", snapConcepts, err)
		}
		e.concepts.Import(&snap)
	}

	if data, err := e.loadSnapshot(ctx, snapTemporal); err != nil {
		return err
	} else if data != nil {
		var snap temporal.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("engram: decode snapshot %s: %w", snapTemporal, err)
		}
		e.temporalIdx.Import(&snap)
	}

	e.respCache.Clear()

	e.log.Info("snapshots restored",
		zap.Int("context_size", e.contextIdx.Size()),
		zap.Int("concepts", e.concepts.Size()),
		zap.Int("events", e.temporalIdx.Size()))

	return nil
}

// loadSnapshot reads one named snapshot, mapping not-found to nil.
func (e *Engine) loadSnapshot(ctx context.Context, name string) ([]byte, error) {
	data, err := e.store.Load(ctx, name)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("engram: load snapshot %s: %w", name, err)
	}
	return data, nil
}
