// Package engram provides the EngramDB memory engine: the orchestrator that
// fans observations out to the three memory layers and fuses their results
// back together at retrieval time.
//
// The engine coordinates:
//   - Context index (pkg/working): recency-bounded working set
//   - Concept graph (pkg/concept): co-occurrence graph with clustering
//   - Temporal index (pkg/temporal): event timeline with pattern detection
//   - Response cache (pkg/cache): fused results keyed by query + time bucket
//   - Snapshot store (pkg/snapshot): periodic persistence of exported state
//
// Ingestion extracts semantic features once, writes all three layers, and
// returns a deterministic content fingerprint. Retrieval queries the layers
// concurrently and fuses their rankings with per-layer weights. A background
// scheduler consolidates each layer and persists snapshots without blocking
// readers or writers for more than a short slice.
//
// Example:
//
//	engine, err := engram.New(nil, semantic.NewNaiveExtractor(), nil, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	receipt, _ := engine.Ingest(ctx, "The new AI model is great", nil)
//	fmt.Println(receipt.Fingerprint)
//
//	res, _ := engine.Retrieve(ctx, "AI model", engram.RetrieveOptions{Limit: 5})
//	for _, r := range res.Results {
//		fmt.Printf("%-8s %.2f %s\n", r.Layer, r.Score, r.Text)
//	}
package engram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/engramdb/pkg/cache"
	"github.com/orneryd/engramdb/pkg/concept"
	"github.com/orneryd/engramdb/pkg/semantic"
	"github.com/orneryd/engramdb/pkg/snapshot"
	"github.com/orneryd/engramdb/pkg/temporal"
	"github.com/orneryd/engramdb/pkg/working"
)

// Errors
var (
	ErrNotInitialized    = errors.New("engram: engine not initialized")
	ErrClosed            = errors.New("engram: engine closed")
	ErrEmptyQuery        = errors.New("engram: empty query")
	ErrFeatureExtraction = errors.New("engram: feature extraction failed")
	ErrInvalidConfig     = errors.New("engram: invalid configuration")
)

// Layer names used in receipts, degradation reports, and status output.
const (
	LayerContext  = "context"
	LayerConcepts = "concepts"
	LayerTemporal = "temporal"
)

// PartialFanoutError reports an ingestion that updated some but not all
// layers before being cut off. The layers that did update are listed; a
// single layer's update is atomic, so this is a recoverable inconsistency,
// not corruption.
type PartialFanoutError struct {
	Layers []string // layers that were updated
	Err    error    // what stopped the fan-out
}

func (e *PartialFanoutError) Error() string {
	return fmt.Sprintf("engram: partial fan-out (updated %v): %v", e.Layers, e.Err)
}

func (e *PartialFanoutError) Unwrap() error { return e.Err }

// metrics holds engine counters, updated with atomics so hot paths never
// contend on a metrics lock.
type metrics struct {
	ingests        atomic.Int64
	retrievals     atomic.Int64
	cacheHits      atomic.Int64
	consolidations atomic.Int64
	snapshotErrors atomic.Int64
	degradedReads  atomic.Int64
}

// Engine is the EngramDB memory engine.
//
// All methods are safe for concurrent use. Each layer serializes its own
// writers internally; the engine adds no global lock around layer operations,
// so a retrieval never waits on an unrelated layer's write.
type Engine struct {
	config    *Config
	log       *zap.Logger
	extractor semantic.Extractor
	store     snapshot.Store // nil = no persistence

	contextIdx  *working.Index
	concepts    *concept.Graph
	temporalIdx *temporal.Index
	respCache   *cache.ResultCache

	stats metrics

	mu     sync.Mutex
	closed bool

	// Background consolidation scheduler.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWg     sync.WaitGroup
	trigger  chan struct{}
}

// New creates a memory engine.
//
// config may be nil (defaults are used). extractor is required. store may be
// nil, disabling snapshot persistence. logger may be nil, disabling logging.
// Call Start to launch the background consolidation scheduler and Close to
// shut the engine down.
func New(config *Config, extractor semantic.Extractor, store snapshot.Store, logger *zap.Logger) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if extractor == nil {
		return nil, fmt.Errorf("%w: extractor required", ErrNotInitialized)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())

	return &Engine{
		config:      config,
		log:         logger,
		extractor:   extractor,
		store:       store,
		contextIdx:  working.NewIndex(config.Context),
		concepts:    concept.NewGraph(config.Concepts),
		temporalIdx: temporal.NewIndex(config.Temporal),
		respCache:   cache.NewResultCache(config.CacheSize, config.CacheTTL),
		bgCtx:       bgCtx,
		bgCancel:    bgCancel,
		trigger:     make(chan struct{}, 1),
	}, nil
}

// Start launches the background consolidation scheduler. It is a no-op when
// ConsolidateInterval is zero.
func (e *Engine) Start() {
	if e.config.ConsolidateInterval <= 0 {
		return
	}

	e.bgWg.Add(1)
	go func() {
		defer e.bgWg.Done()

		ticker := time.NewTicker(e.config.ConsolidateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-e.bgCtx.Done():
				return
			case <-ticker.C:
			case <-e.trigger:
			}

			if _, err := e.Consolidate(e.bgCtx); err != nil {
				// Logged and retried on the next tick; consolidation
				// failures never crash the engine.
				e.log.Warn("consolidation failed", zap.Error(err))
			}
		}
	}()
}

// Close stops the background scheduler, persists a final snapshot if a store
// is configured, and marks the engine closed. Close is idempotent. The
// snapshot store itself is owned by the caller and is not closed here.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.bgCancel()
	e.bgWg.Wait()

	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.persistSnapshots(ctx); err != nil {
			e.log.Warn("final snapshot failed", zap.Error(err))
			return err
		}
	}
	return nil
}

// isClosed reports whether Close has been called.
func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// requestConsolidation nudges the scheduler without blocking the caller.
func (e *Engine) requestConsolidation() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// LayerStatus describes one memory layer's occupancy.
type LayerStatus struct {
	Size        int     `json:"size"`
	Capacity    int     `json:"capacity"`
	Utilization float64 `json:"utilization"`
}

// Status is a point-in-time view of the engine and its layers.
type Status struct {
	Layers map[string]LayerStatus `json:"layers"`

	ConceptEdges int `json:"concept_edges"`
	Patterns     int `json:"patterns"`
	Compressed   int `json:"compressed_events"`

	Ingests        int64 `json:"ingests"`
	Retrievals     int64 `json:"retrievals"`
	Consolidations int64 `json:"consolidations"`
	DegradedReads  int64 `json:"degraded_reads"`

	Cache cache.Stats `json:"cache"`
}

// Status reports per-layer occupancy and engine counters.
func (e *Engine) Status() Status {
	return Status{
		Layers: map[string]LayerStatus{
			LayerContext:  layerStatus(e.contextIdx.Size(), e.contextIdx.MaxSize()),
			LayerConcepts: layerStatus(e.concepts.Size(), e.concepts.MaxSize()),
			LayerTemporal: layerStatus(e.temporalIdx.Size(), e.temporalIdx.MaxSize()),
		},
		ConceptEdges:   e.concepts.EdgeCount(),
		Patterns:       len(e.temporalIdx.Patterns()),
		Compressed:     len(e.temporalIdx.Compressed()),
		Ingests:        e.stats.ingests.Load(),
		Retrievals:     e.stats.retrievals.Load(),
		Consolidations: e.stats.consolidations.Load(),
		DegradedReads:  e.stats.degradedReads.Load(),
		Cache:          e.respCache.Stats(),
	}
}

func layerStatus(size, capacity int) LayerStatus {
	var util float64
	if capacity > 0 {
		util = float64(size) / float64(capacity)
	}
	return LayerStatus{Size: size, Capacity: capacity, Utilization: util}
}

// atCapacityTrigger reports whether any layer's utilization has reached the
// configured trigger fraction.
func (e *Engine) atCapacityTrigger() bool {
	trigger := e.config.CapacityTrigger
	return float64(e.contextIdx.Size()) >= trigger*float64(e.contextIdx.MaxSize()) ||
		float64(e.concepts.Size()) >= trigger*float64(e.concepts.MaxSize()) ||
		float64(e.temporalIdx.Size()) >= trigger*float64(e.temporalIdx.MaxSize())
}
