// Package working implements the context index: a FIFO-bounded store of
// recent observations with recency and overlap scoring.
//
// The context index is the short-term layer of EngramDB. Every ingested
// observation lands here first and stays until either the capacity bound
// pushes it out (strict FIFO, one eviction per insert) or a consolidation
// pass removes it for never having been read.
//
// Features:
//   - Strict FIFO eviction bounded by Config.MaxSize
//   - Similarity search over keyword and concept overlap
//   - Access tracking: every hit bumps the observation's access counter
//   - Consolidation that only ever removes never-accessed, aged-out entries
//   - Export/Import for snapshotting
//
// Usage:
//
//	idx := working.NewIndex(working.DefaultConfig())
//	obs := idx.Add(features, "raw text", map[string]string{"source": "chat"})
//
//	hits := idx.Search(queryFeatures, working.SearchOptions{Limit: 10})
//	for _, h := range hits {
//		fmt.Printf("%.2f %s\n", h.Score, h.Observation.Text)
//	}
package working

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/engramdb/pkg/semantic"
)

// Config holds context index configuration.
type Config struct {
	// MaxSize bounds the number of retained observations. When an insert
	// pushes the index past MaxSize, the single oldest entry is evicted.
	MaxSize int

	// MinSimilarity is the default score floor for Search results.
	MinSimilarity float64

	// RetentionWindow is how long a never-accessed observation survives
	// before Consolidate may remove it. Accessed observations are never
	// removed by consolidation regardless of age.
	RetentionWindow time.Duration
}

// DefaultConfig returns sensible context index defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:         1000,
		MinSimilarity:   0.1,
		RetentionWindow: 24 * time.Hour,
	}
}

// Observation is one entry in the context index.
//
// The index owns its observations. Search returns copies; callers never see
// (or mutate) the stored instance.
type Observation struct {
	ID           string             `json:"id"`
	Text         string             `json:"text"`
	Features     *semantic.Features `json:"features"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	AccessCount  int64              `json:"access_count"`
	LastAccessed time.Time          `json:"last_accessed"`
}

// ScoredObservation is a search hit with its relevance score.
type ScoredObservation struct {
	Observation *Observation
	Score       float64
}

// SearchOptions control a single Search call.
type SearchOptions struct {
	// Limit caps the number of results. Zero means no cap.
	Limit int

	// MinSimilarity overrides the configured floor when > 0.
	MinSimilarity float64
}

// ConsolidateResult reports what a consolidation pass removed.
type ConsolidateResult struct {
	Removed int
}

// Index is the FIFO-bounded context index.
//
// All methods are safe for concurrent use. Writers are serialized; reads may
// proceed concurrently with other reads.
type Index struct {
	mu     sync.RWMutex
	config Config

	// order holds observation IDs in insertion order; order[0] is the
	// eviction candidate.
	order []string
	items map[string]*Observation

	evictions int64
}

// NewIndex creates a context index with the given configuration.
// Zero or negative MaxSize falls back to the default.
func NewIndex(config Config) *Index {
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultConfig().MaxSize
	}
	if config.RetentionWindow <= 0 {
		config.RetentionWindow = DefaultConfig().RetentionWindow
	}
	return &Index{
		config: config,
		items:  make(map[string]*Observation, config.MaxSize),
	}
}

// Add stores a new observation and returns a copy of it.
//
// If the insert pushes the index past MaxSize, the oldest entry is evicted.
// Capacity is enforced by eviction, never by rejection.
func (idx *Index) Add(features *semantic.Features, text string, metadata map[string]string) *Observation {
	now := time.Now()
	obs := &Observation{
		ID:        uuid.NewString(),
		Text:      text,
		Features:  features,
		Metadata:  metadata,
		CreatedAt: now,
	}

	idx.mu.Lock()
	idx.items[obs.ID] = obs
	idx.order = append(idx.order, obs.ID)

	if len(idx.order) > idx.config.MaxSize {
		oldest := idx.order[0]
		idx.order = idx.order[1:]
		delete(idx.items, oldest)
		idx.evictions++
	}
	idx.mu.Unlock()

	return copyObservation(obs)
}

// Search returns observations whose similarity to the query features is at or
// above the floor, ranked by score descending with ties broken by more recent
// creation time.
//
// Each returned observation has its access counter incremented and its
// last-access time updated; recency of use is what consolidation looks at.
func (idx *Index) Search(query *semantic.Features, opts SearchOptions) []ScoredObservation {
	if query == nil {
		return nil
	}

	floor := idx.config.MinSimilarity
	if opts.MinSimilarity > 0 {
		floor = opts.MinSimilarity
	}

	now := time.Now()

	idx.mu.Lock()
	var results []ScoredObservation
	for _, obs := range idx.items {
		score := semantic.ContentSimilarity(query, obs.Features)
		if score < floor {
			continue
		}
		obs.AccessCount++
		obs.LastAccessed = now
		results = append(results, ScoredObservation{
			Observation: copyObservation(obs),
			Score:       score,
		})
	}
	idx.mu.Unlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Observation.CreatedAt.After(results[j].Observation.CreatedAt)
	})

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	return results
}

// Get returns a copy of the observation with the given ID, if present.
// Unlike Search, Get does not count as an access.
func (idx *Index) Get(id string) (*Observation, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	obs, ok := idx.items[id]
	if !ok {
		return nil, false
	}
	return copyObservation(obs), true
}

// Consolidate removes observations that have never been accessed and are
// older than the retention window. Entries that have been read at least once
// survive regardless of age.
//
// Calling Consolidate twice with no intervening writes removes nothing the
// second time.
func (idx *Index) Consolidate() ConsolidateResult {
	cutoff := time.Now().Add(-idx.config.RetentionWindow)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	removed := 0
	kept := idx.order[:0]
	for _, id := range idx.order {
		obs := idx.items[id]
		if obs.AccessCount == 0 && obs.CreatedAt.Before(cutoff) {
			delete(idx.items, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	idx.order = kept

	return ConsolidateResult{Removed: removed}
}

// Size returns the number of stored observations.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.order)
}

// MaxSize returns the configured capacity bound.
func (idx *Index) MaxSize() int {
	return idx.config.MaxSize
}

// Evictions returns the total number of capacity evictions so far.
func (idx *Index) Evictions() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.evictions
}

// Snapshot is the serializable exported state of a context index.
type Snapshot struct {
	// Observations in FIFO order; index 0 is the oldest.
	Observations []*Observation `json:"observations"`
	Evictions    int64          `json:"evictions"`
}

// Export returns the full index state in insertion order.
func (idx *Index) Export() *Snapshot {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	snap := &Snapshot{
		Observations: make([]*Observation, 0, len(idx.order)),
		Evictions:    idx.evictions,
	}
	for _, id := range idx.order {
		snap.Observations = append(snap.Observations, copyObservation(idx.items[id]))
	}
	return snap
}

// Import replaces the index contents with a previously exported snapshot.
// Entries beyond MaxSize are dropped oldest-first, preserving the FIFO bound.
func (idx *Index) Import(snap *Snapshot) {
	if snap == nil {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.items = make(map[string]*Observation, len(snap.Observations))
	idx.order = idx.order[:0]

	obs := snap.Observations
	if len(obs) > idx.config.MaxSize {
		obs = obs[len(obs)-idx.config.MaxSize:]
	}
	for _, o := range obs {
		stored := copyObservation(o)
		idx.items[stored.ID] = stored
		idx.order = append(idx.order, stored.ID)
	}
	idx.evictions = snap.Evictions
}

// copyObservation returns a shallow copy with its own metadata map.
// Features are shared; they are immutable by contract.
func copyObservation(obs *Observation) *Observation {
	cp := *obs
	if obs.Metadata != nil {
		cp.Metadata = make(map[string]string, len(obs.Metadata))
		for k, v := range obs.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
