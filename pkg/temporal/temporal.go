// Package temporal implements the event timeline index: a time-ordered event
// log with per-group timelines, pairwise temporal relationships, and pattern
// detection.
//
// Every ingested observation becomes an Event carrying a monotonically
// increasing sequence number. Events are bucketed into named timelines
// (a metadata key, or a daily default), related to nearby events in the same
// timeline, and scanned for three kinds of regularity on every insert:
//
//   - recurring: near-constant interval between similar events
//   - sequential: a length-3 concept subsequence recurring later
//   - frequency: recent occurrence rate deviating sharply from history
//
// The index is bounded two ways. A hard capacity evicts the oldest events
// FIFO, and a consolidation pass compresses events older than a configured
// window into CompressedEvent summaries that keep majority concepts, a
// representative timestamp, and the original event ids for traceability.
//
// Usage:
//
//	idx := temporal.NewIndex(temporal.DefaultConfig())
//	ev := idx.Record(features, map[string]string{"timeline": "standup"})
//
//	hits := idx.Search(queryFeatures, temporal.TimeRange{}, temporal.SearchOptions{})
package temporal

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/engramdb/pkg/semantic"
)

// RelationKind classifies the time gap between two events.
type RelationKind string

const (
	RelationConcurrent RelationKind = "concurrent" // under a minute apart
	RelationSequential RelationKind = "sequential" // under five minutes apart
	RelationRelated    RelationKind = "related"    // under an hour apart
	RelationDistant    RelationKind = "distant"
)

// classifyGap maps an absolute time gap to a relation kind.
func classifyGap(gap time.Duration) RelationKind {
	switch {
	case gap < time.Minute:
		return RelationConcurrent
	case gap < 5*time.Minute:
		return RelationSequential
	case gap < time.Hour:
		return RelationRelated
	default:
		return RelationDistant
	}
}

// Config holds temporal index configuration.
type Config struct {
	// MaxEvents bounds the live event log; the oldest event is archived
	// (dropped from the live set) per insert past the bound.
	MaxEvents int

	// TimelineKey is the metadata key that assigns an event to a named
	// timeline. Events without it fall into a daily bucket.
	TimelineKey string

	// RelationWindow is how far around a new event the index looks for
	// related events in the same timeline.
	RelationWindow time.Duration

	// RecentWindow is how many trailing events pattern detection scans.
	RecentWindow int

	// CompressionWindow and CompressionRatio govern consolidation. Events
	// older than the window are grouped into batches of ceil(1/ratio) and
	// replaced by one CompressedEvent per batch.
	CompressionWindow time.Duration
	CompressionRatio  float64

	// PatternRetention and MaxPatterns bound detected pattern history.
	PatternRetention time.Duration
	MaxPatterns      int

	// MinScore is the search score floor; lower-scoring events are dropped.
	MinScore float64
}

// DefaultConfig returns sensible temporal index defaults.
func DefaultConfig() Config {
	return Config{
		MaxEvents:         2000,
		TimelineKey:       "timeline",
		RelationWindow:    time.Hour,
		RecentWindow:      20,
		CompressionWindow: 7 * 24 * time.Hour,
		CompressionRatio:  0.1,
		PatternRetention:  30 * 24 * time.Hour,
		MaxPatterns:       1000,
		MinScore:          0.3,
	}
}

// Relation is a derived link from one event to a nearby one.
type Relation struct {
	EventID  string       `json:"event_id"`
	Kind     RelationKind `json:"kind"`
	Strength float64      `json:"strength"`
}

// Event is one entry in the temporal index.
type Event struct {
	ID        string             `json:"id"`
	Features  *semantic.Features `json:"features"`
	Metadata  map[string]string  `json:"metadata,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Sequence  uint64             `json:"sequence"`
	Timeline  string             `json:"timeline"`
	Relations []Relation         `json:"relations,omitempty"`
}

// CompressedEvent summarizes a contiguous batch of archival events.
//
// It keeps the concepts present in at least half the batch, a mid-batch
// timestamp, and the original event ids so downstream consumers can trace a
// summary back to what it replaced.
type CompressedEvent struct {
	ID            string    `json:"id"`
	Concepts      []string  `json:"concepts"`
	Timestamp     time.Time `json:"timestamp"`
	OriginalIDs   []string  `json:"original_ids"`
	OriginalCount int       `json:"original_count"`
}

// Timeline is a named bucket of events with its timestamp bounds. It is a
// derived structure, rebuilt from events; it is never independently persisted.
type Timeline struct {
	Name     string
	EventIDs []string
	Start    time.Time
	End      time.Time
}

// ScoredEvent is a search hit with its composite score.
type ScoredEvent struct {
	Event *Event
	Score float64
}

// TimeRange bounds a search in time. A zero range means unbounded.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether the range is unbounded.
func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// SearchOptions control a single Search call.
type SearchOptions struct {
	Limit    int
	MinScore float64
}

// ConsolidateResult reports what a consolidation pass did.
type ConsolidateResult struct {
	CompressedBatches int
	RemovedEvents     int
}

// Index is the temporal index. All methods are safe for concurrent use.
type Index struct {
	mu     sync.RWMutex
	config Config

	// events in insertion order; events[0] is the eviction candidate.
	events []*Event
	byID   map[string]*Event

	timelines  map[string]*Timeline
	patterns   []*Pattern
	compressed []*CompressedEvent

	seq      uint64
	archived int64
}

// NewIndex creates a temporal index with the given configuration.
func NewIndex(config Config) *Index {
	def := DefaultConfig()
	if config.MaxEvents <= 0 {
		config.MaxEvents = def.MaxEvents
	}
	if config.TimelineKey == "" {
		config.TimelineKey = def.TimelineKey
	}
	if config.RelationWindow <= 0 {
		config.RelationWindow = def.RelationWindow
	}
	if config.RecentWindow <= 0 {
		config.RecentWindow = def.RecentWindow
	}
	if config.CompressionRatio <= 0 || config.CompressionRatio > 1 {
		config.CompressionRatio = def.CompressionRatio
	}
	if config.CompressionWindow <= 0 {
		config.CompressionWindow = def.CompressionWindow
	}
	if config.PatternRetention <= 0 {
		config.PatternRetention = def.PatternRetention
	}
	if config.MaxPatterns <= 0 {
		config.MaxPatterns = def.MaxPatterns
	}
	if config.MinScore <= 0 {
		config.MinScore = def.MinScore
	}
	return &Index{
		config:    config,
		byID:      make(map[string]*Event),
		timelines: make(map[string]*Timeline),
	}
}

// Record stores a new event at the current time and returns a copy of it.
func (idx *Index) Record(features *semantic.Features, metadata map[string]string) *Event {
	return idx.RecordAt(features, metadata, time.Now())
}

// RecordAt stores a new event with an explicit timestamp.
//
// The event is assigned the next sequence number, bucketed into its timeline,
// related to nearby events in the same timeline, and fed to the pattern
// detectors. If the insert pushes the log past MaxEvents, the oldest event is
// archived.
func (idx *Index) RecordAt(features *semantic.Features, metadata map[string]string, ts time.Time) *Event {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.seq++
	ev := &Event{
		ID:        uuid.NewString(),
		Features:  features,
		Metadata:  copyMetadata(metadata),
		Timestamp: ts,
		Sequence:  idx.seq,
		Timeline:  idx.timelineKeyFor(metadata, ts),
	}

	idx.deriveRelationsLocked(ev)

	idx.events = append(idx.events, ev)
	idx.byID[ev.ID] = ev
	idx.addToTimelineLocked(ev)

	idx.detectPatternsLocked(ev)
	idx.prunePatternsLocked(ts)

	if len(idx.events) > idx.config.MaxEvents {
		oldest := idx.events[0]
		idx.events = idx.events[1:]
		idx.removeEventLocked(oldest)
		idx.archived++
	}

	return copyEvent(ev)
}

// timelineKeyFor derives the timeline bucket name for an event.
func (idx *Index) timelineKeyFor(metadata map[string]string, ts time.Time) string {
	if metadata != nil {
		if name, ok := metadata[idx.config.TimelineKey]; ok && name != "" {
			return name
		}
	}
	return ts.Format("2006-01-02")
}

// deriveRelationsLocked links a new event to events in its timeline within
// the relation window. Strength combines time proximity, content overlap and
// metadata-key overlap, clamped to 1. Caller must hold the lock.
func (idx *Index) deriveRelationsLocked(ev *Event) {
	tl, ok := idx.timelines[ev.Timeline]
	if !ok {
		return
	}

	for _, otherID := range tl.EventIDs {
		other, ok := idx.byID[otherID]
		if !ok {
			continue
		}
		gap := ev.Timestamp.Sub(other.Timestamp)
		if gap < 0 {
			gap = -gap
		}
		if gap > idx.config.RelationWindow {
			continue
		}

		proximity := 1 - float64(gap)/float64(idx.config.RelationWindow)
		strength := proximity +
			0.5*semantic.ContentSimilarity(ev.Features, other.Features) +
			0.3*metadataKeyOverlap(ev.Metadata, other.Metadata)
		if strength > 1 {
			strength = 1
		}

		ev.Relations = append(ev.Relations, Relation{
			EventID:  other.ID,
			Kind:     classifyGap(gap),
			Strength: strength,
		})
	}
}

// addToTimelineLocked inserts an event into its timeline bucket, widening the
// bucket's bounds. Caller must hold the lock.
func (idx *Index) addToTimelineLocked(ev *Event) {
	tl, ok := idx.timelines[ev.Timeline]
	if !ok {
		tl = &Timeline{Name: ev.Timeline, Start: ev.Timestamp, End: ev.Timestamp}
		idx.timelines[ev.Timeline] = tl
	}
	tl.EventIDs = append(tl.EventIDs, ev.ID)
	if ev.Timestamp.Before(tl.Start) {
		tl.Start = ev.Timestamp
	}
	if ev.Timestamp.After(tl.End) {
		tl.End = ev.Timestamp
	}
}

// removeEventLocked drops an event from the id map and its timeline. Empty
// timelines are deleted. Caller must hold the lock; the caller is responsible
// for removing the event from idx.events.
func (idx *Index) removeEventLocked(ev *Event) {
	delete(idx.byID, ev.ID)

	tl, ok := idx.timelines[ev.Timeline]
	if !ok {
		return
	}
	for i, id := range tl.EventIDs {
		if id == ev.ID {
			tl.EventIDs = append(tl.EventIDs[:i], tl.EventIDs[i+1:]...)
			break
		}
	}
	if len(tl.EventIDs) == 0 {
		delete(idx.timelines, ev.Timeline)
	}
}

// Search scores events against the query features and time range.
//
// score = 0.4×contentSimilarity + 0.3×temporalRelevance + 0.3×patternRelevance
//
// Temporal relevance peaks at the midpoint of the query range and falls off
// linearly towards its edges; with an unbounded range every event gets the
// neutral 0.5. Pattern relevance is the best confidence among recurring
// patterns the event participates in. Events below the score floor are
// discarded.
func (idx *Index) Search(query *semantic.Features, timeRange TimeRange, opts SearchOptions) []ScoredEvent {
	if query == nil {
		return nil
	}

	floor := idx.config.MinScore
	if opts.MinScore > 0 {
		floor = opts.MinScore
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var results []ScoredEvent
	for _, ev := range idx.events {
		content := semantic.ContentSimilarity(query, ev.Features)
		temporalRel := temporalRelevance(ev.Timestamp, timeRange)
		patternRel := idx.patternRelevanceLocked(ev.ID)

		score := 0.4*content + 0.3*temporalRel + 0.3*patternRel
		if score < floor {
			continue
		}
		results = append(results, ScoredEvent{Event: copyEvent(ev), Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Event.Sequence > results[j].Event.Sequence
	})

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	return results
}

// temporalRelevance scores closeness to the midpoint of the query range.
func temporalRelevance(ts time.Time, r TimeRange) float64 {
	if r.IsZero() {
		return 0.5
	}
	half := r.End.Sub(r.Start) / 2
	if half <= 0 {
		if ts.Equal(r.Start) {
			return 1
		}
		return 0
	}
	mid := r.Start.Add(half)
	dist := ts.Sub(mid)
	if dist < 0 {
		dist = -dist
	}
	rel := 1 - float64(dist)/float64(half)
	if rel < 0 {
		rel = 0
	}
	return rel
}

// patternRelevanceLocked returns the best recurring-pattern confidence among
// patterns containing the event. Caller must hold the lock.
func (idx *Index) patternRelevanceLocked(eventID string) float64 {
	best := 0.0
	for _, p := range idx.patterns {
		if p.Kind != PatternRecurring || p.Confidence <= best {
			continue
		}
		for _, id := range p.EventIDs {
			if id == eventID {
				best = p.Confidence
				break
			}
		}
	}
	return best
}

// Consolidate compresses events older than the compression window.
//
// Old events are grouped in order into batches of ceil(1/CompressionRatio);
// each batch becomes one CompressedEvent keeping the concepts present in at
// least half the batch, the mid-batch timestamp, and the original id list.
// Events inside the window are untouched, so a second pass with no new
// writes is a no-op.
func (idx *Index) Consolidate() ConsolidateResult {
	cutoff := time.Now().Add(-idx.config.CompressionWindow)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	// Record appends in time order, but RecordAt can backfill an old
	// timestamp behind fresh events, so partition the whole log.
	var old, fresh []*Event
	for _, ev := range idx.events {
		if ev.Timestamp.Before(cutoff) {
			old = append(old, ev)
		} else {
			fresh = append(fresh, ev)
		}
	}
	if len(old) == 0 {
		return ConsolidateResult{}
	}
	sort.Slice(old, func(i, j int) bool {
		return old[i].Timestamp.Before(old[j].Timestamp)
	})

	batchSize := int(math.Ceil(1 / idx.config.CompressionRatio))

	var result ConsolidateResult
	for start := 0; start < len(old); start += batchSize {
		end := start + batchSize
		if end > len(old) {
			end = len(old)
		}
		batch := old[start:end]

		idx.compressed = append(idx.compressed, compressBatch(batch))
		for _, ev := range batch {
			idx.removeEventLocked(ev)
		}
		result.CompressedBatches++
		result.RemovedEvents += len(batch)
	}

	idx.events = fresh
	return result
}

// compressBatch summarizes one batch of events into a CompressedEvent.
func compressBatch(batch []*Event) *CompressedEvent {
	counts := make(map[string]int)
	ids := make([]string, 0, len(batch))
	for _, ev := range batch {
		ids = append(ids, ev.ID)
		seen := make(map[string]struct{})
		for _, c := range ev.Features.Concepts {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			counts[c]++
		}
	}

	// Keep concepts appearing in at least half the batch.
	var concepts []string
	for c, n := range counts {
		if 2*n >= len(batch) {
			concepts = append(concepts, c)
		}
	}
	sort.Strings(concepts)

	return &CompressedEvent{
		ID:            uuid.NewString(),
		Concepts:      concepts,
		Timestamp:     batch[len(batch)/2].Timestamp,
		OriginalIDs:   ids,
		OriginalCount: len(batch),
	}
}

// Size returns the number of live (uncompressed) events.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.events)
}

// MaxSize returns the configured capacity bound.
func (idx *Index) MaxSize() int {
	return idx.config.MaxEvents
}

// Compressed returns a copy of the compressed-event summaries, oldest first.
func (idx *Index) Compressed() []*CompressedEvent {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]*CompressedEvent, 0, len(idx.compressed))
	for _, ce := range idx.compressed {
		cp := *ce
		cp.Concepts = append([]string(nil), ce.Concepts...)
		cp.OriginalIDs = append([]string(nil), ce.OriginalIDs...)
		out = append(out, &cp)
	}
	return out
}

// Timelines returns the current timeline names and their event counts.
func (idx *Index) Timelines() map[string]int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make(map[string]int, len(idx.timelines))
	for name, tl := range idx.timelines {
		out[name] = len(tl.EventIDs)
	}
	return out
}

// metadataKeyOverlap is Jaccard over the key sets of two metadata maps.
func metadataKeyOverlap(a, b map[string]string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// copyEvent returns a copy safe to hand to callers. Features are shared;
// they are immutable by contract.
func copyEvent(ev *Event) *Event {
	cp := *ev
	cp.Metadata = copyMetadata(ev.Metadata)
	cp.Relations = append([]Relation(nil), ev.Relations...)
	return &cp
}
