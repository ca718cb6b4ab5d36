// Package concept implements the concept graph: frequency-tracked concept
// nodes, pairwise co-occurrence edges, and coarse clustering.
//
// Concepts are normalized topic labels handed in by the feature supplier.
// Each ingestion batch registers its concepts, bumps frequencies, and
// increments the co-occurrence weight of every pair in the batch. Heavily
// co-occurring concepts get grouped into bounded clusters that boost search
// scores for neighborhoods rather than single nodes.
//
// Edges are undirected. The weight table is keyed by the lexicographically
// ordered pair, so Weight(a, b) and Weight(b, a) always agree and an edge can
// never be double-counted under different orderings. Adjacency sets on the
// nodes are kept symmetric with the weight table.
//
// Usage:
//
//	g := concept.NewGraph(concept.DefaultConfig())
//	g.Ingest([]string{"ai", "model"}, "I love the new AI model")
//	g.UpdateRelationships([]string{"ai", "model"})
//
//	hits := g.Search([]string{"ai"}, concept.SearchOptions{})
package concept

import (
	"sort"
	"sync"
	"time"
)

// snippetRingSize bounds the recent source snippets kept per concept.
const snippetRingSize = 10

// Config holds concept graph configuration.
type Config struct {
	// MaxConcepts bounds the node count. When exceeded, the lowest-frequency
	// decile is removed along with its edges.
	MaxConcepts int

	// MinSimilarity is the default score floor for Search results.
	MinSimilarity float64

	// ClusterThreshold is the graph size past which MaybeCluster builds
	// clusters.
	ClusterThreshold int

	// MaxClusterSize bounds how many concepts a single cluster holds.
	MaxClusterSize int

	// MaxClusters bounds cluster history; oldest clusters are dropped first.
	MaxClusters int

	// PruneMinFrequency and PruneAge govern consolidation: a concept is
	// removed when its frequency is below PruneMinFrequency AND it was last
	// seen longer than PruneAge ago.
	PruneMinFrequency int64
	PruneAge          time.Duration
}

// DefaultConfig returns sensible concept graph defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcepts:       5000,
		MinSimilarity:     0.3,
		ClusterThreshold:  50,
		MaxClusterSize:    10,
		MaxClusters:       20,
		PruneMinFrequency: 2,
		PruneAge:          7 * 24 * time.Hour,
	}
}

// Concept is one node in the graph.
type Concept struct {
	Name      string    `json:"name"`
	Frequency int64     `json:"frequency"`
	LastSeen  time.Time `json:"last_seen"`

	// Connections is the adjacency set, kept symmetric with the edge table.
	Connections map[string]struct{} `json:"-"`

	// snippets is a ring buffer of recent source texts this concept was
	// extracted from, for explainability.
	snippets   []string
	snippetIdx int
}

// Snippets returns the retained source snippets, oldest first.
func (c *Concept) Snippets() []string {
	out := make([]string, 0, len(c.snippets))
	n := len(c.snippets)
	for i := 0; i < n; i++ {
		s := c.snippets[(c.snippetIdx+i)%n]
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Concept) addSnippet(snippet string) {
	if snippet == "" {
		return
	}
	if len(c.snippets) < snippetRingSize {
		c.snippets = append(c.snippets, snippet)
		return
	}
	c.snippets[c.snippetIdx] = snippet
	c.snippetIdx = (c.snippetIdx + 1) % snippetRingSize
}

// edgeKey is the canonical key for an undirected edge: A < B always.
type edgeKey struct {
	A, B string
}

// newEdgeKey orders the pair lexicographically so both orderings map to the
// same key.
func newEdgeKey(a, b string) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{A: a, B: b}
}

// Cluster is a bounded group of closely co-occurring concepts.
type Cluster struct {
	Concepts []string `json:"concepts"`
	// Strength is the mean pairwise edge weight across the cluster members.
	Strength  float64   `json:"strength"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredConcept is a search hit with its relevance score.
type ScoredConcept struct {
	Name      string
	Frequency int64
	Score     float64
}

// SearchOptions control a single Search call.
type SearchOptions struct {
	Limit         int
	MinSimilarity float64
}

// ConsolidateResult reports what a consolidation pass removed.
type ConsolidateResult struct {
	RemovedConcepts int
	RemovedEdges    int
}

// Graph is the concept graph. All methods are safe for concurrent use.
type Graph struct {
	mu     sync.RWMutex
	config Config

	concepts map[string]*Concept
	edges    map[edgeKey]int
	clusters []*Cluster
}

// NewGraph creates a concept graph with the given configuration.
func NewGraph(config Config) *Graph {
	if config.MaxConcepts <= 0 {
		config.MaxConcepts = DefaultConfig().MaxConcepts
	}
	if config.MaxClusterSize <= 0 {
		config.MaxClusterSize = DefaultConfig().MaxClusterSize
	}
	if config.MaxClusters <= 0 {
		config.MaxClusters = DefaultConfig().MaxClusters
	}
	return &Graph{
		config:   config,
		concepts: make(map[string]*Concept),
		edges:    make(map[edgeKey]int),
	}
}

// Ingest registers or updates the given concepts and returns the list
// processed. Each concept's frequency is incremented once per ingestion it
// appears in, its last-seen time refreshed, and the source snippet recorded.
//
// If the node count exceeds MaxConcepts afterwards, the lowest-frequency
// decile is pruned with edge cascade.
func (g *Graph) Ingest(concepts []string, snippet string) []string {
	if len(concepts) == 0 {
		return nil
	}

	now := time.Now()

	g.mu.Lock()
	processed := make([]string, 0, len(concepts))
	seen := make(map[string]struct{}, len(concepts))
	for _, name := range concepts {
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		c, ok := g.concepts[name]
		if !ok {
			c = &Concept{
				Name:        name,
				Connections: make(map[string]struct{}),
			}
			g.concepts[name] = c
		}
		c.Frequency++
		c.LastSeen = now
		c.addSnippet(snippet)
		processed = append(processed, name)
	}

	if len(g.concepts) > g.config.MaxConcepts {
		g.pruneLowestDecileLocked()
	}
	g.mu.Unlock()

	return processed
}

// UpdateRelationships increments the co-occurrence weight of every pair of
// concepts in one ingestion batch. O(n²) in the batch size, which is expected
// to be small (concepts of a single observation).
//
// Unknown concepts are ignored; call Ingest first.
func (g *Graph) UpdateRelationships(concepts []string) {
	if len(concepts) < 2 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Deduplicate while preserving only concepts the graph knows.
	names := make([]string, 0, len(concepts))
	seen := make(map[string]struct{}, len(concepts))
	for _, name := range concepts {
		if _, dup := seen[name]; dup {
			continue
		}
		if _, ok := g.concepts[name]; !ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			g.edges[newEdgeKey(names[i], names[j])]++
			g.concepts[names[i]].Connections[names[j]] = struct{}{}
			g.concepts[names[j]].Connections[names[i]] = struct{}{}
		}
	}
}

// Weight returns the co-occurrence weight between two concepts. The result
// is the same regardless of argument order.
func (g *Graph) Weight(a, b string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[newEdgeKey(a, b)]
}

// Get returns the frequency and last-seen time of a concept.
func (g *Graph) Get(name string) (frequency int64, lastSeen time.Time, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c, found := g.concepts[name]
	if !found {
		return 0, time.Time{}, false
	}
	return c.Frequency, c.LastSeen, true
}

// Search scores graph concepts against the query concepts.
//
// Scoring per candidate concept:
//   - +1.0 if the candidate exactly matches a query concept
//   - +0.5 for each query concept the candidate is connected to
//   - +0.2 × cluster strength if the candidate shares a cluster with any
//     query concept
//
// Results below the similarity floor are dropped; the rest are ranked by
// score descending.
func (g *Graph) Search(queryConcepts []string, opts SearchOptions) []ScoredConcept {
	if len(queryConcepts) == 0 {
		return nil
	}

	floor := g.config.MinSimilarity
	if opts.MinSimilarity > 0 {
		floor = opts.MinSimilarity
	}

	querySet := make(map[string]struct{}, len(queryConcepts))
	for _, q := range queryConcepts {
		querySet[q] = struct{}{}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var results []ScoredConcept
	for name, c := range g.concepts {
		score := 0.0
		if _, exact := querySet[name]; exact {
			score += 1.0
		}
		for q := range querySet {
			if q == name {
				continue
			}
			if _, connected := c.Connections[q]; connected {
				score += 0.5
			}
		}
		if strength, shared := g.sharedClusterStrengthLocked(name, querySet); shared {
			score += strength * 0.2
		}

		if score < floor {
			continue
		}
		results = append(results, ScoredConcept{
			Name:      name,
			Frequency: c.Frequency,
			Score:     score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Name < results[j].Name
	})

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	return results
}

// sharedClusterStrengthLocked finds the strongest cluster containing both the
// candidate and at least one query concept. Caller must hold the lock.
func (g *Graph) sharedClusterStrengthLocked(name string, querySet map[string]struct{}) (float64, bool) {
	best := 0.0
	found := false
	for _, cl := range g.clusters {
		hasCandidate := false
		hasQuery := false
		for _, member := range cl.Concepts {
			if member == name {
				hasCandidate = true
			}
			if _, q := querySet[member]; q && member != name {
				hasQuery = true
			}
		}
		if hasCandidate && hasQuery && cl.Strength > best {
			best = cl.Strength
			found = true
		}
	}
	return best, found
}

// Consolidate removes concepts whose frequency is below the configured floor
// and which have not been seen within PruneAge, cascading edge removal.
//
// The pass is idempotent: a second call with no intervening writes removes
// nothing further.
func (g *Graph) Consolidate() ConsolidateResult {
	cutoff := time.Now().Add(-g.config.PruneAge)

	g.mu.Lock()
	defer g.mu.Unlock()

	var result ConsolidateResult
	for name, c := range g.concepts {
		if c.Frequency < g.config.PruneMinFrequency && c.LastSeen.Before(cutoff) {
			result.RemovedEdges += g.removeConceptLocked(name)
			result.RemovedConcepts++
		}
	}
	return result
}

// MaybeCluster rebuilds cluster state if the graph has grown past the
// cluster-size threshold. It builds one cluster from the highest-connectivity
// concepts and appends it to a bounded history.
func (g *Graph) MaybeCluster() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.concepts) <= g.config.ClusterThreshold {
		return
	}

	// Rank concepts by degree.
	type degree struct {
		name string
		deg  int
	}
	ranked := make([]degree, 0, len(g.concepts))
	for name, c := range g.concepts {
		if len(c.Connections) == 0 {
			continue
		}
		ranked = append(ranked, degree{name: name, deg: len(c.Connections)})
	}
	if len(ranked) < 2 {
		return
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].deg != ranked[j].deg {
			return ranked[i].deg > ranked[j].deg
		}
		return ranked[i].name < ranked[j].name
	})

	size := g.config.MaxClusterSize
	if size > len(ranked) {
		size = len(ranked)
	}
	members := make([]string, 0, size)
	for i := 0; i < size; i++ {
		members = append(members, ranked[i].name)
	}

	g.clusters = append(g.clusters, &Cluster{
		Concepts:  members,
		Strength:  g.meanPairwiseWeightLocked(members),
		CreatedAt: time.Now(),
	})
	if len(g.clusters) > g.config.MaxClusters {
		g.clusters = g.clusters[len(g.clusters)-g.config.MaxClusters:]
	}
}

// Clusters returns a copy of the current cluster history, oldest first.
func (g *Graph) Clusters() []*Cluster {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Cluster, 0, len(g.clusters))
	for _, cl := range g.clusters {
		cp := *cl
		cp.Concepts = append([]string(nil), cl.Concepts...)
		out = append(out, &cp)
	}
	return out
}

// Size returns the number of concept nodes.
func (g *Graph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.concepts)
}

// MaxSize returns the configured node capacity.
func (g *Graph) MaxSize() int {
	return g.config.MaxConcepts
}

// EdgeCount returns the number of distinct edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// meanPairwiseWeightLocked averages edge weights over all member pairs.
// Caller must hold the lock.
func (g *Graph) meanPairwiseWeightLocked(members []string) float64 {
	if len(members) < 2 {
		return 0
	}
	sum := 0
	pairs := 0
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			sum += g.edges[newEdgeKey(members[i], members[j])]
			pairs++
		}
	}
	return float64(sum) / float64(pairs)
}

// pruneLowestDecileLocked removes the lowest-frequency tenth of the graph.
// Caller must hold the lock.
func (g *Graph) pruneLowestDecileLocked() {
	type freq struct {
		name string
		f    int64
	}
	ranked := make([]freq, 0, len(g.concepts))
	for name, c := range g.concepts {
		ranked = append(ranked, freq{name: name, f: c.Frequency})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].f != ranked[j].f {
			return ranked[i].f < ranked[j].f
		}
		return ranked[i].name < ranked[j].name
	})

	n := len(ranked) / 10
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		g.removeConceptLocked(ranked[i].name)
	}
}

// removeConceptLocked deletes a concept and all its edges, returning the
// number of edges removed. Caller must hold the lock.
func (g *Graph) removeConceptLocked(name string) int {
	c, ok := g.concepts[name]
	if !ok {
		return 0
	}

	removed := 0
	for neighbor := range c.Connections {
		delete(g.edges, newEdgeKey(name, neighbor))
		removed++
		if nc, ok := g.concepts[neighbor]; ok {
			delete(nc.Connections, name)
		}
	}
	delete(g.concepts, name)
	return removed
}
