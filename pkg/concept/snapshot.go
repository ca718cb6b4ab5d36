package concept

import (
	"sort"
	"time"
)

// Snapshot is the serializable exported state of a concept graph.
type Snapshot struct {
	Concepts []ConceptState `json:"concepts"`
	Edges    []EdgeState    `json:"edges"`
	Clusters []*Cluster     `json:"clusters,omitempty"`
}

// ConceptState is the flat serialized form of one concept node.
// Adjacency is not serialized; it is rebuilt from the edge list on Import.
type ConceptState struct {
	Name      string    `json:"name"`
	Frequency int64     `json:"frequency"`
	LastSeen  time.Time `json:"last_seen"`
	Snippets  []string  `json:"snippets,omitempty"`
}

// EdgeState is one serialized edge with its canonical ordering (A < B).
type EdgeState struct {
	A      string `json:"a"`
	B      string `json:"b"`
	Weight int    `json:"weight"`
}

// Export returns the full graph state. Concepts and edges are sorted so the
// output is deterministic for a given graph.
func (g *Graph) Export() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := &Snapshot{
		Concepts: make([]ConceptState, 0, len(g.concepts)),
		Edges:    make([]EdgeState, 0, len(g.edges)),
	}

	for _, c := range g.concepts {
		snap.Concepts = append(snap.Concepts, ConceptState{
			Name:      c.Name,
			Frequency: c.Frequency,
			LastSeen:  c.LastSeen,
			Snippets:  c.Snippets(),
		})
	}
	sort.Slice(snap.Concepts, func(i, j int) bool {
		return snap.Concepts[i].Name < snap.Concepts[j].Name
	})

	for key, weight := range g.edges {
		snap.Edges = append(snap.Edges, EdgeState{A: key.A, B: key.B, Weight: weight})
	}
	sort.Slice(snap.Edges, func(i, j int) bool {
		if snap.Edges[i].A != snap.Edges[j].A {
			return snap.Edges[i].A < snap.Edges[j].A
		}
		return snap.Edges[i].B < snap.Edges[j].B
	})

	for _, cl := range g.clusters {
		cp := *cl
		cp.Concepts = append([]string(nil), cl.Concepts...)
		snap.Clusters = append(snap.Clusters, &cp)
	}

	return snap
}

// Import replaces the graph contents with a previously exported snapshot.
// Edge keys are re-canonicalized and adjacency sets rebuilt, so a snapshot
// produced by an older writer with loose edge ordering still imports cleanly.
func (g *Graph) Import(snap *Snapshot) {
	if snap == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.concepts = make(map[string]*Concept, len(snap.Concepts))
	g.edges = make(map[edgeKey]int, len(snap.Edges))
	g.clusters = nil

	for _, cs := range snap.Concepts {
		c := &Concept{
			Name:        cs.Name,
			Frequency:   cs.Frequency,
			LastSeen:    cs.LastSeen,
			Connections: make(map[string]struct{}),
		}
		for _, s := range cs.Snippets {
			c.addSnippet(s)
		}
		g.concepts[cs.Name] = c
	}

	for _, es := range snap.Edges {
		a, ok := g.concepts[es.A]
		if !ok {
			continue
		}
		b, ok := g.concepts[es.B]
		if !ok {
			continue
		}
		g.edges[newEdgeKey(es.A, es.B)] += es.Weight
		a.Connections[es.B] = struct{}{}
		b.Connections[es.A] = struct{}{}
	}

	for _, cl := range snap.Clusters {
		cp := *cl
		cp.Concepts = append([]string(nil), cl.Concepts...)
		g.clusters = append(g.clusters, &cp)
	}
}
