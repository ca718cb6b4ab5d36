package temporal

// Snapshot is the serializable exported state of a temporal index.
// Timelines are derived and are rebuilt from the event list on Import.
type Snapshot struct {
	Events     []*Event           `json:"events"`
	Compressed []*CompressedEvent `json:"compressed,omitempty"`
	Patterns   []*Pattern         `json:"patterns,omitempty"`
	Sequence   uint64             `json:"sequence"`
	Archived   int64              `json:"archived"`
}

// Export returns the full index state with events in insertion order.
func (idx *Index) Export() *Snapshot {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	snap := &Snapshot{
		Events:   make([]*Event, 0, len(idx.events)),
		Sequence: idx.seq,
		Archived: idx.archived,
	}
	for _, ev := range idx.events {
		snap.Events = append(snap.Events, copyEvent(ev))
	}
	for _, ce := range idx.compressed {
		cp := *ce
		cp.Concepts = append([]string(nil), ce.Concepts...)
		cp.OriginalIDs = append([]string(nil), ce.OriginalIDs...)
		snap.Compressed = append(snap.Compressed, &cp)
	}
	for _, p := range idx.patterns {
		cp := *p
		cp.EventIDs = append([]string(nil), p.EventIDs...)
		snap.Patterns = append(snap.Patterns, &cp)
	}
	return snap
}

// Import replaces the index contents with a previously exported snapshot,
// rebuilding timeline membership from the event list. Events beyond MaxEvents
// are dropped oldest-first.
func (idx *Index) Import(snap *Snapshot) {
	if snap == nil {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.events = nil
	idx.byID = make(map[string]*Event, len(snap.Events))
	idx.timelines = make(map[string]*Timeline)
	idx.compressed = nil
	idx.patterns = nil

	events := snap.Events
	if len(events) > idx.config.MaxEvents {
		events = events[len(events)-idx.config.MaxEvents:]
	}
	for _, ev := range events {
		stored := copyEvent(ev)
		idx.events = append(idx.events, stored)
		idx.byID[stored.ID] = stored
		idx.addToTimelineLocked(stored)
	}

	for _, ce := range snap.Compressed {
		cp := *ce
		cp.Concepts = append([]string(nil), ce.Concepts...)
		cp.OriginalIDs = append([]string(nil), ce.OriginalIDs...)
		idx.compressed = append(idx.compressed, &cp)
	}
	for _, p := range snap.Patterns {
		cp := *p
		cp.EventIDs = append([]string(nil), p.EventIDs...)
		idx.patterns = append(idx.patterns, &cp)
	}

	idx.seq = snap.Sequence
	idx.archived = snap.Archived
}
