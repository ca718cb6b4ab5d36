package temporal

import (
	"fmt"
	"testing"
	"time"

	"github.com/orneryd/engramdb/pkg/semantic"
)

// feats builds features where keywords and concepts are the same word set.
func feats(words ...string) *semantic.Features {
	f := &semantic.Features{
		Tokens:   words,
		Concepts: words,
	}
	for _, w := range words {
		f.Keywords = append(f.Keywords, semantic.Keyword{Word: w, Freq: 1})
	}
	return f
}

func TestClassifyGap(t *testing.T) {
	cases := []struct {
		gap  time.Duration
		want RelationKind
	}{
		{30 * time.Second, RelationConcurrent},
		{time.Minute, RelationSequential},
		{4 * time.Minute, RelationSequential},
		{30 * time.Minute, RelationRelated},
		{2 * time.Hour, RelationDistant},
	}
	for _, tc := range cases {
		if got := classifyGap(tc.gap); got != tc.want {
			t.Errorf("classifyGap(%v) = %v, want %v", tc.gap, got, tc.want)
		}
	}
}

func TestIndex_Record(t *testing.T) {
	idx := NewIndex(DefaultConfig())

	first := idx.Record(feats("standup"), map[string]string{"timeline": "work"})
	second := idx.Record(feats("standup"), nil)

	if first.Sequence != 1 || second.Sequence != 2 {
		t.Errorf("sequences = %d, %d; want 1, 2", first.Sequence, second.Sequence)
	}
	if first.Timeline != "work" {
		t.Errorf("Timeline = %q, want metadata-assigned \"work\"", first.Timeline)
	}
	// Without the timeline key, events fall into a daily bucket.
	if second.Timeline != time.Now().Format("2006-01-02") {
		t.Errorf("Timeline = %q, want daily bucket", second.Timeline)
	}
	if idx.Size() != 2 {
		t.Errorf("Size = %d, want 2", idx.Size())
	}

	counts := idx.Timelines()
	if counts["work"] != 1 {
		t.Errorf("work timeline count = %d, want 1", counts["work"])
	}
}

func TestIndex_FIFOArchive(t *testing.T) {
	config := DefaultConfig()
	config.MaxEvents = 2
	idx := NewIndex(config)

	a := idx.Record(feats("a"), nil)
	idx.Record(feats("b"), nil)
	idx.Record(feats("c"), nil)

	if idx.Size() != 2 {
		t.Errorf("Size = %d, want 2", idx.Size())
	}
	// The oldest event is gone from the live set and its timeline.
	for _, ev := range idx.Export().Events {
		if ev.ID == a.ID {
			t.Error("oldest event should have been archived")
		}
	}
	if idx.Export().Archived != 1 {
		t.Errorf("Archived = %d, want 1", idx.Export().Archived)
	}
}

func TestIndex_Relations(t *testing.T) {
	idx := NewIndex(DefaultConfig())
	base := time.Now().Add(-time.Hour)

	meta := map[string]string{"timeline": "ops", "source": "chat"}
	idx.RecordAt(feats("deploy", "release"), meta, base)
	ev := idx.RecordAt(feats("deploy", "release"), meta, base.Add(30*time.Second))

	if len(ev.Relations) != 1 {
		t.Fatalf("got %d relations, want 1", len(ev.Relations))
	}
	rel := ev.Relations[0]
	if rel.Kind != RelationConcurrent {
		t.Errorf("Kind = %v, want concurrent for a 30s gap", rel.Kind)
	}
	// Proximity ~1 plus content and metadata bonuses, clamped to 1.
	if rel.Strength != 1.0 {
		t.Errorf("Strength = %v, want clamped 1.0", rel.Strength)
	}
}

func TestIndex_Relations_DifferentTimelines(t *testing.T) {
	idx := NewIndex(DefaultConfig())
	base := time.Now()

	idx.RecordAt(feats("deploy"), map[string]string{"timeline": "ops"}, base)
	ev := idx.RecordAt(feats("deploy"), map[string]string{"timeline": "dev"}, base.Add(time.Second))

	if len(ev.Relations) != 0 {
		t.Errorf("got %d relations across timelines, want 0", len(ev.Relations))
	}
}

func TestIndex_Search(t *testing.T) {
	idx := NewIndex(DefaultConfig())
	idx.Record(feats("ai", "model"), nil)
	idx.Record(feats("weather", "rain"), nil)

	results := idx.Search(feats("ai", "model"), TimeRange{}, SearchOptions{})
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (unrelated event below floor)", len(results))
	}
	// Full content match, neutral temporal relevance, no patterns:
	// 0.4*1.0 + 0.3*0.5 + 0.3*0 = 0.55.
	if diff := results[0].Score - 0.55; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("Score = %v, want 0.55", results[0].Score)
	}
}

func TestIndex_Search_TimeRange(t *testing.T) {
	idx := NewIndex(DefaultConfig())
	base := time.Now().Add(-2 * time.Hour)

	mid := idx.RecordAt(feats("ai"), nil, base.Add(30*time.Minute))
	idx.RecordAt(feats("ai"), nil, base.Add(55*time.Minute))

	r := TimeRange{Start: base, End: base.Add(time.Hour)}
	results := idx.Search(feats("ai"), r, SearchOptions{})
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// The event at the range midpoint outranks the one near the edge.
	if results[0].Event.ID != mid.ID {
		t.Error("midpoint event should rank first")
	}
}

func TestTemporalRelevance(t *testing.T) {
	start := time.Now()
	r := TimeRange{Start: start, End: start.Add(time.Hour)}

	if got := temporalRelevance(start.Add(30*time.Minute), r); got != 1.0 {
		t.Errorf("midpoint relevance = %v, want 1.0", got)
	}
	if got := temporalRelevance(start, r); got != 0.0 {
		t.Errorf("edge relevance = %v, want 0.0", got)
	}
	if got := temporalRelevance(start.Add(3*time.Hour), r); got != 0.0 {
		t.Errorf("outside relevance = %v, want 0.0", got)
	}
	if got := temporalRelevance(start, TimeRange{}); got != 0.5 {
		t.Errorf("unbounded relevance = %v, want neutral 0.5", got)
	}
}

// ============================================================================
// Pattern detection
// ============================================================================

func TestIndex_RecurringPattern(t *testing.T) {
	idx := NewIndex(DefaultConfig())
	base := time.Now().Add(-6 * time.Hour)

	// Five similar events at an exactly constant interval.
	for i := 0; i < 5; i++ {
		idx.RecordAt(feats("standup", "team"), map[string]string{"timeline": "work"}, base.Add(time.Duration(i)*time.Hour))
	}

	var recurring *Pattern
	for _, p := range idx.Patterns() {
		if p.Kind == PatternRecurring {
			recurring = p
		}
	}
	if recurring == nil {
		t.Fatal("constant-interval events should yield a recurring pattern")
	}
	// Zero interval variance means full confidence.
	if recurring.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", recurring.Confidence)
	}
	if len(recurring.EventIDs) < 3 {
		t.Errorf("pattern spans %d events, want at least 3", len(recurring.EventIDs))
	}

	// Repeated detections update one pattern, not many.
	count := 0
	for _, p := range idx.Patterns() {
		if p.Kind == PatternRecurring && p.Signature == recurring.Signature {
			count++
		}
	}
	if count != 1 {
		t.Errorf("found %d patterns for one signature, want 1", count)
	}
}

func TestIndex_RecurringPattern_IrregularSpacing(t *testing.T) {
	idx := NewIndex(DefaultConfig())
	base := time.Now().Add(-24 * time.Hour)

	// Same content, wildly uneven gaps: no regularity to report.
	offsets := []time.Duration{0, time.Hour, 90 * time.Minute, 4 * time.Hour, 10 * time.Hour}
	for _, off := range offsets {
		idx.RecordAt(feats("standup", "team"), map[string]string{"timeline": "work"}, base.Add(off))
	}

	for _, p := range idx.Patterns() {
		if p.Kind == PatternRecurring {
			t.Fatalf("irregular spacing yielded a recurring pattern with confidence %v", p.Confidence)
		}
	}
}

func TestIndex_SequentialPattern(t *testing.T) {
	idx := NewIndex(DefaultConfig())
	base := time.Now().Add(-time.Hour)

	// The subsequence build -> test -> deploy occurring twice.
	steps := []string{"build", "test", "deploy", "build", "test", "deploy"}
	for i, step := range steps {
		idx.RecordAt(feats(step), map[string]string{"timeline": "ci"}, base.Add(time.Duration(i)*time.Minute))
	}

	var sequential *Pattern
	for _, p := range idx.Patterns() {
		if p.Kind == PatternSequential {
			sequential = p
		}
	}
	if sequential == nil {
		t.Fatal("repeated subsequence should yield a sequential pattern")
	}
	if sequential.Confidence <= 0.7 {
		t.Errorf("Confidence = %v, want > 0.7", sequential.Confidence)
	}
	if len(sequential.EventIDs) != 6 {
		t.Errorf("pattern spans %d events, want 6 (both windows)", len(sequential.EventIDs))
	}
}

func TestIndex_FrequencyPattern_Spike(t *testing.T) {
	idx := NewIndex(DefaultConfig())
	now := time.Now()

	// Sparse history, then a burst inside the last day.
	idx.RecordAt(feats("alerts"), nil, now.Add(-240*time.Hour))
	idx.RecordAt(feats("alerts"), nil, now.Add(-150*time.Hour))
	for i := 0; i < 10; i++ {
		idx.RecordAt(feats("alerts"), nil, now.Add(-time.Duration(60-i*3)*time.Minute))
	}

	var freq *Pattern
	for _, p := range idx.Patterns() {
		if p.Kind == PatternFrequency {
			freq = p
		}
	}
	if freq == nil {
		t.Fatal("rate spike should yield a frequency pattern")
	}
	if freq.Confidence <= 0.5 {
		t.Errorf("Confidence = %v, want > 0.5 for a sharp spike", freq.Confidence)
	}
}

func TestIndex_FrequencyPattern_NeedsHistory(t *testing.T) {
	idx := NewIndex(DefaultConfig())
	now := time.Now()

	// All inside two days: not enough baseline to call anything anomalous.
	for i := 0; i < 10; i++ {
		idx.RecordAt(feats("alerts"), nil, now.Add(-time.Duration(9-i)*time.Hour))
	}

	for _, p := range idx.Patterns() {
		if p.Kind == PatternFrequency {
			t.Fatal("short history should not yield a frequency pattern")
		}
	}
}

// ============================================================================
// Consolidation
// ============================================================================

func TestIndex_Consolidate(t *testing.T) {
	config := DefaultConfig()
	config.CompressionWindow = 7 * 24 * time.Hour
	config.CompressionRatio = 0.1
	idx := NewIndex(config)

	// Twenty stale events, half about deploys, all about ops.
	base := time.Now().Add(-8 * 24 * time.Hour)
	for i := 0; i < 20; i++ {
		f := feats("ops")
		if i%2 == 0 {
			f = feats("ops", "deploy")
		}
		idx.RecordAt(f, nil, base.Add(time.Duration(i)*time.Minute))
	}
	fresh := idx.Record(feats("ops"), nil)

	res := idx.Consolidate()
	if res.CompressedBatches != 2 {
		t.Errorf("CompressedBatches = %d, want 2 (batch size ceil(1/0.1))", res.CompressedBatches)
	}
	if res.RemovedEvents != 20 {
		t.Errorf("RemovedEvents = %d, want 20", res.RemovedEvents)
	}
	if idx.Size() != 1 {
		t.Errorf("Size = %d, want 1 (fresh event untouched)", idx.Size())
	}

	compressed := idx.Compressed()
	if len(compressed) != 2 {
		t.Fatalf("got %d compressed events, want 2", len(compressed))
	}
	total := 0
	for _, ce := range compressed {
		total += ce.OriginalCount
		if len(ce.OriginalIDs) != ce.OriginalCount {
			t.Errorf("OriginalIDs length %d != OriginalCount %d", len(ce.OriginalIDs), ce.OriginalCount)
		}
		// Majority concepts survive; ops is in every event, deploy in half.
		if len(ce.Concepts) != 2 || ce.Concepts[0] != "deploy" || ce.Concepts[1] != "ops" {
			t.Errorf("Concepts = %v, want [deploy ops]", ce.Concepts)
		}
	}
	if total != 20 {
		t.Errorf("compressed originals total %d, want 20", total)
	}

	// Live state still reachable; a second pass is a no-op.
	if _, ok := idx.byID[fresh.ID]; !ok {
		t.Error("fresh event should remain live")
	}
	if res := idx.Consolidate(); res.RemovedEvents != 0 {
		t.Errorf("second pass removed %d events, want 0", res.RemovedEvents)
	}
}

func TestIndex_Consolidate_BackfilledEvents(t *testing.T) {
	config := DefaultConfig()
	config.CompressionWindow = 7 * 24 * time.Hour
	idx := NewIndex(config)

	// A stale event recorded after a fresh one sits behind it in the log.
	fresh := idx.Record(feats("ops"), nil)
	old := idx.RecordAt(feats("ops", "deploy"), nil, time.Now().Add(-8*24*time.Hour))

	res := idx.Consolidate()
	if res.RemovedEvents != 1 {
		t.Errorf("RemovedEvents = %d, want 1 (backfilled event compressed)", res.RemovedEvents)
	}
	if idx.Size() != 1 {
		t.Errorf("Size = %d, want 1", idx.Size())
	}
	if _, ok := idx.byID[old.ID]; ok {
		t.Error("backfilled stale event should be compressed away")
	}
	if _, ok := idx.byID[fresh.ID]; !ok {
		t.Error("fresh event should remain live")
	}
}

func TestIndex_ExportImport(t *testing.T) {
	idx := NewIndex(DefaultConfig())
	idx.Record(feats("ai", "model"), map[string]string{"timeline": "ml"})
	idx.Record(feats("ai"), map[string]string{"timeline": "ml"})

	snap := idx.Export()
	if len(snap.Events) != 2 {
		t.Fatalf("exported %d events, want 2", len(snap.Events))
	}
	if snap.Sequence != 2 {
		t.Errorf("Sequence = %d, want 2", snap.Sequence)
	}

	restored := NewIndex(DefaultConfig())
	restored.Import(snap)
	if restored.Size() != 2 {
		t.Errorf("restored Size = %d, want 2", restored.Size())
	}
	if restored.Timelines()["ml"] != 2 {
		t.Errorf("ml timeline count = %d, want 2 (timelines rebuilt)", restored.Timelines()["ml"])
	}
	// Sequence numbering continues where the snapshot left off.
	next := restored.Record(feats("ai"), nil)
	if next.Sequence != 3 {
		t.Errorf("next Sequence = %d, want 3", next.Sequence)
	}
}

// ============================================================================
// Benchmarks
// ============================================================================

func BenchmarkIndex_Record(b *testing.B) {
	idx := NewIndex(DefaultConfig())
	f := feats("ai", "model")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.Record(f, nil)
	}
}

func BenchmarkIndex_Search(b *testing.B) {
	idx := NewIndex(DefaultConfig())
	for i := 0; i < 1000; i++ {
		idx.Record(feats("ai", fmt.Sprintf("topic%d", i%50)), nil)
	}
	query := feats("ai", "topic7")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.Search(query, TimeRange{}, SearchOptions{Limit: 10})
	}
}
