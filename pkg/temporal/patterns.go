package temporal

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/engramdb/pkg/semantic"
)

// PatternKind names a detected temporal regularity.
type PatternKind string

const (
	// PatternRecurring marks a near-constant interval between similar events.
	PatternRecurring PatternKind = "recurring"
	// PatternSequential marks a length-3 concept subsequence recurring later.
	PatternSequential PatternKind = "sequential"
	// PatternFrequency marks a sharp deviation of the recent occurrence rate
	// from the historical rate.
	PatternFrequency PatternKind = "frequency"
)

// Detection thresholds. Recurring requires a coefficient of variation below
// recurringMaxCoV over at least recurringMinSimilar similar prior events;
// sequential requires averaged per-position Jaccard above sequentialMinSim;
// frequency flags rate ratios outside [freqDropRatio, freqSpikeRatio].
const (
	recurringMinContentSim = 0.3
	recurringMinSimilar    = 2
	recurringMaxCoV        = 0.2

	sequentialWindowLen = 3
	sequentialMinSim    = 0.7

	freqSpikeRatio = 2.0
	freqDropRatio  = 0.5
	freqWindow     = 24 * time.Hour
)

// Pattern is one detected regularity.
//
// Signature identifies the regularity independent of the event instances, so
// repeated detections update one pattern instead of piling up duplicates.
type Pattern struct {
	ID         string      `json:"id"`
	Kind       PatternKind `json:"kind"`
	Signature  string      `json:"signature"`
	Confidence float64     `json:"confidence"`
	EventIDs   []string    `json:"event_ids"`
	FirstSeen  time.Time   `json:"first_seen"`
	LastSeen   time.Time   `json:"last_seen"`
}

// Patterns returns a copy of the detected pattern history, oldest first.
func (idx *Index) Patterns() []*Pattern {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]*Pattern, 0, len(idx.patterns))
	for _, p := range idx.patterns {
		cp := *p
		cp.EventIDs = append([]string(nil), p.EventIDs...)
		out = append(out, &cp)
	}
	return out
}

// detectPatternsLocked runs all three detectors against the recent window.
// Caller must hold the lock; ev is already appended to idx.events.
func (idx *Index) detectPatternsLocked(ev *Event) {
	recent := idx.recentWindowLocked()

	idx.detectRecurringLocked(ev, recent)
	idx.detectSequentialLocked(recent, ev.Timestamp)
	idx.detectFrequencyLocked(ev)
}

// recentWindowLocked returns the trailing RecentWindow events including the
// newest. Caller must hold the lock.
func (idx *Index) recentWindowLocked() []*Event {
	n := idx.config.RecentWindow
	if n > len(idx.events) {
		n = len(idx.events)
	}
	return idx.events[len(idx.events)-n:]
}

// detectRecurringLocked looks for near-constant spacing between the new event
// and similar prior events. Confidence is 1 minus the coefficient of
// variation of the inter-arrival intervals.
func (idx *Index) detectRecurringLocked(ev *Event, recent []*Event) {
	var similar []*Event
	for _, prior := range recent {
		if prior.ID == ev.ID {
			continue
		}
		if semantic.ContentSimilarity(ev.Features, prior.Features) > recurringMinContentSim {
			similar = append(similar, prior)
		}
	}
	if len(similar) < recurringMinSimilar {
		return
	}

	// Intervals across the similar events plus the new one, in time order.
	times := make([]time.Time, 0, len(similar)+1)
	for _, s := range similar {
		times = append(times, s.Timestamp)
	}
	times = append(times, ev.Timestamp)
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	intervals := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		intervals = append(intervals, times[i].Sub(times[i-1]).Seconds())
	}

	cov, ok := coefficientOfVariation(intervals)
	if !ok || cov >= recurringMaxCoV {
		return
	}

	ids := make([]string, 0, len(similar)+1)
	for _, s := range similar {
		ids = append(ids, s.ID)
	}
	ids = append(ids, ev.ID)

	idx.upsertPatternLocked(&Pattern{
		Kind:       PatternRecurring,
		Signature:  conceptSignature(ev.Features),
		Confidence: 1 - cov,
		EventIDs:   ids,
		LastSeen:   ev.Timestamp,
	})
}

// detectSequentialLocked slides length-3 concept windows across the recent
// events and flags an earlier window recurring later with high per-position
// similarity.
func (idx *Index) detectSequentialLocked(recent []*Event, now time.Time) {
	if len(recent) < 2*sequentialWindowLen {
		return
	}

	for i := 0; i+sequentialWindowLen <= len(recent)-sequentialWindowLen; i++ {
		for j := i + sequentialWindowLen; j+sequentialWindowLen <= len(recent); j++ {
			sum := 0.0
			for k := 0; k < sequentialWindowLen; k++ {
				sum += semantic.JaccardSlices(
					recent[i+k].Features.Concepts,
					recent[j+k].Features.Concepts,
				)
			}
			avg := sum / sequentialWindowLen
			if avg <= sequentialMinSim {
				continue
			}

			ids := make([]string, 0, 2*sequentialWindowLen)
			for k := 0; k < sequentialWindowLen; k++ {
				ids = append(ids, recent[i+k].ID)
			}
			for k := 0; k < sequentialWindowLen; k++ {
				ids = append(ids, recent[j+k].ID)
			}

			idx.upsertPatternLocked(&Pattern{
				Kind:       PatternSequential,
				Signature:  conceptSignature(recent[i].Features),
				Confidence: avg,
				EventIDs:   ids,
				LastSeen:   now,
			})
		}
	}
}

// detectFrequencyLocked compares the same-topic rate over the last 24 hours
// against the historical average rate. Topic membership means sharing at
// least one concept with the new event.
//
// Confidence maps the ratio onto (0, 1]: spikes as 1-1/ratio, drops as
// 1-2*ratio, both clamped.
func (idx *Index) detectFrequencyLocked(ev *Event) {
	evConcepts := ev.Features.ConceptSet()
	if len(evConcepts) == 0 {
		return
	}

	var (
		total     int
		recent    int
		firstSeen time.Time
		ids       []string
	)
	windowStart := ev.Timestamp.Add(-freqWindow)

	for _, other := range idx.events {
		if !sharesConcept(evConcepts, other.Features.Concepts) {
			continue
		}
		total++
		ids = append(ids, other.ID)
		if firstSeen.IsZero() || other.Timestamp.Before(firstSeen) {
			firstSeen = other.Timestamp
		}
		if !other.Timestamp.Before(windowStart) {
			recent++
		}
	}

	// Need history beyond the comparison window for a meaningful baseline.
	span := ev.Timestamp.Sub(firstSeen)
	if total == 0 || span <= 2*freqWindow {
		return
	}

	historicalRate := float64(total) / span.Hours()
	recentRate := float64(recent) / freqWindow.Hours()
	if historicalRate == 0 {
		return
	}

	ratio := recentRate / historicalRate
	var confidence float64
	switch {
	case ratio > freqSpikeRatio:
		confidence = 1 - 1/ratio
	case ratio < freqDropRatio:
		confidence = 1 - 2*ratio
	default:
		return
	}
	if confidence > 1 {
		confidence = 1
	}
	if confidence <= 0 {
		return
	}

	idx.upsertPatternLocked(&Pattern{
		Kind:       PatternFrequency,
		Signature:  conceptSignature(ev.Features),
		Confidence: confidence,
		EventIDs:   ids,
		LastSeen:   ev.Timestamp,
	})
}

// upsertPatternLocked updates an existing pattern with the same kind and
// signature, or appends a new one. Caller must hold the lock.
func (idx *Index) upsertPatternLocked(p *Pattern) {
	for _, existing := range idx.patterns {
		if existing.Kind == p.Kind && existing.Signature == p.Signature {
			existing.Confidence = p.Confidence
			existing.EventIDs = p.EventIDs
			existing.LastSeen = p.LastSeen
			return
		}
	}

	p.ID = uuid.NewString()
	p.FirstSeen = p.LastSeen
	idx.patterns = append(idx.patterns, p)
}

// prunePatternsLocked drops patterns past the retention window or beyond the
// count bound, oldest first. Caller must hold the lock.
func (idx *Index) prunePatternsLocked(now time.Time) {
	cutoff := now.Add(-idx.config.PatternRetention)

	kept := idx.patterns[:0]
	for _, p := range idx.patterns {
		if p.LastSeen.Before(cutoff) {
			continue
		}
		kept = append(kept, p)
	}
	idx.patterns = kept

	if len(idx.patterns) > idx.config.MaxPatterns {
		idx.patterns = idx.patterns[len(idx.patterns)-idx.config.MaxPatterns:]
	}
}

// conceptSignature is a stable identity for a feature set's concepts.
func conceptSignature(f *semantic.Features) string {
	concepts := append([]string(nil), f.Concepts...)
	sort.Strings(concepts)
	return strings.Join(concepts, "|")
}

// sharesConcept reports whether any concept in the slice is in the set.
func sharesConcept(set map[string]struct{}, concepts []string) bool {
	for _, c := range concepts {
		if _, ok := set[c]; ok {
			return true
		}
	}
	return false
}

// coefficientOfVariation returns stddev/mean of the samples. The second
// return is false when fewer than two samples exist or the mean is zero.
func coefficientOfVariation(samples []float64) (float64, bool) {
	if len(samples) < 2 {
		return 0, false
	}

	mean := 0.0
	for _, s := range samples {
		mean += s
	}
	mean /= float64(len(samples))
	if mean == 0 {
		return 0, false
	}

	variance := 0.0
	for _, s := range samples {
		d := s - mean
		variance += d * d
	}
	variance /= float64(len(samples))

	return math.Sqrt(variance) / mean, true
}
