package engram

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orneryd/engramdb/pkg/concept"
	"github.com/orneryd/engramdb/pkg/temporal"
	"github.com/orneryd/engramdb/pkg/working"
)

// RetrieveOptions control a single Retrieve call.
type RetrieveOptions struct {
	// Limit caps the fused result count. Zero means 10.
	Limit int

	// MinScore filters fused results below this weighted score.
	MinScore float64

	// TimeRange bounds the temporal layer's search. Zero means unbounded.
	TimeRange temporal.TimeRange

	// NoCache bypasses the response cache for this call.
	NoCache bool
}

const defaultRetrieveLimit = 10

// cacheKey serializes the options that affect results, for the cache key.
func (o RetrieveOptions) cacheKey() string {
	return fmt.Sprintf("l=%d;m=%g;s=%d;e=%d",
		o.Limit, o.MinScore, o.TimeRange.Start.UnixNano(), o.TimeRange.End.UnixNano())
}

// RankedResult is one fused result from any memory layer.
type RankedResult struct {
	// Layer the result came from: "context", "concepts", or "temporal".
	Layer string `json:"layer"`

	// ID of the underlying observation, concept, or event.
	ID string `json:"id"`

	// Text is the observation text, concept name, or event concept summary.
	Text string `json:"text"`

	// Score is the layer score after the layer weight is applied.
	Score float64 `json:"score"`
}

// RetrievalResult is the fused answer to one query.
type RetrievalResult struct {
	Query   string         `json:"query"`
	Results []RankedResult `json:"results"`

	// Confidence summarizes result quality as the mean of the top scores.
	Confidence float64 `json:"confidence"`

	// Degraded lists layers that could not be queried. Results from the
	// remaining layers are still returned.
	Degraded []string `json:"degraded,omitempty"`

	// FromCache marks a response served from the response cache.
	FromCache bool `json:"from_cache,omitempty"`
}

// Retrieve queries all three memory layers concurrently and fuses their
// rankings into one ordered result list.
//
// Layer scores are weighted by the configured layer weights and sorted
// descending. If a layer cannot be queried before ctx is done, it is listed
// in Degraded and the remaining layers still answer; if ctx expires before
// any layer answers, the caller gets the context error. Fully-answered
// responses are cached under a key derived from the query, the options, and
// the current time bucket, so identical queries within a bucket are served
// from cache.
func (e *Engine) Retrieve(ctx context.Context, query string, opts RetrieveOptions) (*RetrievalResult, error) {
	if e.extractor == nil {
		return nil, ErrNotInitialized
	}
	if e.isClosed() {
		return nil, ErrClosed
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultRetrieveLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := e.respCache.Key(query, opts.cacheKey(), time.Now())
	if !opts.NoCache {
		if cached, ok := e.respCache.Get(key); ok {
			if res, ok := cached.(*RetrievalResult); ok {
				e.stats.retrievals.Add(1)
				e.stats.cacheHits.Add(1)
				// Copy the slices so callers cannot mutate the cached value.
				hit := *res
				hit.Results = append([]RankedResult(nil), res.Results...)
				hit.Degraded = append([]string(nil), res.Degraded...)
				hit.FromCache = true
				return &hit, nil
			}
		}
	}

	features, err := e.extractor.Extract(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeatureExtraction, err)
	}

	var (
		ctxHits      []working.ScoredObservation
		conceptHits  []concept.ScoredConcept
		temporalHits []temporal.ScoredEvent
		degraded     []string
	)

	// Each leg runs to completion once started; ctx is only consulted
	// before the layer query so a timeout degrades rather than aborts.
	g, gctx := errgroup.WithContext(ctx)
	degradedCh := make(chan string, 3)

	g.Go(func() error {
		if gctx.Err() != nil {
			degradedCh <- LayerContext
			return nil
		}
		ctxHits = e.contextIdx.Search(features, working.SearchOptions{MinSimilarity: opts.MinScore})
		return nil
	})
	g.Go(func() error {
		if gctx.Err() != nil {
			degradedCh <- LayerConcepts
			return nil
		}
		conceptHits = e.concepts.Search(features.Concepts, concept.SearchOptions{MinSimilarity: opts.MinScore})
		return nil
	})
	g.Go(func() error {
		if gctx.Err() != nil {
			degradedCh <- LayerTemporal
			return nil
		}
		temporalHits = e.temporalIdx.Search(features, opts.TimeRange, temporal.SearchOptions{MinScore: opts.MinScore})
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(degradedCh)
	for layer := range degradedCh {
		degraded = append(degraded, layer)
	}
	sort.Strings(degraded)
	if len(degraded) > 0 {
		e.stats.degradedReads.Add(1)
		e.log.Warn("retrieval degraded", zap.Strings("layers", degraded))
	}
	// All three layers abandoned means ctx expired mid-flight; surface the
	// context error rather than an empty success.
	if len(degraded) == 3 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	result := e.fuse(query, ctxHits, conceptHits, temporalHits, opts)
	result.Degraded = degraded

	// Only fully-answered responses are cached. A degraded response would
	// otherwise be served to healthy callers for the rest of the bucket.
	// The cache gets its own copy so the caller cannot mutate it.
	if !opts.NoCache && len(degraded) == 0 {
		cached := *result
		cached.Results = append([]RankedResult(nil), result.Results...)
		e.respCache.Put(key, &cached)
	}
	e.stats.retrievals.Add(1)

	return result, nil
}

// fuse merges per-layer rankings into one weighted, ordered list.
func (e *Engine) fuse(query string, ctxHits []working.ScoredObservation, conceptHits []concept.ScoredConcept, temporalHits []temporal.ScoredEvent, opts RetrieveOptions) *RetrievalResult {
	results := make([]RankedResult, 0, len(ctxHits)+len(conceptHits)+len(temporalHits))

	for _, hit := range ctxHits {
		results = append(results, RankedResult{
			Layer: LayerContext,
			ID:    hit.Observation.ID,
			Text:  hit.Observation.Text,
			Score: hit.Score * e.config.ContextWeight,
		})
	}
	for _, hit := range conceptHits {
		results = append(results, RankedResult{
			Layer: LayerConcepts,
			ID:    hit.Name,
			Text:  hit.Name,
			Score: clamp01(hit.Score) * e.config.SemanticWeight,
		})
	}
	for _, hit := range temporalHits {
		results = append(results, RankedResult{
			Layer: LayerTemporal,
			ID:    hit.Event.ID,
			Text:  strings.Join(hit.Event.Features.Concepts, " "),
			Score: hit.Score * e.config.TemporalWeight,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Layer != results[j].Layer {
			return results[i].Layer < results[j].Layer
		}
		return results[i].ID < results[j].ID
	})

	if opts.MinScore > 0 {
		n := 0
		for _, r := range results {
			if r.Score >= opts.MinScore {
				results[n] = r
				n++
			}
		}
		results = results[:n]
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	return &RetrievalResult{
		Query:      query,
		Results:    results,
		Confidence: confidence(results),
	}
}

// confidence is the mean score of the top results (at most five).
func confidence(results []RankedResult) float64 {
	n := len(results)
	if n == 0 {
		return 0
	}
	if n > 5 {
		n = 5
	}
	var sum float64
	for _, r := range results[:n] {
		sum += r.Score
	}
	return sum / float64(n)
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
