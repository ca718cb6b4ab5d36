package engram

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/engramdb/pkg/temporal"
	"github.com/orneryd/engramdb/pkg/working"
)

// IngestReceipt describes what a single ingest did.
type IngestReceipt struct {
	// Fingerprint is the deterministic content fingerprint of the text.
	Fingerprint string `json:"fingerprint"`

	// Layers that were updated, in fan-out order.
	Layers []string `json:"layers"`

	// ObservationID is the context-index entry created for the text.
	ObservationID string `json:"observation_id,omitempty"`

	// EventID is the temporal-index event created for the text.
	EventID string `json:"event_id,omitempty"`

	// Concepts extracted from the text and merged into the graph.
	Concepts []string `json:"concepts,omitempty"`
}

// Ingest stores a new observation across all memory layers.
//
// Features are extracted once and shared by every layer. The fan-out runs
// context index, then concept graph, then temporal index; the context check
// between legs means a cancelled ctx can leave some layers updated. In that
// case the returned receipt lists the layers that did update and the error
// is a *PartialFanoutError wrapping ctx.Err(). Each layer's own update is
// atomic, so a partial fan-out is recoverable, not corrupting.
func (e *Engine) Ingest(ctx context.Context, text string, metadata map[string]string) (*IngestReceipt, error) {
	if e.extractor == nil {
		return nil, ErrNotInitialized
	}
	if e.isClosed() {
		return nil, ErrClosed
	}

	features, err := e.extractor.Extract(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeatureExtraction, err)
	}

	now := time.Now()
	receipt := &IngestReceipt{
		Fingerprint: Fingerprint(text, features, now),
		Concepts:    features.Concepts,
	}

	type leg struct {
		name string
		run  func()
	}

	var obs *working.Observation
	var ev *temporal.Event

	legs := []leg{
		{LayerContext, func() {
			obs = e.contextIdx.Add(features, text, metadata)
			receipt.ObservationID = obs.ID
		}},
		{LayerConcepts, func() {
			added := e.concepts.Ingest(features.Concepts, text)
			e.concepts.UpdateRelationships(features.Concepts)
			if len(added) > 0 {
				e.concepts.MaybeCluster()
			}
		}},
		{LayerTemporal, func() {
			ev = e.temporalIdx.Record(features, metadata)
			receipt.EventID = ev.ID
		}},
	}

	for _, l := range legs {
		if err := ctx.Err(); err != nil {
			e.log.Warn("ingest cut short",
				zap.Strings("updated", receipt.Layers),
				zap.String("next", l.name),
				zap.Error(err))
			return receipt, &PartialFanoutError{Layers: receipt.Layers, Err: err}
		}
		l.run()
		receipt.Layers = append(receipt.Layers, l.name)
	}

	e.stats.ingests.Add(1)

	if e.atCapacityTrigger() {
		e.requestConsolidation()
	}

	e.log.Debug("ingested observation",
		zap.String("observation_id", receipt.ObservationID),
		zap.Int("concepts", len(receipt.Concepts)))

	return receipt, nil
}
