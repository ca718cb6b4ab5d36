package engram

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/engramdb/pkg/concept"
	"github.com/orneryd/engramdb/pkg/temporal"
	"github.com/orneryd/engramdb/pkg/working"
)

// Config holds engine configuration, aggregating per-layer configs.
type Config struct {
	Context  working.Config
	Concepts concept.Config
	Temporal temporal.Config

	// Response cache bounds. CacheTTL caps entry lifetime; cache keys roll
	// over on their own fixed 5-minute bucket independent of the TTL.
	CacheSize int
	CacheTTL  time.Duration

	// ConsolidateInterval is the background consolidation period.
	// Zero disables the scheduler; Consolidate can still be called directly.
	ConsolidateInterval time.Duration

	// CapacityTrigger is the utilization fraction at which an ingest
	// requests an early consolidation pass.
	CapacityTrigger float64

	// Layer weights applied during rank fusion. Each layer's scores are
	// already scaled to [0, 1] internally.
	ContextWeight  float64
	SemanticWeight float64
	TemporalWeight float64
}

// DefaultConfig returns sensible engine defaults.
func DefaultConfig() *Config {
	return &Config{
		Context:             working.DefaultConfig(),
		Concepts:            concept.DefaultConfig(),
		Temporal:            temporal.DefaultConfig(),
		CacheSize:           256,
		CacheTTL:            5 * time.Minute,
		ConsolidateInterval: 10 * time.Minute,
		CapacityTrigger:     0.8,
		ContextWeight:       1.0,
		SemanticWeight:      0.8,
		TemporalWeight:      0.6,
	}
}

// Validate checks configuration invariants at startup.
func (c *Config) Validate() error {
	if c.CapacityTrigger <= 0 || c.CapacityTrigger > 1 {
		return fmt.Errorf("%w: capacity_trigger must be in (0, 1], got %v", ErrInvalidConfig, c.CapacityTrigger)
	}
	if c.ContextWeight < 0 || c.SemanticWeight < 0 || c.TemporalWeight < 0 {
		return fmt.Errorf("%w: layer weights must be non-negative", ErrInvalidConfig)
	}
	if c.ContextWeight == 0 && c.SemanticWeight == 0 && c.TemporalWeight == 0 {
		return fmt.Errorf("%w: at least one layer weight must be positive", ErrInvalidConfig)
	}
	return nil
}

// fileConfig is the YAML schema of a config file. Durations are strings in Go
// duration syntax ("10m", "168h"). Pointer fields distinguish absent keys,
// which keep their defaults.
type fileConfig struct {
	Context struct {
		MaxSize         *int     `yaml:"max_size"`
		MinSimilarity   *float64 `yaml:"min_similarity"`
		RetentionWindow *string  `yaml:"retention_window"`
	} `yaml:"context"`

	Concepts struct {
		MaxConcepts       *int     `yaml:"max_concepts"`
		MinSimilarity     *float64 `yaml:"min_similarity"`
		ClusterThreshold  *int     `yaml:"cluster_threshold"`
		MaxClusterSize    *int     `yaml:"max_cluster_size"`
		MaxClusters       *int     `yaml:"max_clusters"`
		PruneMinFrequency *int64   `yaml:"prune_min_frequency"`
		PruneAge          *string  `yaml:"prune_age"`
	} `yaml:"concepts"`

	Temporal struct {
		MaxEvents         *int     `yaml:"max_events"`
		TimelineKey       *string  `yaml:"timeline_key"`
		RelationWindow    *string  `yaml:"relation_window"`
		RecentWindow      *int     `yaml:"recent_window"`
		CompressionWindow *string  `yaml:"compression_window"`
		CompressionRatio  *float64 `yaml:"compression_ratio"`
		PatternRetention  *string  `yaml:"pattern_retention"`
		MaxPatterns       *int     `yaml:"max_patterns"`
		MinScore          *float64 `yaml:"min_score"`
	} `yaml:"temporal"`

	CacheSize           *int     `yaml:"cache_size"`
	CacheTTL            *string  `yaml:"cache_ttl"`
	ConsolidateInterval *string  `yaml:"consolidate_interval"`
	CapacityTrigger     *float64 `yaml:"capacity_trigger"`
	ContextWeight       *float64 `yaml:"context_weight"`
	SemanticWeight      *float64 `yaml:"semantic_weight"`
	TemporalWeight      *float64 `yaml:"temporal_weight"`
}

// LoadConfig reads a YAML config file, applying defaults for absent fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engram: read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("engram: parse config %s: %w", path, err)
	}

	config := DefaultConfig()
	if err := fc.apply(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (fc *fileConfig) apply(c *Config) error {
	override(&c.Context.MaxSize, fc.Context.MaxSize)
	override(&c.Context.MinSimilarity, fc.Context.MinSimilarity)
	if err := overrideDuration(&c.Context.RetentionWindow, fc.Context.RetentionWindow, "context.retention_window"); err != nil {
		return err
	}

	override(&c.Concepts.MaxConcepts, fc.Concepts.MaxConcepts)
	override(&c.Concepts.MinSimilarity, fc.Concepts.MinSimilarity)
	override(&c.Concepts.ClusterThreshold, fc.Concepts.ClusterThreshold)
	override(&c.Concepts.MaxClusterSize, fc.Concepts.MaxClusterSize)
	override(&c.Concepts.MaxClusters, fc.Concepts.MaxClusters)
	override(&c.Concepts.PruneMinFrequency, fc.Concepts.PruneMinFrequency)
	if err := overrideDuration(&c.Concepts.PruneAge, fc.Concepts.PruneAge, "concepts.prune_age"); err != nil {
		return err
	}

	override(&c.Temporal.MaxEvents, fc.Temporal.MaxEvents)
	override(&c.Temporal.TimelineKey, fc.Temporal.TimelineKey)
	override(&c.Temporal.RecentWindow, fc.Temporal.RecentWindow)
	override(&c.Temporal.CompressionRatio, fc.Temporal.CompressionRatio)
	override(&c.Temporal.MaxPatterns, fc.Temporal.MaxPatterns)
	override(&c.Temporal.MinScore, fc.Temporal.MinScore)
	if err := overrideDuration(&c.Temporal.RelationWindow, fc.Temporal.RelationWindow, "temporal.relation_window"); err != nil {
		return err
	}
	if err := overrideDuration(&c.Temporal.CompressionWindow, fc.Temporal.CompressionWindow, "temporal.compression_window"); err != nil {
		return err
	}
	if err := overrideDuration(&c.Temporal.PatternRetention, fc.Temporal.PatternRetention, "temporal.pattern_retention"); err != nil {
		return err
	}

	override(&c.CacheSize, fc.CacheSize)
	override(&c.CapacityTrigger, fc.CapacityTrigger)
	override(&c.ContextWeight, fc.ContextWeight)
	override(&c.SemanticWeight, fc.SemanticWeight)
	override(&c.TemporalWeight, fc.TemporalWeight)
	if err := overrideDuration(&c.CacheTTL, fc.CacheTTL, "cache_ttl"); err != nil {
		return err
	}
	if err := overrideDuration(&c.ConsolidateInterval, fc.ConsolidateInterval, "consolidate_interval"); err != nil {
		return err
	}

	return nil
}

func override[T any](dst, src *T) {
	if src != nil {
		*dst = *src
	}
}

func overrideDuration(dst *time.Duration, src *string, field string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, field, err)
	}
	*dst = d
	return nil
}
