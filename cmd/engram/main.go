// Package main provides the EngramDB CLI entry point.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/engramdb/pkg/engram"
	"github.com/orneryd/engramdb/pkg/semantic"
	"github.com/orneryd/engramdb/pkg/snapshot"
	"github.com/orneryd/engramdb/pkg/temporal"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "engram",
		Short: "EngramDB - Layered Memory Store for AI Agents",
		Long: `EngramDB is a bounded, multi-layer memory store written in Go,
designed as working memory for AI agents.

Layers:
  • Context index with FIFO retention and similarity search
  • Concept graph with co-occurrence edges and clustering
  • Temporal index with timelines and pattern detection
  • Weighted rank fusion across all layers at query time`,
	}
	rootCmd.PersistentFlags().String("data-dir", "./data", "Data directory for snapshots")
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("EngramDB v%s (%s)\n", version, commit)
		},
	})

	// Init command
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new EngramDB data directory",
		RunE:  runInit,
	}
	rootCmd.AddCommand(initCmd)

	// Ingest command
	ingestCmd := &cobra.Command{
		Use:   "ingest [text...]",
		Short: "Store one or more observations",
		Long:  "Store observations across all memory layers. With no arguments, reads one observation per line from stdin.",
		RunE:  runIngest,
	}
	ingestCmd.Flags().StringToString("meta", nil, "Metadata key=value pairs attached to each observation")
	rootCmd.AddCommand(ingestCmd)

	// Query command
	queryCmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve memories matching a query",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}
	queryCmd.Flags().Int("limit", 10, "Maximum number of results")
	queryCmd.Flags().Float64("min-score", 0, "Minimum fused score")
	queryCmd.Flags().Duration("since", 0, "Restrict temporal results to this lookback window")
	queryCmd.Flags().Bool("json", false, "Print results as JSON")
	rootCmd.AddCommand(queryCmd)

	// Stats command
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory layer statistics",
		RunE:  runStats,
	}
	statsCmd.Flags().Bool("json", false, "Print statistics as JSON")
	rootCmd.AddCommand(statsCmd)

	// Consolidate command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "consolidate",
		Short: "Run a consolidation pass over all layers",
		RunE:  runConsolidate,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openEngine builds an engine with a Badger-backed snapshot store and
// restores persisted state. The caller must Close the engine and the store.
func openEngine(cmd *cobra.Command) (*engram.Engine, snapshot.Store, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	config := engram.DefaultConfig()
	if configPath != "" {
		var err error
		config, err = engram.LoadConfig(configPath)
		if err != nil {
			return nil, nil, err
		}
	}
	// CLI invocations are one-shot; consolidation runs on demand.
	config.ConsolidateInterval = 0

	logger := zap.NewNop()
	if verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return nil, nil, fmt.Errorf("creating logger: %w", err)
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}
	store, err := snapshot.NewBadgerStore(filepath.Join(dataDir, "snapshots"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening snapshot store: %w", err)
	}

	engine, err := engram.New(config, semantic.NewNaiveExtractor(), store, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := engine.LoadSnapshots(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("restoring snapshots: %w", err)
	}

	return engine, store, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	fmt.Printf("📂 Initializing EngramDB data directory in %s\n", dataDir)

	if err := os.MkdirAll(filepath.Join(dataDir, "snapshots"), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dataDir, err)
	}

	configPath := filepath.Join(dataDir, "engram.yaml")
	configContent := `# EngramDB Configuration

context:
  max_size: 1000
  min_similarity: 0.1
  retention_window: 24h

concepts:
  max_concepts: 5000
  min_similarity: 0.3
  cluster_threshold: 50

temporal:
  max_events: 2000
  relation_window: 1h
  compression_window: 168h
  compression_ratio: 0.1

cache_size: 256
cache_ttl: 5m
consolidate_interval: 10m
capacity_trigger: 0.8

context_weight: 1.0
semantic_weight: 0.8
temporal_weight: 0.6
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Println("✅ Data directory initialized")
	fmt.Printf("   Config: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Store a memory:   engram ingest \"The new AI model is great\" --data-dir", dataDir)
	fmt.Println("  2. Query memories:   engram query \"AI model\" --data-dir", dataDir)

	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	meta, _ := cmd.Flags().GetStringToString("meta")

	engine, store, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	defer engine.Close()

	texts := args
	if len(texts) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				texts = append(texts, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
	}
	if len(texts) == 0 {
		return fmt.Errorf("nothing to ingest")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, text := range texts {
		receipt, err := engine.Ingest(ctx, text, meta)
		if err != nil {
			return fmt.Errorf("ingesting %q: %w", text, err)
		}
		fmt.Printf("✅ %s\n", receipt.Fingerprint[:16])
		if len(receipt.Concepts) > 0 {
			fmt.Printf("   Concepts: %s\n", strings.Join(receipt.Concepts, ", "))
		}
	}
	fmt.Printf("\nStored %d observation(s)\n", len(texts))

	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	minScore, _ := cmd.Flags().GetFloat64("min-score")
	since, _ := cmd.Flags().GetDuration("since")
	asJSON, _ := cmd.Flags().GetBool("json")

	engine, store, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	defer engine.Close()

	opts := engram.RetrieveOptions{Limit: limit, MinScore: minScore}
	if since > 0 {
		opts.TimeRange = temporal.TimeRange{Start: time.Now().Add(-since), End: time.Now()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := engine.Retrieve(ctx, args[0], opts)
	if err != nil {
		return fmt.Errorf("querying: %w", err)
	}

	if asJSON {
		return printJSON(result)
	}

	if len(result.Results) == 0 {
		fmt.Println("No results")
		return nil
	}
	fmt.Printf("🔍 %d result(s), confidence %.2f\n\n", len(result.Results), result.Confidence)
	for i, r := range result.Results {
		fmt.Printf("%2d. [%-8s] %.3f  %s\n", i+1, r.Layer, r.Score, r.Text)
	}
	if len(result.Degraded) > 0 {
		fmt.Printf("\n⚠️  Degraded layers: %s\n", strings.Join(result.Degraded, ", "))
	}

	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	engine, store, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	defer engine.Close()

	status := engine.Status()

	if asJSON {
		return printJSON(status)
	}

	fmt.Println("📊 EngramDB Statistics:")
	layers := make([]string, 0, len(status.Layers))
	for name := range status.Layers {
		layers = append(layers, name)
	}
	sort.Strings(layers)
	for _, name := range layers {
		l := status.Layers[name]
		fmt.Printf("  %-10s %d/%d (%.0f%%)\n", name+":", l.Size, l.Capacity, l.Utilization*100)
	}
	fmt.Printf("  Concept edges:     %d\n", status.ConceptEdges)
	fmt.Printf("  Detected patterns: %d\n", status.Patterns)
	fmt.Printf("  Compressed events: %d\n", status.Compressed)
	fmt.Printf("  Cache hit rate:    %.1f%% (%d entries)\n", status.Cache.HitRate, status.Cache.Size)

	return nil
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	engine, store, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	fmt.Println("🔄 Consolidating memory layers...")
	report, err := engine.Consolidate(ctx)
	if err != nil {
		return fmt.Errorf("consolidating: %w", err)
	}

	fmt.Printf("✅ Done in %v\n", report.Duration)
	fmt.Printf("   Context removed:   %d\n", report.ContextRemoved)
	fmt.Printf("   Concepts removed:  %d (%d edges)\n", report.ConceptsRemoved, report.EdgesRemoved)
	fmt.Printf("   Events compressed: %d in %d batch(es)\n", report.EventsRemoved, report.Batches)
	if report.CompressionRatio > 0 {
		fmt.Printf("   Compression ratio: %.2f\n", report.CompressionRatio)
	}
	if report.SnapshotSaved {
		fmt.Println("   Snapshot saved")
	}

	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
