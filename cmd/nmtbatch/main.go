package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/batch"
	"github.com/raaihank/nmt-proxy/internal/cache"
	"github.com/raaihank/nmt-proxy/internal/config"
	"github.com/raaihank/nmt-proxy/internal/langpair"
	"github.com/raaihank/nmt-proxy/internal/logger"
	"github.com/raaihank/nmt-proxy/internal/registry"
	"github.com/raaihank/nmt-proxy/internal/translate"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Configuration file path")
		inputFile   = flag.String("input", "", "Input file (CSV, JSON lines or Parquet)")
		outputFile  = flag.String("output", "", "Output JSON lines file (default stdout)")
		batchSize   = flag.Int("batch-size", 32, "Records per translation batch")
		interactive = flag.Bool("interactive", false, "Use prefix-constrained translation")
		useCache    = flag.Bool("cache", false, "Use the Redis translation cache from the config")
		timeout     = flag.Duration("timeout", 0, "Abort the run after this long (0 disables)")
		progress    = flag.Int("progress", 100, "Log progress every N batches")
		cacheStats  = flag.Bool("cache-stats", false, "Show translation cache statistics and exit")
		clearCache  = flag.Bool("clear-cache", false, "Remove all cached translations and exit")
	)
	flag.Parse()

	if *inputFile == "" && !*cacheStats && !*clearCache {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input sentences.csv --batch-size 64\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input prefixes.jsonl --interactive --output results.jsonl\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input corpus.parquet --cache\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --cache-stats\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --clear-cache\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// results may go to stdout
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Stderr: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling batch run...")
		cancel()
	}()

	if *cacheStats || *clearCache {
		tc, err := openCache(cfg, log)
		if err != nil {
			log.Fatal("Failed to connect translation cache", zap.Error(err))
		}
		defer tc.Close()

		if *clearCache {
			if err := tc.Clear(ctx); err != nil {
				log.Fatal("Failed to clear translation cache", zap.Error(err))
			}
		}
		if *cacheStats {
			if err := printCacheStats(ctx, tc); err != nil {
				log.Fatal("Failed to get cache statistics", zap.Error(err))
			}
		}
		return
	}

	models := registry.New(registry.NewLoader(cfg.Models, log.WithComponent("loader").Logger), 0, log.WithComponent("registry").Logger)
	defer models.Close()
	if err := models.Refresh(ctx); err != nil {
		log.Fatal("Failed to load models", zap.Error(err))
	}

	var (
		opts []translate.Option
		tc   *cache.TranslationCache
	)
	if *useCache {
		tc, err = openCache(cfg, log)
		if err != nil {
			log.Fatal("Failed to connect translation cache", zap.Error(err))
		}
		defer tc.Close()
		opts = append(opts, translate.WithCache(tc))
	}

	mode := langpair.Simple
	if *interactive {
		mode = langpair.Constrained
	}

	var out io.Writer = os.Stdout
	if *outputFile != "" {
		file, err := os.Create(*outputFile)
		if err != nil {
			log.Fatal("Failed to create output file", zap.Error(err))
		}
		defer file.Close()
		out = file
	}
	buffered := bufio.NewWriter(out)
	defer buffered.Flush()

	runner := batch.NewRunner(
		translate.New(models, log.WithComponent("translate").Logger, opts...),
		&batch.Config{
			BatchSize:      *batchSize,
			Mode:           mode,
			Timeout:        *timeout,
			ProgressReport: *progress,
		},
		log.WithComponent("batch").Logger,
	)

	result, err := runner.ProcessFile(ctx, *inputFile, buffered)
	if err != nil {
		log.Error("Batch translation failed", zap.Error(err))
	}

	if result != nil {
		fmt.Fprintf(os.Stderr, "\nBatch Translation Results:\n")
		fmt.Fprintf(os.Stderr, "  Total Records:   %d\n", result.TotalRecords)
		fmt.Fprintf(os.Stderr, "  Invalid Records: %d\n", result.RecordsInvalid)
		fmt.Fprintf(os.Stderr, "  Batches OK:      %d\n", result.BatchesOK)
		fmt.Fprintf(os.Stderr, "  Batches Failed:  %d\n", result.BatchesFailed)
		fmt.Fprintf(os.Stderr, "  Duration:        %v\n", result.Duration)
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "  Error: %s\n", e)
		}
	}

	if tc != nil {
		if err := printCacheStats(ctx, tc); err != nil {
			log.Warn("Failed to get cache statistics", zap.Error(err))
		}
	}

	if err != nil || (result != nil && result.BatchesFailed > 0) {
		buffered.Flush()
		os.Exit(1)
	}
}

func openCache(cfg *config.Config, log *logger.Logger) (*cache.TranslationCache, error) {
	return cache.NewTranslationCache(&cache.Config{
		RedisURL:       cfg.Cache.RedisURL,
		MaxConnections: cfg.Cache.MaxConnections,
		MinIdleConns:   cfg.Cache.MinIdleConns,
		DefaultTTL:     cfg.Cache.DefaultTTL,
		KeyPrefix:      cfg.Cache.KeyPrefix,
	}, log.WithComponent("cache").Logger)
}

// printCacheStats writes cache statistics to stderr, which stays free of
// translation output.
func printCacheStats(ctx context.Context, tc *cache.TranslationCache) error {
	stats, err := tc.GetStats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "\nTranslation Cache Statistics:\n")
	fmt.Fprintf(os.Stderr, "  Cache Hits:      %d\n", stats.Hits)
	fmt.Fprintf(os.Stderr, "  Cache Misses:    %d\n", stats.Misses)
	fmt.Fprintf(os.Stderr, "  Hit Rate:        %.1f%%\n", stats.HitRate)
	fmt.Fprintf(os.Stderr, "  Total Keys:      %d\n", stats.TotalKeys)
	fmt.Fprintf(os.Stderr, "  Memory Usage:    %.2f MB\n", float64(stats.MemoryUsage)/1024/1024)
	return nil
}
