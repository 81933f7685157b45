package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	defaultCfg := config.DefaultConfig()
	urlDefault, _ := config.EnvString("CATALOG_URL")
	outputDefault, _ := config.EnvString("CATALOG_OUTPUT_DIR")
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("CATALOG_METRICS_ADDR"); ok {
		metricsDefault = value
	}
	maxDefault := 0
	if value, ok, err := config.EnvInt("CATALOG_MAX_PRODUCTS"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid CATALOG_MAX_PRODUCTS: %v\n", err)
		os.Exit(1)
	} else if ok {
		maxDefault = value
	}
	timeoutDefault := defaultCfg.Timeout
	if value, ok, err := config.EnvDuration("CATALOG_TIMEOUT"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid CATALOG_TIMEOUT: %v\n", err)
		os.Exit(1)
	} else if ok {
		timeoutDefault = value
	}
	rpsDefault := defaultCfg.RequestsPerSec
	if value, ok, err := config.EnvFloat("CATALOG_RPS"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid CATALOG_RPS: %v\n", err)
		os.Exit(1)
	} else if ok {
		rpsDefault = value
	}

	siteURL := flag.String("url", urlDefault, "Storefront URL to export")
	maxProducts := flag.Int("max-products", maxDefault, "Stop after this many products (0 = all)")
	outputDir := flag.String("output", outputDefault, "Output directory (default ~/Downloads/catalog-exports)")
	stdinJob := flag.Bool("stdin", false, "Read the job as JSON ({url, maxProducts, outputDir}) from stdin")
	parallelism := flag.Int("parallel", defaultCfg.Parallelism, "Maximum concurrent requests")
	variationWorkers := flag.Int("variation-workers", defaultCfg.VariationWorkers, "Variable products resolved concurrently")
	imageWorkers := flag.Int("image-workers", defaultCfg.ImageWorkers, "Concurrent image downloads per product")
	batchSize := flag.Int("batch-size", defaultCfg.ByIDBatchSize, "Variation ids per by-id request")
	delayMs := flag.Int("delay", 0, "Delay between requests (milliseconds)")
	randomDelayMs := flag.Int("random-delay", 0, "Random jitter added to delay (milliseconds)")
	rps := flag.Float64("rps", rpsDefault, "Request budget per second (0 = unlimited)")
	timeout := flag.Duration("timeout", timeoutDefault, "Per-request timeout")
	maxRetries := flag.Int("max-retries", defaultCfg.MaxRetries, "Retry attempts for transient failures")
	retryBackoffMs := flag.Int("retry-backoff", int(defaultCfg.RetryBackoff/time.Millisecond), "Initial retry backoff (milliseconds)")
	retryBackoffMaxMs := flag.Int("retry-backoff-max", int(defaultCfg.RetryBackoffMax/time.Millisecond), "Maximum retry backoff (milliseconds)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	sink := newEventSink(os.Stdout)

	req := models.Request{URL: *siteURL, MaxProducts: *maxProducts, OutputDir: *outputDir}
	if *stdinJob {
		decoded, err := readRequest(os.Stdin, req)
		if err != nil {
			sink.fail(err)
			os.Exit(1)
		}
		req = decoded
	}

	cfg := defaultCfg
	cfg.Parallelism = *parallelism
	cfg.VariationWorkers = *variationWorkers
	cfg.ImageWorkers = *imageWorkers
	cfg.ByIDBatchSize = *batchSize
	cfg.Delay = time.Duration(*delayMs) * time.Millisecond
	cfg.RandomDelay = time.Duration(*randomDelayMs) * time.Millisecond
	cfg.RequestsPerSec = *rps
	cfg.Timeout = *timeout
	cfg.MaxRetries = *maxRetries
	cfg.RetryBackoff = time.Duration(*retryBackoffMs) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(*retryBackoffMaxMs) * time.Millisecond
	cfg.Verbose = *verbose
	cfg.MetricsAddr = *metricsAddr
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		sink.fail(err)
		os.Exit(1)
	}

	client, err := scraper.NewClient(cfg)
	if err != nil {
		slog.Error("initialising client", slog.Any("error", err))
		sink.fail(err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && client.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(client.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	startTime := time.Now()
	result, err := pipeline.NewPipeline(cfg, client).Run(ctx, req, sink.emit)
	shutdownMetrics(metricsServer)
	if err != nil {
		slog.Error("export failed", slog.Any("error", err))
		sink.fail(err)
		os.Exit(1)
	}

	sink.emit(models.Event{Type: models.EventResult, Result: result})
	printSummary(result, client.Stats(), time.Since(startTime))
}

// readRequest decodes a job from r. Fields missing from the payload keep
// the values in base.
func readRequest(r io.Reader, base models.Request) (models.Request, error) {
	req := base
	if err := json.NewDecoder(r).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return base, fmt.Errorf("decode job from stdin: %w", err)
	}
	req.URL = strings.TrimSpace(req.URL)
	return req, nil
}

// eventSink writes one JSON object per line. Writes are serialized.
type eventSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newEventSink(w io.Writer) *eventSink {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &eventSink{enc: enc}
}

func (s *eventSink) emit(e models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(e); err != nil {
		slog.Warn("event write failed", slog.Any("error", err))
	}
}

func (s *eventSink) fail(err error) {
	s.emit(models.Event{Type: models.EventError, Message: err.Error()})
}

func shutdownMetrics(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func printSummary(result *models.Result, stats scraper.Stats, duration time.Duration) {
	separator := "--------------------------------------------------"
	w := os.Stderr
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Export complete")

	summary := result.Summary
	fmt.Fprintf(w, "  Products:      %d (%d variable, %d variations)\n", summary.ProductsDiscovered, summary.VariableProducts, summary.VariationsDiscovered)
	fmt.Fprintf(w, "  Images:        %d downloaded, %d skipped\n", summary.ImagesDownloaded, summary.ImagesSkipped)
	successRate := 0.0
	if stats.RequestCount > 0 {
		successRate = float64(stats.RequestCount-stats.ErrorCount) / float64(stats.RequestCount) * 100
	}
	fmt.Fprintf(w, "  Requests:      %d (%.2f%% ok)\n", stats.RequestCount, successRate)
	fmt.Fprintf(w, "  Retries:       %d\n", stats.RetryCount)
	fmt.Fprintf(w, "  Failed URLs:   %d\n", len(stats.FailedURLs))
	if len(stats.ErrorsByType) > 0 {
		fmt.Fprintf(w, "  Error types:   %v\n", stats.ErrorsByType)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", duration)
	fmt.Fprintf(w, "  Metadata:      %s\n", result.Files.MetadataJSON)
	fmt.Fprintf(w, "  Import CSV:    %s\n", result.Files.ImportCSV)
	fmt.Fprintln(w, separator)
}

// newLogger writes to stderr; stdout carries the event stream.
func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
