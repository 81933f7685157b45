package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
)

// ErrInvalidURL is returned before any network activity when the request
// URL is not an absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid URL: use http:// or https://")

// Emitter receives job events. Calls are serialized.
type Emitter func(models.Event)

// Pipeline runs catalog exports. A Pipeline may run several jobs in
// sequence or in parallel; jobs share only the HTTP client.
type Pipeline struct {
	cfg    *config.Config
	client *scraper.Client

	// General and Media override the resolver's priority tables when set.
	General scraper.Priority
	Media   scraper.Priority

	now func() time.Time
}

// NewPipeline returns a pipeline issuing requests through client.
func NewPipeline(cfg *config.Config, client *scraper.Client) *Pipeline {
	return &Pipeline{cfg: cfg, client: client, now: time.Now}
}

// Run executes one export: scan the catalog, resolve variations, write the
// metadata document, download images, then write the import CSV. Only an
// invalid URL or an unreachable or empty catalog fail the run, and both
// fail before anything is written.
func (p *Pipeline) Run(ctx context.Context, req models.Request, emit Emitter) (*models.Result, error) {
	parsed, err := config.ValidateSiteURL(req.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	siteRoot := scraper.SiteRoot(parsed)

	runID := uuid.NewString()
	logger := slog.With(slog.String("run_id", runID), slog.String("site", siteRoot.String()))
	t := newTracker(emit)

	started := p.now()
	rootDir := filepath.Join(
		config.ResolveOutputDir(req.OutputDir, p.cfg.DefaultOutputDir),
		parser.SanitizeSegment(siteRoot.Hostname()),
		started.Format("20060102_150405"),
	)
	catalogDir := filepath.Join(rootDir, "catalog")
	productsDir := filepath.Join(catalogDir, "products")

	maxProducts := req.MaxProducts
	if maxProducts < 0 {
		maxProducts = 0
	}

	logger.Info("export started", slog.Int("max_products", maxProducts))
	t.logf("Scanning catalog at %s.", siteRoot)
	t.update(models.StageScanningProducts, nil)

	fetcher := scraper.NewFetcher(p.client, p.cfg)
	fetcher.Logf = t.logf
	raw, err := fetcher.FetchProducts(ctx, siteRoot, maxProducts, func(total int) {
		t.update(models.StageScanningProducts, func(s *progress) { s.discovered = total })
	})
	if err != nil {
		logger.Error("catalog scan failed", slog.Any("error", err))
		return nil, err
	}

	products := make([]*models.Product, 0, len(raw))
	for _, rec := range raw {
		products = append(products, parser.SimplifyProduct(rec, siteRoot))
	}
	var variable []*models.Product
	for _, product := range products {
		if parser.IsVariable(product) {
			variable = append(variable, product)
		}
	}

	t.update(models.StageProcessingVariations, func(s *progress) {
		s.discovered = len(products)
		s.variationTotal = len(variable)
	})
	totalVariations := p.resolveVariations(ctx, siteRoot, variable, t)
	if len(variable) > 0 {
		t.logf("Variable products: %d. Total variations captured: %d.", len(variable), totalVariations)
	}

	incomplete := 0
	for _, product := range products {
		if err := parser.ValidateProduct(product); err != nil {
			incomplete++
			logger.Warn("product incomplete", slog.Int64("product_id", product.ID), slog.Any("error", err))
		}
	}
	if incomplete > 0 {
		t.logf("%d products are missing fields required for import; they are exported as-is.", incomplete)
	}

	t.update(models.StageDownloadingImages, nil)
	artifacts := NewArtifactWriter(catalogDir)
	doc := BuildDocument(siteRoot.String(), p.now(), products)
	if err := artifacts.WriteMetadata(doc); err != nil {
		return nil, err
	}

	p.downloadImages(ctx, siteRoot, products, productsDir, t)

	headers, rows := BuildRows(products)
	if err := artifacts.WriteImport(headers, rows); err != nil {
		return nil, err
	}
	if err := artifacts.Validate(); err != nil {
		return nil, fmt.Errorf("validate artifacts: %w", err)
	}

	final := t.update(models.StageCompleted, func(s *progress) { s.csvGenerated = true })
	t.logf("Export finished: %d products, %d images, metadata.json and CSV written.", len(products), final.downloaded)

	stats := p.client.Stats()
	logger.Info("export finished",
		slog.Int("products", len(products)),
		slog.Int("variable_products", len(variable)),
		slog.Int("variations", totalVariations),
		slog.Int("incomplete_products", incomplete),
		slog.Int("images_downloaded", final.downloaded),
		slog.Int("images_skipped", final.skipped),
		slog.Int("requests", stats.RequestCount),
		slog.Int("request_errors", stats.ErrorCount),
		slog.Duration("duration", time.Since(started)),
	)

	return &models.Result{
		RunID:     runID,
		Source:    siteRoot.String(),
		OutputDir: rootDir,
		Files:     artifacts.Files(),
		Summary: models.Summary{
			ProductsDiscovered:   len(products),
			ProductsProcessed:    final.processed,
			VariableProducts:     len(variable),
			VariationsDiscovered: totalVariations,
			ImagesDownloaded:     final.downloaded,
			ImagesSkipped:        final.skipped,
			CSVGenerated:         final.csvGenerated,
		},
	}, nil
}

// resolveVariations fills VariationDetails of every variable product using
// VariationWorkers concurrent resolutions. Each worker writes only its own
// product, so output order stays the discovery order.
func (p *Pipeline) resolveVariations(ctx context.Context, siteRoot *url.URL, variable []*models.Product, t *tracker) int {
	resolver := scraper.NewResolver(p.client, p.cfg)
	resolver.Logf = t.logf
	if p.General != nil {
		resolver.General = p.General
	}
	if p.Media != nil {
		resolver.Media = p.Media
	}

	workers := p.cfg.VariationWorkers
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan *models.Product)
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for product := range jobs {
				product.VariationDetails = resolver.Resolve(ctx, siteRoot, product)

				mu.Lock()
				total += len(product.VariationDetails)
				mu.Unlock()
				t.update(models.StageProcessingVariations, func(s *progress) { s.variationProcessed++ })
			}
		}()
	}
	for _, product := range variable {
		jobs <- product
	}
	close(jobs)
	wg.Wait()
	return total
}

// downloadImages walks products one at a time; each product's images are
// fetched concurrently.
func (p *Pipeline) downloadImages(ctx context.Context, siteRoot *url.URL, products []*models.Product, productsDir string, t *tracker) {
	downloader := scraper.NewImageDownloader(p.client, p.cfg.ImageWorkers)
	downloader.Logf = t.logf

	for _, product := range products {
		slug := parser.SanitizeSegment(parser.FirstNonEmpty(product.Slug, strconv.FormatInt(product.ID, 10)))
		dir := filepath.Join(productsDir, fmt.Sprintf("%s-%d", slug, product.ID), "images")

		urls := scraper.CollectImageURLs(product, siteRoot)
		downloader.Download(ctx, urls, dir, func(outcome scraper.ImageOutcome) {
			t.update(models.StageDownloadingImages, func(s *progress) {
				if outcome.Skipped {
					s.skipped++
				} else {
					s.downloaded++
				}
			})
		})
		t.update(models.StageDownloadingImages, func(s *progress) { s.processed++ })
	}
}

// progress holds the counters behind every patch.
type progress struct {
	discovered         int
	processed          int
	downloaded         int
	skipped            int
	csvGenerated       bool
	variationTotal     int
	variationProcessed int
}

// tracker serializes counter updates and event emission.
type tracker struct {
	mu    sync.Mutex
	emit  Emitter
	state progress
}

func newTracker(emit Emitter) *tracker {
	return &tracker{emit: emit}
}

func (t *tracker) logf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.emit != nil {
		t.emit(models.Event{Type: models.EventLog, Message: fmt.Sprintf(format, args...)})
	}
}

// update applies fn and emits a patch with every counter. It returns the
// counters after the update.
func (t *tracker) update(stage models.Stage, fn func(*progress)) progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fn != nil {
		fn(&t.state)
	}
	s := t.state
	if t.emit != nil {
		t.emit(models.Event{Type: models.EventProgress, Patch: &models.ProgressPatch{
			Stage:                      stage,
			ProductsDiscovered:         models.Int(s.discovered),
			ProductsProcessed:          models.Int(s.processed),
			ImagesDownloaded:           models.Int(s.downloaded),
			ImagesSkipped:              models.Int(s.skipped),
			CSVGenerated:               models.Bool(s.csvGenerated),
			VariationProductsTotal:     models.Int(s.variationTotal),
			VariationProductsProcessed: models.Int(s.variationProcessed),
		}})
	}
	return s
}
