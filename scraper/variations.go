package scraper

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

// Resolver gathers a variable product's variations from every source and
// merges them field by field.
type Resolver struct {
	client *Client
	cfg    *config.Config

	// General ranks structural fields, Media ranks price and image.
	General Priority
	Media   Priority

	// Logf, when set, receives one human-readable line per notable step.
	Logf func(format string, args ...any)
}

// NewResolver returns a resolver with the default priority tables.
func NewResolver(client *Client, cfg *config.Config) *Resolver {
	return &Resolver{
		client:  client,
		cfg:     cfg,
		General: DefaultGeneralPriority(),
		Media:   DefaultMediaPriority(),
	}
}

// Resolve returns the merged variations of product. Source failures are
// logged and skipped; an empty result is not an error.
func (r *Resolver) Resolve(ctx context.Context, siteRoot *url.URL, product *models.Product) []*models.Variation {
	logger := slog.With(slog.Int64("product_id", product.ID))

	endpoint := r.fetchEndpoint(ctx, siteRoot, product.ID)
	if len(endpoint) > 0 {
		r.logf("Product %d: %d variations from the variations endpoint.", product.ID, len(endpoint))
	}

	inline := inlineVariations(product.Raw)
	if len(inline) > 0 {
		r.logf("Product %d: %d inline variations detected.", product.ID, len(inline))
	}

	var byIDs []Candidate
	if ids := variationIDs(product.Raw, endpoint, inline); len(ids) > 0 {
		byIDs = r.fetchByIDs(ctx, siteRoot, ids)
		if len(byIDs) > 0 {
			r.logf("Product %d: %d variation details fetched by id.", product.ID, len(byIDs))
		}
	}

	m := merger{general: r.General, media: r.Media, siteRoot: siteRoot}
	variations := m.resolveAll(endpoint, inline, byIDs)

	missingPrices, missingImages := missingCounts(variations)
	if missingPrices > 0 || missingImages > 0 {
		logger.Debug("escalating to product page",
			slog.Int("missing_prices", missingPrices),
			slog.Int("missing_images", missingImages),
		)
		if htmlPool := r.fetchProductPage(ctx, siteRoot, product); len(htmlPool) > 0 {
			variations = m.resolveAll(endpoint, inline, byIDs, htmlPool)
			missingPrices, missingImages = missingCounts(variations)
		}
	}

	for _, v := range variations {
		r.client.Metrics.IncVariation(v.Diagnostics.PriceSource)
	}

	if len(variations) > 0 {
		htmlPrices, htmlImages := countFrom(variations, SourceHTML)
		logger.Info("variations resolved",
			slog.Int("variations", len(variations)),
			slog.Int("prices_from_html", htmlPrices),
			slog.Int("images_from_html", htmlImages),
			slog.Int("missing_prices", missingPrices),
			slog.Int("missing_images", missingImages),
		)
		r.logf("Product %d: variations=%d, price from HTML=%d, image from HTML=%d, missing price=%d, missing image=%d.",
			product.ID, len(variations), htmlPrices, htmlImages, missingPrices, missingImages)
	}
	return variations
}

// fetchEndpoint pages through the per-product variations route. A failed
// page ends the walk.
func (r *Resolver) fetchEndpoint(ctx context.Context, siteRoot *url.URL, productID int64) []Candidate {
	route := "/products/" + strconv.FormatInt(productID, 10) + "/variations"
	var out []Candidate
	for page := 1; page <= r.cfg.MaxPages; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(r.cfg.PageSize))

		records, raw, ok := r.client.FirstList(ctx, storeURLs(siteRoot, route, query), PhaseVariations)
		if !ok || len(raw) == 0 {
			break
		}
		for _, rec := range records {
			out = append(out, Candidate{Source: SourceEndpoint, Record: rec})
		}
		if len(raw) < r.cfg.PageSize {
			break
		}
	}
	return out
}

// fetchByIDs loads variation records through the product listing's include
// filter, in fixed-size batches. Failed batches are skipped.
func (r *Resolver) fetchByIDs(ctx context.Context, siteRoot *url.URL, ids []int64) []Candidate {
	batch := r.cfg.ByIDBatchSize
	if batch <= 0 {
		batch = 20
	}
	var out []Candidate
	for start := 0; start < len(ids); start += batch {
		end := start + batch
		if end > len(ids) {
			end = len(ids)
		}
		parts := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			parts = append(parts, strconv.FormatInt(id, 10))
		}

		query := url.Values{}
		query.Set("include", strings.Join(parts, ","))
		query.Set("per_page", "100")

		records, _, ok := r.client.FirstList(ctx, storeURLs(siteRoot, "/products", query), PhaseByIDs)
		if !ok {
			continue
		}
		for _, rec := range records {
			out = append(out, Candidate{Source: SourceByIDs, Record: rec})
		}
	}
	return out
}

// fetchProductPage reads the variation data embedded in the product page.
func (r *Resolver) fetchProductPage(ctx context.Context, siteRoot *url.URL, product *models.Product) []Candidate {
	permalink := parser.AbsoluteURL(parser.FirstNonEmpty(product.Permalink, product.Raw.String("permalink")), siteRoot)
	if permalink == "" {
		return nil
	}
	r.client.Metrics.IncEscalation()

	resp, err := r.client.Get(ctx, permalink, PhaseProductPage)
	if err != nil {
		slog.Debug("product page unavailable",
			slog.Int64("product_id", product.ID),
			slog.String("url", permalink),
			slog.Any("error", err),
		)
		return nil
	}

	records, err := parser.ParseVariationForms(resp.Body)
	if err != nil {
		slog.Debug("product page parse failed", slog.Int64("product_id", product.ID), slog.Any("error", err))
		return nil
	}
	if len(records) > 0 {
		r.logf("Product %d: %d variations read from the product page.", product.ID, len(records))
	}

	out := make([]Candidate, 0, len(records))
	for _, rec := range records {
		out = append(out, Candidate{Source: SourceHTML, Record: rec})
	}
	return out
}

func (r *Resolver) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

// inlineVariations returns the object entries of the product's variations
// list that carry anything worth merging.
func inlineVariations(raw models.Record) []Candidate {
	var out []Candidate
	for _, item := range raw.List("variations") {
		rec := models.AsRecord(item)
		if rec == nil {
			continue
		}
		if rec.Has("id") || rec.Has("sku") || rec.Has("attributes") || rec.Has("prices") {
			out = append(out, Candidate{Source: SourceInline, Record: rec})
		}
	}
	return out
}

// variationIDs collects referenced variation ids in first-seen order: bare
// numbers or objects in the product's variations list, then ids seen in
// the given pools.
func variationIDs(raw models.Record, pools ...[]Candidate) []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	add := func(id int64, ok bool) {
		if !ok || id <= 0 {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, item := range raw.List("variations") {
		if rec := models.AsRecord(item); rec != nil {
			add(rec.Int("id"))
			continue
		}
		add(models.ScalarInt(item))
	}
	for _, pool := range pools {
		for _, c := range pool {
			add(variationID(c.Record))
		}
	}
	return ids
}
