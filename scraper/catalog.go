package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

// Fetcher pages through the storefront product listing.
type Fetcher struct {
	client *Client
	cfg    *config.Config

	// Logf, when set, receives one line per captured page.
	Logf func(format string, args ...any)
}

// NewFetcher returns a fetcher using client.
func NewFetcher(client *Client, cfg *config.Config) *Fetcher {
	return &Fetcher{client: client, cfg: cfg}
}

// FetchProducts returns raw product records in page order, truncated to max
// when max > 0. onDiscovered is called after each page with the running
// total.
func (f *Fetcher) FetchProducts(ctx context.Context, siteRoot *url.URL, max int, onDiscovered func(total int)) ([]models.Record, error) {
	dedupeSize := f.cfg.DedupeMaxSize
	if dedupeSize <= 0 {
		dedupeSize = 1
	}
	seen, err := lru.New[int64, struct{}](dedupeSize)
	if err != nil {
		return nil, fmt.Errorf("create seen set: %w", err)
	}

	var collected []models.Record
	for page := 1; page <= f.cfg.MaxPages; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(f.cfg.PageSize))

		records, raw, ok := f.client.FirstList(ctx, storeURLs(siteRoot, "/products", query), PhaseCatalog)
		if !ok {
			if page == 1 {
				return nil, fmt.Errorf("%s: %w", siteRoot, ErrCatalogUnreachable)
			}
			slog.Debug("catalog page unavailable, treating as end", slog.Int("page", page))
			break
		}
		if len(raw) == 0 {
			break
		}

		added := 0
		for _, rec := range records {
			if id, ok := rec.Int("id"); ok {
				if seen.Contains(id) {
					continue
				}
				seen.Add(id, struct{}{})
			}
			collected = append(collected, rec)
			added++
		}
		f.client.Metrics.AddProducts(added)
		slog.Debug("catalog page captured", slog.Int("page", page), slog.Int("products", len(raw)))
		if f.Logf != nil {
			f.Logf("Catalog page %d captured (%d products).", page, len(raw))
		}

		if max > 0 && len(collected) >= max {
			collected = collected[:max]
			if onDiscovered != nil {
				onDiscovered(len(collected))
			}
			return collected, nil
		}
		if onDiscovered != nil {
			onDiscovered(len(collected))
		}
		if len(raw) < f.cfg.PageSize {
			break
		}
	}

	if len(collected) == 0 {
		return nil, fmt.Errorf("%s: %w", siteRoot, ErrNoProducts)
	}
	return collected, nil
}
