package scraper

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

const fallbackExt = ".bin"

// ImageOutcome reports one finished download.
type ImageOutcome struct {
	URL     string
	Path    string
	Skipped bool
	Err     error
}

// ImageDownloader fetches a product's images under a bounded worker pool.
type ImageDownloader struct {
	client  *Client
	workers int

	// Logf, when set, receives a line per failed download.
	Logf func(format string, args ...any)
}

// NewImageDownloader returns a downloader running at most workers fetches
// at once.
func NewImageDownloader(client *Client, workers int) *ImageDownloader {
	if workers <= 0 {
		workers = 1
	}
	return &ImageDownloader{client: client, workers: workers}
}

// CollectImageURLs returns the distinct images referenced by a product and
// its variations. URLs are made absolute and lose query and fragment before
// comparison, so size or cache-busting variants collapse to one file.
func CollectImageURLs(product *models.Product, siteRoot *url.URL) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(ref string) {
		normalized := normalizeImageURL(ref, siteRoot)
		if normalized == "" {
			return
		}
		if _, ok := seen[normalized]; ok {
			return
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}

	for _, img := range product.Images {
		add(img.Src)
	}
	for _, v := range product.VariationDetails {
		add(v.ImageSrc())
	}
	return out
}

func normalizeImageURL(ref string, siteRoot *url.URL) string {
	abs := parser.AbsoluteURL(ref, siteRoot)
	if abs == "" {
		return ""
	}
	u, err := url.Parse(abs)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// ImageDestination names the file for rawURL inside dir:
// <sanitized basename>-<sha1(url)[:10]><ext>, with ext ".bin" when the
// path has none.
func ImageDestination(rawURL, dir string) string {
	base := "image"
	if u, err := url.Parse(rawURL); err == nil {
		if b := path.Base(u.Path); b != "/" && b != "." && b != "" {
			base = b
		}
	}
	base = parser.SanitizeSegment(base)

	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = fallbackExt
	}
	if stem == "" {
		stem = "image"
	}

	sum := sha1.Sum([]byte(rawURL))
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", stem, hex.EncodeToString(sum[:])[:10], ext))
}

// Download fetches urls into dir. onDone is called once per URL, never
// concurrently. Failures are counted as skipped.
func (d *ImageDownloader) Download(ctx context.Context, urls []string, dir string, onDone func(ImageOutcome)) (downloaded, skipped int) {
	if len(urls) == 0 {
		return 0, 0
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("create image dir", slog.String("dir", dir), slog.Any("error", err))
		for _, u := range urls {
			d.report(ImageOutcome{URL: u, Skipped: true, Err: err}, &downloaded, &skipped, onDone, nil)
		}
		return downloaded, skipped
	}

	jobs := make(chan string)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	workers := d.workers
	if workers > len(urls) {
		workers = len(urls)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				outcome := d.fetch(ctx, u, dir)
				d.report(outcome, &downloaded, &skipped, onDone, &mu)
			}
		}()
	}

	for _, u := range urls {
		jobs <- u
	}
	close(jobs)
	wg.Wait()
	return downloaded, skipped
}

func (d *ImageDownloader) report(outcome ImageOutcome, downloaded, skipped *int, onDone func(ImageOutcome), mu *sync.Mutex) {
	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	if outcome.Skipped {
		*skipped++
		d.client.Metrics.IncImage("skipped")
		slog.Warn("image download failed", slog.String("url", outcome.URL), slog.Any("error", outcome.Err))
		if d.Logf != nil {
			d.Logf("Image download failed: %s (%v)", outcome.URL, outcome.Err)
		}
	} else {
		*downloaded++
		d.client.Metrics.IncImage("downloaded")
	}
	if onDone != nil {
		onDone(outcome)
	}
}

func (d *ImageDownloader) fetch(ctx context.Context, rawURL, dir string) ImageOutcome {
	dest := ImageDestination(rawURL, dir)
	resp, err := d.client.Get(ctx, rawURL, PhaseImage)
	if err != nil {
		return ImageOutcome{URL: rawURL, Path: dest, Skipped: true, Err: err}
	}

	if filepath.Ext(dest) == fallbackExt {
		if ext := detectExtension(resp.Header.Get("Content-Type"), resp.Body); ext != "" {
			dest = strings.TrimSuffix(dest, fallbackExt) + ext
		}
	}

	if err := os.WriteFile(dest, resp.Body, 0o644); err != nil {
		return ImageOutcome{URL: rawURL, Path: dest, Skipped: true, Err: fmt.Errorf("write image: %w", err)}
	}
	return ImageOutcome{URL: rawURL, Path: dest}
}

// detectExtension maps the declared content type to an extension, then
// falls back to sniffing the body.
func detectExtension(contentType string, body []byte) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType != "" {
		if m := mimetype.Lookup(mediaType); m != nil && m.Extension() != "" {
			return m.Extension()
		}
	}
	if len(body) == 0 {
		return ""
	}
	return mimetype.Detect(body).Extension()
}
