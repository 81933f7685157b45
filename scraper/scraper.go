package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

const (
	ctxResponse = "response"
	ctxStatus   = "status"
)

var errNotList = errors.New("response body is not a JSON list")

// Response is a completed HTTP exchange.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Stats summarises the requests a Client issued.
type Stats struct {
	RequestCount int
	ErrorCount   int
	RetryCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
}

// Client issues synchronous GETs through a colly collector with retry,
// rate limiting and error classification. It is safe for concurrent use.
type Client struct {
	cfg       *config.Config
	collector *colly.Collector
	limiter   *rate.Limiter
	Metrics   *Metrics

	requestCount int64
	errorCount   int64
	retryCount   int64

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int
}

// NewClient builds a client configured from cfg.
func NewClient(cfg *config.Config) (*Client, error) {
	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(cfg.MaxBodySize),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxResponse, r)
	})
	collector.OnError(func(r *colly.Response, _ error) {
		if r != nil && r.Ctx != nil {
			r.Ctx.Put(ctxStatus, r.StatusCode)
		}
	})

	c := &Client{
		cfg:          cfg,
		collector:    collector,
		errorsByType: make(map[string]int),
		Metrics:      NewMetrics(),
	}
	if cfg.RequestsPerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1)
	}
	return c, nil
}

// WithTransport swaps the underlying round tripper (tests use httpmock).
func (c *Client) WithTransport(rt http.RoundTripper) {
	c.collector.WithTransport(rt)
}

// Get fetches rawURL, retrying timeouts, connection failures and 429s.
// Any status other than 200 is an error.
func (c *Client) Get(ctx context.Context, rawURL, phase string) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			atomic.AddInt64(&c.retryCount, 1)
			c.Metrics.IncRetries()
			if err := sleepContext(ctx, c.backoff(attempt)); err != nil {
				lastErr = err
				break
			}
		}

		resp, err := c.do(ctx, rawURL, phase)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt >= c.cfg.MaxRetries || !retryable(err) || ctx.Err() != nil {
			break
		}
	}

	c.mu.Lock()
	c.failedURLs = append(c.failedURLs, rawURL)
	c.mu.Unlock()
	return nil, lastErr
}

// GetList fetches rawURL and decodes a JSON array body.
func (c *Client) GetList(ctx context.Context, rawURL, phase string) ([]models.Record, []any, error) {
	resp, err := c.Get(ctx, rawURL, phase)
	if err != nil {
		return nil, nil, err
	}
	records, raw, ok := models.DecodeList(resp.Body)
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", rawURL, errNotList)
	}
	return records, raw, nil
}

// FirstList tries each URL in order and returns the first JSON list. ok is
// false when every form failed; failures are logged, never returned.
func (c *Client) FirstList(ctx context.Context, urls []string, phase string) (records []models.Record, raw []any, ok bool) {
	for _, u := range urls {
		records, raw, err := c.GetList(ctx, u, phase)
		if err == nil {
			return records, raw, true
		}
		slog.Debug("endpoint attempt failed",
			slog.String("phase", phase),
			slog.String("url", u),
			slog.String("category", errorTypeLabel(err)),
			slog.Any("error", err),
		)
	}
	return nil, nil, false
}

// Stats returns a snapshot of request counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	failed := make([]string, len(c.failedURLs))
	copy(failed, c.failedURLs)
	byType := make(map[string]int, len(c.errorsByType))
	for k, v := range c.errorsByType {
		byType[k] = v
	}
	return Stats{
		RequestCount: int(atomic.LoadInt64(&c.requestCount)),
		ErrorCount:   int(atomic.LoadInt64(&c.errorCount)),
		RetryCount:   int(atomic.LoadInt64(&c.retryCount)),
		FailedURLs:   failed,
		ErrorsByType: byType,
	}
}

func (c *Client) do(ctx context.Context, rawURL, phase string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	current := atomic.AddInt64(&c.requestCount, 1)
	c.Metrics.IncRequest(phase)
	if current%50 == 0 {
		slog.Debug("request progress", slog.Int64("requests", current), slog.String("url", rawURL))
	}

	cctx := colly.NewContext()
	hdr := http.Header{}
	hdr.Set("Accept", acceptFor(phase))

	start := time.Now()
	err := c.collector.Request(http.MethodGet, rawURL, nil, cctx, hdr)
	c.Metrics.ObserveDuration(time.Since(start))

	resp, _ := cctx.GetAny(ctxResponse).(*colly.Response)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	} else if s, ok := cctx.GetAny(ctxStatus).(int); ok {
		status = s
	}

	if err == nil && resp != nil && status == http.StatusOK {
		header := http.Header{}
		if resp.Headers != nil {
			header = resp.Headers.Clone()
		}
		return &Response{URL: rawURL, StatusCode: status, Header: header, Body: resp.Body}, nil
	}

	classified := classifyError(err, status)
	if classified == nil {
		classified = fmt.Errorf("%s: empty response", rawURL)
	}
	c.recordError(rawURL, classified)
	return nil, classified
}

func (c *Client) recordError(rawURL string, err error) {
	atomic.AddInt64(&c.errorCount, 1)
	category := errorTypeLabel(err)

	c.mu.Lock()
	c.errorsByType[category]++
	c.mu.Unlock()

	c.Metrics.IncError(category)
	slog.Debug("request error",
		slog.String("url", rawURL),
		slog.String("category", category),
		slog.Any("error", err),
	)
}

func (c *Client) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := c.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := c.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func acceptFor(phase string) string {
	switch phase {
	case PhaseProductPage:
		return "text/html,application/xhtml+xml"
	case PhaseImage:
		return "image/*,*/*;q=0.8"
	default:
		return "application/json"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Request phases, used as metric labels.
const (
	PhaseCatalog     = "catalog"
	PhaseVariations  = "variations"
	PhaseByIDs       = "by_ids"
	PhaseProductPage = "product_page"
	PhaseImage       = "image"
)

const storeAPIPrefix = "/wc/store/v1"

// storeURLs returns the two equivalent forms of a Store API route: the
// pretty-permalink path and the rest_route query form.
func storeURLs(siteRoot *url.URL, route string, query url.Values) []string {
	encoded := query.Encode()
	pretty := siteRoot.ResolveReference(&url.URL{Path: "/wp-json" + storeAPIPrefix + route, RawQuery: encoded})
	plainQuery := "rest_route=" + storeAPIPrefix + route
	if encoded != "" {
		plainQuery += "&" + encoded
	}
	plain := siteRoot.ResolveReference(&url.URL{Path: "/", RawQuery: plainQuery})
	return []string{pretty.String(), plain.String()}
}

// SiteRoot reduces u to scheme://host/.
func SiteRoot(u *url.URL) *url.URL {
	return &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
}
