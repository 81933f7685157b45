package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

const testSite = "http://shop.test/"

// fakeStore answers Store API routes in both URL forms, product pages and
// image files.
type fakeStore struct {
	mu sync.Mutex

	products      []map[string]any
	listingStatus int
	prettyStatus  int
	variations    map[int64][]map[string]any
	byID          map[int64]map[string]any
	pages         map[string]string
	images        map[string]string
	imageTypes    map[string]string

	hits map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		variations: make(map[int64][]map[string]any),
		byID:       make(map[int64]map[string]any),
		pages:      make(map[string]string),
		images:     make(map[string]string),
		imageTypes: make(map[string]string),
		hits:       make(map[string]int),
	}
}

func (s *fakeStore) hit(kind string) {
	s.mu.Lock()
	s.hits[kind]++
	s.mu.Unlock()
}

func (s *fakeStore) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[kind]
}

func (s *fakeStore) respond(req *http.Request) (*http.Response, error) {
	query := req.URL.Query()
	route := ""
	switch {
	case strings.HasPrefix(req.URL.Path, "/wp-json"+storeAPIPrefix):
		if s.prettyStatus != 0 {
			return httpmock.NewStringResponse(s.prettyStatus, ""), nil
		}
		route = strings.TrimPrefix(req.URL.Path, "/wp-json"+storeAPIPrefix)
	case query.Get("rest_route") != "":
		route = strings.TrimPrefix(query.Get("rest_route"), storeAPIPrefix)
	}

	switch {
	case route == "/products" && query.Get("include") != "":
		s.hit("by_ids")
		out := []map[string]any{}
		for _, part := range strings.Split(query.Get("include"), ",") {
			id, _ := strconv.ParseInt(part, 10, 64)
			if rec, ok := s.byID[id]; ok {
				out = append(out, rec)
			}
		}
		return jsonResponse(out)
	case route == "/products":
		s.hit("products")
		if s.listingStatus != 0 {
			return httpmock.NewStringResponse(s.listingStatus, "error"), nil
		}
		return jsonResponse(paginate(s.products, query))
	case strings.HasPrefix(route, "/products/") && strings.HasSuffix(route, "/variations"):
		s.hit("variations")
		id, _ := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(route, "/products/"), "/variations"), 10, 64)
		return jsonResponse(paginate(s.variations[id], query))
	}

	if page, ok := s.pages[req.URL.Path]; ok {
		s.hit("page")
		resp := httpmock.NewStringResponse(http.StatusOK, page)
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		return resp, nil
	}
	if body, ok := s.images[req.URL.Path]; ok {
		s.hit("image:" + req.URL.Path)
		resp := httpmock.NewStringResponse(http.StatusOK, body)
		if ct := s.imageTypes[req.URL.Path]; ct != "" {
			resp.Header.Set("Content-Type", ct)
		}
		return resp, nil
	}
	return httpmock.NewStringResponse(http.StatusNotFound, "not found"), nil
}

func paginate(items []map[string]any, query url.Values) []map[string]any {
	page, _ := strconv.Atoi(query.Get("page"))
	perPage, _ := strconv.Atoi(query.Get("per_page"))
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 100
	}
	start := (page - 1) * perPage
	if start >= len(items) {
		return []map[string]any{}
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func jsonResponse(v any) (*http.Response, error) {
	if v == nil {
		v = []any{}
	}
	resp, err := httpmock.NewJsonResponse(http.StatusOK, v)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Parallelism = 4
	cfg.MaxRetries = 0
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 2 * time.Millisecond
	return cfg
}

func newTestClient(t *testing.T, cfg *config.Config, store *fakeStore) *Client {
	t.Helper()
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(store.respond)
	client.WithTransport(transport)
	return client
}

func siteRoot(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse(testSite)
	if err != nil {
		t.Fatalf("parse site: %v", err)
	}
	return u
}

func simpleProducts(n int) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, map[string]any{"id": i, "name": fmt.Sprintf("Product %d", i), "type": "simple"})
	}
	return out
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server", err: errors.New("Internal Server Error"), statusCode: http.StatusInternalServerError, expected: "server_error"},
		{name: "unexpected", err: nil, statusCode: http.StatusAccepted, expected: "unexpected_status"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestClientBackoffCapped(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	cfg.RetryBackoffMax = 500 * time.Millisecond

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if got := client.backoff(1); got != 200*time.Millisecond {
		t.Fatalf("first backoff = %v, want 200ms", got)
	}
	if got := client.backoff(4); got != cfg.RetryBackoffMax {
		t.Fatalf("backoff(4) = %v, want %v", got, cfg.RetryBackoffMax)
	}
}

func TestClientRetriesOnlyTransientFailures(t *testing.T) {
	tests := []struct {
		status       int
		wantRequests int
		wantCategory string
	}{
		{status: http.StatusTooManyRequests, wantRequests: 3, wantCategory: "rate_limited"},
		{status: http.StatusInternalServerError, wantRequests: 1, wantCategory: "server_error"},
		{status: http.StatusNotFound, wantRequests: 1, wantCategory: "not_found"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxRetries = 2

			client, err := NewClient(cfg)
			if err != nil {
				t.Fatalf("new client: %v", err)
			}
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", "http://shop.test/thing", httpmock.NewStringResponder(tt.status, ""))
			client.WithTransport(transport)

			if _, err := client.Get(context.Background(), "http://shop.test/thing", PhaseCatalog); err == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}

			stats := client.Stats()
			if stats.RequestCount != tt.wantRequests {
				t.Fatalf("requests = %d, want %d", stats.RequestCount, tt.wantRequests)
			}
			if stats.ErrorsByType[tt.wantCategory] == 0 {
				t.Fatalf("errors by type = %v, want %q", stats.ErrorsByType, tt.wantCategory)
			}
			if len(stats.FailedURLs) != 1 {
				t.Fatalf("failed urls = %v", stats.FailedURLs)
			}
		})
	}
}

func TestStoreURLs(t *testing.T) {
	query := url.Values{}
	query.Set("page", "2")
	query.Set("per_page", "100")

	got := storeURLs(siteRoot(t), "/products", query)
	want := []string{
		"http://shop.test/wp-json/wc/store/v1/products?page=2&per_page=100",
		"http://shop.test/?rest_route=/wc/store/v1/products&page=2&per_page=100",
	}
	if len(got) != len(want) {
		t.Fatalf("urls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("url[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSiteRoot(t *testing.T) {
	u, _ := url.Parse("https://shop.test:8443/shop/item?x=1#frag")
	if got := SiteRoot(u).String(); got != "https://shop.test:8443/" {
		t.Fatalf("SiteRoot = %q", got)
	}
}

func TestFetchProductsPaginates(t *testing.T) {
	store := newFakeStore()
	store.products = simpleProducts(250)
	cfg := testConfig()
	fetcher := NewFetcher(newTestClient(t, cfg, store), cfg)

	var totals []int
	products, err := fetcher.FetchProducts(context.Background(), siteRoot(t), 0, func(total int) {
		totals = append(totals, total)
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(products) != 250 {
		t.Fatalf("products = %d, want 250", len(products))
	}
	if fmt.Sprint(totals) != "[100 200 250]" {
		t.Fatalf("discovery totals = %v", totals)
	}
	if got := store.count("products"); got != 3 {
		t.Fatalf("listing requests = %d, want 3", got)
	}
	if id, _ := products[249].Int("id"); id != 250 {
		t.Fatalf("last product id = %d, want 250 in page order", id)
	}
}

func TestFetchProductsFallsBackToRestRoute(t *testing.T) {
	store := newFakeStore()
	store.products = simpleProducts(3)
	store.prettyStatus = http.StatusNotFound
	cfg := testConfig()
	fetcher := NewFetcher(newTestClient(t, cfg, store), cfg)

	products, err := fetcher.FetchProducts(context.Background(), siteRoot(t), 0, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(products) != 3 {
		t.Fatalf("products = %d, want 3", len(products))
	}
}

func TestFetchProductsTruncatesToMax(t *testing.T) {
	store := newFakeStore()
	store.products = simpleProducts(250)
	cfg := testConfig()
	fetcher := NewFetcher(newTestClient(t, cfg, store), cfg)

	var last int
	products, err := fetcher.FetchProducts(context.Background(), siteRoot(t), 150, func(total int) { last = total })
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(products) != 150 || last != 150 {
		t.Fatalf("products = %d, last callback = %d, want 150", len(products), last)
	}
	if got := store.count("products"); got != 2 {
		t.Fatalf("listing requests = %d, want 2", got)
	}
}

func TestFetchProductsFatalErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeStore)
		wantErr error
	}{
		{
			name:    "server error on both forms",
			setup:   func(s *fakeStore) { s.listingStatus = http.StatusInternalServerError },
			wantErr: ErrCatalogUnreachable,
		},
		{
			name:    "empty catalog",
			setup:   func(s *fakeStore) {},
			wantErr: ErrNoProducts,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			tt.setup(store)
			cfg := testConfig()
			fetcher := NewFetcher(newTestClient(t, cfg, store), cfg)

			_, err := fetcher.FetchProducts(context.Background(), siteRoot(t), 0, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFetchProductsDropsRepeatedIDs(t *testing.T) {
	store := newFakeStore()
	products := simpleProducts(100)
	// Second page repeats the last product of the first.
	products = append(products, map[string]any{"id": 100, "name": "Product 100"}, map[string]any{"id": 101, "name": "Product 101"})
	store.products = products
	cfg := testConfig()
	fetcher := NewFetcher(newTestClient(t, cfg, store), cfg)

	got, err := fetcher.FetchProducts(context.Background(), siteRoot(t), 0, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 101 {
		t.Fatalf("products = %d, want 101", len(got))
	}
}

func TestDedupKey(t *testing.T) {
	tests := []struct {
		name string
		rec  models.Record
		want string
	}{
		{name: "id", rec: models.Record{"id": json.Number("12"), "sku": "A"}, want: "id:12"},
		{name: "sku trimmed", rec: models.Record{"sku": "  A-1 "}, want: "sku:A-1"},
		{name: "raw id", rec: models.Record{"raw": models.Record{"id": 7}}, want: "id:7"},
		{name: "raw sku", rec: models.Record{"raw": models.Record{"sku": "R"}}, want: "sku:R"},
		{name: "zero id falls to sku", rec: models.Record{"id": 0, "sku": "Z"}, want: "sku:Z"},
		{name: "unresolvable", rec: models.Record{"name": "x"}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dedupKey(tt.rec); got != tt.want {
				t.Fatalf("dedupKey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPickRanksThenKeepsEarliest(t *testing.T) {
	candidates := []Candidate{
		{Source: SourceEndpoint, Record: models.Record{"name": "endpoint"}},
		{Source: SourceByIDs, Record: models.Record{"name": "by-ids"}},
		{Source: SourceHTML, Record: models.Record{"name": "html"}},
		{Source: SourceInline, Record: models.Record{"name": ""}},
	}

	name, from := pick(candidates, DefaultGeneralPriority(), textField("name"))
	if name != "endpoint" || from != SourceEndpoint {
		t.Fatalf("general pick = %q from %s, want endpoint (earliest of equal rank)", name, from)
	}
	name, from = pick(candidates, DefaultMediaPriority(), textField("name"))
	if name != "html" || from != SourceHTML {
		t.Fatalf("media pick = %q from %s, want html", name, from)
	}
	_, from = pick(candidates, DefaultGeneralPriority(), textField("sku"))
	if from != SourceNone {
		t.Fatalf("pick with no values = %s, want none", from)
	}
}

func mergeFixture() [][]Candidate {
	endpoint := []Candidate{{Source: SourceEndpoint, Record: models.Record{
		"id": json.Number("11"), "sku": "TS-R", "name": "Shirt - Red",
		"prices":     models.Record{"price": "1990", "regular_price": "1990", "currency_minor_unit": json.Number("2")},
		"attributes": []any{map[string]any{"name": "Color", "value": "Red"}},
	}}}
	inline := []Candidate{{Source: SourceInline, Record: models.Record{
		"id": json.Number("11"), "name": "Inline name",
		"image": map[string]any{"src": "/img/red-inline.jpg"},
	}}}
	page := []Candidate{{Source: SourceHTML, Record: models.Record{
		"id": int64(11), "name": "Html name",
		"prices": models.Record{"price": "21.50", "regular_price": "21.50", "sale_price": ""},
		"image":  models.Record{"src": "http://shop.test/img/red-html.jpg"},
	}}}
	return [][]Candidate{endpoint, inline, nil, page}
}

func TestMergeAppliesPriorityTables(t *testing.T) {
	m := merger{general: DefaultGeneralPriority(), media: DefaultMediaPriority(), siteRoot: siteRoot(t)}
	variations := m.resolveAll(mergeFixture()...)
	if len(variations) != 1 {
		t.Fatalf("variations = %d, want 1", len(variations))
	}
	v := variations[0]
	if v.Name != "Shirt - Red" || v.SKU != "TS-R" {
		t.Fatalf("structural fields = %q/%q, want endpoint values", v.Name, v.SKU)
	}
	if v.Prices.Price != "21.50" || v.Diagnostics.PriceSource != "html" {
		t.Fatalf("price = %q from %s, want 21.50 from html", v.Prices.Price, v.Diagnostics.PriceSource)
	}
	if v.ImageSrc() != "http://shop.test/img/red-html.jpg" || v.Diagnostics.ImageSource != "html" {
		t.Fatalf("image = %q from %s", v.ImageSrc(), v.Diagnostics.ImageSource)
	}
	if v.Diagnostics.MissingPrice || v.Diagnostics.MissingImage {
		t.Fatalf("diagnostics = %+v", v.Diagnostics)
	}
	if len(v.Attributes) != 1 {
		t.Fatalf("attributes = %v", v.Attributes)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	m := merger{general: DefaultGeneralPriority(), media: DefaultMediaPriority(), siteRoot: siteRoot(t)}
	first, err := json.Marshal(m.resolveAll(mergeFixture()...))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := json.Marshal(m.resolveAll(mergeFixture()...))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("merge not idempotent:\n%s\n%s", first, second)
	}
}

func TestMergeWithCustomPriority(t *testing.T) {
	m := merger{
		general:  Priority{SourceHTML: 5, SourceEndpoint: 1},
		media:    DefaultMediaPriority(),
		siteRoot: siteRoot(t),
	}
	v := m.resolveAll(mergeFixture()...)[0]
	if v.Name != "Html name" {
		t.Fatalf("name = %q, want html value under custom table", v.Name)
	}
}

func TestMergeDropsUnkeyedRecords(t *testing.T) {
	m := merger{general: DefaultGeneralPriority(), media: DefaultMediaPriority(), siteRoot: siteRoot(t)}
	got := m.resolveAll([]Candidate{
		{Source: SourceInline, Record: models.Record{"name": "no identity"}},
		{Source: SourceInline, Record: models.Record{"sku": "B"}},
		{Source: SourceInline, Record: models.Record{"id": 3}},
	})
	if len(got) != 2 || got[0].SKU != "B" || got[1].ID != 3 {
		t.Fatalf("variations = %+v", got)
	}
	if got[0].Diagnostics.PriceSource != "none" || !got[0].Diagnostics.MissingPrice {
		t.Fatalf("diagnostics = %+v", got[0].Diagnostics)
	}
}

func variableProduct(store *fakeStore, withHTML bool) *models.Product {
	raw := models.Record{
		"id": json.Number("10"), "name": "Shirt", "type": "variable",
		"permalink": "http://shop.test/product/shirt/",
		"variations": []any{
			map[string]any{"id": json.Number("11"), "attributes": []any{map[string]any{"name": "Color", "value": "Red"}}},
			json.Number("12"),
		},
	}
	store.variations[10] = []map[string]any{
		{
			"id": 11, "sku": "SH-R", "name": "Shirt - Red",
			"prices": map[string]any{"price": "1990", "regular_price": "1990", "currency_minor_unit": 2},
			"image":  map[string]any{"src": "http://shop.test/img/red.jpg"},
		},
		{"id": 12, "sku": "SH-B", "name": "Shirt - Blue"},
	}
	store.byID[11] = map[string]any{"id": 11, "sku": "SH-R", "type": "variation"}
	store.byID[12] = map[string]any{"id": 12, "sku": "SH-B", "type": "variation"}
	if withHTML {
		data := `[{"variation_id":12,"display_price":25,"display_regular_price":25,"is_in_stock":true,` +
			`"attributes":{"attribute_color":"Blue"},"image":{"full_src":"http://shop.test/img/blue.jpg"}}]`
		store.pages["/product/shirt/"] = `<html><body><form class="variations_form cart" data-product_variations="` +
			html.EscapeString(data) + `"></form></body></html>`
	}
	return &models.Product{ID: 10, Name: "Shirt", Type: "variable", Permalink: "http://shop.test/product/shirt/", Raw: raw}
}

func TestResolveEscalatesToProductPage(t *testing.T) {
	store := newFakeStore()
	product := variableProduct(store, true)
	cfg := testConfig()
	resolver := NewResolver(newTestClient(t, cfg, store), cfg)

	var lines []string
	resolver.Logf = func(format string, args ...any) { lines = append(lines, fmt.Sprintf(format, args...)) }

	variations := resolver.Resolve(context.Background(), siteRoot(t), product)
	if len(variations) != 2 {
		t.Fatalf("variations = %d, want 2", len(variations))
	}
	if got := store.count("page"); got != 1 {
		t.Fatalf("product page requests = %d, want 1", got)
	}
	if got := store.count("by_ids"); got != 1 {
		t.Fatalf("by-id requests = %d, want 1", got)
	}

	blue := variations[1]
	if blue.ID != 12 || blue.SKU != "SH-B" || blue.Name != "Shirt - Blue" {
		t.Fatalf("blue variation = %+v", blue)
	}
	if blue.Diagnostics.PriceSource != "html" || blue.Prices.Price != "25.00" {
		t.Fatalf("blue price = %q from %s", blue.Prices.Price, blue.Diagnostics.PriceSource)
	}
	if blue.ImageSrc() != "http://shop.test/img/blue.jpg" || blue.Diagnostics.MissingImage {
		t.Fatalf("blue image = %q (%+v)", blue.ImageSrc(), blue.Diagnostics)
	}

	red := variations[0]
	if red.Diagnostics.PriceSource != "endpoint" || red.Prices.Price != "1990" {
		t.Fatalf("red price = %q from %s", red.Prices.Price, red.Diagnostics.PriceSource)
	}
	if len(lines) == 0 || !strings.Contains(lines[len(lines)-1], "price from HTML=1") {
		t.Fatalf("log lines = %v", lines)
	}
}

func TestResolveSkipsProductPageWhenComplete(t *testing.T) {
	store := newFakeStore()
	product := variableProduct(store, true)
	store.variations[10][1]["prices"] = map[string]any{"price": "2500", "regular_price": "2500", "currency_minor_unit": 2}
	store.variations[10][1]["image"] = map[string]any{"src": "/img/blue.jpg"}
	cfg := testConfig()
	resolver := NewResolver(newTestClient(t, cfg, store), cfg)

	variations := resolver.Resolve(context.Background(), siteRoot(t), product)
	if len(variations) != 2 {
		t.Fatalf("variations = %d, want 2", len(variations))
	}
	if got := store.count("page"); got != 0 {
		t.Fatalf("product page requests = %d, want 0", got)
	}
	if variations[1].ImageSrc() != "http://shop.test/img/blue.jpg" {
		t.Fatalf("relative image not absolutised: %q", variations[1].ImageSrc())
	}
}

func TestResolveBatchesByIDs(t *testing.T) {
	store := newFakeStore()
	ids := make([]any, 0, 45)
	for i := 1; i <= 45; i++ {
		ids = append(ids, json.Number(strconv.Itoa(100+i)))
		store.byID[int64(100+i)] = map[string]any{
			"id": 100 + i, "sku": fmt.Sprintf("V-%d", i),
			"prices": map[string]any{"price": "100", "regular_price": "100"},
			"image":  map[string]any{"src": fmt.Sprintf("/img/%d.jpg", i)},
		}
	}
	product := &models.Product{ID: 99, Type: "variable", Raw: models.Record{"id": 99, "variations": ids}}
	cfg := testConfig()
	resolver := NewResolver(newTestClient(t, cfg, store), cfg)

	variations := resolver.Resolve(context.Background(), siteRoot(t), product)
	if len(variations) != 45 {
		t.Fatalf("variations = %d, want 45", len(variations))
	}
	if got := store.count("by_ids"); got != 3 {
		t.Fatalf("by-id requests = %d, want 3 batches", got)
	}
	if variations[0].SKU != "V-1" || variations[44].SKU != "V-45" {
		t.Fatalf("order = %s .. %s", variations[0].SKU, variations[44].SKU)
	}
}

func TestResolveToleratesDeadSources(t *testing.T) {
	store := newFakeStore()
	store.prettyStatus = http.StatusInternalServerError
	product := &models.Product{ID: 5, Type: "variable", Raw: models.Record{"id": 5}}
	cfg := testConfig()
	resolver := NewResolver(newTestClient(t, cfg, store), cfg)

	if got := resolver.Resolve(context.Background(), siteRoot(t), product); len(got) != 0 {
		t.Fatalf("variations = %d, want 0", len(got))
	}
}

func TestCollectImageURLsDropsQuery(t *testing.T) {
	product := &models.Product{
		Images: []models.Image{
			{Src: "http://shop.test/img/a.jpg?w=300"},
			{Src: "http://shop.test/img/a.jpg?w=600#zoom"},
			{Src: "/img/b.jpg"},
		},
		VariationDetails: []*models.Variation{
			{Image: &models.Image{Src: "http://shop.test/img/b.jpg"}},
			{Image: &models.Image{Src: "http://shop.test/img/c.png"}},
			{},
		},
	}
	got := CollectImageURLs(product, siteRoot(t))
	want := []string{"http://shop.test/img/a.jpg", "http://shop.test/img/b.jpg", "http://shop.test/img/c.png"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("urls = %v, want %v", got, want)
	}
}

func TestImageDestination(t *testing.T) {
	dir := filepath.Join("out", "images")
	tests := []struct {
		name       string
		url        string
		wantPrefix string
		wantExt    string
	}{
		{name: "keeps extension", url: "http://shop.test/img/Front%20View.JPG", wantPrefix: "Front-View-", wantExt: ".JPG"},
		{name: "no extension", url: "http://shop.test/media/12345", wantPrefix: "12345-", wantExt: ".bin"},
		{name: "root path", url: "http://shop.test/", wantPrefix: "image-", wantExt: ".bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ImageDestination(tt.url, dir)
			if filepath.Dir(got) != dir {
				t.Fatalf("dir = %q", filepath.Dir(got))
			}
			base := filepath.Base(got)
			if !strings.HasPrefix(base, tt.wantPrefix) || filepath.Ext(base) != tt.wantExt {
				t.Fatalf("name = %q, want %s<hash>%s", base, tt.wantPrefix, tt.wantExt)
			}
			hash := strings.TrimSuffix(strings.TrimPrefix(base, tt.wantPrefix), tt.wantExt)
			if len(hash) != 10 {
				t.Fatalf("hash = %q, want 10 hex chars", hash)
			}
		})
	}
	if ImageDestination("http://shop.test/a.jpg", dir) == ImageDestination("http://shop.test/b/a.jpg", dir) {
		t.Fatalf("different urls must not collide")
	}
}

func TestImageDownloaderDownloadsOncePerURL(t *testing.T) {
	store := newFakeStore()
	store.images["/img/a.jpg"] = "jpeg-bytes"
	store.images["/media/42"] = "png-bytes"
	store.imageTypes["/media/42"] = "image/png"
	cfg := testConfig()
	downloader := NewImageDownloader(newTestClient(t, cfg, store), 4)

	product := &models.Product{Images: []models.Image{
		{Src: "http://shop.test/img/a.jpg?v=1"},
		{Src: "http://shop.test/img/a.jpg?v=2"},
		{Src: "http://shop.test/media/42"},
		{Src: "http://shop.test/missing.jpg"},
	}}
	dir := filepath.Join(t.TempDir(), "images")

	var outcomes []ImageOutcome
	downloaded, skipped := downloader.Download(context.Background(), CollectImageURLs(product, siteRoot(t)), dir, func(o ImageOutcome) {
		outcomes = append(outcomes, o)
	})
	if downloaded != 2 || skipped != 1 {
		t.Fatalf("downloaded=%d skipped=%d, want 2/1", downloaded, skipped)
	}
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outcomes))
	}
	if got := store.count("image:/img/a.jpg"); got != 1 {
		t.Fatalf("a.jpg fetched %d times, want 1", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 2 {
		t.Fatalf("files = %v, want 2", names)
	}
	foundPNG := false
	for _, name := range names {
		if strings.HasPrefix(name, "42-") && strings.HasSuffix(name, ".png") {
			foundPNG = true
		}
	}
	if !foundPNG {
		t.Fatalf("files = %v, want content-type extension for 42", names)
	}
}

func TestDetectExtension(t *testing.T) {
	pngHeader := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	tests := []struct {
		name        string
		contentType string
		body        []byte
		want        string
	}{
		{name: "declared jpeg", contentType: "image/jpeg; charset=binary", want: ".jpg"},
		{name: "declared webp", contentType: "image/webp", want: ".webp"},
		{name: "sniffed png", contentType: "", body: pngHeader, want: ".png"},
		{name: "nothing", contentType: "", body: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectExtension(tt.contentType, tt.body); got != tt.want {
				t.Fatalf("detectExtension = %q, want %q", got, tt.want)
			}
		})
	}
}
