package scraper

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

// Source tags where a variation record was observed.
type Source string

const (
	SourceEndpoint Source = "endpoint"
	SourceInline   Source = "inline"
	SourceByIDs    Source = "byIds"
	SourceHTML     Source = "html"
	SourceNone     Source = "none"
)

// Priority ranks sources for one family of fields. Higher wins; a source
// missing from the table never wins against a listed one.
type Priority map[Source]int

// DefaultGeneralPriority ranks structural fields: API payloads first, the
// scraped page last.
func DefaultGeneralPriority() Priority {
	return Priority{
		SourceEndpoint: 3,
		SourceByIDs:    3,
		SourceInline:   2,
		SourceHTML:     1,
	}
}

// DefaultMediaPriority ranks price and image fields: the rendered page
// first, the bulk API last.
func DefaultMediaPriority() Priority {
	return Priority{
		SourceHTML:     3,
		SourceInline:   2,
		SourceEndpoint: 1,
		SourceByIDs:    1,
	}
}

func (p Priority) rank(s Source) int {
	if r, ok := p[s]; ok {
		return r
	}
	return -1
}

// Candidate is one observation of a variation before merging.
type Candidate struct {
	Source Source
	Record models.Record
}

// pick returns the value of the highest-ranked candidate whose accessor
// reports a value. Ties keep the earliest candidate.
func pick[T any](candidates []Candidate, table Priority, value func(models.Record) (T, bool)) (T, Source) {
	var (
		best     T
		bestFrom = SourceNone
		bestRank = -1 << 31
	)
	for _, c := range candidates {
		v, ok := value(c.Record)
		if !ok {
			continue
		}
		if r := table.rank(c.Source); r > bestRank {
			best, bestFrom, bestRank = v, c.Source, r
		}
	}
	return best, bestFrom
}

func variationID(rec models.Record) (int64, bool) {
	if id, ok := rec.Int("id"); ok && id > 0 {
		return id, true
	}
	if id, ok := rec.Object("raw").Int("id"); ok && id > 0 {
		return id, true
	}
	return 0, false
}

func variationSKU(rec models.Record) (string, bool) {
	if sku := strings.TrimSpace(rec.String("sku")); sku != "" {
		return sku, true
	}
	if sku := strings.TrimSpace(rec.Object("raw").String("sku")); sku != "" {
		return sku, true
	}
	return "", false
}

// dedupKey identifies a variation across sources. Records with neither an
// id nor a SKU cannot be matched and yield "".
func dedupKey(rec models.Record) string {
	if id, ok := rec.Int("id"); ok && id > 0 {
		return "id:" + strconv.FormatInt(id, 10)
	}
	if sku := strings.TrimSpace(rec.String("sku")); sku != "" {
		return "sku:" + sku
	}
	raw := rec.Object("raw")
	if id, ok := raw.Int("id"); ok && id > 0 {
		return "id:" + strconv.FormatInt(id, 10)
	}
	if sku := strings.TrimSpace(raw.String("sku")); sku != "" {
		return "sku:" + sku
	}
	return ""
}

// groupCandidates buckets pool entries by dedup key, keeping first-seen
// key order. Pools are visited in the order given.
func groupCandidates(pools ...[]Candidate) [][]Candidate {
	index := make(map[string]int)
	var groups [][]Candidate
	for _, pool := range pools {
		for _, c := range pool {
			key := dedupKey(c.Record)
			if key == "" {
				continue
			}
			i, ok := index[key]
			if !ok {
				i = len(groups)
				index[key] = i
				groups = append(groups, nil)
			}
			groups[i] = append(groups[i], c)
		}
	}
	return groups
}

func textField(key string) func(models.Record) (string, bool) {
	return func(rec models.Record) (string, bool) {
		v := rec.String(key)
		return v, models.HasContent(v)
	}
}

func boolField(key string) func(models.Record) (bool, bool) {
	return func(rec models.Record) (bool, bool) {
		return rec.Bool(key)
	}
}

// merger resolves candidate groups into variations.
type merger struct {
	general  Priority
	media    Priority
	siteRoot *url.URL
}

func (m merger) resolveAll(pools ...[]Candidate) []*models.Variation {
	groups := groupCandidates(pools...)
	out := make([]*models.Variation, 0, len(groups))
	for _, group := range groups {
		out = append(out, m.resolve(group))
	}
	return out
}

func (m merger) resolve(group []Candidate) *models.Variation {
	v := &models.Variation{}

	v.ID, _ = pick(group, m.general, variationID)
	v.SKU, _ = pick(group, m.general, variationSKU)
	v.Name, _ = pick(group, m.general, textField("name"))
	v.Description, _ = pick(group, m.general, textField("description"))
	v.StockStatus, _ = pick(group, m.general, textField("stock_status"))
	v.TaxStatus, _ = pick(group, m.general, textField("tax_status"))
	if inStock, from := pick(group, m.general, boolField("is_in_stock")); from != SourceNone {
		v.IsInStock = &inStock
	}
	v.Attributes, _ = pick(group, m.general, func(rec models.Record) ([]models.Record, bool) {
		attrs := rec.Records("attributes")
		return attrs, len(attrs) > 0
	})
	if v.Attributes == nil {
		v.Attributes = []models.Record{}
	}
	v.Raw, _ = pick(group, m.general, func(rec models.Record) (models.Record, bool) {
		if raw := rec.Object("raw"); len(raw) > 0 {
			return raw, true
		}
		return rec, len(rec) > 0
	})
	if v.Raw == nil {
		v.Raw = models.Record{}
	}

	prices, priceFrom := pick(group, m.media, func(rec models.Record) (models.PriceBlock, bool) {
		block := parser.NormalizePrices(rec)
		return block, block.HasAmount()
	})
	v.Prices = prices

	src, imageFrom := pick(group, m.media, func(rec models.Record) (string, bool) {
		s := parser.VariationImageSrc(rec, m.siteRoot)
		return s, s != ""
	})
	if src != "" {
		v.Image = &models.Image{Src: src}
	}
	v.Images = m.imageList(group, src)

	v.Diagnostics = models.Diagnostics{
		MissingPrice: prices.MissingPrice(),
		MissingImage: src == "",
		PriceSource:  string(priceFrom),
		ImageSource:  string(imageFrom),
	}
	return v
}

// imageList gathers every image reference the candidates carry, with the
// resolved primary image first.
func (m merger) imageList(group []Candidate, primary string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	add := func(ref string) {
		abs := parser.AbsoluteURL(ref, m.siteRoot)
		if abs == "" {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	if primary != "" {
		add(primary)
	}
	for _, c := range group {
		for _, ref := range parser.ExtractImageURLs(c.Record.Get("images")) {
			add(ref)
		}
		for _, ref := range parser.ExtractImageURLs(c.Record.Object("raw").Get("images")) {
			add(ref)
		}
	}
	return out
}

// missingCounts tallies variations still lacking a price or an image.
func missingCounts(variations []*models.Variation) (prices, images int) {
	for _, v := range variations {
		if v.Diagnostics.MissingPrice {
			prices++
		}
		if v.Diagnostics.MissingImage {
			images++
		}
	}
	return prices, images
}

func countFrom(variations []*models.Variation, source Source) (prices, images int) {
	for _, v := range variations {
		if v.Diagnostics.PriceSource == string(source) {
			prices++
		}
		if v.Diagnostics.ImageSource == string(source) {
			images++
		}
	}
	return prices, images
}
