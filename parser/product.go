package parser

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// SimplifyProduct maps a raw storefront product into a Product with
// normalized terms, deduped attributes and absolute image URLs.
func SimplifyProduct(raw models.Record, siteRoot *url.URL) *models.Product {
	id, _ := raw.Int("id")
	product := &models.Product{
		ID:                id,
		Name:              raw.String("name"),
		Slug:              raw.String("slug"),
		Type:              raw.String("type"),
		Permalink:         raw.String("permalink"),
		Description:       raw.String("description"),
		ShortDescription:  raw.String("short_description"),
		SKU:               raw.String("sku"),
		StockStatus:       raw.String("stock_status"),
		CatalogVisibility: raw.String("catalog_visibility"),
		TaxStatus:         raw.String("tax_status"),
		Prices:            ProductPrices(raw),
		Categories:        NormalizeTerms(raw.List("categories")),
		Tags:              NormalizeTerms(raw.List("tags")),
		Attributes:        NormalizeAttributes(raw.Records("attributes")),
		Images:            ProductImages(raw, siteRoot),
		VariationDetails:  []*models.Variation{},
		Raw:               raw,
	}
	if featured, ok := raw.Bool("is_featured"); ok {
		product.IsFeatured = featured
	}
	if inStock, ok := raw.Bool("is_in_stock"); ok {
		product.IsInStock = &inStock
	}
	return product
}

// DeriveType returns the lower-cased product type, defaulting to "simple".
func DeriveType(p *models.Product) string {
	if t := strings.TrimSpace(p.Type); t != "" {
		return strings.ToLower(t)
	}
	return "simple"
}

// IsVariable reports whether the product carries variations.
func IsVariable(p *models.Product) bool {
	if DeriveType(p) == "variable" {
		return true
	}
	if hasOptions, ok := p.Raw.Bool("has_options"); ok && hasOptions {
		return true
	}
	return len(p.Raw.List("variations")) > 0
}

// ParentSKU is the SKU variation rows link to.
func ParentSKU(p *models.Product) string {
	if p.SKU != "" {
		return p.SKU
	}
	return "parent-" + strconv.FormatInt(p.ID, 10)
}

// VariationSKU falls back to "{parent}-var-{id}" when the variation has no SKU.
func VariationSKU(v *models.Variation, parentSKU string) string {
	if v.SKU != "" {
		return v.SKU
	}
	id := "item"
	if v.ID != 0 {
		id = strconv.FormatInt(v.ID, 10)
	}
	return fmt.Sprintf("%s-var-%s", parentSKU, id)
}

// VariationName uses the variation's own name, else "{parent} - a / b".
func VariationName(v *models.Variation, parentName string) string {
	if v.Name != "" {
		return v.Name
	}
	if parentName == "" {
		parentName = "Variation"
	}
	var parts []string
	for _, attr := range v.Attributes {
		values := AttributeValues(attr, ResolveIdentity(attr))
		if len(values) > 0 && values[0] != "" {
			parts = append(parts, values[0])
		}
	}
	if len(parts) > 0 {
		return parentName + " - " + strings.Join(parts, " / ")
	}
	id := "item"
	if v.ID != 0 {
		id = strconv.FormatInt(v.ID, 10)
	}
	return parentName + " - " + id
}

// StockFlag renders stock as "1", "0" or "" when unknown.
func StockFlag(status string, inStock *bool) string {
	if status == "instock" || (inStock != nil && *inStock) {
		return "1"
	}
	if status == "outofstock" || (inStock != nil && !*inStock) {
		return "0"
	}
	return ""
}
