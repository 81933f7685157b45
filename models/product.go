// Package models defines data structures for the catalog exporter.
package models

import "time"

// PriceBlock mirrors the storefront "prices" object. Amounts stay textual
// because the API reports them in currency minor units.
type PriceBlock struct {
	Price             string `json:"price"`
	RegularPrice      string `json:"regular_price"`
	SalePrice         string `json:"sale_price"`
	CurrencyCode      string `json:"currency_code,omitempty"`
	CurrencySymbol    string `json:"currency_symbol,omitempty"`
	CurrencyMinorUnit *int   `json:"currency_minor_unit,omitempty"`
}

// HasAmount reports whether any of the three price fields is set.
func (p PriceBlock) HasAmount() bool {
	return HasContent(p.Price) || HasContent(p.RegularPrice) || HasContent(p.SalePrice)
}

// MissingPrice reports whether neither the regular nor the current price is set.
func (p PriceBlock) MissingPrice() bool {
	return !HasContent(p.RegularPrice) && !HasContent(p.Price)
}

// Term is a category or tag reference.
type Term struct {
	ID   *int64 `json:"id,omitempty"`
	Slug string `json:"slug,omitempty"`
	Name string `json:"name,omitempty"`
}

// Image is an image reference with an absolute src.
type Image struct {
	ID        int64  `json:"id,omitempty"`
	Src       string `json:"src"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Name      string `json:"name,omitempty"`
	Alt       string `json:"alt,omitempty"`
}

// Product is one catalog entry. VariationDetails stays empty unless the
// product is variable.
type Product struct {
	ID                int64        `json:"id"`
	Name              string       `json:"name"`
	Slug              string       `json:"slug"`
	Type              string       `json:"type"`
	Permalink         string       `json:"permalink"`
	Description       string       `json:"description"`
	ShortDescription  string       `json:"short_description"`
	SKU               string       `json:"sku"`
	StockStatus       string       `json:"stock_status,omitempty"`
	CatalogVisibility string       `json:"catalog_visibility,omitempty"`
	TaxStatus         string       `json:"tax_status,omitempty"`
	IsFeatured        bool         `json:"is_featured"`
	IsInStock         *bool        `json:"is_in_stock,omitempty"`
	Prices            PriceBlock   `json:"prices"`
	Categories        []Term       `json:"categories"`
	Tags              []Term       `json:"tags"`
	Attributes        []Record     `json:"attributes"`
	Images            []Image      `json:"images"`
	VariationDetails  []*Variation `json:"variationDetails"`
	Raw               Record       `json:"raw"`
}

// Diagnostics records which source supplied a variation's price and image.
type Diagnostics struct {
	MissingPrice bool   `json:"missing_price"`
	MissingImage bool   `json:"missing_image"`
	PriceSource  string `json:"price_source"`
	ImageSource  string `json:"image_source"`
}

// Variation is one purchasable option of a variable product after merging
// every source that reported it.
type Variation struct {
	ID          int64       `json:"id,omitempty"`
	Name        string      `json:"name"`
	SKU         string      `json:"sku"`
	Description string      `json:"description"`
	StockStatus string      `json:"stock_status,omitempty"`
	IsInStock   *bool       `json:"is_in_stock,omitempty"`
	TaxStatus   string      `json:"tax_status,omitempty"`
	Prices      PriceBlock  `json:"prices"`
	Attributes  []Record    `json:"attributes"`
	Image       *Image      `json:"image"`
	Images      []string    `json:"images"`
	Raw         Record      `json:"raw"`
	Diagnostics Diagnostics `json:"_diagnostics"`
}

// ImageSrc returns the resolved primary image URL or "".
func (v *Variation) ImageSrc() string {
	if v == nil || v.Image == nil {
		return ""
	}
	return v.Image.Src
}

// AttributeDefinition is the canonical option axis of a product.
type AttributeDefinition struct {
	Name    string
	Visible bool
	Global  bool
	Values  []string
	// Keys are normalized aliases used to match variation attributes.
	Keys []string
	// Options maps normalized value -> display value.
	Options map[string]string
}

// Document is the structured metadata file.
type Document struct {
	Source     string     `json:"source"`
	CapturedAt time.Time  `json:"captured_at"`
	Total      int        `json:"total"`
	Products   []*Product `json:"products"`
}

// ExportRow maps column name to cell value.
type ExportRow map[string]string
