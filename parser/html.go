package parser

import (
	"bytes"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

const variationFormSelector = "form.variations_form[data-product_variations]"

// ParseVariationForms extracts the variation entries embedded in the
// product page's variation forms.
func ParseVariationForms(page []byte) ([]models.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse product page: %w", err)
	}

	var out []models.Record
	doc.Find(variationFormSelector).Each(func(_ int, form *goquery.Selection) {
		attr, ok := form.Attr("data-product_variations")
		if !ok || strings.TrimSpace(attr) == "" {
			return
		}
		for _, item := range DecodeVariationsAttr(attr) {
			if rec := MapHTMLVariation(models.AsRecord(item)); rec != nil {
				out = append(out, rec)
			}
		}
	})
	return out, nil
}

// DecodeVariationsAttr parses the JSON array held by the variations
// attribute. The HTML parser already decodes one level of entities; pages
// that double-encode need a second unescape pass.
func DecodeVariationsAttr(attr string) []any {
	for _, candidate := range []string{attr, html.UnescapeString(attr)} {
		parsed, err := models.DecodeAny([]byte(candidate))
		if err != nil {
			continue
		}
		if list, ok := parsed.([]any); ok {
			return list
		}
	}
	return nil
}

// MapHTMLVariation converts one entry of the page's variation data to the
// record shape used by the API sources. The original entry is kept under raw.
func MapHTMLVariation(v models.Record) models.Record {
	if v == nil {
		return nil
	}

	displayPrice := FormatDecimal(FirstNonEmpty(v.String("display_price"), v.String("price"), v.String("price_raw")))
	displayRegular := FormatDecimal(FirstNonEmpty(
		v.String("display_regular_price"),
		v.String("regular_price"),
		v.String("regular_price_raw"),
		v.String("display_price"),
		v.String("price"),
	))
	salePrice := FormatDecimal(FirstNonEmpty(v.String("display_sale_price"), v.String("sale_price"), v.String("sale_price_raw")))
	if salePrice == "" && displayRegular != "" && displayPrice != "" {
		regular, errR := strconv.ParseFloat(displayRegular, 64)
		current, errC := strconv.ParseFloat(displayPrice, 64)
		if errR == nil && errC == nil && regular > current {
			salePrice = displayPrice
		}
	}

	rec := models.Record{
		"sku":         v.String("sku"),
		"name":        FirstNonEmpty(v.String("variation_description"), v.String("name")),
		"description": FirstNonEmpty(v.String("variation_description"), v.String("description")),
		"attributes":  htmlAttributes(v.Object("attributes")),
		"prices": models.Record{
			"regular_price": displayRegular,
			"price":         displayPrice,
			"sale_price":    salePrice,
		},
		"image": models.Record{"src": htmlImageSrc(v.Object("image"))},
		"raw":   v,
	}
	if id, ok := v.Int("variation_id"); ok {
		rec["id"] = id
	} else if id, ok := v.Int("id"); ok {
		rec["id"] = id
	}
	if inStock, ok := v.Bool("is_in_stock"); ok {
		rec["is_in_stock"] = inStock
		if !inStock {
			rec["stock_status"] = "outofstock"
		}
	}
	return rec
}

// htmlAttributes turns {"attribute_pa_color": "blue"} into
// [{"name": "pa_color", "option": "blue"}], sorted by key.
func htmlAttributes(attrs models.Record) []any {
	if len(attrs) == 0 {
		return []any{}
	}
	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(keys))
	for _, key := range keys {
		value := attrs.Get(key)
		if !models.HasContent(value) {
			continue
		}
		out = append(out, models.Record{
			"name":   strings.TrimPrefix(key, "attribute_"),
			"option": models.ScalarString(value),
		})
	}
	return out
}

func htmlImageSrc(image models.Record) string {
	return strings.TrimSpace(FirstNonEmpty(image.String("full_src"), image.String("src"), image.String("url")))
}
