package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

// BaseColumns are the fixed leading columns of the import file.
var BaseColumns = []string{
	"ID",
	"Type",
	"Parent",
	"SKU",
	"Name",
	"Published",
	"Is featured?",
	"Visibility in catalog",
	"Short description",
	"Description",
	"Tax status",
	"In stock?",
	"Regular price",
	"Sale price",
	"Categories",
	"Tags",
	"Images",
}

const valueSeparator = " | "

// BuildDocument wraps products into the structured metadata document.
func BuildDocument(source string, capturedAt time.Time, products []*models.Product) *models.Document {
	if products == nil {
		products = []*models.Product{}
	}
	return &models.Document{
		Source:     source,
		CapturedAt: capturedAt.UTC(),
		Total:      len(products),
		Products:   products,
	}
}

// MaxAttributeCount is the widest attribute list over all products and
// their variations.
func MaxAttributeCount(products []*models.Product) int {
	max := 0
	for _, p := range products {
		if n := len(p.Attributes); n > max {
			max = n
		}
		for _, v := range p.VariationDetails {
			if n := len(v.Attributes); n > max {
				max = n
			}
		}
	}
	return max
}

// Headers returns the base columns followed by attrCount attribute blocks.
func Headers(attrCount int) []string {
	headers := make([]string, 0, len(BaseColumns)+4*attrCount)
	headers = append(headers, BaseColumns...)
	for i := 1; i <= attrCount; i++ {
		headers = append(headers,
			fmt.Sprintf("Attribute %d name", i),
			fmt.Sprintf("Attribute %d value(s)", i),
			fmt.Sprintf("Attribute %d visible", i),
			fmt.Sprintf("Attribute %d global", i),
		)
	}
	return headers
}

// BuildRows flattens products into import rows: one parent row per
// product, followed by one row per variation of variable products. Every
// row carries every header.
func BuildRows(products []*models.Product) ([]string, []models.ExportRow) {
	attrCount := MaxAttributeCount(products)
	headers := Headers(attrCount)

	rows := make([]models.ExportRow, 0, len(products))
	for _, p := range products {
		variable := parser.IsVariable(p)
		schema := parser.BuildSchema(p.Attributes, p.VariationDetails)
		parentSKU := parser.ParentSKU(p)

		parent := parentRow(p, variable, parentSKU)
		fillAttributes(parent, schema, attrCount, func(def *models.AttributeDefinition) string {
			return strings.Join(def.Values, valueSeparator)
		})
		rows = append(rows, parent)

		if !variable {
			continue
		}
		for _, v := range p.VariationDetails {
			row := variationRow(p, v, parentSKU)
			selections := parser.SelectionMap(v.Attributes)
			fillAttributes(row, schema, attrCount, func(def *models.AttributeDefinition) string {
				return parser.ResolveSelection(def, parser.Selected(def, selections))
			})
			rows = append(rows, row)
		}
	}
	return headers, rows
}

func parentRow(p *models.Product, variable bool, parentSKU string) models.ExportRow {
	productType := parser.DeriveType(p)
	sku := p.SKU
	regular, sale := "", ""
	if variable {
		productType = "variable"
		sku = parentSKU
	} else {
		regular = parser.MinorToDecimal(p.Prices.RegularPrice, p.Prices.CurrencyMinorUnit)
		sale = parser.MinorToDecimal(p.Prices.SalePrice, p.Prices.CurrencyMinorUnit)
	}

	images := make([]string, 0, len(p.Images))
	for _, img := range p.Images {
		if img.Src != "" {
			images = append(images, img.Src)
		}
	}

	return models.ExportRow{
		"ID":                    "",
		"Type":                  productType,
		"Parent":                "",
		"SKU":                   sku,
		"Name":                  p.Name,
		"Published":             "1",
		"Is featured?":          flag(p.IsFeatured),
		"Visibility in catalog": orDefault(p.CatalogVisibility, "visible"),
		"Short description":     p.ShortDescription,
		"Description":           p.Description,
		"Tax status":            orDefault(p.TaxStatus, "taxable"),
		"In stock?":             parser.StockFlag(p.StockStatus, p.IsInStock),
		"Regular price":         regular,
		"Sale price":            sale,
		"Categories":            parser.TermNames(p.Categories),
		"Tags":                  parser.TermNames(p.Tags),
		"Images":                strings.Join(images, ", "),
	}
}

func variationRow(p *models.Product, v *models.Variation, parentSKU string) models.ExportRow {
	minor := v.Prices.CurrencyMinorUnit
	if minor == nil {
		minor = p.Prices.CurrencyMinorUnit
	}

	return models.ExportRow{
		"ID":                    "",
		"Type":                  "variation",
		"Parent":                parentSKU,
		"SKU":                   parser.VariationSKU(v, parentSKU),
		"Name":                  parser.VariationName(v, p.Name),
		"Published":             "1",
		"Is featured?":          "",
		"Visibility in catalog": "visible",
		"Short description":     "",
		"Description":           v.Description,
		"Tax status":            parser.FirstNonEmpty(v.TaxStatus, p.TaxStatus, "taxable"),
		"In stock?":             parser.StockFlag(v.StockStatus, v.IsInStock),
		"Regular price":         parser.MinorToDecimal(parser.FirstNonEmpty(v.Prices.RegularPrice, v.Prices.Price), minor),
		"Sale price":            parser.MinorToDecimal(v.Prices.SalePrice, minor),
		"Categories":            "",
		"Tags":                  "",
		"Images":                v.ImageSrc(),
	}
}

// fillAttributes writes the attribute blocks of row. Blocks past the end of
// the schema are blank.
func fillAttributes(row models.ExportRow, schema []*models.AttributeDefinition, attrCount int, value func(*models.AttributeDefinition) string) {
	for i := 0; i < attrCount; i++ {
		n := i + 1
		nameCol := fmt.Sprintf("Attribute %d name", n)
		valueCol := fmt.Sprintf("Attribute %d value(s)", n)
		visibleCol := fmt.Sprintf("Attribute %d visible", n)
		globalCol := fmt.Sprintf("Attribute %d global", n)

		if i >= len(schema) {
			row[nameCol], row[valueCol], row[visibleCol], row[globalCol] = "", "", "", ""
			continue
		}
		def := schema[i]
		row[nameCol] = def.Name
		row[valueCol] = value(def)
		row[visibleCol] = flag(def.Visible)
		row[globalCol] = flag(def.Global)
	}
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
