package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

var (
	integerAmount = regexp.MustCompile(`^-?\d+$`)
	decimalAmount = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
)

// MinorToDecimal converts an amount in currency minor units to a decimal
// string with minorUnit places ("1999", 2 -> "19.99"). Values that already
// contain a decimal point are returned unchanged. A nil minorUnit passes
// plain numbers through and blanks anything else.
func MinorToDecimal(value string, minorUnit *int) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return ""
	}
	raw = strings.Replace(raw, ",", ".", 1)
	if strings.Contains(raw, ".") {
		return raw
	}
	if minorUnit == nil {
		if decimalAmount.MatchString(raw) {
			return raw
		}
		return ""
	}
	minor := *minorUnit
	if minor < 0 {
		minor = 0
	}
	if integerAmount.MatchString(raw) {
		return shiftDecimal(raw, minor)
	}

	numeric, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(numeric) || math.IsInf(numeric, 0) {
		return ""
	}
	converted := numeric / math.Pow10(minor)
	if minor > 0 {
		return strconv.FormatFloat(converted, 'f', minor, 64)
	}
	return strconv.FormatFloat(converted, 'f', -1, 64)
}

// shiftDecimal places a decimal point minor digits from the right of an
// integer literal without going through floating point.
func shiftDecimal(digits string, minor int) string {
	negative := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")
	digits = strings.TrimLeft(digits, "0")
	if minor == 0 {
		if digits == "" {
			return "0"
		}
		if negative {
			return "-" + digits
		}
		return digits
	}
	if len(digits) <= minor {
		digits = strings.Repeat("0", minor-len(digits)+1) + digits
	}
	out := digits[:len(digits)-minor] + "." + digits[len(digits)-minor:]
	if negative && strings.Trim(out, "0.") != "" {
		out = "-" + out
	}
	return out
}

// FormatDecimal renders a display price with two decimals. Unparseable
// input yields "".
func FormatDecimal(value string) string {
	raw := strings.TrimSpace(strings.Replace(value, ",", ".", 1))
	if raw == "" {
		return ""
	}
	numeric, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(numeric) || math.IsInf(numeric, 0) {
		return ""
	}
	return strconv.FormatFloat(numeric, 'f', 2, 64)
}

// NormalizePrices flattens the price fields of a variation-like record,
// looking at the record, its "prices" object and the same pair under "raw".
func NormalizePrices(rec models.Record) models.PriceBlock {
	prices := rec.Object("prices")
	raw := rec.Object("raw")
	rawPrices := raw.Object("prices")

	block := models.PriceBlock{
		CurrencyCode:   FirstNonEmpty(prices.String("currency_code"), rawPrices.String("currency_code")),
		CurrencySymbol: FirstNonEmpty(prices.String("currency_symbol"), rawPrices.String("currency_symbol")),
	}
	for _, v := range []any{
		prices.Get("currency_minor_unit"),
		rec.Get("currency_minor_unit"),
		rawPrices.Get("currency_minor_unit"),
		raw.Get("currency_minor_unit"),
	} {
		if !models.HasContent(v) {
			continue
		}
		if n, ok := models.ScalarInt(v); ok {
			minor := int(n)
			block.CurrencyMinorUnit = &minor
		}
		break
	}

	block.Price = FirstNonEmpty(prices.String("price"), rec.String("price"), rawPrices.String("price"), raw.String("price"))
	block.RegularPrice = FirstNonEmpty(
		prices.String("regular_price"),
		block.Price,
		rec.String("regular_price"),
		rawPrices.String("regular_price"),
		raw.String("regular_price"),
	)
	block.SalePrice = FirstNonEmpty(prices.String("sale_price"), rec.String("sale_price"), rawPrices.String("sale_price"), raw.String("sale_price"))
	return block
}

// ProductPrices reads a product's own "prices" object without fallbacks.
func ProductPrices(rec models.Record) models.PriceBlock {
	prices := rec.Object("prices")
	block := models.PriceBlock{
		Price:          prices.String("price"),
		RegularPrice:   prices.String("regular_price"),
		SalePrice:      prices.String("sale_price"),
		CurrencyCode:   prices.String("currency_code"),
		CurrencySymbol: prices.String("currency_symbol"),
	}
	if n, ok := prices.Int("currency_minor_unit"); ok {
		minor := int(n)
		block.CurrencyMinorUnit = &minor
	}
	return block
}
