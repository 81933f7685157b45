// Package parser turns raw storefront records into normalized products,
// attribute schemas and export-ready values.
package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// ValidateProduct reports the fields an importer needs that the storefront
// did not provide. Products failing validation are still exported.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	var errs []error
	if p.ID <= 0 {
		errs = append(errs, fmt.Errorf("product missing id"))
	}
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, fmt.Errorf("product %d missing name", p.ID))
	}
	if IsVariable(p) {
		if len(p.VariationDetails) == 0 {
			errs = append(errs, fmt.Errorf("variable product %d has no variations", p.ID))
		}
		for _, v := range p.VariationDetails {
			if v.Diagnostics.MissingPrice {
				errs = append(errs, fmt.Errorf("variation %d of product %d missing price", v.ID, p.ID))
			}
		}
	} else if p.Prices.MissingPrice() {
		errs = append(errs, fmt.Errorf("product %d missing price", p.ID))
	}
	return errors.Join(errs...)
}
