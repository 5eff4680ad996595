package order

import (
	"fmt"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// Validator cross-checks parsed line items against the catalog.
type Validator interface {
	Validate(items []models.LineItem, catalog []models.Product) models.ValidationResult
}

// CatalogValidator matches line items to catalog entries by SKU.
type CatalogValidator struct{}

var _ Validator = CatalogValidator{}

// Validate returns the matched items enriched with catalog price, and one error per rejected line.
func (CatalogValidator) Validate(items []models.LineItem, catalog []models.Product) models.ValidationResult {
	bySKU := make(map[string]models.Product, len(catalog))
	for _, p := range catalog {
		bySKU[p.SKU] = p
	}

	res := models.ValidationResult{ValidatedItems: []models.ValidatedItem{}}
	for _, item := range items {
		name := item.ProductName
		if name == "" {
			name = item.Product
		}
		product, ok := bySKU[item.Product]
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("Produsul %s (%s) nu este disponibil", name, item.Product))
			continue
		}
		if item.Quantity <= 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("Cantitatea pentru %s trebuie sa fie mai mare decat 0", product.Name))
			continue
		}
		validated := models.ValidatedItem{
			LineItem:  item,
			SKU:       product.SKU,
			Price:     product.Price,
			Available: true,
		}
		if validated.ProductName == "" {
			validated.ProductName = product.Name
		}
		if validated.Unit == "" {
			validated.Unit = product.Unit
		}
		res.ValidatedItems = append(res.ValidatedItems, validated)
	}
	res.IsValid = len(res.Errors) == 0
	return res
}
