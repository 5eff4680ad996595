package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// ProductPageSize is the number of catalog rows read per query.
const ProductPageSize = 100

// ListProducts returns the whole catalog ordered by SKU, reading it page by page.
func (d *Directory) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	for page := 0; ; page++ {
		var recs []ProductRecord
		err := d.db.WithContext(ctx).Order("sku").Limit(ProductPageSize).Offset(page * ProductPageSize).Find(&recs).Error
		if err != nil {
			return nil, fmt.Errorf("directory: list products page %d: %w", page, err)
		}
		for _, r := range recs {
			products = append(products, r.toModel())
		}
		if len(recs) < ProductPageSize {
			break
		}
	}
	slog.Debug("Directory.ListProducts: catalog loaded", "count", len(products))
	return products, nil
}

// ExportProducts writes the catalog as an indented JSON array, the format used to tune the
// order parser prompt.
func (d *Directory) ExportProducts(ctx context.Context, w io.Writer) (int, error) {
	products, err := d.ListProducts(ctx)
	if err != nil {
		return 0, err
	}
	if products == nil {
		products = []models.Product{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(products); err != nil {
		return 0, fmt.Errorf("directory: encode products: %w", err)
	}
	return len(products), nil
}
