package order

import (
	"fmt"
	"strconv"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// Totals returns the total quantity and the unrounded total price of the items.
func Totals(items []models.ValidatedItem) (totalItems, totalPrice float64) {
	return models.ItemsQuantity(items), models.ItemsTotal(items)
}

// FormatSummary renders the totals line shown to the customer. Rounding to two decimals
// happens only here.
func FormatSummary(items []models.ValidatedItem) string {
	totalItems, totalPrice := Totals(items)
	return fmt.Sprintf("Rezumat: %s articole, Total: %.2f RON", strconv.FormatFloat(totalItems, 'f', -1, 64), totalPrice)
}
