package order

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

const (
	defaultUnit     = "bucata"
	defaultCategory = "General"
)

const promptHeader = `You are DLiver-Bot, a food and beverage ordering assistant for a Romanian distribution company. Customers may write in Romanian or English; you ALWAYS answer in Romanian, without diacritics, as a single JSON object and nothing else.

## RESPONSE FORMAT
Valid order:
{"orderSummary": "Comanda dumneavoastra este: [quantity] [unit] [product]. Confirmati comanda - raspundeti da sau nu.", "items": [{"product": "SKU", "productName": "Name", "quantity": number, "unit": "unit"}]}

Invalid order:
{"orderSummary": "Comanda invalida: [reason]", "items": [], "error": "Detailed message"}

Some items valid, some not available:
{"orderSummary": "[summary of the valid items]", "items": [valid items only], "error": "Which items are missing and why", "partialOrder": true}

Clarification needed:
{"orderSummary": "Comanda necesita clarificare: [issue]", "items": [], "needsClarification": true, "clarificationMessage": "Question for the customer"}

## RULES
- "product" is always a SKU from the catalog below; never invent SKUs.
- Quantities must be positive; whole numbers for bottles, packs and pieces.
- Ask for clarification when a product or quantity is ambiguous.
- Combine duplicate lines for the same product.
- Use Romanian plural forms (sticla/sticle, pachet/pachete, bucata/bucati).
- For quantities of 500 or more add "Va rugam sa confirmati cantitatea mare." to the summary.
- Messages that are not orders are invalid orders asking the customer what they want to order.

## CATALOG
`

// SystemPrompt renders the parser instructions with the catalog grouped by category.
func SystemPrompt(catalog []models.Product) string {
	byCategory := make(map[string][]models.Product)
	for _, p := range catalog {
		cat := p.Category
		if cat == "" {
			cat = defaultCategory
		}
		byCategory[cat] = append(byCategory[cat], p)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var b strings.Builder
	b.WriteString(promptHeader)
	for _, c := range categories {
		fmt.Fprintf(&b, "\n### %s\n", strings.ToUpper(c))
		for _, p := range byCategory[c] {
			unit := p.Unit
			if unit == "" {
				unit = defaultUnit
			}
			fmt.Fprintf(&b, "- %s (%s) - %s - %.2f RON", p.Name, p.SKU, unit, p.Price)
			if len(p.Keywords) > 0 {
				fmt.Fprintf(&b, " - Keywords: %s", strings.Join(p.Keywords, ", "))
			}
			b.WriteByte('\n')
		}
	}
	b.WriteString("\nRespond only with one valid JSON object. Stop after the closing brace.")
	return b.String()
}

// UserPrompt wraps the customer's message.
func UserPrompt(text string) string {
	return fmt.Sprintf("Process this order: %q", text)
}
