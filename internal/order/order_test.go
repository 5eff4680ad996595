package order

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCatalog = []models.Product{
	{SKU: "BEV-001", Name: "Coca-Cola", Unit: "sticla", Price: 5.99, Category: "Băuturi Răcoritoare", Keywords: []string{"cola", "coke"}},
	{SKU: "BEV-002", Name: "Pepsi", Unit: "sticla", Price: 5.49, Category: "Băuturi Răcoritoare"},
	{SKU: "LAC-001", Name: "Lapte Zuzu 1.5%", Unit: "cutie", Price: 8.9, Category: "Lactate"},
	{SKU: "X-1", Name: "Fara categorie", Price: 1},
}

type fakeGenerator struct {
	answer string
	err    error
	system string
	user   string
}

func (f *fakeGenerator) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.system, f.user = systemPrompt, userPrompt
	return f.answer, f.err
}

func TestLLMParser_ValidOrder(t *testing.T) {
	gen := &fakeGenerator{answer: `{"orderSummary":"Comanda dumneavoastra este: 2 sticle Coca-Cola. Confirmati comanda - raspundeti da sau nu.","items":[{"product":"BEV-001","productName":"Coca-Cola","quantity":2,"unit":"sticla"}]}`}
	res, err := NewLLMParser(gen).Parse(context.Background(), "Vreau 2 Cola", testCatalog)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "BEV-001", res.Items[0].Product)
	assert.Equal(t, 2.0, res.Items[0].Quantity)
	assert.False(t, res.HasError())
	assert.False(t, res.NeedsClarification)

	assert.Equal(t, `Process this order: "Vreau 2 Cola"`, gen.user, "order text must reach the model unmodified")
	assert.Contains(t, gen.system, "Coca-Cola (BEV-001) - sticla - 5.99 RON - Keywords: cola, coke")
}

func TestLLMParser_PartialOrder(t *testing.T) {
	gen := &fakeGenerator{answer: "```json\n{\"orderSummary\":\"2 sticle Pepsi\",\"items\":[{\"product\":\"BEV-002\",\"quantity\":2}],\"error\":\"Produsul XYZ nu exista\",\"partialOrder\":true}\n```"}
	res, err := NewLLMParser(gen).Parse(context.Background(), "2 pepsi si 5 xyz", testCatalog)
	require.NoError(t, err)
	assert.True(t, res.HasError())
	assert.True(t, res.IsPartialWithItems())
}

func TestLLMParser_InvalidJSONAsksForClarification(t *testing.T) {
	gen := &fakeGenerator{answer: "Sure! Here is your order"}
	res, err := NewLLMParser(gen).Parse(context.Background(), "ceva", testCatalog)
	require.NoError(t, err)
	assert.True(t, res.NeedsClarification)
	assert.NotEmpty(t, res.ClarificationMessage)
	assert.Empty(t, res.Items)
	assert.Contains(t, res.OrderSummary, `"ceva"`)
}

func TestLLMParser_ModelFailureIsReported(t *testing.T) {
	cause := errors.New("429 rate limited")
	gen := &fakeGenerator{err: cause}
	res, err := NewLLMParser(gen).Parse(context.Background(), "3 lapte", testCatalog)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestLLMParser_NoGenerator(t *testing.T) {
	_, err := NewLLMParser(nil).Parse(context.Background(), "x", testCatalog)
	assert.ErrorIs(t, err, ErrNoGenerator)
}

func TestSystemPrompt_Defaults(t *testing.T) {
	prompt := SystemPrompt(testCatalog)
	assert.Contains(t, prompt, "### GENERAL")
	assert.Contains(t, prompt, "Fara categorie (X-1) - bucata - 1.00 RON")
	assert.Less(t, strings.Index(prompt, "### BĂUTURI RĂCORITOARE"), strings.Index(prompt, "### LACTATE"))
}

func TestCatalogValidator(t *testing.T) {
	tests := []struct {
		name       string
		items      []models.LineItem
		wantValid  bool
		wantItems  int
		wantErrSub string
	}{
		{
			name:      "all known",
			items:     []models.LineItem{{Product: "BEV-001", Quantity: 2}, {Product: "LAC-001", ProductName: "Lapte", Quantity: 1}},
			wantValid: true,
			wantItems: 2,
		},
		{
			name:       "unknown sku",
			items:      []models.LineItem{{Product: "BEV-001", Quantity: 2}, {Product: "NOPE-9", ProductName: "Ceva", Quantity: 1}},
			wantValid:  false,
			wantItems:  1,
			wantErrSub: "Produsul Ceva (NOPE-9) nu este disponibil",
		},
		{
			name:       "zero quantity",
			items:      []models.LineItem{{Product: "BEV-002", Quantity: 0}},
			wantValid:  false,
			wantItems:  0,
			wantErrSub: "Pepsi",
		},
		{
			name:      "empty",
			items:     nil,
			wantValid: true,
			wantItems: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := CatalogValidator{}.Validate(tt.items, testCatalog)
			assert.Equal(t, tt.wantValid, res.IsValid)
			assert.Len(t, res.ValidatedItems, tt.wantItems)
			if tt.wantErrSub != "" {
				require.NotEmpty(t, res.Errors)
				assert.Contains(t, strings.Join(res.Errors, ", "), tt.wantErrSub)
			}
		})
	}
}

func TestCatalogValidator_EnrichesFromCatalog(t *testing.T) {
	res := CatalogValidator{}.Validate([]models.LineItem{{Product: "BEV-001", Quantity: 3}}, testCatalog)
	require.Len(t, res.ValidatedItems, 1)
	it := res.ValidatedItems[0]
	assert.Equal(t, "BEV-001", it.SKU)
	assert.Equal(t, 5.99, it.Price)
	assert.True(t, it.Available)
	assert.Equal(t, "Coca-Cola", it.ProductName)
	assert.Equal(t, "sticla", it.Unit)
}

func TestTotalsAndFormatSummary(t *testing.T) {
	items := []models.ValidatedItem{
		{LineItem: models.LineItem{Quantity: 2}, Price: 5.99},
		{LineItem: models.LineItem{Quantity: 1}, Price: 8.9},
	}
	n, total := Totals(items)
	assert.Equal(t, 3.0, n)
	assert.InDelta(t, 20.88, total, 1e-9)
	assert.Equal(t, "Rezumat: 3 articole, Total: 20.88 RON", FormatSummary(items))

	half := []models.ValidatedItem{{LineItem: models.LineItem{Quantity: 2.5}, Price: 4}}
	assert.Equal(t, "Rezumat: 2.5 articole, Total: 10.00 RON", FormatSummary(half))
}
