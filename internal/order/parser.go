// Package order turns free-text orders into validated line items.
//
// Parsing is delegated to a language model that answers with a JSON order proposal; the
// validator then checks every line against the live catalog before the customer is asked to
// confirm.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// Parser turns a free-text order into a structured proposal.
type Parser interface {
	Parse(ctx context.Context, text string, catalog []models.Product) (*models.ParseResult, error)
}

// JSONGenerator is the language model capability the parser needs.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

var (
	// ErrNoGenerator is returned when the parser was built without a language model.
	ErrNoGenerator = errors.New("order parser has no language model")
	// ErrModelUnavailable wraps a failed call to the language model.
	ErrModelUnavailable = errors.New("order parser: language model unavailable")
)

// LLMParser parses orders with a language model in JSON mode.
type LLMParser struct {
	gen JSONGenerator
}

var _ Parser = (*LLMParser)(nil)

// NewLLMParser creates a parser backed by gen.
func NewLLMParser(gen JSONGenerator) *LLMParser {
	return &LLMParser{gen: gen}
}

// Parse asks the model for an order proposal.
//
// An answer that is not valid JSON yields a clarification request. A missing or failing model is
// reported as an error (ErrNoGenerator, ErrModelUnavailable) and the caller keeps the raw text for
// manual processing.
func (p *LLMParser) Parse(ctx context.Context, text string, catalog []models.Product) (*models.ParseResult, error) {
	if p == nil || p.gen == nil {
		return nil, ErrNoGenerator
	}
	slog.Debug("LLMParser.Parse: parsing order", "text_length", len(text), "catalog_size", len(catalog))

	raw, err := p.gen.GenerateJSON(ctx, SystemPrompt(catalog), UserPrompt(text))
	if err != nil {
		slog.Error("LLMParser.Parse: model call failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	result, err := decodeResult(raw)
	if err != nil {
		slog.Warn("LLMParser.Parse: model answer is not a valid order proposal", "error", err, "raw", raw)
		return &models.ParseResult{
			OrderSummary:         fmt.Sprintf("Nu am putut procesa comanda: %q. Va rugam sa specificati produsele si cantitatile clar.", text),
			NeedsClarification:   true,
			ClarificationMessage: "Va rugam sa reformulati comanda cu produse si cantitati specifice.",
		}, nil
	}
	slog.Debug("LLMParser.Parse: order parsed", "items", len(result.Items), "error", result.Error,
		"clarification", result.NeedsClarification, "partial", result.PartialOrder)
	return result, nil
}

// decodeResult parses the model answer, tolerating code fences around the JSON object.
func decodeResult(raw string) (*models.ParseResult, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty answer")
	}
	var result models.ParseResult
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
