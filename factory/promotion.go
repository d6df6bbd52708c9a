/*
Package factory provides JSON and YAML to Go conversion for catalog data.

PURPOSE:
  Converts promotion definitions into ledger.Promotion values and parses
  seed files. Promotions can be authored as JSON (admin UI, API payloads)
  or listed in a YAML seed file, and the factory produces the same struct.

JSON SCHEMA:
  {
    "name": "Spring Bonus",
    "description": "1 extra point per dollar",
    "type": "automatic",
    "startTime": "2025-03-01T00:00:00Z",
    "endTime": "2025-03-31T23:59:59Z",
    "minSpending": 10,
    "rate": 0.01,
    "points": 0
  }

  "type" accepts "automatic" and "one-time" (or "onetime"). rate is points
  per cent spent, so 0.01 adds one point per dollar.

USAGE:
  f := factory.NewPromotionFactory()
  promo, err := f.ParsePromotion(jsonString)
  created, err := engine.CreatePromotion(ctx, manager, *promo)

SEE ALSO:
  - ledger/types.go: Promotion type definition
  - factory/seed.go: YAML seed files
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PromotionJSON is the wire representation of a promotion.
type PromotionJSON struct {
	ID          int64            `json:"id,omitempty"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Type        string           `json:"type"`
	StartTime   time.Time        `json:"startTime"`
	EndTime     time.Time        `json:"endTime"`
	MinSpending *decimal.Decimal `json:"minSpending,omitempty"`
	Rate        *decimal.Decimal `json:"rate,omitempty"`
	Points      *int64           `json:"points,omitempty"`
}

// =============================================================================
// PROMOTION FACTORY
// =============================================================================

// PromotionFactory converts promotion definitions to ledger.Promotion.
type PromotionFactory struct{}

// NewPromotionFactory creates a new promotion factory.
func NewPromotionFactory() *PromotionFactory {
	return &PromotionFactory{}
}

// ParsePromotion parses a JSON string into a Promotion.
func (f *PromotionFactory) ParsePromotion(jsonStr string) (*ledger.Promotion, error) {
	var pj PromotionJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("failed to parse promotion JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts PromotionJSON to a ledger.Promotion. Only the shape is
// checked here; business rules (start not in the past, end after start) are
// enforced by the engine when the promotion is created.
func (f *PromotionFactory) FromJSON(pj PromotionJSON) (*ledger.Promotion, error) {
	kind, ok := ledger.ParsePromotionKind(pj.Type)
	if !ok {
		return nil, fmt.Errorf("unknown promotion type: %q", pj.Type)
	}
	if pj.Name == "" {
		return nil, fmt.Errorf("promotion name is required")
	}
	if pj.StartTime.IsZero() || pj.EndTime.IsZero() {
		return nil, fmt.Errorf("promotion %q: startTime and endTime are required", pj.Name)
	}

	return &ledger.Promotion{
		ID:          pj.ID,
		Name:        pj.Name,
		Description: pj.Description,
		Kind:        kind,
		StartTime:   pj.StartTime.UTC(),
		EndTime:     pj.EndTime.UTC(),
		MinSpending: pj.MinSpending,
		Rate:        pj.Rate,
		Points:      pj.Points,
	}, nil
}

// ToJSON converts a Promotion to PromotionJSON.
func (f *PromotionFactory) ToJSON(p *ledger.Promotion) PromotionJSON {
	typ := string(p.Kind)
	if p.Kind == ledger.PromotionOneTime {
		typ = "one-time"
	}
	return PromotionJSON{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Type:        typ,
		StartTime:   p.StartTime,
		EndTime:     p.EndTime,
		MinSpending: p.MinSpending,
		Rate:        p.Rate,
		Points:      p.Points,
	}
}
