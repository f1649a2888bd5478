package normalize

import (
	"strings"

	"github.com/usagedeck/usagedeck/internal/models"
)

// Price contains per-token-class rates in USD per million tokens.
// Cache reads and cache writes are billed at different rates than
// regular input tokens, so they are kept as separate classes.
type Price struct {
	InputPerMillion       float64
	OutputPerMillion      float64
	CacheReadPerMillion   float64
	CacheCreatePerMillion float64
}

// PriceTable maps model families to their prices. Lookup is by family
// substring, so "claude-opus-4-20250514" matches the "opus" entry.
type PriceTable map[string]Price

// familyOrder controls match precedence for the default families; more
// specific names come first so "opus" wins over a generic fallback.
var familyOrder = []string{"opus", "haiku", "sonnet", "o1", "gpt-4o-mini", "gpt-4o", "gpt-4", "gpt-3.5"}

// DefaultPriceTable returns the built-in per-million-token rates.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		"opus": {
			InputPerMillion:       15.0,
			OutputPerMillion:      75.0,
			CacheReadPerMillion:   1.50,
			CacheCreatePerMillion: 18.75,
		},
		"sonnet": {
			InputPerMillion:       3.0,
			OutputPerMillion:      15.0,
			CacheReadPerMillion:   0.30,
			CacheCreatePerMillion: 3.75,
		},
		"haiku": {
			InputPerMillion:       0.80,
			OutputPerMillion:      4.0,
			CacheReadPerMillion:   0.08,
			CacheCreatePerMillion: 1.0,
		},
		"gpt-4o": {
			InputPerMillion:     2.50,
			OutputPerMillion:    10.0,
			CacheReadPerMillion: 1.25,
		},
		"gpt-4o-mini": {
			InputPerMillion:     0.15,
			OutputPerMillion:    0.60,
			CacheReadPerMillion: 0.075,
		},
		"gpt-4": {
			InputPerMillion:  30.0,
			OutputPerMillion: 60.0,
		},
		"gpt-3.5": {
			InputPerMillion:  0.50,
			OutputPerMillion: 1.50,
		},
		"o1": {
			InputPerMillion:     15.0,
			OutputPerMillion:    60.0,
			CacheReadPerMillion: 7.50,
		},
	}
}

// Merge overlays the given entries on top of the table, replacing
// families that already exist and adding ones that do not.
func (t PriceTable) Merge(overrides map[string]Price) PriceTable {
	merged := make(PriceTable, len(t)+len(overrides))
	for family, p := range t {
		merged[family] = p
	}
	for family, p := range overrides {
		merged[strings.ToLower(family)] = p
	}
	return merged
}

// Find returns the price for a model by family substring match. Unknown
// models fall back to the sonnet family so estimates stay conservative
// rather than silently zero.
func (t PriceTable) Find(model string) Price {
	lower := strings.ToLower(model)
	if p, ok := t[lower]; ok {
		return p
	}
	for _, family := range familyOrder {
		if p, ok := t[family]; ok && strings.Contains(lower, family) {
			return p
		}
	}
	for family, p := range t {
		if strings.Contains(lower, family) {
			return p
		}
	}
	return t["sonnet"]
}

// TokenTally holds one model's token counts split by billing class.
type TokenTally struct {
	Input       models.TokenCount
	Output      models.TokenCount
	CacheRead   models.TokenCount
	CacheCreate models.TokenCount
}

// Total returns the sum across all billing classes.
func (tt TokenTally) Total() models.TokenCount {
	return tt.Input + tt.Output + tt.CacheRead + tt.CacheCreate
}

// EstimateCost converts a model's token tally into a dollar estimate,
// rounded to cents.
func (t PriceTable) EstimateCost(model string, tally TokenTally) models.CostUSD {
	p := t.Find(model)
	cost := float64(tally.Input) * p.InputPerMillion / 1_000_000
	cost += float64(tally.Output) * p.OutputPerMillion / 1_000_000
	cost += float64(tally.CacheRead) * p.CacheReadPerMillion / 1_000_000
	cost += float64(tally.CacheCreate) * p.CacheCreatePerMillion / 1_000_000
	return models.CostUSD(cost).Round()
}
