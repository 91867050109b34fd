// internal/service/market/scorer.go

package market

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"marketfinder/internal/domain/market"
)

// MatchPolicy decides which product answers a shopping list item when several match
type MatchPolicy string

const (
	// MatchFirst takes the first product in catalog order
	MatchFirst MatchPolicy = "first"

	// MatchCheapest takes the lowest unit price among all matches
	MatchCheapest MatchPolicy = "cheapest"
)

// ScoringWeights holds the distance/price trade-off policy
type ScoringWeights struct {
	DistanceBase      float64
	DistanceFactor    float64
	PriceBase         float64
	PriceDivisor      float64
	UnknownPriceScore float64
	DistanceWeight    float64
	PriceWeight       float64
}

// DefaultScoringWeights returns the reference policy: price weighs 0.7, proximity 0.3
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		DistanceBase:      100,
		DistanceFactor:    2,
		PriceBase:         100,
		PriceDivisor:      10,
		UnknownPriceScore: 50,
		DistanceWeight:    0.3,
		PriceWeight:       0.7,
	}
}

// Scorer computes basket prices and desirability scores
type Scorer struct {
	weights ScoringWeights
	policy  MatchPolicy
}

// NewScorer creates a scorer with the given weights and match policy
func NewScorer(weights ScoringWeights, policy MatchPolicy) *Scorer {
	if policy == "" {
		policy = MatchFirst
	}
	return &Scorer{
		weights: weights,
		policy:  policy,
	}
}

// ComputeTotalPrice sums the unit price of the product matching each list item.
// Matching is a case-insensitive substring test on the product name; unmatched items add nothing.
// A market without products yields 0, which callers treat as unknown rather than free.
func (s *Scorer) ComputeTotalPrice(m market.Market, list market.ShoppingList) float64 {
	if len(m.Products) == 0 {
		return 0
	}

	names := make([]string, len(m.Products))
	for i, p := range m.Products {
		names[i] = strings.ToLower(p.Name)
	}

	total := decimal.Zero
	for _, item := range list {
		needle := strings.ToLower(item)
		if p, ok := s.match(m.Products, names, needle); ok {
			total = total.Add(decimal.NewFromFloat(p.UnitPrice))
		}
	}

	f, _ := total.Float64()
	return f
}

func (s *Scorer) match(products []market.Product, names []string, needle string) (market.Product, bool) {
	var best market.Product
	found := false

	for i, name := range names {
		if !strings.Contains(name, needle) {
			continue
		}
		if s.policy == MatchFirst {
			return products[i], true
		}
		if !found || products[i].UnitPrice < best.UnitPrice {
			best = products[i]
			found = true
		}
	}

	return best, found
}

// ComputeScore combines proximity and basket cost into a single desirability score.
// An unknown price (0) is scored neutrally.
func (s *Scorer) ComputeScore(distanceKm, totalPrice float64) float64 {
	w := s.weights

	distanceScore := math.Max(0, w.DistanceBase-distanceKm*w.DistanceFactor)

	priceScore := w.UnknownPriceScore
	if totalPrice > 0 {
		priceScore = math.Max(0, w.PriceBase-totalPrice/w.PriceDivisor)
	}

	return distanceScore*w.DistanceWeight + priceScore*w.PriceWeight
}
