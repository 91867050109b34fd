// internal/service/market/ranker.go

package market

import (
	"sort"

	"marketfinder/internal/domain/geo"
	"marketfinder/internal/domain/market"
	geoService "marketfinder/internal/service/geo"
)

// Ranker orders markets for a user position
type Ranker struct {
	scorer *Scorer
}

// NewRanker creates a ranker around a scorer
func NewRanker(scorer *Scorer) *Ranker {
	return &Ranker{
		scorer: scorer,
	}
}

// RankMarkets scores every market and returns them best first.
// Markets with equal scores keep catalog order.
func (r *Ranker) RankMarkets(user geo.Coordinate, markets []market.Market, list market.ShoppingList) []market.Comparison {
	comparisons := make([]market.Comparison, 0, len(markets))

	for _, m := range markets {
		distance := geoService.DistanceKm(user, m.Coordinate)
		total := r.scorer.ComputeTotalPrice(m, list)

		comparisons = append(comparisons, market.Comparison{
			Market:     m,
			DistanceKm: distance,
			TotalPrice: total,
			Score:      r.scorer.ComputeScore(distance, total),
		})
	}

	sort.SliceStable(comparisons, func(i, j int) bool {
		return comparisons[i].Score > comparisons[j].Score
	})

	return comparisons
}

// NearbyMarkets returns the markets within radiusKm of the user, closest first
func (r *Ranker) NearbyMarkets(user geo.Coordinate, markets []market.Market, radiusKm float64) []market.Market {
	type candidate struct {
		market   market.Market
		distance float64
	}

	candidates := make([]candidate, 0, len(markets))
	for _, m := range markets {
		d := geoService.DistanceKm(user, m.Coordinate)
		if d <= radiusKm {
			candidates = append(candidates, candidate{market: m, distance: d})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})

	nearby := make([]market.Market, len(candidates))
	for i, c := range candidates {
		nearby[i] = c.market
	}
	return nearby
}
