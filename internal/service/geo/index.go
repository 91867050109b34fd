// internal/service/geo/index.go

package geo

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"

	"marketfinder/internal/domain/geo"
	"marketfinder/internal/domain/market"
)

const (
	dimensions  = 2
	minChildren = 25
	maxChildren = 50
	tolerance   = 1e-9
)

// indexedMarket wraps a market for R-Tree indexing
type indexedMarket struct {
	pos    int
	market market.Market
	rect   *rtreego.Rect
}

var _ rtreego.Spatial = (*indexedMarket)(nil)

func (im *indexedMarket) Bounds() *rtreego.Rect {
	return im.rect
}

// MarketIndex is a thread-safe R-Tree over market coordinates.
// It narrows radius queries to a bounding box before the exact haversine check.
type MarketIndex struct {
	tree  *rtreego.Rtree
	count int
	mu    sync.RWMutex
}

// NewMarketIndex builds an index over the given markets, keeping catalog order for ties
func NewMarketIndex(markets []market.Market) *MarketIndex {
	idx := &MarketIndex{}
	idx.Rebuild(markets)
	return idx
}

// Rebuild replaces the indexed markets
func (idx *MarketIndex) Rebuild(markets []market.Market) {
	tree := rtreego.NewTree(dimensions, minChildren, maxChildren)
	for i, m := range markets {
		p := rtreego.Point{m.Coordinate.Latitude, m.Coordinate.Longitude}
		tree.Insert(&indexedMarket{pos: i, market: m, rect: p.ToRect(tolerance)})
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.tree = tree
	idx.count = len(markets)
}

// Size returns the number of indexed markets
func (idx *MarketIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.count
}

// Within returns markets within radiusKm of center, closest first
func (idx *MarketIndex) Within(center geo.Coordinate, radiusKm float64) ([]market.Market, error) {
	if radiusKm < 0 {
		return []market.Market{}, nil
	}

	angular := radiusKm / EarthRadiusKm
	latDeg := angular * (180 / math.Pi)
	minLat := math.Max(-90, center.Latitude-latDeg)
	maxLat := math.Min(90, center.Latitude+latDeg)

	// Widest longitude extent of a spherical cap; a cap reaching a pole spans every meridian
	lonDeg := 360.0
	if minLat > -90 && maxLat < 90 {
		if x := math.Sin(angular) / math.Cos(radians(center.Latitude)); x < 1 {
			lonDeg = math.Asin(x) * (180 / math.Pi)
		}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var candidates []rtreego.Spatial
	for _, lon := range lonRanges(center.Longitude, lonDeg) {
		bounds, err := rtreego.NewRect(
			rtreego.Point{minLat, lon[0]},
			[]float64{math.Max(maxLat-minLat, tolerance), math.Max(lon[1]-lon[0], tolerance)},
		)
		if err != nil {
			return nil, fmt.Errorf("invalid radius search: %w", err)
		}
		candidates = append(candidates, idx.tree.SearchIntersect(bounds)...)
	}

	type hit struct {
		item *indexedMarket
		dist float64
	}

	seen := make(map[int]bool, len(candidates))
	hits := make([]hit, 0, len(candidates))
	for _, c := range candidates {
		item, ok := c.(*indexedMarket)
		if !ok || seen[item.pos] {
			continue
		}
		seen[item.pos] = true

		d := DistanceKm(center, item.market.Coordinate)
		if d <= radiusKm {
			hits = append(hits, hit{item: item, dist: d})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].item.pos < hits[j].item.pos
	})

	result := make([]market.Market, len(hits))
	for i, h := range hits {
		result[i] = h.item.market
	}
	return result, nil
}

// lonRanges splits a longitude window that crosses the antimeridian into two boxes
func lonRanges(center, halfWidth float64) [][2]float64 {
	if halfWidth >= 180 {
		return [][2]float64{{-180, 180}}
	}

	lo, hi := center-halfWidth, center+halfWidth
	switch {
	case lo < -180:
		return [][2]float64{{lo + 360, 180}, {-180, hi}}
	case hi > 180:
		return [][2]float64{{lo, 180}, {-180, hi - 360}}
	default:
		return [][2]float64{{lo, hi}}
	}
}
