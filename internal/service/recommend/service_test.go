package recommend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfinder/internal/domain/geo"
	"marketfinder/internal/domain/market"
	"marketfinder/internal/service/catalog"
	marketService "marketfinder/internal/service/market"
)

var user = geo.Coordinate{Latitude: 3.8480, Longitude: 11.5021}

// kmNorth places a coordinate km kilometers north of c
func kmNorth(c geo.Coordinate, km float64) geo.Coordinate {
	return geo.Coordinate{Latitude: c.Latitude + km/111.19492664455873, Longitude: c.Longitude}
}

type stubCatalog struct {
	markets []market.Market
	err     error
}

func (c stubCatalog) ListMarkets(context.Context) ([]market.Market, error) {
	return c.markets, c.err
}

type stubPositions struct {
	pos *geo.Position
}

func (p stubPositions) Position() (geo.Position, bool) {
	if p.pos == nil {
		return geo.Position{}, false
	}
	return *p.pos, true
}

func catalogMarkets() []market.Market {
	return []market.Market{
		{
			ID: "far", Name: "Far", Category: market.CategoryRegional,
			Coordinate: kmNorth(user, 5),
			Products:   []market.Product{{ID: "1", Name: "Rice", UnitPrice: 2000}},
		},
		{
			ID: "near", Name: "Near", Category: market.CategoryLocal,
			Coordinate: kmNorth(user, 2),
			Products:   []market.Product{{ID: "2", Name: "Rice", UnitPrice: 500}},
		},
		{
			ID: "out", Name: "Out", Category: market.CategoryCentral,
			Coordinate: kmNorth(user, 15),
		},
	}
}

func newService(cat market.CatalogProvider, pos PositionProvider) *Service {
	ranker := marketService.NewRanker(marketService.NewScorer(marketService.DefaultScoringWeights(), marketService.MatchFirst))
	return NewService(cat, ranker, pos)
}

func TestRankUsesTrackedPosition(t *testing.T) {
	p := geo.Position{Coordinate: user}
	svc := newService(stubCatalog{markets: catalogMarkets()}, stubPositions{pos: &p})

	ranking, err := svc.Rank(context.Background(), nil, market.ShoppingList{"rice"})
	require.NoError(t, err)

	assert.Equal(t, user, ranking.Origin)
	assert.False(t, ranking.Degraded)
	require.Len(t, ranking.Comparisons, 3)
	assert.Equal(t, "near", ranking.Comparisons[0].Market.ID)
	assert.InDelta(t, 63.8, ranking.Comparisons[0].Score, 1e-6)
}

func TestRankExplicitOrigin(t *testing.T) {
	svc := newService(stubCatalog{markets: catalogMarkets()}, stubPositions{})

	origin := kmNorth(user, 15)
	ranking, err := svc.Rank(context.Background(), &origin, nil)
	require.NoError(t, err)
	assert.Equal(t, "out", ranking.Comparisons[0].Market.ID)
	assert.InDelta(t, 0, ranking.Comparisons[0].DistanceKm, 1e-6)
}

func TestRankWithoutPosition(t *testing.T) {
	svc := newService(stubCatalog{markets: catalogMarkets()}, stubPositions{})

	_, err := svc.Rank(context.Background(), nil, market.ShoppingList{"rice"})
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestRankDegradedCatalog(t *testing.T) {
	cat := stubCatalog{markets: []market.Market{}, err: market.ErrCatalogUnavailable}
	svc := newService(cat, stubPositions{})

	ranking, err := svc.Rank(context.Background(), &user, market.ShoppingList{"rice"})
	require.NoError(t, err)
	assert.True(t, ranking.Degraded)
	assert.Empty(t, ranking.Comparisons)
}

func TestRankCatalogHardFailure(t *testing.T) {
	svc := newService(stubCatalog{err: errors.New("boom")}, stubPositions{})

	_, err := svc.Rank(context.Background(), &user, nil)
	assert.EqualError(t, err, "boom")
}

func TestNearbyLinearAndIndexedAgree(t *testing.T) {
	svc := newService(stubCatalog{markets: catalogMarkets()}, stubPositions{})

	linear, err := svc.Nearby(context.Background(), &user, 10)
	require.NoError(t, err)

	svc.UpdateCatalog(catalogMarkets())
	indexed, err := svc.Nearby(context.Background(), &user, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"near", "far"}, ids(linear))
	assert.Equal(t, ids(linear), ids(indexed))
}

func ids(ms []market.Market) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

type stubFinder struct {
	markets []market.Market
	err     error
	calls   int
}

func (f *stubFinder) FindNearbyMarkets(context.Context, geo.Coordinate, float64) ([]market.Market, error) {
	f.calls++
	return f.markets, f.err
}

func TestNearbyPrefersFinder(t *testing.T) {
	svc := newService(stubCatalog{markets: catalogMarkets()}, stubPositions{})
	finder := &stubFinder{markets: []market.Market{{ID: "db"}}}
	svc.UseNearbyFinder(finder)

	got, err := svc.Nearby(context.Background(), &user, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"db"}, ids(got))
	assert.Equal(t, 1, finder.calls)
}

func TestNearbyFinderFailureFallsBack(t *testing.T) {
	svc := newService(stubCatalog{markets: catalogMarkets()}, stubPositions{})
	svc.UseNearbyFinder(&stubFinder{err: errors.New("connection refused")})

	got, err := svc.Nearby(context.Background(), &user, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "far"}, ids(got))
}

func TestEditsWithoutEditorAreReadOnly(t *testing.T) {
	svc := newService(stubCatalog{markets: catalogMarkets()}, stubPositions{})
	ctx := context.Background()

	_, err := svc.GetMarket(ctx, "near")
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, svc.SaveMarket(ctx, market.Market{ID: "x"}), ErrReadOnly)
	assert.ErrorIs(t, svc.DeleteMarket(ctx, "near"), ErrReadOnly)
}

func TestEditsReindexCatalog(t *testing.T) {
	static := catalog.NewStatic(catalogMarkets())
	svc := newService(static, stubPositions{})
	svc.UseEditor(static)
	svc.UpdateCatalog(catalogMarkets())
	ctx := context.Background()

	added := market.Market{
		ID: "new", Name: "New", Category: market.CategoryLocal,
		Coordinate: kmNorth(user, 1),
	}
	require.NoError(t, svc.SaveMarket(ctx, added))

	got, err := svc.GetMarket(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "New", got.Name)

	nearby, err := svc.Nearby(ctx, &user, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "near", "far"}, ids(nearby))

	require.NoError(t, svc.DeleteMarket(ctx, "near"))
	nearby, err = svc.Nearby(ctx, &user, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "far"}, ids(nearby))

	assert.ErrorIs(t, svc.DeleteMarket(ctx, "near"), market.ErrMarketNotFound)
}
