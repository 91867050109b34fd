// internal/service/recommend/service.go

// Package recommend joins the tracked position, the market catalog and the ranker.
package recommend

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"marketfinder/internal/domain/geo"
	"marketfinder/internal/domain/market"
	"marketfinder/internal/logging"
	"marketfinder/internal/metrics"
	geoService "marketfinder/internal/service/geo"
	marketService "marketfinder/internal/service/market"
)

// ErrNoPosition is returned when no origin was given and none has been tracked yet
var ErrNoPosition = errors.New("no position available")

// ErrReadOnly is returned by catalog edits when no editor is configured
var ErrReadOnly = errors.New("catalog is read-only")

// NearbyFinder answers radius queries at the catalog source
type NearbyFinder interface {
	FindNearbyMarkets(ctx context.Context, center geo.Coordinate, radiusKm float64) ([]market.Market, error)
}

// PositionProvider supplies the last known user position
type PositionProvider interface {
	Position() (geo.Position, bool)
}

// Ranking is the outcome of a rank request
type Ranking struct {
	Origin      geo.Coordinate      `json:"origin"`
	Comparisons []market.Comparison `json:"comparisons"`

	// Degraded is set when the catalog was unavailable and a cached or empty list was used
	Degraded bool `json:"degraded"`
}

// Service answers ranking and nearby queries
type Service struct {
	catalog   market.CatalogProvider
	ranker    *marketService.Ranker
	positions PositionProvider
	index     *geoService.MarketIndex
	editor    market.CatalogEditor
	finder    NearbyFinder
	logger    zerolog.Logger
}

// NewService creates a recommendation service
func NewService(catalog market.CatalogProvider, ranker *marketService.Ranker, positions PositionProvider) *Service {
	return &Service{
		catalog:   catalog,
		ranker:    ranker,
		positions: positions,
		index:     geoService.NewMarketIndex(nil),
		logger:    logging.WithComponent("recommend"),
	}
}

// UseEditor enables GetMarket, SaveMarket and DeleteMarket
func (s *Service) UseEditor(editor market.CatalogEditor) {
	s.editor = editor
}

// UseNearbyFinder routes Nearby to f, falling back to the in-process index on error
func (s *Service) UseNearbyFinder(f NearbyFinder) {
	s.finder = f
}

// UpdateCatalog rebuilds the spatial index used by Nearby
func (s *Service) UpdateCatalog(markets []market.Market) {
	s.index.Rebuild(markets)
	s.logger.Debug().Int("markets", len(markets)).Msg("Spatial index rebuilt")
}

// Markets lists the catalog. A degraded catalog yields the fallback list and no error.
func (s *Service) Markets(ctx context.Context) ([]market.Market, bool, error) {
	markets, err := s.catalog.ListMarkets(ctx)
	if err != nil {
		if errors.Is(err, market.ErrCatalogUnavailable) {
			return markets, true, nil
		}
		return nil, false, err
	}
	return markets, false, nil
}

func (s *Service) resolveOrigin(origin *geo.Coordinate) (geo.Coordinate, error) {
	if origin != nil {
		return *origin, nil
	}
	if s.positions != nil {
		if pos, ok := s.positions.Position(); ok {
			return pos.Coordinate, nil
		}
	}
	return geo.Coordinate{}, ErrNoPosition
}

// Rank ranks every market for list from origin, or from the tracked position when origin is nil
func (s *Service) Rank(ctx context.Context, origin *geo.Coordinate, list market.ShoppingList) (Ranking, error) {
	from, err := s.resolveOrigin(origin)
	if err != nil {
		return Ranking{}, err
	}

	markets, degraded, err := s.Markets(ctx)
	if err != nil {
		return Ranking{}, err
	}

	start := time.Now()
	comparisons := s.ranker.RankMarkets(from, markets, list)
	metrics.RankingDuration.WithLabelValues("rank").Observe(time.Since(start).Seconds())
	metrics.RankedMarkets.Set(float64(len(comparisons)))

	return Ranking{Origin: from, Comparisons: comparisons, Degraded: degraded}, nil
}

// Nearby returns markets within radiusKm, closest first. The spatial index is
// used once a catalog refresh has populated it.
func (s *Service) Nearby(ctx context.Context, origin *geo.Coordinate, radiusKm float64) ([]market.Market, error) {
	from, err := s.resolveOrigin(origin)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.RankingDuration.WithLabelValues("nearby").Observe(time.Since(start).Seconds())
	}()

	if s.finder != nil {
		markets, err := s.finder.FindNearbyMarkets(ctx, from, radiusKm)
		if err == nil {
			return markets, nil
		}
		s.logger.Warn().Err(err).Msg("Nearby lookup at catalog source failed, using local index")
	}

	if s.index.Size() > 0 {
		return s.index.Within(from, radiusKm)
	}

	markets, _, err := s.Markets(ctx)
	if err != nil {
		return nil, err
	}
	return s.ranker.NearbyMarkets(from, markets, radiusKm), nil
}

// GetMarket fetches one market from the editable catalog
func (s *Service) GetMarket(ctx context.Context, id string) (*market.Market, error) {
	if s.editor == nil {
		return nil, ErrReadOnly
	}
	return s.editor.GetMarket(ctx, id)
}

// SaveMarket creates or replaces a market and reindexes the catalog
func (s *Service) SaveMarket(ctx context.Context, m market.Market) error {
	if s.editor == nil {
		return ErrReadOnly
	}
	if err := s.editor.SaveMarket(ctx, m); err != nil {
		return err
	}
	s.reindex(ctx)
	return nil
}

// DeleteMarket removes a market and reindexes the catalog
func (s *Service) DeleteMarket(ctx context.Context, id string) error {
	if s.editor == nil {
		return ErrReadOnly
	}
	if err := s.editor.DeleteMarket(ctx, id); err != nil {
		return err
	}
	s.reindex(ctx)
	return nil
}

func (s *Service) reindex(ctx context.Context) {
	markets, degraded, err := s.Markets(ctx)
	if err != nil || degraded {
		s.logger.Warn().Err(err).Msg("Catalog reload after edit failed, index left stale")
		return
	}
	s.UpdateCatalog(markets)
}
