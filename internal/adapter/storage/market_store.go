// internal/adapter/storage/market_store.go

package storage

import (
	"context"
	"fmt"
	"math"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"marketfinder/internal/domain/geo"
	"marketfinder/internal/domain/market"
	geoService "marketfinder/internal/service/geo"
)

const schema = `
	CREATE TABLE IF NOT EXISTS markets (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		address     TEXT NOT NULL DEFAULT '',
		category    TEXT NOT NULL,
		latitude    DOUBLE PRECISION NOT NULL CHECK (latitude BETWEEN -90 AND 90),
		longitude   DOUBLE PRECISION NOT NULL CHECK (longitude BETWEEN -180 AND 180),
		products    JSONB NOT NULL DEFAULT '[]',
		position    SERIAL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS markets_lat_lng_idx ON markets (latitude, longitude);
`

// DB is the subset of *pgxpool.Pool the store uses
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// MarketStore implements the market catalog on PostgreSQL
type MarketStore struct {
	db DB
}

// NewMarketStore creates a new market store
func NewMarketStore(db DB) *MarketStore {
	return &MarketStore{
		db: db,
	}
}

// EnsureSchema creates the markets table if needed
func (s *MarketStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("error creating schema: %w", err)
	}
	return nil
}

// SaveMarket inserts or updates a market
func (s *MarketStore) SaveMarket(ctx context.Context, m market.Market) error {
	query := `
		INSERT INTO markets (id, name, address, category, latitude, longitude, products)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET
			name = $2,
			address = $3,
			category = $4,
			latitude = $5,
			longitude = $6,
			products = $7,
			updated_at = now()
	`

	products := m.Products
	if products == nil {
		products = []market.Product{}
	}
	productsJSON, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("error marshaling products: %w", err)
	}

	_, err = s.db.Exec(ctx, query,
		m.ID,
		m.Name,
		m.Address,
		string(m.Category),
		m.Coordinate.Latitude,
		m.Coordinate.Longitude,
		productsJSON,
	)
	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}
	return nil
}

// SeedMarkets saves every market in one transaction
func (s *MarketStore) SeedMarkets(ctx context.Context, markets []market.Market) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, m := range markets {
		products := m.Products
		if products == nil {
			products = []market.Product{}
		}
		productsJSON, err := json.Marshal(products)
		if err != nil {
			return fmt.Errorf("error marshaling products for %s: %w", m.ID, err)
		}
		batch.Queue(`
			INSERT INTO markets (id, name, address, category, latitude, longitude, products)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			m.ID, m.Name, m.Address, string(m.Category), m.Coordinate.Latitude, m.Coordinate.Longitude, productsJSON,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range markets {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("error seeding markets: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("error closing batch: %w", err)
	}

	return tx.Commit(ctx)
}

// ListMarkets returns every market in insertion order
func (s *MarketStore) ListMarkets(ctx context.Context) ([]market.Market, error) {
	query := `
		SELECT id, name, address, category, latitude, longitude, products
		FROM markets
		ORDER BY position
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying markets: %w", err)
	}
	defer rows.Close()

	return scanMarkets(rows)
}

// GetMarket retrieves a market by ID
func (s *MarketStore) GetMarket(ctx context.Context, id string) (*market.Market, error) {
	query := `
		SELECT id, name, address, category, latitude, longitude, products
		FROM markets
		WHERE id = $1
	`

	rows, err := s.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("error querying market: %w", err)
	}
	defer rows.Close()

	markets, err := scanMarkets(rows)
	if err != nil {
		return nil, err
	}
	if len(markets) == 0 {
		return nil, market.ErrMarketNotFound
	}
	return &markets[0], nil
}

// DeleteMarket removes a market
func (s *MarketStore) DeleteMarket(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM markets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting market: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return market.ErrMarketNotFound
	}
	return nil
}

// FindNearbyMarkets narrows by bounding box in SQL and applies the exact
// haversine radius in Go, closest first
func (s *MarketStore) FindNearbyMarkets(ctx context.Context, center geo.Coordinate, radiusKm float64) ([]market.Market, error) {
	latDeg := (radiusKm / geoService.EarthRadiusKm) * (180 / math.Pi)
	query := `
		SELECT id, name, address, category, latitude, longitude, products
		FROM markets
		WHERE latitude BETWEEN $1 AND $2
		ORDER BY position
	`

	rows, err := s.db.Query(ctx, query, center.Latitude-latDeg, center.Latitude+latDeg)
	if err != nil {
		return nil, fmt.Errorf("error querying nearby markets: %w", err)
	}
	defer rows.Close()

	candidates, err := scanMarkets(rows)
	if err != nil {
		return nil, err
	}

	index := geoService.NewMarketIndex(candidates)
	return index.Within(center, radiusKm)
}

// rowScanner is the subset of pgx.Rows used for decoding
type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanMarkets(rows rowScanner) ([]market.Market, error) {
	markets := []market.Market{}
	for rows.Next() {
		var (
			m            market.Market
			category     string
			productsJSON []byte
		)
		err := rows.Scan(
			&m.ID,
			&m.Name,
			&m.Address,
			&category,
			&m.Coordinate.Latitude,
			&m.Coordinate.Longitude,
			&productsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning market: %w", err)
		}

		m.Category = market.Category(category)
		if len(productsJSON) > 0 {
			if err := json.Unmarshal(productsJSON, &m.Products); err != nil {
				return nil, fmt.Errorf("error unmarshaling products for %s: %w", m.ID, err)
			}
		}
		markets = append(markets, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating markets: %w", err)
	}
	return markets, nil
}
