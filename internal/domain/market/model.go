// internal/domain/market/model.go

package market

import (
	"context"
	"errors"

	"marketfinder/internal/domain/geo"
)

// Category classifies a marketplace
type Category string

const (
	CategoryCentral  Category = "central"
	CategoryLocal    Category = "local"
	CategoryRegional Category = "regional"
)

// Valid reports whether the category is one of the known values
func (c Category) Valid() bool {
	switch c {
	case CategoryCentral, CategoryLocal, CategoryRegional:
		return true
	}
	return false
}

// Product is a priced item sold at a market
type Product struct {
	ID        string  `json:"id" yaml:"id" validate:"required"`
	Name      string  `json:"name" yaml:"name" validate:"required"`
	UnitPrice float64 `json:"unitPrice" yaml:"unitPrice" validate:"gte=0"`
	Unit      string  `json:"unit" yaml:"unit"`
	Category  string  `json:"category" yaml:"category"`
}

// Market is a marketplace owned by the catalog provider.
// The engine treats markets as read-only.
type Market struct {
	ID         string         `json:"id" yaml:"id" validate:"required"`
	Name       string         `json:"name" yaml:"name" validate:"required"`
	Address    string         `json:"address" yaml:"address"`
	Coordinate geo.Coordinate `json:"coordinate" yaml:"coordinate"`
	Category   Category       `json:"category" yaml:"category" validate:"oneof=central local regional"`
	Products   []Product      `json:"products,omitempty" yaml:"products" validate:"dive"`
}

// ShoppingList is a list of free-text product names
type ShoppingList []string

// Comparison is the derived ranking record for one market
type Comparison struct {
	Market     Market  `json:"market"`
	DistanceKm float64 `json:"distanceKm"`
	TotalPrice float64 `json:"totalPrice"`
	Score      float64 `json:"score"`
}

// ErrCatalogUnavailable is reported when the market list could not be fetched
var ErrCatalogUnavailable = errors.New("market catalog unavailable")

// CatalogProvider supplies the list of marketplaces
type CatalogProvider interface {
	// ListMarkets returns every known market
	ListMarkets(ctx context.Context) ([]Market, error)
}

// ErrMarketNotFound is returned when a market id is unknown
var ErrMarketNotFound = errors.New("market not found")

// CatalogEditor is a catalog that accepts changes
type CatalogEditor interface {
	GetMarket(ctx context.Context, id string) (*Market, error)
	SaveMarket(ctx context.Context, m Market) error
	DeleteMarket(ctx context.Context, id string) error
}
