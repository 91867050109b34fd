// internal/service/catalog/static.go

// Package catalog provides market catalog providers.
package catalog

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"marketfinder/internal/domain/market"
)

// Static is an in-memory catalog seeded from a list or a YAML file.
// Edits live until the process exits.
type Static struct {
	mu      sync.RWMutex
	markets []market.Market
}

// NewStatic creates a provider over markets
func NewStatic(markets []market.Market) *Static {
	return &Static{markets: markets}
}

type catalogFile struct {
	Markets []market.Market `yaml:"markets"`
}

// LoadStatic reads a YAML catalog file
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseStatic(data)
}

// ParseStatic decodes a YAML catalog document
func ParseStatic(data []byte) (*Static, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return NewStatic(file.Markets), nil
}

// ListMarkets returns a copy of the catalog
func (s *Static) ListMarkets(ctx context.Context) ([]market.Market, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]market.Market, len(s.markets))
	copy(out, s.markets)
	return out, nil
}

// GetMarket retrieves a market by ID
func (s *Static) GetMarket(ctx context.Context, id string) (*market.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.find(id); i >= 0 {
		m := s.markets[i]
		return &m, nil
	}
	return nil, market.ErrMarketNotFound
}

// SaveMarket replaces the market with the same ID or appends a new one
func (s *Static) SaveMarket(ctx context.Context, m market.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.find(m.ID); i >= 0 {
		s.markets[i] = m
		return nil
	}
	s.markets = append(s.markets, m)
	return nil
}

// DeleteMarket removes a market, keeping the order of the others
func (s *Static) DeleteMarket(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(id)
	if i < 0 {
		return market.ErrMarketNotFound
	}
	s.markets = append(s.markets[:i:i], s.markets[i+1:]...)
	return nil
}

func (s *Static) find(id string) int {
	for i, m := range s.markets {
		if m.ID == id {
			return i
		}
	}
	return -1
}
