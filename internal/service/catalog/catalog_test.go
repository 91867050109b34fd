package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfinder/internal/domain/geo"
	"marketfinder/internal/domain/market"
)

const catalogYAML = `
markets:
  - id: mkt-mokolo
    name: Marché Mokolo
    address: Mokolo, Yaoundé
    category: central
    coordinate: {latitude: 3.8730, longitude: 11.5050}
    products:
      - {id: p1, name: Tomatoes, unitPrice: 500, unit: kg, category: vegetables}
      - {id: p2, name: Rice, unitPrice: 800, unit: kg, category: grains}
  - id: mkt-mfoundi
    name: Marché Mfoundi
    category: local
    coordinate: {latitude: 3.8620, longitude: 11.5210}
`

func sampleMarkets() []market.Market {
	s, err := ParseStatic([]byte(catalogYAML))
	if err != nil {
		panic(err)
	}
	m, _ := s.ListMarkets(context.Background())
	return m
}

func TestParseStatic(t *testing.T) {
	s, err := ParseStatic([]byte(catalogYAML))
	require.NoError(t, err)

	markets, err := s.ListMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2)

	assert.Equal(t, "mkt-mokolo", markets[0].ID)
	assert.Equal(t, market.CategoryCentral, markets[0].Category)
	assert.Equal(t, geo.Coordinate{Latitude: 3.8730, Longitude: 11.5050}, markets[0].Coordinate)
	require.Len(t, markets[0].Products, 2)
	assert.Equal(t, 800.0, markets[0].Products[1].UnitPrice)
	assert.Nil(t, markets[1].Products)
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))

	s, err := LoadStatic(path)
	require.NoError(t, err)
	markets, err := s.ListMarkets(context.Background())
	require.NoError(t, err)
	assert.Len(t, markets, 2)

	_, err = LoadStatic(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestStaticReturnsCopy(t *testing.T) {
	s := NewStatic(sampleMarkets())
	first, _ := s.ListMarkets(context.Background())
	first[0].Name = "changed"

	second, _ := s.ListMarkets(context.Background())
	assert.Equal(t, "Marché Mokolo", second[0].Name)
}

func TestStaticEdits(t *testing.T) {
	ctx := context.Background()
	s := NewStatic(sampleMarkets())

	got, err := s.GetMarket(ctx, "mkt-mfoundi")
	require.NoError(t, err)
	assert.Equal(t, "Marché Mfoundi", got.Name)

	_, err = s.GetMarket(ctx, "missing")
	assert.ErrorIs(t, err, market.ErrMarketNotFound)

	renamed := *got
	renamed.Name = "Mfoundi Central"
	require.NoError(t, s.SaveMarket(ctx, renamed))
	added := market.Market{ID: "mkt-essos", Name: "Essos", Category: market.CategoryLocal}
	require.NoError(t, s.SaveMarket(ctx, added))

	all, _ := s.ListMarkets(ctx)
	require.Len(t, all, 3)
	assert.Equal(t, "Mfoundi Central", all[1].Name)
	assert.Equal(t, "mkt-essos", all[2].ID)

	require.NoError(t, s.DeleteMarket(ctx, "mkt-mokolo"))
	assert.ErrorIs(t, s.DeleteMarket(ctx, "mkt-mokolo"), market.ErrMarketNotFound)

	all, _ = s.ListMarkets(ctx)
	require.Len(t, all, 2)
	assert.Equal(t, "mkt-mfoundi", all[0].ID)
	assert.Equal(t, "mkt-essos", all[1].ID)
}

// flakyProvider fails while failing is set and can hang until ctx is done
type flakyProvider struct {
	markets []market.Market
	failing atomic.Bool
	hang    atomic.Bool
	calls   atomic.Int32
}

func (p *flakyProvider) ListMarkets(ctx context.Context) ([]market.Market, error) {
	p.calls.Add(1)
	if p.hang.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.failing.Load() {
		return nil, errors.New("connection refused")
	}
	return p.markets, nil
}

func TestResilientPassesThrough(t *testing.T) {
	r := NewResilient("test-pass", &flakyProvider{markets: sampleMarkets()}, DefaultResilientConfig())

	markets, err := r.ListMarkets(context.Background())
	require.NoError(t, err)
	assert.Len(t, markets, 2)

	st := r.Status()
	assert.Equal(t, "closed", st.Breaker)
	assert.Equal(t, 2, st.Cached)
	require.NotNil(t, st.CachedAt)
	assert.False(t, st.CachedAt.IsZero())
}

func TestResilientStatusBeforeFirstFetch(t *testing.T) {
	r := NewResilient("test-status", &flakyProvider{}, DefaultResilientConfig())

	st := r.Status()
	assert.Equal(t, "closed", st.Breaker)
	assert.Zero(t, st.Cached)
	assert.Nil(t, st.CachedAt)
}

func TestResilientEmptyWhenNeverSucceeded(t *testing.T) {
	p := &flakyProvider{}
	p.failing.Store(true)
	r := NewResilient("test-empty", p, DefaultResilientConfig())

	markets, err := r.ListMarkets(context.Background())
	assert.ErrorIs(t, err, market.ErrCatalogUnavailable)
	assert.NotNil(t, markets)
	assert.Empty(t, markets)
}

func TestResilientServesLastGood(t *testing.T) {
	p := &flakyProvider{markets: sampleMarkets()}
	r := NewResilient("test-lastgood", p, DefaultResilientConfig())

	_, err := r.ListMarkets(context.Background())
	require.NoError(t, err)

	p.failing.Store(true)
	markets, err := r.ListMarkets(context.Background())
	assert.ErrorIs(t, err, market.ErrCatalogUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Len(t, markets, 2)
}

func TestResilientTimeout(t *testing.T) {
	p := &flakyProvider{markets: sampleMarkets()}
	p.hang.Store(true)
	r := NewResilient("test-timeout", p, ResilientConfig{Timeout: 30 * time.Millisecond})

	start := time.Now()
	markets, err := r.ListMarkets(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, market.ErrCatalogUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, markets)
}

func TestResilientOpensCircuit(t *testing.T) {
	p := &flakyProvider{markets: sampleMarkets()}
	p.failing.Store(true)
	r := NewResilient("test-open", p, ResilientConfig{FailureThreshold: 2, OpenTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		_, _ = r.ListMarkets(context.Background())
	}
	assert.Equal(t, gobreaker.StateOpen.String(), r.Status().Breaker)

	_, err := r.ListMarkets(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, market.ErrCatalogUnavailable)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestResilientDropsInvalidMarkets(t *testing.T) {
	markets := sampleMarkets()
	markets = append(markets,
		market.Market{ID: "bad-lat", Name: "Nowhere", Category: market.CategoryLocal, Coordinate: geo.Coordinate{Latitude: 120}},
		market.Market{ID: "bad-cat", Name: "Odd", Category: "floating"},
	)
	r := NewResilient("test-sanitize", &flakyProvider{markets: markets}, DefaultResilientConfig())

	got, err := r.ListMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "mkt-mokolo", got[0].ID)
	assert.Equal(t, "mkt-mfoundi", got[1].ID)
}

func TestRefresherServe(t *testing.T) {
	var mu sync.Mutex
	var seen [][]market.Market
	refreshed := make(chan struct{}, 4)

	ref := NewRefresher(NewStatic(sampleMarkets()), 10*time.Millisecond, func(m []market.Market) {
		mu.Lock()
		seen = append(seen, m)
		mu.Unlock()
		select {
		case refreshed <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ref.Serve(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-refreshed:
		case <-time.After(2 * time.Second):
			t.Fatal("refresher did not tick")
		}
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, len(seen), 2)
	assert.Len(t, seen[0], 2)
	assert.Equal(t, "catalog-refresher", ref.String())
}
