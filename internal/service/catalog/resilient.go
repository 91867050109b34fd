// internal/service/catalog/resilient.go

package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"marketfinder/internal/domain/market"
	"marketfinder/internal/logging"
	"marketfinder/internal/metrics"
	"marketfinder/internal/validation"
)

// ResilientConfig tunes the catalog circuit breaker
type ResilientConfig struct {
	// Timeout bounds a single provider call
	Timeout time.Duration

	// FailureThreshold consecutive failures open the circuit
	FailureThreshold uint32

	// OpenTimeout is how long the circuit stays open before probing
	OpenTimeout time.Duration
}

// DefaultResilientConfig returns a 3 s timeout, trip after 5 failures, 30 s open
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout:          3 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// Resilient wraps a provider with a timeout, a circuit breaker and a
// last-good cache. On failure it returns the last good list, or an empty
// one, together with an error wrapping market.ErrCatalogUnavailable.
type Resilient struct {
	provider market.CatalogProvider
	cfg      ResilientConfig
	cb       *gobreaker.CircuitBreaker[[]market.Market]
	logger   zerolog.Logger

	mu       sync.RWMutex
	lastGood []market.Market
	lastAt   time.Time
}

// NewResilient wraps provider
func NewResilient(name string, provider market.CatalogProvider, cfg ResilientConfig) *Resilient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultResilientConfig().Timeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultResilientConfig().FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultResilientConfig().OpenTimeout
	}

	r := &Resilient{
		provider: provider,
		cfg:      cfg,
		logger:   logging.WithComponent("catalog").With().Str("breaker", name).Logger(),
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	r.cb = gobreaker.NewCircuitBreaker[[]market.Market](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return r
}

type fetchResult struct {
	markets []market.Market
	err     error
}

// ListMarkets never blocks longer than the configured timeout
func (r *Resilient) ListMarkets(ctx context.Context) ([]market.Market, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	markets, err := r.cb.Execute(func() ([]market.Market, error) {
		return r.fetch(ctx)
	})
	if err != nil {
		return r.fallback(err)
	}

	markets = r.sanitize(markets)

	r.mu.Lock()
	r.lastGood = markets
	r.lastAt = time.Now()
	r.mu.Unlock()

	metrics.CatalogFetches.WithLabelValues("ok").Inc()
	metrics.CatalogSize.Set(float64(len(markets)))
	return copyMarkets(markets), nil
}

func (r *Resilient) fetch(ctx context.Context) ([]market.Market, error) {
	results := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				results <- fetchResult{err: fmt.Errorf("catalog provider panicked: %v", rec)}
			}
		}()
		markets, err := r.provider.ListMarkets(ctx)
		results <- fetchResult{markets: markets, err: err}
	}()

	select {
	case res := <-results:
		return res.markets, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resilient) fallback(cause error) ([]market.Market, error) {
	r.mu.RLock()
	cached, at := r.lastGood, r.lastAt
	r.mu.RUnlock()

	event := r.logger.Warn().Err(cause)
	if errors.Is(cause, gobreaker.ErrOpenState) {
		event = r.logger.Debug().Err(cause)
	}

	if cached == nil {
		metrics.CatalogFetches.WithLabelValues("empty").Inc()
		event.Msg("Catalog unavailable, no cached markets")
		return []market.Market{}, fmt.Errorf("%w: %w", market.ErrCatalogUnavailable, cause)
	}

	metrics.CatalogFetches.WithLabelValues("cached").Inc()
	event.Int("markets", len(cached)).Time("cached_at", at).Msg("Catalog unavailable, serving last good list")
	return copyMarkets(cached), fmt.Errorf("%w: %w", market.ErrCatalogUnavailable, cause)
}

// sanitize drops markets that fail validation so the ranker never sees them
func (r *Resilient) sanitize(markets []market.Market) []market.Market {
	out := make([]market.Market, 0, len(markets))
	for _, m := range markets {
		if err := validation.ValidateStruct(m); err != nil {
			r.logger.Warn().Str("market_id", m.ID).Err(err).Msg("Dropping invalid market")
			continue
		}
		out = append(out, m)
	}
	return out
}

// Status reports the breaker state and the age of the cached list
type Status struct {
	Breaker  string     `json:"breaker"`
	Cached   int        `json:"cachedMarkets"`
	CachedAt *time.Time `json:"cachedAt,omitempty"`
}

// Status returns a copy of the breaker and cache state
func (r *Resilient) Status() Status {
	st := Status{Breaker: r.cb.State().String()}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastGood != nil {
		at := r.lastAt
		st.Cached = len(r.lastGood)
		st.CachedAt = &at
	}
	return st
}

func copyMarkets(in []market.Market) []market.Market {
	out := make([]market.Market, len(in))
	copy(out, in)
	return out
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
