// internal/service/catalog/refresher.go

package catalog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"marketfinder/internal/domain/market"
	"marketfinder/internal/logging"
)

// Refresher polls a provider on an interval and hands each successful
// list to onRefresh. It implements suture.Service.
type Refresher struct {
	provider  market.CatalogProvider
	interval  time.Duration
	onRefresh func([]market.Market)
	logger    zerolog.Logger
}

// NewRefresher creates a refresher
func NewRefresher(provider market.CatalogProvider, interval time.Duration, onRefresh func([]market.Market)) *Refresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Refresher{
		provider:  provider,
		interval:  interval,
		onRefresh: onRefresh,
		logger:    logging.WithComponent("catalog-refresher"),
	}
}

// Serve refreshes once immediately and then on every tick until ctx is done
func (r *Refresher) Serve(ctx context.Context) error {
	r.refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	markets, err := r.provider.ListMarkets(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Catalog refresh failed")
		return
	}
	r.logger.Debug().Int("markets", len(markets)).Msg("Catalog refreshed")
	if r.onRefresh != nil {
		r.onRefresh(markets)
	}
}

// String names the service in supervisor logs
func (r *Refresher) String() string {
	return "catalog-refresher"
}
