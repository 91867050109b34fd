// cmd/api/main.go

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"

	"marketfinder/internal/adapter/events"
	"marketfinder/internal/adapter/storage"
	"marketfinder/internal/config"
	"marketfinder/internal/domain/geo"
	"marketfinder/internal/domain/market"
	"marketfinder/internal/logging"
	"marketfinder/internal/server"
	"marketfinder/internal/server/handlers"
	"marketfinder/internal/service/catalog"
	marketService "marketfinder/internal/service/market"
	"marketfinder/internal/service/position"
	"marketfinder/internal/service/recommend"
	"marketfinder/internal/service/tracking"
	"marketfinder/internal/supervisor"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	// Setup context with cancellation for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("marketfinder stopped with an error")
	}
	logging.Info().Msg("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	// Event bus
	var natsConn *nats.Conn
	if cfg.NATS.Enabled {
		url := cfg.NATS.URL
		if cfg.NATS.Embedded {
			embedded, err := events.NewEmbeddedServer("127.0.0.1", -1)
			if err != nil {
				return err
			}
			defer embedded.Shutdown()
			url = embedded.ClientURL()
			logging.Info().Str("url", url).Msg("Embedded NATS server started")
		}

		nc, err := initNATS(url, cfg.NATS)
		if err != nil {
			return err
		}
		defer nc.Close()
		natsConn = nc
	}

	// Catalog
	provider, err := initCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	if provider.close != nil {
		defer provider.close()
	}

	resilient := catalog.NewResilient("market-catalog", provider.markets, catalog.ResilientConfig{
		Timeout:          cfg.Catalog.Timeout,
		FailureThreshold: cfg.Catalog.FailureThreshold,
		OpenTimeout:      cfg.Catalog.OpenTimeout,
	})

	// Position tracking
	source, err := initPositionSource(cfg, natsConn)
	if err != nil {
		return err
	}
	logging.Info().Str("source", source.Name()).Msg("Position source selected")

	tracker := position.NewTracker(source, position.Config{
		AcquireTimeout: cfg.Position.AcquireTimeout,
		MaxAge:         cfg.Position.MaxAge,
		Watch: geo.WatchOptions{
			MinDisplacementM: cfg.Position.MinDisplacementM,
			Interval:         cfg.Position.WatchInterval,
			FastestInterval:  cfg.Position.FastestInterval,
		},
	})
	session := tracking.NewSession(tracker, tracking.Config{
		SettleDelay: cfg.Tracking.SettleDelay,
		AutoWatch:   cfg.Tracking.AutoWatch,
	})
	defer session.Close()

	if natsConn != nil {
		publisher := events.NewPublisher(natsConn, cfg.NATS.EventsTopic)
		unsubscribe := session.Subscribe(func(p geo.Position) {
			_ = publisher.PublishPosition(session.ID(), p)
		})
		defer unsubscribe()
		unsubscribeErrors := session.SubscribeErrors(func(err error) {
			_ = publisher.PublishError(session.ID(), err)
		})
		defer unsubscribeErrors()
	}

	// Ranking
	scorer := marketService.NewScorer(marketService.ScoringWeights{
		DistanceBase:      cfg.Scoring.DistanceBase,
		DistanceFactor:    cfg.Scoring.DistanceFactor,
		PriceBase:         cfg.Scoring.PriceBase,
		PriceDivisor:      cfg.Scoring.PriceDivisor,
		UnknownPriceScore: cfg.Scoring.UnknownPriceScore,
		DistanceWeight:    cfg.Scoring.DistanceWeight,
		PriceWeight:       cfg.Scoring.PriceWeight,
	}, marketService.MatchPolicy(cfg.Scoring.MatchPolicy))
	recommender := recommend.NewService(resilient, marketService.NewRanker(scorer), session)
	if provider.nearby != nil {
		recommender.UseNearbyFinder(provider.nearby)
	}

	var editor handlers.MarketEditor
	if cfg.Catalog.AllowEdits {
		recommender.UseEditor(provider.editor)
		editor = recommender
		logging.Info().Msg("Catalog edits enabled")
	}

	refresher := catalog.NewRefresher(resilient, cfg.Catalog.RefreshInterval, recommender.UpdateCatalog)

	// HTTP server
	httpServer := server.NewServer(cfg.Server, server.Dependencies{
		Session:     session,
		Recommender: recommender,
		Markets: handlers.MarketConfig{
			DefaultRadiusKm: cfg.Catalog.DefaultRadiusKm,
			MaxRadiusKm:     cfg.Catalog.MaxRadiusKm,
		},
		WebSocket:     handlers.DefaultWebSocketConfig(),
		Editor:        editor,
		CatalogStatus: resilient,
	})

	tree := supervisor.NewTree(logging.NewSlogLogger(logging.WithComponent("supervisor")), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddTrackingService(session)
	tree.AddTrackingService(refresher)
	tree.AddAPIService(httpServer)

	logging.Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Server.Port).
		Msg("Starting marketfinder")

	err = tree.Serve(ctx)
	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Info().Str("service", svc.Name).Msg("Service missed the shutdown timeout")
		}
	}
	return err
}

type catalogProvider struct {
	markets market.CatalogProvider
	editor  market.CatalogEditor
	nearby  recommend.NearbyFinder
	close   func()
}

// initCatalog picks PostgreSQL when enabled, else the YAML file
func initCatalog(ctx context.Context, cfg *config.Config) (catalogProvider, error) {
	if !cfg.Database.Enabled {
		static, err := catalog.LoadStatic(cfg.Catalog.File)
		if err != nil {
			return catalogProvider{}, err
		}
		logging.Info().Str("file", cfg.Catalog.File).Msg("Using static market catalog")
		return catalogProvider{markets: static, editor: static}, nil
	}

	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		return catalogProvider{}, err
	}

	store := storage.NewMarketStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return catalogProvider{}, err
	}

	if cfg.Catalog.SeedDatabase {
		static, err := catalog.LoadStatic(cfg.Catalog.File)
		if err != nil {
			db.Close()
			return catalogProvider{}, err
		}
		markets, _ := static.ListMarkets(ctx)
		if err := store.SeedMarkets(ctx, markets); err != nil {
			db.Close()
			return catalogProvider{}, err
		}
		logging.Info().Int("markets", len(markets)).Msg("Seeded market catalog")
	}

	return catalogProvider{markets: store, editor: store, nearby: store, close: db.Close}, nil
}

// initPositionSource builds the configured position strategy
func initPositionSource(cfg *config.Config, nc *nats.Conn) (geo.PositionSource, error) {
	switch cfg.PositionSource() {
	case "fixed":
		return position.NewFixedSource(geo.Coordinate{
			Latitude:  cfg.Position.FixedLatitude,
			Longitude: cfg.Position.FixedLongitude,
		}), nil
	case "replay":
		track, err := position.LoadTrack(cfg.Position.ReplayFile)
		if err != nil {
			return nil, err
		}
		return position.NewReplaySource(track, cfg.Position.ReplayPace), nil
	case "nats":
		if nc == nil {
			return nil, errors.New("nats position source without a NATS connection")
		}
		return position.NewNATSSource(nc, cfg.NATS.DevicePrefix, cfg.NATS.DeviceID, cfg.NATS.RequestTimeout), nil
	default:
		return nil, fmt.Errorf("unknown position source %q", cfg.PositionSource())
	}
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(url string, cfg config.NATSConfig) (*nats.Conn, error) {
	logger := logging.WithComponent("nats")
	options := []nats.Option{
		nats.Name("marketfinder"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info().Msg("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}
