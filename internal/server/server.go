// internal/server/server.go

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"marketfinder/internal/config"
	"marketfinder/internal/logging"
	"marketfinder/internal/server/handlers"
)

// Dependencies are the services the HTTP layer drives
type Dependencies struct {
	Session     handlers.PositionSession
	Recommender handlers.Recommender
	Markets     handlers.MarketConfig
	WebSocket   handlers.WebSocketConfig

	// Editor mounts the per-market admin routes when set
	Editor handlers.MarketEditor

	// CatalogStatus adds breaker and cache state to the market list when set
	CatalogStatus handlers.CatalogStatusReporter
}

// Server represents the HTTP server
type Server struct {
	server          *http.Server
	shutdownTimeout time.Duration
	logger          zerolog.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	router := NewRouter(cfg, deps)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		server:          httpServer,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logging.WithComponent("http"),
	}
}

// NewRouter builds the route tree
func NewRouter(cfg config.ServerConfig, deps Dependencies) *chi.Mux {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if deps.WebSocket == (handlers.WebSocketConfig{}) {
		deps.WebSocket = handlers.DefaultWebSocketConfig()
	}

	positionHandler := handlers.NewPositionHandler(deps.Session)
	marketHandler := handlers.NewMarketHandler(deps.Recommender, deps.Editor, deps.CatalogStatus, deps.Markets)

	// Routes
	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("OK"))
		})

		r.Route("/v1", func(r chi.Router) {
			r.Route("/position", func(r chi.Router) {
				r.Get("/", positionHandler.GetPosition)
				r.Post("/refresh", positionHandler.Refresh)
				r.Post("/watch", positionHandler.StartWatch)
				r.Delete("/watch", positionHandler.StopWatch)
			})

			r.Route("/markets", func(r chi.Router) {
				r.Get("/", marketHandler.ListMarkets)
				r.Post("/rank", marketHandler.RankMarkets)
				r.Get("/nearby", marketHandler.NearbyMarkets)

				if deps.Editor != nil {
					r.Get("/{id}", marketHandler.GetMarket)
					r.Put("/{id}", marketHandler.PutMarket)
					r.Delete("/{id}", marketHandler.DeleteMarket)
				}
			})
		})
	})

	// WebSocket endpoint for live recommendations
	router.Get("/ws/recommendations", handlers.RecommendationWebSocketHandler(deps.Session, deps.Recommender, deps.WebSocket))

	router.Handle("/metrics", promhttp.Handler())

	return router
}

// Serve runs the server until ctx is done. It implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("HTTP server shutdown failed")
		return err
	}
	s.logger.Info().Msg("HTTP server stopped")
	return ctx.Err()
}

// String names the service in supervisor logs
func (s *Server) String() string {
	return "http-server"
}
