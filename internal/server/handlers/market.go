// internal/server/handlers/market.go

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"marketfinder/internal/domain/geo"
	"marketfinder/internal/domain/market"
	"marketfinder/internal/service/catalog"
	"marketfinder/internal/service/recommend"
	"marketfinder/internal/validation"
)

// Recommender answers catalog, ranking and nearby queries
type Recommender interface {
	Markets(ctx context.Context) ([]market.Market, bool, error)
	Rank(ctx context.Context, origin *geo.Coordinate, list market.ShoppingList) (recommend.Ranking, error)
	Nearby(ctx context.Context, origin *geo.Coordinate, radiusKm float64) ([]market.Market, error)
}

// MarketEditor edits single catalog entries
type MarketEditor interface {
	GetMarket(ctx context.Context, id string) (*market.Market, error)
	SaveMarket(ctx context.Context, m market.Market) error
	DeleteMarket(ctx context.Context, id string) error
}

// CatalogStatusReporter exposes the catalog breaker and cache state
type CatalogStatusReporter interface {
	Status() catalog.Status
}

// MarketConfig bounds radius queries
type MarketConfig struct {
	DefaultRadiusKm float64
	MaxRadiusKm     float64
}

// MarketHandler handles market HTTP requests
type MarketHandler struct {
	recommender Recommender
	editor      MarketEditor
	status      CatalogStatusReporter
	cfg         MarketConfig
}

// NewMarketHandler creates a new market handler. editor and status may be nil.
func NewMarketHandler(recommender Recommender, editor MarketEditor, status CatalogStatusReporter, cfg MarketConfig) *MarketHandler {
	return &MarketHandler{
		recommender: recommender,
		editor:      editor,
		status:      status,
		cfg:         cfg,
	}
}

type marketsResponse struct {
	Markets  []market.Market `json:"markets"`
	Degraded bool            `json:"degraded"`
	Catalog  *catalog.Status `json:"catalog,omitempty"`
}

// ListMarkets returns the catalog
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, degraded, err := h.recommender.Markets(r.Context())
	if err != nil {
		respondWithError(w, r, http.StatusBadGateway, "Failed to list markets", err)
		return
	}
	resp := marketsResponse{Markets: markets, Degraded: degraded}
	if h.status != nil {
		st := h.status.Status()
		resp.Catalog = &st
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// GetMarket returns one catalog entry
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.editor.GetMarket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithEditError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, m)
}

// PutMarket creates or replaces the market named in the path
func (h *MarketHandler) PutMarket(w http.ResponseWriter, r *http.Request) {
	var m market.Market
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		respondWithError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	m.ID = chi.URLParam(r, "id")
	if err := validation.ValidateStruct(m); err != nil {
		respondWithError(w, r, http.StatusBadRequest, "Invalid market", err)
		return
	}

	if err := h.editor.SaveMarket(r.Context(), m); err != nil {
		h.respondWithEditError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, m)
}

// DeleteMarket removes the market named in the path
func (h *MarketHandler) DeleteMarket(w http.ResponseWriter, r *http.Request) {
	if err := h.editor.DeleteMarket(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondWithEditError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MarketHandler) respondWithEditError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, market.ErrMarketNotFound):
		respondWithError(w, r, http.StatusNotFound, "Market not found", err)
	case errors.Is(err, recommend.ErrReadOnly):
		respondWithError(w, r, http.StatusNotImplemented, "Catalog is read-only", err)
	default:
		respondWithError(w, r, http.StatusBadGateway, "Catalog update failed", err)
	}
}

// RankRequest is the body of POST /markets/rank
type RankRequest struct {
	ShoppingList []string `json:"shoppingList" validate:"required,min=1,max=200,dive,required,max=100"`
	Latitude     *float64 `json:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude    *float64 `json:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
}

// RankMarkets ranks every market for the posted shopping list
func (h *MarketHandler) RankMarkets(w http.ResponseWriter, r *http.Request) {
	var req RankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		respondWithError(w, r, http.StatusBadRequest, "Invalid rank request", err)
		return
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		respondWithError(w, r, http.StatusBadRequest, "latitude and longitude must be given together", nil)
		return
	}

	var origin *geo.Coordinate
	if req.Latitude != nil {
		origin = &geo.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}
	}

	ranking, err := h.recommender.Rank(r.Context(), origin, market.ShoppingList(req.ShoppingList))
	if err != nil {
		h.respondWithRecommendError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ranking)
}

type nearbyResponse struct {
	RadiusKm float64         `json:"radiusKm"`
	Markets  []market.Market `json:"markets"`
}

// NearbyMarkets returns markets within ?radius= km, closest first
func (h *MarketHandler) NearbyMarkets(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	radius := h.cfg.DefaultRadiusKm
	if s := query.Get("radius"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			respondWithError(w, r, http.StatusBadRequest, "Invalid radius", err)
			return
		}
		radius = v
	}
	if h.cfg.MaxRadiusKm > 0 && radius > h.cfg.MaxRadiusKm {
		respondWithError(w, r, http.StatusBadRequest, "Radius exceeds maximum", nil)
		return
	}

	origin, err := parseOrigin(query.Get("lat"), query.Get("lng"))
	if err != nil {
		respondWithError(w, r, http.StatusBadRequest, err.Error(), err)
		return
	}

	markets, err := h.recommender.Nearby(r.Context(), origin, radius)
	if err != nil {
		h.respondWithRecommendError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, nearbyResponse{RadiusKm: radius, Markets: markets})
}

func (h *MarketHandler) respondWithRecommendError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, recommend.ErrNoPosition) {
		respondWithError(w, r, http.StatusConflict, "No position available yet", err)
		return
	}
	respondWithError(w, r, http.StatusBadGateway, "Failed to load markets", err)
}

var errLocationPair = errors.New("lat and lng must be given together")

// parseOrigin returns nil when neither coordinate is given
func parseOrigin(latStr, lngStr string) (*geo.Coordinate, error) {
	if latStr == "" && lngStr == "" {
		return nil, nil
	}
	if latStr == "" || lngStr == "" {
		return nil, errLocationPair
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, errors.New("invalid latitude")
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return nil, errors.New("invalid longitude")
	}

	c := geo.Coordinate{Latitude: lat, Longitude: lng}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
