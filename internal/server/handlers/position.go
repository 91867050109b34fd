// internal/server/handlers/position.go

package handlers

import (
	"context"
	"errors"
	"net/http"

	"marketfinder/internal/domain/geo"
	"marketfinder/internal/service/tracking"
)

// PositionSession is the tracking façade the handlers drive
type PositionSession interface {
	State() tracking.State
	Refresh(ctx context.Context) error
	StartWatching(ctx context.Context) bool
	StopWatching()
	Subscribe(fn func(geo.Position)) func()
}

// PositionHandler handles position HTTP requests
type PositionHandler struct {
	session PositionSession
}

// NewPositionHandler creates a new position handler
func NewPositionHandler(session PositionSession) *PositionHandler {
	return &PositionHandler{
		session: session,
	}
}

// GetPosition returns the observable tracking state
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.session.State())
}

// Refresh re-reads the position. Failures still return the state so the
// client can tell loading from error.
func (h *PositionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Refresh(r.Context()); err != nil {
		code := refreshStatus(err)
		if code >= 500 && code != http.StatusGatewayTimeout {
			respondWithError(w, r, code, "Failed to refresh position", err)
			return
		}
		respondWithJSON(w, code, h.session.State())
		return
	}
	respondWithJSON(w, http.StatusOK, h.session.State())
}

func refreshStatus(err error) int {
	switch {
	case errors.Is(err, geo.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, geo.ErrPositionTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, tracking.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

type watchResponse struct {
	Started bool           `json:"started"`
	State   tracking.State `json:"state"`
}

// StartWatch starts the continuous watch; a second call reports started=false
func (h *PositionHandler) StartWatch(w http.ResponseWriter, r *http.Request) {
	started := h.session.StartWatching(r.Context())
	respondWithJSON(w, http.StatusOK, watchResponse{Started: started, State: h.session.State()})
}

// StopWatch stops the watch; stopping when idle is not an error
func (h *PositionHandler) StopWatch(w http.ResponseWriter, r *http.Request) {
	h.session.StopWatching()
	respondWithJSON(w, http.StatusOK, h.session.State())
}
