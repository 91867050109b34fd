// internal/supervisor/tree.go

// Package supervisor runs the long-lived services under a suture tree.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds restart policy for every layer
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay, in seconds
	FailureDecay float64

	// FailureBackoff is how long a layer waits once the threshold is exceeded
	FailureBackoff time.Duration

	// ShutdownTimeout bounds how long each service gets to stop
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's own defaults
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree groups services in two layers:
//   - tracking: position session, catalog refresher
//   - api: HTTP server
//
// A crash in tracking leaves the API serving the last known state.
type Tree struct {
	root     *suture.Supervisor
	tracking *suture.Supervisor
	api      *suture.Supervisor
	config   TreeConfig
}

// NewTree builds the supervisor tree. Zero config values take the defaults.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	defaults := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = defaults.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = defaults.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	// MustHook has a pointer receiver
	hook := (&sutureslog.Handler{Logger: logger}).MustHook()

	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	rootSpec := childSpec
	rootSpec.EventHook = hook

	root := suture.New("marketfinder", rootSpec)
	tracking := suture.New("tracking-layer", childSpec)
	api := suture.New("api-layer", childSpec)

	root.Add(tracking)
	root.Add(api)

	return &Tree{
		root:     root,
		tracking: tracking,
		api:      api,
		config:   config,
	}
}

// AddTrackingService adds a service to the tracking layer
func (t *Tree) AddTrackingService(svc suture.Service) suture.ServiceToken {
	return t.tracking.Add(svc)
}

// AddAPIService adds a service to the API layer
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx is canceled
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine; the channel yields its result
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown timeout
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
