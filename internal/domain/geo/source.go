// internal/domain/geo/source.go

package geo

import (
	"context"
	"time"
)

// WatchOptions controls how often a watch subscription reports
type WatchOptions struct {
	// MinDisplacementM suppresses updates until the device moved at least this far
	MinDisplacementM float64

	// Interval is the maximum staleness between two updates
	Interval time.Duration

	// FastestInterval is the fastest rate updates are accepted at, when the source supports it
	FastestInterval time.Duration
}

// DefaultWatchOptions returns the reference watch behaviour: 100 m, 30 s, 10 s
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		MinDisplacementM: 100,
		Interval:         30 * time.Second,
		FastestInterval:  10 * time.Second,
	}
}

// Subscription is a handle to a live watch
type Subscription interface {
	// Cancel stops the subscription. Safe to call more than once.
	Cancel()
}

// PositionSource defines the positioning provider boundary
type PositionSource interface {
	// Name identifies the source in logs
	Name() string

	// RequestPermission asks the provider for location authorization
	RequestPermission(ctx context.Context) (bool, error)

	// CurrentPosition returns a one-shot fix no older than maxAge.
	// The deadline on ctx bounds the wait.
	CurrentPosition(ctx context.Context, maxAge time.Duration) (Position, error)

	// Watch starts a continuous subscription
	Watch(opts WatchOptions, onUpdate func(Position), onError func(error)) (Subscription, error)
}
