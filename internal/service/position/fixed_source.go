// internal/service/position/fixed_source.go

package position

import (
	"context"
	"time"

	"marketfinder/internal/domain/geo"
)

// ReferenceCoordinate is the development-mode position (Yaoundé city centre)
var ReferenceCoordinate = geo.Coordinate{Latitude: 3.8480, Longitude: 11.5021}

// FixedSource always grants permission and always reports the same coordinate.
// Watching succeeds but never emits. Used in development mode.
type FixedSource struct {
	coord geo.Coordinate
}

// NewFixedSource creates a source pinned to coord
func NewFixedSource(coord geo.Coordinate) *FixedSource {
	return &FixedSource{coord: coord}
}

func (s *FixedSource) Name() string { return "fixed" }

func (s *FixedSource) RequestPermission(ctx context.Context) (bool, error) {
	return true, nil
}

func (s *FixedSource) CurrentPosition(ctx context.Context, maxAge time.Duration) (geo.Position, error) {
	if err := ctx.Err(); err != nil {
		return geo.Position{}, err
	}
	return geo.NewPosition(s.coord, nil), nil
}

func (s *FixedSource) Watch(opts geo.WatchOptions, onUpdate func(geo.Position), onError func(error)) (geo.Subscription, error) {
	return noopSubscription{}, nil
}

type noopSubscription struct{}

func (noopSubscription) Cancel() {}
