// internal/service/position/filter.go

package position

import (
	"time"

	"marketfinder/internal/domain/geo"
	geoService "marketfinder/internal/service/geo"
)

// movementFilter applies watch options to a raw stream of fixes for
// sources that cannot filter natively.
type movementFilter struct {
	opts     geo.WatchOptions
	last     geo.Coordinate
	lastAt   time.Time
	accepted bool
}

func newMovementFilter(opts geo.WatchOptions) *movementFilter {
	return &movementFilter{opts: opts}
}

// Accept reports whether a fix at c, observed at at, should be delivered
func (f *movementFilter) Accept(c geo.Coordinate, at time.Time) bool {
	if !f.accepted {
		f.mark(c, at)
		return true
	}

	elapsed := at.Sub(f.lastAt)
	if f.opts.FastestInterval > 0 && elapsed < f.opts.FastestInterval {
		return false
	}

	moved := geoService.DistanceM(f.last, c) >= f.opts.MinDisplacementM
	stale := f.opts.Interval > 0 && elapsed >= f.opts.Interval
	if !moved && !stale {
		return false
	}

	f.mark(c, at)
	return true
}

func (f *movementFilter) mark(c geo.Coordinate, at time.Time) {
	f.last = c
	f.lastAt = at
	f.accepted = true
}
