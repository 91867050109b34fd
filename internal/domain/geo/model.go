// internal/domain/geo/model.go

package geo

import (
	"fmt"
	"time"
)

// Coordinate is an immutable latitude/longitude pair in decimal degrees
type Coordinate struct {
	Latitude  float64 `json:"latitude" yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" yaml:"longitude" validate:"gte=-180,lte=180"`
}

// Validate checks that the coordinate lies on the globe
func (c Coordinate) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range [-90, 90]", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range [-180, 180]", c.Longitude)
	}
	return nil
}

// String renders the coordinate for logs
func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Latitude, c.Longitude)
}

// Position is a coordinate captured at a point in time.
// Positions are replaced, never mutated.
type Position struct {
	Coordinate
	Accuracy   *float64  `json:"accuracy,omitempty"` // meters
	CapturedAt time.Time `json:"capturedAt"`
}

// NewPosition creates a position captured now
func NewPosition(c Coordinate, accuracy *float64) Position {
	return Position{
		Coordinate: c,
		Accuracy:   accuracy,
		CapturedAt: time.Now(),
	}
}
