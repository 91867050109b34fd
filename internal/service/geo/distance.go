// internal/service/geo/distance.go

package geo

import (
	"math"

	"marketfinder/internal/domain/geo"
)

// EarthRadiusKm is the mean Earth radius used by the haversine formula
const EarthRadiusKm = 6371.0

// DistanceKm calculates the great-circle distance between two coordinates in kilometers.
// Coordinates must already be validated; out-of-range input gives an unspecified result.
func DistanceKm(a, b geo.Coordinate) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	hSin := math.Sin(dLat / 2)
	hSin *= hSin

	vSin := math.Sin(dLon / 2)
	vSin *= vSin

	h := hSin + math.Cos(lat1)*math.Cos(lat2)*vSin

	// Rounding can push h a hair past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// DistanceM is DistanceKm in meters
func DistanceM(a, b geo.Coordinate) float64 {
	return DistanceKm(a, b) * 1000
}

// WithinRadius reports whether b lies within radiusKm of a, boundary included
func WithinRadius(a, b geo.Coordinate, radiusKm float64) bool {
	return DistanceKm(a, b) <= radiusKm
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
