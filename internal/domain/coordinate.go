package domain

import (
	"fmt"
	"math"
)

// Coordinate is a WGS84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies inside the WGS84 range.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.4f, %.4f)", c.Lat, c.Lng)
}

// FallbackLocationName is the display name used when no geocoded name is
// available for c. It is never empty.
func FallbackLocationName(c Coordinate) string {
	return "Location " + c.String()
}

// Bounds is an axis-aligned lat/lng rectangle.
type Bounds struct {
	SouthWest Coordinate `json:"southWest"`
	NorthEast Coordinate `json:"northEast"`
}

// BoundsOf returns the smallest bounds containing every coordinate.
// It returns false when coords is empty.
func BoundsOf(coords []Coordinate) (Bounds, bool) {
	if len(coords) == 0 {
		return Bounds{}, false
	}
	b := Bounds{SouthWest: coords[0], NorthEast: coords[0]}
	for _, c := range coords[1:] {
		b.SouthWest.Lat = min(b.SouthWest.Lat, c.Lat)
		b.SouthWest.Lng = min(b.SouthWest.Lng, c.Lng)
		b.NorthEast.Lat = max(b.NorthEast.Lat, c.Lat)
		b.NorthEast.Lng = max(b.NorthEast.Lng, c.Lng)
	}
	return b, true
}

// Pad grows the bounds by ratio of its height and width on every side.
func (b Bounds) Pad(ratio float64) Bounds {
	dLat := (b.NorthEast.Lat - b.SouthWest.Lat) * ratio
	dLng := (b.NorthEast.Lng - b.SouthWest.Lng) * ratio
	return Bounds{
		SouthWest: Coordinate{Lat: b.SouthWest.Lat - dLat, Lng: b.SouthWest.Lng - dLng},
		NorthEast: Coordinate{Lat: b.NorthEast.Lat + dLat, Lng: b.NorthEast.Lng + dLng},
	}
}

// Center returns the midpoint of the bounds.
func (b Bounds) Center() Coordinate {
	return Coordinate{
		Lat: (b.SouthWest.Lat + b.NorthEast.Lat) / 2,
		Lng: (b.SouthWest.Lng + b.NorthEast.Lng) / 2,
	}
}
