// Package tile converts slippy-map tile addresses into the geographic terms
// the imagery provider understands.
package tile

import (
	"fmt"
	"math"
	"net/http"
)

// Zoom levels the bridge will serve. Beyond zoom 18 Sentinel imagery carries
// no additional detail.
const (
	MinZoom = 0
	MaxZoom = 18
)

// BBox is a geographic bounding box in EPSG:4326 degrees.
type BBox struct {
	West  float64
	South float64
	East  float64
	North float64
}

// Slice returns the box in the [west, south, east, north] order used by the
// Process API.
func (b BBox) Slice() []float64 {
	return []float64{b.West, b.South, b.East, b.North}
}

// CoordinateError reports a tile address outside the serviceable range.
type CoordinateError struct {
	Z, X, Y int
}

func (e CoordinateError) Error() string {
	return fmt.Sprintf("tile coordinates %d/%d/%d out of range", e.Z, e.X, e.Y)
}

func (e CoordinateError) Status() (int, string) {
	return http.StatusBadRequest, "tile coordinates out of range"
}

// ValidateCoordinates checks that z is a serviceable zoom level and that x
// and y address a tile that exists at that zoom.
func ValidateCoordinates(z, x, y int) error {
	if z < MinZoom || z > MaxZoom {
		return CoordinateError{z, x, y}
	}

	n := 1 << z
	if x < 0 || x >= n || y < 0 || y >= n {
		return CoordinateError{z, x, y}
	}

	return nil
}

// ToBBox converts a tile address to its bounding box using the inverse Web
// Mercator projection. Longitude is linear in x; latitude follows
// atan(sinh(pi * (1 - 2y/2^z))).
func ToBBox(z, x, y int) BBox {
	n := math.Exp2(float64(z))

	west := float64(x)/n*360.0 - 180.0
	east := float64(x+1)/n*360.0 - 180.0

	north := degrees(math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y)/n))))
	south := degrees(math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y+1)/n))))

	return BBox{West: west, South: south, East: east, North: north}
}

func degrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}
