// Package geo implements the geofence check used by attendance admission.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

// DefaultRadiusMeters is the classroom range a reading must fall within.
const DefaultRadiusMeters = 50.0

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat" binding:"latitude"`
	Lng float64 `json:"lng" binding:"longitude"`
}

// Distance returns the great-circle surface distance in meters between a and b
// using the haversine formula.
func Distance(a, b Point) float64 {
	phi1 := radians(a.Lat)
	phi2 := radians(b.Lat)
	dPhi := radians(b.Lat - a.Lat)
	dLambda := radians(b.Lng - a.Lng)

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// Rounding can push h slightly outside [0, 1] for antipodal points.
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// WithinRadius reports whether observer lies at most radius meters from reference.
func WithinRadius(observer, reference Point, radius float64) bool {
	return Distance(observer, reference) <= radius
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
