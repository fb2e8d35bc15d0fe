// Package geo computes distances between coordinates on a sphere.
package geo

import "math"

// EarthRadiusKm is the mean radius of the Earth.
const EarthRadiusKm = 6371.01

// FastMaxDeltaDegrees bounds the coordinate deltas for which FastDistance
// uses the flat-earth approximation.
const FastMaxDeltaDegrees = 4.0

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

// Distance returns the great-circle distance between two points using the
// haversine formula. The result is in the unit of radius.
func Distance(lat1, lon1, lat2, lon2, radius float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return radius * c
}

// FastDistance approximates Distance with an equirectangular projection.
// When either delta exceeds FastMaxDeltaDegrees it returns Distance.
func FastDistance(lat1, lon1, lat2, lon2, radius float64) float64 {
	dLatDeg := lat2 - lat1
	dLonDeg := lon2 - lon1
	if math.Abs(dLatDeg) > FastMaxDeltaDegrees || math.Abs(dLonDeg) > FastMaxDeltaDegrees {
		return Distance(lat1, lon1, lat2, lon2, radius)
	}

	meanLat := toRadians((lat1 + lat2) / 2)
	x := toRadians(dLonDeg) * math.Cos(meanLat)
	y := toRadians(dLatDeg)
	return radius * math.Sqrt(x*x+y*y)
}

// DistanceMeters returns the distance between two points on Earth in meters.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return FastDistance(lat1, lon1, lat2, lon2, EarthRadiusKm) * 1000
}
