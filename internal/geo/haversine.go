package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for all great-circle distances
const EarthRadiusKm = 6371.0088

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// HaversineKm calculates the great-circle distance between two points in kilometers
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	return haversineRad(toRadians(lat1), toRadians(lon1), toRadians(lat2), toRadians(lon2))
}

// haversineRad takes coordinates already converted to radians
func haversineRad(phi1, lambda1, phi2, lambda2 float64) float64 {
	sinDPhi := math.Sin((phi2 - phi1) / 2)
	sinDLambda := math.Sin((lambda2 - lambda1) / 2)

	a := sinDPhi*sinDPhi + math.Cos(phi1)*math.Cos(phi2)*sinDLambda*sinDLambda
	// Rounding can push a a hair above 1 for antipodal points
	if a > 1 {
		a = 1
	}

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}
