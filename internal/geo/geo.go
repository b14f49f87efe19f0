package geo

import (
	"math"

	"github.com/ukydev/fleet-trip-engine/internal/models"
)

const earthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between two points in meters.
func DistanceMeters(a, b models.Location) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	deltaPhi := (b.Lat - a.Lat) * math.Pi / 180
	deltaLambda := (b.Lon - a.Lon) * math.Pi / 180

	s := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))

	return earthRadiusMeters * c
}

// DistanceKm returns the great-circle distance between two points in kilometers.
func DistanceKm(a, b models.Location) float64 {
	return DistanceMeters(a, b) / 1000
}

// PathLengthKm sums the point-to-point distances of a path in kilometers.
func PathLengthKm(path []models.Location) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += DistanceKm(path[i-1], path[i])
	}
	return total
}

// InPolygon reports whether p lies inside the polygon using ray casting.
// The polygon may be open or closed.
func InPolygon(p models.Location, polygon []models.Location) bool {
	if len(polygon) < 3 {
		return false
	}
	inside := false
	j := len(polygon) - 1
	for i := 0; i < len(polygon); i++ {
		a, b := polygon[i], polygon[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			cross := (b.Lon-a.Lon)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lon
			if p.Lon < cross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// InGeofence reports whether p falls within the geofence area.
// Zones without a usable polygon fall back to the point+radius check.
func InGeofence(g models.Geofence, p models.Location) bool {
	if g.Type == models.GeofenceZone && len(g.Polygon) >= 3 {
		return InPolygon(p, g.Polygon)
	}
	radius := g.TriggerRadius
	if radius <= 0 {
		radius = models.DefaultTriggerRadiusMeters
	}
	return DistanceMeters(g.Center, p) <= radius
}
