package routematch

import (
	"math"

	"github.com/ukydev/fleet-trip-engine/internal/geo"
	"github.com/ukydev/fleet-trip-engine/internal/models"
)

// Direction is the travel direction of a window relative to the route polyline.
type Direction string

const (
	Forward Direction = "forward"
	Reverse Direction = "reverse"
)

// Situation is where the vehicle stands relative to its planned route.
type Situation struct {
	NearestPointIndex  int
	NearestRoutePoint  models.Location
	DistanceFromTruck  float64 // meters between the vehicle and NearestRoutePoint
	CumulativeDistance float64 // km from the first vertex to NearestPointIndex
	DistanceRemaining  float64 // km
	Direction          Direction
	// ReverseTravelDistance is the window path length in km when Direction is Reverse.
	ReverseTravelDistance float64
}

// NearestPoint returns the index of the polyline vertex closest to p and its distance in meters.
// On exact ties the earliest vertex wins. It returns -1 for an empty path.
func NearestPoint(path []models.Location, p models.Location) (int, float64) {
	minIdx := -1
	minDist := math.MaxFloat64
	for i, v := range path {
		d := geo.DistanceMeters(v, p)
		if d < minDist {
			minDist = d
			minIdx = i
		}
	}
	if minIdx < 0 {
		return -1, 0
	}
	return minIdx, minDist
}

// Match projects the current position onto the route and classifies the window direction.
// It returns nil when the route has no polyline or there is no position.
func Match(route *models.Route, current *models.Location, window []models.Location) *Situation {
	if route == nil || len(route.RoutePath) == 0 || current == nil {
		return nil
	}
	path := route.RoutePath

	idx, dist := NearestPoint(path, *current)
	cumulative := geo.PathLengthKm(path[:idx+1])

	length := route.RouteLength
	if length <= 0 {
		length = geo.PathLengthKm(path)
	}

	s := &Situation{
		NearestPointIndex:  idx,
		NearestRoutePoint:  path[idx],
		DistanceFromTruck:  dist,
		CumulativeDistance: cumulative,
		DistanceRemaining:  math.Max(0, length-cumulative),
		Direction:          Forward,
	}

	// Only the first and last samples are compared. A window that moves forward
	// and then snaps back past its starting vertex is still reported as reverse.
	if len(window) >= 2 {
		first, _ := NearestPoint(path, window[0])
		last, _ := NearestPoint(path, window[len(window)-1])
		if last < first {
			s.Direction = Reverse
			s.ReverseTravelDistance = geo.PathLengthKm(window)
		}
	}
	return s
}
