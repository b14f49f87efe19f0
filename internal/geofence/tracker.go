package geofence

import (
	"time"

	"github.com/ukydev/fleet-trip-engine/internal/geo"
	"github.com/ukydev/fleet-trip-engine/internal/models"
)

// Match is the route geofence a position falls in.
type Match struct {
	Geofence models.Geofence
	Type     models.LocationType
}

// Locate returns the first geofence of the route containing p. Start is checked
// first, then end, then via locations in route order.
func Locate(route *models.Route, p models.Location) *Match {
	if route == nil {
		return nil
	}
	if geo.InGeofence(route.StartLocation, p) {
		return &Match{Geofence: route.StartLocation, Type: models.LocationStart}
	}
	if geo.InGeofence(route.EndLocation, p) {
		return &Match{Geofence: route.EndLocation, Type: models.LocationEnd}
	}
	for _, via := range route.ViaLocations {
		if geo.InGeofence(via, p) {
			return &Match{Geofence: via, Type: models.LocationVia}
		}
	}
	return nil
}

// Presence is the outcome of one tracking step.
type Presence struct {
	// Current is the open significant location after the step, nil when outside all geofences.
	Current *models.SignificantLocation
	// Closed is the record closed during this step, to be appended to history.
	Closed *models.SignificantLocation
	// Match is the geofence the position fell in, if any.
	Match *Match
	// Changed is true when Current differs from the record passed in.
	Changed bool
}

// Track applies one position to the trip's current significant location.
func Track(current *models.SignificantLocation, route *models.Route, p models.Location, at time.Time) Presence {
	match := Locate(route, p)

	var opened *models.SignificantLocation
	if match != nil {
		opened = &models.SignificantLocation{
			LocationName: match.Geofence.Name,
			LocationType: match.Type,
			EntryTime:    at,
		}
	}

	switch {
	case current == nil && opened == nil:
		return Presence{}
	case current == nil:
		return Presence{Current: opened, Match: match, Changed: true}
	case opened != nil && current.Same(*opened):
		return Presence{Current: current, Match: match}
	default:
		return Presence{Current: opened, Closed: closeLocation(*current, at), Match: match, Changed: true}
	}
}

func closeLocation(l models.SignificantLocation, at time.Time) *models.SignificantLocation {
	exit := at
	dwell := l.DwellMinutes(exit)
	l.ExitTime = &exit
	l.DwellTime = &dwell
	return &l
}
