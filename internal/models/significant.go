package models

import "time"

// LocationType is the role a geofence plays on a route.
type LocationType string

const (
	LocationStart LocationType = "start"
	LocationEnd   LocationType = "end"
	LocationVia   LocationType = "via"
)

// SignificantLocation records a stay inside one of the route's geofences.
type SignificantLocation struct {
	LocationName string       `json:"location_name" bson:"location_name"`
	LocationType LocationType `json:"location_type" bson:"location_type"`
	EntryTime    time.Time    `json:"entry_time" bson:"entry_time"`
	ExitTime     *time.Time   `json:"exit_time,omitempty" bson:"exit_time,omitempty"`
	DwellTime    *float64     `json:"dwell_time,omitempty" bson:"dwell_time,omitempty"` // minutes
}

// Same reports whether both records refer to the same geofence.
func (l SignificantLocation) Same(o SignificantLocation) bool {
	return l.LocationType == o.LocationType && l.LocationName == o.LocationName
}

// DwellMinutes returns the minutes spent inside the geofence up to at.
func (l SignificantLocation) DwellMinutes(at time.Time) float64 {
	return at.Sub(l.EntryTime).Minutes()
}

// Event types recorded in SignificantEvents.
const (
	EventTripStage     = "trip_stage"
	EventActiveStatus  = "active_status"
	EventRuleViolation = "rule_violation"
)

// SignificantEvent is an append-only record of something that happened on the trip.
// Rule violation events stay open (no EventEndTime) until the rule recovers.
type SignificantEvent struct {
	EventID        string     `json:"event_id" bson:"event_id"`
	EventType      string     `json:"event_type" bson:"event_type"`
	EventName      string     `json:"event_name" bson:"event_name"`
	EventTime      time.Time  `json:"event_time" bson:"event_time"`
	EventStartTime time.Time  `json:"event_start_time" bson:"event_start_time"`
	EventEndTime   *time.Time `json:"event_end_time,omitempty" bson:"event_end_time,omitempty"`
	EventDuration  float64    `json:"event_duration" bson:"event_duration"` // minutes
	EventDistance  float64    `json:"event_distance" bson:"event_distance"` // km
	EventLocation  Location   `json:"event_location" bson:"event_location"`
	EventPath      []Location `json:"event_path,omitempty" bson:"event_path,omitempty"`
	StartOdometer  float64    `json:"start_odometer" bson:"start_odometer"` // truck run distance when opened
}

// IsOpen reports whether the event has not been closed yet.
func (e SignificantEvent) IsOpen() bool {
	return e.EventEndTime == nil
}

// RuleFlag is the tracked state of one operating rule.
type RuleFlag string

const (
	RuleGood     RuleFlag = "Good"
	RuleViolated RuleFlag = "Violated"
)

// RuleStatus is the per-rule state of a trip. An empty flag means the rule was never evaluated.
type RuleStatus struct {
	DrivingTime    RuleFlag `json:"driving_time,omitempty" bson:"driving_time,omitempty"`
	Speed          RuleFlag `json:"speed,omitempty" bson:"speed,omitempty"`
	Halt           RuleFlag `json:"halt,omitempty" bson:"halt,omitempty"`
	RouteViolation RuleFlag `json:"route_violation,omitempty" bson:"route_violation,omitempty"`
	ReverseTravel  RuleFlag `json:"reverse_travel,omitempty" bson:"reverse_travel,omitempty"`

	ReverseTravelDistance float64    `json:"reverse_travel_distance" bson:"reverse_travel_distance"` // km
	ReverseTravelPath     []Location `json:"reverse_travel_path,omitempty" bson:"reverse_travel_path,omitempty"`
}
