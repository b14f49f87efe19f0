package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
	"time"
)

// DefaultMaxDetentionMinutes applies to geofences that do not set MaxDetentionTime.
const DefaultMaxDetentionMinutes = 120.0

// DefaultTriggerRadiusMeters applies to point geofences without a radius.
const DefaultTriggerRadiusMeters = 500.0

// GeofenceType is either a point with a radius or a polygon zone.
type GeofenceType string

const (
	GeofencePoint GeofenceType = "point"
	GeofenceZone  GeofenceType = "zone"
)

// Geofence is a named area a position is either inside or outside of.
type Geofence struct {
	Name             string       `json:"name" bson:"name"`
	Type             GeofenceType `json:"type" bson:"type"`
	Center           Location     `json:"center" bson:"center"`
	TriggerRadius    float64      `json:"trigger_radius" bson:"trigger_radius"` // meters
	Polygon          []Location   `json:"polygon,omitempty" bson:"polygon,omitempty"`
	MaxDetentionTime *float64     `json:"max_detention_time,omitempty" bson:"max_detention_time,omitempty"` // minutes
}

// MaxDetention returns the detention threshold in minutes.
func (g Geofence) MaxDetention() float64 {
	if g.MaxDetentionTime == nil {
		return DefaultMaxDetentionMinutes
	}
	return *g.MaxDetentionTime
}

// RouteRules holds the optional operating thresholds of a route.
// A nil field means the rule is not tracked.
type RouteRules struct {
	DrivingStartTime        *string  `json:"driving_start_time,omitempty" bson:"driving_start_time,omitempty" validate:"omitempty,datetime=15:04"`
	DrivingEndTime          *string  `json:"driving_end_time,omitempty" bson:"driving_end_time,omitempty" validate:"omitempty,datetime=15:04"`
	SpeedLimit              *float64 `json:"speed_limit,omitempty" bson:"speed_limit,omitempty" validate:"omitempty,gt=0"`                             // km/h
	MaxHaltTime             *float64 `json:"max_halt_time,omitempty" bson:"max_halt_time,omitempty" validate:"omitempty,gt=0"`                         // minutes
	RouteViolationThreshold *float64 `json:"route_violation_threshold,omitempty" bson:"route_violation_threshold,omitempty" validate:"omitempty,gt=0"` // meters
	ReverseTravelThreshold  *float64 `json:"reverse_travel_threshold,omitempty" bson:"reverse_travel_threshold,omitempty" validate:"omitempty,gt=0"`   // km
}

// Route is the planned path and geofences a trip follows. The engine never mutates it.
type Route struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	TenantID      string             `json:"tenant_id" bson:"tenant_id"`
	Name          string             `json:"name" bson:"name"`
	RoutePath     []Location         `json:"route_path" bson:"route_path"`
	RouteLength   float64            `json:"route_length" bson:"route_length"` // km
	StartLocation Geofence           `json:"start_location" bson:"start_location"`
	EndLocation   Geofence           `json:"end_location" bson:"end_location"`
	ViaLocations  []Geofence         `json:"via_locations" bson:"via_locations"`
	Rules         RouteRules         `json:"rules" bson:"rules"`
	CreatedAt     time.Time          `json:"created_at" bson:"created_at"`
}
