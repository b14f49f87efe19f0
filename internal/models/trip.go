package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TripStage is the coarse lifecycle stage of a trip.
type TripStage string

const (
	StagePlanned      TripStage = "Planned"
	StageStartDelayed TripStage = "StartDelayed"
	StageActive       TripStage = "Active"
	StageCompleted    TripStage = "Completed"
	StageAborted      TripStage = "Aborted"
	StageCancelled    TripStage = "Cancelled"
)

// IsTerminal reports whether the engine stops processing trips in this stage.
func (s TripStage) IsTerminal() bool {
	switch s {
	case StageCompleted, StageAborted, StageCancelled:
		return true
	default:
		return false
	}
}

// IsPreActive reports whether the trip has not started yet.
func (s TripStage) IsPreActive() bool {
	return s == StagePlanned || s == StageStartDelayed
}

// MovementStatus summarises how the vehicle moved during the last window.
type MovementStatus string

const (
	MovementDriving MovementStatus = "Driving"
	MovementHalted  MovementStatus = "Halted"
	MovementUnknown MovementStatus = "Unknown"
)

// Trip represents one planned journey of a device along a route.
type Trip struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	TenantID  string             `json:"tenant_id" bson:"tenant_id"`
	VehicleID string             `json:"vehicle_id" bson:"vehicle_id"`
	DeviceID  string             `json:"device_id" bson:"device_id"`
	RouteID   primitive.ObjectID `json:"route_id" bson:"route_id"`

	TripStage        TripStage      `json:"trip_stage" bson:"trip_stage"`
	ActiveStatus     ActiveStatus   `json:"active_status" bson:"active_status"`
	MovementStatus   MovementStatus `json:"movement_status" bson:"movement_status"`
	PlannedStartTime time.Time      `json:"planned_start_time" bson:"planned_start_time"`
	ActualStartTime  *time.Time     `json:"actual_start_time,omitempty" bson:"actual_start_time,omitempty"`
	ActualEndTime    *time.Time     `json:"actual_end_time,omitempty" bson:"actual_end_time,omitempty"`

	CurrentLocation            *Location            `json:"current_location,omitempty" bson:"current_location,omitempty"`
	CurrentSignificantLocation *SignificantLocation `json:"current_significant_location" bson:"current_significant_location"`
	RuleStatus                 RuleStatus           `json:"rule_status" bson:"rule_status"`

	DistanceCovered        float64    `json:"distance_covered" bson:"distance_covered"`           // km along the route
	DistanceRemaining      float64    `json:"distance_remaining" bson:"distance_remaining"`       // km
	TruckRunDistance       float64    `json:"truck_run_distance" bson:"truck_run_distance"`       // km actually driven
	TruckRunDuration       float64    `json:"truck_run_duration" bson:"truck_run_duration"`       // seconds
	AverageSpeed           float64    `json:"average_speed" bson:"average_speed"`                 // km/h
	TopSpeed               float64    `json:"top_speed" bson:"top_speed"`                         // km/h
	CurrentHaltDuration    float64    `json:"current_halt_duration" bson:"current_halt_duration"` // minutes
	HaltStartTime          *time.Time `json:"halt_start_time" bson:"halt_start_time"`
	NearestRoutePointIndex int        `json:"nearest_route_point_index" bson:"nearest_route_point_index"`
	DistanceFromRoute      float64    `json:"distance_from_route" bson:"distance_from_route"` // meters

	FuelConsumption   float64    `json:"fuel_consumption" bson:"fuel_consumption"` // liters
	Mileage           float64    `json:"mileage" bson:"mileage"`                   // km per liter
	LastFuelQueryTime *time.Time `json:"last_fuel_query_time,omitempty" bson:"last_fuel_query_time,omitempty"`

	SignificantLocations []SignificantLocation `json:"significant_locations" bson:"significant_locations"`
	SignificantEvents    []SignificantEvent    `json:"significant_events" bson:"significant_events"`
	TripPath             []TripPathPoint       `json:"trip_path" bson:"trip_path"`
	FuelEvents           []FuelEvent           `json:"fuel_events" bson:"fuel_events"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// TripPathPoint is one persisted sample of the travelled path.
type TripPathPoint struct {
	Lat   float64   `json:"lat" bson:"lat"`
	Lon   float64   `json:"lon" bson:"lon"`
	Time  time.Time `json:"time" bson:"time"`
	Speed float64   `json:"speed" bson:"speed"`
}

// FuelEvent is a refuel or drain reported by the fuel analytics service.
type FuelEvent struct {
	Type     string    `json:"type" bson:"type"` // "filling", "theft"
	Amount   float64   `json:"amount" bson:"amount"`
	Time     time.Time `json:"time" bson:"time"`
	Location Location  `json:"location" bson:"location"`
}
