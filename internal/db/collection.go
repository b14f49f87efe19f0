package db

import (
	"context"
	"errors"

	"github.com/ukydev/fleet-trip-engine/internal/models"
	"github.com/ukydev/fleet-trip-engine/internal/update"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrTripNotFound  = errors.New("trip not found")
	ErrRouteNotFound = errors.New("route not found")
)

// OpenStages are the stages the engine keeps processing.
var OpenStages = []models.TripStage{models.StagePlanned, models.StageStartDelayed, models.StageActive}

// TripCollection defines the interface for trip data operations.
type TripCollection interface {
	InsertTrip(ctx context.Context, trip models.Trip) (primitive.ObjectID, error)
	FindTripByID(ctx context.Context, id primitive.ObjectID) (*models.Trip, error)
	FindOpenTrips(ctx context.Context) ([]models.Trip, error)
	ApplyTripUpdate(ctx context.Context, tripID primitive.ObjectID, delta *update.Delta) error
}

// RouteCollection defines the interface for route data operations.
type RouteCollection interface {
	InsertRoute(ctx context.Context, route models.Route) (primitive.ObjectID, error)
	FindRouteByID(ctx context.Context, id primitive.ObjectID) (*models.Route, error)
}

// PositionBuffer defines the interface for the per-device sample buffer.
type PositionBuffer interface {
	PushPoints(ctx context.Context, points ...models.PathPoint) error
	Drain(ctx context.Context, deviceID string) ([]models.PathPoint, error)
}

// LastPositionCache defines the interface for the latest known device position.
type LastPositionCache interface {
	SetLastPosition(ctx context.Context, pos models.LastPosition) error
	GetLastPosition(ctx context.Context, deviceID string) (*models.LastPosition, error)
}

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// prepareTrip fills the defaults every stored trip must carry. Append-only
// arrays start empty so $push never meets a null field.
func prepareTrip(trip *models.Trip) {
	if trip.TripStage == "" {
		trip.TripStage = models.StagePlanned
	}
	if trip.ActiveStatus.Kind == "" {
		trip.ActiveStatus = models.ActiveStatus{Kind: models.ActivityInactive}
	}
	if trip.MovementStatus == "" {
		trip.MovementStatus = models.MovementUnknown
	}
	if trip.SignificantLocations == nil {
		trip.SignificantLocations = []models.SignificantLocation{}
	}
	if trip.SignificantEvents == nil {
		trip.SignificantEvents = []models.SignificantEvent{}
	}
	if trip.TripPath == nil {
		trip.TripPath = []models.TripPathPoint{}
	}
	if trip.FuelEvents == nil {
		trip.FuelEvents = []models.FuelEvent{}
	}
}
