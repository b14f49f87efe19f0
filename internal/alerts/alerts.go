// Package alerts hands trip state changes to external notification channels.
package alerts

import (
	"context"
	"time"

	"github.com/ukydev/fleet-trip-engine/internal/models"
)

// Alert event types.
const (
	EventTripStage     = models.EventTripStage
	EventActiveStatus  = models.EventActiveStatus
	EventRuleViolation = models.EventRuleViolation
	EventRuleRecovered = "rule_recovered"
)

// Dispatcher delivers alerts. Notify never blocks on delivery and never fails the caller.
type Dispatcher interface {
	Notify(ctx context.Context, trip *models.Trip, eventType, newStatus string, metadata map[string]interface{})
}

// Alert is the payload published for one state change.
type Alert struct {
	ID        string                 `json:"id"`
	TripID    string                 `json:"trip_id"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	VehicleID string                 `json:"vehicle_id,omitempty"`
	DeviceID  string                 `json:"device_id"`
	EventType string                 `json:"event_type"`
	Status    string                 `json:"status"`
	Location  *models.Location       `json:"location,omitempty"`
	Time      time.Time              `json:"time"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewAlert builds the payload for a trip.
func NewAlert(id string, trip *models.Trip, eventType, newStatus string, metadata map[string]interface{}, at time.Time) Alert {
	return Alert{
		ID:        id,
		TripID:    trip.ID.Hex(),
		TenantID:  trip.TenantID,
		VehicleID: trip.VehicleID,
		DeviceID:  trip.DeviceID,
		EventType: eventType,
		Status:    newStatus,
		Location:  trip.CurrentLocation,
		Time:      at,
		Metadata:  metadata,
	}
}
