package lifecycle

import (
	"time"

	"github.com/ukydev/fleet-trip-engine/internal/geofence"
	"github.com/ukydev/fleet-trip-engine/internal/models"
)

// Input is everything the state machine looks at for one tick.
type Input struct {
	Stage        models.TripStage
	Status       models.ActiveStatus
	PlannedStart time.Time
	Presence     geofence.Presence
	Movement     models.MovementStatus
	// Now is the wall clock, used only for the start-delay check.
	Now time.Time
	// SampleTime is the time of the latest sample. Dwell is measured against it,
	// the same clock geofence entry and exit times use.
	SampleTime time.Time
}

// Outcome is the compound state after the tick.
type Outcome struct {
	Stage         models.TripStage
	Status        models.ActiveStatus
	StageChanged  bool
	StatusChanged bool
}

// Advance computes the next trip stage and activity status.
func Advance(in Input) Outcome {
	stage, status := next(in)
	return Outcome{
		Stage:         stage,
		Status:        status,
		StageChanged:  stage != in.Stage,
		StatusChanged: status != in.Status,
	}
}

func next(in Input) (models.TripStage, models.ActiveStatus) {
	current := in.Presence.Current

	switch {
	case in.Stage.IsTerminal():
		return in.Stage, in.Status

	case in.Stage.IsPreActive():
		if current != nil && current.LocationType == models.LocationStart {
			return models.StageActive, models.ActiveStatus{Kind: models.ActivityReachedStart}
		}
		if in.Stage == models.StagePlanned && in.Now.After(in.PlannedStart) {
			return models.StageStartDelayed, models.ActiveStatus{Kind: models.ActivityInactive}
		}
		return in.Stage, in.Status
	}

	if closed := in.Presence.Closed; closed != nil && closed.LocationType == models.LocationEnd {
		return models.StageCompleted, in.Status
	}

	if current != nil && in.Presence.Match != nil {
		detained := current.DwellMinutes(in.SampleTime) > in.Presence.Match.Geofence.MaxDetention()
		return models.StageActive, presenceStatus(*current, detained)
	}

	if in.Movement == models.MovementHalted {
		return models.StageActive, models.ActiveStatus{Kind: models.ActivityHalted}
	}
	return models.StageActive, models.ActiveStatus{Kind: models.ActivityRunning}
}

func presenceStatus(l models.SignificantLocation, detained bool) models.ActiveStatus {
	switch l.LocationType {
	case models.LocationStart:
		if detained {
			return models.ActiveStatus{Kind: models.ActivityDetainedStart}
		}
		return models.ActiveStatus{Kind: models.ActivityReachedStart}
	case models.LocationEnd:
		if detained {
			return models.ActiveStatus{Kind: models.ActivityDetainedEnd}
		}
		return models.ActiveStatus{Kind: models.ActivityReachedEnd}
	default:
		if detained {
			return models.ActiveStatus{Kind: models.ActivityDetainedVia, Name: l.LocationName}
		}
		return models.ActiveStatus{Kind: models.ActivityReachedVia, Name: l.LocationName}
	}
}
