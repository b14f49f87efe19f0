package motion

import (
	"context"
	"fmt"
	"sort"

	"github.com/ukydev/fleet-trip-engine/internal/geo"
	"github.com/ukydev/fleet-trip-engine/internal/models"
)

// SpeedCutoff separates a moving sample from a stationary one, in km/h.
const SpeedCutoff = 2.0

// PositionBuffer holds raw samples per device until the engine drains them.
type PositionBuffer interface {
	// Drain returns the buffered samples of a device and removes them.
	Drain(ctx context.Context, deviceID string) ([]models.PathPoint, error)
}

// LastPositionCache returns the latest known position of a device.
type LastPositionCache interface {
	GetLastPosition(ctx context.Context, deviceID string) (*models.LastPosition, error)
}

// Window is the motion summary of one tick.
type Window struct {
	Points        []models.PathPoint // ascending by DtTracker
	TruckPoint    models.PathPoint
	DriveStatus   models.MovementStatus
	TopSpeed      float64 // km/h
	AverageSpeed  float64 // km/h
	TotalDistance float64 // km
	RunDuration   float64 // seconds

	// Aggregated is false for pre-active windows built from the last known position.
	Aggregated bool
}

// Extractor builds the per-tick motion window of a device.
type Extractor struct {
	buffer    PositionBuffer
	positions LastPositionCache
}

// NewExtractor creates an extractor over the buffer and last-position cache.
func NewExtractor(buffer PositionBuffer, positions LastPositionCache) *Extractor {
	return &Extractor{buffer: buffer, positions: positions}
}

// Extract returns the motion window for the trip stage, or nil when there is nothing to process.
// Active trips drain the buffer; Planned and StartDelayed trips only see the last known point.
func (e *Extractor) Extract(ctx context.Context, deviceID string, stage models.TripStage) (*Window, error) {
	switch {
	case stage == models.StageActive:
		points, err := e.buffer.Drain(ctx, deviceID)
		if err != nil {
			return nil, fmt.Errorf("drain buffer for %s: %w", deviceID, err)
		}
		return Summarize(points), nil
	case stage.IsPreActive():
		last, err := e.positions.GetLastPosition(ctx, deviceID)
		if err != nil {
			return nil, fmt.Errorf("last position for %s: %w", deviceID, err)
		}
		if last == nil {
			return nil, nil
		}
		p := last.PathPoint()
		return &Window{
			Points:      []models.PathPoint{p},
			TruckPoint:  p,
			DriveStatus: models.MovementUnknown,
		}, nil
	default:
		return nil, nil
	}
}

// Summarize orders the samples and computes the motion metrics. It returns nil for no samples.
func Summarize(points []models.PathPoint) *Window {
	if len(points) == 0 {
		return nil
	}
	sorted := make([]models.PathPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DtTracker.Before(sorted[j].DtTracker)
	})

	w := &Window{
		Points:      sorted,
		TruckPoint:  sorted[len(sorted)-1],
		DriveStatus: driveStatus(sorted),
		Aggregated:  true,
	}

	var pairs int
	var midSpeedSum float64
	for i := 1; i < len(sorted); i++ {
		a, b := sorted[i-1], sorted[i]
		if !InMotion(a) || !InMotion(b) {
			continue
		}
		pairs++
		if a.Speed > w.TopSpeed {
			w.TopSpeed = a.Speed
		}
		if b.Speed > w.TopSpeed {
			w.TopSpeed = b.Speed
		}
		midSpeedSum += (a.Speed + b.Speed) / 2
		w.TotalDistance += geo.DistanceKm(a.Location(), b.Location())
		w.RunDuration += b.DtTracker.Sub(a.DtTracker).Seconds()
	}
	if pairs > 0 {
		w.AverageSpeed = midSpeedSum / float64(pairs)
	}
	return w
}

// Locations returns the positions of the window samples in order.
func (w *Window) Locations() []models.Location {
	out := make([]models.Location, len(w.Points))
	for i, p := range w.Points {
		out[i] = p.Location()
	}
	return out
}

// InMotion reports whether a sample has ignition on and speed above SpeedCutoff.
func InMotion(p models.PathPoint) bool {
	return p.Acc && p.Speed > SpeedCutoff
}

func driveStatus(points []models.PathPoint) models.MovementStatus {
	halted, driving := true, true
	for _, p := range points {
		if p.Acc || p.Speed >= SpeedCutoff {
			halted = false
		}
		if !InMotion(p) {
			driving = false
		}
	}
	switch {
	case halted:
		return models.MovementHalted
	case driving:
		return models.MovementDriving
	default:
		return models.MovementUnknown
	}
}
