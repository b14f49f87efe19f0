// Package engine runs the per-trip tick pipeline: motion window, geofence
// presence, route situation, rule evaluation, lifecycle and persistence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-trip-engine/internal/alerts"
	"github.com/ukydev/fleet-trip-engine/internal/db"
	"github.com/ukydev/fleet-trip-engine/internal/fuel"
	"github.com/ukydev/fleet-trip-engine/internal/geofence"
	"github.com/ukydev/fleet-trip-engine/internal/lifecycle"
	"github.com/ukydev/fleet-trip-engine/internal/metrics"
	"github.com/ukydev/fleet-trip-engine/internal/models"
	"github.com/ukydev/fleet-trip-engine/internal/motion"
	"github.com/ukydev/fleet-trip-engine/internal/routematch"
	"github.com/ukydev/fleet-trip-engine/internal/rules"
	"github.com/ukydev/fleet-trip-engine/internal/update"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNoWindow means the device had no samples to process this tick.
	ErrNoWindow = errors.New("no motion window")
	// ErrNoRoute means the trip's route could not be loaded.
	ErrNoRoute = errors.New("route unavailable")
)

// DefaultFuelInterval is the minimum time between two fuel queries of an active trip.
const DefaultFuelInterval = time.Hour

// WindowSource produces the motion window of a device.
type WindowSource interface {
	Extract(ctx context.Context, deviceID string, stage models.TripStage) (*motion.Window, error)
}

// RouteStore loads routes.
type RouteStore interface {
	FindRouteByID(ctx context.Context, id primitive.ObjectID) (*models.Route, error)
}

// Persister writes tick deltas.
type Persister interface {
	Persist(ctx context.Context, tripID primitive.ObjectID, delta *update.Delta, set rules.RuleSet) error
}

// FuelService reports fuel usage of a trip.
type FuelService interface {
	Report(ctx context.Context, trip *models.Trip, from, to time.Time) (*fuel.Report, error)
}

// Options tunes the engine.
type Options struct {
	// Location is the timezone driving-time windows are evaluated in.
	Location     *time.Location
	FuelInterval time.Duration
}

// Engine processes one trip per call.
type Engine struct {
	windows   WindowSource
	routes    RouteStore
	persister Persister
	alerts    alerts.Dispatcher
	fuel      FuelService
	opts      Options
	now       func() time.Time
}

// New creates an engine. fuelService may be nil to disable fuel queries.
func New(windows WindowSource, routes RouteStore, persister Persister, dispatcher alerts.Dispatcher, fuelService FuelService, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.FuelInterval <= 0 {
		opts.FuelInterval = DefaultFuelInterval
	}
	if dispatcher == nil {
		dispatcher = alerts.LogDispatcher{}
	}
	return &Engine{
		windows:   windows,
		routes:    routes,
		persister: persister,
		alerts:    dispatcher,
		fuel:      fuelService,
		opts:      opts,
		now:       time.Now,
	}
}

type pendingAlert struct {
	eventType string
	status    string
	metadata  map[string]interface{}
}

// tick carries the state of one trip while the pipeline runs.
type tick struct {
	trip   *models.Trip
	route  *models.Route
	window *motion.Window
	set    rules.RuleSet
	delta  *update.Delta
	alerts []pendingAlert

	now        time.Time
	sampleTime time.Time
	position   models.Location
	runDist    float64 // km driven including this window
}

func (t *tick) notify(eventType, status string, metadata map[string]interface{}) {
	t.alerts = append(t.alerts, pendingAlert{eventType: eventType, status: status, metadata: metadata})
}

// ProcessTrip runs one tick for the trip. ErrNoWindow and ErrNoRoute mean there
// was nothing to do; any other error leaves the stored trip unchanged.
func (e *Engine) ProcessTrip(ctx context.Context, trip *models.Trip) error {
	if trip.TripStage.IsTerminal() {
		return nil
	}
	logger := log.WithFields(log.Fields{
		"trip_id":   trip.ID.Hex(),
		"device_id": trip.DeviceID,
		"stage":     trip.TripStage,
	})

	window, err := e.windows.Extract(ctx, trip.DeviceID, trip.TripStage)
	if err != nil {
		return fmt.Errorf("motion window: %w", err)
	}
	if window == nil {
		return ErrNoWindow
	}

	route, err := e.routes.FindRouteByID(ctx, trip.RouteID)
	if err != nil {
		if errors.Is(err, db.ErrRouteNotFound) {
			return fmt.Errorf("%w: %s", ErrNoRoute, trip.RouteID.Hex())
		}
		return fmt.Errorf("load route: %w", err)
	}

	t := &tick{
		trip:       trip,
		route:      route,
		window:     window,
		set:        rules.NewRuleSet(route.Rules),
		delta:      update.NewDelta(),
		now:        e.now(),
		sampleTime: window.TruckPoint.DtTracker,
		position:   window.TruckPoint.Location(),
		runDist:    trip.TruckRunDistance,
	}
	if len(t.set.Skipped) > 0 {
		logger.WithField("rules", t.set.Skipped).Warn("Malformed rule thresholds, rules not evaluated")
	}

	t.delta.SetField("current_location", t.position)
	presence := geofence.Track(trip.CurrentSignificantLocation, route, t.position, t.sampleTime)
	if presence.Changed {
		t.delta.SetField("current_significant_location", presence.Current)
	}
	if presence.Closed != nil {
		t.delta.AppendTo(update.FieldSignificantLocations, *presence.Closed)
	}

	if trip.TripStage == models.StageActive {
		haltMinutes := e.applyMotion(t)
		e.applyRules(t, haltMinutes, logger)
	}

	outcome := lifecycle.Advance(lifecycle.Input{
		Stage:        trip.TripStage,
		Status:       trip.ActiveStatus,
		PlannedStart: trip.PlannedStartTime,
		Presence:     presence,
		Movement:     window.DriveStatus,
		Now:          t.now,
		SampleTime:   t.sampleTime,
	})
	e.applyLifecycle(t, outcome)
	e.applyFuel(ctx, t, outcome.Stage, logger)

	if err := e.persister.Persist(ctx, trip.ID, t.delta, t.set); err != nil {
		return fmt.Errorf("persist: %w", err)
	}

	// alerts describe the trip as persisted by this tick
	pos := t.position
	trip.CurrentLocation = &pos
	trip.TripStage, trip.ActiveStatus = outcome.Stage, outcome.Status
	for _, a := range t.alerts {
		e.alerts.Notify(ctx, trip, a.eventType, a.status, a.metadata)
	}
	logger.WithFields(log.Fields{
		"next_stage":  outcome.Stage,
		"status":      outcome.Status.String(),
		"samples":     len(window.Points),
		"transitions": len(t.alerts),
	}).Debug("Trip tick processed")
	return nil
}

// applyMotion updates running metrics, halt tracking and the trip path. It returns the current halt duration in minutes.
func (e *Engine) applyMotion(t *tick) float64 {
	trip, w, d := t.trip, t.window, t.delta

	t.runDist = trip.TruckRunDistance + w.TotalDistance
	runDuration := trip.TruckRunDuration + w.RunDuration
	avg := 0.0
	if runDuration > 0 {
		avg = t.runDist / (runDuration / 3600)
	}
	d.SetField("movement_status", w.DriveStatus)
	d.SetField("truck_run_distance", t.runDist)
	d.SetField("truck_run_duration", runDuration)
	d.SetField("average_speed", avg)
	d.SetField("top_speed", math.Max(trip.TopSpeed, w.TopSpeed))

	haltMinutes := trip.CurrentHaltDuration
	switch w.DriveStatus {
	case models.MovementHalted:
		start := w.Points[0].DtTracker
		if trip.HaltStartTime != nil {
			start = *trip.HaltStartTime
		}
		haltMinutes = math.Max(0, t.sampleTime.Sub(start).Minutes())
		d.SetField("halt_start_time", start)
		d.SetField("current_halt_duration", haltMinutes)
	case models.MovementDriving:
		haltMinutes = 0
		d.SetField("halt_start_time", nil)
		d.SetField("current_halt_duration", 0.0)
	}

	for _, p := range w.Points {
		d.AppendTo(update.FieldTripPath, models.TripPathPoint{Lat: p.Lat, Lon: p.Lng, Time: p.DtTracker, Speed: p.Speed})
	}
	return haltMinutes
}

// applyRules matches the route, maintains the reverse travel accumulator and records rule transitions.
func (e *Engine) applyRules(t *tick, haltMinutes float64, logger *log.Entry) {
	trip, d := t.trip, t.delta
	situation := routematch.Match(t.route, &t.position, t.window.Locations())

	sig := rules.Signals{
		Time:        t.sampleTime.In(e.opts.Location),
		Speed:       t.window.TruckPoint.Speed,
		Moving:      motion.InMotion(t.window.TruckPoint),
		HaltMinutes: haltMinutes,
	}

	if situation == nil {
		logger.Warn("Route has no polyline, route rules keep their state")
	} else {
		sig.HasRoute = true
		sig.RouteDistance = situation.DistanceFromTruck
		d.SetField("nearest_route_point_index", situation.NearestPointIndex)
		d.SetField("distance_from_route", situation.DistanceFromTruck)
		d.SetField("distance_covered", situation.CumulativeDistance)
		d.SetField("distance_remaining", situation.DistanceRemaining)

		if situation.Direction == routematch.Reverse {
			sig.ReverseDistance = trip.RuleStatus.ReverseTravelDistance + situation.ReverseTravelDistance
			path := append(append([]models.Location{}, trip.RuleStatus.ReverseTravelPath...), t.window.Locations()...)
			d.MergeRuleStatus(update.FieldReverseTravelDistance, sig.ReverseDistance)
			d.MergeRuleStatus(update.FieldReverseTravelPath, path)
		} else {
			d.MergeRuleStatus(update.FieldReverseTravelDistance, 0.0)
			d.MergeRuleStatus(update.FieldReverseTravelPath, []models.Location{})
		}
	}

	for _, tr := range rules.Evaluate(t.set, trip.RuleStatus, sig) {
		d.MergeRuleStatus(string(tr.Rule), tr.To)
		metrics.RuleTransitions.WithLabelValues(string(tr.Rule), string(tr.To)).Inc()
		meta := map[string]interface{}{"rule": string(tr.Rule), "from": string(tr.From)}

		if tr.Opened() {
			d.AppendTo(update.FieldSignificantEvents, models.SignificantEvent{
				EventID:        uuid.NewString(),
				EventType:      models.EventRuleViolation,
				EventName:      string(tr.Rule),
				EventTime:      t.sampleTime,
				EventStartTime: t.sampleTime,
				EventLocation:  t.position,
				StartOdometer:  t.runDist,
			})
			t.notify(alerts.EventRuleViolation, string(tr.To), meta)
			continue
		}

		if open := lastOpenViolation(trip.SignificantEvents, tr.Rule); open != nil {
			closure := update.EventClosure{
				EventID:  open.EventID,
				EndTime:  t.sampleTime,
				Duration: math.Max(0, t.sampleTime.Sub(open.EventStartTime).Minutes()),
				Distance: math.Max(0, t.runDist-open.StartOdometer),
			}
			if tr.Rule == rules.ReverseTravel {
				closure.Path = trip.RuleStatus.ReverseTravelPath
			}
			d.CloseEvent(closure)
			meta["event_id"] = open.EventID
			meta["duration_minutes"] = closure.Duration
		}
		t.notify(alerts.EventRuleRecovered, string(tr.To), meta)
	}
}

// lastOpenViolation returns the most recent unterminated violation event of a rule.
func lastOpenViolation(events []models.SignificantEvent, rule rules.Rule) *models.SignificantEvent {
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.EventType == models.EventRuleViolation && ev.EventName == string(rule) && ev.IsOpen() {
			return &events[i]
		}
	}
	return nil
}

func (e *Engine) applyLifecycle(t *tick, out lifecycle.Outcome) {
	d := t.delta
	at := t.sampleTime

	if out.StageChanged {
		d.SetField("trip_stage", out.Stage)
		metrics.StageTransitions.WithLabelValues(string(out.Stage)).Inc()
		switch out.Stage {
		case models.StageActive:
			d.SetField("actual_start_time", at)
		case models.StageCompleted:
			d.SetField("actual_end_time", at)
		}
		d.AppendTo(update.FieldSignificantEvents, pointEvent(models.EventTripStage, string(out.Stage), at, t.position))
		t.notify(alerts.EventTripStage, string(out.Stage), map[string]interface{}{"from": string(t.trip.TripStage)})
	}

	if out.StatusChanged {
		d.SetField("active_status", out.Status)
		d.AppendTo(update.FieldSignificantEvents, pointEvent(models.EventActiveStatus, out.Status.String(), at, t.position))
		t.notify(alerts.EventActiveStatus, out.Status.String(), map[string]interface{}{"from": t.trip.ActiveStatus.String()})
	}
}

func pointEvent(eventType, name string, at time.Time, loc models.Location) models.SignificantEvent {
	end := at
	return models.SignificantEvent{
		EventID:        uuid.NewString(),
		EventType:      eventType,
		EventName:      name,
		EventTime:      at,
		EventStartTime: at,
		EventEndTime:   &end,
		EventLocation:  loc,
	}
}

// applyFuel queries fuel analytics when the trip is due or has just completed.
func (e *Engine) applyFuel(ctx context.Context, t *tick, next models.TripStage, logger *log.Entry) {
	trip := t.trip
	if e.fuel == nil || trip.TripStage != models.StageActive {
		return
	}
	completed := next == models.StageCompleted
	due := trip.LastFuelQueryTime == nil || t.now.Sub(*trip.LastFuelQueryTime) >= e.opts.FuelInterval
	if !due && !completed {
		return
	}

	from := trip.PlannedStartTime
	if trip.ActualStartTime != nil {
		from = *trip.ActualStartTime
	}
	report, err := e.fuel.Report(ctx, trip, from, t.now)
	if err != nil {
		logger.WithError(err).Warn("Fuel analytics query failed")
		return
	}

	for _, ev := range report.FuelEvents {
		if trip.LastFuelQueryTime == nil || ev.Time.After(*trip.LastFuelQueryTime) {
			t.delta.AppendTo(update.FieldFuelEvents, ev)
		}
	}
	t.delta.SetField("fuel_consumption", report.Consumption)
	t.delta.SetField("mileage", report.Mileage)
	t.delta.SetField("last_fuel_query_time", t.now)
}
