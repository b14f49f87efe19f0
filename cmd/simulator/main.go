package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-trip-engine/internal/config"
	"github.com/ukydev/fleet-trip-engine/internal/db"
	"github.com/ukydev/fleet-trip-engine/internal/geo"
	"github.com/ukydev/fleet-trip-engine/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Depots trips start from.
var cities = []models.Location{
	{Lat: 51.5074, Lon: -0.1278},  // London
	{Lat: 40.4168, Lon: -3.7038},  // Madrid
	{Lat: 48.8566, Lon: 2.3522},   // Paris
	{Lat: 52.5200, Lon: 13.4050},  // Berlin
	{Lat: 41.0082, Lon: 28.9784},  // Istanbul
	{Lat: 51.4816, Lon: -3.1791},  // Cardiff
	{Lat: 19.0760, Lon: 72.8777},  // Mumbai
	{Lat: 28.6139, Lon: 77.2090},  // Delhi
	{Lat: 25.2048, Lon: 55.2708},  // Dubai
	{Lat: 43.6532, Lon: -79.3832}, // Toronto
}

var osrmBaseURL = "https://router.project-osrm.org"

// sampleSink receives the simulated telemetry.
type sampleSink interface {
	PushPoints(ctx context.Context, points ...models.PathPoint) error
	SetLastPosition(ctx context.Context, pos models.LastPosition) error
}

// storeSink writes samples to the position buffer and the last position cache.
type storeSink struct {
	db.PositionBuffer
	db.LastPositionCache
}

func jitterLocation(base models.Location, meters float64) models.Location {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLon := (rand.Float64()*2 - 1) * (meters / lonMetersPerDeg)
	return models.Location{Lat: base.Lat + dLat, Lon: base.Lon + dLon}
}

func lerp(a, b models.Location, t float64) models.Location {
	return models.Location{Lat: a.Lat + (b.Lat-a.Lat)*t, Lon: a.Lon + (b.Lon-a.Lon)*t}
}

// straightPath splits the segment a-b into points at most stepKm apart.
func straightPath(a, b models.Location, stepKm float64) []models.Location {
	n := int(math.Ceil(geo.DistanceKm(a, b) / stepKm))
	if n < 1 {
		n = 1
	}
	pts := make([]models.Location, 0, n+1)
	for i := 0; i <= n; i++ {
		pts = append(pts, lerp(a, b, float64(i)/float64(n)))
	}
	return pts
}

func fetchOSRMRoute(ctx context.Context, start, end models.Location) ([]models.Location, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		osrmBaseURL, start.Lon, start.Lat, end.Lon, end.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("osrm status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var obj struct {
		Routes []struct {
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"routes"`
	}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}
	if len(obj.Routes) == 0 || len(obj.Routes[0].Geometry.Coordinates) < 2 {
		return nil, fmt.Errorf("no route")
	}
	coords := obj.Routes[0].Geometry.Coordinates
	pts := make([]models.Location, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		pts = append(pts, models.Location{Lat: c[1], Lon: c[0]})
	}
	return pts, nil
}

// planRoute builds a route of roughly distanceKm from a random depot.
// The road geometry comes from OSRM when reachable and falls back to a straight line.
func planRoute(ctx context.Context, name string, distanceKm float64) models.Route {
	start := jitterLocation(cities[rand.Intn(len(cities))], 500)
	end := jitterLocation(start, distanceKm*1000/math.Sqrt2)

	path, err := fetchOSRMRoute(ctx, start, end)
	if err != nil {
		log.WithError(err).Debug("OSRM unavailable, using straight route")
		path = straightPath(start, end, 0.2)
	}
	return buildRoute(name, path)
}

func buildRoute(name string, path []models.Location) models.Route {
	speedLimit := 80.0
	maxHalt := 30.0
	deviation := 500.0
	reverse := 2.0
	drivingStart := "05:00"
	drivingEnd := "23:00"

	route := models.Route{
		TenantID:    "simulator",
		Name:        name,
		RoutePath:   path,
		RouteLength: geo.PathLengthKm(path),
		StartLocation: models.Geofence{
			Name: name + " origin", Type: models.GeofencePoint, Center: path[0], TriggerRadius: 300,
		},
		EndLocation: models.Geofence{
			Name: name + " destination", Type: models.GeofencePoint, Center: path[len(path)-1], TriggerRadius: 300,
		},
		Rules: models.RouteRules{
			DrivingStartTime:        &drivingStart,
			DrivingEndTime:          &drivingEnd,
			SpeedLimit:              &speedLimit,
			MaxHaltTime:             &maxHalt,
			RouteViolationThreshold: &deviation,
			ReverseTravelThreshold:  &reverse,
		},
	}
	if len(path) > 2 {
		mid := path[len(path)/2]
		route.ViaLocations = []models.Geofence{{
			Name: name + " checkpoint", Type: models.GeofencePoint, Center: mid, TriggerRadius: 300,
		}}
	}
	return route
}

// seedTrip stores the route and a planned trip for deviceID along it.
func seedTrip(ctx context.Context, routes db.RouteCollection, trips db.TripCollection, route models.Route, deviceID string, plannedStart time.Time) (primitive.ObjectID, error) {
	routeID, err := routes.InsertRoute(ctx, route)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("failed to insert route: %w", err)
	}
	tripID, err := trips.InsertTrip(ctx, models.Trip{
		TenantID:         route.TenantID,
		VehicleID:        "vehicle-" + deviceID,
		DeviceID:         deviceID,
		RouteID:          routeID,
		PlannedStartTime: plannedStart,
	})
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("failed to insert trip: %w", err)
	}
	return tripID, nil
}

// --- Movement ---

type VehicleRoute struct {
	Points    []models.Location
	SegIndex  int
	SegOffset float64 // km along current segment
}

type VehicleState struct {
	DeviceID string
	Position models.Location
	SpeedKmh float64
	FuelPct  float64
	Route    *VehicleRoute
	Arrived  bool
}

func newVehicleState(deviceID string, route models.Route) *VehicleState {
	return &VehicleState{
		DeviceID: deviceID,
		Position: route.RoutePath[0],
		SpeedKmh: 30 + rand.Float64()*30,
		FuelPct:  50 + rand.Float64()*50,
		Route:    &VehicleRoute{Points: route.RoutePath},
	}
}

// stepAlongRoute moves the vehicle tickSec seconds along its route and parks it at the end.
func stepAlongRoute(s *VehicleState, tickSec float64) {
	if s.Arrived || s.Route == nil || len(s.Route.Points) < 2 {
		s.Arrived = true
		s.SpeedKmh = 0
		return
	}
	remKm := s.SpeedKmh * (tickSec / 3600.0)
	for remKm > 0 && s.Route.SegIndex < len(s.Route.Points)-1 {
		a := s.Route.Points[s.Route.SegIndex]
		b := s.Route.Points[s.Route.SegIndex+1]
		segLen := geo.DistanceKm(a, b)
		leftOnSeg := segLen - s.Route.SegOffset
		if remKm >= leftOnSeg {
			s.Position = b
			s.Route.SegIndex++
			s.Route.SegOffset = 0
			remKm -= leftOnSeg
			continue
		}
		t := (s.Route.SegOffset + remKm) / segLen
		if t < 0 {
			t = 0
		}
		if t > 1 {
			t = 1
		}
		s.Position = lerp(a, b, t)
		s.Route.SegOffset += remKm
		remKm = 0
	}
	if s.Route.SegIndex >= len(s.Route.Points)-1 {
		s.Arrived = true
		s.SpeedKmh = 0
	}
}

func sampleFromState(s *VehicleState, at time.Time) models.PathPoint {
	fuel := s.FuelPct
	return models.PathPoint{
		DtTracker: at,
		DeviceID:  s.DeviceID,
		Lat:       s.Position.Lat,
		Lng:       s.Position.Lon,
		Speed:     s.SpeedKmh,
		Acc:       !s.Arrived,
		FuelLevel: &fuel,
	}
}

func publishSample(ctx context.Context, sink sampleSink, p models.PathPoint) error {
	if err := sink.PushPoints(ctx, p); err != nil {
		return fmt.Errorf("failed to buffer sample: %w", err)
	}
	if err := sink.SetLastPosition(ctx, models.LastPosition{
		DeviceID: p.DeviceID, Lat: p.Lat, Lng: p.Lng, Timestamp: p.DtTracker,
	}); err != nil {
		return fmt.Errorf("failed to cache position: %w", err)
	}
	return nil
}

// tick advances the vehicle once and publishes the resulting sample.
func tick(ctx context.Context, sink sampleSink, s *VehicleState, interval time.Duration, now time.Time) error {
	if !s.Arrived {
		s.SpeedKmh += (rand.Float64()*2 - 1) * 1.5
		if s.SpeedKmh < 15 {
			s.SpeedKmh = 15
		}
		if s.SpeedKmh > 90 {
			s.SpeedKmh = 90
		}
	}

	stepAlongRoute(s, interval.Seconds())

	km := s.SpeedKmh * (interval.Seconds() / 3600.0)
	s.FuelPct -= km * 0.4
	if s.FuelPct < 5 {
		s.FuelPct = 100
	}
	return publishSample(ctx, sink, sampleFromState(s, now))
}

func simulateVehicle(ctx context.Context, sink sampleSink, s *VehicleState, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := tick(ctx, sink, s, interval, now); err != nil {
				log.WithError(err).WithField("device_id", s.DeviceID).Error("Failed to publish sample")
				continue
			}
			log.WithFields(log.Fields{
				"device_id": s.DeviceID,
				"lat":       s.Position.Lat,
				"lon":       s.Position.Lon,
				"speed":     s.SpeedKmh,
			}).Debug("Sent sample")
		}
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			return n
		}
	}
	return fallback
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if err := config.ConfigureLogging(cfg.Logging); err != nil {
		log.WithError(err).Fatal("Failed to configure logging")
	}
	if cfg.Store.Driver != config.DriverMongo {
		log.Fatal("Simulator needs the mongo store driver, the engine cannot see an in-memory store of another process")
	}

	fleetSize := envInt("FLEET_SIZE", 5)
	interval := time.Duration(envInt("SIM_TICK_SECONDS", 2)) * time.Second
	routeKm := float64(envInt("SIM_ROUTE_KM", 20))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := db.ConnectMongo(ctx, cfg.Store.MongoURI)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer func() { _ = client.Disconnect(context.Background()) }()
	store := db.NewMongoStore(client, cfg.Store.MongoDB)
	sink := storeSink{PositionBuffer: store.Buffer, LastPositionCache: store.Positions}

	log.WithFields(log.Fields{
		"fleet_size": fleetSize,
		"interval":   interval,
		"route_km":   routeKm,
	}).Info("Starting fleet simulation")

	var wg sync.WaitGroup
	for i := 0; i < fleetSize; i++ {
		deviceID := fmt.Sprintf("sim-%03d", i+1)
		route := planRoute(ctx, "Route "+deviceID, routeKm)
		tripID, err := seedTrip(ctx, store.Routes, store.Trips, route, deviceID, time.Now().Add(time.Minute))
		if err != nil {
			log.WithError(err).WithField("device_id", deviceID).Error("Failed to seed trip")
			continue
		}
		log.WithFields(log.Fields{
			"device_id":    deviceID,
			"trip_id":      tripID.Hex(),
			"route_length": route.RouteLength,
		}).Info("Seeded trip")

		state := newVehicleState(deviceID, route)
		wg.Add(1)
		go func() {
			defer wg.Done()
			simulateVehicle(ctx, sink, state, interval)
		}()
	}

	wg.Wait()
	log.Info("Simulation stopped")
}
