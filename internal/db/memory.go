package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ukydev/fleet-trip-engine/internal/models"
	"github.com/ukydev/fleet-trip-engine/internal/update"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore keeps trips, routes and telemetry in process. Trips are held as
// BSON documents and updated with the same merge rules Mongo applies to a Delta.
type MemoryStore struct {
	mu        sync.RWMutex
	trips     map[primitive.ObjectID]bson.M
	routes    map[primitive.ObjectID]models.Route
	buffer    map[string][]models.PathPoint
	positions map[string]models.LastPosition
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:     map[primitive.ObjectID]bson.M{},
		routes:    map[primitive.ObjectID]models.Route{},
		buffer:    map[string][]models.PathPoint{},
		positions: map[string]models.LastPosition{},
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// InsertTrip stores a trip.
func (s *MemoryStore) InsertTrip(ctx context.Context, trip models.Trip) (primitive.ObjectID, error) {
	prepareTrip(&trip)
	if trip.ID.IsZero() {
		trip.ID = primitive.NewObjectID()
	}
	trip.CreatedAt = time.Now()
	trip.UpdatedAt = trip.CreatedAt
	doc, err := toDocument(trip)
	if err != nil {
		return primitive.NilObjectID, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips[trip.ID] = doc
	return trip.ID, nil
}

// FindTripByID returns a copy of the stored trip.
func (s *MemoryStore) FindTripByID(ctx context.Context, id primitive.ObjectID) (*models.Trip, error) {
	s.mu.RLock()
	doc, ok := s.trips[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrTripNotFound
	}
	return fromDocument(doc)
}

// FindOpenTrips returns the trips in an open stage ordered by planned start.
func (s *MemoryStore) FindOpenTrips(ctx context.Context) ([]models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trips []models.Trip
	for _, doc := range s.trips {
		trip, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}
		for _, stage := range OpenStages {
			if trip.TripStage == stage {
				trips = append(trips, *trip)
				break
			}
		}
	}
	sort.Slice(trips, func(i, j int) bool {
		return trips[i].PlannedStartTime.Before(trips[j].PlannedStartTime)
	})
	return trips, nil
}

// ApplyTripUpdate merges a delta into the stored trip.
func (s *MemoryStore) ApplyTripUpdate(ctx context.Context, tripID primitive.ObjectID, delta *update.Delta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.trips[tripID]
	if !ok {
		return ErrTripNotFound
	}
	// work on a copy so a failed merge leaves the stored trip untouched
	doc, err := normalize(doc)
	if err != nil {
		return err
	}

	for _, c := range delta.CloseEvents {
		closeEvent(doc, c)
	}
	for field, v := range delta.Set {
		setPath(doc, field, v)
	}
	for field, v := range delta.RuleStatus {
		setPath(doc, update.FieldRuleStatus+"."+field, v)
	}
	for field, items := range delta.Append {
		existing, _ := doc[field].(bson.A)
		if doc[field] != nil && existing == nil {
			return fmt.Errorf("%s: %w", field, update.ErrNotAppendable)
		}
		doc[field] = append(existing, items...)
	}
	doc["updated_at"] = time.Now()

	stored, err := normalize(doc)
	if err != nil {
		return err
	}
	s.trips[tripID] = stored
	return nil
}

// InsertRoute stores a route.
func (s *MemoryStore) InsertRoute(ctx context.Context, route models.Route) (primitive.ObjectID, error) {
	if route.ID.IsZero() {
		route.ID = primitive.NewObjectID()
	}
	route.CreatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[route.ID] = route
	return route.ID, nil
}

// FindRouteByID returns a stored route.
func (s *MemoryStore) FindRouteByID(ctx context.Context, id primitive.ObjectID) (*models.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	route, ok := s.routes[id]
	if !ok {
		return nil, ErrRouteNotFound
	}
	return &route, nil
}

// PushPoints buffers raw samples per device.
func (s *MemoryStore) PushPoints(ctx context.Context, points ...models.PathPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.buffer[p.DeviceID] = append(s.buffer[p.DeviceID], p)
	}
	return nil
}

// Drain returns and clears the buffered samples of a device in time order.
func (s *MemoryStore) Drain(ctx context.Context, deviceID string) ([]models.PathPoint, error) {
	s.mu.Lock()
	points := s.buffer[deviceID]
	delete(s.buffer, deviceID)
	s.mu.Unlock()

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].DtTracker.Before(points[j].DtTracker)
	})
	return points, nil
}

// SetLastPosition records the latest position of a device.
func (s *MemoryStore) SetLastPosition(ctx context.Context, pos models.LastPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.DeviceID] = pos
	return nil
}

// GetLastPosition returns the latest position of a device, or nil when none is known.
func (s *MemoryStore) GetLastPosition(ctx context.Context, deviceID string) (*models.LastPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[deviceID]
	if !ok {
		return nil, nil
	}
	return &pos, nil
}

func closeEvent(doc bson.M, c update.EventClosure) {
	events, _ := doc[update.FieldSignificantEvents].(bson.A)
	for _, e := range events {
		event, ok := e.(bson.M)
		if !ok || event["event_id"] != c.EventID {
			continue
		}
		event["event_end_time"] = c.EndTime
		event["event_duration"] = c.Duration
		event["event_distance"] = c.Distance
		if len(c.Path) > 0 {
			event["event_path"] = c.Path
		}
	}
}

// setPath sets a dotted field, creating intermediate documents.
func setPath(doc bson.M, path string, v interface{}) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(bson.M)
		if !ok {
			next = bson.M{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func toDocument(v interface{}) (bson.M, error) {
	data, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return normalizeValue(doc).(bson.M), nil
}

// normalize round-trips a document through BSON so every nested value has a
// canonical shape: documents as bson.M and arrays as bson.A.
func normalize(doc bson.M) (bson.M, error) {
	return toDocument(doc)
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		for k, inner := range t {
			t[k] = normalizeValue(inner)
		}
		return t
	case bson.D:
		m := bson.M{}
		for _, e := range t {
			m[e.Key] = normalizeValue(e.Value)
		}
		return m
	case bson.A:
		for i, inner := range t {
			t[i] = normalizeValue(inner)
		}
		return t
	default:
		return v
	}
}

func fromDocument(doc bson.M) (*models.Trip, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var trip models.Trip
	if err := bson.Unmarshal(data, &trip); err != nil {
		return nil, err
	}
	return &trip, nil
}
