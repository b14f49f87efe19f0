package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-trip-engine/internal/models"
	"github.com/ukydev/fleet-trip-engine/internal/update"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestConnectMongo_BadURI(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := ConnectMongo(ctx, "mongodb://bad:uri")
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestInsertTrip_NilCollection(t *testing.T) {
	coll := &MongoTripCollection{Collection: nil}
	_, err := coll.InsertTrip(context.Background(), models.Trip{})
	assert.Error(t, err)
}

func TestApplyTripUpdate_NilCollection(t *testing.T) {
	coll := &MongoTripCollection{Collection: nil}
	err := coll.ApplyTripUpdate(context.Background(), primitive.NewObjectID(), update.NewDelta())
	assert.Error(t, err)
}

// mongoStore connects to a running MongoDB or skips the test.
func mongoStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" || uri == "uri" {
		t.Skip("MONGO_URI not set or invalid, skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := ConnectMongo(ctx, uri)
	if err != nil {
		t.Skipf("failed to connect: %v, skipping integration test", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	dbName := os.Getenv("MONGO_DB")
	if dbName == "" {
		dbName = "fleet_trip_engine_test"
	}
	store := NewMongoStore(client, dbName)
	require.NoError(t, store.EnsureIndexes(ctx))
	return store
}

func TestApplyTripUpdate_Integration(t *testing.T) {
	store := mongoStore(t)
	ctx := context.Background()

	id, err := store.Trips.InsertTrip(ctx, models.Trip{DeviceID: "it-1", PlannedStartTime: time.Now()})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = store.Trips.Collection.DeleteOne(context.Background(), map[string]interface{}{"_id": id})
	})

	open := models.SignificantEvent{EventID: "ev-1", EventType: models.EventRuleViolation, EventName: "speed", EventTime: time.Now()}
	d := update.NewDelta()
	d.SetField("trip_stage", models.StageActive)
	d.MergeRuleStatus("speed", models.RuleViolated)
	d.AppendTo(update.FieldSignificantEvents, open)
	require.NoError(t, store.Trips.ApplyTripUpdate(ctx, id, d))

	closing := update.NewDelta()
	closing.MergeRuleStatus("speed", models.RuleGood)
	closing.CloseEvent(update.EventClosure{EventID: "ev-1", EndTime: time.Now(), Duration: 3, Distance: 1.5})
	require.NoError(t, store.Trips.ApplyTripUpdate(ctx, id, closing))

	trip, err := store.Trips.FindTripByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StageActive, trip.TripStage)
	assert.Equal(t, models.RuleGood, trip.RuleStatus.Speed)
	require.Len(t, trip.SignificantEvents, 1)
	assert.NotNil(t, trip.SignificantEvents[0].EventEndTime)
	assert.Equal(t, 1.5, trip.SignificantEvents[0].EventDistance)
}

func TestApplyTripUpdate_UnknownTrip_Integration(t *testing.T) {
	store := mongoStore(t)
	d := update.NewDelta()
	d.SetField("distance_covered", 1.0)
	err := store.Trips.ApplyTripUpdate(context.Background(), primitive.NewObjectID(), d)
	assert.ErrorIs(t, err, ErrTripNotFound)
}

func TestPositionBufferDrain_Integration(t *testing.T) {
	store := mongoStore(t)
	ctx := context.Background()
	device := "drain-" + primitive.NewObjectID().Hex()
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.Buffer.PushPoints(ctx,
		models.PathPoint{DeviceID: device, DtTracker: base.Add(time.Minute), Lat: 1},
		models.PathPoint{DeviceID: device, DtTracker: base, Lat: 0},
	))

	points, err := store.Buffer.Drain(ctx, device)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.True(t, points[0].DtTracker.Before(points[1].DtTracker))

	points, err = store.Buffer.Drain(ctx, device)
	require.NoError(t, err)
	assert.Empty(t, points)
}
