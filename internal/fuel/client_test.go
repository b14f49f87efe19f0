package fuel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-trip-engine/internal/auth"
	"github.com/ukydev/fleet-trip-engine/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func testTrip() *models.Trip {
	return &models.Trip{ID: primitive.NewObjectID(), DeviceID: "dev-1"}
}

func TestClient_Report(t *testing.T) {
	tokens := auth.NewService("s3cret", time.Minute)
	trip := testTrip()
	from := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fuel-report", r.URL.Path)
		assert.Equal(t, "dev-1", r.URL.Query().Get("device_id"))
		assert.Equal(t, trip.ID.Hex(), r.URL.Query().Get("trip_id"))
		assert.Equal(t, from.Format(time.RFC3339), r.URL.Query().Get("from"))

		token, err := tokens.ExtractTokenFromHeader(r.Header.Get("Authorization"))
		require.NoError(t, err)
		claims, err := tokens.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, serviceScope, claims.Scope)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"fuel_events":[{"type":"filling","amount":120,"time":"2026-05-01T08:30:00Z","location":{"lat":1,"lon":2}}],"fuel_consumption":35.5,"mileage":4.2}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", tokens, time.Second)
	report, err := c.Report(context.Background(), trip, from, to)
	require.NoError(t, err)
	require.Len(t, report.FuelEvents, 1)
	assert.Equal(t, "filling", report.FuelEvents[0].Type)
	assert.Equal(t, 120.0, report.FuelEvents[0].Amount)
	assert.Equal(t, 35.5, report.Consumption)
	assert.Equal(t, 4.2, report.Mileage)
}

func TestClient_ReportServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, time.Second)
	_, err := c.Report(context.Background(), testTrip(), time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "500")
}

func TestClient_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, time.Second)
	for i := 0; i < 7; i++ {
		_, err := c.Report(context.Background(), testTrip(), time.Now().Add(-time.Hour), time.Now())
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, 5, calls)
}

func TestClient_BadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, time.Second)
	_, err := c.Report(context.Background(), testTrip(), time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, ErrUnavailable)
}
