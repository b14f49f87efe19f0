package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-trip-engine/internal/models"
)

type MockTripSource struct {
	mock.Mock
}

func (m *MockTripSource) FindOpenTrips(ctx context.Context) ([]models.Trip, error) {
	args := m.Called(ctx)
	if trips := args.Get(0); trips != nil {
		return trips.([]models.Trip), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) ProcessTrip(ctx context.Context, trip *models.Trip) error {
	args := m.Called(trip.DeviceID)
	if fn, ok := args.Get(0).(func()); ok {
		fn()
		return nil
	}
	return args.Error(0)
}

func TestScheduler_RunCycle(t *testing.T) {
	source := new(MockTripSource)
	source.On("FindOpenTrips", mock.Anything).Return([]models.Trip{
		{DeviceID: "ok"},
		{DeviceID: "idle"},
		{DeviceID: "broken"},
		{DeviceID: "panics"},
		{DeviceID: "ok-after"},
	}, nil)

	processor := new(MockProcessor)
	processor.On("ProcessTrip", "ok").Return(nil)
	processor.On("ProcessTrip", "idle").Return(ErrNoWindow)
	processor.On("ProcessTrip", "broken").Return(errors.New("store down"))
	processor.On("ProcessTrip", "panics").Return(func() { panic("boom") })
	processor.On("ProcessTrip", "ok-after").Return(nil)

	s := NewScheduler(source, processor, time.Minute)
	assert.True(t, s.LastCycle().IsZero())

	stats, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Processed: 2, Skipped: 1, Failed: 2}, stats)
	assert.False(t, s.LastCycle().IsZero())
	processor.AssertExpectations(t)
}

func TestScheduler_RunCycleLoadError(t *testing.T) {
	source := new(MockTripSource)
	source.On("FindOpenTrips", mock.Anything).Return(nil, errors.New("no connection"))

	s := NewScheduler(source, new(MockProcessor), time.Minute)
	_, err := s.RunCycle(context.Background())
	assert.Error(t, err)
	assert.True(t, s.LastCycle().IsZero())
}

func TestScheduler_ServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := new(MockTripSource)
	processor := new(MockProcessor)
	source.On("FindOpenTrips", mock.Anything).Return([]models.Trip{{DeviceID: "only"}}, nil)
	processor.On("ProcessTrip", "only").Return(func() { cancel() })

	s := NewScheduler(source, processor, time.Hour)
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	processor.AssertNumberOfCalls(t, "ProcessTrip", 1)
}

func TestScheduler_String(t *testing.T) {
	assert.Equal(t, "trip-scheduler", NewScheduler(nil, nil, 0).String())
}
