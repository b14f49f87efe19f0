package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-trip-engine/internal/metrics"
	"github.com/ukydev/fleet-trip-engine/internal/models"
)

// TripSource lists the trips still to be processed.
type TripSource interface {
	FindOpenTrips(ctx context.Context) ([]models.Trip, error)
}

// TripProcessor runs one tick for a trip.
type TripProcessor interface {
	ProcessTrip(ctx context.Context, trip *models.Trip) error
}

// CycleStats summarises one pass over the work list.
type CycleStats struct {
	Processed int
	Skipped   int
	Failed    int
}

// Scheduler drains the open trips one at a time, then waits for the next cycle.
// It implements suture.Service.
type Scheduler struct {
	trips     TripSource
	processor TripProcessor
	interval  time.Duration

	mu        sync.RWMutex
	lastCycle time.Time
}

// NewScheduler creates a scheduler running a cycle every interval.
func NewScheduler(trips TripSource, processor TripProcessor, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{trips: trips, processor: processor, interval: interval}
}

// Serve runs cycles until ctx is canceled.
func (s *Scheduler) Serve(ctx context.Context) error {
	log.WithField("interval", s.interval).Info("Trip scheduler started")
	for {
		if _, err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("Scheduler cycle failed")
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("Trip scheduler stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// String names the service in supervisor logs.
func (s *Scheduler) String() string {
	return "trip-scheduler"
}

// LastCycle returns when the last complete cycle finished.
func (s *Scheduler) LastCycle() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCycle
}

// RunCycle processes every open trip once. A failing trip is logged and counted;
// only a failure to load the work list aborts the cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleStats, error) {
	start := time.Now()
	var stats CycleStats

	work, err := s.trips.FindOpenTrips(ctx)
	if err != nil {
		return stats, fmt.Errorf("load open trips: %w", err)
	}
	metrics.OpenTrips.Set(float64(len(work)))

	for i := range work {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		trip := &work[i]
		switch err := s.processOne(ctx, trip); {
		case err == nil:
			stats.Processed++
			metrics.TicksTotal.WithLabelValues("ok").Inc()
		case errors.Is(err, ErrNoWindow) || errors.Is(err, ErrNoRoute):
			stats.Skipped++
			metrics.TicksTotal.WithLabelValues("skipped").Inc()
			log.WithFields(log.Fields{"trip_id": trip.ID.Hex(), "device_id": trip.DeviceID}).
				WithError(err).Debug("Trip tick skipped")
		default:
			stats.Failed++
			metrics.TicksTotal.WithLabelValues("failed").Inc()
			log.WithFields(log.Fields{
				"trip_id":   trip.ID.Hex(),
				"device_id": trip.DeviceID,
				"stage":     trip.TripStage,
			}).WithError(err).Error("Trip tick failed")
		}
	}

	s.mu.Lock()
	s.lastCycle = time.Now()
	s.mu.Unlock()
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	log.WithFields(log.Fields{
		"processed": stats.Processed,
		"skipped":   stats.Skipped,
		"failed":    stats.Failed,
	}).Debug("Scheduler cycle completed")
	return stats, nil
}

// processOne isolates a panic in one trip from the rest of the cycle.
func (s *Scheduler) processOne(ctx context.Context, trip *models.Trip) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing trip: %v", r)
		}
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()
	return s.processor.ProcessTrip(ctx, trip)
}
