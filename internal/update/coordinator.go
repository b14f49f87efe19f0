package update

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-trip-engine/internal/metrics"
	"github.com/ukydev/fleet-trip-engine/internal/rules"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrRetriesExhausted is returned when every write attempt failed.
var ErrRetriesExhausted = errors.New("trip update retries exhausted")

// TripWriter applies a delta to one stored trip.
type TripWriter interface {
	ApplyTripUpdate(ctx context.Context, tripID primitive.ObjectID, delta *Delta) error
}

// Options configures the retry policy.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultOptions returns the retry policy used when none is configured.
func DefaultOptions() Options {
	return Options{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond}
}

// Coordinator persists tick deltas with bounded exponential backoff.
type Coordinator struct {
	writer TripWriter
	opts   Options
}

// NewCoordinator creates a coordinator writing through writer.
func NewCoordinator(writer TripWriter, opts Options) *Coordinator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultOptions().BaseDelay
	}
	return &Coordinator{writer: writer, opts: opts}
}

// Persist validates and writes the delta. Rule status fields of untracked rules are dropped.
func (c *Coordinator) Persist(ctx context.Context, tripID primitive.ObjectID, delta *Delta, set rules.RuleSet) error {
	if err := delta.Validate(); err != nil {
		return err
	}
	delta.Scope(set)
	if delta.IsEmpty() {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.opts.BaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.writer.ApplyTripUpdate(ctx, tripID, delta)
		if err == nil {
			metrics.PersistAttempts.WithLabelValues("success").Inc()
			return nil
		}
		lastErr = err
		metrics.PersistAttempts.WithLabelValues("retry").Inc()
		log.WithFields(log.Fields{
			"trip_id": tripID.Hex(),
			"attempt": attempt + 1,
		}).WithError(err).Warn("Trip update failed")
	}

	metrics.PersistAttempts.WithLabelValues("exhausted").Inc()
	return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, c.opts.MaxAttempts, lastErr)
}
