// Package cache keeps recently used routes in a local BadgerDB so the engine
// does not refetch the same route document on every tick.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-trip-engine/internal/metrics"
	"github.com/ukydev/fleet-trip-engine/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const routeKeyPrefix = "route:"

// DefaultTTL bounds how long a cached route can be served after it changed upstream.
const DefaultTTL = 10 * time.Minute

// RouteSource loads routes from the system of record.
type RouteSource interface {
	FindRouteByID(ctx context.Context, id primitive.ObjectID) (*models.Route, error)
}

// RouteCache is a read-through route cache backed by BadgerDB.
type RouteCache struct {
	db     *badger.DB
	source RouteSource
	ttl    time.Duration
}

// Open opens a BadgerDB at dir. An empty dir keeps the cache in memory.
func Open(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

// NewRouteCache creates a cache in front of source. A non-positive ttl uses DefaultTTL.
func NewRouteCache(db *badger.DB, source RouteSource, ttl time.Duration) *RouteCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RouteCache{db: db, source: source, ttl: ttl}
}

// FindRouteByID returns the cached route or loads and caches it.
func (c *RouteCache) FindRouteByID(ctx context.Context, id primitive.ObjectID) (*models.Route, error) {
	route, err := c.get(id)
	if err != nil {
		log.WithError(err).WithField("route_id", id.Hex()).Warn("Route cache read failed")
	}
	if route != nil {
		metrics.RouteCacheRequests.WithLabelValues("hit").Inc()
		return route, nil
	}
	metrics.RouteCacheRequests.WithLabelValues("miss").Inc()

	route, err = c.source.FindRouteByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.put(route); err != nil {
		log.WithError(err).WithField("route_id", id.Hex()).Warn("Route cache write failed")
	}
	return route, nil
}

func (c *RouteCache) get(id primitive.ObjectID) (*models.Route, error) {
	var route models.Route
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(routeKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &route)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &route, nil
}

func (c *RouteCache) put(route *models.Route) error {
	data, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("marshal route: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(routeKey(route.ID), data).WithTTL(c.ttl))
	})
}

func routeKey(id primitive.ObjectID) []byte {
	return []byte(routeKeyPrefix + id.Hex())
}
