package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/thejerf/suture/v4"
	"github.com/ukydev/fleet-trip-engine/internal/alerts"
	"github.com/ukydev/fleet-trip-engine/internal/auth"
	"github.com/ukydev/fleet-trip-engine/internal/cache"
	"github.com/ukydev/fleet-trip-engine/internal/config"
	"github.com/ukydev/fleet-trip-engine/internal/db"
	"github.com/ukydev/fleet-trip-engine/internal/engine"
	"github.com/ukydev/fleet-trip-engine/internal/fuel"
	"github.com/ukydev/fleet-trip-engine/internal/handlers"
	"github.com/ukydev/fleet-trip-engine/internal/middleware"
	"github.com/ukydev/fleet-trip-engine/internal/motion"
	"github.com/ukydev/fleet-trip-engine/internal/update"
)

func main() {
	if err := run(); err != nil {
		log.WithError(err).Fatal("Trip engine stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := config.ConfigureLogging(cfg.Logging); err != nil {
		return err
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := openStores(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer stores.close()

	cacheDB, err := cache.Open(cfg.Cache.Dir)
	if err != nil {
		return err
	}
	defer cacheDB.Close()
	routes := cache.NewRouteCache(cacheDB, stores.routes, cfg.Cache.RouteTTL)

	dispatcher, disconnect := newDispatcher(cfg.MQTT, cfg.Alerts)
	defer disconnect()

	var fuelService engine.FuelService
	if cfg.Fuel.APIURL != "" {
		tokens := auth.NewService(cfg.Auth.ServiceTokenSecret, cfg.Auth.TokenTTL)
		fuelService = fuel.NewClient(cfg.Fuel.APIURL, tokens, cfg.Fuel.Timeout)
	}

	coordinator := update.NewCoordinator(stores.trips, update.Options{
		MaxAttempts: cfg.Update.MaxAttempts,
		BaseDelay:   cfg.Update.BaseDelay,
	})
	eng := engine.New(
		motion.NewExtractor(stores.buffer, stores.positions),
		routes,
		coordinator,
		dispatcher,
		fuelService,
		engine.Options{Location: loc, FuelInterval: cfg.Fuel.QueryInterval},
	)
	scheduler := engine.NewScheduler(stores.trips, eng, cfg.Scheduler.Interval)

	health := handlers.NewHealthHandler(stores.pinger, scheduler, 3*cfg.Scheduler.Interval+time.Minute)
	ops := &opsServer{addr: fmt.Sprintf(":%d", cfg.Server.OpsPort), handler: newOpsMux(health)}

	sup := suture.New("fleet-trip-engine", suture.Spec{EventHook: supervisorEventHook})
	sup.Add(scheduler)
	sup.Add(ops)

	log.WithFields(log.Fields{
		"store":    cfg.Store.Driver,
		"ops_addr": ops.addr,
		"timezone": loc.String(),
	}).Info("Trip engine starting")

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Trip engine shut down")
	return nil
}

type storeSet struct {
	trips     db.TripCollection
	routes    db.RouteCollection
	buffer    db.PositionBuffer
	positions db.LastPositionCache
	pinger    db.Pinger
	close     func()
}

func openStores(ctx context.Context, cfg config.StoreConfig) (*storeSet, error) {
	if cfg.Driver == config.DriverMemory {
		mem := db.NewMemoryStore()
		log.Warn("Using in-memory store, trip state is lost on restart")
		return &storeSet{trips: mem, routes: mem, buffer: mem, positions: mem, pinger: mem, close: func() {}}, nil
	}

	client, err := db.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	store := db.NewMongoStore(client, cfg.MongoDB)
	if err := store.EnsureIndexes(ctx); err != nil {
		log.WithError(err).Warn("Failed to ensure indexes")
	}
	log.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")

	return &storeSet{
		trips:     store.Trips,
		routes:    store.Routes,
		buffer:    store.Buffer,
		positions: store.Positions,
		pinger:    store,
		close: func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		},
	}, nil
}

// newDispatcher publishes alerts over MQTT when a broker is configured and logs them otherwise.
func newDispatcher(mqttCfg config.MQTTConfig, alertCfg config.AlertsConfig) (alerts.Dispatcher, func()) {
	if mqttCfg.Broker == "" {
		return alerts.LogDispatcher{}, func() {}
	}
	client, err := alerts.ConnectMQTT(mqttCfg.Broker, mqttCfg.ClientID)
	if err != nil {
		log.WithError(err).Warn("MQTT unavailable, alerts will only be logged")
		return alerts.LogDispatcher{}, func() {}
	}
	log.WithField("broker", mqttCfg.Broker).Info("Connected to MQTT broker")
	return alerts.NewMQTTDispatcher(client, mqttCfg.TopicPrefix, alertCfg.RatePerSecond), func() { client.Disconnect(250) }
}

func newOpsMux(health http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", health)
	mux.Handle("/metrics", promhttp.Handler())
	limiter := middleware.NewRateLimitMiddleware(10, 20)
	return middleware.RequestLogger(limiter.RateLimit(mux))
}

// opsServer serves /health and /metrics as a supervised service.
type opsServer struct {
	addr    string
	handler http.Handler
}

func (o *opsServer) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: o.addr, Handler: o.handler, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Ops server shutdown failed")
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("ops server: %w", err)
	}
}

func (o *opsServer) String() string {
	return "ops-server"
}

func supervisorEventHook(e suture.Event) {
	log.WithFields(log.Fields(e.Map())).WithField("event", e.Type()).Warn(e.String())
}
