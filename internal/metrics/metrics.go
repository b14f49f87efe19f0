package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksTotal counts processed trip ticks by result:
	// "ok", "skipped", "failed".
	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trip_engine_ticks_total",
			Help: "Total number of trip ticks by result",
		},
		[]string{"result"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trip_engine_tick_duration_seconds",
			Help:    "Duration of one trip tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trip_engine_cycle_duration_seconds",
			Help:    "Duration of one scheduler cycle over all open trips",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	OpenTrips = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trip_engine_open_trips",
			Help: "Number of non-terminal trips in the last scheduler cycle",
		},
	)

	PersistAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trip_engine_persist_attempts_total",
			Help: "Trip update write attempts by outcome",
		},
		[]string{"outcome"}, // "success", "retry", "exhausted"
	)

	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trip_engine_stage_transitions_total",
			Help: "Trip stage transitions by target stage",
		},
		[]string{"stage"},
	)

	RuleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trip_engine_rule_transitions_total",
			Help: "Rule flag transitions by rule and new flag",
		},
		[]string{"rule", "flag"},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trip_engine_alerts_total",
			Help: "Alerts handed to the dispatcher by outcome",
		},
		[]string{"event_type", "outcome"}, // "published", "dropped", "failed", "logged"
	)

	FuelQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trip_engine_fuel_queries_total",
			Help: "Fuel analytics queries by outcome",
		},
		[]string{"outcome"}, // "success", "failure", "rejected"
	)

	// Circuit breaker state: 0=closed, 1=half-open, 2=open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trip_engine_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	RouteCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trip_engine_route_cache_requests_total",
			Help: "Route cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss"
	)
)
