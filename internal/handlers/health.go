package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Pinger reports store reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// CycleReporter reports when the scheduler last finished a cycle
type CycleReporter interface {
	LastCycle() time.Time
}

// HealthResponse is the body of /health
type HealthResponse struct {
	Status    string     `json:"status"`
	Store     string     `json:"store"`
	LastCycle *time.Time `json:"last_cycle,omitempty"`
	Stale     bool       `json:"stale"`
}

// HealthHandler reports store reachability and scheduler liveness
type HealthHandler struct {
	store     Pinger
	scheduler CycleReporter
	maxAge    time.Duration
	now       func() time.Time
}

// NewHealthHandler creates a health handler. The scheduler counts as stale when
// no cycle finished within maxAge after the first one.
func NewHealthHandler(store Pinger, scheduler CycleReporter, maxAge time.Duration) *HealthHandler {
	return &HealthHandler{store: store, scheduler: scheduler, maxAge: maxAge, now: time.Now}
}

// ServeHTTP handles GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{Status: "ok", Store: "ok"}
	code := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Store = err.Error()
		code = http.StatusServiceUnavailable
	}

	if last := h.scheduler.LastCycle(); !last.IsZero() {
		resp.LastCycle = &last
		if h.maxAge > 0 && h.now().Sub(last) > h.maxAge {
			resp.Stale = true
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
