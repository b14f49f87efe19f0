// Package fuel queries the external fuel analytics service for fill and drain
// events and consumption figures of a trip.
package fuel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/ukydev/fleet-trip-engine/internal/metrics"
	"github.com/ukydev/fleet-trip-engine/internal/models"
)

// ErrUnavailable is returned when the service cannot answer, including when the circuit is open.
var ErrUnavailable = errors.New("fuel analytics unavailable")

const (
	breakerName  = "fuel-analytics"
	serviceName  = "fuel-analytics"
	serviceScope = "fuel:read"
)

// Report is the fuel analysis of a trip up to the query time.
type Report struct {
	FuelEvents  []models.FuelEvent `json:"fuel_events"`
	Consumption float64            `json:"fuel_consumption"` // liters
	Mileage     float64            `json:"mileage"`          // km per liter
}

// TokenSource issues bearer tokens for outbound calls.
type TokenSource interface {
	GenerateToken(service, scope string) (string, error)
}

// Client calls the fuel analytics API behind a circuit breaker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	cb         *gobreaker.CircuitBreaker[*Report]
}

// NewClient creates a client for the service at baseURL. tokens may be nil.
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[*Report](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(log.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		cb:         cb,
	}
}

// Report fetches the fuel report of a trip's device between from and to.
func (c *Client) Report(ctx context.Context, trip *models.Trip, from, to time.Time) (*Report, error) {
	report, err := c.cb.Execute(func() (*Report, error) {
		return c.fetch(ctx, trip, from, to)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.FuelQueries.WithLabelValues("rejected").Inc()
		} else {
			metrics.FuelQueries.WithLabelValues("failure").Inc()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	metrics.FuelQueries.WithLabelValues("success").Inc()
	return report, nil
}

func (c *Client) fetch(ctx context.Context, trip *models.Trip, from, to time.Time) (*Report, error) {
	q := url.Values{}
	q.Set("trip_id", trip.ID.Hex())
	q.Set("device_id", trip.DeviceID)
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fuel-report?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.GenerateToken(serviceName, serviceScope)
		if err != nil {
			return nil, fmt.Errorf("service token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
