package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-trip-engine/internal/metrics"
	"github.com/ukydev/fleet-trip-engine/internal/models"
	"golang.org/x/time/rate"
)

const (
	publishQoS     = 1
	publishTimeout = 5 * time.Second
)

// Publisher is the part of mqtt.Client the dispatcher needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTDispatcher publishes alerts to <prefix>/<trip_id>/<event_type>.
type MQTTDispatcher struct {
	client  Publisher
	prefix  string
	limiter *rate.Limiter
	now     func() time.Time
}

// ConnectMQTT connects a client to the broker.
func ConnectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	return client, nil
}

// NewMQTTDispatcher creates a dispatcher allowing ratePerSecond alerts per second.
// A non-positive rate disables limiting.
func NewMQTTDispatcher(client Publisher, prefix string, ratePerSecond float64) *MQTTDispatcher {
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = int(ratePerSecond) + 1
	}
	return &MQTTDispatcher{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// Notify publishes the alert without waiting for the broker.
func (d *MQTTDispatcher) Notify(ctx context.Context, trip *models.Trip, eventType, newStatus string, metadata map[string]interface{}) {
	fields := log.Fields{"trip_id": trip.ID.Hex(), "event_type": eventType, "status": newStatus}
	if !d.limiter.Allow() {
		metrics.AlertsTotal.WithLabelValues(eventType, "dropped").Inc()
		log.WithFields(fields).Warn("Alert dropped by rate limiter")
		return
	}

	payload, err := json.Marshal(NewAlert(uuid.NewString(), trip, eventType, newStatus, metadata, d.now()))
	if err != nil {
		metrics.AlertsTotal.WithLabelValues(eventType, "failed").Inc()
		log.WithFields(fields).WithError(err).Error("Failed to encode alert")
		return
	}

	token := d.client.Publish(d.Topic(trip, eventType), publishQoS, false, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			metrics.AlertsTotal.WithLabelValues(eventType, "failed").Inc()
			log.WithFields(fields).Warn("Alert publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			metrics.AlertsTotal.WithLabelValues(eventType, "failed").Inc()
			log.WithFields(fields).WithError(err).Warn("Alert publish failed")
			return
		}
		metrics.AlertsTotal.WithLabelValues(eventType, "published").Inc()
	}()
}

// Topic returns the topic an alert for trip is published on.
func (d *MQTTDispatcher) Topic(trip *models.Trip, eventType string) string {
	return fmt.Sprintf("%s/%s/%s", d.prefix, trip.ID.Hex(), eventType)
}

// LogDispatcher writes alerts to the log. It is used when no broker is configured.
type LogDispatcher struct{}

// Notify logs the alert.
func (LogDispatcher) Notify(ctx context.Context, trip *models.Trip, eventType, newStatus string, metadata map[string]interface{}) {
	metrics.AlertsTotal.WithLabelValues(eventType, "logged").Inc()
	log.WithFields(log.Fields{
		"trip_id":    trip.ID.Hex(),
		"device_id":  trip.DeviceID,
		"event_type": eventType,
		"status":     newStatus,
		"metadata":   metadata,
	}).Info("Trip alert")
}
