package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-trip-engine/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newFakeToken(p.err)
}

func (p *fakePublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func testTrip() *models.Trip {
	return &models.Trip{
		ID:              primitive.NewObjectID(),
		TenantID:        "acme",
		VehicleID:       "truck-7",
		DeviceID:        "dev-7",
		CurrentLocation: &models.Location{Lat: 12.9, Lon: 77.6},
	}
}

func TestMQTTDispatcher_Notify(t *testing.T) {
	pub := &fakePublisher{}
	d := NewMQTTDispatcher(pub, "fleet/alerts/", 0)
	fixed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }
	trip := testTrip()

	d.Notify(context.Background(), trip, EventActiveStatus, "Reached Start Location", map[string]interface{}{"location": "Depot"})

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "fleet/alerts/"+trip.ID.Hex()+"/active_status", msgs[0].topic)
	assert.Equal(t, byte(publishQoS), msgs[0].qos)

	var alert Alert
	require.NoError(t, json.Unmarshal(msgs[0].payload, &alert))
	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, trip.ID.Hex(), alert.TripID)
	assert.Equal(t, "acme", alert.TenantID)
	assert.Equal(t, "Reached Start Location", alert.Status)
	assert.True(t, fixed.Equal(alert.Time))
	assert.Equal(t, "Depot", alert.Metadata["location"])
	require.NotNil(t, alert.Location)
	assert.Equal(t, 12.9, alert.Location.Lat)
}

func TestMQTTDispatcher_RateLimited(t *testing.T) {
	pub := &fakePublisher{}
	d := NewMQTTDispatcher(pub, "fleet", 1)
	trip := testTrip()

	for i := 0; i < 5; i++ {
		d.Notify(context.Background(), trip, EventRuleViolation, "speed", nil)
	}

	// burst is rate+1
	assert.Len(t, pub.messages(), 2)
}

func TestMQTTDispatcher_PublishErrorDoesNotPanic(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	d := NewMQTTDispatcher(pub, "fleet", 0)

	assert.NotPanics(t, func() {
		d.Notify(context.Background(), testTrip(), EventTripStage, string(models.StageActive), nil)
	})
	assert.Len(t, pub.messages(), 1)
}

func TestLogDispatcher_Notify(t *testing.T) {
	assert.NotPanics(t, func() {
		LogDispatcher{}.Notify(context.Background(), testTrip(), EventRuleRecovered, "halt", nil)
	})
}
