package publish

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/glucose.report/internal/libre"
	"github.com/banshee-data/glucose.report/internal/monitoring"
	"github.com/banshee-data/glucose.report/internal/timeutil"
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
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{topic, qos, retained, payload.([]byte)})
	return newFakeToken(p.err)
}

var now = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

func TestReceiver_PublishesResult(t *testing.T) {
	pub := &fakePublisher{}
	r := NewReceiver(pub, Options{Topic: "glucose/0M0008B8CM", QoS: 1, Retain: true}, "0M0008B8CM", timeutil.NewMockClock(now))

	calibrated := 104.5
	battery, age := 80, 2000
	state := libre.SensorStateReady
	r.ReceiveReadings([]libre.GlucoseReading{{Timestamp: now, RawValue: 1200, CalibratedValue: &calibrated}}, &battery, &age)
	r.Complete(&state, nil)

	require.Len(t, pub.sent, 1)
	sent := pub.sent[0]
	assert.Equal(t, "glucose/0M0008B8CM", sent.topic)
	assert.Equal(t, byte(1), sent.qos)
	assert.True(t, sent.retained)

	var msg Message
	require.NoError(t, json.Unmarshal(sent.payload, &msg))
	assert.Equal(t, "0M0008B8CM", msg.SerialNumber)
	assert.Equal(t, "ready", msg.SensorState)
	assert.Equal(t, 2000, *msg.SensorAgeMinutes)
	assert.Equal(t, 80, *msg.Battery)
	assert.Empty(t, msg.Error)
	require.Len(t, msg.Readings, 1)
	assert.Equal(t, 104.5, msg.Readings[0].Value())
	assert.True(t, now.Equal(msg.PublishedAt))
}

func TestReceiver_ErrorResult(t *testing.T) {
	pub := &fakePublisher{}
	r := NewReceiver(pub, Options{Topic: "t"}, "S", timeutil.NewMockClock(now))

	r.ReceiveReadings(nil, nil, nil)
	r.Complete(nil, errors.New("sensor not ready"))

	require.Len(t, pub.sent, 1)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.sent[0].payload, &raw))
	assert.Equal(t, "sensor not ready", raw["error"])
	assert.Equal(t, []interface{}{}, raw["readings"])
	assert.NotContains(t, raw, "sensor_state")
	assert.NotContains(t, raw, "battery")
}

func TestReceiver_PublishFailureIsLogged(t *testing.T) {
	var logged []string
	orig := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) { logged = append(logged, format) })
	t.Cleanup(func() { monitoring.SetLogger(orig) })

	pub := &fakePublisher{err: errors.New("not connected")}
	r := NewReceiver(pub, Options{Topic: "t"}, "S", nil)
	r.ReceiveReadings([]libre.GlucoseReading{}, nil, nil)
	r.Complete(nil, nil)

	assert.Len(t, pub.sent, 1)
	assert.NotEmpty(t, logged)
}
