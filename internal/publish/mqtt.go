// Package publish forwards delivered processing results to an MQTT broker.
package publish

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/glucose.report/internal/libre"
	"github.com/banshee-data/glucose.report/internal/monitoring"
	"github.com/banshee-data/glucose.report/internal/timeutil"
)

// Options configures the broker connection and the topic results go to.
type Options struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Retain   bool
	Timeout  time.Duration
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 10 * time.Second
	}
	return o.Timeout
}

// Publisher is the part of mqtt.Client used here.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Connect opens a client to opts.Broker.
func Connect(opts Options) (mqtt.Client, error) {
	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	clientID := opts.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("glucose-report-%d", time.Now().Unix())
	}
	co.SetClientID(clientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetKeepAlive(60 * time.Second)
	co.SetConnectTimeout(opts.timeout())
	co.SetAutoReconnect(true)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		monitoring.Logf("publish: connection lost: %v (will auto-reconnect)", err)
	}

	client := mqtt.NewClient(co)
	monitoring.Logf("publish: connecting to %s as %s", opts.Broker, clientID)
	token := client.Connect()
	if !token.WaitTimeout(opts.timeout()) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s failed: %w", opts.Broker, err)
	}
	return client, nil
}

// Message is the JSON payload published for each result.
type Message struct {
	SerialNumber     string                 `json:"serial_number"`
	SensorState      string                 `json:"sensor_state,omitempty"`
	SensorAgeMinutes *int                   `json:"sensor_age_minutes,omitempty"`
	Battery          *int                   `json:"battery,omitempty"`
	Error            string                 `json:"error,omitempty"`
	Readings         []libre.GlucoseReading `json:"readings"`
	PublishedAt      time.Time              `json:"published_at"`
}

// Receiver publishes every delivered result as one Message. It implements
// processing.Receiver.
type Receiver struct {
	pub    Publisher
	opts   Options
	serial string
	clock  timeutil.Clock

	mu      sync.Mutex
	pending Message
}

// NewReceiver returns a Receiver publishing results for serial via pub.
func NewReceiver(pub Publisher, opts Options, serial string, clock timeutil.Clock) *Receiver {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Receiver{pub: pub, opts: opts, serial: serial, clock: clock}
}

// ReceiveReadings buffers the readings until Complete.
func (r *Receiver) ReceiveReadings(readings []libre.GlucoseReading, battery *int, sensorAgeMinutes *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = Message{
		SerialNumber:     r.serial,
		SensorAgeMinutes: sensorAgeMinutes,
		Battery:          battery,
		Readings:         readings,
	}
}

// Complete publishes the buffered result.
func (r *Receiver) Complete(state *libre.SensorState, err error) {
	r.mu.Lock()
	msg := r.pending
	r.pending = Message{}
	r.mu.Unlock()

	if state != nil {
		msg.SensorState = state.String()
	}
	if err != nil {
		msg.Error = err.Error()
	}
	if msg.Readings == nil {
		msg.Readings = []libre.GlucoseReading{}
	}
	msg.PublishedAt = r.clock.Now().UTC()

	if perr := r.publish(msg); perr != nil {
		monitoring.Logf("publish: %v", perr)
	}
}

func (r *Receiver) publish(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding result for %q: %w", msg.SerialNumber, err)
	}
	token := r.pub.Publish(r.opts.Topic, r.opts.QoS, r.opts.Retain, payload)
	if !token.WaitTimeout(r.opts.timeout()) {
		return fmt.Errorf("publishing to %s timed out", r.opts.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", r.opts.Topic, err)
	}
	monitoring.Verbosef("publish: sent %d readings to %s", len(msg.Readings), r.opts.Topic)
	return nil
}
