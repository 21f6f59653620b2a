package processing

import (
	"sync"

	"github.com/banshee-data/glucose.report/internal/libre"
)

// Receiver is the delivery interface. For every Process call ReceiveReadings is
// invoked exactly once, followed by exactly one Complete.
type Receiver interface {
	// ReceiveReadings delivers the reading series, newest first. battery and
	// sensorAgeMinutes are nil when unknown.
	ReceiveReadings(readings []libre.GlucoseReading, battery *int, sensorAgeMinutes *int)
	// Complete signals the end of processing with the sensor state, if known,
	// and the error, if any.
	Complete(state *libre.SensorState, err error)
}

// Result is the outcome of one Process call.
type Result struct {
	Readings         []libre.GlucoseReading
	Battery          *int
	SensorAgeMinutes *int
	SensorState      *libre.SensorState
	Err              error
}

func deliver(r Receiver, res Result) {
	if res.Readings == nil {
		res.Readings = []libre.GlucoseReading{}
	}
	r.ReceiveReadings(res.Readings, res.Battery, res.SensorAgeMinutes)
	r.Complete(res.SensorState, res.Err)
}

// Collector is a Receiver that keeps the last delivered result.
type Collector struct {
	mu            sync.Mutex
	result        Result
	readingsCalls int
	completeCalls int
}

// ReceiveReadings implements Receiver.
func (c *Collector) ReceiveReadings(readings []libre.GlucoseReading, battery *int, sensorAgeMinutes *int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readingsCalls++
	c.result.Readings = readings
	c.result.Battery = battery
	c.result.SensorAgeMinutes = sensorAgeMinutes
}

// Complete implements Receiver.
func (c *Collector) Complete(state *libre.SensorState, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completeCalls++
	c.result.SensorState = state
	c.result.Err = err
}

// Result returns the collected result.
func (c *Collector) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Calls returns how many times each Receiver method was invoked.
func (c *Collector) Calls() (readings, complete int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readingsCalls, c.completeCalls
}

// Tee fans one delivery out to several receivers in order.
type Tee []Receiver

// ReceiveReadings implements Receiver.
func (t Tee) ReceiveReadings(readings []libre.GlucoseReading, battery *int, sensorAgeMinutes *int) {
	for _, r := range t {
		r.ReceiveReadings(readings, battery, sensorAgeMinutes)
	}
}

// Complete implements Receiver.
func (t Tee) Complete(state *libre.SensorState, err error) {
	for _, r := range t {
		r.Complete(state, err)
	}
}
