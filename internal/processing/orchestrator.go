// Package processing turns one sensor memory image into a delivered reading
// series. It selects between the uncalibrated decoder, the decoder with
// calibration parameters, and the remote decoder; manages the parameter cache;
// and gates the result on sensor state and age.
package processing

import (
	"context"
	"errors"
	"sync"

	"github.com/banshee-data/glucose.report/internal/calibration"
	"github.com/banshee-data/glucose.report/internal/config"
	"github.com/banshee-data/glucose.report/internal/libre"
	"github.com/banshee-data/glucose.report/internal/monitoring"
	"github.com/banshee-data/glucose.report/internal/oop"
	"github.com/banshee-data/glucose.report/internal/smoothing"
	"github.com/banshee-data/glucose.report/internal/timeutil"
)

// MinSensorAgeMinutes is the warm-up period during which no readings are
// delivered.
const MinSensorAgeMinutes = 60

// CalibrationService is the remote calibration service. *oop.Client
// implements it.
type CalibrationService interface {
	FetchCalibrationStatus(ctx context.Context, block *libre.RawBlock, serial string) (*oop.CalibrationStatus, error)
	FetchMultiFormatGlucose(ctx context.Context, block *libre.RawBlock, serial string, vendorInfo []byte) (*oop.GlucoseData, error)
}

// Input is one polled memory image and what is known about its sensor.
type Input struct {
	// SensorType may be left unknown when VendorInfo is supplied.
	SensorType   libre.SensorType
	SerialNumber string
	VendorInfo   []byte

	// DecryptedToBaseFormat is set when the transport already converted the
	// image into the base layout.
	DecryptedToBaseFormat bool

	Block   *libre.RawBlock
	Battery *int
}

// Orchestrator processes memory images for one sensor at a time. Concurrent
// Process calls for the same sensor must be serialized by the caller.
type Orchestrator struct {
	cfg     *config.ProcessingConfig
	service CalibrationService
	store   calibration.Store
	clock   timeutil.Clock
	opts    smoothing.Options

	mu      sync.Mutex
	session *Session
}

// New returns an Orchestrator. service may be nil, in which case remote paths
// are never taken. A nil store is replaced by an in-memory one.
func New(cfg *config.ProcessingConfig, service CalibrationService, store calibration.Store, clock timeutil.Clock) *Orchestrator {
	if cfg == nil {
		cfg = &config.ProcessingConfig{}
	}
	if store == nil {
		store = calibration.NewMemoryStore()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Orchestrator{
		cfg:     cfg,
		service: service,
		store:   store,
		clock:   clock,
		opts:    smoothingOptions(cfg),
	}
}

func smoothingOptions(cfg *config.ProcessingConfig) smoothing.Options {
	opts := smoothing.DefaultOptions()
	opts.TrendHalfWidth = cfg.GetTrendFilterWidth()
	opts.TrendPasses = cfg.GetTrendSmoothingPasses()
	opts.LagHalfWidth = cfg.GetLagFilterWidth()
	opts.LagPasses = cfg.GetLagSmoothingPasses()
	opts.HistoryHalfWidth = cfg.GetHistoryFilterWidth()
	return opts
}

// Session returns the session for serial, starting a new one (and dropping the
// retained continuity values) if the serial differs from the current session.
func (o *Orchestrator) Session(serial string) *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil || o.session.Serial != serial {
		if o.session != nil {
			monitoring.Logf("processing: sensor changed from %q to %q, starting new session", o.session.Serial, serial)
		}
		o.session = newSession(serial, o.clock.Now())
	}
	return o.session
}

// Process handles one memory image and delivers the outcome to r exactly once.
func (o *Orchestrator) Process(ctx context.Context, in Input, r Receiver) {
	deliver(r, o.process(ctx, in))
}

func (o *Orchestrator) process(ctx context.Context, in Input) Result {
	sensorType := in.SensorType
	if sensorType == libre.SensorTypeUnknown {
		if t, ok := libre.SensorTypeFromVendorInfo(in.VendorInfo); ok {
			sensorType = t
		}
	}
	if sensorType == libre.SensorTypeUnknown {
		monitoring.Verbosef("processing: sensor type not identified, ignoring block")
		return Result{Battery: in.Battery}
	}
	if in.Block == nil {
		monitoring.Logf("processing: no memory image for %s sensor %q", sensorType, in.SerialNumber)
		return Result{Battery: in.Battery}
	}

	webEnabled := o.cfg.GetWebCalibrationEnabled()
	switch {
	case webEnabled && o.webCalibrationReady(in) && !in.DecryptedToBaseFormat:
		return o.processWithService(ctx, sensorType, in)
	case !webEnabled || in.DecryptedToBaseFormat:
		monitoring.Verbosef("processing: decoding %s sensor %q without calibration", sensorType, in.SerialNumber)
		decoded := o.decode(in.Block, nil, in.SerialNumber)
		return assemble(decoded.State, decoded.AgeMinutes, decoded.Readings(), in.Battery, nil)
	default:
		monitoring.Verbosef("processing: web calibration enabled but serial, endpoint or token missing; nothing to do")
		return Result{Battery: in.Battery}
	}
}

func (o *Orchestrator) webCalibrationReady(in Input) bool {
	return in.SerialNumber != "" &&
		o.cfg.GetCalibrationEndpoint() != "" &&
		o.cfg.GetCalibrationToken() != "" &&
		o.service != nil
}

func (o *Orchestrator) processWithService(ctx context.Context, sensorType libre.SensorType, in Input) Result {
	switch {
	case sensorType.BaseFormatCompatible():
		return o.processWithParameters(ctx, sensorType, in)

	case sensorType.RequiresVendorInfo():
		if len(in.VendorInfo) == 0 {
			monitoring.Logf("processing: %s sensor %q: %v", sensorType, in.SerialNumber, ErrMissingVendorInfo)
			return Result{Battery: in.Battery}
		}
		return o.processRemote(ctx, in, nil)

	default:
		// Continue for diagnostics; the outcome carries the error either way.
		monitoring.Logf("processing: %s sensor %q: %v, attempting remote decode", sensorType, in.SerialNumber, ErrUnsupportedSensorVariant)
		return o.processRemote(ctx, in, ErrUnsupportedSensorVariant)
	}
}

// processWithParameters decodes with cached, derived or fetched parameters.
func (o *Orchestrator) processWithParameters(ctx context.Context, sensorType libre.SensorType, in Input) Result {
	params, err := o.resolveParameters(ctx, sensorType, in)
	if err != nil {
		monitoring.Logf("processing: calibration for %q: %v", in.SerialNumber, err)
		return assemble(in.Block.State(), in.Block.AgeMinutes(), nil, in.Battery, err)
	}
	decoded := o.decode(in.Block, params, in.SerialNumber)
	return assemble(decoded.State, decoded.AgeMinutes, decoded.Readings(), in.Battery, nil)
}

func (o *Orchestrator) resolveParameters(ctx context.Context, sensorType libre.SensorType, in Input) (*calibration.Parameters, error) {
	cached, err := o.store.Latest()
	if err != nil {
		monitoring.Logf("processing: reading calibration cache: %v", err)
		cached = nil
	}

	forceRemote := false
	if cached != nil && cached.SerialNumber != in.SerialNumber {
		monitoring.Verbosef("processing: discarding parameters for %q, sensor is now %q", cached.SerialNumber, in.SerialNumber)
		o.discard(cached.SerialNumber)
		cached = nil
	}
	if cached != nil && sensorType.RequiresNonZeroSlope() && cached.HasZeroSlope() {
		monitoring.Logf("processing: cached parameters for %q have a zero slope, refetching", in.SerialNumber)
		o.discard(cached.SerialNumber)
		cached = nil
		forceRemote = true
	}
	if cached != nil {
		return cached, nil
	}

	if !forceRemote && o.cfg.GetLocalDerivationEnabled() {
		derived, err := calibration.Derive(in.Block, in.SerialNumber)
		if err == nil {
			monitoring.Verbosef("processing: derived parameters locally: %s", derived)
			o.save(derived)
			return derived, nil
		}
		monitoring.Verbosef("processing: local derivation for %q failed: %v", in.SerialNumber, err)
	}

	status, err := o.service.FetchCalibrationStatus(ctx, in.Block, in.SerialNumber)
	if err != nil {
		return nil, &RemoteLookupError{Cause: err}
	}
	params := status.Parameters(in.SerialNumber)
	monitoring.Verbosef("processing: fetched parameters: %s", params)
	o.save(params)
	return params, nil
}

func (o *Orchestrator) discard(serial string) {
	if err := o.store.Delete(serial); err != nil {
		monitoring.Logf("processing: discarding parameters for %q: %v", serial, err)
	}
}

func (o *Orchestrator) save(p *calibration.Parameters) {
	if err := o.store.Save(p); err != nil {
		monitoring.Logf("processing: saving parameters for %q: %v", p.SerialNumber, err)
	}
}

// processRemote hands the image to the multi-format decoder. baseErr, when set,
// is delivered regardless of the remote outcome and remote failures are then
// only logged. Deadlines belong to ctx and the service transport.
func (o *Orchestrator) processRemote(ctx context.Context, in Input, baseErr error) Result {
	data, err := o.service.FetchMultiFormatGlucose(ctx, in.Block, in.SerialNumber, in.VendorInfo)
	if err != nil {
		if baseErr != nil {
			monitoring.Logf("processing: best-effort remote decode for %q failed: %v", in.SerialNumber, err)
			return Result{Battery: in.Battery, Err: baseErr}
		}
		return Result{Battery: in.Battery, Err: &RemoteLookupError{Cause: err}}
	}

	resultErr := baseErr
	var state *libre.SensorState
	if s, ok := data.State(); ok {
		state = &s
	} else {
		monitoring.Logf("processing: remote decoder reported unknown state %q", data.SensorState)
		resultErr = ErrUnknownSensorState
		if baseErr != nil {
			resultErr = errors.Join(baseErr, ErrUnknownSensorState)
		}
	}

	age := data.SensorAgeMinutes
	return gate(state, &age, data.Readings(o.clock.Now()), in.Battery, resultErr)
}

// decode runs the local decoder. With smoothing enabled the trend is first
// extended with the session's retained values, the unsmoothed extended values
// are retained for the next pass, and both series are smoothed.
func (o *Orchestrator) decode(block *libre.RawBlock, params *calibration.Parameters, serial string) libre.Decoded {
	var cal libre.Calibrator
	if params != nil {
		cal = params
	}
	decoded := libre.Decode(block, cal, o.clock.Now())
	if !o.cfg.GetSmoothingEnabled() {
		return decoded
	}

	session := o.Session(serial)
	extended := session.previous.Extend(decoded.Trend)
	if len(extended) > len(decoded.Trend) {
		monitoring.Verbosef("processing: extended trend by %d retained values", len(extended)-len(decoded.Trend))
	}
	if len(extended) > 0 {
		session.previous.Store(libre.Values(extended))
	}

	decoded.Trend = smoothing.SmoothTrend(extended, o.opts)
	smoothing.SmoothHistory(decoded.History, o.opts)
	return decoded
}

func assemble(state libre.SensorState, age int, readings []libre.GlucoseReading, battery *int, err error) Result {
	return gate(&state, &age, readings, battery, err)
}

// gate applies the delivery rules: a known non-operational state suppresses all
// readings and reports ErrSensorNotReady; a sensor younger than
// MinSensorAgeMinutes delivers no readings but still reports its age.
func gate(state *libre.SensorState, age *int, readings []libre.GlucoseReading, battery *int, err error) Result {
	res := Result{
		Readings:         readings,
		Battery:          battery,
		SensorAgeMinutes: age,
		SensorState:      state,
		Err:              err,
	}
	if state != nil && !state.EmitsReadings() {
		res.Readings = nil
		res.Err = ErrSensorNotReady
		return res
	}
	if age != nil && *age < MinSensorAgeMinutes {
		res.Readings = nil
	}
	return res
}
