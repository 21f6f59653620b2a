package processing

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedSensorVariant is reported for sensor variants the processor
	// cannot calibrate. Processing still attempts a remote decode.
	ErrUnsupportedSensorVariant = errors.New("unsupported sensor variant")

	// ErrMissingVendorInfo marks a variant that cannot be processed without its
	// vendor info block. It is logged, never delivered.
	ErrMissingVendorInfo = errors.New("vendor info required for sensor variant")

	// ErrSensorNotReady is delivered, with no readings, for a sensor that is not
	// in an operational state.
	ErrSensorNotReady = errors.New("sensor not ready")

	// ErrUnknownSensorState is delivered when the remote decoder reports a
	// state outside the coding table.
	ErrUnknownSensorState = errors.New("unknown sensor state")

	// ErrRemoteLookupFailed matches every *RemoteLookupError.
	ErrRemoteLookupFailed = errors.New("remote calibration lookup failed")
)

// RemoteLookupError wraps a failure of the remote calibration service.
type RemoteLookupError struct {
	Cause error
}

func (e *RemoteLookupError) Error() string {
	return fmt.Sprintf("%v: %v", ErrRemoteLookupFailed, e.Cause)
}

func (e *RemoteLookupError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is ErrRemoteLookupFailed.
func (e *RemoteLookupError) Is(target error) bool {
	return target == ErrRemoteLookupFailed
}
