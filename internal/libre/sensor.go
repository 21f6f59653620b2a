package libre

import "strings"

// SensorState is the coarse lifecycle status reported in the state byte.
type SensorState int

const (
	SensorStateUnknown SensorState = iota
	SensorStateNotYetStarted
	SensorStateStarting
	SensorStateReady
	SensorStateExpired
	SensorStateShutdown
	SensorStateFailure
)

// SensorStateFromByte maps the raw state byte onto a SensorState.
func SensorStateFromByte(b byte) SensorState {
	switch b {
	case 0x01:
		return SensorStateNotYetStarted
	case 0x02:
		return SensorStateStarting
	case 0x03:
		return SensorStateReady
	case 0x04:
		return SensorStateExpired
	case 0x05:
		return SensorStateShutdown
	case 0x06:
		return SensorStateFailure
	default:
		return SensorStateUnknown
	}
}

var sensorStateNames = map[SensorState]string{
	SensorStateUnknown:       "unknown",
	SensorStateNotYetStarted: "notYetStarted",
	SensorStateStarting:      "starting",
	SensorStateReady:         "ready",
	SensorStateExpired:       "expired",
	SensorStateShutdown:      "shutdown",
	SensorStateFailure:       "failure",
}

func (s SensorState) String() string {
	if name, ok := sensorStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseSensorState parses a state name as produced by String. Matching is
// case-insensitive. ok is false for names outside the coding table.
func ParseSensorState(name string) (SensorState, bool) {
	for state, n := range sensorStateNames {
		if state != SensorStateUnknown && strings.EqualFold(n, name) {
			return state, true
		}
	}
	return SensorStateUnknown, false
}

// EmitsReadings reports whether readings may be delivered for a sensor in this state.
func (s SensorState) EmitsReadings() bool {
	return s == SensorStateReady || s == SensorStateExpired
}

// SensorType is the closed set of sensor variants the processor distinguishes.
type SensorType int

const (
	SensorTypeUnknown SensorType = iota
	SensorTypeLibre1
	SensorTypeLibre1A2
	SensorTypeLibre2
	SensorTypeLibreUS14Day
	SensorTypeLibreProH
)

var sensorTypeNames = map[SensorType]string{
	SensorTypeUnknown:      "unknown",
	SensorTypeLibre1:       "libre1",
	SensorTypeLibre1A2:     "libre1A2",
	SensorTypeLibre2:       "libre2",
	SensorTypeLibreUS14Day: "libreUS14day",
	SensorTypeLibreProH:    "libreProH",
}

func (t SensorType) String() string {
	if name, ok := sensorTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseSensorType parses a variant name as produced by String.
func ParseSensorType(name string) (SensorType, bool) {
	for t, n := range sensorTypeNames {
		if t != SensorTypeUnknown && strings.EqualFold(n, name) {
			return t, true
		}
	}
	return SensorTypeUnknown, false
}

// BaseFormatCompatible reports whether the variant's memory image can be decoded
// directly and calibrated with slope/offset parameters.
func (t SensorType) BaseFormatCompatible() bool {
	switch t {
	case SensorTypeLibre1, SensorTypeLibre1A2, SensorTypeLibreProH:
		return true
	}
	return false
}

// RequiresVendorInfo reports whether the variant can only be processed remotely
// together with its vendor info block.
func (t SensorType) RequiresVendorInfo() bool {
	return t == SensorTypeLibre2
}

// RequiresNonZeroSlope reports whether a zero slope coefficient marks cached
// parameters as bad for this variant.
func (t SensorType) RequiresNonZeroSlope() bool {
	return t == SensorTypeLibre1A2 || t == SensorTypeLibreProH
}

// SensorTypeFromVendorInfo classifies a sensor from the first byte of its vendor
// info block. ok is false when the block is empty or the byte is not recognised.
func SensorTypeFromVendorInfo(info []byte) (SensorType, bool) {
	if len(info) == 0 {
		return SensorTypeUnknown, false
	}
	switch info[0] {
	case 0xDF:
		return SensorTypeLibre1, true
	case 0xA2:
		return SensorTypeLibre1A2, true
	case 0x9D, 0xC5, 0xC6:
		return SensorTypeLibre2, true
	case 0xE5, 0xE6:
		return SensorTypeLibreUS14Day, true
	case 0x70:
		return SensorTypeLibreProH, true
	}
	return SensorTypeUnknown, false
}
