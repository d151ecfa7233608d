package power

import (
	"fmt"

	"telemetry-unit/internal/types"
)

// Two-point linear calibration of the battery divider on the 12-bit ADC.
const (
	batterySlope     = 16.14
	batteryIntercept = 4354.36
	adcFullScale     = 1 << 12
)

// BatteryVoltage converts an averaged raw ADC count into volts.
func BatteryVoltage(raw uint) float64 {
	v := float64(raw) * batterySlope
	v += batteryIntercept
	return v / adcFullScale
}

// Kind is one of the diagnostic line formats. Lines are sent round-robin,
// one per cycle, in declaration order.
type Kind uint8

const (
	KindBattery Kind = iota
	KindTemp
	KindVersion
	KindSleep

	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindBattery:
		return "battery"
	case KindTemp:
		return "temperature"
	case KindVersion:
		return "version"
	case KindSleep:
		return "sleep"
	default:
		return "unknown"
	}
}

// KindFor returns the line kind sent on the given 0-based cycle.
func KindFor(cycle uint64) Kind {
	return Kind(cycle % uint64(kindCount))
}

// Formatter renders diagnostic lines. Every call returns a new buffer.
type Formatter struct {
	FirmwareVersion string
}

// Format renders kind for the given sample and remaining countdown (ticks).
func (f Formatter) Format(kind Kind, s Sample, countdown int64) []byte {
	switch kind {
	case KindBattery:
		return fmt.Appendf(nil, "AD,BAT=%d,%.1f\r\n", s.RawADC, s.BatteryVoltage)
	case KindTemp:
		return fmt.Appendf(nil, "TEMP,IGN=%.1f,%d\r\n", s.Temperature, s.Ignition)
	case KindVersion:
		return fmt.Appendf(nil, "SW=%s\r\n", f.FirmwareVersion)
	case KindSleep:
		if countdown < 0 {
			countdown = 0
		}
		return fmt.Appendf(nil, "SLEEP=%d\r\n", countdown)
	default:
		return nil
	}
}

// Message wraps a rendered line for the companion communications task.
func (f Formatter) Message(kind Kind, s Sample, countdown int64) types.Message {
	return types.Message{
		Source:      types.ComponentIO,
		Destination: types.ComponentBLE,
		Event:       types.EvDiagnostic,
		Payload:     f.Format(kind, s, countdown),
	}
}
