package hardware

import (
	"errors"

	"telemetry-unit/internal/types"
)

var (
	ErrCRC        = errors.New("crc mismatch")
	ErrTimeout    = errors.New("conversion not complete")
	ErrConversion = errors.New("malformed reading")
	ErrNoDevice   = errors.New("device not present")
)

// Classify maps a collaborator error onto the sensor error taxonomy.
func Classify(err error) types.ErrorKind {
	switch {
	case err == nil:
		return types.KindNone
	case errors.Is(err, ErrCRC):
		return types.KindCRC
	case errors.Is(err, ErrTimeout):
		return types.KindTimeout
	case errors.Is(err, ErrNoDevice):
		return types.KindNoDevice
	default:
		return types.KindBus
	}
}
