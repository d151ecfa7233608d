package types

// Tick is a reading of the 32-bit monotonic tick counter. It wraps.
type Tick uint32

// Elapsed returns the ticks between two readings, correct across one wrap
// of the counter.
func Elapsed(prev, cur Tick) Tick {
	return cur - prev
}

// ErrorKind classifies a failed sensor read.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindCRC
	KindTimeout
	KindBus
	KindNoDevice
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindCRC:
		return "crc mismatch"
	case KindTimeout:
		return "conversion timeout"
	case KindBus:
		return "bus error"
	case KindNoDevice:
		return "no device"
	default:
		return "unknown"
	}
}
