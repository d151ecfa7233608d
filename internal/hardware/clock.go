package hardware

import (
	"golang.org/x/sys/unix"

	"telemetry-unit/internal/types"
)

// MonotonicClock counts CLOCK_MONOTONIC in ticks. The counter is truncated to
// 32 bits and wraps; callers use types.Elapsed for differences.
type MonotonicClock struct {
	TicksPerSecond uint32
}

func (c MonotonicClock) Now() types.Tick {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	sec, nsec := ts.Unix()
	return ticksFrom(sec, nsec, c.TicksPerSecond)
}

func ticksFrom(sec, nsec int64, tps uint32) types.Tick {
	rate := uint64(tps)
	ticks := uint64(sec)*rate + uint64(nsec)*rate/1e9
	return types.Tick(uint32(ticks))
}
