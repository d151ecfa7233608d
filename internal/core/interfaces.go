package core

import (
	"context"
	"time"

	"telemetry-unit/internal/messaging"
	"telemetry-unit/internal/power"
	"telemetry-unit/internal/types"
)

// MessagingClient defines the Redis operations needed by UnitSystem. It is
// also a sink for diagnostic lines.
type MessagingClient interface {
	messaging.Sink

	Connect() error
	Close() error

	// State
	PublishUnitState(state types.UnitState, wakeID string) error

	// Faults
	ReportFaultPresent(code int, description string) error
	ReportFaultAbsent(code int) error

	// Settings
	GetHashField(hash, field string) (string, error)
}

// Uplink is the radio link diagnostic lines are forwarded over.
type Uplink interface {
	messaging.Sink

	Connect(ctx context.Context, start, max time.Duration) error
	Close()
}

// SleepController puts the unit into deep sleep.
type SleepController interface {
	EnterDeepSleep(wakeSources []string) error
}

// Hardware is everything UnitSystem needs from the board.
type Hardware struct {
	Sensors power.Sensors
	Sleep   SleepController

	// Close releases the hardware. May be nil.
	Close func()
}

// HardwareOpener opens the board hardware.
type HardwareOpener func() (*Hardware, error)
