package core

import (
	"fmt"

	"telemetry-unit/internal/config"
	"telemetry-unit/internal/hardware"
	"telemetry-unit/internal/logger"
	"telemetry-unit/internal/power"
)

// BoardHardware returns an opener for the real sysfs, gpio and power
// interfaces described by cfg.
func BoardHardware(cfg *config.Config, l *logger.Logger) HardwareOpener {
	return func() (*Hardware, error) {
		adc := hardware.NewIIOADC(hardware.IIODevicesDir, cfg.ADC.Device, cfg.ADC.Channel)
		if err := adc.Check(); err != nil {
			return nil, fmt.Errorf("battery adc: %w", err)
		}

		ignition, err := hardware.NewIgnitionInput(cfg.Ignition.Chip, cfg.Ignition.Line, l.WithTag("ignition"))
		if err != nil {
			return nil, fmt.Errorf("ignition input: %w", err)
		}

		l.Infof("Hardware ready: adc=%s ignition=%s/%d", adc.Path(), cfg.Ignition.Chip, cfg.Ignition.Line)

		return &Hardware{
			Sensors: power.Sensors{
				ADC:         adc,
				Temperature: hardware.NewOneWireBus(cfg.OneWire.Path, l.WithTag("w1")),
				Ignition:    ignition,
				Clock:       hardware.MonotonicClock{TicksPerSecond: cfg.TicksPerSecond},
			},
			Sleep: hardware.NewPowerControl(hardware.SleepMode(cfg.Sleep.Mode), l.WithTag("sleep")),
			Close: ignition.Close,
		}, nil
	}
}
