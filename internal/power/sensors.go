package power

import (
	"errors"
	"fmt"

	"telemetry-unit/internal/types"
)

// ADC produces one raw conversion of the battery channel.
type ADC interface {
	ReadRawSample() (uint, error)
}

// TemperatureBus is the one-wire sensor bus.
type TemperatureBus interface {
	DiscoverDevices() ([]string, error)
	ReadTemperature(id string) (float64, types.ErrorKind)
}

// DigitalInput reports the ignition pin level, 0 or 1.
type DigitalInput interface {
	ReadLevel() (uint8, error)
}

// Clock reads the monotonic tick counter.
type Clock interface {
	Now() types.Tick
}

// Sensors groups the collaborators sampled every cycle.
type Sensors struct {
	ADC         ADC
	Temperature TemperatureBus
	Ignition    DigitalInput
	Clock       Clock
}

var errNoSamples = errors.New("adc sample count must be positive")

// oversample averages n raw conversions. A single failed conversion fails
// the whole reading.
func oversample(adc ADC, n int) (uint, error) {
	if n <= 0 {
		return 0, errNoSamples
	}
	var sum uint64
	for i := 0; i < n; i++ {
		raw, err := adc.ReadRawSample()
		if err != nil {
			return 0, fmt.Errorf("adc sample %d: %w", i, err)
		}
		sum += uint64(raw)
	}
	return uint(sum / uint64(n)), nil
}

// readTemperature returns the reading of the first device that converts
// without error.
func (c *Controller) readTemperature() (float64, bool) {
	bus := c.sensors.Temperature
	if bus == nil {
		return 0, false
	}

	if len(c.devices) == 0 {
		devices, err := bus.DiscoverDevices()
		if err != nil {
			c.logger.Warnf("Temperature device discovery failed: %v", err)
			c.stats.SensorErrors++
			return 0, false
		}
		if len(devices) == 0 {
			return 0, false
		}
		c.logger.Infof("Found %d temperature device(s): %v", len(devices), devices)
		c.devices = devices
	}

	for _, id := range c.devices {
		temp, kind := bus.ReadTemperature(id)
		if kind == types.KindNone {
			return temp, true
		}
		c.stats.SensorErrors++
		c.logger.Warnf("Temperature read on %s failed: %s", id, kind)
	}
	return 0, false
}

// acquire reads all sensors into a new sample. Readings that fail keep the
// previous value; valid reports whether battery and ignition were both read.
func (c *Controller) acquire() (s Sample, valid bool) {
	s = c.snapshot.Load()
	valid = true

	raw, err := oversample(c.sensors.ADC, c.cfg.ADCSamples)
	if err != nil {
		c.logger.Warnf("Battery sample failed: %v", err)
		c.stats.SensorErrors++
		valid = false
	} else {
		s.RawADC = raw
		s.BatteryVoltage = BatteryVoltage(raw)
		c.logger.Debugf("AD Voltage=%d", raw)
		c.logger.Debugf("MainBattery Voltage=%.2f", s.BatteryVoltage)
	}

	if temp, ok := c.readTemperature(); ok {
		s.Temperature = temp
		c.logger.Debugf("Temperature=%.1f C", temp)
	}

	level, err := c.sensors.Ignition.ReadLevel()
	if err != nil {
		c.logger.Warnf("Ignition read failed: %v", err)
		c.stats.SensorErrors++
		valid = false
	} else {
		c.rawIgnition = level
	}

	return s, valid
}
