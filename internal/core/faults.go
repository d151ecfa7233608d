package core

import (
	"context"
	"fmt"
	"time"

	"telemetry-unit/internal/messaging"
)

// faultState remembers what is currently reported so only edges hit Redis.
type faultState struct {
	underVoltage bool
	sensor       bool
	sensorErrors uint64
}

// monitorFaults reports battery under-voltage and sensor read failures to
// the shared fault set once per sample period.
func (u *UnitSystem) monitorFaults(ctx context.Context) error {
	period := u.cfg.SamplePeriod
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var f faultState
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			u.checkFaults(&f)
		}
	}
}

func (u *UnitSystem) checkFaults(f *faultState) {
	stats := u.controller.Stats()
	if stats.Cycles == 0 {
		return
	}

	sample := u.controller.Snapshot().Load()
	low := sample.BatteryVoltage < u.cfg.UnderVoltageFloor
	if low != f.underVoltage {
		var err error
		if low {
			desc := fmt.Sprintf("battery %.2fV below %.2fV", sample.BatteryVoltage, u.cfg.UnderVoltageFloor)
			err = u.redis.ReportFaultPresent(messaging.FaultUnderVoltage, desc)
		} else {
			err = u.redis.ReportFaultAbsent(messaging.FaultUnderVoltage)
		}
		if err != nil {
			u.logger.Warnf("Failed to report under-voltage fault: %v", err)
		} else {
			f.underVoltage = low
		}
	}

	failing := stats.SensorErrors > f.sensorErrors
	f.sensorErrors = stats.SensorErrors
	if failing != f.sensor {
		var err error
		if failing {
			err = u.redis.ReportFaultPresent(messaging.FaultSensor, "sensor read failed")
		} else {
			err = u.redis.ReportFaultAbsent(messaging.FaultSensor)
		}
		if err != nil {
			u.logger.Warnf("Failed to report sensor fault: %v", err)
		} else {
			f.sensor = failing
		}
	}
}
