package power

import (
	"context"
	"time"
)

// Run drives Cycle once per period until the controller commits to sleep or
// ctx is cancelled. Deadlines are computed from the previous deadline, not
// from the end of the cycle, so cycle duration does not shift the schedule.
func (c *Controller) Run(ctx context.Context) error {
	period := c.cfg.Period
	if period <= 0 {
		period = time.Second
	}

	c.logger.Infof("Starting sampling every %s, sleep delay %ds", period, c.cfg.SleepDelaySeconds)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	deadline := time.Now()
	for {
		if !c.Cycle(c.sensors.Clock.Now()) {
			c.logger.Infof("Sampling stopped for sleep")
			return nil
		}

		deadline = nextDeadline(deadline, period, time.Now())
		timer.Reset(time.Until(deadline))

		select {
		case <-ctx.Done():
			c.logger.Infof("Sampling cancelled: %v", ctx.Err())
			return nil
		case <-timer.C:
		}
	}
}

// nextDeadline advances prev by one period. When the unit has fallen more
// than a full period behind, the schedule restarts from now instead of
// firing a burst of catch-up cycles.
func nextDeadline(prev time.Time, period time.Duration, now time.Time) time.Time {
	next := prev.Add(period)
	if now.Sub(next) > period {
		return now
	}
	return next
}
