package core

import (
	"context"

	"github.com/librescoot/librefsm"

	"telemetry-unit/internal/fsm"
	"telemetry-unit/internal/types"
)

// Ensure UnitSystem implements fsm.Actions
var _ fsm.Actions = (*UnitSystem)(nil)

// stateIDToUnitState converts librefsm StateID to types.UnitState
func stateIDToUnitState(id librefsm.StateID) types.UnitState {
	switch id {
	case fsm.StateBooting:
		return types.UnitBooting
	case fsm.StateSampling:
		return types.UnitSampling
	case fsm.StateDraining:
		return types.UnitDraining
	case fsm.StateSleeping:
		return types.UnitSleeping
	default:
		return types.UnitState(string(id))
	}
}

// initFSM initializes and starts the librefsm machine
func (u *UnitSystem) initFSM(ctx context.Context) error {
	def := fsm.NewDefinition(u, u.cfg.DrainTimeout)
	machine, err := def.Build(librefsm.WithLogger(u.logger.WithTag("fsm").Slog()))
	if err != nil {
		return err
	}
	u.machine = machine

	u.machine.OnStateChange(func(from, to librefsm.StateID) {
		newState := stateIDToUnitState(to)

		u.mu.Lock()
		u.state = newState
		u.mu.Unlock()

		u.logger.Infof("State transition: %s -> %s", stateIDToUnitState(from), newState)

		// Publish the known new state; CurrentState would deadlock here.
		u.publishState(newState)

		// Sleep only once the final state is out.
		if to == fsm.StateSleeping {
			u.sleepOnce.Do(func() { close(u.sleepReady) })
		}
	})

	if err := u.machine.Start(ctx); err != nil {
		return err
	}

	u.logger.Infof("librefsm state machine started")
	return nil
}

// === State Entry Actions ===

func (u *UnitSystem) EnterSampling(c *librefsm.Context) error {
	u.logger.Infof("Sampling started, sleep delay %ds", u.cfg.SleepDelaySeconds)
	return nil
}

func (u *UnitSystem) EnterDraining(c *librefsm.Context) error {
	u.logger.Infof("Sleep committed, draining %d queued line(s)", u.channel.Pending())

	u.mu.RLock()
	ctx := u.runCtx
	u.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	go u.awaitDrain(ctx)
	return nil
}

func (u *UnitSystem) EnterSleeping(c *librefsm.Context) error {
	u.logger.Infof("Diagnostics flushed, ready for deep sleep")
	return nil
}

// === Transition Actions ===

func (u *UnitSystem) OnDrainTimeout(c *librefsm.Context) error {
	u.mu.Lock()
	u.drainTimedOut = true
	u.mu.Unlock()

	u.logger.Warnf("Drain timed out with %d line(s) pending, sleeping anyway", u.channel.Pending())
	return nil
}
