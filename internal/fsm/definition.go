package fsm

import (
	"time"

	"github.com/librescoot/librefsm"
)

// DefaultDrainTimeout bounds how long queued diagnostics may delay sleep.
const DefaultDrainTimeout = 2 * time.Second

// NewDefinition creates the unit lifecycle definition. Sleeping is final:
// once entered, only a wake source restarting the unit leaves it.
func NewDefinition(actions Actions, drainTimeout time.Duration) *librefsm.Definition {
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}

	enterDraining := func(c *librefsm.Context) error {
		c.StartTimer(TimerDrain, drainTimeout, librefsm.Event{ID: EvDrainTimeout})
		return actions.EnterDraining(c)
	}

	return librefsm.NewDefinition().
		State(StateBooting).
		State(StateSampling,
			librefsm.WithOnEnter(actions.EnterSampling),
		).
		State(StateDraining,
			librefsm.WithOnEnter(enterDraining),
		).
		FinalState(StateSleeping,
			librefsm.WithOnEnter(actions.EnterSleeping),
		).

		// === Transitions ===
		Transition(StateBooting, EvHardwareReady, StateSampling).
		Transition(StateSampling, EvSleepCommitted, StateDraining).
		Transition(StateDraining, EvQueueDrained, StateSleeping).
		Transition(StateDraining, EvDrainTimeout, StateSleeping,
			librefsm.WithAction(actions.OnDrainTimeout),
		).
		Initial(StateBooting)
}
