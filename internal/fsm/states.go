package fsm

import "github.com/librescoot/librefsm"

// Unit lifecycle states
const (
	StateBooting  librefsm.StateID = "booting"
	StateSampling librefsm.StateID = "sampling"
	StateDraining librefsm.StateID = "draining"
	StateSleeping librefsm.StateID = "sleeping"
)

// Unit lifecycle events
const (
	EvHardwareReady  librefsm.EventID = "hardware-ready"
	EvSleepCommitted librefsm.EventID = "sleep-committed"

	// Drain outcome
	EvQueueDrained librefsm.EventID = "queue-drained"
	EvDrainTimeout librefsm.EventID = "drain-timeout"
)

// Timer names for imperative timers
const (
	TimerDrain = "drain"
)
