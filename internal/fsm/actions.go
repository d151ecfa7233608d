package fsm

import "github.com/librescoot/librefsm"

// Actions defines the interface for unit lifecycle actions.
// UnitSystem implements this interface. Callbacks run with the machine
// locked and must not query the machine state.
type Actions interface {
	// State entry actions
	EnterSampling(c *librefsm.Context) error
	EnterDraining(c *librefsm.Context) error
	EnterSleeping(c *librefsm.Context) error

	// Transition actions
	OnDrainTimeout(c *librefsm.Context) error
}
