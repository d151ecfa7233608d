package types

import "fmt"

// ComponentID identifies a task that sends or receives messages.
type ComponentID uint8

const (
	ComponentNone ComponentID = iota
	ComponentIO
	ComponentBLE
	ComponentGSM
	ComponentSD
	ComponentPower
)

func (c ComponentID) String() string {
	switch c {
	case ComponentIO:
		return "io"
	case ComponentBLE:
		return "ble"
	case ComponentGSM:
		return "gsm"
	case ComponentSD:
		return "sd"
	case ComponentPower:
		return "power"
	default:
		return fmt.Sprintf("component(%d)", uint8(c))
	}
}

// EventID selects a rule in a dispatch table. EventAny matches every event.
type EventID uint8

const (
	EventAny EventID = iota
	EvIgnitionOn
	EvIgnitionOff
	EvUnderVoltage
	EvSampleInvalid
	EvDiagnostic
)

func (e EventID) String() string {
	switch e {
	case EventAny:
		return "any"
	case EvIgnitionOn:
		return "ignition-on"
	case EvIgnitionOff:
		return "ignition-off"
	case EvUnderVoltage:
		return "under-voltage"
	case EvSampleInvalid:
		return "sample-invalid"
	case EvDiagnostic:
		return "diagnostic"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// Message is the unit of inter-task communication. Payload is owned by the
// message: senders allocate a fresh buffer per message and never touch it
// after the send.
type Message struct {
	Source      ComponentID
	Destination ComponentID
	Event       EventID
	Payload     []byte
}
