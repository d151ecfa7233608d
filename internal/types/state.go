package types

// UnitState is the lifecycle state of the whole unit as published to Redis.
type UnitState string

const (
	UnitBooting  UnitState = "booting"
	UnitSampling UnitState = "sampling"
	UnitDraining UnitState = "draining"
	UnitSleeping UnitState = "sleeping"
)

// StateID is the state of a single table-driven component.
type StateID uint8

const (
	StateNone StateID = iota
	AwakeIgnitionOn
	AwakeIgnitionOffCounting
	EnteringSleep
	ConsumerIdle
	ConsumerForwarding
)

func (s StateID) String() string {
	switch s {
	case StateNone:
		return "none"
	case AwakeIgnitionOn:
		return "awake-ignition-on"
	case AwakeIgnitionOffCounting:
		return "awake-ignition-off-counting"
	case EnteringSleep:
		return "entering-sleep"
	case ConsumerIdle:
		return "consumer-idle"
	case ConsumerForwarding:
		return "consumer-forwarding"
	default:
		return "unknown"
	}
}
