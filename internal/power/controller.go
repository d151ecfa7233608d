// Package power implements the periodic IO/power unit: it samples the
// battery, temperature and ignition inputs, publishes one diagnostic line per
// cycle and counts down to deep sleep while the ignition is off.
package power

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"telemetry-unit/internal/dispatch"
	"telemetry-unit/internal/logger"
	"telemetry-unit/internal/types"
)

// Config holds the controller tunables.
type Config struct {
	Period            time.Duration
	TicksPerSecond    uint32
	SleepDelaySeconds uint32
	UnderVoltageFloor float64
	ADCSamples        int
	FirmwareVersion   string
}

// SleepDelayTicks is the countdown reload value.
func (c Config) SleepDelayTicks() int64 {
	return int64(c.SleepDelaySeconds) * int64(c.TicksPerSecond)
}

// Sender accepts outbound messages without blocking; false means dropped.
type Sender interface {
	TrySend(msg types.Message) bool
}

// SleepFunc is invoked once when the controller commits to sleep.
type SleepFunc func()

// Stats counts what happened across cycles.
type Stats struct {
	Cycles       uint64
	Dropped      uint64
	SensorErrors uint64
	Skipped      uint64
	Panics       uint64
}

const ignitionUnknown = -1

// Controller is the context of the IO/power unit. All of its state lives
// here; one goroutine drives it through Cycle or Run.
type Controller struct {
	cfg       Config
	sensors   Sensors
	out       Sender
	onSleep   SleepFunc
	logger    *logger.Logger
	formatter Formatter
	machine   *dispatch.Machine
	snapshot  *Snapshot

	mu           sync.Mutex
	state        types.StateID
	countdown    int64
	delta        types.Tick
	prevTick     types.Tick
	havePrevTick bool
	lastIgnition int
	rawIgnition  uint8
	cycle        uint64
	sleepFired   bool
	devices      []string
	sample       Sample
	stats        Stats
}

var ErrConfig = errors.New("invalid power controller config")

// NewController builds the controller and its rule tables. It fails when the
// config is unusable or the tables are malformed.
func NewController(cfg Config, sensors Sensors, out Sender, onSleep SleepFunc, l *logger.Logger) (*Controller, error) {
	switch {
	case cfg.TicksPerSecond == 0:
		return nil, fmt.Errorf("%w: ticks per second must be positive", ErrConfig)
	case cfg.SleepDelaySeconds == 0:
		return nil, fmt.Errorf("%w: sleep delay must be positive", ErrConfig)
	case cfg.ADCSamples <= 0:
		return nil, fmt.Errorf("%w: adc samples must be positive", ErrConfig)
	}
	if l == nil {
		l = logger.NewLogger(nil, logger.LogLevelNone)
	}

	c := &Controller{
		cfg:          cfg,
		sensors:      sensors,
		out:          out,
		onSleep:      onSleep,
		logger:       l,
		formatter:    Formatter{FirmwareVersion: cfg.FirmwareVersion},
		snapshot:     &Snapshot{},
		state:        types.AwakeIgnitionOffCounting,
		countdown:    cfg.SleepDelayTicks(),
		lastIgnition: ignitionUnknown,
	}

	machine, err := dispatch.NewMachine(types.ComponentPower, c.tables())
	if err != nil {
		return nil, fmt.Errorf("power rule tables: %w", err)
	}
	c.machine = machine
	return c, nil
}

func (c *Controller) tables() map[types.StateID]*dispatch.Table {
	ignitionOn := dispatch.ActionFunc(c.onIgnitionOn)
	ignitionOff := dispatch.ActionFunc(c.onIgnitionOff)
	hold := dispatch.ActionFunc(c.onSkip)

	build := func(rules ...dispatch.Rule) *dispatch.Table {
		t, err := dispatch.NewTable(rules...)
		if err != nil {
			c.logger.Errorf("Malformed power rule table: %v", err)
			return nil // rejected by NewMachine
		}
		return t
	}

	return map[types.StateID]*dispatch.Table{
		types.AwakeIgnitionOn: build(
			dispatch.Rule{Event: types.EvIgnitionOn, Action: ignitionOn, OnSuccess: types.AwakeIgnitionOn, OnFailure: types.AwakeIgnitionOn},
			dispatch.Rule{Event: types.EvIgnitionOff, Action: ignitionOff, OnSuccess: types.AwakeIgnitionOffCounting, OnFailure: types.EnteringSleep},
			dispatch.Rule{Event: types.EventAny, Action: hold, OnSuccess: types.AwakeIgnitionOn, OnFailure: types.AwakeIgnitionOn},
		),
		types.AwakeIgnitionOffCounting: build(
			dispatch.Rule{Event: types.EvIgnitionOn, Action: ignitionOn, OnSuccess: types.AwakeIgnitionOn, OnFailure: types.AwakeIgnitionOn},
			dispatch.Rule{Event: types.EvIgnitionOff, Action: ignitionOff, OnSuccess: types.AwakeIgnitionOffCounting, OnFailure: types.EnteringSleep},
			dispatch.Rule{Event: types.EventAny, Action: hold, OnSuccess: types.AwakeIgnitionOffCounting, OnFailure: types.AwakeIgnitionOffCounting},
		),
		types.EnteringSleep: build(
			dispatch.Rule{Event: types.EventAny, Action: hold, OnSuccess: types.EnteringSleep, OnFailure: types.EnteringSleep},
		),
	}
}

// Machine exposes the rule tables for inspection.
func (c *Controller) Machine() *dispatch.Machine { return c.machine }

// Snapshot is the latest acquired sample, shared read-only with other units.
func (c *Controller) Snapshot() *Snapshot { return c.snapshot }

func (c *Controller) State() types.StateID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Countdown returns the remaining ticks before sleep.
func (c *Controller) Countdown() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countdown
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Cycle runs one sampling period at tick now. It returns false once the
// controller has committed to sleep; later calls do nothing.
func (c *Controller) Cycle(now types.Tick) bool {
	c.mu.Lock()
	if c.state == types.EnteringSleep {
		c.mu.Unlock()
		return false
	}

	commit := c.runCycle(now)
	c.mu.Unlock()

	if commit && c.onSleep != nil {
		c.onSleep()
	}
	return !commit
}

// runCycle does the per-cycle work under c.mu and reports whether this cycle
// committed to sleep. A panic is contained to the cycle.
func (c *Controller) runCycle(now types.Tick) (commit bool) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.Panics++
			c.logger.Errorf("Cycle %d panicked: %v", c.cycle, r)
			commit = false
			c.cycle++
		}
	}()

	sample, valid := c.acquire()

	event := types.EvSampleInvalid
	switch {
	case !valid:
	case sample.BatteryVoltage < c.cfg.UnderVoltageFloor:
		event = types.EvUnderVoltage
	case c.rawIgnition == 1:
		event = types.EvIgnitionOn
	default:
		event = types.EvIgnitionOff
	}
	c.advanceTick(now, event == types.EvIgnitionOn || event == types.EvIgnitionOff)

	// actions read c.sample through the dispatch
	c.sample = sample
	from := c.state
	c.machine.Handle(&c.state, types.Message{
		Source:      types.ComponentIO,
		Destination: types.ComponentPower,
		Event:       event,
	})
	c.snapshot.store(c.sample)

	if from != c.state {
		c.logger.Debugf("State %s -> %s", from, c.state)
	}

	c.publish(KindFor(c.cycle))
	c.cycle++
	c.stats.Cycles++

	if c.state == types.EnteringSleep && !c.sleepFired {
		c.sleepFired = true
		c.logger.Infof("Countdown expired, entering sleep")
		return true
	}
	return false
}

// advanceTick sets c.delta to the ticks since the last evaluated cycle.
// Skipped cycles leave the previous tick in place so the time they cover is
// charged to the next evaluated cycle. The first cycle after boot anchors
// the count whether or not it is evaluated.
func (c *Controller) advanceTick(now types.Tick, evaluated bool) {
	switch {
	case !c.havePrevTick:
		c.delta = 0
		c.prevTick = now
		c.havePrevTick = true
	case evaluated:
		c.delta = types.Elapsed(c.prevTick, now)
		c.prevTick = now
	default:
		c.delta = 0
	}
	c.logger.Debugf("ElapsedTime=%d", c.delta)
}

func (c *Controller) publish(kind Kind) {
	if c.out == nil {
		return
	}
	msg := c.formatter.Message(kind, c.sample, c.countdown)
	if !c.out.TrySend(msg) {
		c.stats.Dropped++
		c.logger.Debugf("Diagnostics channel full, dropped %s line", kind)
	}
}

func (c *Controller) acceptIgnition(level uint8) {
	c.sample.Ignition = level
	if c.lastIgnition == int(level) {
		return
	}
	c.lastIgnition = int(level)
	if level == 1 {
		c.logger.Infof("Ignition ON")
	} else {
		c.logger.Infof("Ignition OFF")
	}
}

func (c *Controller) onIgnitionOn(types.Message) bool {
	c.acceptIgnition(1)
	c.countdown = c.cfg.SleepDelayTicks()
	return true
}

// onIgnitionOff succeeds while time remains on the countdown.
func (c *Controller) onIgnitionOff(types.Message) bool {
	c.acceptIgnition(0)
	c.countdown -= int64(c.delta)
	c.logger.Debugf("Sleep=%d", c.countdown)
	return c.countdown > 0
}

func (c *Controller) onSkip(msg types.Message) bool {
	switch msg.Event {
	case types.EvUnderVoltage:
		c.stats.Skipped++
		c.logger.Debugf("Battery %.2fV below %.2fV, skipping ignition check", c.sample.BatteryVoltage, c.cfg.UnderVoltageFloor)
	case types.EvSampleInvalid:
		c.stats.Skipped++
	}
	return true
}
