package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/librescoot/librefsm"
	"golang.org/x/sync/errgroup"

	"telemetry-unit/internal/config"
	"telemetry-unit/internal/fsm"
	"telemetry-unit/internal/logger"
	"telemetry-unit/internal/messaging"
	"telemetry-unit/internal/power"
	"telemetry-unit/internal/types"
)

const (
	uplinkRetryStart = time.Second
	uplinkRetryMax   = time.Minute
)

// Options selects the collaborators of a UnitSystem. A nil Redis or Uplink
// disables that sink.
type Options struct {
	Redis        MessagingClient
	Uplink       Uplink
	OpenHardware HardwareOpener
}

// UnitSystem wires the power controller, the diagnostics consumer and the
// unit lifecycle together and puts the board to sleep at the end.
type UnitSystem struct {
	cfg    *config.Config
	logger *logger.Logger

	redis        MessagingClient
	uplink       Uplink
	openHardware HardwareOpener

	hw         *Hardware
	channel    *messaging.Channel
	controller *power.Controller
	consumer   *messaging.Consumer
	machine    *librefsm.Machine

	wakeID string

	mu            sync.RWMutex
	state         types.UnitState
	runCtx        context.Context
	drainTimedOut bool

	sleepReady   chan struct{}
	sleepOnce    sync.Once
	shutdownOnce sync.Once
}

func NewUnitSystem(cfg *config.Config, opts Options, l *logger.Logger) *UnitSystem {
	if l == nil {
		l = logger.NewLogger(nil, logger.LogLevelNone)
	}
	return &UnitSystem{
		cfg:          cfg,
		logger:       l,
		redis:        opts.Redis,
		uplink:       opts.Uplink,
		openHardware: opts.OpenHardware,
		wakeID:       uuid.NewString(),
		state:        types.UnitBooting,
		sleepReady:   make(chan struct{}),
	}
}

// Start connects Redis, applies the stored settings, opens the hardware and
// starts the lifecycle machine. Sampling begins with Run.
func (u *UnitSystem) Start(ctx context.Context) error {
	u.logger.Infof("Starting telemetry unit (wake %s)", u.wakeID)

	if u.redis != nil {
		if err := u.redis.Connect(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		changed, err := u.cfg.ApplyRedisSettings(u.redis)
		switch {
		case err != nil:
			u.logger.Warnf("Ignoring stored settings: %v", err)
		case changed:
			u.logger.Infof("Sleep delay set to %ds from %s", u.cfg.SleepDelaySeconds, config.SettingsHash)
		}
	}

	if err := u.cfg.Validate(); err != nil {
		return err
	}

	if u.openHardware == nil {
		return fmt.Errorf("no hardware configured")
	}
	hw, err := u.openHardware()
	if err != nil {
		return fmt.Errorf("failed to initialize hardware: %w", err)
	}
	u.hw = hw

	u.channel = messaging.NewChannel(u.cfg.QueueSize)

	sinks := []messaging.Sink{messaging.LogSink{Logger: u.logger.WithTag("diag")}}
	if u.redis != nil {
		sinks = append(sinks, u.redis)
	}
	if u.uplink != nil {
		sinks = append(sinks, u.uplink)
	}
	u.consumer, err = messaging.NewConsumer(u.channel, sinks, u.logger.WithTag("consumer"))
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	u.controller, err = power.NewController(u.cfg.Power(), hw.Sensors, u.channel, u.onSleepCommitted, u.logger.WithTag("power"))
	if err != nil {
		return fmt.Errorf("failed to create power controller: %w", err)
	}

	if err := u.initFSM(ctx); err != nil {
		return fmt.Errorf("failed to start lifecycle: %w", err)
	}
	u.publishState(types.UnitBooting)

	if err := u.machine.SendSync(librefsm.Event{ID: fsm.EvHardwareReady}); err != nil {
		return fmt.Errorf("failed to enter sampling: %w", err)
	}

	u.logger.Infof("System started successfully")
	return nil
}

// Run samples until the unit has drained and is ready to sleep, then enters
// deep sleep. It returns nil when ctx is cancelled first, and after resuming
// when the sleep mode returns at all.
func (u *UnitSystem) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	u.mu.Lock()
	u.runCtx = runCtx
	u.mu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return u.controller.Run(gctx) })
	g.Go(func() error { return u.consumer.Run(gctx) })
	if u.redis != nil {
		g.Go(func() error { return u.monitorFaults(gctx) })
	}
	if u.uplink != nil {
		g.Go(func() error {
			if err := u.uplink.Connect(gctx, uplinkRetryStart, uplinkRetryMax); err != nil && gctx.Err() == nil {
				u.logger.Warnf("Uplink unavailable: %v", err)
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case <-u.sleepReady:
	case <-ctx.Done():
		cancel()
		return <-done
	case err := <-done:
		return err
	}

	cancel()
	if err := <-done; err != nil {
		u.logger.Warnf("Worker stopped with error before sleep: %v", err)
	}
	return u.enterDeepSleep()
}

// Shutdown stops the machine and releases hardware and clients.
func (u *UnitSystem) Shutdown() {
	u.shutdownOnce.Do(func() {
		u.logger.Infof("Shutting down telemetry unit")

		if u.machine != nil {
			u.machine.Stop()
		}
		if u.channel != nil {
			u.channel.Close()
		}
		if u.hw != nil && u.hw.Close != nil {
			u.hw.Close()
		}
		if u.uplink != nil {
			u.uplink.Close()
		}
		if u.redis != nil {
			if err := u.redis.Close(); err != nil {
				u.logger.Warnf("Closing Redis: %v", err)
			}
		}
	})
}

// State returns the last published lifecycle state.
func (u *UnitSystem) State() types.UnitState {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state
}

func (u *UnitSystem) WakeID() string { return u.wakeID }

// DrainTimedOut reports whether the last drain gave up with lines pending.
func (u *UnitSystem) DrainTimedOut() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.drainTimedOut
}

// onSleepCommitted runs on the controller goroutine after the cycle lock is
// released.
func (u *UnitSystem) onSleepCommitted() {
	u.machine.Send(librefsm.Event{ID: fsm.EvSleepCommitted})
}

// awaitDrain reports EvQueueDrained once the consumer is idle. When the
// drain timer wins the event arrives in sleeping and is ignored.
func (u *UnitSystem) awaitDrain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.DrainTimeout)
	defer cancel()

	if err := u.consumer.WaitDrained(ctx); err != nil {
		return
	}
	u.machine.Send(librefsm.Event{ID: fsm.EvQueueDrained})
}

func (u *UnitSystem) enterDeepSleep() error {
	ps := u.controller.Stats()
	cs := u.consumer.Stats()
	u.logger.Infof("Entering deep sleep: %d cycles, %d forwarded, %d dropped",
		ps.Cycles, cs.Forwarded, u.channel.Dropped())
	if u.DrainTimedOut() {
		u.logger.Warnf("%d diagnostic line(s) left undelivered", u.channel.Pending())
	}

	if err := u.hw.Sleep.EnterDeepSleep(u.cfg.Sleep.WakeSources); err != nil {
		return fmt.Errorf("failed to enter deep sleep: %w", err)
	}
	u.logger.Infof("Resumed from deep sleep")
	return nil
}

func (u *UnitSystem) publishState(state types.UnitState) {
	if u.redis == nil {
		return
	}
	if err := u.redis.PublishUnitState(state, u.wakeID); err != nil {
		u.logger.Errorf("Failed to publish state: %v", err)
	}
}
