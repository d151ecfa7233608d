package hardware

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"telemetry-unit/internal/logger"
)

type SleepMode string

const (
	SleepPowerOff SleepMode = "poweroff"
	SleepSuspend  SleepMode = "suspend"
)

func (m SleepMode) Valid() bool {
	return m == SleepPowerOff || m == SleepSuspend
}

// PowerControl puts the unit into its low-power state.
type PowerControl struct {
	logger    *logger.Logger
	mode      SleepMode
	statePath string
	powerOff  func() error
}

func NewPowerControl(mode SleepMode, l *logger.Logger) *PowerControl {
	if l == nil {
		l = logger.NewLogger(nil, logger.LogLevelNone)
	}
	return &PowerControl{
		logger:    l,
		mode:      mode,
		statePath: PowerStatePath,
		powerOff: func() error {
			return unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF)
		},
	}
}

// EnterDeepSleep arms every wake source, flushes filesystems and halts. In
// poweroff mode it only returns on failure. In suspend mode it returns after
// resume; the caller exits so the service restarts as from power-on.
func (p *PowerControl) EnterDeepSleep(wakeSources []string) error {
	armed := 0
	for _, path := range wakeSources {
		if err := os.WriteFile(path, []byte("enabled"), 0644); err != nil {
			p.logger.Warnf("Failed to enable wake source %s: %v", path, err)
			continue
		}
		armed++
		p.logger.Infof("Enabled wake source %s", path)
	}
	if armed == 0 && len(wakeSources) > 0 {
		return fmt.Errorf("no wake source could be enabled, refusing to sleep")
	}

	unix.Sync()

	switch p.mode {
	case SleepSuspend:
		p.logger.Infof("Suspending to RAM")
		if err := os.WriteFile(p.statePath, []byte("mem"), 0644); err != nil {
			return fmt.Errorf("failed to suspend: %w", err)
		}
		p.logger.Infof("Resumed from suspend")
		return nil
	default:
		p.logger.Infof("Powering off")
		if err := p.powerOff(); err != nil {
			return fmt.Errorf("failed to power off: %w", err)
		}
		return nil
	}
}
