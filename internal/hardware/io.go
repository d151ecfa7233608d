package hardware

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"

	"telemetry-unit/internal/logger"
)

// IgnitionInput is the ignition sense line, requested as an input with the
// internal pull-down so a floating harness reads as ignition off.
type IgnitionInput struct {
	logger *logger.Logger
	chip   *gpiocdev.Chip
	line   *gpiocdev.Line
	name   string
	mu     sync.Mutex
}

func NewIgnitionInput(chipName string, offset int, l *logger.Logger) (*IgnitionInput, error) {
	if l == nil {
		l = logger.NewLogger(nil, logger.LogLevelNone)
	}

	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %s: %w", chipName, err)
	}

	line, err := chip.RequestLine(offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithConsumer(Consumer))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("failed to request GPIO line %d: %w", offset, err)
	}

	l.Infof("Configured ignition input: chip=%s, line=%d", chipName, offset)
	return &IgnitionInput{
		logger: l,
		chip:   chip,
		line:   line,
		name:   fmt.Sprintf("%s:%d", chipName, offset),
	}, nil
}

// ReadLevel returns the raw pin level, 0 or 1.
func (in *IgnitionInput) ReadLevel() (uint8, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.line == nil {
		return 0, fmt.Errorf("ignition input %s: %w", in.name, ErrNoDevice)
	}
	v, err := in.line.Value()
	if err != nil {
		return 0, fmt.Errorf("failed to read ignition %s: %w", in.name, err)
	}
	if v != 0 {
		return 1, nil
	}
	return 0, nil
}

func (in *IgnitionInput) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.line != nil {
		in.line.Close()
		in.line = nil
	}
	if in.chip != nil {
		in.chip.Close()
		in.chip = nil
	}
	in.logger.Debugf("Closed ignition input %s", in.name)
}
