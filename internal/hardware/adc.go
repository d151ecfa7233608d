package hardware

import (
	"fmt"
	"os"
	"path/filepath"
)

// IIOADC reads one channel of an industrial-IO ADC through sysfs.
type IIOADC struct {
	path string
}

func NewIIOADC(root, device string, channel int) *IIOADC {
	if root == "" {
		root = IIODevicesDir
	}
	return &IIOADC{
		path: filepath.Join(root, device, fmt.Sprintf("in_voltage%d_raw", channel)),
	}
}

func (a *IIOADC) Path() string { return a.path }

// Check verifies the channel exists.
func (a *IIOADC) Check() error {
	if _, err := os.Stat(a.path); os.IsNotExist(err) {
		return fmt.Errorf("ADC sysfs not found: %s: %w", a.path, ErrNoDevice)
	}
	return nil
}

// ReadRawSample returns one conversion.
func (a *IIOADC) ReadRawSample() (uint, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("ADC sysfs not found: %s: %w", a.path, ErrNoDevice)
		}
		return 0, fmt.Errorf("failed reading %s: %w", a.path, err)
	}
	return parseRaw(data)
}

func parseRaw(data []byte) (uint, error) {
	var value int
	if _, err := fmt.Sscanf(string(data), "%d", &value); err != nil {
		return 0, fmt.Errorf("failed parsing ADC value %q: %w", data, ErrConversion)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative ADC value %d: %w", value, ErrConversion)
	}
	return uint(value), nil
}
