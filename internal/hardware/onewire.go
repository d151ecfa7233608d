package hardware

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"telemetry-unit/internal/logger"
	"telemetry-unit/internal/types"
)

// OneWireBus reads DS18B20 sensors through the kernel w1 driver. The driver
// triggers a conversion on every read of w1_slave and checks the scratchpad
// CRC for us.
type OneWireBus struct {
	root   string
	logger *logger.Logger
}

func NewOneWireBus(root string, l *logger.Logger) *OneWireBus {
	if root == "" {
		root = W1DevicesDir
	}
	if l == nil {
		l = logger.NewLogger(nil, logger.LogLevelNone)
	}
	return &OneWireBus{root: root, logger: l}
}

// DiscoverDevices lists the DS18B20 devices on the bus, sorted by ROM code.
func (b *OneWireBus) DiscoverDevices() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(b.root, DS18B20Family+"*"))
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", b.root, err)
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, filepath.Base(m))
	}
	sort.Strings(ids)
	return ids, nil
}

// Read converts and returns the temperature of one device in °C.
func (b *OneWireBus) Read(id string) (float64, error) {
	path := filepath.Join(b.root, id, "w1_slave")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%s: %w", id, ErrNoDevice)
		}
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	temp, err := ParseW1Slave(data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", id, err)
	}
	return temp, nil
}

// ReadTemperature is Read with the error reduced to its kind.
func (b *OneWireBus) ReadTemperature(id string) (float64, types.ErrorKind) {
	temp, err := b.Read(id)
	if err != nil {
		b.logger.Debugf("w1 read failed: %v", err)
	}
	return temp, Classify(err)
}

// ParseW1Slave decodes the two-line w1_slave report:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func ParseW1Slave(data []byte) (float64, error) {
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	if len(lines) < 2 {
		return 0, fmt.Errorf("short w1_slave report: %w", ErrConversion)
	}

	status := bytes.TrimSpace(lines[0])
	if !bytes.HasSuffix(status, []byte("YES")) {
		return 0, ErrCRC
	}

	idx := bytes.LastIndex(lines[1], []byte("t="))
	if idx < 0 {
		return 0, fmt.Errorf("no temperature field: %w", ErrConversion)
	}
	milli, err := strconv.Atoi(string(bytes.TrimSpace(lines[1][idx+2:])))
	if err != nil {
		return 0, fmt.Errorf("temperature field: %w", ErrConversion)
	}
	if milli == ds18b20ResetMilli {
		return 0, ErrTimeout
	}
	return float64(milli) / 1000, nil
}
