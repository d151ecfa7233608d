package power

import "sync"

// Sample is the state acquired in one cycle.
type Sample struct {
	RawADC         uint
	BatteryVoltage float64
	Temperature    float64
	Ignition       uint8
}

// Snapshot holds the latest Sample. The controller is the only writer.
// Readers get a copy and must not assume it belongs to a finished cycle;
// consumers that need consistent data use the diagnostics channel.
type Snapshot struct {
	mu     sync.RWMutex
	sample Sample
}

func (s *Snapshot) Load() Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sample
}

func (s *Snapshot) store(sample Sample) {
	s.mu.Lock()
	s.sample = sample
	s.mu.Unlock()
}
