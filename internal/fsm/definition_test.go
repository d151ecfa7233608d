package fsm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/librescoot/librefsm"

	"telemetry-unit/internal/logger"
)

type mockActions struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockActions) record(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
	return nil
}

func (m *mockActions) has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c == name {
			return true
		}
	}
	return false
}

func (m *mockActions) EnterSampling(*librefsm.Context) error  { return m.record("sampling") }
func (m *mockActions) EnterDraining(*librefsm.Context) error  { return m.record("draining") }
func (m *mockActions) EnterSleeping(*librefsm.Context) error  { return m.record("sleeping") }
func (m *mockActions) OnDrainTimeout(*librefsm.Context) error { return m.record("drain-timeout") }

func startMachine(t *testing.T, drain time.Duration) (*librefsm.Machine, *mockActions) {
	t.Helper()
	actions := &mockActions{}
	l := logger.NewLogger(nil, logger.LogLevelNone)
	machine, err := NewDefinition(actions, drain).Build(librefsm.WithLogger(l.Slog()))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		machine.Stop()
		cancel()
	})
	if err := machine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return machine, actions
}

func waitForState(t *testing.T, m *librefsm.Machine, want librefsm.StateID) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.CurrentState() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state %s not reached, current %s", want, m.CurrentState())
}

func TestLifecycleDrainedPath(t *testing.T) {
	m, actions := startMachine(t, time.Minute)

	if m.CurrentState() != StateBooting {
		t.Fatalf("unexpected initial state %s", m.CurrentState())
	}

	steps := []struct {
		event librefsm.EventID
		want  librefsm.StateID
	}{
		{EvSleepCommitted, StateBooting},
		{EvHardwareReady, StateSampling},
		{EvQueueDrained, StateSampling},
		{EvSleepCommitted, StateDraining},
		{EvQueueDrained, StateSleeping},
	}
	for _, s := range steps {
		if err := m.SendSync(librefsm.Event{ID: s.event}); err != nil {
			t.Fatalf("%s: %v", s.event, err)
		}
		if got := m.CurrentState(); got != s.want {
			t.Fatalf("after %s: state %s, want %s", s.event, got, s.want)
		}
	}

	if actions.has("drain-timeout") {
		t.Error("drain timeout action ran on drained path")
	}
	for _, name := range []string{"sampling", "draining", "sleeping"} {
		if !actions.has(name) {
			t.Errorf("entry action %s not run", name)
		}
	}
}

func TestLifecycleDrainTimeout(t *testing.T) {
	m, actions := startMachine(t, 20*time.Millisecond)

	m.SendSync(librefsm.Event{ID: EvHardwareReady})
	m.SendSync(librefsm.Event{ID: EvSleepCommitted})

	waitForState(t, m, StateSleeping)
	if !actions.has("drain-timeout") {
		t.Error("drain timeout action not run")
	}
}

func TestSleepingIsFinal(t *testing.T) {
	m, _ := startMachine(t, time.Minute)

	for _, ev := range []librefsm.EventID{EvHardwareReady, EvSleepCommitted, EvQueueDrained} {
		m.SendSync(librefsm.Event{ID: ev})
	}
	for _, ev := range []librefsm.EventID{EvHardwareReady, EvSleepCommitted, EvQueueDrained, EvDrainTimeout} {
		if err := m.SendSync(librefsm.Event{ID: ev}); err != nil {
			t.Fatalf("%s: %v", ev, err)
		}
		if m.CurrentState() != StateSleeping {
			t.Fatalf("left sleeping on %s", ev)
		}
	}
}
