package power

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"telemetry-unit/internal/logger"
	"telemetry-unit/internal/types"
)

// rawFor13V is an ADC count comfortably above the under-voltage floor.
const rawFor13V = 3007

type mockADC struct {
	raw   uint
	err   error
	panic bool
	reads int
}

func (m *mockADC) ReadRawSample() (uint, error) {
	if m.panic {
		panic("adc bus fault")
	}
	m.reads++
	return m.raw, m.err
}

type mockBus struct {
	devices []string
	temps   map[string]float64
	kinds   map[string]types.ErrorKind
}

func (m *mockBus) DiscoverDevices() ([]string, error) { return m.devices, nil }

func (m *mockBus) ReadTemperature(id string) (float64, types.ErrorKind) {
	if k := m.kinds[id]; k != types.KindNone {
		return 0, k
	}
	return m.temps[id], types.KindNone
}

type mockInput struct {
	level uint8
	err   error
}

func (m *mockInput) ReadLevel() (uint8, error) { return m.level, m.err }

type mockSender struct {
	mu       sync.Mutex
	messages []types.Message
	full     bool
}

func (m *mockSender) TrySend(msg types.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return false
	}
	m.messages = append(m.messages, msg)
	return true
}

func (m *mockSender) lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.messages))
	for i, msg := range m.messages {
		out[i] = string(msg.Payload)
	}
	return out
}

type stepClock struct {
	mu   sync.Mutex
	now  types.Tick
	step types.Tick
}

func (c *stepClock) Now() types.Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now += c.step
	return t
}

type harness struct {
	ctrl   *Controller
	adc    *mockADC
	bus    *mockBus
	input  *mockInput
	out    *mockSender
	sleeps int
	logs   *bytes.Buffer
}

func testConfig() Config {
	return Config{
		Period:            time.Second,
		TicksPerSecond:    1000,
		SleepDelaySeconds: 5,
		UnderVoltageFloor: 9,
		ADCSamples:        4,
		FirmwareVersion:   "1.2.3",
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		adc:   &mockADC{raw: rawFor13V},
		bus:   &mockBus{devices: []string{"28-0001"}, temps: map[string]float64{"28-0001": 21.5}},
		input: &mockInput{},
		out:   &mockSender{},
		logs:  &bytes.Buffer{},
	}
	l := logger.NewLogger(log.New(h.logs, "", 0), logger.LogLevelInfo)
	ctrl, err := NewController(cfg, Sensors{ADC: h.adc, Temperature: h.bus, Ignition: h.input}, h.out, func() { h.sleeps++ }, l)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	h.ctrl = ctrl
	return h
}

func TestBatteryVoltageCalibration(t *testing.T) {
	cases := []struct {
		raw  uint
		want float64
	}{
		{2520, 11.0},
		{2790, 12.1},
		{3007, 12.9},
		{3366, 14.3},
	}
	for _, c := range cases {
		if got := BatteryVoltage(c.raw); math.Abs(got-c.want) > 0.1 {
			t.Errorf("BatteryVoltage(%d) = %.3f, want %.1f", c.raw, got, c.want)
		}
	}
}

func TestKindForRoundRobin(t *testing.T) {
	want := []Kind{KindBattery, KindTemp, KindVersion, KindSleep}
	for n := uint64(0); n < 12; n++ {
		if got := KindFor(n); got != want[n%4] {
			t.Errorf("cycle %d: got %v, want %v", n, got, want[n%4])
		}
	}
}

func TestFormatLines(t *testing.T) {
	f := Formatter{FirmwareVersion: "V1.0.7"}
	s := Sample{RawADC: 3366, BatteryVoltage: BatteryVoltage(3366), Temperature: 23.4, Ignition: 1}

	cases := map[Kind]string{
		KindBattery: "AD,BAT=3366,14.3\r\n",
		KindTemp:    "TEMP,IGN=23.4,1\r\n",
		KindVersion: "SW=V1.0.7\r\n",
		KindSleep:   "SLEEP=4000\r\n",
	}
	for kind, want := range cases {
		if got := string(f.Format(kind, s, 4000)); got != want {
			t.Errorf("%v: got %q, want %q", kind, got, want)
		}
	}

	if got := string(f.Format(KindSleep, s, -250)); got != "SLEEP=0\r\n" {
		t.Errorf("negative countdown should clamp, got %q", got)
	}
}

func TestFormatReturnsFreshBuffers(t *testing.T) {
	f := Formatter{FirmwareVersion: "x"}
	a := f.Format(KindVersion, Sample{}, 0)
	b := f.Format(KindVersion, Sample{}, 0)
	a[0] = 'Z'
	if b[0] != 'S' {
		t.Error("payload buffers are shared between messages")
	}
}

func TestNewControllerRejectsBadConfig(t *testing.T) {
	for _, mutate := range []func(*Config){
		func(c *Config) { c.TicksPerSecond = 0 },
		func(c *Config) { c.SleepDelaySeconds = 0 },
		func(c *Config) { c.ADCSamples = 0 },
	} {
		cfg := testConfig()
		mutate(&cfg)
		if _, err := NewController(cfg, Sensors{}, nil, nil, nil); !errors.Is(err, ErrConfig) {
			t.Errorf("expected ErrConfig, got %v", err)
		}
	}
}

func TestInitialState(t *testing.T) {
	h := newHarness(t, testConfig())
	if h.ctrl.State() != types.AwakeIgnitionOffCounting {
		t.Errorf("unexpected initial state %v", h.ctrl.State())
	}
	if h.ctrl.Countdown() != 5000 {
		t.Errorf("expected full countdown, got %d", h.ctrl.Countdown())
	}
}

func TestMessagesFollowRoundRobin(t *testing.T) {
	h := newHarness(t, testConfig())
	h.input.level = 1

	for i := 0; i < 8; i++ {
		h.ctrl.Cycle(types.Tick(i * 1000))
	}

	lines := h.out.lines()
	if len(lines) != 8 {
		t.Fatalf("expected 8 messages, got %d", len(lines))
	}
	prefixes := []string{"AD,BAT=", "TEMP,IGN=", "SW=", "SLEEP="}
	for i, line := range lines {
		if !strings.HasPrefix(line, prefixes[i%4]) {
			t.Errorf("message %d = %q, want prefix %q", i, line, prefixes[i%4])
		}
	}
	if lines[0] != "AD,BAT=3007,12.9\r\n" {
		t.Errorf("unexpected battery line %q", lines[0])
	}
	if lines[1] != "TEMP,IGN=21.5,1\r\n" {
		t.Errorf("unexpected temperature line %q", lines[1])
	}
	if lines[2] != "SW=1.2.3\r\n" {
		t.Errorf("unexpected version line %q", lines[2])
	}
	if lines[3] != "SLEEP=5000\r\n" {
		t.Errorf("unexpected sleep line %q", lines[3])
	}

	for _, msg := range h.out.messages {
		if msg.Source != types.ComponentIO || msg.Destination != types.ComponentBLE {
			t.Errorf("unexpected routing %v -> %v", msg.Source, msg.Destination)
		}
	}
}

func TestCountdownReloadedWhileIgnitionHigh(t *testing.T) {
	h := newHarness(t, testConfig())
	h.input.level = 1

	for i := 0; i < 10; i++ {
		h.ctrl.Cycle(types.Tick(i * 1000))
		if h.ctrl.Countdown() != 5000 {
			t.Fatalf("cycle %d: countdown %d, want full delay", i, h.ctrl.Countdown())
		}
		if h.ctrl.State() != types.AwakeIgnitionOn {
			t.Fatalf("cycle %d: state %v", i, h.ctrl.State())
		}
	}
}

func TestCountdownNonIncreasingWhileIgnitionLow(t *testing.T) {
	h := newHarness(t, testConfig())

	last := h.ctrl.Countdown()
	for i := 0; i < 4; i++ {
		h.ctrl.Cycle(types.Tick(i * 1000))
		cd := h.ctrl.Countdown()
		if cd > last {
			t.Fatalf("cycle %d: countdown rose from %d to %d", i, last, cd)
		}
		last = cd
	}
	if last != 2000 {
		t.Errorf("expected 2000 ticks left after 3 elapsed seconds, got %d", last)
	}
}

func TestIgnitionReturnsBeforeExpiryNeverSleeps(t *testing.T) {
	h := newHarness(t, testConfig())
	h.input.level = 1

	tick := types.Tick(0)
	levels := []uint8{1, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 1}
	for _, level := range levels {
		h.input.level = level
		if !h.ctrl.Cycle(tick) {
			t.Fatal("controller stopped unexpectedly")
		}
		tick += 1000
	}

	if h.sleeps != 0 {
		t.Errorf("sleep invoked %d times", h.sleeps)
	}
	if h.ctrl.State() != types.AwakeIgnitionOn {
		t.Errorf("unexpected state %v", h.ctrl.State())
	}
}

func TestSleepEnteredExactlyOnce(t *testing.T) {
	h := newHarness(t, testConfig())

	tick := types.Tick(0)
	cycles := 0
	for h.ctrl.Cycle(tick) {
		tick += 1000
		cycles++
		if cycles > 100 {
			t.Fatal("controller never committed to sleep")
		}
	}

	// 0s, 1s .. 5s: the sixth cycle exhausts the 5s delay
	if cycles != 5 {
		t.Errorf("expected sleep on cycle index 5, got %d", cycles)
	}
	if h.sleeps != 1 {
		t.Fatalf("expected one sleep call, got %d", h.sleeps)
	}
	if h.ctrl.State() != types.EnteringSleep {
		t.Errorf("unexpected state %v", h.ctrl.State())
	}

	sent := len(h.out.lines())
	for i := 0; i < 5; i++ {
		h.input.level = 1
		if h.ctrl.Cycle(tick) {
			t.Error("Cycle reported running after sleep commit")
		}
		tick += 1000
	}
	if h.sleeps != 1 {
		t.Errorf("sleep re-invoked: %d", h.sleeps)
	}
	if got := len(h.out.lines()); got != sent {
		t.Errorf("messages sent after sleep: %d -> %d", sent, got)
	}
}

func TestUnderVoltageSkipsIgnitionLogic(t *testing.T) {
	h := newHarness(t, testConfig())
	h.adc.raw = 1000 // about 5V

	for i := 0; i < 20; i++ {
		h.ctrl.Cycle(types.Tick(i * 1000))
	}

	if h.ctrl.Countdown() != 5000 {
		t.Errorf("countdown changed during brown-out: %d", h.ctrl.Countdown())
	}
	if h.sleeps != 0 {
		t.Error("slept on under-voltage samples")
	}
	if got := h.ctrl.Stats().Skipped; got != 20 {
		t.Errorf("expected 20 skipped cycles, got %d", got)
	}
	if len(h.out.lines()) != 20 {
		t.Errorf("diagnostics must still be sent on skipped cycles")
	}
}

func TestBrownOutTimeChargedToNextOffCycle(t *testing.T) {
	h := newHarness(t, testConfig())
	h.adc.raw = 1000

	for i := 0; i < 4; i++ {
		h.ctrl.Cycle(types.Tick(i * 1000))
	}
	if h.ctrl.Countdown() != 5000 {
		t.Fatalf("countdown changed during brown-out: %d", h.ctrl.Countdown())
	}

	h.adc.raw = rawFor13V
	h.ctrl.Cycle(4000)

	if got := h.ctrl.Countdown(); got != 1000 {
		t.Errorf("expected 1000 ticks left after 4s with ignition off, got %d", got)
	}
}

func TestFlickeringBatteryDoesNotStretchDelay(t *testing.T) {
	h := newHarness(t, testConfig())

	tick := types.Tick(0)
	for cycles := 0; h.ctrl.Cycle(tick); cycles++ {
		if cycles%2 == 1 {
			h.adc.raw = rawFor13V
		} else {
			h.adc.raw = 1000
		}
		tick += 1000
		if cycles > 20 {
			t.Fatal("controller never committed to sleep")
		}
	}

	// the 5s delay is spent by the good sample at or after 5s
	if tick > 6000 {
		t.Errorf("slept at tick %d, more than one period past the delay", tick)
	}
	if h.sleeps != 1 {
		t.Errorf("expected one sleep call, got %d", h.sleeps)
	}
}

func TestUnderVoltageIgnoresIgnitionHigh(t *testing.T) {
	h := newHarness(t, testConfig())
	h.adc.raw = 1000
	h.input.level = 1

	h.ctrl.Cycle(0)

	if h.ctrl.State() != types.AwakeIgnitionOffCounting {
		t.Errorf("ignition acted on during brown-out, state %v", h.ctrl.State())
	}
	if h.ctrl.Snapshot().Load().Ignition != 0 {
		t.Error("snapshot took ignition level from a brown-out sample")
	}
}

func TestRolloverDuringCountdown(t *testing.T) {
	h := newHarness(t, testConfig())

	h.ctrl.Cycle(0xFFFFFC18) // 1000 ticks before wrap
	h.ctrl.Cycle(0x00000000)
	h.ctrl.Cycle(0x000003E8)

	if got := h.ctrl.Countdown(); got != 3000 {
		t.Errorf("expected 3000 ticks left across wrap, got %d", got)
	}
	if h.ctrl.State() != types.AwakeIgnitionOffCounting {
		t.Errorf("unexpected state %v", h.ctrl.State())
	}
}

func TestFirstOffCycleAfterIgnitionOnlySubtractsOnePeriod(t *testing.T) {
	h := newHarness(t, testConfig())
	h.input.level = 1
	for i := 0; i < 30; i++ {
		h.ctrl.Cycle(types.Tick(i * 1000))
	}

	h.input.level = 0
	h.ctrl.Cycle(30 * 1000)

	if got := h.ctrl.Countdown(); got != 4000 {
		t.Errorf("expected 4000 after one off period, got %d", got)
	}
}

func TestIgnitionEdgesLoggedOnce(t *testing.T) {
	h := newHarness(t, testConfig())

	levels := []uint8{1, 1, 1, 0, 0, 1, 1}
	for i, level := range levels {
		h.input.level = level
		h.ctrl.Cycle(types.Tick(i * 1000))
	}

	logs := h.logs.String()
	if n := strings.Count(logs, "Ignition ON"); n != 2 {
		t.Errorf("expected 2 ON logs, got %d:\n%s", n, logs)
	}
	if n := strings.Count(logs, "Ignition OFF"); n != 1 {
		t.Errorf("expected 1 OFF log, got %d:\n%s", n, logs)
	}
}

func TestTemperatureErrorKeepsStaleValue(t *testing.T) {
	h := newHarness(t, testConfig())
	h.ctrl.Cycle(0)

	h.bus.kinds = map[string]types.ErrorKind{"28-0001": types.KindCRC}
	h.ctrl.Cycle(1000)

	if got := h.ctrl.Snapshot().Load().Temperature; got != 21.5 {
		t.Errorf("expected stale 21.5, got %v", got)
	}
	if h.ctrl.Stats().SensorErrors != 1 {
		t.Errorf("expected one sensor error, got %d", h.ctrl.Stats().SensorErrors)
	}
}

func TestTemperatureFallsBackToNextDevice(t *testing.T) {
	h := newHarness(t, testConfig())
	h.bus.devices = []string{"28-a", "28-b"}
	h.bus.temps = map[string]float64{"28-b": -4.0}
	h.bus.kinds = map[string]types.ErrorKind{"28-a": types.KindTimeout}

	h.ctrl.Cycle(0)

	if got := h.ctrl.Snapshot().Load().Temperature; got != -4.0 {
		t.Errorf("expected reading from second device, got %v", got)
	}
}

func TestADCFailureSkipsCycle(t *testing.T) {
	h := newHarness(t, testConfig())
	h.ctrl.Cycle(0)
	h.adc.err = errors.New("iio read failed")
	h.ctrl.Cycle(1000)
	h.ctrl.Cycle(2000)

	if got := h.ctrl.Countdown(); got != 5000 {
		t.Errorf("countdown moved on invalid samples: %d", got)
	}
	if got := h.ctrl.Snapshot().Load().RawADC; got != rawFor13V {
		t.Errorf("expected stale raw ADC, got %d", got)
	}

	h.adc.err = nil
	h.ctrl.Cycle(3000)
	if got := h.ctrl.Countdown(); got != 2000 {
		t.Errorf("skipped time not charged to the next off cycle: %d", got)
	}
}

func TestOversampleAverages(t *testing.T) {
	adc := &seqADC{values: []uint{100, 200, 300, 401}}
	got, err := oversample(adc, 4)
	if err != nil {
		t.Fatalf("oversample failed: %v", err)
	}
	if got != 250 {
		t.Errorf("expected truncated mean 250, got %d", got)
	}
}

type seqADC struct {
	values []uint
	i      int
}

func (s *seqADC) ReadRawSample() (uint, error) {
	v := s.values[s.i%len(s.values)]
	s.i++
	return v, nil
}

func TestChannelFullDropsSilently(t *testing.T) {
	h := newHarness(t, testConfig())
	h.out.full = true
	h.input.level = 1

	for i := 0; i < 3; i++ {
		if !h.ctrl.Cycle(types.Tick(i * 1000)) {
			t.Fatal("controller stopped on full channel")
		}
	}
	if got := h.ctrl.Stats().Dropped; got != 3 {
		t.Errorf("expected 3 dropped, got %d", got)
	}
}

func TestPanicInCycleIsContained(t *testing.T) {
	h := newHarness(t, testConfig())
	h.adc.panic = true

	if !h.ctrl.Cycle(0) {
		t.Fatal("controller stopped after panic")
	}
	if h.ctrl.Stats().Panics != 1 {
		t.Errorf("expected one recorded panic, got %d", h.ctrl.Stats().Panics)
	}

	h.adc.panic = false
	h.ctrl.Cycle(1000)
	if h.ctrl.Stats().Cycles != 1 {
		t.Errorf("expected controller to keep cycling, got %d cycles", h.ctrl.Stats().Cycles)
	}
}

func TestNextDeadline(t *testing.T) {
	base := time.Unix(1000, 0)

	if got := nextDeadline(base, time.Second, base.Add(300*time.Millisecond)); !got.Equal(base.Add(time.Second)) {
		t.Errorf("expected deadline from previous, got %v", got)
	}
	// a late cycle keeps the original grid
	if got := nextDeadline(base, time.Second, base.Add(1500*time.Millisecond)); !got.Equal(base.Add(time.Second)) {
		t.Errorf("expected grid deadline, got %v", got)
	}
	now := base.Add(5 * time.Second)
	if got := nextDeadline(base, time.Second, now); !got.Equal(now) {
		t.Errorf("expected re-anchor to now, got %v", got)
	}
}

func TestRunStopsAfterSleep(t *testing.T) {
	cfg := testConfig()
	cfg.Period = time.Millisecond
	cfg.SleepDelaySeconds = 2

	h := &harness{
		adc:   &mockADC{raw: rawFor13V},
		bus:   &mockBus{},
		input: &mockInput{},
		out:   &mockSender{},
	}
	clock := &stepClock{step: 1000}
	ctrl, err := NewController(cfg, Sensors{ADC: h.adc, Temperature: h.bus, Ignition: h.input, Clock: clock}, h.out, func() { h.sleeps++ }, nil)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ctrl.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("Run did not stop on its own")
	}
	if h.sleeps != 1 {
		t.Errorf("expected one sleep, got %d", h.sleeps)
	}
	if got := len(h.out.lines()); got != 3 {
		t.Errorf("expected 3 messages before sleep, got %d", got)
	}
}

func TestRunHonoursCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Period = 10 * time.Millisecond

	input := &mockInput{level: 1}
	ctrl, err := NewController(cfg, Sensors{ADC: &mockADC{raw: rawFor13V}, Ignition: input, Clock: &stepClock{step: 10}}, &mockSender{}, nil, nil)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
