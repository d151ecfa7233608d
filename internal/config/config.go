// Package config loads the unit configuration.
// Priority: defaults < file < env < redis settings < flags
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"telemetry-unit/internal/hardware"
	"telemetry-unit/internal/power"
)

var ErrInvalid = errors.New("invalid configuration")

// SettingsHash and SleepDelaySetting locate the sleep delay override in Redis.
const (
	SettingsHash      = "settings"
	SleepDelaySetting = "telemetry.sleep-delay-seconds"
)

// Config holds all unit configuration.
type Config struct {
	SamplePeriod      time.Duration `yaml:"sample_period"`
	TicksPerSecond    uint32        `yaml:"ticks_per_second"`
	SleepDelaySeconds uint32        `yaml:"sleep_delay_seconds"`
	UnderVoltageFloor float64       `yaml:"under_voltage_floor"`
	ADCSamples        int           `yaml:"adc_samples"`
	FirmwareVersion   string        `yaml:"firmware_version"`
	QueueSize         int           `yaml:"queue_size"`
	DrainTimeout      time.Duration `yaml:"drain_timeout"`
	LogLevel          int           `yaml:"log_level"`

	ADC      ADCConfig      `yaml:"adc"`
	Ignition IgnitionConfig `yaml:"ignition"`
	OneWire  OneWireConfig  `yaml:"onewire"`
	Sleep    SleepConfig    `yaml:"sleep"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`

	// set by PinSleepDelay; stored settings may not override it
	sleepDelayPinned bool
}

// ADCConfig selects the IIO battery channel.
type ADCConfig struct {
	Device  string `yaml:"device"`
	Channel int    `yaml:"channel"`
}

// IgnitionConfig selects the ignition sense line.
type IgnitionConfig struct {
	Chip string `yaml:"chip"`
	Line int    `yaml:"line"`
}

type OneWireConfig struct {
	Path string `yaml:"path"`
}

// SleepConfig controls deep sleep entry.
type SleepConfig struct {
	Mode        string   `yaml:"mode"` // poweroff | suspend
	WakeSources []string `yaml:"wake_sources"`
}

type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig for the radio uplink.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		SamplePeriod:      time.Second,
		TicksPerSecond:    1000,
		SleepDelaySeconds: 300,
		UnderVoltageFloor: 9.0,
		ADCSamples:        64,
		FirmwareVersion:   "V1.0.0",
		QueueSize:         8,
		DrainTimeout:      2 * time.Second,
		LogLevel:          3,
		ADC: ADCConfig{
			Device:  "iio:device0",
			Channel: 0,
		},
		Ignition: IgnitionConfig{
			Chip: "gpiochip0",
			Line: 5,
		},
		OneWire: OneWireConfig{
			Path: hardware.W1DevicesDir,
		},
		Sleep: SleepConfig{
			Mode:        string(hardware.SleepPowerOff),
			WakeSources: append([]string(nil), hardware.DefaultWakeSources...),
		},
		Redis: RedisConfig{
			Enabled: true,
			Host:    "localhost",
			Port:    6379,
		},
		MQTT: MQTTConfig{
			Enabled:  false,
			Broker:   "tcp://localhost:1883",
			ClientID: "telemetry-unit",
			Topic:    "telemetry",
			QoS:      1,
		},
	}
}

// Load reads defaults, then path (when not empty), then TELEMETRY_* env.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadEnv()
	return cfg, nil
}

// loadFile decodes the file over the current values; absent keys keep them.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvUint32(key string, fallback uint32) uint32 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// loadEnv overrides fields from TELEMETRY_* variables. Unparsable values are
// ignored.
func (c *Config) loadEnv() {
	c.SamplePeriod = getenvDuration("TELEMETRY_SAMPLE_PERIOD", c.SamplePeriod)
	c.TicksPerSecond = getenvUint32("TELEMETRY_TICKS_PER_SECOND", c.TicksPerSecond)
	c.SleepDelaySeconds = getenvUint32("TELEMETRY_SLEEP_DELAY_SECONDS", c.SleepDelaySeconds)
	c.UnderVoltageFloor = getenvFloat("TELEMETRY_UNDER_VOLTAGE_FLOOR", c.UnderVoltageFloor)
	c.ADCSamples = getenvInt("TELEMETRY_ADC_SAMPLES", c.ADCSamples)
	c.FirmwareVersion = getenv("TELEMETRY_FIRMWARE_VERSION", c.FirmwareVersion)
	c.QueueSize = getenvInt("TELEMETRY_QUEUE_SIZE", c.QueueSize)
	c.DrainTimeout = getenvDuration("TELEMETRY_DRAIN_TIMEOUT", c.DrainTimeout)
	c.LogLevel = getenvInt("TELEMETRY_LOG_LEVEL", c.LogLevel)

	c.Sleep.Mode = getenv("TELEMETRY_SLEEP_MODE", c.Sleep.Mode)

	c.Redis.Enabled = getenvBool("TELEMETRY_REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Host = getenv("TELEMETRY_REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getenvInt("TELEMETRY_REDIS_PORT", c.Redis.Port)

	c.MQTT.Enabled = getenvBool("TELEMETRY_MQTT_ENABLED", c.MQTT.Enabled)
	c.MQTT.Broker = getenv("TELEMETRY_MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getenv("TELEMETRY_MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Topic = getenv("TELEMETRY_MQTT_TOPIC", c.MQTT.Topic)
	c.MQTT.QoS = getenvInt("TELEMETRY_MQTT_QOS", c.MQTT.QoS)
	c.MQTT.Username = getenv("TELEMETRY_MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getenv("TELEMETRY_MQTT_PASSWORD", c.MQTT.Password)
}

// Validate reports every problem found, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	var errs []string
	if c.SamplePeriod <= 0 {
		errs = append(errs, "sample_period must be > 0")
	}
	if c.TicksPerSecond == 0 {
		errs = append(errs, "ticks_per_second must be > 0")
	}
	if c.SleepDelaySeconds == 0 {
		errs = append(errs, "sleep_delay_seconds must be > 0")
	}
	if c.ADCSamples < 1 {
		errs = append(errs, "adc_samples must be >= 1")
	}
	if c.QueueSize < 1 {
		errs = append(errs, "queue_size must be >= 1")
	}
	if c.DrainTimeout <= 0 {
		errs = append(errs, "drain_timeout must be > 0")
	}
	if c.LogLevel < 0 || c.LogLevel > 4 {
		errs = append(errs, fmt.Sprintf("log_level must be 0..4, got %d", c.LogLevel))
	}
	if !hardware.SleepMode(c.Sleep.Mode).Valid() {
		errs = append(errs, fmt.Sprintf("sleep.mode must be poweroff or suspend, got %q", c.Sleep.Mode))
	}
	if c.Redis.Enabled && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Sprintf("redis.port out of range: %d", c.Redis.Port))
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker must not be empty")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Sprintf("mqtt.qos must be 0..2, got %d", c.MQTT.QoS))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// PinSleepDelay sets the sleep delay from the command line. A pinned delay
// is not overridden by ApplyRedisSettings.
func (c *Config) PinSleepDelay(seconds uint32) {
	c.SleepDelaySeconds = seconds
	c.sleepDelayPinned = true
}

// HashGetter reads one field of a Redis hash; "" means unset.
type HashGetter interface {
	GetHashField(hash, field string) (string, error)
}

// ApplyRedisSettings overrides the sleep delay from the settings hash unless
// the delay was pinned on the command line. It is read once at startup. It
// reports whether the delay changed.
func (c *Config) ApplyRedisSettings(r HashGetter) (bool, error) {
	if c.sleepDelayPinned {
		return false, nil
	}
	value, err := r.GetHashField(SettingsHash, SleepDelaySetting)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", SleepDelaySetting, err)
	}
	if value == "" {
		return false, nil
	}
	seconds, err := strconv.ParseUint(value, 10, 32)
	if err != nil || seconds == 0 {
		return false, fmt.Errorf("%w: %s=%q", ErrInvalid, SleepDelaySetting, value)
	}
	if uint32(seconds) == c.SleepDelaySeconds {
		return false, nil
	}
	c.SleepDelaySeconds = uint32(seconds)
	return true, nil
}

// Power returns the controller tunables.
func (c *Config) Power() power.Config {
	return power.Config{
		Period:            c.SamplePeriod,
		TicksPerSecond:    c.TicksPerSecond,
		SleepDelaySeconds: c.SleepDelaySeconds,
		UnderVoltageFloor: c.UnderVoltageFloor,
		ADCSamples:        c.ADCSamples,
		FirmwareVersion:   c.FirmwareVersion,
	}
}
