package hardware

const (
	IIODevicesDir  = "/sys/bus/iio/devices"
	W1DevicesDir   = "/sys/bus/w1/devices"
	PowerStatePath = "/sys/power/state"

	// DS18B20 family code prefix in w1 device names.
	DS18B20Family = "28-"

	// DS18B20 reports 85°C until the first conversion completes.
	ds18b20ResetMilli = 85000

	Consumer = "telemetry-unit"
)

// DefaultWakeSources are the sysfs wakeup controls armed before deep sleep:
// the ignition line and the companion modem's ring indicator.
var DefaultWakeSources = []string{
	"/sys/devices/platform/gpio-keys/power/wakeup",
	"/sys/class/tty/ttymxc1/device/power/wakeup",
}
