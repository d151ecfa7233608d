package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"telemetry-unit/internal/config"
	"telemetry-unit/internal/core"
	"telemetry-unit/internal/logger"
	"telemetry-unit/internal/messaging"
)

var version = "dev"

// CLI flags
var (
	configPath      string
	serviceLogLevel int
	sleepDelay      uint32
)

var rootCmd = &cobra.Command{
	Use:          "telemetry-unit",
	Short:        "Vehicle telemetry unit: sampling, diagnostics and sleep control",
	Version:      version,
	RunE:         runUnit,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.Flags().IntVar(&serviceLogLevel, "log", -1, "Service log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")
	rootCmd.Flags().Uint32Var(&sleepDelay, "sleep-delay", 0, "Seconds with ignition off before sleeping (overrides config)")

	rootCmd.AddCommand(tablesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger picks a bare format under systemd and timestamps otherwise.
func newLogger(level int) *logger.Logger {
	var stdLogger *log.Logger
	if os.Getenv("INVOCATION_ID") != "" {
		stdLogger = log.New(os.Stdout, "", 0)
	} else {
		stdLogger = log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds|log.Lmsgprefix)
	}
	return logger.NewLogger(stdLogger, logger.LogLevel(level))
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log") {
		cfg.LogLevel = serviceLogLevel
	}
	if cmd.Flags().Changed("sleep-delay") {
		cfg.PinSleepDelay(sleepDelay)
	}
	return cfg, nil
}

func runUnit(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	l := newLogger(cfg.LogLevel)
	l.Infof("Starting telemetry unit %s...", version)

	opts := core.Options{OpenHardware: core.BoardHardware(cfg, l.WithTag("hw"))}
	if cfg.Redis.Enabled {
		opts.Redis = messaging.NewRedisClient(cfg.Redis.Host, cfg.Redis.Port, l.WithTag("redis"))
	}
	if cfg.MQTT.Enabled {
		opts.Uplink = messaging.NewMQTTUplink(messaging.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, l.WithTag("mqtt"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	system := core.NewUnitSystem(cfg, opts, l)
	defer system.Shutdown()

	if err := system.Start(ctx); err != nil {
		l.Errorf("Failed to start system: %v", err)
		return err
	}

	if err := system.Run(ctx); err != nil {
		l.Errorf("Unit stopped: %v", err)
		return err
	}

	if ctx.Err() != nil {
		l.Infof("Received signal, shutting down...")
	}
	l.Infof("Shutdown complete")
	return nil
}
