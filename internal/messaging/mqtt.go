package messaging

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"telemetry-unit/internal/logger"
)

// MQTTOptions configures the radio uplink.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Username string
	Password string
}

// MQTTUplink forwards diagnostic lines to a broker, one subtopic per line
// kind.
type MQTTUplink struct {
	client mqtt.Client
	opts   MQTTOptions
	logger *logger.Logger
}

func NewMQTTUplink(o MQTTOptions, l *logger.Logger) *MQTTUplink {
	if l == nil {
		l = logger.NewLogger(nil, logger.LogLevelNone)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetOrderMatters(true).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true)

	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}

	opts.OnConnect = func(mqtt.Client) { l.Infof("Connected to MQTT broker %s", o.Broker) }
	opts.OnConnectionLost = func(_ mqtt.Client, err error) { l.Warnf("MQTT connection lost: %v", err) }

	return &MQTTUplink{
		client: mqtt.NewClient(opts),
		opts:   o,
		logger: l,
	}
}

// Connect retries with exponential backoff until connected or ctx is done.
func (u *MQTTUplink) Connect(ctx context.Context, start, max time.Duration) error {
	backoff := start
	for {
		token := u.client.Connect()
		if token.Wait() && token.Error() == nil {
			return nil
		}
		u.logger.Warnf("MQTT connect error: %v; retrying in %s", token.Error(), backoff)
		select {
		case <-time.After(backoff):
			if backoff < max {
				backoff *= 2
			}
		case <-ctx.Done():
			return fmt.Errorf("MQTT connect cancelled: %w", ctx.Err())
		}
	}
}

func (u *MQTTUplink) Name() string { return "mqtt" }

// Forward publishes line on <topic>/<kind>.
func (u *MQTTUplink) Forward(ctx context.Context, kind string, line []byte) error {
	if !u.client.IsConnectionOpen() {
		return fmt.Errorf("MQTT not connected")
	}
	token := u.client.Publish(TopicFor(u.opts.Topic, kind), u.opts.QoS, false, line)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *MQTTUplink) Close() {
	if u.client.IsConnected() {
		u.client.Disconnect(250)
		u.logger.Infof("Disconnected from MQTT broker")
	}
}

// TopicFor joins a base topic and a line kind.
func TopicFor(base, kind string) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	if base == "" {
		return kind
	}
	return base + "/" + kind
}
