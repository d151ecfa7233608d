package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"telemetry-unit/internal/logger"
	"telemetry-unit/internal/types"

	"github.com/redis/go-redis/v9"
)

const (
	telemetryHash    = "telemetry"
	telemetryChannel = "telemetry"
	faultSet         = "telemetry:fault"
	faultStream      = "events:faults"
)

// Fault codes reported to the shared fault set.
const (
	FaultUnderVoltage = 40
	FaultSensor       = 41
)

type RedisClient struct {
	client *redis.Client
	logger *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRedisClient(host string, port int, l *logger.Logger) *RedisClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisClient{
		client: redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%d", host, port),
			DB:   0,
		}),
		logger: l,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *RedisClient) Connect() error {
	r.logger.Infof("Attempting to connect to Redis at %s", r.client.Options().Addr)

	if err := r.client.Ping(r.ctx).Err(); err != nil {
		r.logger.Infof("Redis connection failed: %v", err)
		return fmt.Errorf("Redis connection failed: %w", err)
	}
	r.logger.Infof("Successfully connected to Redis")
	return nil
}

func (r *RedisClient) Name() string { return "redis" }

// Forward stores the latest line of each kind in the telemetry hash and
// notifies subscribers with the kind.
func (r *RedisClient) Forward(ctx context.Context, kind string, line []byte) error {
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, telemetryHash, kind, string(line))
	pipe.HSet(ctx, telemetryHash, kind+":timestamp", time.Now().Format(time.RFC3339))
	pipe.Publish(ctx, telemetryChannel, kind)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisClient) PublishUnitState(state types.UnitState, wakeID string) error {
	r.logger.Infof("Publishing unit state: %s", state)
	timestamp := time.Now().Format(time.RFC3339)

	// Atomically set state, timestamp and wake period
	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, telemetryHash, "state", string(state))
	pipe.HSet(r.ctx, telemetryHash, "state:timestamp", timestamp)
	pipe.HSet(r.ctx, telemetryHash, "wake:id", wakeID)
	pipe.Publish(r.ctx, telemetryChannel, "state")
	_, err := pipe.Exec(r.ctx)

	if err != nil {
		r.logger.Warnf("Failed to publish unit state: %v", err)
		return err
	}
	r.logger.Debugf("Successfully published unit state with timestamp: %s", timestamp)
	return nil
}

// ReportFaultPresent reports a fault as present to Redis
func (r *RedisClient) ReportFaultPresent(code int, description string) error {
	r.logger.Infof("Reporting fault present: code=%d, description=%s", code, description)

	pipe := r.client.Pipeline()
	pipe.SAdd(r.ctx, faultSet, code)
	pipe.XAdd(r.ctx, &redis.XAddArgs{
		Stream: faultStream,
		MaxLen: 1000,
		Values: map[string]interface{}{
			"group":       telemetryHash,
			"code":        code,
			"description": description,
			"ts":          time.Now().UnixMilli(),
		},
	})
	pipe.Publish(r.ctx, telemetryChannel, "fault")

	if _, err := pipe.Exec(r.ctx); err != nil {
		r.logger.Infof("Failed to report fault present: %v", err)
		return err
	}
	return nil
}

// ReportFaultAbsent reports a fault as cleared; the stream entry carries the
// negated code.
func (r *RedisClient) ReportFaultAbsent(code int) error {
	r.logger.Infof("Reporting fault absent: code=%d", code)

	pipe := r.client.Pipeline()
	pipe.SRem(r.ctx, faultSet, code)
	pipe.XAdd(r.ctx, &redis.XAddArgs{
		Stream: faultStream,
		MaxLen: 1000,
		Values: map[string]interface{}{
			"group": telemetryHash,
			"code":  -code,
		},
	})
	pipe.Publish(r.ctx, telemetryChannel, "fault")

	if _, err := pipe.Exec(r.ctx); err != nil {
		r.logger.Infof("Failed to report fault absent: %v", err)
		return err
	}
	return nil
}

// GetHashField reads a field from a Redis hash using HGET. A missing field
// is returned as "".
func (r *RedisClient) GetHashField(hash, field string) (string, error) {
	value, err := r.client.HGet(r.ctx, hash, field).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get hash field %s from %s: %w", field, hash, err)
	}
	return strings.TrimSpace(value), nil
}

func (r *RedisClient) Close() error {
	r.logger.Infof("Closing Redis client")
	r.cancel()
	return r.client.Close()
}
