package messaging

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"telemetry-unit/internal/dispatch"
	"telemetry-unit/internal/logger"
	"telemetry-unit/internal/types"
)

// Sink receives diagnostic lines from the consumer.
type Sink interface {
	Name() string
	Forward(ctx context.Context, kind string, line []byte) error
}

// LineKind names the diagnostic line format from its prefix.
func LineKind(line []byte) string {
	switch {
	case bytes.HasPrefix(line, []byte("AD,BAT=")):
		return "battery"
	case bytes.HasPrefix(line, []byte("TEMP,IGN=")):
		return "temperature"
	case bytes.HasPrefix(line, []byte("SW=")):
		return "version"
	case bytes.HasPrefix(line, []byte("SLEEP=")):
		return "sleep"
	default:
		return "unknown"
	}
}

// ConsumerStats counts messages seen by the consumer.
type ConsumerStats struct {
	Forwarded uint64
	Ignored   uint64
	Failed    uint64
}

// Consumer is the companion communications unit. It drains the channel and
// forwards every diagnostic line addressed to it to its sinks.
type Consumer struct {
	in      *Channel
	sinks   []Sink
	logger  *logger.Logger
	table   *dispatch.Table
	timeout time.Duration
	ctx     context.Context
	mu      sync.Mutex
	state   types.StateID
	stats   ConsumerStats
}

func NewConsumer(in *Channel, sinks []Sink, l *logger.Logger) (*Consumer, error) {
	if l == nil {
		l = logger.NewLogger(nil, logger.LogLevelNone)
	}
	c := &Consumer{
		in:      in,
		sinks:   sinks,
		logger:  l,
		timeout: 2 * time.Second,
		ctx:     context.Background(),
		state:   types.ConsumerIdle,
	}

	table, err := dispatch.NewTable(
		dispatch.Rule{Event: types.EvDiagnostic, Action: dispatch.ActionFunc(c.forward), OnSuccess: types.ConsumerForwarding, OnFailure: types.ConsumerIdle},
		dispatch.Rule{Event: types.EventAny, Action: dispatch.ActionFunc(c.ignore), OnSuccess: types.ConsumerIdle, OnFailure: types.ConsumerIdle},
	)
	if err != nil {
		return nil, fmt.Errorf("consumer rule table: %w", err)
	}
	c.table = table
	return c, nil
}

func (c *Consumer) Table() *dispatch.Table { return c.table }

func (c *Consumer) State() types.StateID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Consumer) Stats() ConsumerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Run receives until ctx is done or the channel is closed and empty.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Infof("Consumer started with %d sink(s)", len(c.sinks))
	for {
		msg, ok := c.in.Receive(ctx)
		if !ok {
			if ctx.Err() != nil {
				c.logger.Infof("Consumer cancelled")
			} else {
				c.logger.Infof("Channel closed, consumer stopping")
			}
			return nil
		}
		c.Handle(ctx, msg)
		c.in.Done()
	}
}

// Handle runs one message through the consumer's rule table.
func (c *Consumer) Handle(ctx context.Context, msg types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ctx = ctx
	if !dispatch.Dispatch(c.table, types.ComponentBLE, &c.state, msg) {
		c.stats.Ignored++
		c.logger.Debugf("Ignoring %s message for %s", msg.Event, msg.Destination)
	}
}

// Drained reports whether nothing is queued or being forwarded.
func (c *Consumer) Drained() bool {
	return c.in.Pending() <= 0
}

// WaitDrained polls until Drained or ctx is done.
func (c *Consumer) WaitDrained(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.Drained() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// forward runs under c.mu. It fails when no sink accepted the line.
func (c *Consumer) forward(msg types.Message) bool {
	line := bytes.TrimRight(msg.Payload, "\r\n")
	kind := LineKind(line)

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	delivered := len(c.sinks) == 0
	for _, s := range c.sinks {
		if err := s.Forward(ctx, kind, line); err != nil {
			c.logger.Warnf("Forwarding %s line to %s failed: %v", kind, s.Name(), err)
			continue
		}
		delivered = true
	}
	if delivered {
		c.stats.Forwarded++
	} else {
		c.stats.Failed++
	}
	return delivered
}

func (c *Consumer) ignore(msg types.Message) bool {
	c.stats.Ignored++
	c.logger.Debugf("No rule for %s from %s", msg.Event, msg.Source)
	return true
}

// LogSink writes forwarded lines to the logger at debug level.
type LogSink struct {
	Logger *logger.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Forward(_ context.Context, kind string, line []byte) error {
	s.Logger.Debugf("%s: %s", kind, line)
	return nil
}
