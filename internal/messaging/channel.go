package messaging

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"telemetry-unit/internal/types"
)

// Channel is a bounded FIFO between units. Senders never block: when the
// queue is full the message is dropped.
type Channel struct {
	ch      chan types.Message
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	pending atomic.Int64
}

func NewChannel(size int) *Channel {
	if size < 1 {
		size = 1
	}
	return &Channel{ch: make(chan types.Message, size)}
}

// TrySend enqueues msg and reports whether it was accepted.
func (c *Channel) TrySend(msg types.Message) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.ch <- msg:
		c.pending.Inc()
		return true
	default:
		c.dropped.Inc()
		return false
	}
}

// Receive blocks until a message arrives, the channel is closed and empty,
// or ctx is done. ok is false in the last two cases.
func (c *Channel) Receive(ctx context.Context) (msg types.Message, ok bool) {
	select {
	case msg, ok = <-c.ch:
		return msg, ok
	case <-ctx.Done():
		return types.Message{}, false
	}
}

// Done marks one received message as fully handled.
func (c *Channel) Done() { c.pending.Dec() }

// Pending counts messages sent but not yet marked Done.
func (c *Channel) Pending() int64 { return c.pending.Load() }

func (c *Channel) Len() int { return len(c.ch) }

func (c *Channel) Cap() int { return cap(c.ch) }

func (c *Channel) Dropped() uint64 { return c.dropped.Load() }

// Close stops accepting messages. Queued messages can still be received.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}
