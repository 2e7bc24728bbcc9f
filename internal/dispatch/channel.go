// Package dispatch provides the in-process queues that connect the router to
// its consumers. A Channel is a multi-producer, multi-consumer FIFO that is
// either unbounded or bounded with a configurable full-mode policy.
package dispatch

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by sends after Close and by receives once a
	// closed channel has been drained.
	ErrClosed = errors.New("dispatch: channel closed")
	// ErrFull is returned by Send on a full DropWrite channel
	ErrFull = errors.New("dispatch: channel full")
	// ErrEmpty is returned by TryReceive when nothing is buffered
	ErrEmpty = errors.New("dispatch: channel empty")
)

// FullMode decides what a bounded channel does with a send when it is full
type FullMode int

const (
	// Wait blocks the producer until space frees up
	Wait FullMode = iota
	// DropWrite refuses the incoming item without blocking
	DropWrite
)

func (m FullMode) String() string {
	if m == DropWrite {
		return "drop_write"
	}
	return "wait"
}

// Options configures a Channel
type Options struct {
	Name     string
	Capacity int // 0 means unbounded
	FullMode FullMode
}

// DefaultCapacity is the recommended bound for the durable channel
const DefaultCapacity = 20000

// Producer is the sending side of a Channel
type Producer[T any] interface {
	Send(ctx context.Context, v T) error
	TrySend(v T) bool
	Close()
}

// Consumer is the receiving side of a Channel
type Consumer[T any] interface {
	Receive(ctx context.Context) (T, error)
	TryReceive() (T, error)
	Ready() <-chan struct{}
	Len() int
}

// closedSignal is handed out by Ready when no waiting is needed
var closedSignal = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Channel is a FIFO queue safe for concurrent producers and consumers
type Channel[T any] struct {
	opts Options

	mu     sync.Mutex
	items  []T
	head   int
	closed bool

	// Lazily created broadcast signals, closed and cleared when the
	// condition they wait on may have changed.
	added   chan struct{}
	removed chan struct{}
}

// New creates a channel with the given options
func New[T any](opts Options) *Channel[T] {
	if opts.Capacity < 0 {
		opts.Capacity = 0
	}
	initial := opts.Capacity
	if initial == 0 || initial > 1024 {
		initial = 1024
	}
	return &Channel[T]{
		opts:  opts,
		items: make([]T, 0, initial),
	}
}

// Name returns the channel name used in logs and metrics
func (c *Channel[T]) Name() string { return c.opts.Name }

// Cap returns the bound, or 0 when unbounded
func (c *Channel[T]) Cap() int { return c.opts.Capacity }

// Len returns the number of buffered items
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items) - c.head
}

// Send enqueues v. On a full Wait channel it blocks until space frees up,
// the channel is closed, or ctx is done; in the last two cases v is not
// enqueued. On a full DropWrite channel it returns ErrFull immediately.
func (c *Channel[T]) Send(ctx context.Context, v T) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		if !c.fullLocked() {
			c.pushLocked(v)
			c.mu.Unlock()
			return nil
		}
		if c.opts.FullMode == DropWrite {
			c.mu.Unlock()
			return ErrFull
		}
		if c.removed == nil {
			c.removed = make(chan struct{})
		}
		wait := c.removed
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TrySend enqueues v only if that can be done without blocking
func (c *Channel[T]) TrySend(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.fullLocked() {
		return false
	}
	c.pushLocked(v)
	return true
}

// Receive returns the oldest item, waiting until one is available. Once the
// channel is closed and drained it returns ErrClosed.
func (c *Channel[T]) Receive(ctx context.Context) (T, error) {
	for {
		v, err := c.TryReceive()
		if !errors.Is(err, ErrEmpty) {
			return v, err
		}
		select {
		case <-c.Ready():
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryReceive returns the oldest item without waiting
func (c *Channel[T]) TryReceive() (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if c.head == len(c.items) {
		if c.closed {
			return zero, ErrClosed
		}
		return zero, ErrEmpty
	}

	v := c.items[c.head]
	c.items[c.head] = zero
	c.head++
	if c.head == len(c.items) {
		// Reuse the backing array once drained
		c.items = c.items[:0]
		c.head = 0
	} else if c.head >= 1024 && c.head*2 >= len(c.items) {
		n := copy(c.items, c.items[c.head:])
		clear(c.items[n:])
		c.items = c.items[:n]
		c.head = 0
	}

	if c.removed != nil {
		close(c.removed)
		c.removed = nil
	}
	return v, nil
}

// Ready returns a channel that is closed once an item is available or the
// channel has been closed. Consumers select on it alongside timers and then
// call TryReceive, which may still report ErrEmpty if another consumer won.
func (c *Channel[T]) Ready() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.head < len(c.items) {
		return closedSignal
	}
	if c.added == nil {
		c.added = make(chan struct{})
	}
	return c.added
}

// Close stops further sends. Buffered items remain available to receivers.
// Calling Close more than once has no further effect.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.added != nil {
		close(c.added)
		c.added = nil
	}
	if c.removed != nil {
		close(c.removed)
		c.removed = nil
	}
}

// Closed reports whether Close has been called
func (c *Channel[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel[T]) fullLocked() bool {
	return c.opts.Capacity > 0 && len(c.items)-c.head >= c.opts.Capacity
}

func (c *Channel[T]) pushLocked(v T) {
	c.items = append(c.items, v)
	if c.added != nil {
		close(c.added)
		c.added = nil
	}
}
