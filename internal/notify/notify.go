// Package notify decouples session events from notification delivery.
// Producers enqueue onto a bounded outbox; a single sender goroutine
// drains it, so a slow or dead chat transport can never stall the
// monitoring loop.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Notification is one message destined for the user.
type Notification struct {
	Title string
	Body  string
	Color int
	// TTL, when non-zero, asks the transport to delete the delivered
	// message after this long. Used for low-value notices such as
	// session starts.
	TTL time.Duration
}

// Sender delivers a single notification. Implementations are expected
// to do their own retries within the context deadline.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, n Notification) error

func (f SenderFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

// Default queue depth and per-delivery deadline.
const (
	defaultCapacity    = 64
	defaultSendTimeout = 30 * time.Second
)

// Outbox is a bounded notification queue with one delivery goroutine.
// Enqueue never blocks: when the queue is full the notification is
// dropped and logged.
type Outbox struct {
	sender      Sender
	queue       chan Notification
	sendTimeout time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Option configures an Outbox.
type Option func(*Outbox)

// WithCapacity overrides the queue depth.
func WithCapacity(n int) Option {
	return func(o *Outbox) {
		if n > 0 {
			o.queue = make(chan Notification, n)
		}
	}
}

// WithSendTimeout overrides the per-delivery deadline.
func WithSendTimeout(d time.Duration) Option {
	return func(o *Outbox) {
		if d > 0 {
			o.sendTimeout = d
		}
	}
}

// NewOutbox starts the delivery goroutine and returns the outbox.
func NewOutbox(sender Sender, opts ...Option) *Outbox {
	o := &Outbox{
		sender:      sender,
		queue:       make(chan Notification, defaultCapacity),
		sendTimeout: defaultSendTimeout,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	go o.run()
	return o
}

func (o *Outbox) run() {
	defer close(o.done)
	for n := range o.queue {
		ctx, cancel := context.WithTimeout(context.Background(), o.sendTimeout)
		if err := o.sender.Send(ctx, n); err != nil {
			slog.Warn("Notification delivery failed", "title", n.Title, "error", err)
		}
		cancel()
	}
}

// Enqueue queues a notification for delivery. Returns false when the
// notification was dropped because the queue is full or the outbox is
// already closed.
func (o *Outbox) Enqueue(n Notification) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		slog.Debug("Notification dropped, outbox closed", "title", n.Title)
		return false
	}
	select {
	case o.queue <- n:
		return true
	default:
		slog.Warn("Notification dropped, outbox full", "title", n.Title)
		return false
	}
}

// Close stops accepting notifications and waits for queued ones to be
// delivered (or fail) before returning.
func (o *Outbox) Close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()
	<-o.done
}
