// Package notify delivers post-transfer notifications. Delivery is
// best-effort and happens outside the transfer's consistency boundary: a
// failed notification never rolls back or fails a transfer.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notification is the payload handed to the sink after a transfer commits.
type Notification struct {
	RecipientEmail string
	RecipientName  string
	Amount         int64
	ToAccount      uuid.UUID
	TransactionID  uuid.UUID
}

// Sink performs one delivery attempt.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the log. Stand-in for an outbound email
// service; the transfer protocol only depends on the Sink contract.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(_ context.Context, n Notification) error {
	s.log.Info("transfer notification",
		zap.String("recipient", n.RecipientEmail),
		zap.String("name", n.RecipientName),
		zap.Int64("amount", n.Amount),
		zap.String("to_account", n.ToAccount.String()),
		zap.String("transaction_id", n.TransactionID.String()))
	return nil
}

// Dispatcher decouples delivery from the request path: Enqueue never
// blocks the caller beyond a buffered channel send, and failed attempts
// are retried with a fixed backoff before being dropped with a log line.
type Dispatcher struct {
	sink     Sink
	log      *zap.Logger
	queue    chan Notification
	done     chan struct{}
	attempts int
	backoff  time.Duration
}

func NewDispatcher(sink Sink, log *zap.Logger, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	d := &Dispatcher{
		sink:     sink,
		log:      log,
		queue:    make(chan Notification, buffer),
		done:     make(chan struct{}),
		attempts: 3,
		backoff:  500 * time.Millisecond,
	}
	go d.run()
	return d
}

// Enqueue hands a notification to the dispatcher. When the queue is full
// the notification is dropped and logged; the transfer is long committed
// by this point and must not be held up.
func (d *Dispatcher) Enqueue(n Notification) {
	select {
	case d.queue <- n:
	default:
		d.log.Warn("notification queue full, dropping",
			zap.String("transaction_id", n.TransactionID.String()))
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n Notification) {
	for attempt := 1; attempt <= d.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := d.sink.Notify(ctx, n)
		cancel()
		if err == nil {
			return
		}
		d.log.Warn("notification delivery failed",
			zap.String("transaction_id", n.TransactionID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < d.attempts {
			time.Sleep(d.backoff)
		}
	}
	d.log.Error("notification dropped after retries",
		zap.String("transaction_id", n.TransactionID.String()))
}

// Close drains the queue and stops the worker.
func (d *Dispatcher) Close() {
	close(d.queue)
	<-d.done
}
