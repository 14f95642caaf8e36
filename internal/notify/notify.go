// Package notify delivers borrow-request notifications to users. Delivery is
// fire-and-forget: callers enqueue and move on, and a failed delivery never
// affects the state change that triggered it.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TypeBorrowRequested = "borrow.requested"
	TypeBorrowApproved  = "borrow.approved"
	TypeBorrowRejected  = "borrow.rejected"
	TypeBorrowCancelled = "borrow.cancelled"
	TypeBorrowStarted   = "borrow.started"
	TypeBorrowReturned  = "borrow.returned"
	TypeBorrowOverdue   = "borrow.overdue"
)

type Event struct {
	Type        string    `json:"type"`
	RecipientID uuid.UUID `json:"recipient_id"`
	RequestID   uuid.UUID `json:"request_id"`
	ItemID      uuid.UUID `json:"item_id"`
	Message     string    `json:"message,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Sender interface {
	Send(ctx context.Context, ev Event) error
}

// Dispatcher queues events in memory and delivers them from a fixed set of
// worker goroutines.
type Dispatcher struct {
	sender      Sender
	logger      *slog.Logger
	queue       chan Event
	workers     int
	sendTimeout time.Duration
}

func NewDispatcher(sender Sender, logger *slog.Logger, queueSize, workers int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		sender:      sender,
		logger:      logger,
		queue:       make(chan Event, queueSize),
		workers:     workers,
		sendTimeout: 10 * time.Second,
	}
}

// Notify enqueues ev without blocking. It reports false when the queue is
// full and the event was dropped.
func (d *Dispatcher) Notify(ev Event) bool {
	select {
	case d.queue <- ev:
		return true
	default:
		d.logger.Warn("notification dropped, queue full",
			"type", ev.Type,
			"request_id", ev.RequestID,
			"recipient_id", ev.RecipientID,
		)
		return false
	}
}

// Run delivers queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}
	wg.Wait()
	if pending := len(d.queue); pending > 0 {
		d.logger.Warn("notification dispatcher stopped with pending events", "pending", pending)
	}
	return ctx.Err()
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	if err := d.sender.Send(sendCtx, ev); err != nil {
		d.logger.Error("notification delivery failed",
			"type", ev.Type,
			"request_id", ev.RequestID,
			"recipient_id", ev.RecipientID,
			"error", err,
		)
	}
}

// LogSender writes notifications to the log. It is the sender used when no
// webhook is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, ev Event) error {
	s.logger.Info("notification",
		"type", ev.Type,
		"recipient_id", ev.RecipientID,
		"request_id", ev.RequestID,
		"item_id", ev.ItemID,
		"message", ev.Message,
	)
	return nil
}
