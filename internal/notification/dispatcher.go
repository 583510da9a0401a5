// Package notification fans domain events out to the notification sink.
//
// Emit never fails and never blocks the caller: events are queued for a pool
// of workers which persist them with bounded exponential backoff. Delivery is
// at-least-once; the sink deduplicates by NotificationDedupKey.
package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"auction-engine/internal/models"
	"auction-engine/utils"
)

// Sink persists a notification. Implementations must tolerate duplicates.
type Sink interface {
	SaveNotification(ctx context.Context, notification models.Notification) error
}

// Options tunes the dispatcher.
type Options struct {
	QueueSize      int
	Workers        int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PersistTimeout time.Duration
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 100 * time.Millisecond
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = 5 * time.Second
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Dispatcher queues notifications and persists them in the background.
type Dispatcher struct {
	sink  Sink
	opts  Options
	queue chan models.Notification

	mu      sync.RWMutex
	closed  bool
	started bool
	workers sync.WaitGroup
	spill   sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Call Start (or Run) to begin delivery.
func NewDispatcher(sink Sink, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	return &Dispatcher{
		sink:  sink,
		opts:  opts,
		queue: make(chan models.Notification, opts.QueueSize),
	}
}

// Start launches the worker pool. It is safe to call more than once.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.opts.Workers; i++ {
		d.workers.Add(1)
		go d.work()
	}
}

// Run starts the workers and drains the queue once ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.Start()
	<-ctx.Done()
	d.Close()
	return nil
}

// Close stops accepting events and waits for queued ones to be persisted.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		for n := range d.queue {
			d.deliver(n)
		}
	}
	d.workers.Wait()
	d.spill.Wait()
}

// Emit builds a notification for userID and hands it to the workers.
func (d *Dispatcher) Emit(userID string, typ models.NotificationType, ref models.NotificationRef) {
	if userID == "" {
		return
	}
	n := models.Notification{
		NotificationID:   utils.GenerateSortableID(),
		UserID:           userID,
		Type:             typ,
		Message:          Message(typ, ref),
		RelatedAuctionID: ref.AuctionID,
		RelatedBidID:     ref.BidID,
		DedupKey:         models.NotificationDedupKey(userID, typ, ref.AuctionID, ref.BidID),
		CreatedAt:        d.opts.Now(),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		utils.Warn("Dropping notification after dispatcher shutdown", map[string]any{
			"user_id": userID,
			"type":    typ,
			"auction": ref.AuctionID,
		})
		return
	}

	select {
	case d.queue <- n:
	default:
		// queue full: persist off the caller's goroutine
		d.spill.Add(1)
		go func() {
			defer d.spill.Done()
			d.deliver(n)
		}()
	}
}

func (d *Dispatcher) work() {
	defer d.workers.Done()
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n models.Notification) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.InitialBackoff
	b.MaxInterval = d.opts.MaxBackoff
	b.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.PersistTimeout)
		defer cancel()
		return d.sink.SaveNotification(ctx, n)
	}, backoff.WithMaxRetries(b, uint64(d.opts.MaxRetries)))
	if err != nil {
		utils.Error("Failed to persist notification", map[string]any{
			"notification_id": n.NotificationID,
			"user_id":         n.UserID,
			"type":            n.Type,
			"attempts":        attempt,
			"error":           err.Error(),
		})
		return
	}
	utils.Debug("Notification persisted", map[string]any{
		"notification_id": n.NotificationID,
		"type":            n.Type,
		"attempts":        attempt,
	})
}

// Message renders the human-readable text for a notification.
func Message(typ models.NotificationType, ref models.NotificationRef) string {
	amount := ref.Amount.StringFixed(models.MoneyScale)
	switch typ {
	case models.NotificationBidPlaced:
		return fmt.Sprintf("Your bid of %s on auction %s was accepted", amount, ref.AuctionID)
	case models.NotificationOutbid:
		return fmt.Sprintf("You have been outbid on auction %s, the current price is %s", ref.AuctionID, amount)
	case models.NotificationWon:
		return fmt.Sprintf("You won auction %s with a bid of %s", ref.AuctionID, amount)
	case models.NotificationPaymentSettled:
		return fmt.Sprintf("Payment of %s for auction %s was captured", amount, ref.AuctionID)
	case models.NotificationPaymentFailed:
		return fmt.Sprintf("Payment of %s for auction %s failed", amount, ref.AuctionID)
	}
	return fmt.Sprintf("Update on auction %s", ref.AuctionID)
}
