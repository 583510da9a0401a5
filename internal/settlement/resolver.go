// Package settlement determines the winner of a closed auction, records it
// exactly once and drives payment capture for the winning amount.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/models"
	"auction-engine/internal/payment"
	"auction-engine/internal/repository"
	"auction-engine/utils"
)

// Notifier enqueues user notifications without blocking.
type Notifier interface {
	Emit(userID string, typ models.NotificationType, ref models.NotificationRef)
}

// Options tunes capture submission and the retry sweep.
type Options struct {
	Currency       string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RetryInterval  time.Duration
	MaxSweeps      int
	SweepBatch     int
	Now            func() time.Time
}

// Outcome is the result of Close. Winner is nil when the auction had no bids.
type Outcome struct {
	Winner  *models.AuctionWinner
	Created bool
}

// Resolver settles closed auctions.
type Resolver struct {
	auctions repository.AuctionDB
	payments repository.PaymentStore
	gateway  payment.Gateway
	notifier Notifier
	opts     Options

	// mu serializes read-modify-write of payment records between the
	// submitter and the gateway callback.
	mu       sync.Mutex
	inflight map[string]struct{}
	submits  sync.WaitGroup
}

// NewResolver creates a new Resolver.
func NewResolver(auctions repository.AuctionDB, payments repository.PaymentStore, gateway payment.Gateway, notifier Notifier, opts Options) *Resolver {
	if opts.Currency == "" {
		opts.Currency = "EUR"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 30 * time.Second
	}
	if opts.MaxSweeps <= 0 {
		opts.MaxSweeps = 10
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 100
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Resolver{
		auctions: auctions,
		payments: payments,
		gateway:  gateway,
		notifier: notifier,
		opts:     opts,
		inflight: make(map[string]struct{}),
	}
}

// Close records the winner of a closed auction and requests payment capture.
// Calling it again for the same auction returns the same winner and creates
// nothing new. An auction without bids closes with no winner and no payment.
func (r *Resolver) Close(ctx context.Context, auctionID string) (Outcome, error) {
	auction, err := r.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("settlement: load auction: %w", err)
	}
	if auction.Status != models.AuctionClosed {
		return Outcome{}, fmt.Errorf("settlement: auction %s is %s: %w", auctionID, auction.Status, biddingerrors.ErrAuctionNotClosed)
	}

	highest, err := r.auctions.GetHighestBid(ctx, auctionID)
	if errors.Is(err, biddingerrors.ErrNoBids) {
		utils.Info("Auction closed without bids", map[string]any{"auction_id": auctionID})
		return Outcome{}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("settlement: highest bid: %w", err)
	}

	winner, winnerCreated, err := r.auctions.CreateWinner(ctx, models.AuctionWinner{
		WinnerID:     utils.GenerateID(),
		AuctionID:    auctionID,
		BidderID:     highest.BidderID,
		WinningBidID: highest.BidID,
		Amount:       highest.Amount,
		CreatedAt:    r.opts.Now(),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("settlement: create winner: %w", err)
	}

	pay, paymentCreated, err := r.payments.CreatePayment(ctx, models.Payment{
		PaymentID: utils.GenerateID(),
		AuctionID: auctionID,
		UserID:    winner.BidderID,
		Amount:    winner.Amount,
		Currency:  r.opts.Currency,
		Status:    models.PaymentPending,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("settlement: create payment: %w", err)
	}

	if winnerCreated || paymentCreated {
		r.notifier.Emit(winner.BidderID, models.NotificationWon, models.NotificationRef{
			AuctionID: auctionID,
			BidID:     winner.WinningBidID,
			Amount:    winner.Amount,
		})
	}
	if paymentCreated {
		r.submitAsync(pay)
	}

	if winnerCreated {
		utils.Info("Winner recorded", map[string]any{
			"auction_id": auctionID,
			"bidder_id":  winner.BidderID,
			"bid_id":     winner.WinningBidID,
			"amount":     winner.Amount.StringFixed(models.MoneyScale),
		})
	}
	return Outcome{Winner: &winner, Created: winnerCreated}, nil
}

// HandleCaptureResult applies a gateway callback. Results for payments that
// already left the pending state are ignored.
func (r *Resolver) HandleCaptureResult(ctx context.Context, result payment.CaptureResult) error {
	if !result.Outcome.Valid() {
		return fmt.Errorf("settlement: outcome %q: %w", result.Outcome, biddingerrors.ErrUnknownOutcome)
	}
	auctionID := result.IdempotencyKey

	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.payments.GetPaymentByAuction(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("settlement: capture result: %w", err)
	}
	if p.Status != models.PaymentPending {
		utils.Debug("Ignoring repeated capture result", map[string]any{
			"auction_id": auctionID,
			"status":     p.Status,
			"outcome":    result.Outcome,
		})
		return nil
	}

	now := r.opts.Now()
	if p.SubmittedAt == nil {
		p.SubmittedAt = &now
	}
	if result.ProviderRef != "" {
		p.ProviderRef = result.ProviderRef
	}

	typ := models.NotificationPaymentSettled
	switch result.Outcome {
	case payment.OutcomeCaptured:
		// the winner is marked first so a failure here leaves the payment
		// pending and the repeated callback can finish the job
		if _, err := r.auctions.MarkWinnerPaid(ctx, auctionID, now); err != nil {
			return fmt.Errorf("settlement: mark winner paid: %w", err)
		}
		p.Status = models.PaymentCompleted
		p.LastError = ""
	case payment.OutcomeDeclined:
		p.Status = models.PaymentFailed
		p.LastError = result.Reason
		typ = models.NotificationPaymentFailed
	}

	if err := r.payments.UpdatePayment(ctx, p); err != nil {
		return fmt.Errorf("settlement: update payment: %w", err)
	}

	r.notifier.Emit(p.UserID, typ, models.NotificationRef{AuctionID: auctionID, Amount: p.Amount})
	utils.Info("Capture result applied", map[string]any{
		"auction_id":   auctionID,
		"outcome":      result.Outcome,
		"provider_ref": p.ProviderRef,
	})
	return nil
}

// RetryUnsubmitted resubmits payments the gateway never acknowledged. A
// payment that exhausted MaxSweeps rounds of attempts is marked failed.
// It returns the number of payments acknowledged in this pass.
func (r *Resolver) RetryUnsubmitted(ctx context.Context) (int, error) {
	pending, err := r.payments.ListUnsubmittedPayments(ctx, r.opts.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("settlement: list unsubmitted payments: %w", err)
	}

	submitted := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return submitted, ctx.Err()
		}
		if !r.claim(p.AuctionID) {
			continue
		}

		if p.Attempts >= r.opts.MaxAttempts*r.opts.MaxSweeps {
			r.giveUp(ctx, p)
			r.release(p.AuctionID)
			continue
		}
		if r.submit(ctx, p) {
			submitted++
		}
		r.release(p.AuctionID)
	}
	return submitted, nil
}

// RunRetries sweeps unsubmitted payments every RetryInterval until ctx is done,
// then waits for in-flight submissions.
func (r *Resolver) RunRetries(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Wait()
			return nil
		case <-ticker.C:
			n, err := r.RetryUnsubmitted(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				utils.Error("Payment retry sweep failed", map[string]any{"error": err.Error()})
				continue
			}
			if n > 0 {
				utils.Info("Payment retry sweep", map[string]any{"submitted": n})
			}
		}
	}
}

// Wait blocks until asynchronous capture submissions have finished.
func (r *Resolver) Wait() {
	r.submits.Wait()
}

// Drain waits for in-flight submissions and then for the gateway callbacks
// those submissions started. Submissions must finish first or a late capture
// would register a callback nobody waits for.
func (r *Resolver) Drain() {
	r.Wait()
	if w, ok := r.gateway.(interface{ Wait() }); ok {
		w.Wait()
	}
}

func (r *Resolver) submitAsync(p models.Payment) {
	if !r.claim(p.AuctionID) {
		return
	}
	r.submits.Add(1)
	go func() {
		defer r.submits.Done()
		defer r.release(p.AuctionID)
		r.submit(context.Background(), p)
	}()
}

// submit calls the gateway with bounded exponential backoff and records the
// acknowledgement. It reports whether the gateway accepted the capture.
func (r *Resolver) submit(ctx context.Context, p models.Payment) bool {
	req := payment.CaptureRequest{
		UserID:         p.UserID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		IdempotencyKey: p.IdempotencyKey(),
	}
	if err := req.Validate(); err != nil {
		r.recordAttempts(ctx, p.AuctionID, 0, fmt.Errorf("%w: %v", biddingerrors.ErrCaptureRejected, err), "")
		return false
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialBackoff
	b.MaxInterval = r.opts.MaxBackoff
	b.MaxElapsedTime = 0

	attempts := 0
	var ref string
	err := backoff.Retry(func() error {
		attempts++
		var err error
		ref, err = r.gateway.Capture(ctx, req)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.opts.MaxAttempts-1)), ctx))

	r.recordAttempts(ctx, p.AuctionID, attempts, err, ref)
	if err != nil {
		utils.Warn("Payment capture submission failed", map[string]any{
			"auction_id": p.AuctionID,
			"attempts":   attempts,
			"error":      err.Error(),
		})
		return false
	}
	utils.Info("Payment capture submitted", map[string]any{
		"auction_id":   p.AuctionID,
		"user_id":      p.UserID,
		"amount":       p.Amount.StringFixed(models.MoneyScale),
		"provider_ref": ref,
	})
	return true
}

func (r *Resolver) recordAttempts(ctx context.Context, auctionID string, attempts int, submitErr error, ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.payments.GetPaymentByAuction(ctx, auctionID)
	if err != nil {
		utils.Error("Failed to load payment", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}
	if p.Status != models.PaymentPending {
		// the callback already settled it
		return
	}

	p.Attempts += attempts
	if submitErr != nil {
		p.LastError = submitErr.Error()
		if attempts == 0 {
			// invalid request: nothing to retry
			p.Status = models.PaymentFailed
		}
	} else {
		now := r.opts.Now()
		p.SubmittedAt = &now
		p.ProviderRef = ref
		p.LastError = ""
	}
	if err := r.payments.UpdatePayment(ctx, p); err != nil {
		utils.Error("Failed to record payment attempt", map[string]any{"auction_id": auctionID, "error": err.Error()})
	}
}

func (r *Resolver) giveUp(ctx context.Context, p models.Payment) {
	r.mu.Lock()
	current, err := r.payments.GetPaymentByAuction(ctx, p.AuctionID)
	if err != nil || current.Status != models.PaymentPending {
		r.mu.Unlock()
		return
	}
	current.Status = models.PaymentFailed
	if current.LastError == "" {
		current.LastError = "capture retries exhausted"
	}
	err = r.payments.UpdatePayment(ctx, current)
	r.mu.Unlock()

	if err != nil {
		utils.Error("Failed to mark payment failed", map[string]any{"auction_id": p.AuctionID, "error": err.Error()})
		return
	}
	utils.Warn("Payment capture abandoned", map[string]any{
		"auction_id": p.AuctionID,
		"attempts":   current.Attempts,
		"last_error": current.LastError,
	})
	r.notifier.Emit(current.UserID, models.NotificationPaymentFailed, models.NotificationRef{
		AuctionID: current.AuctionID,
		Amount:    current.Amount,
	})
}

func (r *Resolver) claim(auctionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[auctionID]; busy {
		return false
	}
	r.inflight[auctionID] = struct{}{}
	return true
}

func (r *Resolver) release(auctionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, auctionID)
}
