package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/internal/settlement"
	"auction-engine/utils"
)

// Settler resolves the winner of a closed auction. Close must be idempotent.
type Settler interface {
	Close(ctx context.Context, auctionID string) (settlement.Outcome, error)
}

// Options tunes the scheduler.
type Options struct {
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
}

// Report summarizes one reconciliation pass.
type Report struct {
	Activated int
	Closed    int
	Settled   int
	Failed    int
}

// Scheduler is the periodic reconciliation pass over due auctions. Every step
// is a conditional update, so several schedulers may run against one store.
type Scheduler struct {
	repo    repository.AuctionDB
	settler Settler
	opts    Options
}

// NewScheduler creates a new Scheduler.
func NewScheduler(repo repository.AuctionDB, settler Settler, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{repo: repo, settler: settler, opts: opts}
}

// Run ticks every interval until ctx is done. Tick failures are logged and
// retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	utils.Info("Lifecycle scheduler started", map[string]any{"interval": s.opts.Interval.String()})
	for {
		select {
		case <-ctx.Done():
			utils.Info("Lifecycle scheduler stopped", nil)
			return nil
		case <-ticker.C:
			report, err := s.Tick(ctx, s.opts.Now())
			if err != nil {
				utils.Error("Lifecycle tick failed", map[string]any{"error": err.Error()})
				continue
			}
			if report != (Report{}) {
				utils.Info("Lifecycle tick", map[string]any{
					"activated": report.Activated,
					"closed":    report.Closed,
					"settled":   report.Settled,
					"failed":    report.Failed,
				})
			}
		}
	}
}

// Tick performs every transition due at now: pending auctions past their
// start are activated, active auctions past their end are closed and settled,
// and closed auctions whose settlement failed earlier are settled again.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (Report, error) {
	var report Report

	due, err := s.repo.ListDueAuctions(ctx, now, s.opts.BatchSize)
	if err != nil {
		return report, fmt.Errorf("lifecycle: list due auctions: %w", err)
	}

	for _, a := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		s.reconcile(ctx, a, now, &report)
	}
	return report, nil
}

func (s *Scheduler) reconcile(ctx context.Context, a models.Auction, now time.Time, report *Report) {
	var err error

	if a.Status == models.AuctionPending && !now.Before(a.StartTime) {
		if a, err = s.step(ctx, a, models.AuctionActive); err != nil {
			s.fail(report, a, "activate", err)
			return
		}
		report.Activated++
	}

	if a.Status == models.AuctionActive && !now.Before(a.EndTime) {
		if a, err = s.step(ctx, a, models.AuctionClosed); err != nil {
			s.fail(report, a, "close", err)
			return
		}
		report.Closed++
	}

	if a.Status == models.AuctionClosed && !a.Settled {
		if err := s.settle(ctx, a); err != nil {
			s.fail(report, a, "settle", err)
			return
		}
		report.Settled++
	}
}

func (s *Scheduler) step(ctx context.Context, a models.Auction, to models.AuctionStatus) (models.Auction, error) {
	updated, err := Transition(ctx, s.repo, a, to)
	if err != nil {
		return updated, err
	}
	utils.Info("Auction transitioned", map[string]any{
		"auction_id": a.AuctionID,
		"from":       a.Status,
		"to":         to,
	})
	return updated, nil
}

// settle runs the resolver and then flags the auction. A resolver failure
// leaves the auction closed and unsettled for the next tick.
func (s *Scheduler) settle(ctx context.Context, a models.Auction) error {
	outcome, err := s.settler.Close(ctx, a.AuctionID)
	if err != nil {
		return err
	}
	if _, err := markSettled(ctx, s.repo, a); err != nil {
		return err
	}

	fields := map[string]any{"auction_id": a.AuctionID}
	if outcome.Winner != nil {
		fields["winner_id"] = outcome.Winner.BidderID
		fields["amount"] = outcome.Winner.Amount.StringFixed(models.MoneyScale)
	}
	utils.Info("Auction settled", fields)
	return nil
}

func (s *Scheduler) fail(report *Report, a models.Auction, step string, err error) {
	// lost a race to a cancellation or another scheduler
	if errors.Is(err, biddingerrors.ErrInvalidTransition) {
		utils.Debug("Lifecycle step skipped", map[string]any{
			"auction_id": a.AuctionID,
			"step":       step,
			"reason":     err.Error(),
		})
		return
	}
	report.Failed++
	utils.Warn("Lifecycle step failed", map[string]any{
		"auction_id": a.AuctionID,
		"step":       step,
		"error":      err.Error(),
	})
}
