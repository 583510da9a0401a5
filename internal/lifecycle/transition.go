// Package lifecycle moves auctions through pending, active, closed and cancelled.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/models"
	"auction-engine/internal/repository"
)

// maxTransitionAttempts bounds re-reads when bids keep bumping the version.
const maxTransitionAttempts = 5

// Transition moves the auction to status `to` with a version-guarded update.
// current is the caller's snapshot; on a version conflict the auction is
// re-read and the transition re-validated against the fresh status, so a
// concurrent tick or cancellation can never apply the same step twice.
func Transition(ctx context.Context, repo repository.AuctionDB, current models.Auction, to models.AuctionStatus) (models.Auction, error) {
	for attempt := 1; ; attempt++ {
		if !current.Status.CanTransitionTo(to) {
			return current, fmt.Errorf("lifecycle: auction %s %s -> %s: %w",
				current.AuctionID, current.Status, to, biddingerrors.ErrInvalidTransition)
		}

		updated, err := repo.CompareAndUpdate(ctx, current.AuctionID, current.Version, models.AuctionChanges{Status: &to})
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, biddingerrors.ErrVersionConflict) || attempt >= maxTransitionAttempts {
			return current, fmt.Errorf("lifecycle: auction %s -> %s: %w", current.AuctionID, to, err)
		}

		current, err = repo.GetAuction(ctx, current.AuctionID)
		if err != nil {
			return models.Auction{}, fmt.Errorf("lifecycle: reload auction: %w", err)
		}
	}
}

// markSettled flags a closed auction as settled, re-reading on version conflicts.
func markSettled(ctx context.Context, repo repository.AuctionDB, current models.Auction) (models.Auction, error) {
	settled := true
	for attempt := 1; ; attempt++ {
		if current.Settled {
			return current, nil
		}
		updated, err := repo.CompareAndUpdate(ctx, current.AuctionID, current.Version, models.AuctionChanges{Settled: &settled})
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, biddingerrors.ErrVersionConflict) || attempt >= maxTransitionAttempts {
			return current, fmt.Errorf("lifecycle: mark auction %s settled: %w", current.AuctionID, err)
		}
		if current, err = repo.GetAuction(ctx, current.AuctionID); err != nil {
			return models.Auction{}, fmt.Errorf("lifecycle: reload auction: %w", err)
		}
	}
}
