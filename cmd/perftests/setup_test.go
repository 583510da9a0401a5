package perftests

import (
	"context"
	"fmt"
	"testing"
	"time"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/lifecycle"
	model "auction-engine/internal/models"
	"auction-engine/internal/notification"
	"auction-engine/internal/payment"
	"auction-engine/internal/repository"
	"auction-engine/internal/settlement"

	"github.com/shopspring/decimal"
)

// setupService creates the bidding service over an in-memory repository and
// seeds numAuctions active auctions named auction_0..auction_n-1.
func setupService(b *testing.B, numAuctions int, startingPrice int64) (*repository.MemoryRepo, *bidding.BiddingService, []string) {
	b.Helper()

	repo := repository.NewMemoryRepo()
	dispatcher := notification.NewDispatcher(repo, notification.Options{QueueSize: 8192})
	dispatcher.Start()
	b.Cleanup(dispatcher.Close)

	resolver := settlement.NewResolver(repo, repo, payment.NewSimulatedGateway(nil, 0), dispatcher, settlement.Options{})
	scheduler := lifecycle.NewScheduler(repo, resolver, lifecycle.Options{BatchSize: numAuctions})
	svc := bidding.NewBiddingService(repo, repo, dispatcher, bidding.Options{BidAttempts: 3})

	ctx := context.Background()
	ids := make([]string, 0, numAuctions)
	for i := 0; i < numAuctions; i++ {
		a, err := svc.CreateAuction(ctx, model.CreateAuctionInput{
			AdID:          fmt.Sprintf("ad_%d", i),
			StartingPrice: decimal.NewFromInt(startingPrice),
			BidIncrement:  decimal.NewFromInt(1),
			EndTime:       time.Now().Add(24 * time.Hour),
		})
		if err != nil {
			b.Fatalf("failed to create auction: %v", err)
		}
		ids = append(ids, a.AuctionID)
	}

	report, err := scheduler.Tick(ctx, time.Now())
	if err != nil {
		b.Fatalf("failed to activate auctions: %v", err)
	}
	if report.Activated != numAuctions {
		b.Fatalf("activated %d of %d auctions", report.Activated, numAuctions)
	}
	return repo, svc, ids
}
