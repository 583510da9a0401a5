//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/models"
	"auction-engine/internal/repository/postgres"
	"auction-engine/internal/repository/postgres/testhelper"
)

func seedAuction(t *testing.T, store *postgres.Store, id string) models.Auction {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	a := models.Auction{
		AuctionID:     id,
		AdID:          "ad-" + id,
		StartingPrice: decimal.RequireFromString("100"),
		CurrentPrice:  decimal.RequireFromString("100"),
		BidIncrement:  decimal.RequireFromString("5"),
		StartTime:     now.Add(-time.Minute),
		EndTime:       now.Add(time.Hour),
		Status:        models.AuctionActive,
		Version:       1,
		CreatedAt:     now,
	}
	require.NoError(t, store.CreateAuction(context.Background(), a))
	return a
}

func TestStore_ConcurrentBidsOneWinnerPerVersion(t *testing.T) {
	store := postgres.New(testhelper.SetupTestDB(t))
	seedAuction(t, store, "auction-race")

	const bidders = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := decimal.NewFromInt(int64(105 + i))
			bidID := fmt.Sprintf("bid-%d", i)
			bidder := fmt.Sprintf("user-%d", i)
			_, err := store.CompareAndUpdate(context.Background(), "auction-race", 1, models.AuctionChanges{
				CurrentPrice: &amount,
				HighBidID:    &bidID,
				HighBidderID: &bidder,
				Bid:          &models.Bid{BidID: bidID, BidderID: bidder, Amount: amount, SubmittedAt: time.Now().UTC()},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, biddingerrors.ErrVersionConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, bidders-1, conflicts)

	bids, err := store.GetBidsByAuction(context.Background(), "auction-race")
	require.NoError(t, err)
	require.Len(t, bids, 1)
	require.Equal(t, int64(2), bids[0].Sequence)

	a, err := store.GetAuction(context.Background(), "auction-race")
	require.NoError(t, err)
	require.Equal(t, int64(2), a.Version)
	require.Equal(t, 1, a.BidCount)
	require.True(t, a.CurrentPrice.Equal(bids[0].Amount))
}

func TestStore_SettlementRecordsAreCreatedOnce(t *testing.T) {
	ctx := context.Background()
	store := postgres.New(testhelper.SetupTestDB(t))
	seedAuction(t, store, "auction-settle")

	amount := decimal.RequireFromString("150")
	bidID, bidder := "bid-win", "user-a"
	_, err := store.CompareAndUpdate(ctx, "auction-settle", 1, models.AuctionChanges{
		CurrentPrice: &amount, HighBidID: &bidID, HighBidderID: &bidder,
		Bid: &models.Bid{BidID: bidID, BidderID: bidder, Amount: amount, SubmittedAt: time.Now().UTC()},
	})
	require.NoError(t, err)

	winner := models.AuctionWinner{WinnerID: "w-1", AuctionID: "auction-settle", BidderID: bidder, WinningBidID: bidID, Amount: amount}
	_, created, err := store.CreateWinner(ctx, winner)
	require.NoError(t, err)
	require.True(t, created)

	winner.WinnerID = "w-2"
	got, created, err := store.CreateWinner(ctx, winner)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "w-1", got.WinnerID)

	payment := models.Payment{PaymentID: "p-1", AuctionID: "auction-settle", UserID: bidder, Amount: amount, Currency: "EUR"}
	_, created, err = store.CreatePayment(ctx, payment)
	require.NoError(t, err)
	require.True(t, created)

	pending, err := store.ListUnsubmittedPayments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	paidAt := time.Now().UTC().Truncate(time.Microsecond)
	first, err := store.MarkWinnerPaid(ctx, "auction-settle", paidAt)
	require.NoError(t, err)
	second, err := store.MarkWinnerPaid(ctx, "auction-settle", paidAt.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, first.PaidAt.Equal(*second.PaidAt))
}

func TestStore_NotificationDedup(t *testing.T) {
	ctx := context.Background()
	store := postgres.New(testhelper.SetupTestDB(t))

	key := models.NotificationDedupKey("user-a", models.NotificationOutbid, "auction-1", "bid-2")
	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveNotification(ctx, models.Notification{
			NotificationID: fmt.Sprintf("n-%d", i),
			UserID:         "user-a",
			Type:           models.NotificationOutbid,
			Message:        "You have been outbid",
			DedupKey:       key,
		}))
	}

	list, err := store.ListNotificationsByUser(ctx, "user-a", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	read, err := store.MarkNotificationRead(ctx, list[0].NotificationID, "user-a")
	require.NoError(t, err)
	require.True(t, read.IsRead)

	_, err = store.MarkNotificationRead(ctx, list[0].NotificationID, "user-b")
	require.ErrorIs(t, err, biddingerrors.ErrNotificationNotFound)
}
