package repository

import (
	"context"
	"time"

	"auction-engine/internal/models"
)

//go:generate mockgen -destination=mock_repository.go -package=repository auction-engine/internal/repository AuctionDB

// AuctionDB defines the auction, bid and winner storage interface.
// Every auction mutation goes through CompareAndUpdate, which bumps the version.
type AuctionDB interface {
	CreateAuction(ctx context.Context, auction models.Auction) error
	GetAuction(ctx context.Context, auctionID string) (models.Auction, error)
	ListAuctions(ctx context.Context, filter models.AuctionFilter) ([]models.Auction, error)
	// ListDueAuctions returns auctions whose status and times mandate lifecycle work at now:
	// pending past start, active past end, and closed but not yet settled.
	ListDueAuctions(ctx context.Context, now time.Time, limit int) ([]models.Auction, error)
	// CompareAndUpdate applies changes only if the stored version equals expectedVersion.
	// Returns biddingerrors.ErrVersionConflict otherwise.
	CompareAndUpdate(ctx context.Context, auctionID string, expectedVersion int64, changes models.AuctionChanges) (models.Auction, error)
	DeleteAuction(ctx context.Context, auctionID string) error

	GetBidsByAuction(ctx context.Context, auctionID string) ([]models.Bid, error)
	GetHighestBid(ctx context.Context, auctionID string) (models.Bid, error)
	GetAuctionsByBidder(ctx context.Context, bidderID string) ([]models.Auction, error)

	// CreateWinner inserts the winner once per auction. When a record already
	// exists it is returned with created=false.
	CreateWinner(ctx context.Context, winner models.AuctionWinner) (models.AuctionWinner, bool, error)
	GetWinner(ctx context.Context, auctionID string) (models.AuctionWinner, error)
	MarkWinnerPaid(ctx context.Context, auctionID string, paidAt time.Time) (models.AuctionWinner, error)
}

// PaymentStore persists capture requests, one per auction.
type PaymentStore interface {
	// CreatePayment inserts the payment once per auction. When a record already
	// exists it is returned with created=false.
	CreatePayment(ctx context.Context, payment models.Payment) (models.Payment, bool, error)
	GetPaymentByAuction(ctx context.Context, auctionID string) (models.Payment, error)
	UpdatePayment(ctx context.Context, payment models.Payment) error
	// ListUnsubmittedPayments returns pending payments the gateway never acknowledged.
	ListUnsubmittedPayments(ctx context.Context, limit int) ([]models.Payment, error)
}

// NotificationStore persists notifications, at most one per dedup key.
type NotificationStore interface {
	SaveNotification(ctx context.Context, notification models.Notification) error
	ListNotificationsByUser(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID string) (models.Notification, error)
}

// Store is the full persistence surface used by the engine.
type Store interface {
	AuctionDB
	PaymentStore
	NotificationStore
}
