package bidding

import (
	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/lifecycle"
	"auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/utils"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// defaultIncrement applies when an auction is created without one
var defaultIncrement = decimal.RequireFromString("1.00")

// Notifier enqueues user notifications without blocking
type Notifier interface {
	Emit(userID string, typ models.NotificationType, ref models.NotificationRef)
}

// Options configures bid admission
type Options struct {
	// AllowSelfOutbid lets the current high bidder raise their own bid
	AllowSelfOutbid bool
	// BidAttempts is how many compare-and-swap rounds a bid gets before
	// failing with ErrConcurrentBidConflict
	BidAttempts int
	Now         func() time.Time
}

// BiddingService admits bids and serves auction queries and admin actions
type BiddingService struct {
	repo          repository.AuctionDB
	notifications repository.NotificationStore
	notifier      Notifier
	opts          Options
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, notifications repository.NotificationStore, notifier Notifier, opts Options) *BiddingService {
	if opts.BidAttempts <= 0 {
		opts.BidAttempts = 2
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &BiddingService{
		repo:          repo,
		notifications: notifications,
		notifier:      notifier,
		opts:          opts,
	}
}

// PlaceBid validates and admits a bid with a version-guarded update.
// On a version conflict the bid is re-validated against fresh state and
// retried; once attempts are exhausted ErrConcurrentBidConflict is returned.
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, submittedAt time.Time) (models.Bid, error) {
	if auctionID == "" || bidderID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - missing auctionID or bidderID", biddingerrors.ErrInvalidBid)
	}
	if err := validateAmount(amount); err != nil {
		return models.Bid{}, fmt.Errorf("service: %w - bid amount %s", biddingerrors.ErrInvalidBid, err)
	}
	if submittedAt.IsZero() {
		submittedAt = s.opts.Now()
	}

	for attempt := 1; ; attempt++ {
		auction, err := s.repo.GetAuction(ctx, auctionID)
		if err != nil {
			return models.Bid{}, fmt.Errorf("service: failed to load auction %s: %w", auctionID, err)
		}
		if err := s.checkBid(auction, bidderID, amount, submittedAt); err != nil {
			return models.Bid{}, err
		}

		bid := models.Bid{
			BidID:       utils.GenerateID(),
			AuctionID:   auctionID,
			BidderID:    bidderID,
			Amount:      amount,
			SubmittedAt: submittedAt,
			BidTime:     s.opts.Now(),
		}
		updated, err := s.repo.CompareAndUpdate(ctx, auctionID, auction.Version, models.AuctionChanges{
			CurrentPrice: &amount,
			HighBidID:    &bid.BidID,
			HighBidderID: &bidderID,
			Bid:          &bid,
		})
		if err == nil {
			bid.Sequence = updated.Version
			s.announce(auction, bid)
			return bid, nil
		}
		if !errors.Is(err, biddingerrors.ErrVersionConflict) {
			return models.Bid{}, fmt.Errorf("service: failed to record bid on auction %s by user %s: %w", auctionID, bidderID, err)
		}
		if attempt >= s.opts.BidAttempts {
			utils.Warn("Bid lost repeated version races", map[string]any{
				"auction_id": auctionID,
				"bidder_id":  bidderID,
				"amount":     amount.StringFixed(models.MoneyScale),
				"attempts":   attempt,
			})
			return models.Bid{}, fmt.Errorf("service: auction %s: %w", auctionID, biddingerrors.ErrConcurrentBidConflict)
		}
	}
}

// checkBid applies the admission rules, in order, to a snapshot of the auction
func (s *BiddingService) checkBid(a models.Auction, bidderID string, amount decimal.Decimal, submittedAt time.Time) error {
	if a.Status != models.AuctionActive {
		return fmt.Errorf("service: %w - auction %s is %s", biddingerrors.ErrAuctionNotActive, a.AuctionID, a.Status)
	}
	if !submittedAt.Before(a.EndTime) {
		return fmt.Errorf("service: %w - auction %s ended at %s", biddingerrors.ErrAuctionNotActive,
			a.AuctionID, a.EndTime.UTC().Format(time.RFC3339))
	}
	if minimum := a.MinimumBid(); amount.LessThan(minimum) {
		return fmt.Errorf("service: %w - minimum bid is %s", biddingerrors.ErrBidTooLow, minimum.StringFixed(models.MoneyScale))
	}
	if !s.opts.AllowSelfOutbid && a.HighBidderID == bidderID {
		return fmt.Errorf("service: %w - user %s already holds the highest bid", biddingerrors.ErrSelfOutbid, bidderID)
	}
	return nil
}

// announce notifies the bidder and whoever held the previous high bid
func (s *BiddingService) announce(previous models.Auction, bid models.Bid) {
	ref := models.NotificationRef{AuctionID: bid.AuctionID, BidID: bid.BidID, Amount: bid.Amount}
	s.notifier.Emit(bid.BidderID, models.NotificationBidPlaced, ref)
	if previous.HighBidderID != "" && previous.HighBidderID != bid.BidderID {
		s.notifier.Emit(previous.HighBidderID, models.NotificationOutbid, ref)
	}
}

// CreateAuction schedules a new pending auction
func (s *BiddingService) CreateAuction(ctx context.Context, in models.CreateAuctionInput) (models.Auction, error) {
	if in.AdID == "" {
		return models.Auction{}, fmt.Errorf("service: %w - missing adID", biddingerrors.ErrInvalidAuction)
	}
	if err := validateAmount(in.StartingPrice); err != nil {
		return models.Auction{}, fmt.Errorf("service: %w - starting price %s", biddingerrors.ErrInvalidAuction, err)
	}
	increment := in.BidIncrement
	if increment.IsZero() {
		increment = defaultIncrement
	}
	if err := validateAmount(increment); err != nil {
		return models.Auction{}, fmt.Errorf("service: %w - bid increment %s", biddingerrors.ErrInvalidAuction, err)
	}
	if in.StartingPrice.Add(increment).GreaterThan(models.MaxMoney) {
		return models.Auction{}, fmt.Errorf("service: %w - starting price plus increment exceeds %s", biddingerrors.ErrInvalidAuction, models.MaxMoney)
	}

	now := s.opts.Now()
	start := in.StartTime
	if start.IsZero() {
		start = now
	}
	if !in.EndTime.After(start) {
		return models.Auction{}, fmt.Errorf("service: %w - end time must be after start time", biddingerrors.ErrInvalidAuction)
	}
	if !in.EndTime.After(now) {
		return models.Auction{}, fmt.Errorf("service: %w - end time is in the past", biddingerrors.ErrInvalidAuction)
	}

	auction := models.Auction{
		AuctionID:     utils.GenerateID(),
		AdID:          in.AdID,
		StartingPrice: in.StartingPrice,
		CurrentPrice:  in.StartingPrice,
		BidIncrement:  increment,
		StartTime:     start.UTC(),
		EndTime:       in.EndTime.UTC(),
		Status:        models.AuctionPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateAuction(ctx, auction); err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to create auction for ad %s: %w", in.AdID, err)
	}
	return auction, nil
}

// GetAuction returns a single auction
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	if auctionID == "" {
		return models.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return auction, nil
}

// ListAuctions returns auctions, optionally filtered by status
func (s *BiddingService) ListAuctions(ctx context.Context, filter models.AuctionFilter) ([]models.Auction, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("service: %w - unknown status %q", biddingerrors.ErrInvalidAuction, filter.Status)
	}

	auctions, err := s.repo.ListAuctions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list auctions: %w", err)
	}
	return auctions, nil
}

// ListBids returns all accepted bids for an auction in acceptance order
func (s *BiddingService) ListBids(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}

	bids, err := s.repo.GetBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// GetWinner returns the recorded winner of a closed auction
func (s *BiddingService) GetWinner(ctx context.Context, auctionID string) (models.AuctionWinner, error) {
	if auctionID == "" {
		return models.AuctionWinner{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	winner, err := s.repo.GetWinner(ctx, auctionID)
	if err != nil {
		return models.AuctionWinner{}, fmt.Errorf("service: failed to get winner for auction %s: %w", auctionID, err)
	}
	return winner, nil
}

// GetAuctionsByBidder returns all auctions a user has placed bids on
func (s *BiddingService) GetAuctionsByBidder(ctx context.Context, userID string) ([]models.Auction, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrInvalidBid)
	}

	auctions, err := s.repo.GetAuctionsByBidder(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get auctions for user %s: %w", userID, err)
	}
	return auctions, nil
}

// CancelAuction moves a pending or active auction to cancelled. Bids racing
// the cancellation fail with ErrAuctionNotActive once it commits.
func (s *BiddingService) CancelAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	auction, err := s.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, err
	}

	cancelled, err := lifecycle.Transition(ctx, s.repo, auction, models.AuctionCancelled)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to cancel auction %s: %w", auctionID, err)
	}
	utils.Info("Auction cancelled", map[string]any{
		"auction_id": auctionID,
		"previous":   auction.Status,
		"bid_count":  cancelled.BidCount,
	})
	return cancelled, nil
}

// DeleteAuction removes an auction that never accepted a bid
func (s *BiddingService) DeleteAuction(ctx context.Context, auctionID string) error {
	if auctionID == "" {
		return fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	if err := s.repo.DeleteAuction(ctx, auctionID); err != nil {
		return fmt.Errorf("service: failed to delete auction %s: %w", auctionID, err)
	}
	return nil
}

// ListNotifications returns a user's notifications, newest first
func (s *BiddingService) ListNotifications(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrInvalidBid)
	}

	notifications, err := s.notifications.ListNotificationsByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list notifications for user %s: %w", userID, err)
	}
	return notifications, nil
}

// MarkNotificationRead flags a notification as read by its recipient
func (s *BiddingService) MarkNotificationRead(ctx context.Context, notificationID, userID string) (models.Notification, error) {
	if notificationID == "" || userID == "" {
		return models.Notification{}, fmt.Errorf("service: %w - missing notificationID or userID", biddingerrors.ErrInvalidBid)
	}

	n, err := s.notifications.MarkNotificationRead(ctx, notificationID, userID)
	if err != nil {
		return models.Notification{}, fmt.Errorf("service: failed to mark notification %s read: %w", notificationID, err)
	}
	return n, nil
}

// validateAmount requires a positive amount with at most two decimal places
// that fits the stored money column
func validateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return errors.New("must be positive")
	}
	if d.GreaterThan(models.MaxMoney) {
		return fmt.Errorf("must not exceed %s", models.MaxMoney)
	}
	if !d.Equal(d.Truncate(models.MoneyScale)) {
		return fmt.Errorf("must have at most %d decimal places", models.MoneyScale)
	}
	return nil
}
