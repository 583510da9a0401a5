package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/models"
)

const defaultListLimit = 50

var _ Store = (*MemoryRepo)(nil)

// MemoryRepo is a concurrency-safe in-memory implementation of Store.
// A single mutex makes CompareAndUpdate and the bid append one atomic step.
type MemoryRepo struct {
	mu            sync.RWMutex
	auctions      map[string]models.Auction       // key: auctionID -> value: auction
	bids          map[string][]models.Bid         // key: auctionID -> value: accepted bids in sequence order
	userAuctions  map[string][]string             // key: userID -> value: list of auctionIDs user has bid on
	winners       map[string]models.AuctionWinner // key: auctionID
	payments      map[string]models.Payment       // key: auctionID
	notifications []models.Notification
	dedupKeys     map[string]struct{}
	now           func() time.Time
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions:     make(map[string]models.Auction),
		bids:         make(map[string][]models.Bid),
		userAuctions: make(map[string][]string),
		winners:      make(map[string]models.AuctionWinner),
		payments:     make(map[string]models.Payment),
		dedupKeys:    make(map[string]struct{}),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateAuction stores a new auction
func (r *MemoryRepo) CreateAuction(_ context.Context, auction models.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if auction.AuctionID == "" {
		return fmt.Errorf("create auction: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}
	if _, ok := r.auctions[auction.AuctionID]; ok {
		return fmt.Errorf("create auction %s: %w", auction.AuctionID, biddingerrors.ErrAlreadyExists)
	}
	r.auctions[auction.AuctionID] = auction
	return nil
}

// GetAuction returns an auction by ID
func (r *MemoryRepo) GetAuction(_ context.Context, auctionID string) (models.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return models.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return a, nil
}

// ListAuctions returns auctions ordered by creation time
func (r *MemoryRepo) ListAuctions(_ context.Context, filter models.AuctionFilter) ([]models.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AuctionID < out[j].AuctionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return paginate(out, filter.Limit, filter.Offset), nil
}

// ListDueAuctions returns auctions needing a lifecycle step at now
func (r *MemoryRepo) ListDueAuctions(_ context.Context, now time.Time, limit int) ([]models.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []models.Auction
	for _, a := range r.auctions {
		if isDue(a, now) {
			due = append(due, a)
		}
	}
	// lifecycle steps come before settlement retries so a backlog of
	// failing settlements cannot starve closes
	sort.Slice(due, func(i, j int) bool {
		if ri, rj := dueRank(due[i]), dueRank(due[j]); ri != rj {
			return ri < rj
		}
		if due[i].EndTime.Equal(due[j].EndTime) {
			return due[i].AuctionID < due[j].AuctionID
		}
		return due[i].EndTime.Before(due[j].EndTime)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func dueRank(a models.Auction) int {
	if a.Status == models.AuctionClosed {
		return 1
	}
	return 0
}

func isDue(a models.Auction, now time.Time) bool {
	switch a.Status {
	case models.AuctionPending:
		return !now.Before(a.StartTime)
	case models.AuctionActive:
		return !now.Before(a.EndTime)
	case models.AuctionClosed:
		return !a.Settled
	}
	return false
}

// CompareAndUpdate applies changes if the stored version matches expectedVersion
func (r *MemoryRepo) CompareAndUpdate(_ context.Context, auctionID string, expectedVersion int64, changes models.AuctionChanges) (models.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return models.Auction{}, fmt.Errorf("update auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if a.Version != expectedVersion {
		return models.Auction{}, fmt.Errorf("update auction %s at version %d (stored %d): %w",
			auctionID, expectedVersion, a.Version, biddingerrors.ErrVersionConflict)
	}

	now := r.now()
	if changes.Status != nil {
		a.Status = *changes.Status
	}
	if changes.CurrentPrice != nil {
		a.CurrentPrice = *changes.CurrentPrice
	}
	if changes.HighBidID != nil {
		a.HighBidID = *changes.HighBidID
	}
	if changes.HighBidderID != nil {
		a.HighBidderID = *changes.HighBidderID
	}
	if changes.Settled != nil {
		a.Settled = *changes.Settled
	}
	a.Version++
	a.UpdatedAt = now

	if changes.Bid != nil {
		bid := *changes.Bid
		bid.AuctionID = auctionID
		bid.Sequence = a.Version
		if bid.BidTime.IsZero() {
			bid.BidTime = now
		}
		r.bids[auctionID] = append(r.bids[auctionID], bid)
		a.BidCount++
		r.indexBidder(bid.BidderID, auctionID)
	}

	r.auctions[auctionID] = a
	return a, nil
}

func (r *MemoryRepo) indexBidder(userID, auctionID string) {
	for _, id := range r.userAuctions[userID] {
		if id == auctionID {
			return
		}
	}
	r.userAuctions[userID] = append(r.userAuctions[userID], auctionID)
}

// DeleteAuction removes an auction that never accepted a bid
func (r *MemoryRepo) DeleteAuction(_ context.Context, auctionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return fmt.Errorf("delete auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if len(r.bids[auctionID]) > 0 || (a.Status != models.AuctionPending && a.Status != models.AuctionCancelled) {
		return fmt.Errorf("delete auction %s: %w", auctionID, biddingerrors.ErrAuctionNotDeletable)
	}
	delete(r.auctions, auctionID)
	delete(r.bids, auctionID)
	return nil
}

// GetBidsByAuction returns all accepted bids for an auction in acceptance order
func (r *MemoryRepo) GetBidsByAuction(_ context.Context, auctionID string) ([]models.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return append([]models.Bid(nil), r.bids[auctionID]...), nil
}

// GetHighestBid returns the bid with the maximum amount for an auction
func (r *MemoryRepo) GetHighestBid(_ context.Context, auctionID string) (models.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bids := r.bids[auctionID]
	if len(bids) == 0 {
		return models.Bid{}, fmt.Errorf("get highest bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}

	highest := bids[0]
	for _, b := range bids[1:] {
		if b.Amount.GreaterThan(highest.Amount) {
			highest = b
		}
	}
	return highest, nil
}

// GetAuctionsByBidder returns all auctions a user has bid on
func (r *MemoryRepo) GetAuctionsByBidder(_ context.Context, bidderID string) ([]models.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auctionIDs, ok := r.userAuctions[bidderID]
	if !ok || len(auctionIDs) == 0 {
		return nil, fmt.Errorf("get auctions for user %s: %w", bidderID, biddingerrors.ErrUserNoBids)
	}

	auctions := make([]models.Auction, 0, len(auctionIDs))
	for _, id := range auctionIDs {
		if a, exists := r.auctions[id]; exists {
			auctions = append(auctions, a)
		}
	}
	return auctions, nil
}

// CreateWinner records the winner once per auction
func (r *MemoryRepo) CreateWinner(_ context.Context, winner models.AuctionWinner) (models.AuctionWinner, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.winners[winner.AuctionID]; ok {
		return existing, false, nil
	}
	if _, ok := r.auctions[winner.AuctionID]; !ok {
		return models.AuctionWinner{}, false, fmt.Errorf("create winner for auction %s: %w", winner.AuctionID, biddingerrors.ErrAuctionNotFound)
	}
	if winner.CreatedAt.IsZero() {
		winner.CreatedAt = r.now()
	}
	r.winners[winner.AuctionID] = winner
	return winner, true, nil
}

// GetWinner returns the winner of an auction
func (r *MemoryRepo) GetWinner(_ context.Context, auctionID string) (models.AuctionWinner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.winners[auctionID]
	if !ok {
		return models.AuctionWinner{}, fmt.Errorf("get winner for auction %s: %w", auctionID, biddingerrors.ErrWinnerNotFound)
	}
	return w, nil
}

// MarkWinnerPaid sets paid/paid_at; a winner already paid keeps its original paid_at
func (r *MemoryRepo) MarkWinnerPaid(_ context.Context, auctionID string, paidAt time.Time) (models.AuctionWinner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.winners[auctionID]
	if !ok {
		return models.AuctionWinner{}, fmt.Errorf("mark winner paid for auction %s: %w", auctionID, biddingerrors.ErrWinnerNotFound)
	}
	if !w.Paid {
		w.Paid = true
		w.PaidAt = &paidAt
		r.winners[auctionID] = w
	}
	return w, nil
}

// CreatePayment records the payment once per auction
func (r *MemoryRepo) CreatePayment(_ context.Context, payment models.Payment) (models.Payment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.payments[payment.AuctionID]; ok {
		return existing, false, nil
	}
	now := r.now()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now
	r.payments[payment.AuctionID] = payment
	return payment, true, nil
}

// GetPaymentByAuction returns the payment for an auction
func (r *MemoryRepo) GetPaymentByAuction(_ context.Context, auctionID string) (models.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payments[auctionID]
	if !ok {
		return models.Payment{}, fmt.Errorf("get payment for auction %s: %w", auctionID, biddingerrors.ErrPaymentNotFound)
	}
	return p, nil
}

// UpdatePayment overwrites the stored payment for its auction
func (r *MemoryRepo) UpdatePayment(_ context.Context, payment models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[payment.AuctionID]; !ok {
		return fmt.Errorf("update payment for auction %s: %w", payment.AuctionID, biddingerrors.ErrPaymentNotFound)
	}
	payment.UpdatedAt = r.now()
	r.payments[payment.AuctionID] = payment
	return nil
}

// ListUnsubmittedPayments returns pending payments with no gateway acknowledgement
func (r *MemoryRepo) ListUnsubmittedPayments(_ context.Context, limit int) ([]models.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Payment
	for _, p := range r.payments {
		if p.Status == models.PaymentPending && p.SubmittedAt == nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveNotification stores a notification unless its dedup key was already seen
func (r *MemoryRepo) SaveNotification(_ context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n.DedupKey != "" {
		if _, seen := r.dedupKeys[n.DedupKey]; seen {
			return nil
		}
		r.dedupKeys[n.DedupKey] = struct{}{}
	}
	r.notifications = append(r.notifications, n)
	return nil
}

// ListNotificationsByUser returns a user's notifications newest first
func (r *MemoryRepo) ListNotificationsByUser(_ context.Context, userID string, limit, offset int) ([]models.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Notification
	for i := len(r.notifications) - 1; i >= 0; i-- {
		if r.notifications[i].UserID == userID {
			out = append(out, r.notifications[i])
		}
	}
	return paginate(out, limit, offset), nil
}

// MarkNotificationRead flags a notification as read by its recipient
func (r *MemoryRepo) MarkNotificationRead(_ context.Context, notificationID, userID string) (models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.notifications {
		n := &r.notifications[i]
		if n.NotificationID == notificationID && n.UserID == userID {
			n.IsRead = true
			return *n, nil
		}
	}
	return models.Notification{}, fmt.Errorf("mark notification %s read: %w", notificationID, biddingerrors.ErrNotificationNotFound)
}

func paginate[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
