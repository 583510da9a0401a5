package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places stored for every amount.
const MoneyScale int32 = 2

// MaxMoney is the largest amount a NUMERIC(12,2) column can hold.
var MaxMoney = decimal.RequireFromString("9999999999.99")

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

const (
	AuctionPending   AuctionStatus = "pending"
	AuctionActive    AuctionStatus = "active"
	AuctionClosed    AuctionStatus = "closed"
	AuctionCancelled AuctionStatus = "cancelled"
)

// Valid reports whether s is a known status
func (s AuctionStatus) Valid() bool {
	switch s {
	case AuctionPending, AuctionActive, AuctionClosed, AuctionCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s
func (s AuctionStatus) Terminal() bool {
	return s == AuctionClosed || s == AuctionCancelled
}

// CanTransitionTo encodes pending->active->closed, and ->cancelled from pending or active.
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	switch next {
	case AuctionActive:
		return s == AuctionPending
	case AuctionClosed:
		return s == AuctionActive
	case AuctionCancelled:
		return s == AuctionPending || s == AuctionActive
	}
	return false
}

// Auction is a timed ascending-price sale of one ad
type Auction struct {
	AuctionID     string          `json:"auction_id"`
	AdID          string          `json:"ad_id"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	BidIncrement  decimal.Decimal `json:"bid_increment"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	Status        AuctionStatus   `json:"status"`
	Version       int64           `json:"version"`
	HighBidID     string          `json:"high_bid_id,omitempty"`
	HighBidderID  string          `json:"high_bidder_id,omitempty"`
	BidCount      int             `json:"bid_count"`
	Settled       bool            `json:"settled"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// HasBids reports whether at least one bid has been accepted
func (a Auction) HasBids() bool {
	return a.BidCount > 0
}

// MinimumBid returns the lowest amount the next bid may carry.
func (a Auction) MinimumBid() decimal.Decimal {
	if !a.HasBids() {
		return a.StartingPrice
	}
	return a.CurrentPrice.Add(a.BidIncrement)
}

// AuctionChanges describes a conditional update applied to an auction.
// Nil fields are left untouched. Bid, when set, is appended atomically with the update.
type AuctionChanges struct {
	Status       *AuctionStatus
	CurrentPrice *decimal.Decimal
	HighBidID    *string
	HighBidderID *string
	Settled      *bool
	Bid          *Bid
}

// AuctionFilter narrows ListAuctions
type AuctionFilter struct {
	Status AuctionStatus
	Limit  int
	Offset int
}

// CreateAuctionInput carries the fields needed to schedule an auction
type CreateAuctionInput struct {
	AdID          string
	StartingPrice decimal.Decimal
	BidIncrement  decimal.Decimal
	StartTime     time.Time
	EndTime       time.Time
}

// Bid represents an accepted offer on an auction
type Bid struct {
	BidID       string          `json:"bid_id"`
	AuctionID   string          `json:"auction_id"`
	BidderID    string          `json:"bidder_id"`
	Amount      decimal.Decimal `json:"amount"`
	Sequence    int64           `json:"sequence"`
	SubmittedAt time.Time       `json:"submitted_at"`
	BidTime     time.Time       `json:"bid_time"`
}

// AuctionWinner records the winning bid of a closed auction
type AuctionWinner struct {
	WinnerID     string          `json:"winner_id"`
	AuctionID    string          `json:"auction_id"`
	BidderID     string          `json:"bidder_id"`
	WinningBidID string          `json:"winning_bid_id"`
	Amount       decimal.Decimal `json:"amount"`
	Paid         bool            `json:"paid"`
	PaidAt       *time.Time      `json:"paid_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// PaymentStatus tracks capture of the winning amount
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is the capture request for a winner, keyed by auction
type Payment struct {
	PaymentID   string          `json:"payment_id"`
	AuctionID   string          `json:"auction_id"`
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Status      PaymentStatus   `json:"status"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	ProviderRef string          `json:"provider_ref,omitempty"`
	SubmittedAt *time.Time      `json:"submitted_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IdempotencyKey is the key handed to the payment gateway
func (p Payment) IdempotencyKey() string {
	return p.AuctionID
}

// NotificationType discriminates notification events
type NotificationType string

const (
	NotificationBidPlaced      NotificationType = "bid_placed"
	NotificationOutbid         NotificationType = "outbid"
	NotificationWon            NotificationType = "won"
	NotificationPaymentSettled NotificationType = "payment_settled"
	NotificationPaymentFailed  NotificationType = "payment_failed"
)

// NotificationRef points at the auction and bid that triggered a notification
type NotificationRef struct {
	AuctionID string
	BidID     string
	Amount    decimal.Decimal
}

// Notification is an event addressed to one user
type Notification struct {
	NotificationID   string           `json:"notification_id"`
	UserID           string           `json:"user_id"`
	Type             NotificationType `json:"type"`
	Message          string           `json:"message"`
	IsRead           bool             `json:"is_read"`
	RelatedAuctionID string           `json:"related_auction_id,omitempty"`
	RelatedBidID     string           `json:"related_bid_id,omitempty"`
	DedupKey         string           `json:"-"`
	CreatedAt        time.Time        `json:"created_at"`
}

// NotificationDedupKey identifies one logical event for one user.
func NotificationDedupKey(userID string, typ NotificationType, auctionID, bidID string) string {
	return userID + "|" + string(typ) + "|" + auctionID + "|" + bidID
}
