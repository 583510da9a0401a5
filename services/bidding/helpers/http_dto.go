package helpers

import (
	model "auction-engine/internal/models"
	"time"

	"github.com/shopspring/decimal"
)

// Request/Response DTOs
type CreateAuctionRequest struct {
	AdID          string          `json:"ad_id" binding:"required"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	BidIncrement  decimal.Decimal `json:"bid_increment"`
	StartTime     *time.Time      `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
}

// Input converts the request into the service input
func (r CreateAuctionRequest) Input() model.CreateAuctionInput {
	in := model.CreateAuctionInput{
		AdID:          r.AdID,
		StartingPrice: r.StartingPrice,
		BidIncrement:  r.BidIncrement,
		EndTime:       r.EndTime,
	}
	if r.StartTime != nil {
		in.StartTime = *r.StartTime
	}
	return in
}

type PlaceBidRequest struct {
	BidderID string          `json:"bidder_id" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
}

type PaymentCallbackRequest struct {
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
	Outcome        string `json:"outcome" binding:"required,oneof=captured declined"`
	Reason         string `json:"reason"`
	ProviderRef    string `json:"provider_ref"`
}

type AuctionResponse struct {
	AuctionID     string `json:"auction_id"`
	AdID          string `json:"ad_id"`
	StartingPrice string `json:"starting_price"`
	CurrentPrice  string `json:"current_price"`
	BidIncrement  string `json:"bid_increment"`
	MinimumBid    string `json:"minimum_bid"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	Version       int64  `json:"version"`
	HighBidderID  string `json:"high_bidder_id,omitempty"`
	BidCount      int    `json:"bid_count"`
}

type BidResponse struct {
	BidID       string `json:"bid_id"`
	AuctionID   string `json:"auction_id"`
	BidderID    string `json:"bidder_id"`
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	SubmittedAt string `json:"submitted_at"`
	BidTime     string `json:"bid_time"`
}

type WinnerResponse struct {
	AuctionID    string `json:"auction_id"`
	BidderID     string `json:"bidder_id"`
	WinningBidID string `json:"winning_bid_id"`
	Amount       string `json:"amount"`
	Paid         bool   `json:"paid"`
	PaidAt       string `json:"paid_at,omitempty"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(model.MoneyScale)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NewAuctionResponse renders an auction with fixed two-decimal amounts
func NewAuctionResponse(a model.Auction) AuctionResponse {
	return AuctionResponse{
		AuctionID:     a.AuctionID,
		AdID:          a.AdID,
		StartingPrice: money(a.StartingPrice),
		CurrentPrice:  money(a.CurrentPrice),
		BidIncrement:  money(a.BidIncrement),
		MinimumBid:    money(a.MinimumBid()),
		StartTime:     timestamp(a.StartTime),
		EndTime:       timestamp(a.EndTime),
		Status:        string(a.Status),
		Version:       a.Version,
		HighBidderID:  a.HighBidderID,
		BidCount:      a.BidCount,
	}
}

func NewAuctionResponses(auctions []model.Auction) []AuctionResponse {
	out := make([]AuctionResponse, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, NewAuctionResponse(a))
	}
	return out
}

func NewBidResponse(b model.Bid) BidResponse {
	return BidResponse{
		BidID:       b.BidID,
		AuctionID:   b.AuctionID,
		BidderID:    b.BidderID,
		Amount:      money(b.Amount),
		Sequence:    b.Sequence,
		SubmittedAt: timestamp(b.SubmittedAt),
		BidTime:     timestamp(b.BidTime),
	}
}

func NewBidResponses(bids []model.Bid) []BidResponse {
	out := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, NewBidResponse(b))
	}
	return out
}

func NewWinnerResponse(w model.AuctionWinner) WinnerResponse {
	resp := WinnerResponse{
		AuctionID:    w.AuctionID,
		BidderID:     w.BidderID,
		WinningBidID: w.WinningBidID,
		Amount:       money(w.Amount),
		Paid:         w.Paid,
	}
	if w.PaidAt != nil {
		resp.PaidAt = timestamp(*w.PaidAt)
	}
	return resp
}
