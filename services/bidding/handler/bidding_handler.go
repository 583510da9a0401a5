package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"auction-engine/internal/payment"
	"auction-engine/services/bidding/helpers"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=mock_bidding_service.go -package=handler auction-engine/services/bidding/handler BiddingServiceInterface,CaptureResultHandler

type BiddingServiceInterface interface {
	CreateAuction(ctx context.Context, in model.CreateAuctionInput) (model.Auction, error)
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListAuctions(ctx context.Context, filter model.AuctionFilter) ([]model.Auction, error)
	CancelAuction(ctx context.Context, auctionID string) (model.Auction, error)
	DeleteAuction(ctx context.Context, auctionID string) error
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, submittedAt time.Time) (model.Bid, error)
	ListBids(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetWinner(ctx context.Context, auctionID string) (model.AuctionWinner, error)
	GetAuctionsByBidder(ctx context.Context, userID string) ([]model.Auction, error)
	ListNotifications(ctx context.Context, userID string, limit, offset int) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID string) (model.Notification, error)
}

// CaptureResultHandler applies payment gateway callbacks
type CaptureResultHandler interface {
	HandleCaptureResult(ctx context.Context, result payment.CaptureResult) error
}

type BiddingHandler struct {
	service  BiddingServiceInterface
	payments CaptureResultHandler
	now      func() time.Time
}

func NewBiddingHandler(service BiddingServiceInterface, payments CaptureResultHandler) *BiddingHandler {
	return &BiddingHandler{
		service:  service,
		payments: payments,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateAuctionHandler handles POST /auctions
func (h *BiddingHandler) CreateAuctionHandler(c *gin.Context) {
	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	auction, err := h.service.CreateAuction(c.Request.Context(), req.Input())
	if err != nil {
		helpers.RespondError(c, "CreateAuctionHandler", err, map[string]any{"ad_id": req.AdID})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.NewAuctionResponse(auction), "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id": auction.AuctionID,
		"ad_id":      auction.AdID,
		"start_time": auction.StartTime,
		"end_time":   auction.EndTime,
	})
}

// ListAuctionsHandler handles GET /auctions
func (h *BiddingHandler) ListAuctionsHandler(c *gin.Context) {
	limit, err := helpers.QueryInt(c, "limit", 50)
	if err != nil {
		helpers.HandleBindError(c, "ListAuctionsHandler", err)
		return
	}
	offset, err := helpers.QueryInt(c, "offset", 0)
	if err != nil {
		helpers.HandleBindError(c, "ListAuctionsHandler", err)
		return
	}

	filter := model.AuctionFilter{Status: model.AuctionStatus(c.Query("status")), Limit: limit, Offset: offset}
	auctions, err := h.service.ListAuctions(c.Request.Context(), filter)
	if err != nil {
		helpers.RespondError(c, "ListAuctionsHandler", err, map[string]any{"status_filter": filter.Status})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionResponses(auctions), "auctions retrieved successfully")
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	auction, err := h.service.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "GetAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionResponse(auction), "auction retrieved successfully")
}

// CancelAuctionHandler handles POST /auctions/:auction_id/cancel
func (h *BiddingHandler) CancelAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	auction, err := h.service.CancelAuction(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "CancelAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionResponse(auction), "auction cancelled successfully")
	helpers.LogSuccess("CancelAuctionHandler", "auction cancelled successfully", map[string]any{"auction_id": auctionID})
}

// DeleteAuctionHandler handles DELETE /auctions/:auction_id
func (h *BiddingHandler) DeleteAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	if err := h.service.DeleteAuction(c.Request.Context(), auctionID); err != nil {
		helpers.RespondError(c, "DeleteAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, gin.H{"auction_id": auctionID}, "auction deleted successfully")
	helpers.LogSuccess("DeleteAuctionHandler", "auction deleted successfully", map[string]any{"auction_id": auctionID})
}

// PlaceBidHandler handles POST /auctions/:auction_id/bids
func (h *BiddingHandler) PlaceBidHandler(c *gin.Context) {
	// the deadline check uses receipt time, not a client-supplied timestamp
	submittedAt := h.now()
	auctionID := c.Param("auction_id")

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	bid, err := h.service.PlaceBid(c.Request.Context(), auctionID, req.BidderID, req.Amount, submittedAt)
	if err != nil {
		helpers.RespondError(c, "PlaceBidHandler", err, map[string]any{
			"auction_id": auctionID,
			"bidder_id":  req.BidderID,
			"amount":     req.Amount.String(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.NewBidResponse(bid), "bid recorded successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid recorded successfully", map[string]any{
		"bid_id":     bid.BidID,
		"auction_id": bid.AuctionID,
		"bidder_id":  bid.BidderID,
		"amount":     bid.Amount.StringFixed(model.MoneyScale),
		"sequence":   bid.Sequence,
	})
}

// ListBidsHandler handles GET /auctions/:auction_id/bids
func (h *BiddingHandler) ListBidsHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bids, err := h.service.ListBids(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "ListBidsHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewBidResponses(bids), "bids retrieved successfully")
	helpers.LogSuccess("ListBidsHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(bids),
	})
}

// GetWinnerHandler handles GET /auctions/:auction_id/winner
func (h *BiddingHandler) GetWinnerHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	winner, err := h.service.GetWinner(c.Request.Context(), auctionID)
	if err != nil {
		if errors.Is(err, biddingerrors.ErrWinnerNotFound) {
			utils.JSONError(c, http.StatusNotFound, err, "no winner recorded for auction")
			utils.Info("GetWinnerHandler: no winner recorded", map[string]any{"auction_id": auctionID})
			return
		}
		helpers.RespondError(c, "GetWinnerHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewWinnerResponse(winner), "winner retrieved successfully")
}

// GetAuctionsByBidderHandler handles GET /users/:user_id/auctions
func (h *BiddingHandler) GetAuctionsByBidderHandler(c *gin.Context) {
	userID := c.Param("user_id")
	auctions, err := h.service.GetAuctionsByBidder(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, biddingerrors.ErrUserNoBids) {
		helpers.RespondError(c, "GetAuctionsByBidderHandler", err, map[string]any{"user_id": userID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionResponses(auctions), "auctions retrieved successfully")
	helpers.LogSuccess("GetAuctionsByBidderHandler", "auctions retrieved successfully", map[string]any{
		"user_id":        userID,
		"auctions_count": len(auctions),
	})
}

// ListNotificationsHandler handles GET /users/:user_id/notifications
func (h *BiddingHandler) ListNotificationsHandler(c *gin.Context) {
	userID := c.Param("user_id")
	limit, err := helpers.QueryInt(c, "limit", 50)
	if err != nil {
		helpers.HandleBindError(c, "ListNotificationsHandler", err)
		return
	}
	offset, err := helpers.QueryInt(c, "offset", 0)
	if err != nil {
		helpers.HandleBindError(c, "ListNotificationsHandler", err)
		return
	}

	notifications, err := h.service.ListNotifications(c.Request.Context(), userID, limit, offset)
	if err != nil {
		helpers.RespondError(c, "ListNotificationsHandler", err, map[string]any{"user_id": userID})
		return
	}
	if notifications == nil {
		notifications = []model.Notification{}
	}

	utils.JSONResponse(c, http.StatusOK, notifications, "notifications retrieved successfully")
}

// MarkNotificationReadHandler handles PATCH /notifications/:notification_id/read
func (h *BiddingHandler) MarkNotificationReadHandler(c *gin.Context) {
	notificationID := c.Param("notification_id")
	userID := c.Query("user_id")

	n, err := h.service.MarkNotificationRead(c.Request.Context(), notificationID, userID)
	if err != nil {
		helpers.RespondError(c, "MarkNotificationReadHandler", err, map[string]any{
			"notification_id": notificationID,
			"user_id":         userID,
		})
		return
	}

	utils.JSONResponse(c, http.StatusOK, n, "notification marked as read")
}

// PaymentCallbackHandler handles POST /payments/callback
func (h *BiddingHandler) PaymentCallbackHandler(c *gin.Context) {
	var req helpers.PaymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PaymentCallbackHandler", err)
		return
	}

	result := payment.CaptureResult{
		IdempotencyKey: req.IdempotencyKey,
		Outcome:        payment.Outcome(req.Outcome),
		Reason:         req.Reason,
		ProviderRef:    req.ProviderRef,
	}
	if err := h.payments.HandleCaptureResult(c.Request.Context(), result); err != nil {
		helpers.RespondError(c, "PaymentCallbackHandler", err, map[string]any{
			"idempotency_key": req.IdempotencyKey,
			"outcome":         req.Outcome,
		})
		return
	}

	utils.JSONResponse(c, http.StatusOK, gin.H{"idempotency_key": req.IdempotencyKey}, "payment result applied")
	helpers.LogSuccess("PaymentCallbackHandler", "payment result applied", map[string]any{
		"idempotency_key": req.IdempotencyKey,
		"outcome":         req.Outcome,
	})
}
