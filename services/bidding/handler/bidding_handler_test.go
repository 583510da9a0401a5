package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"auction-engine/internal/payment"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *MockBiddingServiceInterface, *MockCaptureResultHandler) {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockService := NewMockBiddingServiceInterface(ctrl)
	mockPayments := NewMockCaptureResultHandler(ctrl)
	h := NewBiddingHandler(mockService, mockPayments)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/auctions", h.CreateAuctionHandler)
	router.GET("/auctions", h.ListAuctionsHandler)
	router.GET("/auctions/:auction_id", h.GetAuctionHandler)
	router.DELETE("/auctions/:auction_id", h.DeleteAuctionHandler)
	router.POST("/auctions/:auction_id/cancel", h.CancelAuctionHandler)
	router.POST("/auctions/:auction_id/bids", h.PlaceBidHandler)
	router.GET("/auctions/:auction_id/bids", h.ListBidsHandler)
	router.GET("/auctions/:auction_id/winner", h.GetWinnerHandler)
	router.GET("/users/:user_id/auctions", h.GetAuctionsByBidderHandler)
	router.GET("/users/:user_id/notifications", h.ListNotificationsHandler)
	router.PATCH("/notifications/:notification_id/read", h.MarkNotificationReadHandler)
	router.POST("/payments/callback", h.PaymentCallbackHandler)
	return router, mockService, mockPayments
}

func doRequest(t *testing.T, router *gin.Engine, method, url string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reqBody []byte
	switch v := body.(type) {
	case nil:
	case string:
		reqBody = []byte(v)
	default:
		var err error
		reqBody, err = json.Marshal(v)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func sampleAuction() model.Auction {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	return model.Auction{
		AuctionID:     uuid.NewString(),
		AdID:          "ad-1",
		StartingPrice: decimal.RequireFromString("100"),
		CurrentPrice:  decimal.RequireFromString("105"),
		BidIncrement:  decimal.RequireFromString("5"),
		StartTime:     now,
		EndTime:       now.Add(time.Hour),
		Status:        model.AuctionActive,
		Version:       2,
		HighBidderID:  "user-a",
		BidCount:      1,
	}
}

// Test PlaceBidHandler
func TestPlaceBidHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		mockSetup      func(m *MockBiddingServiceInterface)
		expectedStatus int
		expectedMsg    string
		retryable      bool
		validateData   func(t *testing.T, data map[string]any)
	}{
		{
			name:        "success_valid_bid",
			requestBody: `{"bidder_id":"user-c","amount":"110"}`,
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().
					PlaceBid(gomock.Any(), "auction-1", "user-c", gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ any, auctionID, bidderID string, amount decimal.Decimal, submittedAt time.Time) (model.Bid, error) {
						if !amount.Equal(decimal.RequireFromString("110")) {
							return model.Bid{}, fmt.Errorf("unexpected amount %s", amount)
						}
						return model.Bid{
							BidID:       uuid.NewString(),
							AuctionID:   auctionID,
							BidderID:    bidderID,
							Amount:      amount,
							Sequence:    3,
							SubmittedAt: submittedAt,
							BidTime:     submittedAt,
						}, nil
					})
			},
			expectedStatus: http.StatusCreated,
			expectedMsg:    "bid recorded successfully",
			validateData: func(t *testing.T, data map[string]any) {
				_, parseErr := uuid.Parse(data["bid_id"].(string))
				require.NoError(t, parseErr, "BidID should be a valid UUID")
				require.Equal(t, "auction-1", data["auction_id"])
				require.Equal(t, "user-c", data["bidder_id"])
				require.Equal(t, "110.00", data["amount"])
				require.Equal(t, float64(3), data["sequence"])
			},
		},
		{
			name:        "numeric_amount_accepted",
			requestBody: `{"bidder_id":"user-c","amount":110.5}`,
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().
					PlaceBid(gomock.Any(), "auction-1", "user-c", gomock.Any(), gomock.Any()).
					Return(model.Bid{BidID: uuid.NewString(), AuctionID: "auction-1", BidderID: "user-c", Amount: decimal.RequireFromString("110.5")}, nil)
			},
			expectedStatus: http.StatusCreated,
			expectedMsg:    "bid recorded successfully",
			validateData: func(t *testing.T, data map[string]any) {
				require.Equal(t, "110.50", data["amount"])
			},
		},
		{
			name:           "invalid_json",
			requestBody:    `{invalid json}`,
			mockSetup:      func(m *MockBiddingServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:           "missing_bidder_id",
			requestBody:    `{"amount":"110"}`,
			mockSetup:      func(m *MockBiddingServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:        "service_bid_too_low",
			requestBody: `{"bidder_id":"user-b","amount":"105"}`,
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "auction-1", "user-b", gomock.Any(), gomock.Any()).
					Return(model.Bid{}, biddingerrors.ErrBidTooLow)
			},
			expectedStatus: http.StatusConflict,
			expectedMsg:    "bid amount too low",
		},
		{
			name:        "service_invalid_bid",
			requestBody: `{"bidder_id":"user-b","amount":"0"}`,
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "auction-1", "user-b", gomock.Any(), gomock.Any()).
					Return(model.Bid{}, biddingerrors.ErrInvalidBid)
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedMsg:    "invalid bid details",
		},
		{
			name:        "auction_not_found",
			requestBody: `{"bidder_id":"user-b","amount":"105"}`,
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "auction-1", "user-b", gomock.Any(), gomock.Any()).
					Return(model.Bid{}, fmt.Errorf("service: %w", biddingerrors.ErrAuctionNotFound))
			},
			expectedStatus: http.StatusNotFound,
			expectedMsg:    "auction not found",
		},
		{
			name:        "auction_not_active",
			requestBody: `{"bidder_id":"user-b","amount":"105"}`,
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "auction-1", "user-b", gomock.Any(), gomock.Any()).
					Return(model.Bid{}, biddingerrors.ErrAuctionNotActive)
			},
			expectedStatus: http.StatusConflict,
			expectedMsg:    "auction not active",
		},
		{
			name:        "concurrent_conflict_is_retryable",
			requestBody: `{"bidder_id":"user-b","amount":"150"}`,
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "auction-1", "user-b", gomock.Any(), gomock.Any()).
					Return(model.Bid{}, biddingerrors.ErrConcurrentBidConflict)
			},
			expectedStatus: http.StatusConflict,
			expectedMsg:    "concurrent bid conflict, please resubmit",
			retryable:      true,
		},
		{
			name:        "service_generic_error",
			requestBody: `{"bidder_id":"user-b","amount":"150"}`,
			mockSetup: func(m *MockBiddingServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "auction-1", "user-b", gomock.Any(), gomock.Any()).
					Return(model.Bid{}, errors.New("database failure"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedMsg:    "internal server error",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			router, mockService, _ := newTestRouter(t)
			tc.mockSetup(mockService)

			w, resp := doRequest(t, router, http.MethodPost, "/auctions/auction-1/bids", tc.requestBody)

			require.Equal(t, tc.expectedStatus, w.Code)
			require.Equal(t, tc.expectedMsg, resp["message"])
			if tc.retryable {
				require.Equal(t, true, resp["retryable"])
				require.Equal(t, "0", w.Header().Get("Retry-After"))
			} else {
				require.Nil(t, resp["retryable"])
			}
			if tc.validateData != nil {
				data, ok := resp["data"].(map[string]any)
				require.True(t, ok, "response data should be an object")
				tc.validateData(t, data)
			}
		})
	}
}

// Test CreateAuctionHandler
func TestCreateAuctionHandler(t *testing.T) {
	t.Parallel()

	t.Run("created", func(t *testing.T) {
		t.Parallel()
		router, mockService, _ := newTestRouter(t)
		auction := sampleAuction()
		auction.Status = model.AuctionPending
		auction.CurrentPrice = auction.StartingPrice
		auction.BidCount = 0
		auction.HighBidderID = ""

		mockService.EXPECT().CreateAuction(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ any, in model.CreateAuctionInput) (model.Auction, error) {
				require.Equal(t, "ad-1", in.AdID)
				require.True(t, in.StartingPrice.Equal(decimal.RequireFromString("100")))
				return auction, nil
			})

		w, resp := doRequest(t, router, http.MethodPost, "/auctions", map[string]any{
			"ad_id":          "ad-1",
			"starting_price": "100.00",
			"bid_increment":  "5.00",
			"end_time":       auction.EndTime.Format(time.RFC3339),
		})
		require.Equal(t, http.StatusCreated, w.Code)
		data := resp["data"].(map[string]any)
		require.Equal(t, "100.00", data["starting_price"])
		require.Equal(t, "100.00", data["minimum_bid"])
		require.Equal(t, "pending", data["status"])
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()
		router, mockService, _ := newTestRouter(t)
		mockService.EXPECT().CreateAuction(gomock.Any(), gomock.Any()).
			Return(model.Auction{}, biddingerrors.ErrInvalidAuction)

		w, resp := doRequest(t, router, http.MethodPost, "/auctions", map[string]any{"ad_id": "ad-1"})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		require.Equal(t, "invalid auction details", resp["message"])
	})

	t.Run("missing_ad_id", func(t *testing.T) {
		t.Parallel()
		router, _, _ := newTestRouter(t)
		w, _ := doRequest(t, router, http.MethodPost, "/auctions", map[string]any{"starting_price": "10"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// Test GetAuctionHandler and ListAuctionsHandler
func TestAuctionQueries(t *testing.T) {
	t.Parallel()

	t.Run("get_renders_money_as_strings", func(t *testing.T) {
		t.Parallel()
		router, mockService, _ := newTestRouter(t)
		auction := sampleAuction()
		mockService.EXPECT().GetAuction(gomock.Any(), auction.AuctionID).Return(auction, nil)

		w, resp := doRequest(t, router, http.MethodGet, "/auctions/"+auction.AuctionID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		data := resp["data"].(map[string]any)
		require.Equal(t, "105.00", data["current_price"])
		require.Equal(t, "110.00", data["minimum_bid"])
		require.Equal(t, "active", data["status"])
	})

	t.Run("get_not_found", func(t *testing.T) {
		t.Parallel()
		router, mockService, _ := newTestRouter(t)
		mockService.EXPECT().GetAuction(gomock.Any(), "missing").Return(model.Auction{}, biddingerrors.ErrAuctionNotFound)

		w, resp := doRequest(t, router, http.MethodGet, "/auctions/missing", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
		require.Equal(t, "auction not found", resp["message"])
	})

	t.Run("list_with_filter", func(t *testing.T) {
		t.Parallel()
		router, mockService, _ := newTestRouter(t)
		mockService.EXPECT().
			ListAuctions(gomock.Any(), model.AuctionFilter{Status: model.AuctionActive, Limit: 10, Offset: 5}).
			Return([]model.Auction{sampleAuction()}, nil)

		w, resp := doRequest(t, router, http.MethodGet, "/auctions?status=active&limit=10&offset=5", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, resp["data"], 1)
	})

	t.Run("list_bad_limit", func(t *testing.T) {
		t.Parallel()
		router, _, _ := newTestRouter(t)
		w, _ := doRequest(t, router, http.MethodGet, "/auctions?limit=-1", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// Test CancelAuctionHandler and DeleteAuctionHandler
func TestAuctionAdmin(t *testing.T) {
	t.Parallel()

	t.Run("cancel_terminal_auction", func(t *testing.T) {
		t.Parallel()
		router, mockService, _ := newTestRouter(t)
		mockService.EXPECT().CancelAuction(gomock.Any(), "auction-1").
			Return(model.Auction{}, biddingerrors.ErrInvalidTransition)

		w, resp := doRequest(t, router, http.MethodPost, "/auctions/auction-1/cancel", nil)
		require.Equal(t, http.StatusConflict, w.Code)
		require.Equal(t, "invalid auction status transition", resp["message"])
	})

	t.Run("cancel_lost_to_concurrent_updates", func(t *testing.T) {
		t.Parallel()
		router, mockService, _ := newTestRouter(t)
		mockService.EXPECT().CancelAuction(gomock.Any(), "auction-1").
			Return(model.Auction{}, fmt.Errorf("lifecycle: cancel auction auction-1: %w", biddingerrors.ErrVersionConflict))

		w, resp := doRequest(t, router, http.MethodPost, "/auctions/auction-1/cancel", nil)
		require.Equal(t, http.StatusConflict, w.Code)
		require.Equal(t, "auction changed concurrently, please retry", resp["message"])
		require.Equal(t, true, resp["retryable"])
		require.Equal(t, "0", w.Header().Get("Retry-After"))
	})

	t.Run("delete_with_bids", func(t *testing.T) {
		t.Parallel()
		router, mockService, _ := newTestRouter(t)
		mockService.EXPECT().DeleteAuction(gomock.Any(), "auction-1").Return(biddingerrors.ErrAuctionNotDeletable)

		w, _ := doRequest(t, router, http.MethodDelete, "/auctions/auction-1", nil)
		require.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("delete_ok", func(t *testing.T) {
		t.Parallel()
		router, mockService, _ := newTestRouter(t)
		mockService.EXPECT().DeleteAuction(gomock.Any(), "auction-1").Return(nil)

		w, _ := doRequest(t, router, http.MethodDelete, "/auctions/auction-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
	})
}

// Test GetWinnerHandler
func TestGetWinnerHandler(t *testing.T) {
	t.Parallel()

	t.Run("paid_winner", func(t *testing.T) {
		t.Parallel()
		router, mockService, _ := newTestRouter(t)
		paidAt := time.Date(2026, 6, 1, 13, 0, 0, 0, time.UTC)
		mockService.EXPECT().GetWinner(gomock.Any(), "auction-1").Return(model.AuctionWinner{
			AuctionID:    "auction-1",
			BidderID:     "user-c",
			WinningBidID: "bid-3",
			Amount:       decimal.RequireFromString("110"),
			Paid:         true,
			PaidAt:       &paidAt,
		}, nil)

		w, resp := doRequest(t, router, http.MethodGet, "/auctions/auction-1/winner", nil)
		require.Equal(t, http.StatusOK, w.Code)
		data := resp["data"].(map[string]any)
		require.Equal(t, "user-c", data["bidder_id"])
		require.Equal(t, "110.00", data["amount"])
		require.Equal(t, true, data["paid"])
		require.NotEmpty(t, data["paid_at"])
	})

	t.Run("no_winner", func(t *testing.T) {
		t.Parallel()
		router, mockService, _ := newTestRouter(t)
		mockService.EXPECT().GetWinner(gomock.Any(), "auction-2").Return(model.AuctionWinner{}, biddingerrors.ErrWinnerNotFound)

		w, resp := doRequest(t, router, http.MethodGet, "/auctions/auction-2/winner", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
		require.Equal(t, "no winner recorded for auction", resp["message"])
	})
}

// Test GetAuctionsByBidderHandler
func TestGetAuctionsByBidderHandler(t *testing.T) {
	t.Parallel()

	router, mockService, _ := newTestRouter(t)
	mockService.EXPECT().GetAuctionsByBidder(gomock.Any(), "user-a").Return([]model.Auction{sampleAuction()}, nil)
	mockService.EXPECT().GetAuctionsByBidder(gomock.Any(), "user-z").Return(nil, biddingerrors.ErrUserNoBids)

	w, resp := doRequest(t, router, http.MethodGet, "/users/user-a/auctions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp["data"], 1)

	w, resp = doRequest(t, router, http.MethodGet, "/users/user-z/auctions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []any{}, resp["data"])
}

// Test notification handlers
func TestNotificationHandlers(t *testing.T) {
	t.Parallel()

	router, mockService, _ := newTestRouter(t)
	mockService.EXPECT().ListNotifications(gomock.Any(), "user-a", 50, 0).Return([]model.Notification{
		{NotificationID: "n-1", UserID: "user-a", Type: model.NotificationOutbid, Message: "You have been outbid"},
	}, nil)
	mockService.EXPECT().MarkNotificationRead(gomock.Any(), "n-1", "user-b").
		Return(model.Notification{}, biddingerrors.ErrNotificationNotFound)
	mockService.EXPECT().MarkNotificationRead(gomock.Any(), "n-1", "user-a").
		Return(model.Notification{NotificationID: "n-1", UserID: "user-a", IsRead: true}, nil)

	w, resp := doRequest(t, router, http.MethodGet, "/users/user-a/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := resp["data"].([]any)
	require.Len(t, list, 1)
	require.Equal(t, "outbid", list[0].(map[string]any)["type"])

	w, _ = doRequest(t, router, http.MethodPatch, "/notifications/n-1/read?user_id=user-b", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w, resp = doRequest(t, router, http.MethodPatch, "/notifications/n-1/read?user_id=user-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, resp["data"].(map[string]any)["is_read"])
}

// Test PaymentCallbackHandler
func TestPaymentCallbackHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		body           any
		mockSetup      func(m *MockCaptureResultHandler)
		expectedStatus int
	}{
		{
			name: "captured",
			body: map[string]any{"idempotency_key": "auction-1", "outcome": "captured", "provider_ref": "psp-1"},
			mockSetup: func(m *MockCaptureResultHandler) {
				m.EXPECT().HandleCaptureResult(gomock.Any(), payment.CaptureResult{
					IdempotencyKey: "auction-1",
					Outcome:        payment.OutcomeCaptured,
					ProviderRef:    "psp-1",
				}).Return(nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "unknown_outcome",
			body:           map[string]any{"idempotency_key": "auction-1", "outcome": "refunded"},
			mockSetup:      func(m *MockCaptureResultHandler) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "unknown_payment",
			body: map[string]any{"idempotency_key": "missing", "outcome": "declined", "reason": "card declined"},
			mockSetup: func(m *MockCaptureResultHandler) {
				m.EXPECT().HandleCaptureResult(gomock.Any(), gomock.Any()).Return(biddingerrors.ErrPaymentNotFound)
			},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			router, _, mockPayments := newTestRouter(t)
			tc.mockSetup(mockPayments)

			w, _ := doRequest(t, router, http.MethodPost, "/payments/callback", tc.body)
			require.Equal(t, tc.expectedStatus, w.Code)
		})
	}
}
