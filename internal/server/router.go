package server

import (
	handler "auction-engine/services/bidding/handler"

	"github.com/gin-gonic/gin"
)

// SetupRouter configures all Gin routes for the application
func SetupRouter(biddingService handler.BiddingServiceInterface, payments handler.CaptureResultHandler) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging

	biddingHandler := handler.NewBiddingHandler(biddingService, payments)

	auctions := router.Group("/auctions")
	{
		auctions.POST("", biddingHandler.CreateAuctionHandler)
		auctions.GET("", biddingHandler.ListAuctionsHandler)
		auctions.GET("/:auction_id", biddingHandler.GetAuctionHandler)
		auctions.DELETE("/:auction_id", biddingHandler.DeleteAuctionHandler)
		auctions.POST("/:auction_id/cancel", biddingHandler.CancelAuctionHandler)
		auctions.POST("/:auction_id/bids", biddingHandler.PlaceBidHandler)
		auctions.GET("/:auction_id/bids", biddingHandler.ListBidsHandler)
		auctions.GET("/:auction_id/winner", biddingHandler.GetWinnerHandler)
	}

	users := router.Group("/users")
	{
		users.GET("/:user_id/auctions", biddingHandler.GetAuctionsByBidderHandler)
		users.GET("/:user_id/notifications", biddingHandler.ListNotificationsHandler)
	}

	notifications := router.Group("/notifications")
	{
		notifications.PATCH("/:notification_id/read", biddingHandler.MarkNotificationReadHandler)
	}

	paymentRoutes := router.Group("/payments")
	{
		paymentRoutes.POST("/callback", biddingHandler.PaymentCallbackHandler)
	}

	return router
}
