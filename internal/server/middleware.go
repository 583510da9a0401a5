package server

import (
	"auction-engine/utils"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLoggerMiddleware logs incoming requests with timing
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	fields := map[string]any{
		"method":  c.Request.Method,
		"path":    c.FullPath(),
		"status":  c.Writer.Status(),
		"latency": time.Since(start).String(),
	}
	if fields["path"] == "" {
		fields["path"] = c.Request.URL.Path
	}
	if auctionID := c.Param("auction_id"); auctionID != "" {
		fields["auction_id"] = auctionID
	}

	if c.Writer.Status() >= 500 {
		utils.Warn("HTTP Request", fields)
		return
	}
	utils.Info("HTTP Request", fields)
}
