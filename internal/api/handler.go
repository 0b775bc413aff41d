package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"auction-service/internal/service"
	"auction-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency the readiness probe checks
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	auctions  *service.AuctionService
	bidding   *service.BiddingEngine
	postSale  *service.PostSaleService
	jwtSecret string
	checks    map[string]Pinger
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	auctions *service.AuctionService,
	bidding *service.BiddingEngine,
	postSale *service.PostSaleService,
	jwtSecret string,
) *Handler {
	return &Handler{
		auctions:  auctions,
		bidding:   bidding,
		postSale:  postSale,
		jwtSecret: jwtSecret,
		checks:    make(map[string]Pinger),
		logger:    util.Component("api"),
	}
}

// AddReadinessCheck makes /ready fail while dep.Ping fails
func (h *Handler) AddReadinessCheck(name string, dep Pinger) {
	h.checks[name] = dep
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware(h.jwtSecret))
	{
		v1.POST("/auctions", h.createAuction)
		v1.GET("/auctions/active", h.listActive)
		v1.GET("/auctions/mine", h.listMine)
		v1.GET("/auctions/:id", h.getAuction)
		v1.DELETE("/auctions/:id", h.deleteAuction)
		v1.GET("/auctions/:id/bids", h.listBids)
		v1.POST("/auctions/:id/bids", h.placeBid)
		v1.GET("/auctions/:id/tracking", h.getTracking)

		v1.POST("/auctions/:id/pay", h.pay)
		v1.POST("/auctions/:id/assign-agent", h.assignAgent)
		v1.POST("/auctions/:id/ship", h.ship)
		v1.POST("/auctions/:id/confirm-receipt", h.confirmReceipt)
		v1.POST("/auctions/:id/transfer", h.transferAgent)
		v1.POST("/auctions/:id/delivery-code", h.issueDeliveryCode)
		v1.POST("/auctions/:id/deliver", h.confirmDelivery)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, dep := range h.checks {
		if err := dep.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
