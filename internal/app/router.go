package app

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"rideledger/internal/handler"
	"rideledger/internal/metrics"
	"rideledger/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RideHandler *handler.RideHandler
	KeyHandler  *handler.KeyHandler
	RedisClient *redis.Client // optional, enables idempotency replay
	NewRelicApp *newrelic.Application
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Registry    *prometheus.Registry
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.Tracing())
	router.Use(middleware.Logging(deps.Logger))
	if deps.Metrics != nil {
		router.Use(middleware.Metrics(deps.Metrics))
	}
	router.Use(middleware.CORSMiddleware())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.Use(middleware.Caller())
	v1.Use(middleware.IdempotencyMiddleware(deps.RedisClient))
	{
		rides := v1.Group("/rides")
		{
			rides.POST("", deps.RideHandler.CreateRide)
			rides.GET("/:rider/:unique_id", deps.RideHandler.GetRide)
			rides.POST("/:rider/:unique_id/accept", deps.RideHandler.AcceptRide)
			rides.POST("/:rider/:unique_id/complete", deps.RideHandler.CompleteRide)
			rides.POST("/:rider/:unique_id/cancel", deps.RideHandler.CancelRide)
			rides.DELETE("/:rider/:unique_id", deps.RideHandler.CloseRide)
		}

		keys := v1.Group("/keys")
		{
			keys.GET("/:rider/:unique_id", deps.KeyHandler.DeriveKey)
		}
	}

	return router
}
