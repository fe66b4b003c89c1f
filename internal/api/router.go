package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"staybook/internal/api/handlers"
	"staybook/internal/api/middleware"
	"staybook/internal/core"
)

// RouterConfig holds dependencies for the API router
type RouterConfig struct {
	Manager      core.BookingManagerInterface
	Availability handlers.BatchAvailability
	Rooms        handlers.RoomLister
	Tokens       handlers.TokenAdmin // optional: admin PMS routes are skipped when nil
	Cache        handlers.CacheAdmin
	APIKey       string
	RateLimiter  *middleware.IPRateLimiter // optional: nil disables public rate limiting
	Logger       *slog.Logger
}

// NewRouter creates and configures the Gin router
func NewRouter(config RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(config.Logger))
	router.Use(middleware.Logging(config.Logger))
	router.Use(middleware.NoiseFilter(config.Logger))
	router.Use(middleware.ContentType())

	// Health check (no auth, no rate limit)
	healthHandler := handlers.NewHealthHandler(config.Rooms)
	router.GET("/health", healthHandler.GetHealth)

	// Public API v1 routes
	v1 := router.Group("/v1")
	v1.Use(middleware.RateLimit(config.RateLimiter, config.Logger))
	{
		availabilityHandler := handlers.NewAvailabilityHandler(
			config.Availability,
			config.Rooms,
			config.Logger,
		)
		v1.GET("/availability", availabilityHandler.SearchAvailability)

		roomsHandler := handlers.NewRoomsHandler(
			config.Rooms,
			config.Manager,
			config.Logger,
		)
		v1.GET("/rooms", roomsHandler.ListRooms)
		v1.GET("/rooms/:slug/quote", roomsHandler.GetQuote)

		bookingsHandler := handlers.NewBookingsHandler(
			config.Manager,
			config.Logger,
		)
		v1.POST("/bookings", bookingsHandler.CreateBooking)
		v1.GET("/bookings/:id", bookingsHandler.GetBooking)
		v1.DELETE("/bookings/:id", bookingsHandler.CancelBooking)
	}

	// Admin routes (API key)
	admin := router.Group("/v1/admin")
	admin.Use(middleware.AdminAuth(config.APIKey))
	{
		adminHandler := handlers.NewAdminHandler(
			config.Tokens,
			config.Cache,
			config.Rooms,
			config.Logger,
		)
		if config.Tokens != nil {
			admin.POST("/pms/refresh-token", adminHandler.UpdatePMSRefreshToken)
			admin.GET("/pms/token-status", adminHandler.GetPMSTokenStatus)
		}
		admin.POST("/cache/invalidate", adminHandler.InvalidateCache)
		admin.GET("/cache/stats", adminHandler.GetCacheStats)
	}

	return router
}
