package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"staybook/internal/cache"
	"staybook/internal/core"
	"staybook/internal/pms"
)

// TokenAdmin exposes PMS credential management
type TokenAdmin interface {
	Status() pms.TokenStatus
	SetRefreshToken(ctx context.Context, refreshToken string) error
}

// CacheAdmin exposes availability cache management
type CacheAdmin interface {
	InvalidateRoom(room core.RoomKey) int
	InvalidatePattern(pattern string) (int, error)
	ClearAll()
	CacheStats() cache.Stats
	APICalls() int64
}

// AdminHandler handles administrative operations
type AdminHandler struct {
	tokens TokenAdmin
	cache  CacheAdmin
	rooms  RoomLister
	logger *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(tokens TokenAdmin, cache CacheAdmin, rooms RoomLister, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		tokens: tokens,
		cache:  cache,
		rooms:  rooms,
		logger: logger,
	}
}

// UpdatePMSRefreshToken replaces the PMS refresh token
// POST /v1/admin/pms/refresh-token
func (h *AdminHandler) UpdatePMSRefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"code":    "INVALID_REQUEST",
			"details": err.Error(),
		})
		return
	}

	if h.tokens.Status().Mode == pms.AuthModeLongLived {
		c.JSON(http.StatusConflict, gin.H{
			"error": "PMS is configured with a long-lived token",
			"code":  "LONG_LIVED_TOKEN_MODE",
		})
		return
	}

	if err := h.tokens.SetRefreshToken(c.Request.Context(), strings.TrimSpace(req.RefreshToken)); err != nil {
		h.logger.Error("Failed to save refresh token",
			"component", "api.admin",
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to save refresh token",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	h.logger.Info("PMS refresh token updated successfully",
		"component", "api.admin",
	)

	c.JSON(http.StatusOK, gin.H{
		"message": "Refresh token updated successfully",
	})
}

// GetPMSTokenStatus returns the status of the PMS access token
// GET /v1/admin/pms/token-status
func (h *AdminHandler) GetPMSTokenStatus(c *gin.Context) {
	status := h.tokens.Status()

	accessTokenStatus := "not_cached"
	switch {
	case status.Mode == pms.AuthModeLongLived:
		accessTokenStatus = "long_lived"
	case status.Cached && status.ExpiresInSeconds > 0:
		accessTokenStatus = "valid"
	case status.Cached:
		accessTokenStatus = "expired"
	}

	c.JSON(http.StatusOK, gin.H{
		"mode":                status.Mode,
		"access_token_status": accessTokenStatus,
		"token":               status,
	})
}

// InvalidateCache drops cached availability
// POST /v1/admin/cache/invalidate
// Body: {"room": "deluxe"} | {"pattern": "101-201:2026-07-*"} | {"all": true}
func (h *AdminHandler) InvalidateCache(c *gin.Context) {
	var req struct {
		Room    string `json:"room"`
		Pattern string `json:"pattern"`
		All     bool   `json:"all"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"code":    "INVALID_REQUEST",
			"details": err.Error(),
		})
		return
	}

	set := 0
	for _, given := range []bool{req.Room != "", req.Pattern != "", req.All} {
		if given {
			set++
		}
	}
	if set != 1 {
		badRequest(c, "INVALID_REQUEST", "exactly one of room, pattern or all is required")
		return
	}

	var removed int
	switch {
	case req.All:
		removed = h.cache.CacheStats().Entries
		h.cache.ClearAll()
	case req.Room != "":
		room, err := h.rooms.Get(req.Room)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		removed = h.cache.InvalidateRoom(room.Key)
	default:
		var err error
		removed, err = h.cache.InvalidatePattern(req.Pattern)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
	}

	h.logger.Info("Availability cache invalidated",
		"component", "api.admin",
		"room", req.Room,
		"pattern", req.Pattern,
		"all", req.All,
		"removed", removed,
	)

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// GetCacheStats returns cache counters
// GET /v1/admin/cache/stats
func (h *AdminHandler) GetCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cache":         h.cache.CacheStats(),
		"pms_api_calls": h.cache.APICalls(),
	})
}
