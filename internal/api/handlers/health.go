package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	rooms RoomLister
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(rooms RoomLister) *HealthHandler {
	return &HealthHandler{rooms: rooms}
}

// GetHealth returns the health status of the service
// GET /health
func (h *HealthHandler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"service": "staybook",
		"rooms":   len(h.rooms.List()),
	})
}
