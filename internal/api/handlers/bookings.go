package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"staybook/internal/core"
)

// BookingsHandler handles booking requests
type BookingsHandler struct {
	manager core.BookingManagerInterface
	logger  *slog.Logger
}

// NewBookingsHandler creates a new bookings handler
func NewBookingsHandler(manager core.BookingManagerInterface, logger *slog.Logger) *BookingsHandler {
	return &BookingsHandler{
		manager: manager,
		logger:  logger,
	}
}

type createBookingRequest struct {
	Room       string `json:"room" binding:"required"`
	Start      string `json:"start" binding:"required"`
	End        string `json:"end" binding:"required"`
	Adults     int    `json:"adults" binding:"required,min=1"`
	Children   int    `json:"children" binding:"min=0"`
	GuestName  string `json:"guest_name" binding:"required"`
	GuestEmail string `json:"guest_email" binding:"required"`
}

// CreateBooking books a stay
// POST /v1/bookings
func (h *BookingsHandler) CreateBooking(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"code":    "INVALID_REQUEST",
			"details": err.Error(),
		})
		return
	}

	r, err := core.ParseDateRange(req.Start, req.End)
	if err != nil {
		badRequest(c, "INVALID_DATE_RANGE", clientMessage(err))
		return
	}

	booking, err := h.manager.CreateBooking(c.Request.Context(), core.BookingRequest{
		StayRequest: core.StayRequest{
			RoomSlug:   req.Room,
			Range:      r,
			Guests:     core.Guests{Adults: req.Adults, Children: req.Children},
			GuestEmail: req.GuestEmail,
		},
		GuestName: req.GuestName,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, formatBooking(booking))
}

// GetBooking returns a booking
// GET /v1/bookings/:id
func (h *BookingsHandler) GetBooking(c *gin.Context) {
	booking, err := h.manager.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, formatBooking(booking))
}

// CancelBooking cancels a booking
// DELETE /v1/bookings/:id
func (h *BookingsHandler) CancelBooking(c *gin.Context) {
	booking, err := h.manager.CancelBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, formatBooking(booking))
}

func formatBooking(b *core.Booking) gin.H {
	response := gin.H{
		"id":          b.ID,
		"room":        b.RoomSlug,
		"start":       b.Range.Start.Format(core.DateLayout),
		"end":         b.Range.End.Format(core.DateLayout),
		"nights":      b.Range.Nights(),
		"adults":      b.Guests.Adults,
		"children":    b.Guests.Children,
		"guest_name":  b.GuestName,
		"guest_email": b.GuestEmail,
		"total_price": b.TotalPrice,
		"status":      b.Status,
		"created_at":  b.CreatedAt,
		"updated_at":  b.UpdatedAt,
	}
	if b.LoyaltyTier != "" {
		response["loyalty_tier"] = b.LoyaltyTier
	}
	return response
}
