package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"staybook/internal/core"
)

// RoomsHandler handles room listing and stay quotes
type RoomsHandler struct {
	rooms   RoomLister
	manager core.BookingManagerInterface
	logger  *slog.Logger
}

// NewRoomsHandler creates a new rooms handler
func NewRoomsHandler(rooms RoomLister, manager core.BookingManagerInterface, logger *slog.Logger) *RoomsHandler {
	return &RoomsHandler{
		rooms:   rooms,
		manager: manager,
		logger:  logger,
	}
}

// ListRooms returns the configured rooms
// GET /v1/rooms
func (h *RoomsHandler) ListRooms(c *gin.Context) {
	rooms := h.rooms.List()

	response := make([]gin.H, 0, len(rooms))
	for _, room := range rooms {
		item := gin.H{
			"slug":           room.Slug,
			"name":           room.Name,
			"base_occupancy": room.Pricing.BaseOccupancy,
		}
		if room.Pricing.MaxGuests > 0 {
			item["max_guests"] = room.Pricing.MaxGuests
		}
		response = append(response, item)
	}

	c.JSON(http.StatusOK, gin.H{"rooms": response})
}

// GetQuote prices a stay in one room
// GET /v1/rooms/:slug/quote?start=&end=&adults=&children=&email=
func (h *RoomsHandler) GetQuote(c *gin.Context) {
	r, guests, ok := stayQuery(c)
	if !ok {
		return
	}

	quote, err := h.manager.Quote(c.Request.Context(), core.StayRequest{
		RoomSlug:   c.Param("slug"),
		Range:      r,
		Guests:     guests,
		GuestEmail: strings.TrimSpace(c.Query("email")),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, formatQuote(quote, guests))
}

func formatQuote(quote *core.Quote, guests core.Guests) gin.H {
	rates := quote.Availability
	response := gin.H{
		"room":             quote.Room.Slug,
		"name":             quote.Room.Name,
		"start":            rates.Range.Start.Format(core.DateLayout),
		"end":              rates.Range.End.Format(core.DateLayout),
		"nights":           rates.Range.Nights(),
		"adults":           guests.Adults,
		"children":         guests.Children,
		"bookable":         quote.Bookable,
		"available_nights": rates.Available,
		"booked_nights":    rates.Booked,
	}
	if rates.MinStay > 0 {
		response["min_stay"] = rates.MinStay
	}
	if rates.MaxStay > 0 {
		response["max_stay"] = rates.MaxStay
	}
	if quote.Pricing == nil {
		return response
	}

	daily := make([]gin.H, 0, len(quote.Pricing.DailyPrices))
	for _, day := range quote.Pricing.DailyPrices {
		daily = append(daily, gin.H{
			"date":        day.Date.Format(core.DateLayout),
			"base_price":  core.RoundMoney(day.BasePrice),
			"surcharge":   core.RoundMoney(day.Surcharge),
			"discount":    core.RoundMoney(day.Discount),
			"final_price": core.RoundMoney(day.FinalPrice),
		})
	}
	response["daily_prices"] = daily
	response["stay_price"] = quote.Pricing.TotalPrice
	response["total_price"] = quote.TotalPrice

	if quote.Pricing.Tier != nil {
		response["discount_tier"] = quote.Pricing.Tier
	}
	if quote.LoyaltyTier != nil {
		response["loyalty_tier"] = quote.LoyaltyTier
	}
	return response
}
