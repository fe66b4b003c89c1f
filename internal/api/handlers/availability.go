package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"staybook/internal/availability"
	"staybook/internal/core"
)

// maxBatchRooms bounds the rooms of one availability search
const maxBatchRooms = 50

// BatchAvailability fetches availability for several rooms at once
type BatchAvailability interface {
	GetBatchAvailability(ctx context.Context, rooms []core.RoomKey, r core.DateRange, guests core.Guests) (*availability.BatchResult, error)
}

// RoomLister resolves configured rooms
type RoomLister interface {
	Get(slug string) (*core.Room, error)
	List() []*core.Room
}

// AvailabilityHandler handles availability searches
type AvailabilityHandler struct {
	batch  BatchAvailability
	rooms  RoomLister
	logger *slog.Logger
}

// NewAvailabilityHandler creates a new availability handler
func NewAvailabilityHandler(batch BatchAvailability, rooms RoomLister, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{
		batch:  batch,
		rooms:  rooms,
		logger: logger,
	}
}

// roomAvailability is the per-room part of a search response
type roomAvailability struct {
	Slug            string             `json:"slug"`
	Name            string             `json:"name"`
	Status          string             `json:"status"` // "available", "unavailable" or "error"
	AvailableNights []string           `json:"available_nights,omitempty"`
	BookedNights    []string           `json:"booked_nights,omitempty"`
	Prices          map[string]float64 `json:"prices,omitempty"`
	MinStay         int                `json:"min_stay,omitempty"`
	MaxStay         int                `json:"max_stay,omitempty"`
	Error           string             `json:"error,omitempty"`
}

// SearchAvailability returns availability for a set of rooms
// GET /v1/availability?rooms=deluxe,studio&start=&end=&adults=&children=
func (h *AvailabilityHandler) SearchAvailability(c *gin.Context) {
	r, guests, ok := stayQuery(c)
	if !ok {
		return
	}

	rooms, ok := h.selectRooms(c)
	if !ok {
		return
	}

	keys := make([]core.RoomKey, 0, len(rooms))
	for _, room := range rooms {
		keys = append(keys, room.Key)
	}

	result, err := h.batch.GetBatchAvailability(c.Request.Context(), keys, r, guests)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response := make([]roomAvailability, 0, len(rooms))
	for _, room := range rooms {
		if rates, ok := result.Results[room.Key]; ok {
			response = append(response, formatAvailability(room, rates))
			continue
		}
		// Failure details stay in the logs
		response = append(response, roomAvailability{
			Slug:   room.Slug,
			Name:   room.Name,
			Status: "error",
			Error:  UnavailableMessage,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"start":    r.Start.Format(core.DateLayout),
		"end":      r.End.Format(core.DateLayout),
		"nights":   r.Nights(),
		"adults":   guests.Adults,
		"children": guests.Children,
		"rooms":    response,
		"timing": gin.H{
			"api_calls":     result.Timing.APICalls,
			"cache_hits":    result.Timing.CacheHits,
			"cache_misses":  result.Timing.CacheMisses,
			"total_time_ms": result.Timing.TotalTime.Milliseconds(),
		},
	})
}

// selectRooms resolves the rooms query parameter; an empty list means every room
func (h *AvailabilityHandler) selectRooms(c *gin.Context) ([]*core.Room, bool) {
	raw := strings.TrimSpace(c.Query("rooms"))
	if raw == "" {
		return h.rooms.List(), true
	}

	seen := make(map[string]bool)
	rooms := make([]*core.Room, 0)
	for _, slug := range strings.Split(raw, ",") {
		slug = strings.TrimSpace(slug)
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true

		room, err := h.rooms.Get(slug)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Room not found: " + slug,
				"code":  "ROOM_NOT_FOUND",
			})
			return nil, false
		}
		rooms = append(rooms, room)
	}

	if len(rooms) > maxBatchRooms {
		badRequest(c, "TOO_MANY_ROOMS", "too many rooms in one search")
		return nil, false
	}
	return rooms, true
}

func formatAvailability(room *core.Room, rates *core.AvailabilityResult) roomAvailability {
	status := "unavailable"
	if rates.IsBookable() {
		status = "available"
	}

	prices := make(map[string]float64, len(rates.Prices))
	for night, price := range rates.Prices {
		prices[night] = core.RoundMoney(price)
	}

	return roomAvailability{
		Slug:            room.Slug,
		Name:            room.Name,
		Status:          status,
		AvailableNights: rates.Available,
		BookedNights:    rates.Booked,
		Prices:          prices,
		MinStay:         rates.MinStay,
		MaxStay:         rates.MaxStay,
	}
}
