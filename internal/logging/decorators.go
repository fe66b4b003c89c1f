package logging

import (
	"context"
	"log/slog"
	"time"

	"staybook/internal/core"
)

// InventoryLogger wraps an InventorySource and logs every PMS lookup
type InventoryLogger struct {
	source core.InventorySource
	logger *slog.Logger
}

// NewInventoryLogger creates a new logging decorator for an InventorySource
func NewInventoryLogger(source core.InventorySource, logger *slog.Logger) core.InventorySource {
	return &InventoryLogger{
		source: source,
		logger: logger.With("interface", "InventorySource"),
	}
}

func (l *InventoryLogger) GetInventory(ctx context.Context, room core.RoomKey, r core.DateRange, guests core.Guests) (*core.AvailabilityResult, error) {
	start := time.Now()
	l.logger.Debug("GetInventory called",
		"room", room.String(),
		"range", r.String(),
		"adults", guests.Adults,
		"children", guests.Children)

	result, err := l.source.GetInventory(ctx, room, r, guests)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("GetInventory failed",
			"room", room.String(),
			"range", r.String(),
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Info("GetInventory completed",
		"room", room.String(),
		"range", r.String(),
		"endpoint", result.Source,
		"available_nights", len(result.Available),
		"booked_nights", len(result.Booked),
		"duration", duration)

	return result, nil
}

// BookingManagerLogger wraps a BookingManager and logs all method calls
type BookingManagerLogger struct {
	manager core.BookingManagerInterface
	logger  *slog.Logger
}

// NewBookingManagerLogger creates a new logging decorator for BookingManager
func NewBookingManagerLogger(manager core.BookingManagerInterface, logger *slog.Logger) core.BookingManagerInterface {
	return &BookingManagerLogger{
		manager: manager,
		logger:  logger.With("interface", "BookingManager"),
	}
}

func (l *BookingManagerLogger) Quote(ctx context.Context, req core.StayRequest) (*core.Quote, error) {
	start := time.Now()
	l.logger.Debug("Quote called",
		"room_slug", req.RoomSlug,
		"range", req.Range.String(),
		"adults", req.Guests.Adults,
		"children", req.Guests.Children)

	quote, err := l.manager.Quote(ctx, req)
	duration := time.Since(start)

	if err != nil {
		l.logger.Warn("Quote failed",
			"room_slug", req.RoomSlug,
			"range", req.Range.String(),
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Debug("Quote completed",
		"room_slug", req.RoomSlug,
		"range", req.Range.String(),
		"bookable", quote.Bookable,
		"total_price", quote.TotalPrice,
		"duration", duration)

	return quote, nil
}

func (l *BookingManagerLogger) CreateBooking(ctx context.Context, req core.BookingRequest) (*core.Booking, error) {
	start := time.Now()
	l.logger.Info("CreateBooking called",
		"room_slug", req.RoomSlug,
		"range", req.Range.String(),
		"adults", req.Guests.Adults,
		"children", req.Guests.Children)

	booking, err := l.manager.CreateBooking(ctx, req)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("CreateBooking failed",
			"room_slug", req.RoomSlug,
			"range", req.Range.String(),
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Info("CreateBooking completed",
		"room_slug", req.RoomSlug,
		"booking_id", booking.ID,
		"total_price", booking.TotalPrice,
		"loyalty_tier", booking.LoyaltyTier,
		"duration", duration)

	return booking, nil
}

func (l *BookingManagerLogger) CancelBooking(ctx context.Context, bookingID string) (*core.Booking, error) {
	start := time.Now()
	l.logger.Info("CancelBooking called",
		"booking_id", bookingID)

	booking, err := l.manager.CancelBooking(ctx, bookingID)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("CancelBooking failed",
			"booking_id", bookingID,
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Info("CancelBooking completed",
		"booking_id", bookingID,
		"room_slug", booking.RoomSlug,
		"duration", duration)

	return booking, nil
}

func (l *BookingManagerLogger) GetBooking(ctx context.Context, bookingID string) (*core.Booking, error) {
	start := time.Now()
	l.logger.Debug("GetBooking called",
		"booking_id", bookingID)

	booking, err := l.manager.GetBooking(ctx, bookingID)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("GetBooking failed",
			"booking_id", bookingID,
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Debug("GetBooking completed",
		"booking_id", bookingID,
		"status", booking.Status,
		"duration", duration)

	return booking, nil
}
