package storage

import (
	"context"
	"time"

	"staybook/internal/core"
	"staybook/internal/pms"
)

// Storage defines the interface for data persistence
type Storage interface {
	// Bookings
	CreateBooking(ctx context.Context, booking *core.Booking) error
	GetBooking(ctx context.Context, id string) (*core.Booking, error)
	UpdateBooking(ctx context.Context, booking *core.Booking) error
	ListBookingsByEmail(ctx context.Context, email string) ([]*core.Booking, error)
	CountOverlappingBookings(ctx context.Context, room core.RoomKey, r core.DateRange) (int, error)
	CountCompletedBookings(ctx context.Context, email string, asOf time.Time) (int, error)

	// PMS credentials
	GetPMSTokens(ctx context.Context) (*pms.Tokens, error)
	SavePMSTokens(ctx context.Context, tokens *pms.Tokens) error

	// Lifecycle
	Close() error
}
