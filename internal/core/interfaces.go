package core

import "context"

// InventorySource fetches room availability and nightly prices from the PMS
type InventorySource interface {
	GetInventory(ctx context.Context, room RoomKey, r DateRange, guests Guests) (*AvailabilityResult, error)
}

// BookingManagerInterface defines the contract for quoting and booking stays
type BookingManagerInterface interface {
	Quote(ctx context.Context, req StayRequest) (*Quote, error)
	CreateBooking(ctx context.Context, req BookingRequest) (*Booking, error)
	CancelBooking(ctx context.Context, bookingID string) (*Booking, error)
	GetBooking(ctx context.Context, bookingID string) (*Booking, error)
}
