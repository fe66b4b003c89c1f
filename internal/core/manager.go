package core

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"staybook/internal/idgen"
)

// Storage interface defines required booking storage operations
type Storage interface {
	CreateBooking(ctx context.Context, booking *Booking) error
	GetBooking(ctx context.Context, id string) (*Booking, error)
	UpdateBooking(ctx context.Context, booking *Booking) error

	// CountOverlappingBookings counts confirmed bookings of room sharing a night with r
	CountOverlappingBookings(ctx context.Context, room RoomKey, r DateRange) (int, error)
	// CountCompletedBookings counts confirmed bookings of email that ended on or before asOf
	CountCompletedBookings(ctx context.Context, email string, asOf time.Time) (int, error)
}

// AvailabilityProvider serves cached availability and takes booking invalidations
type AvailabilityProvider interface {
	GetAvailability(ctx context.Context, room RoomKey, r DateRange, guests Guests) (*AvailabilityResult, error)
	GetFreshAvailability(ctx context.Context, room RoomKey, r DateRange, guests Guests) (*AvailabilityResult, error)
	InvalidateStay(room RoomKey, stay DateRange) int
}

// RoomDirectory interface for room lookup
type RoomDirectory interface {
	Get(slug string) (*Room, error)
}

// StayRequest asks about one room for a date range and party
type StayRequest struct {
	RoomSlug   string
	Range      DateRange
	Guests     Guests
	GuestEmail string // optional for quotes; enables the loyalty discount
}

// BookingRequest asks to book a stay
type BookingRequest struct {
	StayRequest
	GuestName string
}

// Quote is the priced answer to a StayRequest
type Quote struct {
	Room         *Room
	Availability *AvailabilityResult
	Bookable     bool
	Pricing      *StayPricing // nil when the stay is not bookable
	LoyaltyTier  *LoyaltyTier
	TotalPrice   float64 // stay price after the loyalty discount
}

// BookingManager quotes and books stays
type BookingManager struct {
	storage      Storage
	availability AvailabilityProvider
	rooms        RoomDirectory
	calculator   *PriceCalculator
	loyalty      []LoyaltyTier
	now          func() time.Time

	mu sync.Mutex // serializes the check-then-create sequence of bookings
}

// NewBookingManager creates a new booking manager
func NewBookingManager(storage Storage, availability AvailabilityProvider, rooms RoomDirectory, calculator *PriceCalculator, loyalty []LoyaltyTier) *BookingManager {
	return &BookingManager{
		storage:      storage,
		availability: availability,
		rooms:        rooms,
		calculator:   calculator,
		loyalty:      loyalty,
		now:          time.Now,
	}
}

// Quote prices a stay from cached availability
func (m *BookingManager) Quote(ctx context.Context, req StayRequest) (*Quote, error) {
	room, err := m.validateStay(req)
	if err != nil {
		return nil, err
	}

	rates, err := m.availability.GetAvailability(ctx, room.Key, req.Range, req.Guests)
	if err != nil {
		return nil, fmt.Errorf("failed to get availability for %s: %w", room.Slug, err)
	}

	return m.price(ctx, room, req, rates)
}

// CreateBooking books a stay against fresh PMS availability.
// The affected cached ranges are invalidated once the booking is stored.
func (m *BookingManager) CreateBooking(ctx context.Context, req BookingRequest) (*Booking, error) {
	// Validate inputs
	room, err := m.validateStay(req.StayRequest)
	if err != nil {
		return nil, err
	}
	req.GuestName = strings.TrimSpace(req.GuestName)
	if req.GuestName == "" {
		return nil, fmt.Errorf("%w: guest name is required", ErrValidation)
	}
	if _, err := mail.ParseAddress(req.GuestEmail); err != nil {
		return nil, fmt.Errorf("%w: invalid guest email %q", ErrValidation, req.GuestEmail)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Never book from a cached range
	rates, err := m.availability.GetFreshAvailability(ctx, room.Key, req.Range, req.Guests)
	if err != nil {
		return nil, fmt.Errorf("failed to get availability for %s: %w", room.Slug, err)
	}

	overlapping, err := m.storage.CountOverlappingBookings(ctx, room.Key, req.Range)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing bookings: %w", err)
	}
	if overlapping > 0 {
		return nil, fmt.Errorf("%w: %s already has a booking between %s", ErrRoomNotBookable, room.Slug, req.Range)
	}

	quote, err := m.price(ctx, room, req.StayRequest, rates)
	if err != nil {
		return nil, err
	}
	if !quote.Bookable {
		return nil, fmt.Errorf("%w: %s for %s", ErrRoomNotBookable, room.Slug, req.Range)
	}

	now := m.now()
	booking := &Booking{
		ID:         idgen.NewBooking(),
		RoomSlug:   room.Slug,
		Room:       room.Key,
		Range:      req.Range,
		Guests:     req.Guests,
		GuestName:  req.GuestName,
		GuestEmail: normalizeEmail(req.GuestEmail),
		TotalPrice: quote.TotalPrice,
		Status:     BookingStatusConfirmed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if quote.LoyaltyTier != nil {
		booking.LoyaltyTier = quote.LoyaltyTier.Label
	}

	// Save booking
	if err := m.storage.CreateBooking(ctx, booking); err != nil {
		return nil, fmt.Errorf("failed to save booking: %w", err)
	}

	m.availability.InvalidateStay(room.Key, req.Range)
	return booking, nil
}

// CancelBooking cancels a confirmed booking and invalidates its cached ranges
func (m *BookingManager) CancelBooking(ctx context.Context, bookingID string) (*Booking, error) {
	booking, err := m.storage.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != BookingStatusConfirmed {
		return nil, ErrBookingNotActive
	}

	booking.Status = BookingStatusCancelled
	booking.UpdatedAt = m.now()
	if err := m.storage.UpdateBooking(ctx, booking); err != nil {
		return nil, fmt.Errorf("failed to update booking: %w", err)
	}

	m.availability.InvalidateStay(booking.Room, booking.Range)
	return booking, nil
}

// GetBooking retrieves a booking
func (m *BookingManager) GetBooking(ctx context.Context, bookingID string) (*Booking, error) {
	return m.storage.GetBooking(ctx, bookingID)
}

// validateStay checks the request and resolves its room
func (m *BookingManager) validateStay(req StayRequest) (*Room, error) {
	if err := req.Guests.Validate(); err != nil {
		return nil, err
	}
	if err := req.Range.Validate(); err != nil {
		return nil, err
	}
	today := NormalizeDate(m.now())
	if req.Range.Start.Before(today) {
		return nil, fmt.Errorf("%w: arrival %s is in the past", ErrValidation, req.Range.Start.Format(DateLayout))
	}

	room, err := m.rooms.Get(req.RoomSlug)
	if err != nil {
		return nil, err
	}
	if room.Pricing.MaxGuests > 0 && req.Guests.Total() > room.Pricing.MaxGuests {
		return nil, fmt.Errorf("%w: %d guests, %s allows %d", ErrTooManyGuests, req.Guests.Total(), room.Slug, room.Pricing.MaxGuests)
	}
	return room, nil
}

// price derives the stay price and applies the guest's loyalty tier
func (m *BookingManager) price(ctx context.Context, room *Room, req StayRequest, rates *AvailabilityResult) (*Quote, error) {
	quote := &Quote{
		Room:         room,
		Availability: rates,
		Bookable:     rates.IsBookable(),
	}
	if !quote.Bookable {
		return quote, nil
	}

	pricing, err := m.calculator.CalculateStayPrice(room.Key, req.Range, req.Guests, rates)
	if err != nil {
		return nil, err
	}
	quote.Pricing = pricing
	quote.TotalPrice = pricing.TotalPrice

	if req.GuestEmail == "" || len(m.loyalty) == 0 {
		return quote, nil
	}

	completed, err := m.storage.CountCompletedBookings(ctx, normalizeEmail(req.GuestEmail), m.now())
	if err != nil {
		return nil, fmt.Errorf("failed to count completed bookings: %w", err)
	}
	if tier, ok := LoyaltyTierFor(m.loyalty, completed); ok {
		quote.LoyaltyTier = &tier
		quote.TotalPrice = ApplyLoyalty(pricing.TotalPrice, tier)
	}
	return quote, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
