package core

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// DateLayout is the calendar date format used on every boundary (PMS, cache keys, API)
const DateLayout = "2006-01-02"

// MaxRangeNights bounds any date range accepted for availability, pricing or booking
const MaxRangeNights = 365

const secondsPerDay = 24 * 60 * 60

// RoomKey identifies one bookable unit in the PMS
type RoomKey struct {
	PropertyID string
	RoomID     string
}

// String returns the stable "{propertyId}-{roomId}" form used in cache keys
func (k RoomKey) String() string {
	return k.PropertyID + "-" + k.RoomID
}

// Validate validates a RoomKey
func (k RoomKey) Validate() error {
	if k.PropertyID == "" || k.RoomID == "" {
		return fmt.Errorf("%w: property and room IDs are required", ErrValidation)
	}
	return nil
}

// DateRange is a half-open range of calendar dates [Start, End)
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange normalizes both ends to UTC midnight and requires Start < End
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: NormalizeDate(start), End: NormalizeDate(end)}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// Validate requires Start < End and at most MaxRangeNights nights
func (r DateRange) Validate() error {
	if !r.Start.Before(r.End) {
		return fmt.Errorf("%w: start date %s must be before end date %s",
			ErrValidation, r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}
	if n := r.Nights(); n > MaxRangeNights {
		return fmt.Errorf("%w: %d nights exceeds the maximum of %d", ErrValidation, n, MaxRangeNights)
	}
	return nil
}

// ParseDateRange parses two "2006-01-02" dates into a DateRange
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: invalid start date %q", ErrValidation, start)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: invalid end date %q", ErrValidation, end)
	}
	return NewDateRange(s, e)
}

// Nights returns the number of nights in the range.
// Counted on Unix seconds since time.Duration saturates after about 292 years.
func (r DateRange) Nights() int {
	return DaysBetween(r.Start, r.End)
}

// DaysBetween returns the number of calendar days from a to b
func DaysBetween(a, b time.Time) int {
	return int((NormalizeDate(b).Unix() - NormalizeDate(a).Unix()) / secondsPerDay)
}

// Dates returns every night of the range in order
func (r DateRange) Dates() []time.Time {
	dates := make([]time.Time, 0, r.Nights())
	for d := r.Start; d.Before(r.End); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}

// Contains reports whether the night d falls inside the range
func (r DateRange) Contains(d time.Time) bool {
	d = NormalizeDate(d)
	return !d.Before(r.Start) && d.Before(r.End)
}

// Overlaps reports whether two ranges share at least one night
func (r DateRange) Overlaps(o DateRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// String returns "start..end"
func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// NormalizeDate drops the time component, keeping the calendar date in UTC
func NormalizeDate(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Guests describes the party for a stay
type Guests struct {
	Adults   int
	Children int
}

// Total returns adults plus children
func (g Guests) Total() int {
	return g.Adults + g.Children
}

// Validate validates a guest composition
func (g Guests) Validate() error {
	if g.Adults < 1 {
		return fmt.Errorf("%w: at least one adult is required", ErrValidation)
	}
	if g.Children < 0 {
		return fmt.Errorf("%w: children cannot be negative", ErrValidation)
	}
	return nil
}

// CacheKey composes the availability cache key for a room, range and party.
// Any change to the guest composition yields a different key.
func CacheKey(room RoomKey, r DateRange, g Guests) string {
	return fmt.Sprintf("%s:%s:%s:%d:%d",
		room.String(), r.Start.Format(DateLayout), r.End.Format(DateLayout), g.Adults, g.Children)
}

// Room is a bookable apartment as configured for the site
type Room struct {
	Slug    string // public identifier, e.g. "deluxe"
	Name    string
	Key     RoomKey
	Pricing RoomPricing
}

// NightlyQuote is the PMS state of one night
type NightlyQuote struct {
	Date      time.Time
	BasePrice float64
	Available bool
	MinStay   int // 0 = no restriction
	MaxStay   int // 0 = no restriction
}

// AvailabilityResult is the availability and nightly prices of one room for a range.
// Values are shared through the cache and must be treated as read-only; use Clone to modify.
type AvailabilityResult struct {
	Room      RoomKey
	Range     DateRange
	Available []string           // available nights, ascending
	Booked    []string           // unavailable nights, ascending
	Prices    map[string]float64 // night -> price
	MinStay   int
	MaxStay   int

	// GuestInclusive is true when Prices already reflect the requested party
	// (offers endpoint); otherwise they are base occupancy prices.
	GuestInclusive bool
	Source         string
	FetchedAt      time.Time
}

// NewAvailabilityResult builds a result from a complete, ordered set of quotes
func NewAvailabilityResult(room RoomKey, r DateRange, quotes []NightlyQuote, source string, guestInclusive bool) *AvailabilityResult {
	res := &AvailabilityResult{
		Room:           room,
		Range:          r,
		Available:      make([]string, 0, len(quotes)),
		Booked:         make([]string, 0),
		Prices:         make(map[string]float64, len(quotes)),
		GuestInclusive: guestInclusive,
		Source:         source,
		FetchedAt:      time.Now(),
	}

	for i, q := range quotes {
		date := q.Date.Format(DateLayout)
		if q.Available {
			res.Available = append(res.Available, date)
		} else {
			res.Booked = append(res.Booked, date)
		}
		if q.BasePrice > 0 {
			res.Prices[date] = q.BasePrice
		}
		// Stay restrictions apply to the arrival night
		if i == 0 {
			res.MinStay = q.MinStay
			res.MaxStay = q.MaxStay
		}
	}

	return res
}

// Clone returns a deep copy
func (r *AvailabilityResult) Clone() *AvailabilityResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Available = slices.Clone(r.Available)
	c.Booked = slices.Clone(r.Booked)
	c.Prices = maps.Clone(r.Prices)
	return &c
}

// IsBookable reports whether the whole range can be booked as one stay
func (r *AvailabilityResult) IsBookable() bool {
	if len(r.Booked) > 0 {
		return false
	}
	nights := r.Range.Nights()
	if r.MinStay > 0 && nights < r.MinStay {
		return false
	}
	if r.MaxStay > 0 && nights > r.MaxStay {
		return false
	}
	return len(r.Available) == nights
}

// DiscountTier is a stay-length discount unlocked at MinNights
type DiscountTier struct {
	MinNights       int     `json:"min_nights"`
	DiscountPercent float64 `json:"discount_percent"`
	Label           string  `json:"label"`
}

// LoyaltyTier is a returning-guest discount unlocked after MinBookings completed stays
type LoyaltyTier struct {
	MinBookings     int     `json:"min_bookings"`
	DiscountPercent float64 `json:"discount_percent"`
	Label           string  `json:"label"`
}

// RoomPricing holds the occupancy surcharge rules of a room
type RoomPricing struct {
	BaseOccupancy int     // guests included in the nightly rate
	ExtraAdult    float64 // per extra adult per night
	ExtraChild    float64 // per extra child per night
	MaxGuests     int     // 0 = unlimited
}

// DailyPrice is one night of a priced stay. Amounts are unrounded.
type DailyPrice struct {
	Date       time.Time
	BasePrice  float64
	Surcharge  float64
	Discount   float64
	FinalPrice float64
}

// StayPricing is the derived price of a stay
type StayPricing struct {
	Room        RoomKey
	Range       DateRange
	Nights      int
	Tier        *DiscountTier
	DailyPrices []DailyPrice
	TotalPrice  float64 // rounded to cents
}

// BookingStatus represents the state of a booking
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Booking is a confirmed stay recorded locally
type Booking struct {
	ID          string
	RoomSlug    string
	Room        RoomKey
	Range       DateRange
	Guests      Guests
	GuestName   string
	GuestEmail  string
	TotalPrice  float64
	LoyaltyTier string
	Status      BookingStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate validates a Booking
func (b *Booking) Validate() error {
	if err := b.Room.Validate(); err != nil {
		return err
	}
	if err := b.Guests.Validate(); err != nil {
		return err
	}
	if !b.Range.Start.Before(b.Range.End) {
		return fmt.Errorf("%w: invalid stay dates", ErrValidation)
	}
	if b.GuestEmail == "" {
		return fmt.Errorf("%w: guest email is required", ErrValidation)
	}
	return nil
}
