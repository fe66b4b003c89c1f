package core

import (
	"fmt"
	"math"
	"slices"
)

// DefaultBaseOccupancy is the party size included in a nightly rate unless a room says otherwise
const DefaultBaseOccupancy = 2

// PriceCalculator turns nightly rates into a stay price with occupancy surcharges
// and the stay-length discount. Loyalty discounts are applied to TotalPrice by the
// booking flow with ApplyLoyalty.
type PriceCalculator struct {
	tiers    []DiscountTier // sorted by MinNights, highest first
	rooms    map[RoomKey]RoomPricing
	fallback RoomPricing
}

// NewPriceCalculator creates a calculator from static configuration
func NewPriceCalculator(tiers []DiscountTier, rooms map[RoomKey]RoomPricing, fallback RoomPricing) *PriceCalculator {
	sorted := slices.Clone(tiers)
	slices.SortFunc(sorted, func(a, b DiscountTier) int {
		return b.MinNights - a.MinNights
	})

	if fallback.BaseOccupancy <= 0 {
		fallback.BaseOccupancy = DefaultBaseOccupancy
	}

	roomsCopy := make(map[RoomKey]RoomPricing, len(rooms))
	for k, v := range rooms {
		if v.BaseOccupancy <= 0 {
			v.BaseOccupancy = fallback.BaseOccupancy
		}
		roomsCopy[k] = v
	}

	return &PriceCalculator{
		tiers:    sorted,
		rooms:    roomsCopy,
		fallback: fallback,
	}
}

// TierFor returns the highest discount tier unlocked by a stay of the given length
func (c *PriceCalculator) TierFor(nights int) (DiscountTier, bool) {
	for _, t := range c.tiers {
		if nights >= t.MinNights {
			return t, true
		}
	}
	return DiscountTier{}, false
}

// PricingFor returns the surcharge rules of a room
func (c *PriceCalculator) PricingFor(room RoomKey) RoomPricing {
	if p, ok := c.rooms[room]; ok {
		return p
	}
	return c.fallback
}

// Surcharge returns the per-night occupancy surcharge for a party.
// Base occupancy slots are filled by adults first; each adult beyond them pays
// ExtraAdult and each child that does not fit in a remaining slot pays ExtraChild.
func (p RoomPricing) Surcharge(g Guests) float64 {
	extraAdults := max(0, g.Adults-p.BaseOccupancy)
	freeSlots := max(0, p.BaseOccupancy-g.Adults)
	extraChildren := max(0, g.Children-freeSlots)
	return float64(extraAdults)*p.ExtraAdult + float64(extraChildren)*p.ExtraChild
}

// CalculateStayPrice prices every night of r and sums the result.
// The discount tier is selected once from the total stay length and applied to all nights.
func (c *PriceCalculator) CalculateStayPrice(room RoomKey, r DateRange, guests Guests, rates *AvailabilityResult) (*StayPricing, error) {
	if err := guests.Validate(); err != nil {
		return nil, err
	}
	if rates == nil {
		return nil, fmt.Errorf("%w: nightly rates are required", ErrValidation)
	}

	pricing := c.PricingFor(room)
	if pricing.MaxGuests > 0 && guests.Total() > pricing.MaxGuests {
		return nil, fmt.Errorf("%w: %d guests, room allows %d", ErrTooManyGuests, guests.Total(), pricing.MaxGuests)
	}

	nights := r.Nights()
	result := &StayPricing{
		Room:        room,
		Range:       r,
		Nights:      nights,
		DailyPrices: make([]DailyPrice, 0, nights),
	}

	var discountRate float64
	if tier, ok := c.TierFor(nights); ok {
		result.Tier = &tier
		discountRate = tier.DiscountPercent / 100
	}

	surcharge := 0.0
	if !rates.GuestInclusive {
		surcharge = pricing.Surcharge(guests)
	}

	total := 0.0
	for _, d := range r.Dates() {
		key := d.Format(DateLayout)
		base, ok := rates.Prices[key]
		if !ok {
			return nil, fmt.Errorf("%w: no rate for %s", ErrValidation, key)
		}

		nightly := base + surcharge
		discount := nightly * discountRate
		final := nightly - discount

		result.DailyPrices = append(result.DailyPrices, DailyPrice{
			Date:       d,
			BasePrice:  base,
			Surcharge:  surcharge,
			Discount:   discount,
			FinalPrice: final,
		})
		total += final
	}

	result.TotalPrice = RoundMoney(total)
	return result, nil
}

// LoyaltyTierFor returns the highest loyalty tier reached with the given number of completed bookings
func LoyaltyTierFor(tiers []LoyaltyTier, completedBookings int) (LoyaltyTier, bool) {
	var best LoyaltyTier
	found := false
	for _, t := range tiers {
		if completedBookings >= t.MinBookings && (!found || t.MinBookings > best.MinBookings) {
			best = t
			found = true
		}
	}
	return best, found
}

// ApplyLoyalty applies a loyalty discount on top of an already stay-discounted total
func ApplyLoyalty(total float64, tier LoyaltyTier) float64 {
	return RoundMoney(total * (1 - tier.DiscountPercent/100))
}

// RoundMoney rounds an amount to cents, half away from zero.
// The cent value is first snapped to a millionth so that amounts such as 1.005,
// stored as 1.00499..., still round up.
func RoundMoney(amount float64) float64 {
	cents := math.Round(amount*100*centSnap) / centSnap
	return math.Round(cents) / 100
}

const centSnap = 1e6
