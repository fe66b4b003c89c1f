package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDateRange(t *testing.T) {
	tests := []struct {
		name       string
		start, end time.Time
		wantErr    bool
		wantNights int
	}{
		{"one night", makeDate(2026, 3, 1), makeDate(2026, 3, 2), false, 1},
		{"across month end", makeDate(2026, 2, 27), makeDate(2026, 3, 3), false, 4},
		{"across DST change", makeDate(2026, 3, 28), makeDate(2026, 4, 2), false, 5},
		{"time component dropped", time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC), makeDate(2026, 3, 3), false, 2},
		{"longest stay", makeDate(2026, 1, 1), makeDate(2027, 1, 1), false, 365},
		{"longer than a year", makeDate(2028, 1, 1), makeDate(2029, 1, 1), true, 0},
		{"empty range", makeDate(2026, 3, 1), makeDate(2026, 3, 1), true, 0},
		{"reversed", makeDate(2026, 3, 5), makeDate(2026, 3, 1), true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewDateRange(tt.start, tt.end)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNights, r.Nights())
			assert.Len(t, r.Dates(), tt.wantNights)
		})
	}
}

func TestParseDateRange(t *testing.T) {
	r, err := ParseDateRange("2026-05-10", "2026-05-13")
	require.NoError(t, err)
	assert.Equal(t, 3, r.Nights())
	assert.Equal(t, "2026-05-10..2026-05-13", r.String())

	_, err = ParseDateRange("10/05/2026", "2026-05-13")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDateRange_NightsOverCenturies(t *testing.T) {
	r := DateRange{Start: makeDate(2030, 1, 1), End: makeDate(9999, 12, 31)}
	assert.Equal(t, 2910981, r.Nights())
	assert.ErrorIs(t, r.Validate(), ErrValidation)

	_, err := ParseDateRange("2030-01-01", "9999-12-31")
	assert.ErrorIs(t, err, ErrValidation)

	assert.ErrorIs(t, DateRange{}.Validate(), ErrValidation)
}

func TestDateRange_ContainsAndOverlaps(t *testing.T) {
	r, err := ParseDateRange("2026-05-10", "2026-05-13")
	require.NoError(t, err)

	assert.True(t, r.Contains(makeDate(2026, 5, 10)))
	assert.True(t, r.Contains(makeDate(2026, 5, 12)))
	assert.False(t, r.Contains(makeDate(2026, 5, 13)), "end is exclusive")

	adjacent, _ := ParseDateRange("2026-05-13", "2026-05-15")
	overlapping, _ := ParseDateRange("2026-05-12", "2026-05-20")
	assert.False(t, r.Overlaps(adjacent))
	assert.True(t, r.Overlaps(overlapping))
	assert.True(t, overlapping.Overlaps(r))
}

func TestCacheKey_GuestCompositionChangesKey(t *testing.T) {
	r, _ := ParseDateRange("2026-05-10", "2026-05-13")
	room := RoomKey{PropertyID: "101", RoomID: "201"}

	key := CacheKey(room, r, Guests{Adults: 2})
	assert.Equal(t, "101-201:2026-05-10:2026-05-13:2:0", key)
	assert.NotEqual(t, key, CacheKey(room, r, Guests{Adults: 2, Children: 1}))
	assert.NotEqual(t, key, CacheKey(room, r, Guests{Adults: 3}))
}

func TestAvailabilityResult(t *testing.T) {
	r, _ := ParseDateRange("2026-05-10", "2026-05-13")
	room := RoomKey{PropertyID: "101", RoomID: "201"}

	quotes := []NightlyQuote{
		{Date: makeDate(2026, 5, 10), BasePrice: 120, Available: true, MinStay: 2},
		{Date: makeDate(2026, 5, 11), BasePrice: 130, Available: false, MinStay: 5},
		{Date: makeDate(2026, 5, 12), BasePrice: 140, Available: true},
	}
	res := NewAvailabilityResult(room, r, quotes, "calendar", false)

	assert.Equal(t, []string{"2026-05-10", "2026-05-12"}, res.Available)
	assert.Equal(t, []string{"2026-05-11"}, res.Booked)
	assert.Equal(t, 130.0, res.Prices["2026-05-11"])
	assert.Equal(t, 2, res.MinStay, "restrictions come from the arrival night")
	assert.False(t, res.IsBookable())

	t.Run("clone is independent", func(t *testing.T) {
		c := res.Clone()
		c.Prices["2026-05-10"] = 1
		c.Available[0] = "changed"
		assert.Equal(t, 120.0, res.Prices["2026-05-10"])
		assert.Equal(t, "2026-05-10", res.Available[0])
	})
}

func TestAvailabilityResult_IsBookable(t *testing.T) {
	room := RoomKey{PropertyID: "101", RoomID: "201"}
	r, _ := ParseDateRange("2026-05-10", "2026-05-13")

	build := func(minStay, maxStay int) *AvailabilityResult {
		quotes := make([]NightlyQuote, 0)
		for _, d := range r.Dates() {
			quotes = append(quotes, NightlyQuote{Date: d, BasePrice: 100, Available: true, MinStay: minStay, MaxStay: maxStay})
		}
		return NewAvailabilityResult(room, r, quotes, "offers", true)
	}

	assert.True(t, build(0, 0).IsBookable())
	assert.True(t, build(3, 3).IsBookable())
	assert.False(t, build(4, 0).IsBookable(), "min stay not met")
	assert.False(t, build(1, 2).IsBookable(), "max stay exceeded")
}

func TestGuests_Validate(t *testing.T) {
	assert.NoError(t, Guests{Adults: 1}.Validate())
	assert.ErrorIs(t, Guests{}.Validate(), ErrValidation)
	assert.ErrorIs(t, Guests{Adults: 2, Children: -1}.Validate(), ErrValidation)
}

func TestExhaustedError_Matching(t *testing.T) {
	err := error(&ExhaustedError{
		Room: RoomKey{PropertyID: "1", RoomID: "2"},
		Attempts: []*AttemptError{
			{Endpoint: "offers", Kind: ErrPMSTransport, Err: errors.New("timeout")},
			{Endpoint: "calendar", Kind: ErrPMSResponse, Status: 200, Err: errors.New("empty calendar")},
		},
	})

	assert.ErrorIs(t, err, ErrPMSUnavailable)
	assert.ErrorIs(t, err, ErrPMSTransport)
	assert.ErrorIs(t, err, ErrPMSResponse)
	assert.NotErrorIs(t, err, ErrAuth)
	assert.Contains(t, err.Error(), "offers endpoint")
	assert.Contains(t, err.Error(), "status 200")

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.Attempts, 2)
}
