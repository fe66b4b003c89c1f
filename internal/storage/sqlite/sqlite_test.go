package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/core"
	"staybook/internal/pms"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	storage, err := New(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		storage.Close()
	})

	return storage
}

var deluxe = core.RoomKey{PropertyID: "101", RoomID: "201"}

func newBooking(t *testing.T, id, email, start, end string) *core.Booking {
	t.Helper()
	r, err := core.ParseDateRange(start, end)
	require.NoError(t, err)

	return &core.Booking{
		ID:         id,
		RoomSlug:   "deluxe",
		Room:       deluxe,
		Range:      r,
		Guests:     core.Guests{Adults: 2, Children: 1},
		GuestName:  "Ada Lovelace",
		GuestEmail: email,
		TotalPrice: 787.5,
		Status:     core.BookingStatusConfirmed,
	}
}

func TestSQLiteStorage_Bookings(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	// Test CreateBooking
	booking := newBooking(t, "bkg_1", "Ada@Example.com", "2026-07-01", "2026-07-04")
	booking.LoyaltyTier = "Returning"
	require.NoError(t, storage.CreateBooking(ctx, booking))
	assert.False(t, booking.CreatedAt.IsZero())

	// Test GetBooking
	retrieved, err := storage.GetBooking(ctx, "bkg_1")
	require.NoError(t, err)
	assert.Equal(t, "deluxe", retrieved.RoomSlug)
	assert.Equal(t, deluxe, retrieved.Room)
	assert.Equal(t, "2026-07-01..2026-07-04", retrieved.Range.String())
	assert.Equal(t, 3, retrieved.Range.Nights())
	assert.Equal(t, core.Guests{Adults: 2, Children: 1}, retrieved.Guests)
	assert.Equal(t, "ada@example.com", retrieved.GuestEmail)
	assert.Equal(t, 787.5, retrieved.TotalPrice)
	assert.Equal(t, "Returning", retrieved.LoyaltyTier)
	assert.Equal(t, core.BookingStatusConfirmed, retrieved.Status)

	// Test GetBooking - not found
	_, err = storage.GetBooking(ctx, "nonexistent")
	assert.ErrorIs(t, err, core.ErrBookingNotFound)

	// Test UpdateBooking
	retrieved.Status = core.BookingStatusCancelled
	require.NoError(t, storage.UpdateBooking(ctx, retrieved))

	updated, err := storage.GetBooking(ctx, "bkg_1")
	require.NoError(t, err)
	assert.Equal(t, core.BookingStatusCancelled, updated.Status)

	// Test UpdateBooking - not found
	missing := newBooking(t, "bkg_missing", "x@example.com", "2026-07-01", "2026-07-02")
	assert.ErrorIs(t, storage.UpdateBooking(ctx, missing), core.ErrBookingNotFound)
}

func TestSQLiteStorage_CreateBookingValidates(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	booking := newBooking(t, "bkg_1", "", "2026-07-01", "2026-07-04")
	assert.ErrorIs(t, storage.CreateBooking(ctx, booking), core.ErrValidation)

	booking = newBooking(t, "bkg_2", "ada@example.com", "2026-07-01", "2026-07-04")
	booking.Guests = core.Guests{Children: 2}
	assert.ErrorIs(t, storage.CreateBooking(ctx, booking), core.ErrValidation)

	// Duplicate IDs are rejected by the primary key
	booking = newBooking(t, "bkg_3", "ada@example.com", "2026-07-01", "2026-07-04")
	require.NoError(t, storage.CreateBooking(ctx, booking))
	assert.Error(t, storage.CreateBooking(ctx, booking))
}

func TestSQLiteStorage_ListBookingsByEmail(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, storage.CreateBooking(ctx, newBooking(t, "bkg_1", "ada@example.com", "2026-05-01", "2026-05-03")))
	require.NoError(t, storage.CreateBooking(ctx, newBooking(t, "bkg_2", "ada@example.com", "2026-08-01", "2026-08-03")))
	require.NoError(t, storage.CreateBooking(ctx, newBooking(t, "bkg_3", "grace@example.com", "2026-06-01", "2026-06-03")))

	bookings, err := storage.ListBookingsByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	assert.Equal(t, "bkg_2", bookings[0].ID)
	assert.Equal(t, "bkg_1", bookings[1].ID)

	bookings, err = storage.ListBookingsByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, bookings)
}

func TestSQLiteStorage_CountOverlappingBookings(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, storage.CreateBooking(ctx, newBooking(t, "bkg_1", "ada@example.com", "2026-07-05", "2026-07-08")))

	cancelled := newBooking(t, "bkg_2", "ada@example.com", "2026-07-10", "2026-07-12")
	cancelled.Status = core.BookingStatusCancelled
	require.NoError(t, storage.CreateBooking(ctx, cancelled))

	other := newBooking(t, "bkg_3", "ada@example.com", "2026-07-05", "2026-07-08")
	other.Room = core.RoomKey{PropertyID: "101", RoomID: "202"}
	require.NoError(t, storage.CreateBooking(ctx, other))

	tests := []struct {
		name  string
		start string
		end   string
		want  int
	}{
		{"same stay", "2026-07-05", "2026-07-08", 1},
		{"contains", "2026-07-01", "2026-07-20", 1},
		{"inside", "2026-07-06", "2026-07-07", 1},
		{"overlaps arrival", "2026-07-03", "2026-07-06", 1},
		{"overlaps departure", "2026-07-07", "2026-07-09", 1},
		{"checks out on arrival day", "2026-07-01", "2026-07-05", 0},
		{"arrives on checkout day", "2026-07-08", "2026-07-10", 0},
		{"cancelled booking ignored", "2026-07-10", "2026-07-12", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := core.ParseDateRange(tt.start, tt.end)
			require.NoError(t, err)

			count, err := storage.CountOverlappingBookings(ctx, deluxe, r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, count)
		})
	}
}

func TestSQLiteStorage_CountCompletedBookings(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, storage.CreateBooking(ctx, newBooking(t, "bkg_1", "ada@example.com", "2026-03-01", "2026-03-04")))
	require.NoError(t, storage.CreateBooking(ctx, newBooking(t, "bkg_2", "ada@example.com", "2026-06-10", "2026-06-15")))
	require.NoError(t, storage.CreateBooking(ctx, newBooking(t, "bkg_3", "ada@example.com", "2026-06-20", "2026-06-25")))

	cancelled := newBooking(t, "bkg_4", "ada@example.com", "2026-04-01", "2026-04-03")
	cancelled.Status = core.BookingStatusCancelled
	require.NoError(t, storage.CreateBooking(ctx, cancelled))

	asOf := time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)

	count, err := storage.CountCompletedBookings(ctx, "Ada@Example.com", asOf)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "stays ending today count, future and cancelled stays do not")

	count, err = storage.CountCompletedBookings(ctx, "grace@example.com", asOf)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSQLiteStorage_PMSTokens(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	// No tokens stored yet
	tokens, err := storage.GetPMSTokens(ctx)
	require.NoError(t, err)
	assert.Nil(t, tokens)

	// Save without an access token
	require.NoError(t, storage.SavePMSTokens(ctx, &pms.Tokens{RefreshToken: "refresh-1"}))

	tokens, err = storage.GetPMSTokens(ctx)
	require.NoError(t, err)
	require.NotNil(t, tokens)
	assert.Equal(t, "refresh-1", tokens.RefreshToken)
	assert.Empty(t, tokens.AccessToken)
	assert.Nil(t, tokens.AccessTokenExpiresAt)
	createdAt := tokens.CreatedAt

	// Update keeps the single row
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	tokens.RefreshToken = "refresh-2"
	tokens.AccessToken = "access-2"
	tokens.AccessTokenExpiresAt = &expires
	require.NoError(t, storage.SavePMSTokens(ctx, tokens))

	tokens, err = storage.GetPMSTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", tokens.RefreshToken)
	assert.Equal(t, "access-2", tokens.AccessToken)
	require.NotNil(t, tokens.AccessTokenExpiresAt)
	assert.True(t, expires.Equal(*tokens.AccessTokenExpiresAt))
	assert.WithinDuration(t, createdAt, tokens.CreatedAt, time.Second)

	var rows int
	require.NoError(t, storage.db.QueryRow("SELECT COUNT(*) FROM pms_tokens").Scan(&rows))
	assert.Equal(t, 1, rows)
}
