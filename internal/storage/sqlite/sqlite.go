package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"staybook/internal/core"
	"staybook/internal/pms"
)

// SQLiteStorage implements storage.Storage using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Writers wait for each other instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	storage := &SQLiteStorage{db: db}

	if err := storage.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return storage, nil
}

// migrate creates the database schema
func (s *SQLiteStorage) migrate() error {
	// Stay dates are stored as YYYY-MM-DD text so they compare in calendar order
	schema := `
		CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			room_slug TEXT NOT NULL,
			property_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			adults INTEGER NOT NULL,
			children INTEGER NOT NULL DEFAULT 0,
			guest_name TEXT NOT NULL,
			guest_email TEXT NOT NULL,
			total_price REAL NOT NULL,
			loyalty_tier TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_bookings_room ON bookings(property_id, room_id, status);
		CREATE INDEX IF NOT EXISTS idx_bookings_email ON bookings(guest_email);

		CREATE TABLE IF NOT EXISTS pms_tokens (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			refresh_token TEXT NOT NULL,
			access_token TEXT,
			access_token_expires_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

const bookingColumns = `id, room_slug, property_id, room_id, start_date, end_date, adults, children,
	guest_name, guest_email, total_price, loyalty_tier, status, created_at, updated_at`

// CreateBooking creates a new booking
func (s *SQLiteStorage) CreateBooking(ctx context.Context, booking *core.Booking) error {
	if err := booking.Validate(); err != nil {
		return err
	}

	now := time.Now()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, booking.ID, booking.RoomSlug, booking.Room.PropertyID, booking.Room.RoomID,
		formatDate(booking.Range.Start), formatDate(booking.Range.End),
		booking.Guests.Adults, booking.Guests.Children,
		booking.GuestName, strings.ToLower(booking.GuestEmail), booking.TotalPrice, booking.LoyaltyTier,
		booking.Status, booking.CreatedAt, booking.UpdatedAt)

	return err
}

// GetBooking retrieves a booking by ID
func (s *SQLiteStorage) GetBooking(ctx context.Context, id string) (*core.Booking, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)

	booking, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// UpdateBooking updates the mutable fields of a booking
func (s *SQLiteStorage) UpdateBooking(ctx context.Context, booking *core.Booking) error {
	booking.UpdatedAt = time.Now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE bookings
		SET guest_name = ?, total_price = ?, loyalty_tier = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, booking.GuestName, booking.TotalPrice, booking.LoyaltyTier, booking.Status, booking.UpdatedAt, booking.ID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return core.ErrBookingNotFound
	}

	return nil
}

// ListBookingsByEmail retrieves a guest's bookings, newest stay first
func (s *SQLiteStorage) ListBookingsByEmail(ctx context.Context, email string) ([]*core.Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE guest_email = ?
		ORDER BY start_date DESC
	`, strings.ToLower(email))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := make([]*core.Booking, 0)
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}

	return bookings, rows.Err()
}

// CountOverlappingBookings counts confirmed bookings of a room sharing at least one night with r
func (s *SQLiteStorage) CountOverlappingBookings(ctx context.Context, room core.RoomKey, r core.DateRange) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE property_id = ? AND room_id = ? AND status = ?
			AND start_date < ? AND end_date > ?
	`, room.PropertyID, room.RoomID, core.BookingStatusConfirmed,
		formatDate(r.End), formatDate(r.Start)).Scan(&count)

	return count, err
}

// CountCompletedBookings counts confirmed stays of a guest that ended on or before asOf
func (s *SQLiteStorage) CountCompletedBookings(ctx context.Context, email string, asOf time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE guest_email = ? AND status = ? AND end_date <= ?
	`, strings.ToLower(email), core.BookingStatusConfirmed, formatDate(asOf)).Scan(&count)

	return count, err
}

// GetPMSTokens retrieves the stored PMS tokens
// Implements pms.TokenStorage interface
func (s *SQLiteStorage) GetPMSTokens(ctx context.Context) (*pms.Tokens, error) {
	var tokens pms.Tokens
	var accessToken sql.NullString
	var expiresAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT refresh_token, access_token, access_token_expires_at, created_at, updated_at
		FROM pms_tokens WHERE id = 1
	`).Scan(&tokens.RefreshToken, &accessToken, &expiresAt, &tokens.CreatedAt, &tokens.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil // No tokens stored yet
	}
	if err != nil {
		return nil, err
	}

	tokens.AccessToken = accessToken.String
	if expiresAt.Valid {
		tokens.AccessTokenExpiresAt = &expiresAt.Time
	}

	return &tokens, nil
}

// SavePMSTokens saves or updates the PMS tokens
// Implements pms.TokenStorage interface
func (s *SQLiteStorage) SavePMSTokens(ctx context.Context, tokens *pms.Tokens) error {
	now := time.Now()
	tokens.UpdatedAt = now
	if tokens.CreatedAt.IsZero() {
		tokens.CreatedAt = now
	}

	var expiresAt sql.NullTime
	if tokens.AccessTokenExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *tokens.AccessTokenExpiresAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pms_tokens (id, refresh_token, access_token, access_token_expires_at, created_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			refresh_token = excluded.refresh_token,
			access_token = excluded.access_token,
			access_token_expires_at = excluded.access_token_expires_at,
			updated_at = excluded.updated_at
	`, tokens.RefreshToken, tokens.AccessToken, expiresAt, tokens.CreatedAt, tokens.UpdatedAt)

	return err
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Helper functions

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row scanner) (*core.Booking, error) {
	var b core.Booking
	var start, end string

	if err := row.Scan(&b.ID, &b.RoomSlug, &b.Room.PropertyID, &b.Room.RoomID, &start, &end,
		&b.Guests.Adults, &b.Guests.Children, &b.GuestName, &b.GuestEmail, &b.TotalPrice,
		&b.LoyaltyTier, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}

	r, err := core.ParseDateRange(start, end)
	if err != nil {
		return nil, fmt.Errorf("booking %s has invalid dates: %w", b.ID, err)
	}
	b.Range = r

	return &b, nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(core.DateLayout)
}
