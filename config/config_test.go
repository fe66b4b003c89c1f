package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/core"
)

func validConfig() Config {
	return Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{Path: "/path/to/db"},
		Security: SecurityConfig{APIKey: "test-key"},
		PMS: PMSConfig{
			BaseURL:      "https://pms.example.com/",
			RefreshToken: "refresh-token",
		},
		Rooms: []RoomConfig{
			{Slug: "deluxe", PropertyID: "101", RoomID: "201"},
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:   "long-lived token instead of refresh token",
			modify: func(c *Config) { c.PMS.RefreshToken = ""; c.PMS.LongLivedToken = "llt" },
		},
		{
			name:    "invalid port - zero",
			modify:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port - too large",
			modify:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "missing database path",
			modify:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "missing API key",
			modify:  func(c *Config) { c.Security.APIKey = "" },
			wantErr: true,
		},
		{
			name:    "unknown log format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
		},
		{
			name:    "missing PMS base URL",
			modify:  func(c *Config) { c.PMS.BaseURL = "" },
			wantErr: true,
		},
		{
			name:    "missing PMS credentials",
			modify:  func(c *Config) { c.PMS.RefreshToken = "" },
			wantErr: true,
		},
		{
			name:    "unknown PMS endpoint",
			modify:  func(c *Config) { c.PMS.Endpoints = []string{"offers", "graphql"} },
			wantErr: true,
		},
		{
			name:    "duplicate PMS endpoint",
			modify:  func(c *Config) { c.PMS.Endpoints = []string{"calendar", "calendar"} },
			wantErr: true,
		},
		{
			name:    "backoff max below base",
			modify:  func(c *Config) { c.PMS.BackoffBase = Duration(time.Second); c.PMS.BackoffMax = Duration(time.Millisecond) },
			wantErr: true,
		},
		{
			name:    "discount tier without threshold",
			modify:  func(c *Config) { c.Pricing.Tiers = []core.DiscountTier{{DiscountPercent: 10}} },
			wantErr: true,
		},
		{
			name:    "discount tier of 100 percent",
			modify:  func(c *Config) { c.Pricing.Tiers = []core.DiscountTier{{MinNights: 7, DiscountPercent: 100}} },
			wantErr: true,
		},
		{
			name:    "loyalty tier without threshold",
			modify:  func(c *Config) { c.Pricing.Loyalty = []core.LoyaltyTier{{DiscountPercent: 5}} },
			wantErr: true,
		},
		{
			name:    "negative surcharge",
			modify:  func(c *Config) { c.Pricing.DefaultRoom.ExtraAdult = -1 },
			wantErr: true,
		},
		{
			name:    "no rooms",
			modify:  func(c *Config) { c.Rooms = nil },
			wantErr: true,
		},
		{
			name:    "invalid room slug",
			modify:  func(c *Config) { c.Rooms[0].Slug = "Deluxe Room" },
			wantErr: true,
		},
		{
			name:    "room without PMS ids",
			modify:  func(c *Config) { c.Rooms[0].RoomID = "" },
			wantErr: true,
		},
		{
			name: "duplicate room slug",
			modify: func(c *Config) {
				c.Rooms = append(c.Rooms, RoomConfig{Slug: "deluxe", PropertyID: "101", RoomID: "202"})
			},
			wantErr: true,
		},
		{
			name: "duplicate PMS room",
			modify: func(c *Config) {
				c.Rooms = append(c.Rooms, RoomConfig{Slug: "deluxe-2", PropertyID: "101", RoomID: "201"})
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.modify(&config)

			err := config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateFillsDefaults(t *testing.T) {
	config := validConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, "https://pms.example.com", config.PMS.BaseURL)
	assert.Equal(t, DefaultPMSRequestTimeout, config.PMS.RequestTimeout.Std())
	assert.Equal(t, DefaultPMSRefreshTimeout, config.PMS.RefreshTimeout.Std())
	assert.Equal(t, DefaultTokenSafetyMargin, config.PMS.TokenSafetyMargin.Std())
	assert.Equal(t, DefaultNearTermTTL, config.Cache.NearTermTTL.Std())
	assert.Equal(t, DefaultFarTermTTL, config.Cache.FarTermTTL.Std())
	assert.Equal(t, DefaultNearTermWindow, config.Cache.NearTermWindow.Std())
	assert.Equal(t, DefaultSweepInterval, config.Cache.SweepInterval.Std())
	assert.Equal(t, DefaultBatchConcurrency, config.Cache.BatchConcurrency)
	assert.Equal(t, DefaultPublicRateLimit, config.Security.RateLimitPerSecond)
	assert.Equal(t, DefaultPublicRateBurst, config.Security.RateLimitBurst)
	assert.Equal(t, "json", config.Logging.Format)
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, DefaultBaseOccupancy, config.Pricing.DefaultRoom.BaseOccupancy)
}

func TestConfig_RoomPricing(t *testing.T) {
	config := validConfig()
	config.Pricing.DefaultRoom = RoomPricingConfig{ExtraAdult: 25, ExtraChild: 10}
	config.Rooms = append(config.Rooms, RoomConfig{
		Slug: "loft", PropertyID: "102", RoomID: "301",
		Pricing: &RoomPricingConfig{ExtraAdult: 40, MaxGuests: 6},
	})
	require.NoError(t, config.Validate())

	assert.Equal(t, core.RoomPricing{BaseOccupancy: 2, ExtraAdult: 25, ExtraChild: 10}, config.RoomPricing(config.Rooms[0]))
	assert.Equal(t, core.RoomPricing{BaseOccupancy: 2, ExtraAdult: 40, MaxGuests: 6}, config.RoomPricing(config.Rooms[1]))
	assert.Equal(t, core.RoomKey{PropertyID: "102", RoomID: "301"}, config.Rooms[1].Key())
}

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	validConfig := `{
		"server": {
			"host": "0.0.0.0",
			"port": 8080
		},
		"database": {
			"path": "/path/to/db"
		},
		"security": {
			"api_key": "test-key",
			"rate_limit_per_second": 2,
			"rate_limit_burst": 5
		},
		"logging": {
			"format": "text",
			"level": "debug"
		},
		"pms": {
			"base_url": "https://pms.example.com",
			"refresh_token": "refresh-token",
			"endpoints": ["calendar", "legacy"],
			"request_timeout": "5s",
			"backoff_base": "500ms",
			"backoff_max": "10s",
			"max_rate_limit_retries": 3
		},
		"cache": {
			"near_term_ttl": "2m",
			"far_term_ttl": "2h",
			"batch_concurrency": 4
		},
		"pricing": {
			"tiers": [
				{"min_nights": 7, "discount_percent": 10, "label": "Weekly"},
				{"min_nights": 30, "discount_percent": 20, "label": "Monthly"}
			],
			"loyalty": [
				{"min_bookings": 1, "discount_percent": 5, "label": "Returning"}
			],
			"default_room": {"base_occupancy": 2, "extra_adult": 25, "extra_child": 10}
		},
		"rooms": [
			{"slug": "deluxe", "name": "Deluxe Apartment", "property_id": "101", "room_id": "201"},
			{"slug": "loft", "property_id": "102", "room_id": "301", "pricing": {"max_guests": 6}}
		]
	}`

	err := os.WriteFile(configPath, []byte(validConfig), 0644)
	require.NoError(t, err)

	// Test loading valid config
	config, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "test-key", config.Security.APIKey)
	assert.Equal(t, 2.0, config.Security.RateLimitPerSecond)
	assert.Equal(t, "text", config.Logging.Format)
	assert.Equal(t, []string{"calendar", "legacy"}, config.PMS.Endpoints)
	assert.Equal(t, 5*time.Second, config.PMS.RequestTimeout.Std())
	assert.Equal(t, 500*time.Millisecond, config.PMS.BackoffBase.Std())
	assert.Equal(t, 3, config.PMS.MaxRateLimitRetries)
	assert.Equal(t, 2*time.Minute, config.Cache.NearTermTTL.Std())
	assert.Equal(t, 4, config.Cache.BatchConcurrency)
	require.Len(t, config.Pricing.Tiers, 2)
	assert.Equal(t, "Monthly", config.Pricing.Tiers[1].Label)
	require.Len(t, config.Pricing.Loyalty, 1)
	require.Len(t, config.Rooms, 2)
	assert.Equal(t, "Deluxe Apartment", config.Rooms[0].Name)
	assert.Equal(t, 2, config.Rooms[1].Pricing.BaseOccupancy, "room pricing inherits the default occupancy")

	// Test loading non-existent file
	_, err = Load("/nonexistent/config.json")
	assert.ErrorIs(t, err, ErrConfigFileNotFound)

	// Test loading invalid JSON
	invalidPath := filepath.Join(tmpDir, "invalid.json")
	err = os.WriteFile(invalidPath, []byte("invalid json"), 0644)
	require.NoError(t, err)

	_, err = Load(invalidPath)
	assert.Error(t, err)

	// Test loading a malformed duration
	badDuration := filepath.Join(tmpDir, "duration.json")
	err = os.WriteFile(badDuration, []byte(`{"pms": {"request_timeout": 5}}`), 0644)
	require.NoError(t, err)

	_, err = Load(badDuration)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STAYBOOK_HOST", "127.0.0.1")
	t.Setenv("STAYBOOK_PORT", "9090")
	t.Setenv("STAYBOOK_DB_PATH", "/custom/db/path")
	t.Setenv("STAYBOOK_API_KEY", "env-api-key")
	t.Setenv("STAYBOOK_PMS_BASE_URL", "https://pms.example.com")
	t.Setenv("STAYBOOK_PMS_LONG_LIVED_TOKEN", "env-token")
	t.Setenv("STAYBOOK_PMS_ENDPOINTS", "offers, calendar")
	t.Setenv("STAYBOOK_PMS_REQUEST_TIMEOUT", "3s")
	t.Setenv("STAYBOOK_ROOMS", "deluxe=101/201, studio=101/202")
	t.Setenv("STAYBOOK_LOYALTY_TIERS", "1:5:Returning,3:10:Regular")
	t.Setenv("STAYBOOK_EXTRA_ADULT", "25")

	config, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, "/custom/db/path", config.Database.Path)
	assert.Equal(t, "env-api-key", config.Security.APIKey)
	assert.Equal(t, "env-token", config.PMS.LongLivedToken)
	assert.Equal(t, []string{"offers", "calendar"}, config.PMS.Endpoints)
	assert.Equal(t, 3*time.Second, config.PMS.RequestTimeout.Std())
	assert.Equal(t, 25.0, config.Pricing.DefaultRoom.ExtraAdult)

	require.Len(t, config.Rooms, 2)
	assert.Equal(t, RoomConfig{Slug: "studio", PropertyID: "101", RoomID: "202"}, config.Rooms[1])

	require.Len(t, config.Pricing.Tiers, 3, "default stay-length tiers")
	assert.Equal(t, core.DiscountTier{MinNights: 7, DiscountPercent: 10, Label: "Weekly"}, config.Pricing.Tiers[0])
	assert.Equal(t, []core.LoyaltyTier{
		{MinBookings: 1, DiscountPercent: 5, Label: "Returning"},
		{MinBookings: 3, DiscountPercent: 10, Label: "Regular"},
	}, config.Pricing.Loyalty)
}

func TestLoadFromEnv_InvalidRooms(t *testing.T) {
	t.Setenv("STAYBOOK_API_KEY", "env-api-key")
	t.Setenv("STAYBOOK_PMS_BASE_URL", "https://pms.example.com")
	t.Setenv("STAYBOOK_PMS_LONG_LIVED_TOKEN", "env-token")
	t.Setenv("STAYBOOK_ROOMS", "deluxe:101:201")

	_, err := LoadFromEnv()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
