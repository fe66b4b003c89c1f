package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"staybook/internal/core"
	"staybook/internal/pms"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Defaults
const (
	DefaultPMSRequestTimeout = 15 * time.Second
	DefaultPMSRefreshTimeout = 10 * time.Second
	DefaultTokenSafetyMargin = 60 * time.Second
	DefaultNearTermTTL       = 5 * time.Minute
	DefaultFarTermTTL        = time.Hour
	DefaultNearTermWindow    = 30 * 24 * time.Hour
	DefaultSweepInterval     = time.Minute
	DefaultBatchConcurrency  = 8
	DefaultPublicRateLimit   = 5.0
	DefaultPublicRateBurst   = 20
	DefaultBaseOccupancy     = 2
)

var roomSlugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,39}$`)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
	PMS      PMSConfig      `json:"pms"`
	Cache    CacheConfig    `json:"cache"`
	Pricing  PricingConfig  `json:"pricing"`
	Rooms    []RoomConfig   `json:"rooms"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	APIKey string `json:"api_key"` // admin routes

	// Per-client-IP limit on public routes; RateLimitPerSecond < 0 disables it
	RateLimitPerSecond float64 `json:"rate_limit_per_second"`
	RateLimitBurst     int     `json:"rate_limit_burst"`
}

// LoggingConfig contains log output settings
type LoggingConfig struct {
	Format string `json:"format"` // "json" or "text"
	Level  string `json:"level"`
}

// PMSConfig contains the property management system API settings
type PMSConfig struct {
	BaseURL        string   `json:"base_url"`
	LongLivedToken string   `json:"long_lived_token"`
	RefreshToken   string   `json:"refresh_token"`
	Endpoints      []string `json:"endpoints"`

	RequestTimeout    Duration `json:"request_timeout"`
	RefreshTimeout    Duration `json:"refresh_timeout"`
	TokenSafetyMargin Duration `json:"token_safety_margin"`

	RequestsPerSecond   float64  `json:"requests_per_second"`
	Burst               int      `json:"burst"`
	MaxRateLimitRetries int      `json:"max_rate_limit_retries"`
	BackoffBase         Duration `json:"backoff_base"`
	BackoffMax          Duration `json:"backoff_max"`
}

// CacheConfig contains availability cache settings
type CacheConfig struct {
	NearTermTTL      Duration `json:"near_term_ttl"`
	FarTermTTL       Duration `json:"far_term_ttl"`
	NearTermWindow   Duration `json:"near_term_window"`
	SweepInterval    Duration `json:"sweep_interval"`
	BatchConcurrency int      `json:"batch_concurrency"`
}

// PricingConfig contains discount tiers and default surcharges
type PricingConfig struct {
	Tiers       []core.DiscountTier `json:"tiers"`
	Loyalty     []core.LoyaltyTier  `json:"loyalty"`
	DefaultRoom RoomPricingConfig   `json:"default_room"`
}

// RoomPricingConfig holds the occupancy surcharge rules of a room
type RoomPricingConfig struct {
	BaseOccupancy int     `json:"base_occupancy"`
	ExtraAdult    float64 `json:"extra_adult"`
	ExtraChild    float64 `json:"extra_child"`
	MaxGuests     int     `json:"max_guests"`
}

// RoomConfig maps a public room slug to its PMS identifiers
type RoomConfig struct {
	Slug       string             `json:"slug"`
	Name       string             `json:"name"`
	PropertyID string             `json:"property_id"`
	RoomID     string             `json:"room_id"`
	Pricing    *RoomPricingConfig `json:"pricing,omitempty"` // falls back to pricing.default_room
}

// Duration is a time.Duration read from strings such as "90s" or "5m"
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Validate validates the configuration and fills defaults
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port", ErrInvalidConfig)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}

	if c.Security.APIKey == "" {
		return fmt.Errorf("%w: API key is required", ErrInvalidConfig)
	}
	if c.Security.RateLimitPerSecond == 0 {
		c.Security.RateLimitPerSecond = DefaultPublicRateLimit
	}
	if c.Security.RateLimitBurst <= 0 {
		c.Security.RateLimitBurst = DefaultPublicRateBurst
	}

	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validatePMS(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validatePricing(); err != nil {
		return err
	}
	return c.validateRooms()
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "":
		c.Logging.Format = "json"
	case "json", "text":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logging.Format)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return nil
}

func (c *Config) validatePMS() error {
	p := &c.PMS
	if p.BaseURL == "" {
		return fmt.Errorf("%w: PMS base URL is required", ErrInvalidConfig)
	}
	p.BaseURL = strings.TrimRight(p.BaseURL, "/")

	if p.LongLivedToken == "" && p.RefreshToken == "" {
		return fmt.Errorf("%w: PMS long-lived token or refresh token is required", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(p.Endpoints))
	for _, name := range p.Endpoints {
		if _, err := pms.NewEndpoint(name); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if seen[name] {
			return fmt.Errorf("%w: PMS endpoint %q listed twice", ErrInvalidConfig, name)
		}
		seen[name] = true
	}

	if p.RequestTimeout <= 0 {
		p.RequestTimeout = Duration(DefaultPMSRequestTimeout)
	}
	if p.RefreshTimeout <= 0 {
		p.RefreshTimeout = Duration(DefaultPMSRefreshTimeout)
	}
	if p.TokenSafetyMargin <= 0 {
		p.TokenSafetyMargin = Duration(DefaultTokenSafetyMargin)
	}
	if p.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: PMS requests per second cannot be negative", ErrInvalidConfig)
	}
	if p.BackoffBase < 0 || p.BackoffMax < 0 {
		return fmt.Errorf("%w: PMS backoff cannot be negative", ErrInvalidConfig)
	}
	if p.BackoffBase > 0 && p.BackoffMax > 0 && p.BackoffMax < p.BackoffBase {
		return fmt.Errorf("%w: PMS backoff max is below backoff base", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) validateCache() error {
	cc := &c.Cache
	if cc.NearTermTTL <= 0 {
		cc.NearTermTTL = Duration(DefaultNearTermTTL)
	}
	if cc.FarTermTTL <= 0 {
		cc.FarTermTTL = Duration(DefaultFarTermTTL)
	}
	if cc.NearTermWindow <= 0 {
		cc.NearTermWindow = Duration(DefaultNearTermWindow)
	}
	if cc.SweepInterval <= 0 {
		cc.SweepInterval = Duration(DefaultSweepInterval)
	}
	if cc.BatchConcurrency <= 0 {
		cc.BatchConcurrency = DefaultBatchConcurrency
	}
	return nil
}

func (c *Config) validatePricing() error {
	for _, tier := range c.Pricing.Tiers {
		if tier.MinNights <= 0 {
			return fmt.Errorf("%w: discount tier %q needs min_nights > 0", ErrInvalidConfig, tier.Label)
		}
		if tier.DiscountPercent < 0 || tier.DiscountPercent >= 100 {
			return fmt.Errorf("%w: discount tier %q percent must be in [0, 100)", ErrInvalidConfig, tier.Label)
		}
	}
	for _, tier := range c.Pricing.Loyalty {
		if tier.MinBookings <= 0 {
			return fmt.Errorf("%w: loyalty tier %q needs min_bookings > 0", ErrInvalidConfig, tier.Label)
		}
		if tier.DiscountPercent < 0 || tier.DiscountPercent >= 100 {
			return fmt.Errorf("%w: loyalty tier %q percent must be in [0, 100)", ErrInvalidConfig, tier.Label)
		}
	}

	if c.Pricing.DefaultRoom.BaseOccupancy <= 0 {
		c.Pricing.DefaultRoom.BaseOccupancy = DefaultBaseOccupancy
	}
	return c.Pricing.DefaultRoom.validate("default_room")
}

func (c *Config) validateRooms() error {
	if len(c.Rooms) == 0 {
		return fmt.Errorf("%w: at least one room is required", ErrInvalidConfig)
	}

	slugs := make(map[string]bool, len(c.Rooms))
	keys := make(map[core.RoomKey]bool, len(c.Rooms))
	for i := range c.Rooms {
		room := &c.Rooms[i]
		if !roomSlugPattern.MatchString(room.Slug) {
			return fmt.Errorf("%w: invalid room slug %q", ErrInvalidConfig, room.Slug)
		}
		if room.PropertyID == "" || room.RoomID == "" {
			return fmt.Errorf("%w: room %q needs property_id and room_id", ErrInvalidConfig, room.Slug)
		}
		if slugs[room.Slug] {
			return fmt.Errorf("%w: duplicate room slug %q", ErrInvalidConfig, room.Slug)
		}
		key := room.Key()
		if keys[key] {
			return fmt.Errorf("%w: room %q maps to PMS room %s twice", ErrInvalidConfig, room.Slug, key)
		}
		slugs[room.Slug] = true
		keys[key] = true

		if room.Pricing != nil {
			if room.Pricing.BaseOccupancy <= 0 {
				room.Pricing.BaseOccupancy = c.Pricing.DefaultRoom.BaseOccupancy
			}
			if err := room.Pricing.validate(room.Slug); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p RoomPricingConfig) validate(name string) error {
	if p.ExtraAdult < 0 || p.ExtraChild < 0 {
		return fmt.Errorf("%w: %s surcharges cannot be negative", ErrInvalidConfig, name)
	}
	if p.MaxGuests < 0 {
		return fmt.Errorf("%w: %s max_guests cannot be negative", ErrInvalidConfig, name)
	}
	return nil
}

// Key returns the PMS identifiers of the room
func (r RoomConfig) Key() core.RoomKey {
	return core.RoomKey{PropertyID: r.PropertyID, RoomID: r.RoomID}
}

// ToCore converts the surcharge rules to the pricing model
func (p RoomPricingConfig) ToCore() core.RoomPricing {
	return core.RoomPricing{
		BaseOccupancy: p.BaseOccupancy,
		ExtraAdult:    p.ExtraAdult,
		ExtraChild:    p.ExtraChild,
		MaxGuests:     p.MaxGuests,
	}
}

// RoomPricing returns the room's own pricing or the configured default
func (c *Config) RoomPricing(room RoomConfig) core.RoomPricing {
	if room.Pricing != nil {
		return room.Pricing.ToCore()
	}
	return c.Pricing.DefaultRoom.ToCore()
}

// Load loads configuration from a JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromEnv loads configuration from environment variables
// This is useful for containerized deployments
func LoadFromEnv() (*Config, error) {
	rooms, err := parseRooms(getEnv("STAYBOOK_ROOMS", ""))
	if err != nil {
		return nil, err
	}
	tiers, err := parseTiers(getEnv("STAYBOOK_DISCOUNT_TIERS", "7:10:Weekly,14:15:Two weeks,30:20:Monthly"))
	if err != nil {
		return nil, err
	}
	loyalty, err := parseLoyalty(getEnv("STAYBOOK_LOYALTY_TIERS", ""))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server: ServerConfig{
			Host: getEnv("STAYBOOK_HOST", "0.0.0.0"),
			Port: getEnvInt("STAYBOOK_PORT", 8080),
		},
		Database: DatabaseConfig{
			Path: getEnv("STAYBOOK_DB_PATH", "./staybook.db"),
		},
		Security: SecurityConfig{
			APIKey:             getEnv("STAYBOOK_API_KEY", ""),
			RateLimitPerSecond: getEnvFloat("STAYBOOK_RATE_LIMIT_PER_SECOND", DefaultPublicRateLimit),
			RateLimitBurst:     getEnvInt("STAYBOOK_RATE_LIMIT_BURST", DefaultPublicRateBurst),
		},
		Logging: LoggingConfig{
			Format: getEnv("STAYBOOK_LOG_FORMAT", "json"),
			Level:  getEnv("STAYBOOK_LOG_LEVEL", "info"),
		},
		PMS: PMSConfig{
			BaseURL:             getEnv("STAYBOOK_PMS_BASE_URL", ""),
			LongLivedToken:      getEnv("STAYBOOK_PMS_LONG_LIVED_TOKEN", ""),
			RefreshToken:        getEnv("STAYBOOK_PMS_REFRESH_TOKEN", ""),
			Endpoints:           splitList(getEnv("STAYBOOK_PMS_ENDPOINTS", "")),
			RequestTimeout:      getEnvDuration("STAYBOOK_PMS_REQUEST_TIMEOUT", DefaultPMSRequestTimeout),
			RefreshTimeout:      getEnvDuration("STAYBOOK_PMS_REFRESH_TIMEOUT", DefaultPMSRefreshTimeout),
			TokenSafetyMargin:   getEnvDuration("STAYBOOK_PMS_TOKEN_SAFETY_MARGIN", DefaultTokenSafetyMargin),
			RequestsPerSecond:   getEnvFloat("STAYBOOK_PMS_REQUESTS_PER_SECOND", 0),
			Burst:               getEnvInt("STAYBOOK_PMS_BURST", 0),
			MaxRateLimitRetries: getEnvInt("STAYBOOK_PMS_MAX_RATE_LIMIT_RETRIES", 0),
			BackoffBase:         getEnvDuration("STAYBOOK_PMS_BACKOFF_BASE", 0),
			BackoffMax:          getEnvDuration("STAYBOOK_PMS_BACKOFF_MAX", 0),
		},
		Cache: CacheConfig{
			NearTermTTL:      getEnvDuration("STAYBOOK_CACHE_NEAR_TERM_TTL", DefaultNearTermTTL),
			FarTermTTL:       getEnvDuration("STAYBOOK_CACHE_FAR_TERM_TTL", DefaultFarTermTTL),
			NearTermWindow:   getEnvDuration("STAYBOOK_CACHE_NEAR_TERM_WINDOW", DefaultNearTermWindow),
			SweepInterval:    getEnvDuration("STAYBOOK_CACHE_SWEEP_INTERVAL", DefaultSweepInterval),
			BatchConcurrency: getEnvInt("STAYBOOK_BATCH_CONCURRENCY", DefaultBatchConcurrency),
		},
		Pricing: PricingConfig{
			Tiers:   tiers,
			Loyalty: loyalty,
			DefaultRoom: RoomPricingConfig{
				BaseOccupancy: getEnvInt("STAYBOOK_BASE_OCCUPANCY", DefaultBaseOccupancy),
				ExtraAdult:    getEnvFloat("STAYBOOK_EXTRA_ADULT", 0),
				ExtraChild:    getEnvFloat("STAYBOOK_EXTRA_CHILD", 0),
				MaxGuests:     getEnvInt("STAYBOOK_MAX_GUESTS", 0),
			},
		},
		Rooms: rooms,
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// parseRooms reads "slug=property/room,..." pairs
func parseRooms(value string) ([]RoomConfig, error) {
	var rooms []RoomConfig
	for _, item := range splitList(value) {
		slug, ids, ok := strings.Cut(item, "=")
		propertyID, roomID, ok2 := strings.Cut(ids, "/")
		if !ok || !ok2 {
			return nil, fmt.Errorf("%w: room %q must look like slug=property/room", ErrInvalidConfig, item)
		}
		rooms = append(rooms, RoomConfig{
			Slug:       strings.TrimSpace(slug),
			PropertyID: strings.TrimSpace(propertyID),
			RoomID:     strings.TrimSpace(roomID),
		})
	}
	return rooms, nil
}

// parseTiers reads "minNights:percent:label,..." triples
func parseTiers(value string) ([]core.DiscountTier, error) {
	var tiers []core.DiscountTier
	for _, item := range splitList(value) {
		threshold, percent, label, err := parseTier(item)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, core.DiscountTier{MinNights: threshold, DiscountPercent: percent, Label: label})
	}
	return tiers, nil
}

// parseLoyalty reads "minBookings:percent:label,..." triples
func parseLoyalty(value string) ([]core.LoyaltyTier, error) {
	var tiers []core.LoyaltyTier
	for _, item := range splitList(value) {
		threshold, percent, label, err := parseTier(item)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, core.LoyaltyTier{MinBookings: threshold, DiscountPercent: percent, Label: label})
	}
	return tiers, nil
}

func parseTier(item string) (int, float64, string, error) {
	parts := strings.SplitN(item, ":", 3)
	if len(parts) != 3 {
		return 0, 0, "", fmt.Errorf("%w: tier %q must look like threshold:percent:label", ErrInvalidConfig, item)
	}
	threshold, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, "", fmt.Errorf("%w: tier %q threshold: %v", ErrInvalidConfig, item, err)
	}
	percent, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, "", fmt.Errorf("%w: tier %q percent: %v", ErrInvalidConfig, item, err)
	}
	return threshold, percent, strings.TrimSpace(parts[2]), nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		fmt.Sscanf(value, "%d", &intVal)
		return intVal
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return Duration(d)
		}
	}
	return Duration(defaultValue)
}
