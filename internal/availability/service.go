package availability

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"staybook/internal/cache"
	"staybook/internal/core"
)

// TTLPolicy chooses how long a fetched range stays cached
type TTLPolicy struct {
	NearTermTTL    time.Duration // ranges starting within NearTermWindow
	FarTermTTL     time.Duration
	NearTermWindow time.Duration
}

// DefaultTTLPolicy returns the standard freshness settings
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		NearTermTTL:    5 * time.Minute,
		FarTermTTL:     time.Hour,
		NearTermWindow: 30 * 24 * time.Hour,
	}
}

// TTLFor returns the TTL for a range as seen at now.
// Near-term ranges change as bookings come in and get the short TTL.
func (p TTLPolicy) TTLFor(r core.DateRange, now time.Time) time.Duration {
	if r.Start.Before(now.Add(p.NearTermWindow)) {
		return p.NearTermTTL
	}
	return p.FarTermTTL
}

// Lookup describes how a single availability request was served
type Lookup struct {
	CacheHit bool
	PMSCall  bool // this request ran the PMS fetch itself
}

// Service serves room availability through the cache
type Service struct {
	cache    *cache.Cache
	source   core.InventorySource
	policy   TTLPolicy
	logger   *slog.Logger
	now      func() time.Time
	apiCalls atomic.Int64
}

// NewService creates an availability service
func NewService(c *cache.Cache, source core.InventorySource, policy TTLPolicy, logger *slog.Logger) *Service {
	defaults := DefaultTTLPolicy()
	if policy.NearTermTTL <= 0 {
		policy.NearTermTTL = defaults.NearTermTTL
	}
	if policy.FarTermTTL <= 0 {
		policy.FarTermTTL = defaults.FarTermTTL
	}
	if policy.NearTermWindow <= 0 {
		policy.NearTermWindow = defaults.NearTermWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:  c,
		source: source,
		policy: policy,
		logger: logger.With("component", "availability"),
		now:    time.Now,
	}
}

// GetAvailability returns availability for a room, from the cache when possible
func (s *Service) GetAvailability(ctx context.Context, room core.RoomKey, r core.DateRange, guests core.Guests) (*core.AvailabilityResult, error) {
	res, _, err := s.Lookup(ctx, room, r, guests)
	return res, err
}

// GetFreshAvailability drops any cached value for the request and fetches it again
func (s *Service) GetFreshAvailability(ctx context.Context, room core.RoomKey, r core.DateRange, guests core.Guests) (*core.AvailabilityResult, error) {
	if err := room.Validate(); err != nil {
		return nil, err
	}
	s.cache.InvalidateKey(core.CacheKey(room, r, guests))
	res, _, err := s.Lookup(ctx, room, r, guests)
	return res, err
}

// Lookup returns availability and how it was served
func (s *Service) Lookup(ctx context.Context, room core.RoomKey, r core.DateRange, guests core.Guests) (*core.AvailabilityResult, Lookup, error) {
	if err := room.Validate(); err != nil {
		return nil, Lookup{}, err
	}
	if err := r.Validate(); err != nil {
		return nil, Lookup{}, err
	}
	if err := guests.Validate(); err != nil {
		return nil, Lookup{}, err
	}

	var fetched atomic.Bool
	key := core.CacheKey(room, r, guests)
	ttl := s.policy.TTLFor(r, s.now())

	res, hit, err := s.cache.GetOrFetch(ctx, key, ttl, func(ctx context.Context) (*core.AvailabilityResult, error) {
		fetched.Store(true)
		s.apiCalls.Add(1)
		return s.source.GetInventory(ctx, room, r, guests)
	})
	return res, Lookup{CacheHit: hit, PMSCall: fetched.Load()}, err
}

// InvalidateRoom drops every cached range of a room and returns the number removed
func (s *Service) InvalidateRoom(room core.RoomKey) int {
	prefix := room.String() + ":"
	removed := s.cache.InvalidateFunc(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
	s.logger.Info("Invalidated room availability", "room", room.String(), "removed", removed)
	return removed
}

// InvalidateStay drops every cached range of a room that shares a night with stay.
// Call it whenever a booking for the room is created or cancelled.
func (s *Service) InvalidateStay(room core.RoomKey, stay core.DateRange) int {
	prefix := room.String() + ":"
	removed := s.cache.InvalidateFunc(func(key string) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		r, ok := keyRange(strings.TrimPrefix(key, prefix))
		// Unparseable keys are dropped
		return !ok || r.Overlaps(stay)
	})
	s.logger.Info("Invalidated stay availability",
		"room", room.String(),
		"range", stay.String(),
		"removed", removed)
	return removed
}

// InvalidatePattern drops every cached key matching a path.Match glob
func (s *Service) InvalidatePattern(pattern string) (int, error) {
	removed, err := s.cache.InvalidatePattern(pattern)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Invalidated availability by pattern", "pattern", pattern, "removed", removed)
	return removed, nil
}

// ClearAll drops the whole cache
func (s *Service) ClearAll() {
	s.cache.ClearAll()
	s.logger.Info("Cleared availability cache")
}

// APICalls returns the number of PMS fetches made through the service
func (s *Service) APICalls() int64 {
	return s.apiCalls.Load()
}

// CacheStats returns the underlying cache counters
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// keyRange extracts the date range from the "{start}:{end}:{adults}:{children}" tail of a cache key
func keyRange(tail string) (core.DateRange, bool) {
	parts := strings.Split(tail, ":")
	if len(parts) != 4 {
		return core.DateRange{}, false
	}
	r, err := core.ParseDateRange(parts[0], parts[1])
	if err != nil {
		return core.DateRange{}, false
	}
	return r, true
}
