package availability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"staybook/internal/core"
)

// DefaultBatchConcurrency bounds the per-room fetches of one batch
const DefaultBatchConcurrency = 8

// Timing reports how a batch was served
type Timing struct {
	APICalls    int           `json:"api_calls"`
	CacheHits   int           `json:"cache_hits"`
	CacheMisses int           `json:"cache_misses"`
	TotalTime   time.Duration `json:"-"`
}

// BatchResult holds per-room results. A room appears in exactly one of Results or Errors.
type BatchResult struct {
	Results map[core.RoomKey]*core.AvailabilityResult
	Errors  map[core.RoomKey]error
	Timing  Timing
}

// BatchCoordinator fetches availability for several rooms concurrently
type BatchCoordinator struct {
	service     *Service
	concurrency int
	logger      *slog.Logger
}

// NewBatchCoordinator creates a batch coordinator
func NewBatchCoordinator(service *Service, concurrency int, logger *slog.Logger) *BatchCoordinator {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchCoordinator{
		service:     service,
		concurrency: concurrency,
		logger:      logger.With("component", "availability.batch"),
	}
}

// GetBatchAvailability fetches every room for the same range and party.
// A failing room is recorded in Errors and never fails the batch; the only
// error returned is ErrValidation for the shared range or party.
func (b *BatchCoordinator) GetBatchAvailability(ctx context.Context, rooms []core.RoomKey, r core.DateRange, guests core.Guests) (*BatchResult, error) {
	if err := guests.Validate(); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &BatchResult{
		Results: make(map[core.RoomKey]*core.AvailabilityResult, len(rooms)),
		Errors:  make(map[core.RoomKey]error),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(b.concurrency)

	seen := make(map[core.RoomKey]bool, len(rooms))
	for _, room := range rooms {
		if seen[room] {
			continue
		}
		seen[room] = true

		g.Go(func() error {
			res, lookup, err := b.service.Lookup(ctx, room, r, guests)

			mu.Lock()
			defer mu.Unlock()
			if lookup.CacheHit {
				result.Timing.CacheHits++
			} else {
				result.Timing.CacheMisses++
			}
			if lookup.PMSCall {
				result.Timing.APICalls++
			}
			if err != nil {
				result.Errors[room] = err
				return nil
			}
			result.Results[room] = res
			return nil
		})
	}
	g.Wait()

	result.Timing.TotalTime = time.Since(start)

	if len(result.Errors) > 0 {
		b.logger.Warn("Batch availability partially failed",
			"rooms", len(seen),
			"failed", len(result.Errors),
			"range", r.String())
	}
	b.logger.Debug("Batch availability completed",
		"rooms", len(seen),
		"api_calls", result.Timing.APICalls,
		"cache_hits", result.Timing.CacheHits,
		"cache_misses", result.Timing.CacheMisses,
		"duration", result.Timing.TotalTime)

	return result, nil
}
