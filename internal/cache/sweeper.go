package cache

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the sweeper runs when no interval is given
const DefaultSweepInterval = time.Minute

// Sweeper periodically removes expired cache entries
type Sweeper struct {
	cache    *Cache
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

// NewSweeper creates a new sweeper
func NewSweeper(cache *Cache, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cache:    cache,
		interval: interval,
		stopChan: make(chan struct{}),
		logger:   logger.With("component", "cache.sweeper"),
	}
}

// Start begins the sweep loop and blocks until Stop is called
func (s *Sweeper) Start() {
	s.logger.Info("Cache sweeper started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopChan:
			s.logger.Info("Cache sweeper stopped")
			return
		}
	}
}

// Stop stops the sweeper
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// tick performs one sweep
func (s *Sweeper) tick() {
	removed := s.cache.Sweep()
	if removed > 0 {
		s.logger.Debug("Swept expired cache entries",
			"removed", removed,
			"remaining", s.cache.Len())
	}
}
