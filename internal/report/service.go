package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/zen/internal/metrics"
	"github.com/goodtune/zen/internal/storage"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

const (
	// DefaultCacheSize is the number of days kept in the report cache
	DefaultCacheSize = 32

	// DefaultCacheTTL matches how often clients refresh an open report
	DefaultCacheTTL = 60 * time.Second
)

// Config holds report service configuration
type Config struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Service loads reports from the pulse store and caches them per day.
type Service struct {
	pulses storage.PulseStore
	cache  *expirable.LRU[int64, *Report]
	now    func() time.Time
	logger zerolog.Logger

	// generations count invalidations per day; a load only caches its
	// report if no invalidation happened while it was reading.
	mu          sync.Mutex
	generations map[int64]uint64
	purges      uint64
}

// NewService creates a report service
func NewService(pulses storage.PulseStore, cfg Config, logger zerolog.Logger) *Service {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	return &Service{
		pulses: pulses,
		cache:  expirable.NewLRU[int64, *Report](cfg.CacheSize, nil, cfg.CacheTTL),
		now:    time.Now,
		logger: logger.With().Str("component", "report").Logger(),

		generations: make(map[int64]uint64),
	}
}

// ForDate returns the report of the UTC day containing date (millis).
func (s *Service) ForDate(ctx context.Context, date int64) (*Report, error) {
	day := storage.StartOfDay(date)
	if r, ok := s.cache.Get(day); ok {
		metrics.ReportCacheHits.Inc()
		return r, nil
	}
	metrics.ReportCacheMisses.Inc()

	generation, purges := s.generation(day)
	pulses, err := s.pulses.FindByDate(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("load pulses for %s: %w", time.UnixMilli(day).UTC().Format(time.DateOnly), err)
	}

	r := New(day, pulses)
	s.mu.Lock()
	if s.generations[day] == generation && s.purges == purges {
		s.cache.Add(day, r)
	}
	s.mu.Unlock()
	s.logger.Debug().
		Str("date", time.UnixMilli(day).UTC().Format(time.DateOnly)).
		Int("records", len(pulses)).
		Msg("Report loaded")
	return r, nil
}

// Today returns the report of the current UTC day.
func (s *Service) Today(ctx context.Context) (*Report, error) {
	return s.ForDate(ctx, s.now().UnixMilli())
}

func (s *Service) generation(day int64) (uint64, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[day], s.purges
}

// Invalidate drops the cached report of the day containing date. Loads of
// that day already in flight are not cached.
func (s *Service) Invalidate(date int64) {
	day := storage.StartOfDay(date)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[day]++
	s.cache.Remove(day)
}

// Purge empties the cache.
func (s *Service) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purges++
	clear(s.generations)
	s.cache.Purge()
}
