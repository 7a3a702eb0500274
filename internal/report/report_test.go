package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/zen/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func at(h int) int64 {
	return time.Date(2024, 3, 5, h, 0, 0, 0, time.UTC).UnixMilli()
}

func fixture() []storage.Pulse {
	return []storage.Pulse{
		{ID: 1, Origin: "https://b.example", StartTime: at(9), Duration: decimal.NewFromInt(600)},
		{ID: 2, Origin: "https://a.example", StartTime: at(9), Duration: decimal.NewFromInt(300)},
		{ID: 3, Origin: "https://a.example", StartTime: at(14), Duration: decimal.NewFromInt(300)},
		{ID: 4, Origin: "https://c.example", StartTime: at(14), Duration: decimal.NewFromInt(90)},
	}
}

func TestReportDurationBySite(t *testing.T) {
	r := New(at(12), fixture())

	sites := r.DurationBySite()
	require.Len(t, sites, 3)
	require.Equal(t, "https://a.example", sites[0].Origin, "ties break on origin")
	require.True(t, sites[0].Duration.Equal(decimal.NewFromInt(600)))
	require.Equal(t, "https://b.example", sites[1].Origin)
	require.Equal(t, "https://c.example", sites[2].Origin)
	require.Equal(t, at(0), sites[0].StartTime)

	require.True(t, r.Duration().Equal(decimal.NewFromInt(1290)))
	require.Equal(t, "21m30s", r.DurationText())
}

func TestReportHourlyActivity(t *testing.T) {
	r := New(at(12), fixture())

	hourly := r.HourlyActivity()
	require.Len(t, hourly, 2)
	require.Equal(t, 9, hourly[0].Hour)
	require.True(t, hourly[0].Minutes.Equal(decimal.NewFromInt(15)))
	require.Equal(t, 14, hourly[1].Hour)
	require.True(t, hourly[1].Minutes.Equal(decimal.RequireFromString("6.5")))
}

func TestReportSiteFilter(t *testing.T) {
	r := New(at(12), fixture()).WithSiteFilter("https://a.example")

	require.Len(t, r.Filtered(), 2)
	require.True(t, r.Duration().Equal(decimal.NewFromInt(600)))
	require.Len(t, r.HourlyActivity(), 2)
	require.Len(t, r.DurationBySite(), 3, "site filter does not narrow the per-site view")

	require.True(t, r.Site("https://c.example").Duration.Equal(decimal.NewFromInt(90)))
	require.True(t, r.Site("https://unknown.example").Duration.IsZero())
}

func TestReportEmpty(t *testing.T) {
	r := New(at(12), nil)
	require.NotNil(t, r.Pulses)
	require.Empty(t, r.DurationBySite())
	require.Empty(t, r.HourlyActivity())
	require.True(t, r.Duration().IsZero())
}

type countingStore struct {
	calls  int
	err    error
	during func()
}

func (s *countingStore) UpsertOne(context.Context, storage.Pulse) (uint64, error) { return 0, nil }

func (s *countingStore) FindByDate(_ context.Context, date int64) ([]storage.Pulse, error) {
	s.calls++
	if s.during != nil {
		s.during()
	}
	if s.err != nil {
		return nil, s.err
	}
	if date != at(0) {
		return []storage.Pulse{}, nil
	}
	return fixture(), nil
}

func (s *countingStore) FindByOrigin(context.Context, string) ([]storage.Pulse, error) {
	return nil, nil
}

func TestServiceCachesByDay(t *testing.T) {
	store := &countingStore{}
	svc := NewService(store, Config{CacheSize: 4, CacheTTL: time.Minute}, zerolog.Nop())
	ctx := context.Background()

	first, err := svc.ForDate(ctx, at(10))
	require.NoError(t, err)
	second, err := svc.ForDate(ctx, at(23))
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, store.calls)

	svc.Invalidate(at(1))
	_, err = svc.ForDate(ctx, at(10))
	require.NoError(t, err)
	require.Equal(t, 2, store.calls)
}

func TestServiceSkipsCachingWhenInvalidatedDuringLoad(t *testing.T) {
	store := &countingStore{}
	svc := NewService(store, Config{CacheTTL: time.Hour}, zerolog.Nop())
	ctx := context.Background()

	// a batch lands in the day while its report is being read
	store.during = func() { svc.Invalidate(at(9)) }
	_, err := svc.ForDate(ctx, at(10))
	require.NoError(t, err)
	require.Equal(t, 1, store.calls)

	store.during = nil
	_, err = svc.ForDate(ctx, at(10))
	require.NoError(t, err)
	require.Equal(t, 2, store.calls, "the report read before the write must not be served from cache")

	_, err = svc.ForDate(ctx, at(11))
	require.NoError(t, err)
	require.Equal(t, 2, store.calls)

	store.during = func() { svc.Purge() }
	svc.Invalidate(at(0))
	_, err = svc.ForDate(ctx, at(10))
	require.NoError(t, err)
	store.during = nil
	_, err = svc.ForDate(ctx, at(10))
	require.NoError(t, err)
	require.Equal(t, 4, store.calls)
}

func TestServiceToday(t *testing.T) {
	store := &countingStore{}
	svc := NewService(store, Config{}, zerolog.Nop())
	svc.now = func() time.Time { return time.UnixMilli(at(16)) }

	r, err := svc.Today(context.Background())
	require.NoError(t, err)
	require.Equal(t, at(0), r.Date)
	require.Len(t, r.Pulses, 4)
}

func TestServiceDoesNotCacheErrors(t *testing.T) {
	store := &countingStore{err: errors.New("unavailable")}
	svc := NewService(store, Config{}, zerolog.Nop())

	_, err := svc.ForDate(context.Background(), at(10))
	require.Error(t, err)

	store.err = nil
	_, err = svc.ForDate(context.Background(), at(10))
	require.NoError(t, err)
	require.Equal(t, 2, store.calls)
}
