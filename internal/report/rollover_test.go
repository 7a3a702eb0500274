package report

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNextMidnight(t *testing.T) {
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2024, 3, 5, 15, 42, 0, 0, time.UTC), time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, nextMidnight(tt.now), "now=%s", tt.now)
	}
}

func TestRolloverClosesFinishedDay(t *testing.T) {
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	store := &countingStore{}
	service := NewService(store, Config{CacheTTL: time.Hour}, zerolog.Nop())

	// Warm the cache with a stale view of the day
	_, err := service.ForDate(context.Background(), day.UnixMilli())
	require.NoError(t, err)
	require.Equal(t, 1, store.calls)

	fire := make(chan time.Time)
	waits := make(chan time.Duration, 2)
	rollover := NewRollover(service, zerolog.Nop())
	rollover.now = func() time.Time { return day.Add(23 * time.Hour) }
	rollover.after = func(d time.Duration) <-chan time.Time {
		waits <- d
		return fire
	}
	rollover.closed = make(chan time.Time, 1)

	rollover.Start()
	require.Equal(t, time.Hour, <-waits)
	fire <- day.Add(24 * time.Hour)

	select {
	case closed := <-rollover.closed:
		require.Equal(t, day, closed)
	case <-time.After(2 * time.Second):
		t.Fatal("rollover did not close the day")
	}
	rollover.Stop()

	// The day was reloaded for the summary and then evicted
	require.Equal(t, 2, store.calls)
	_, err = service.ForDate(context.Background(), day.UnixMilli())
	require.NoError(t, err)
	require.Equal(t, 3, store.calls)
}
