package limit

import (
	"context"
	"testing"
	"time"

	"github.com/goodtune/zen/internal/report"
	"github.com/goodtune/zen/internal/storage"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type staticReports struct{ r *report.Report }

func (s staticReports) Today(context.Context) (*report.Report, error) { return s.r, nil }

type memoryLimits struct{ limits []storage.Limit }

func (m *memoryLimits) Insert(_ context.Context, l storage.Limit) (uint64, error) {
	l.ID = uint64(len(m.limits) + 1)
	m.limits = append(m.limits, l)
	return l.ID, nil
}

func (m *memoryLimits) Get(_ context.Context, id uint64) (*storage.Limit, error) {
	for _, l := range m.limits {
		if l.ID == id {
			return &l, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memoryLimits) List(context.Context) ([]storage.Limit, error) { return m.limits, nil }

func TestCheckerCombinesUsageAndLimits(t *testing.T) {
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	today := report.New(day.UnixMilli(), []storage.Pulse{
		{Origin: "https://www.youtube.com", StartTime: day.Add(9 * time.Hour).UnixMilli(), Duration: decimal.NewFromInt(1500)},
		{Origin: "https://www.youtube.com", StartTime: day.Add(10 * time.Hour).UnixMilli(), Duration: decimal.NewFromInt(400)},
		{Origin: "https://example.com", StartTime: day.Add(9 * time.Hour).UnixMilli(), Duration: decimal.NewFromInt(30)},
	})

	limits := &memoryLimits{}
	_, err := limits.Insert(context.Background(), storage.Limit{Pattern: "youtube.com", Minutes: 30})
	require.NoError(t, err)

	checker := NewChecker(newTestEngine(t), limits, staticReports{r: today}, zerolog.Nop())

	result, err := checker.Check(context.Background(), "https://www.youtube.com")
	require.NoError(t, err)
	require.Len(t, result.Usage, 1)
	require.True(t, result.Usage[0].Duration.Equal(decimal.NewFromInt(1900)))
	require.True(t, result.Decision.Limited)
	require.True(t, result.Decision.Exceeded)

	result, err = checker.Check(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.False(t, result.Decision.Limited)

	result, err = checker.Check(context.Background(), "https://never.example")
	require.NoError(t, err)
	require.Empty(t, result.Usage)

	_, err = checker.Check(context.Background(), "")
	require.Error(t, err)
}
