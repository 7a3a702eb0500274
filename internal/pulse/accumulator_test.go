package pulse

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func millis(h, m, s int) int64 {
	return time.Date(2024, 3, 5, h, m, s, 0, time.UTC).UnixMilli()
}

func TestStartOfHour(t *testing.T) {
	tests := []struct {
		name  string
		input int64
		want  int64
	}{
		{name: "on the hour", input: millis(9, 0, 0), want: millis(9, 0, 0)},
		{name: "mid hour", input: millis(9, 30, 15), want: millis(9, 0, 0)},
		{name: "last millisecond", input: millis(10, 0, 0) - 1, want: millis(9, 0, 0)},
		{name: "epoch", input: 0, want: 0},
		{name: "before epoch", input: -1, want: -int64(time.Hour / time.Millisecond)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StartOfHour(tt.input)
			require.Equal(t, tt.want, got)
			require.Equal(t, got, StartOfHour(got), "StartOfHour must be idempotent")
		})
	}
}

func TestAccumulatorFoldIsExact(t *testing.T) {
	var acc Accumulator
	for _, d := range []string{"0.1", "0.2", "0.3", "1", "2.25"} {
		acc = acc.Fold(Pulse{Origin: "https://a.example", StartTime: millis(9, 0, 0), Duration: decimal.RequireFromString(d)})
	}

	require.True(t, acc.Duration("https://a.example", millis(9, 0, 0)).Equal(decimal.RequireFromString("3.85")))
	require.Equal(t, 1, acc.Len())
}

func TestAccumulatorFoldLeavesReceiverUntouched(t *testing.T) {
	base := Accumulator{}.
		Fold(Pulse{Origin: "https://a.example", StartTime: millis(9, 0, 0), Duration: decimal.NewFromInt(5)}).
		Fold(Pulse{Origin: "https://b.example", StartTime: millis(9, 0, 0), Duration: decimal.NewFromInt(1)})

	next := base.Fold(Pulse{Origin: "https://a.example", StartTime: millis(9, 0, 0), Duration: decimal.NewFromInt(7)})
	next = next.Fold(Pulse{Origin: "https://c.example", StartTime: millis(10, 0, 0), Duration: decimal.NewFromInt(2)})

	require.True(t, base.Duration("https://a.example", millis(9, 0, 0)).Equal(decimal.NewFromInt(5)))
	require.Equal(t, 2, base.Len())
	require.True(t, next.Duration("https://a.example", millis(9, 0, 0)).Equal(decimal.NewFromInt(12)))
	require.True(t, next.Duration("https://b.example", millis(9, 0, 0)).Equal(decimal.NewFromInt(1)))
	require.Equal(t, 3, next.Len())
}

func TestAccumulatorDecompose(t *testing.T) {
	var empty Accumulator
	require.True(t, empty.IsEmpty())
	require.Empty(t, empty.Decompose())

	acc := empty.
		Fold(Pulse{Origin: "https://a.example", StartTime: millis(9, 0, 0), Duration: decimal.NewFromInt(5)}).
		Fold(Pulse{Origin: "https://a.example", StartTime: millis(9, 0, 0), Duration: decimal.NewFromInt(7)}).
		Fold(Pulse{Origin: "https://a.example", StartTime: millis(10, 0, 0), Duration: decimal.NewFromInt(1)}).
		Fold(Pulse{Origin: "https://b.example", StartTime: millis(9, 0, 0), Duration: decimal.NewFromInt(3)})

	got := map[string]decimal.Decimal{}
	for _, p := range acc.Decompose() {
		got[p.Origin+"@"+time.UnixMilli(p.StartTime).UTC().Format("15")] = p.Duration
	}

	require.Len(t, got, 3)
	require.True(t, got["https://a.example@09"].Equal(decimal.NewFromInt(12)))
	require.True(t, got["https://a.example@10"].Equal(decimal.NewFromInt(1)))
	require.True(t, got["https://b.example@09"].Equal(decimal.NewFromInt(3)))
	require.True(t, acc.Total().Equal(decimal.NewFromInt(16)))
}

func TestPulseValidate(t *testing.T) {
	valid := Pulse{Origin: "https://a.example", StartTime: millis(9, 0, 0), Duration: decimal.NewFromInt(1)}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Pulse)
	}{
		{name: "empty origin", mutate: func(p *Pulse) { p.Origin = "" }},
		{name: "nul in origin", mutate: func(p *Pulse) { p.Origin = "https://a\x00b" }},
		{name: "zero start", mutate: func(p *Pulse) { p.StartTime = 0 }},
		{name: "zero duration", mutate: func(p *Pulse) { p.Duration = decimal.Zero }},
		{name: "negative duration", mutate: func(p *Pulse) { p.Duration = decimal.NewFromInt(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			require.ErrorIs(t, p.Validate(), ErrInvalidPulse)
		})
	}
}
