package storage

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// Day is the width of a FindByDate range in milliseconds.
	Day = int64(24 * time.Hour / time.Millisecond)
)

// Pulse is the stored aggregate of screen time on one origin during one hour.
type Pulse struct {
	ID        uint64          `json:"id"`
	Origin    string          `json:"origin"`
	StartTime int64           `json:"startTime"` // UTC millis, hour boundary
	Duration  decimal.Decimal `json:"duration"`  // seconds
}

// Limit is a screen-time rule for origins matching Pattern.
type Limit struct {
	ID      uint64    `json:"id"`
	Pattern string    `json:"pattern"`
	Minutes int       `json:"limit"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// StartOfDay truncates UTC millis to 00:00 of the same UTC day.
func StartOfDay(millis int64) int64 {
	t := time.UnixMilli(millis).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).UnixMilli()
}

// SortByDuration orders pulses by duration descending. Ties are broken by
// origin and then start time, both ascending.
func SortByDuration(pulses []Pulse) {
	slices.SortFunc(pulses, func(a, b Pulse) int {
		if c := b.Duration.Cmp(a.Duration); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Origin, b.Origin); c != 0 {
			return c
		}
		return cmp.Compare(a.StartTime, b.StartTime)
	})
}
