// Package pulse aggregates screen-time pulses per origin and hour and writes
// them to storage in randomized, bounded-latency batches.
package pulse

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/zen/internal/storage"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidPulse is returned for pulses that can never be stored.
	ErrInvalidPulse = errors.New("pulse: invalid pulse")

	// ErrClosed is returned by Submit once the batcher has shut down.
	ErrClosed = errors.New("pulse: batcher closed")
)

// Pulse is a report that an origin was on screen for Duration seconds
// starting at StartTime (UTC millis).
type Pulse struct {
	Origin    string          `json:"origin"`
	StartTime int64           `json:"startTime"`
	Duration  decimal.Decimal `json:"duration"`
}

// Validate rejects pulses with an empty origin, a non-positive start time or
// a non-positive duration.
func (p Pulse) Validate() error {
	switch {
	case p.Origin == "":
		return fmt.Errorf("%w: empty origin", ErrInvalidPulse)
	case strings.ContainsRune(p.Origin, 0):
		return fmt.Errorf("%w: origin contains NUL", ErrInvalidPulse)
	case p.StartTime <= 0:
		return fmt.Errorf("%w: start time %d", ErrInvalidPulse, p.StartTime)
	case !p.Duration.IsPositive():
		return fmt.Errorf("%w: duration %s", ErrInvalidPulse, p.Duration)
	}
	return nil
}

// Record converts the pulse into a storage record without an id.
func (p Pulse) Record() storage.Pulse {
	return storage.Pulse{
		Origin:    p.Origin,
		StartTime: p.StartTime,
		Duration:  p.Duration,
	}
}

// StartOfHour rounds UTC millis down to the start of the containing clock hour.
func StartOfHour(millis int64) int64 {
	const hour = int64(time.Hour / time.Millisecond)
	if millis < 0 {
		return millis - (hour+millis%hour)%hour
	}
	return millis - millis%hour
}
