package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/zen/internal/storage"
	"github.com/shopspring/decimal"
)

const (
	keyPulseSeq       = keyPrefix + "pulses:seq"
	keyPulsesByStart  = keyPrefix + "pulses:idx:start_time"
	keyLimitSeq       = keyPrefix + "limits:seq"
	keyLimitsAll      = keyPrefix + "limits:all"
	pulseKeyFormat    = keyPrefix + "pulses:%d"
	limitKeyFormat    = keyPrefix + "limits:%d"
	originTimeFormat  = keyPrefix + "pulses:idx:origin_time:%s|%d"
	originIndexFormat = keyPrefix + "pulses:idx:origin:%s"
)

func pulseKey(id uint64) string { return fmt.Sprintf(pulseKeyFormat, id) }

func limitKey(id uint64) string { return fmt.Sprintf(limitKeyFormat, id) }

// originTimeKey holds the id of the record for one origin and hour.
// The start time is the last '|' separated field, so origins may contain '|'.
func originTimeKey(origin string, startTime int64) string {
	return fmt.Sprintf(originTimeFormat, origin, startTime)
}

func originIndexKey(origin string) string { return fmt.Sprintf(originIndexFormat, origin) }

func pulseFields(p storage.Pulse) map[string]interface{} {
	return map[string]interface{}{
		"id":         p.ID,
		"origin":     p.Origin,
		"start_time": p.StartTime,
		"duration":   p.Duration.String(),
	}
}

// parsePulse converts a Redis hash to Pulse
func parsePulse(data map[string]string) (*storage.Pulse, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	id, err := strconv.ParseUint(data["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse id: %w", err)
	}

	startTime, err := strconv.ParseInt(data["start_time"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse start_time: %w", err)
	}

	duration, err := decimal.NewFromString(data["duration"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration: %w", err)
	}

	return &storage.Pulse{
		ID:        id,
		Origin:    data["origin"],
		StartTime: startTime,
		Duration:  duration,
	}, nil
}

// parseLimit converts a Redis hash to Limit
func parseLimit(data map[string]string) (*storage.Limit, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	id, err := strconv.ParseUint(data["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse id: %w", err)
	}

	minutes, err := strconv.Atoi(data["limit"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse limit: %w", err)
	}

	created, err := time.Parse(time.RFC3339Nano, data["created"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created: %w", err)
	}

	updated, err := time.Parse(time.RFC3339Nano, data["updated"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated: %w", err)
	}

	return &storage.Limit{
		ID:      id,
		Pattern: data["pattern"],
		Minutes: minutes,
		Created: created,
		Updated: updated,
	}, nil
}
