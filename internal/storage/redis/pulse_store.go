package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/goodtune/zen/internal/storage"
	"github.com/redis/go-redis/v9"
)

type pulseStore struct {
	client *redis.Client
}

// UpsertOne adds the pulse duration to the record for its origin and hour.
// The read and the write run under WATCH on the origin/hour key and are retried
// when another client touches that key in between.
func (s *pulseStore) UpsertOne(ctx context.Context, pulse storage.Pulse) (uint64, error) {
	lookup := originTimeKey(pulse.Origin, pulse.StartTime)

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		var id uint64
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			record := pulse

			existing, err := tx.Get(ctx, lookup).Uint64()
			switch {
			case errors.Is(err, redis.Nil):
				id, err = tx.Incr(ctx, keyPulseSeq).Uint64()
				if err != nil {
					return fmt.Errorf("next pulse id: %w", err)
				}
			case err != nil:
				return fmt.Errorf("lookup pulse: %w", err)
			default:
				id = existing
				data, err := tx.HGetAll(ctx, pulseKey(id)).Result()
				if err != nil {
					return fmt.Errorf("load pulse %d: %w", id, err)
				}
				current, err := parsePulse(data)
				if err != nil {
					return err
				}
				record = *current
				record.Duration = current.Duration.Add(pulse.Duration)
			}
			record.ID = id

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, pulseKey(id), pulseFields(record))
				pipe.Set(ctx, lookup, id, 0)
				pipe.ZAdd(ctx, keyPulsesByStart, redis.Z{Score: float64(record.StartTime), Member: id})
				pipe.ZAdd(ctx, originIndexKey(record.Origin), redis.Z{Score: float64(record.StartTime), Member: id})
				return nil
			})
			return err
		}, lookup)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return id, nil
	}

	return 0, fmt.Errorf("upsert pulse %s at %d: %w", pulse.Origin, pulse.StartTime, errTooManyRetries)
}

// FindByDate returns the records of the UTC day containing date
func (s *pulseStore) FindByDate(ctx context.Context, date int64) ([]storage.Pulse, error) {
	start := storage.StartOfDay(date)
	members, err := s.client.ZRangeByScore(ctx, keyPulsesByStart, &redis.ZRangeBy{
		Min: strconv.FormatInt(start, 10),
		Max: "(" + strconv.FormatInt(start+storage.Day, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan pulses by start time: %w", err)
	}

	pulses, err := s.load(ctx, members)
	if err != nil {
		return nil, err
	}
	storage.SortByDuration(pulses)
	return pulses, nil
}

// FindByOrigin returns every record of one origin ordered by start time
func (s *pulseStore) FindByOrigin(ctx context.Context, origin string) ([]storage.Pulse, error) {
	members, err := s.client.ZRange(ctx, originIndexKey(origin), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("scan pulses by origin: %w", err)
	}
	return s.load(ctx, members)
}

func (s *pulseStore) load(ctx context.Context, members []string) ([]storage.Pulse, error) {
	pulses := make([]storage.Pulse, 0, len(members))
	if len(members) == 0 {
		return pulses, nil
	}

	cmds, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, member := range members {
			id, err := strconv.ParseUint(member, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid pulse id %q: %w", member, err)
			}
			pipe.HGetAll(ctx, pulseKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load pulses: %w", err)
	}

	for _, cmd := range cmds {
		data, err := cmd.(*redis.MapStringStringCmd).Result()
		if err != nil {
			return nil, err
		}
		pulse, err := parsePulse(data)
		if err != nil {
			return nil, err
		}
		pulses = append(pulses, *pulse)
	}
	return pulses, nil
}
