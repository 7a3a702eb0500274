package redis

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/goodtune/zen/internal/storage"
	"github.com/redis/go-redis/v9"
)

var insertLimit = redis.NewScript(insertLimitScript)

type limitStore struct {
	client *redis.Client
}

// Insert stores a new limit and returns its id
func (s *limitStore) Insert(ctx context.Context, limit storage.Limit) (uint64, error) {
	now := time.Now().UTC()
	if limit.Created.IsZero() {
		limit.Created = now
	}
	if limit.Updated.IsZero() {
		limit.Updated = limit.Created
	}

	keys := []string{keyLimitSeq, keyLimitsAll}
	args := []interface{}{
		keyPrefix + "limits:",
		limit.Pattern,
		limit.Minutes,
		limit.Created.Format(time.RFC3339Nano),
		limit.Updated.Format(time.RFC3339Nano),
	}

	id, err := insertLimit.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("insert limit: %w", err)
	}
	return uint64(id), nil
}

// Get returns one limit by id
func (s *limitStore) Get(ctx context.Context, id uint64) (*storage.Limit, error) {
	data, err := s.client.HGetAll(ctx, limitKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get limit %d: %w", id, err)
	}
	limit, err := parseLimit(data)
	if err != nil {
		return nil, fmt.Errorf("limit %d: %w", id, err)
	}
	return limit, nil
}

// List returns all limits ordered by creation time, then id
func (s *limitStore) List(ctx context.Context) ([]storage.Limit, error) {
	members, err := s.client.ZRange(ctx, keyLimitsAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list limit ids: %w", err)
	}

	cmds, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, member := range members {
			id, err := strconv.ParseUint(member, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid limit id %q: %w", member, err)
			}
			pipe.HGetAll(ctx, limitKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load limits: %w", err)
	}

	limits := make([]storage.Limit, 0, len(cmds))
	for _, cmd := range cmds {
		data, err := cmd.(*redis.MapStringStringCmd).Result()
		if err != nil {
			return nil, err
		}
		limit, err := parseLimit(data)
		if err != nil {
			return nil, err
		}
		limits = append(limits, *limit)
	}
	slices.SortStableFunc(limits, func(a, b storage.Limit) int {
		return a.Created.Compare(b.Created)
	})
	return limits, nil
}
