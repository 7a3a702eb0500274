package bolt

import (
	"cmp"
	"context"
	"slices"

	"github.com/goodtune/zen/internal/storage"
	"go.etcd.io/bbolt"
)

const (
	indexOriginTime = "origin_time"
	indexStartTime  = "start_time"
	indexOrigin     = "origin"
)

var pulses = &collection[storage.Pulse]{
	name: "pulses",
	indexes: []index[storage.Pulse]{
		{name: indexOriginTime, unique: true, key: func(p storage.Pulse) []byte { return originTimeKey(p.Origin, p.StartTime) }},
		{name: indexStartTime, key: func(p storage.Pulse) []byte { return encodeInt(p.StartTime) }},
		{name: indexOrigin, key: func(p storage.Pulse) []byte { return stringKey(p.Origin) }},
	},
	setID: func(p *storage.Pulse, id uint64) { p.ID = id },
}

type pulseStore struct {
	db *bbolt.DB
}

func (s *pulseStore) UpsertOne(ctx context.Context, pulse storage.Pulse) (uint64, error) {
	key := originTimeKey(pulse.Origin, pulse.StartTime)
	return pulses.upsertByKey(ctx, s.db, indexOriginTime, key, func(existing *storage.Pulse) storage.Pulse {
		if existing == nil {
			return pulse
		}
		updated := *existing
		updated.Duration = existing.Duration.Add(pulse.Duration)
		return updated
	})
}

func (s *pulseStore) FindByDate(ctx context.Context, date int64) ([]storage.Pulse, error) {
	start := storage.StartOfDay(date)
	items, err := pulses.scanRange(ctx, s.db, indexStartTime, encodeInt(start), encodeInt(start+storage.Day))
	if err != nil {
		return nil, err
	}
	storage.SortByDuration(items)
	return items, nil
}

func (s *pulseStore) FindByOrigin(ctx context.Context, origin string) ([]storage.Pulse, error) {
	items, err := pulses.scanPrefix(ctx, s.db, indexOrigin, stringKey(origin))
	if err != nil {
		return nil, err
	}
	slices.SortFunc(items, func(a, b storage.Pulse) int {
		return cmp.Compare(a.StartTime, b.StartTime)
	})
	return items, nil
}

func originTimeKey(origin string, startTime int64) []byte {
	return stringKey(origin, encodeInt(startTime))
}
