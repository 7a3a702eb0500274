package bolt

import (
	"context"
	"time"

	"github.com/goodtune/zen/internal/storage"
	"go.etcd.io/bbolt"
)

var limits = &collection[storage.Limit]{
	name: "limits",
	indexes: []index[storage.Limit]{
		{name: "limit", key: func(l storage.Limit) []byte { return encodeInt(int64(l.Minutes)) }},
		{name: "created", key: func(l storage.Limit) []byte { return encodeInt(l.Created.UnixMilli()) }},
		{name: "updated", key: func(l storage.Limit) []byte { return encodeInt(l.Updated.UnixMilli()) }},
	},
	setID: func(l *storage.Limit, id uint64) { l.ID = id },
}

type limitStore struct {
	db *bbolt.DB
}

func (s *limitStore) Insert(ctx context.Context, limit storage.Limit) (uint64, error) {
	now := time.Now().UTC()
	if limit.Created.IsZero() {
		limit.Created = now
	}
	if limit.Updated.IsZero() {
		limit.Updated = limit.Created
	}
	return limits.insert(ctx, s.db, limit)
}

func (s *limitStore) Get(ctx context.Context, id uint64) (*storage.Limit, error) {
	return limits.get(ctx, s.db, id)
}

func (s *limitStore) List(ctx context.Context) ([]storage.Limit, error) {
	return limits.scanPrefix(ctx, s.db, "created", nil)
}
