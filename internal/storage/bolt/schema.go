package bolt

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

const (
	// schemaVersion is bumped whenever a collection or index is added.
	schemaVersion = 2393

	bucketMeta       = "meta"
	keySchemaVersion = "schema_version"
)

// Migrate creates every collection and index bucket that does not exist yet
// and records the schema version. Existing buckets are left untouched.
func (s *Store) Migrate(ctx context.Context) error {
	buckets := append(pulses.bucketNames(), limits.bucketNames()...)
	buckets = append(buckets, bucketMeta)

	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		created := 0
		for _, name := range buckets {
			if tx.Bucket([]byte(name)) != nil {
				s.logger.Debug().Str("bucket", name).Msg("Bucket already exists")
				continue
			}
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
			created++
		}

		meta := tx.Bucket([]byte(bucketMeta))
		if err := meta.Put([]byte(keySchemaVersion), encodeID(schemaVersion)); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
		if created > 0 {
			s.logger.Info().Int("buckets", created).Int("version", schemaVersion).Msg("Storage schema upgraded")
		}
		return nil
	})
}

// SchemaVersion returns the schema version recorded by the last migration.
func (s *Store) SchemaVersion(ctx context.Context) (uint64, error) {
	var version uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta == nil {
			return nil
		}
		if v := meta.Get([]byte(keySchemaVersion)); v != nil {
			version = decodeID(v)
		}
		return nil
	})
	return version, err
}
