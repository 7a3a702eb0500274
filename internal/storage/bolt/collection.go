package bolt

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goodtune/zen/internal/storage"
	"go.etcd.io/bbolt"
)

// index describes a secondary index over a collection. Entries of a unique
// index are stored as key -> id. Entries of a non-unique index append the
// record id to the key so that duplicates stay distinct and ordered.
type index[T any] struct {
	name   string
	unique bool
	key    func(T) []byte
}

// collection is a bucket of JSON records keyed by an auto-incremented id,
// plus one bucket per index.
type collection[T any] struct {
	name    string
	indexes []index[T]
	setID   func(*T, uint64)
}

func (c *collection[T]) bucketNames() []string {
	names := []string{c.name}
	for _, idx := range c.indexes {
		names = append(names, c.indexBucketName(idx.name))
	}
	return names
}

func (c *collection[T]) indexBucketName(name string) string {
	return c.name + "." + name
}

func (c *collection[T]) records(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	b := tx.Bucket([]byte(c.name))
	if b == nil {
		return nil, fmt.Errorf("bucket missing: %s", c.name)
	}
	return b, nil
}

func (c *collection[T]) index(tx *bbolt.Tx, name string) (*bbolt.Bucket, index[T], error) {
	for _, idx := range c.indexes {
		if idx.name != name {
			continue
		}
		b := tx.Bucket([]byte(c.indexBucketName(name)))
		if b == nil {
			return nil, idx, fmt.Errorf("bucket missing: %s", c.indexBucketName(name))
		}
		return b, idx, nil
	}
	return nil, index[T]{}, fmt.Errorf("unknown index %s on %s", name, c.name)
}

// upsertByKey looks up key in the unique index and either inserts
// update(nil) under a new id or replaces the matching record with
// update(existing). Both paths run in one read-write transaction, so a failure
// leaves nothing applied. It returns the id of the resulting record.
func (c *collection[T]) upsertByKey(ctx context.Context, db *bbolt.DB, indexName string, key []byte, update func(existing *T) T) (uint64, error) {
	var id uint64
	err := db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		records, err := c.records(tx)
		if err != nil {
			return err
		}
		idx, def, err := c.index(tx, indexName)
		if err != nil {
			return err
		}
		if !def.unique {
			return fmt.Errorf("index %s on %s is not unique", indexName, c.name)
		}

		k, v := idx.Cursor().Seek(key)
		if k == nil || !bytes.Equal(k, key) {
			value := update(nil)
			if !bytes.Equal(def.key(value), key) {
				return fmt.Errorf("new %s record does not match lookup key", c.name)
			}
			next, err := records.NextSequence()
			if err != nil {
				return fmt.Errorf("next %s id: %w", c.name, err)
			}
			id = next
			c.setID(&value, id)
			return c.put(tx, records, id, nil, value)
		}

		id = decodeID(v)
		existing, err := c.load(records, id)
		if err != nil {
			return err
		}
		value := update(existing)
		c.setID(&value, id)
		return c.put(tx, records, id, existing, value)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// insert stores value under a new id.
func (c *collection[T]) insert(ctx context.Context, db *bbolt.DB, value T) (uint64, error) {
	var id uint64
	err := db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		records, err := c.records(tx)
		if err != nil {
			return err
		}
		next, err := records.NextSequence()
		if err != nil {
			return fmt.Errorf("next %s id: %w", c.name, err)
		}
		id = next
		c.setID(&value, id)
		return c.put(tx, records, id, nil, value)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// put writes value under id and brings every index in line with it.
// previous is the value currently stored under id, or nil for a new record.
func (c *collection[T]) put(tx *bbolt.Tx, records *bbolt.Bucket, id uint64, previous *T, value T) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}
	if err := records.Put(encodeID(id), data); err != nil {
		return fmt.Errorf("put %s record: %w", c.name, err)
	}

	for _, def := range c.indexes {
		b, _, err := c.index(tx, def.name)
		if err != nil {
			return err
		}
		newKey := c.entryKey(def, def.key(value), id)
		if previous != nil {
			oldKey := c.entryKey(def, def.key(*previous), id)
			if bytes.Equal(oldKey, newKey) {
				continue
			}
			if err := b.Delete(oldKey); err != nil {
				return fmt.Errorf("delete %s.%s entry: %w", c.name, def.name, err)
			}
		}
		if def.unique {
			if current := b.Get(newKey); current != nil && decodeID(current) != id {
				return fmt.Errorf("%s.%s: %w", c.name, def.name, storage.ErrConstraint)
			}
		}
		if err := b.Put(newKey, encodeID(id)); err != nil {
			return fmt.Errorf("put %s.%s entry: %w", c.name, def.name, err)
		}
	}
	return nil
}

func (c *collection[T]) entryKey(def index[T], key []byte, id uint64) []byte {
	if def.unique {
		return key
	}
	entry := make([]byte, 0, len(key)+8)
	entry = append(entry, key...)
	return append(entry, encodeID(id)...)
}

func (c *collection[T]) load(records *bbolt.Bucket, id uint64) (*T, error) {
	data := records.Get(encodeID(id))
	if data == nil {
		return nil, fmt.Errorf("%s record %d: %w", c.name, id, storage.ErrNotFound)
	}
	var value T
	if err := unmarshal(data, &value); err != nil {
		return nil, err
	}
	return &value, nil
}

// get returns the record stored under id.
func (c *collection[T]) get(ctx context.Context, db *bbolt.DB, id uint64) (*T, error) {
	var value *T
	err := db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		records, err := c.records(tx)
		if err != nil {
			return err
		}
		value, err = c.load(records, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// all returns every record in id order.
func (c *collection[T]) all(ctx context.Context, db *bbolt.DB) ([]T, error) {
	items := make([]T, 0)
	err := db.View(func(tx *bbolt.Tx) error {
		records, err := c.records(tx)
		if err != nil {
			return err
		}
		return records.ForEach(func(_, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var item T
			if err := unmarshal(v, &item); err != nil {
				return err
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// scanRange returns the records whose index key lies in [lower, upper), in
// index order. A nil upper bound scans to the end of the index.
func (c *collection[T]) scanRange(ctx context.Context, db *bbolt.DB, indexName string, lower, upper []byte) ([]T, error) {
	return c.scan(ctx, db, indexName, lower, func(def index[T], k []byte) bool {
		if upper == nil {
			return true
		}
		if !def.unique {
			k = k[:len(k)-8]
		}
		return bytes.Compare(k, upper) < 0
	})
}

// scanPrefix returns the records whose index key starts with prefix.
func (c *collection[T]) scanPrefix(ctx context.Context, db *bbolt.DB, indexName string, prefix []byte) ([]T, error) {
	return c.scan(ctx, db, indexName, prefix, func(_ index[T], k []byte) bool {
		return bytes.HasPrefix(k, prefix)
	})
}

func (c *collection[T]) scan(ctx context.Context, db *bbolt.DB, indexName string, seek []byte, within func(index[T], []byte) bool) ([]T, error) {
	items := make([]T, 0)
	err := db.View(func(tx *bbolt.Tx) error {
		records, err := c.records(tx)
		if err != nil {
			return err
		}
		idx, def, err := c.index(tx, indexName)
		if err != nil {
			return err
		}
		cur := idx.Cursor()
		for k, v := cur.Seek(seek); k != nil && within(def, k); k, v = cur.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			item, err := c.load(records, decodeID(v))
			if err != nil {
				return err
			}
			items = append(items, *item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
