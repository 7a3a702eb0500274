package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goodtune/zen/internal/storage"
	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"
)

// Store implements the storage.Store interface using bbolt.
type Store struct {
	db     *bbolt.DB
	logger zerolog.Logger
}

// Open opens a BoltDB-backed store and brings its schema up to date.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{
		db:     db,
		logger: logger.With().Str("component", "bolt").Logger(),
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying store database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Pulses returns the pulse store.
func (s *Store) Pulses() storage.PulseStore { return &pulseStore{db: s.db} }

// Limits returns the limit store.
func (s *Store) Limits() storage.LimitStore { return &limitStore{db: s.db} }

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}

func encodeID(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func decodeID(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// encodeInt encodes a signed value so that byte order matches numeric order.
func encodeInt(v int64) []byte {
	return encodeID(uint64(v) ^ (1 << 63))
}

// stringKey terminates s with a NUL byte so that prefixes of one string
// never match another.
func stringKey(s string, rest ...[]byte) []byte {
	size := len(s) + 1
	for _, part := range rest {
		size += len(part)
	}
	key := make([]byte, 0, size)
	key = append(key, s...)
	key = append(key, 0)
	for _, part := range rest {
		key = append(key, part...)
	}
	return key
}
