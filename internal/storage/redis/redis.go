package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/zen/internal/config"
	"github.com/goodtune/zen/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyPrefix        = "zen:"
	keySchemaVersion = keyPrefix + "schema_version"

	// schemaVersion matches the bbolt backend so either store reports the same layout.
	schemaVersion = 2393

	// maxTxRetries bounds optimistic transactions that lose a WATCH race.
	maxTxRetries = 3
)

var errTooManyRetries = errors.New("redis: transaction retries exhausted")

// Store implements the storage.Store interface using Redis
type Store struct {
	client *redis.Client
	logger zerolog.Logger
}

// Open creates a new Redis-backed storage instance and records the schema version.
func Open(cfg config.RedisConfig, logger zerolog.Logger) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := &Store{
		client: client,
		logger: logger.With().Str("component", "redis").Logger(),
	}
	if err := store.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Migrate records the schema version. Redis keys are created on first write,
// so there is nothing else to prepare.
func (s *Store) Migrate(ctx context.Context) error {
	current, err := s.client.Get(ctx, keySchemaVersion).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current == schemaVersion {
		s.logger.Debug().Int("version", current).Msg("Schema already up to date")
		return nil
	}
	if err := s.client.Set(ctx, keySchemaVersion, schemaVersion, 0).Err(); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	s.logger.Info().Int("version", schemaVersion).Msg("Storage schema upgraded")
	return nil
}

// SchemaVersion returns the recorded schema version, or zero for an empty database.
func (s *Store) SchemaVersion(ctx context.Context) (uint64, error) {
	version, err := s.client.Get(ctx, keySchemaVersion).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Pulses returns the PulseStore implementation
func (s *Store) Pulses() storage.PulseStore {
	return &pulseStore{client: s.client}
}

// Limits returns the LimitStore implementation
func (s *Store) Limits() storage.LimitStore {
	return &limitStore{client: s.client}
}
