package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinesense/internal/ml"
	"github.com/temcen/cinesense/internal/validation"
)

// DefaultRedisKey is the key prefix used when none is configured.
const DefaultRedisKey = "cinesense:snapshot"

// RedisStore keeps the latest snapshot under one key so every replica can
// restore the same model set without retraining.
type RedisStore struct {
	client    *redis.Client
	key       string
	ttl       time.Duration
	validator *validation.SchemaValidator
	logger    *logrus.Logger
}

// NewRedisStore creates a store. A zero ttl keeps the snapshot indefinitely.
func NewRedisStore(
	client *redis.Client,
	key string,
	ttl time.Duration,
	validator *validation.SchemaValidator,
	logger *logrus.Logger,
) (*RedisStore, error) {
	if key == "" {
		key = DefaultRedisKey
	}
	if validator == nil {
		v, err := validation.NewSchemaValidator()
		if err != nil {
			return nil, err
		}
		validator = v
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisStore{client: client, key: key, ttl: ttl, validator: validator, logger: logger}, nil
}

func (s *RedisStore) dataKey() string     { return s.key + ":data" }
func (s *RedisStore) manifestKey() string { return s.key + ":manifest" }

// Save writes the snapshot and a JSON manifest in one transaction.
func (s *RedisStore) Save(ctx context.Context, snap *ml.Snapshot) error {
	data, sum, err := Marshal(snap)
	if err != nil {
		return err
	}

	manifest, err := s.encodeManifest(snap, data, sum)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.dataKey(), data, s.ttl)
		pipe.Set(ctx, s.manifestKey(), manifest, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store snapshot in redis: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":     snap.RunID,
		"key":        s.dataKey(),
		"size_bytes": len(data),
	}).Info("Snapshot saved to redis")
	return nil
}

// Load reads the stored snapshot and checks it against the manifest.
func (s *RedisStore) Load(ctx context.Context) (*ml.Snapshot, error) {
	manifest, err := s.Manifest(ctx)
	if err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.dataKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot from redis: %w", err)
	}

	sum, err := Checksum(data)
	if err != nil {
		return nil, err
	}
	if sum != manifest.Checksum {
		return nil, fmt.Errorf("%w: %s does not match manifest checksum", ErrCorruptSnapshot, s.dataKey())
	}
	return Unmarshal(data)
}

// Manifest returns the manifest stored next to the snapshot.
func (s *RedisStore) Manifest(ctx context.Context) (*Manifest, error) {
	raw, err := s.client.Get(ctx, s.manifestKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest from redis: %w", err)
	}
	return s.decodeManifest(raw)
}

func (s *RedisStore) encodeManifest(snap *ml.Snapshot, data []byte, sum string) ([]byte, error) {
	raw, err := json.Marshal(Manifest{
		RunID:         snap.RunID,
		FormatVersion: int(FormatVersion),
		File:          s.dataKey(),
		Checksum:      sum,
		SizeBytes:     int64(len(data)),
		TrainedAt:     snap.TrainedAt.UTC(),
		SavedAt:       time.Now().UTC(),
		ConfigHash:    snap.ConfigHash,
		Users:         len(snap.UserIDs),
		Items:         len(snap.Catalog),
		Ratings:       len(snap.Ratings),
	})
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := s.validator.ValidateManifest(raw).Err(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return raw, nil
}

func (s *RedisStore) decodeManifest(raw []byte) (*Manifest, error) {
	if err := s.validator.ValidateManifest(raw).Err(); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrCorruptSnapshot, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrCorruptSnapshot, err)
	}
	return &m, nil
}
