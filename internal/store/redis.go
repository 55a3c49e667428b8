package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisResourcePrefix = "fruitgame:res:"
	redisVersionKey     = "fruitgame:version"
)

// RedisStore is the Redis-backed persistence tier, for deployments where the
// worker's durable state lives off the local filesystem. Entries never
// expire; a redeploy simply overwrites them.
type RedisStore struct {
	client *redis.Client
}

func OpenRedis(addr string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, res *Resource) error {
	b, err := encodeGob(res)
	if err != nil {
		return fmt.Errorf("encode resource %q: %w", res.URL, err)
	}
	if err := s.client.Set(ctx, redisResourcePrefix+res.URL, b, 0).Err(); err != nil {
		return fmt.Errorf("put resource %q: %w", res.URL, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, url string) (*Resource, error) {
	b, err := s.client.Get(ctx, redisResourcePrefix+url).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get resource %q: %w", url, err)
	}
	var res Resource
	if err := decodeGob(b, &res); err != nil {
		return nil, fmt.Errorf("decode resource %q: %w", url, err)
	}
	return &res, nil
}

func (s *RedisStore) PutVersion(ctx context.Context, version string) error {
	rec := VersionRecord{
		Version:   version,
		CheckedAt: time.Now().Unix(),
	}
	b, err := encodeGob(rec)
	if err != nil {
		return fmt.Errorf("encode version record: %w", err)
	}
	if err := s.client.Set(ctx, redisVersionKey, b, 0).Err(); err != nil {
		return fmt.Errorf("put version record: %w", err)
	}
	return nil
}

func (s *RedisStore) GetVersion(ctx context.Context) (VersionRecord, error) {
	b, err := s.client.Get(ctx, redisVersionKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return VersionRecord{}, ErrNotFound
	}
	if err != nil {
		return VersionRecord{}, fmt.Errorf("get version record: %w", err)
	}
	var rec VersionRecord
	if err := decodeGob(b, &rec); err != nil {
		return VersionRecord{}, fmt.Errorf("decode version record: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
