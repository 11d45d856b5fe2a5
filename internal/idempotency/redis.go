package idempotency

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/entity_gateway/internal/errors"
)

// RedisStore persists idempotency records in Redis. The hash is written with
// SETNX, which gives the first-writer-wins guarantee on the key; the status
// and response are written afterwards under sibling keys. A hash key without
// a status key marks an execution that never completed.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "idem"}
}

func (s *RedisStore) hashKey(key string) string {
	return fmt.Sprintf("%s:%s:hash", s.prefix, key)
}

func (s *RedisStore) statusKey(key string) string {
	return fmt.Sprintf("%s:%s:status", s.prefix, key)
}

func (s *RedisStore) responseKey(key string) string {
	return fmt.Sprintf("%s:%s:response", s.prefix, key)
}

func (s *RedisStore) Find(ctx context.Context, key string) (*Record, error) {
	hash, err := s.client.Get(ctx, s.hashKey(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := &Record{RequestHash: hash}

	status, err := s.client.Get(ctx, s.statusKey(key)).Result()
	if err == redis.Nil {
		return rec, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Status, _ = strconv.Atoi(status)

	resp, err := s.client.Get(ctx, s.responseKey(key)).Bytes()
	if err == redis.Nil {
		return rec, nil
	}
	if err != nil {
		return nil, err
	}
	if len(resp) > 0 {
		rec.Response = resp
	}
	return rec, nil
}

func (s *RedisStore) GetRequestHash(ctx context.Context, key string) (string, error) {
	hash, err := s.client.Get(ctx, s.hashKey(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (s *RedisStore) Save(ctx context.Context, key, hash string, status int, response []byte) error {
	set, err := s.client.SetNX(ctx, s.hashKey(key), hash, 0).Result()
	if err != nil {
		return err
	}
	if !set {
		stored, err := s.client.Get(ctx, s.hashKey(key)).Result()
		if err != nil {
			return err
		}
		if stored != hash {
			return errors.IdempotencyConflict(key)
		}
	}
	// SetNX keeps the first completed outcome authoritative.
	if response != nil {
		if _, err := s.client.SetNX(ctx, s.responseKey(key), response, 0).Result(); err != nil {
			return err
		}
	}
	_, err = s.client.SetNX(ctx, s.statusKey(key), strconv.Itoa(status), 0).Result()
	return err
}
