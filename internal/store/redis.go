package store

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "carebook:"

// RedisStore keeps records as plain string values under a key prefix.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore constructs a store on top of an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: redisKeyPrefix}
}

func (s *RedisStore) key(path string) string {
	return s.prefix + path
}

// Read returns the record stored at path.
func (s *RedisStore) Read(ctx context.Context, path string) (Record, error) {
	val, err := s.client.Get(ctx, s.key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyRedis("read", path, err)
	}
	return Record(val), nil
}

// Write replaces the record stored at path.
func (s *RedisStore) Write(ctx context.Context, path string, record Record) error {
	if err := s.client.Set(ctx, s.key(path), []byte(record), 0).Err(); err != nil {
		return classifyRedis("write", path, err)
	}
	return nil
}

// Create sets the key only when it does not exist yet.
func (s *RedisStore) Create(ctx context.Context, path string, record Record) error {
	created, err := s.client.SetNX(ctx, s.key(path), []byte(record), 0).Result()
	if err != nil {
		return classifyRedis("create", path, err)
	}
	if !created {
		return ErrExists
	}
	return nil
}

// Delete removes the record stored at path.
func (s *RedisStore) Delete(ctx context.Context, path string) error {
	if err := s.client.Del(ctx, s.key(path)).Err(); err != nil {
		return classifyRedis("delete", path, err)
	}
	return nil
}

func classifyRedis(op, path string, err error) error {
	// ACL failures come back as server replies prefixed with NOPERM.
	if strings.HasPrefix(err.Error(), "NOPERM") {
		return permissionDenied(op, path, err)
	}
	return unreachable(op, path, err)
}
