package contextstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StringGetter is the subset of a redis client the store needs.
// *redis.Client, *redis.ClusterClient and redis.UniversalClient satisfy it.
type StringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore reads documents stored as plain string values under prefix+id.
type RedisStore struct {
	client StringGetter
	prefix string
}

// NewRedisStore creates a store reading keys prefix+id from client.
func NewRedisStore(client StringGetter, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient builds a client for addr; callers own Close.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func (s *RedisStore) Fetch(ctx context.Context, id string) (Document, error) {
	key := s.prefix + id
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Document{}, NotFound(id)
		}
		return Document{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	return Document{
		ID:       id,
		Content:  val,
		Metadata: map[string]string{"source": "redis:" + key},
	}, nil
}
