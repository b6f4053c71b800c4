// ABOUTME: Status stored under one Redis key using go-redis
// ABOUTME: The connection is checked with a ping on open

package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is used when RedisOptions.Key is empty.
const DefaultRedisKey = "localslackirc:status"

// RedisOptions configures a RedisStore. Client wins over Addr when set.
type RedisOptions struct {
	Client *redis.Client
	Addr   string
	Key    string
}

// RedisStore keeps the status in a Redis string.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := opts.Client
	if client == nil {
		if opts.Addr == "" {
			return nil, errors.New("redis: address is required")
		}
		client = redis.NewClient(&redis.Options{Addr: opts.Addr})
	}
	key := opts.Key
	if key == "" {
		key = DefaultRedisKey
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisStore{client: client, key: key}, nil
}

func (r *RedisStore) Load(ctx context.Context) (Status, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("redis: get %s: %w", r.key, err)
	}
	return decode(data)
}

func (r *RedisStore) Save(ctx context.Context, s Status) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
