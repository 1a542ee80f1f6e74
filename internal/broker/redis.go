package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker on a shared Redis service. This is the
// deployment mode for independent producer and worker processes: the
// blocking pop (BRPOP) and the set/hash commands give the atomicity the
// job lifecycle relies on. Lists are pushed at the head and popped at the
// tail, so LRANGE from index 0 reads newest first.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker connects to Redis using a URL of the form
// redis://[user:pass@]host:port/db.
func NewRedisBroker(url string) (*RedisBroker, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return &RedisBroker{client: redis.NewClient(opts)}, nil
}

// Ping issues a Redis PING.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// ListPush appends a value (LPUSH).
func (b *RedisBroker) ListPush(ctx context.Context, key, value string) error {
	return b.client.LPush(ctx, key, value).Err()
}

// ListPop removes the oldest value (BRPOP), blocking up to timeout.
func (b *RedisBroker) ListPop(ctx context.Context, key string, timeout time.Duration) (string, bool, error) {
	result, err := b.client.BRPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	// BRPOP returns [key, value]
	if len(result) < 2 {
		return "", false, fmt.Errorf("unexpected BRPOP reply length %d", len(result))
	}
	return result[1], true, nil
}

// ListRange returns up to count values, newest first.
func (b *RedisBroker) ListRange(ctx context.Context, key string, count int64) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	return b.client.LRange(ctx, key, 0, count-1).Result()
}

// ListTrim keeps the maxLen most recently pushed values.
func (b *RedisBroker) ListTrim(ctx context.Context, key string, maxLen int64) error {
	return b.client.LTrim(ctx, key, 0, maxLen-1).Err()
}

// ListLen returns the list length.
func (b *RedisBroker) ListLen(ctx context.Context, key string) (int64, error) {
	return b.client.LLen(ctx, key).Result()
}

// SetAdd adds a member (SADD).
func (b *RedisBroker) SetAdd(ctx context.Context, key, member string) error {
	return b.client.SAdd(ctx, key, member).Err()
}

// SetRemove removes a member (SREM).
func (b *RedisBroker) SetRemove(ctx context.Context, key, member string) error {
	return b.client.SRem(ctx, key, member).Err()
}

// SetCard returns the set cardinality.
func (b *RedisBroker) SetCard(ctx context.Context, key string) (int64, error) {
	return b.client.SCard(ctx, key).Result()
}

// SetMembers returns all members.
func (b *RedisBroker) SetMembers(ctx context.Context, key string) ([]string, error) {
	return b.client.SMembers(ctx, key).Result()
}

// HashSet writes fields into a hash (HSET merges with existing fields).
func (b *RedisBroker) HashSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(fields))
	for field, value := range fields {
		values[field] = value
	}
	return b.client.HSet(ctx, key, values).Err()
}

// HashGet reads a single hash field.
func (b *RedisBroker) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	value, err := b.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// HashGetAll returns all fields of a hash.
func (b *RedisBroker) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	return b.client.HGetAll(ctx, key).Result()
}

// HashDelete removes fields from a hash.
func (b *RedisBroker) HashDelete(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return b.client.HDel(ctx, key, fields...).Err()
}

// Close closes the Redis connection.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
