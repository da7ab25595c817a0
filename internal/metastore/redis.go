package metastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis server. Each method maps onto a
// single Redis command; nothing is pipelined or wrapped in MULTI.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// DialRedis connects to addr and verifies the server answers PING.
func DialRedis(ctx context.Context, addr string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return NewRedisStore(rdb), nil
}

func nilErr(err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrNil
	}
	return err
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func (r *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return r.rdb.SIsMember(ctx, key, member).Result()
}

func (r *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	return r.rdb.SAdd(ctx, key, toArgs(members)...).Err()
}

func (r *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	return r.rdb.SRem(ctx, key, toArgs(members)...).Err()
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.rdb.SMembers(ctx, key).Result()
}

func (r *RedisStore) SRandMember(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.SRandMember(ctx, key).Result()
	return v, nilErr(err)
}

func (r *RedisStore) LPush(ctx context.Context, key string, values ...string) error {
	return r.rdb.LPush(ctx, key, toArgs(values)...).Err()
}

func (r *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.rdb.LRange(ctx, key, start, stop).Result()
}

func (r *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return r.rdb.LTrim(ctx, key, start, stop).Err()
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return r.rdb.Set(ctx, key, value, 0).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	return v, nilErr(err)
}

// FlushAll flushes the selected database only, not the whole server.
func (r *RedisStore) FlushAll(ctx context.Context) error {
	return r.rdb.FlushDB(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
