// Package redisstore keeps credentials in Redis, optionally expiring them.
package redisstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/credential"
)

const keyPrefix = "masomo:credential:"

type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ credential.Store = (*Store)(nil)

// New wraps client; a zero ttl keeps values until removed.
func New(client redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Open connects to the Redis server described by conf.
func Open(conf *core.Config) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	return New(client, conf.Redis.TTL)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", credential.ErrNotFound
		}
		return "", errors.Wrap(err, "redis get")
	}
	return val, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return errors.Wrap(s.client.Set(ctx, keyPrefix+key, value, s.ttl).Err(), "redis set")
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return errors.Wrap(s.client.Del(ctx, keyPrefix+key).Err(), "redis del")
}

func (s *Store) Close() error {
	return s.client.Close()
}
