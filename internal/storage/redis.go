package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisKeyPrefix   = "exstem:slot:"
	redisWatchPrefix = "exstem:slots"
)

// RedisStore keeps slots in Redis. It is used on shared lab machines where
// several exam stations point at one local Redis, and it is the only
// backend that can observe writes made by other processes (via pub/sub).
type RedisStore struct {
	rdb *redis.Client
}

// OpenRedis creates and validates a Redis-backed store.
func OpenRedis(ctx context.Context, url string, log zerolog.Logger) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Msg("Redis connected")

	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, redisKeyPrefix+key, value, 0).Err(); err != nil {
		return err
	}
	// Best-effort notification; watchers resync from the store anyway.
	_ = s.rdb.Publish(ctx, redisWatchPrefix, string(OpSet)+":"+key).Err()
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = redisKeyPrefix + k
	}
	if err := s.rdb.Del(ctx, prefixed...).Err(); err != nil {
		return err
	}
	for _, k := range keys {
		_ = s.rdb.Publish(ctx, redisWatchPrefix, string(OpDelete)+":"+k).Err()
	}
	return nil
}

// Watch subscribes to slot mutations published by other processes.
// The channel closes when ctx is canceled.
func (s *RedisStore) Watch(ctx context.Context) (<-chan KeyEvent, error) {
	sub := s.rdb.Subscribe(ctx, redisWatchPrefix)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan KeyEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				op, key, found := strings.Cut(msg.Payload, ":")
				if !found {
					continue
				}
				select {
				case out <- KeyEvent{Key: key, Op: Op(op)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
