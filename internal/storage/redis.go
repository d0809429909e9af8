// Package storage provides shared-state replay stores for multi-instance
// deployments, backed by Redis or Postgres. Single-instance deployments can
// use the in-process store from the payment package instead.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// nonceKeyFmt namespaces consumed nonces as x402:nonce:<payer>:<nonce>.
const nonceKeyFmt = "x402:nonce:%s:%s"

// RedisReplayStore implements payment.ReplayStore on a shared Redis
// instance. SET NX gives the atomic insert-if-absent; Redis expires the key
// itself once the authorization window has passed.
type RedisReplayStore struct {
	client *redis.Client
}

// NewRedisReplayStore connects to Redis and verifies it is reachable.
func NewRedisReplayStore(ctx context.Context, addr, password string, db int) (*RedisReplayStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Int("db", db).Msg("redis replay store connected")
	return &RedisReplayStore{client: client}, nil
}

func (s *RedisReplayStore) Consume(ctx context.Context, payer, nonce string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	key := fmt.Sprintf(nonceKeyFmt, payer, nonce)
	ok, err := s.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (s *RedisReplayStore) Release(ctx context.Context, payer, nonce string) error {
	key := fmt.Sprintf(nonceKeyFmt, payer, nonce)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Healthy reports whether Redis responds to a ping.
func (s *RedisReplayStore) Healthy(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

func (s *RedisReplayStore) Close() error {
	return s.client.Close()
}
