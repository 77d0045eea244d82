package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// sequenceTTL держит счётчик периода дольше самого периода, чтобы
// поздние заказы месяца не начали нумерацию заново.
const sequenceTTL = 62 * 24 * time.Hour

// RedisSequencer выдаёт номера заказов атомарным INCR по ключу периода.
type RedisSequencer struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSequencer создаёт счётчик поверх Redis.
func NewRedisSequencer(addr, password string, db int) *RedisSequencer {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisSequencerWithClient(rdb)
}

// NewRedisSequencerWithClient создаёт счётчик поверх готового клиента.
func NewRedisSequencerWithClient(client redis.UniversalClient) *RedisSequencer {
	return &RedisSequencer{client: client, prefix: "storefront:order_seq:"}
}

// NextSequence увеличивает счётчик периода и возвращает новое значение.
func (s *RedisSequencer) NextSequence(ctx context.Context, period string) (int64, error) {
	key := s.key(period)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, sequenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Ping проверяет доступность Redis.
func (s *RedisSequencer) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close закрывает клиент Redis.
func (s *RedisSequencer) Close() error {
	return s.client.Close()
}

func (s *RedisSequencer) key(period string) string {
	return s.prefix + period
}
