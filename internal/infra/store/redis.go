package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"seed-oracle/internal/domain"
	"seed-oracle/internal/infra/metrics"
)

// RedisStore реализует domain.Store поверх Redis.
// Каждый экземпляр привязан к одному пространству имён.
type RedisStore struct {
	client    *redis.Client
	namespace string
	cache     *readCache
	logger    zerolog.Logger
}

var _ domain.Store = (*RedisStore)(nil)

// NewRedis создаёт стор для указанного пространства имён.
func NewRedis(client *redis.Client, namespace string, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client:    client,
		namespace: namespace,
		cache:     newReadCache(),
		logger:    logger.With().Str("store", namespace).Logger(),
	}
}

func (s *RedisStore) key(k string) string {
	return s.namespace + ":" + k
}

// Get читает документ по ключу. Любая ошибка чтения или разбора
// логируется и отдаётся как отсутствие данных.
func (s *RedisStore) Get(ctx context.Context, key string, dst any) bool {
	if payload, ok := s.cache.get(key); ok {
		if err := json.Unmarshal(payload, dst); err == nil {
			return true
		}
		s.cache.invalidate(key)
	}

	start := time.Now()
	payload, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("store", "get", s.namespace, start, nil)
		return false
	}
	if err != nil {
		metrics.ObserveNetworkRequest("store", "get", s.namespace, start, err)
		s.logger.Error().Err(err).Str("key", key).Msg("store: ошибка чтения, возвращаем отсутствие данных")
		return false
	}
	metrics.ObserveNetworkRequest("store", "get", s.namespace, start, nil)
	if err := json.Unmarshal(payload, dst); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("store: не удалось разобрать документ")
		return false
	}
	s.cache.put(key, payload)
	return true
}

// Set сохраняет документ и инвалидирует кэш ключа.
func (s *RedisStore) Set(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	start := time.Now()
	err = s.client.Set(ctx, s.key(key), payload, 0).Err()
	metrics.ObserveNetworkRequest("store", "set", s.namespace, start, err)
	if err != nil {
		return fmt.Errorf("set %s:%s: %w", s.namespace, key, err)
	}
	s.cache.invalidate(key)
	return nil
}

// Delete удаляет документ и инвалидирует кэш ключа.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.client.Del(ctx, s.key(key)).Err()
	metrics.ObserveNetworkRequest("store", "delete", s.namespace, start, err)
	if err != nil {
		return fmt.Errorf("delete %s:%s: %w", s.namespace, key, err)
	}
	s.cache.invalidate(key)
	return nil
}
