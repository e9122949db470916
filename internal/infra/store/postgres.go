package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"seed-oracle/internal/domain"
	"seed-oracle/internal/infra/metrics"
)

// PostgresStore реализует domain.Store поверх одной таблицы документов:
//
//	CREATE TABLE IF NOT EXISTS kv_documents (
//	    namespace  TEXT NOT NULL,
//	    key        TEXT NOT NULL,
//	    value      JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (namespace, key)
//	);
type PostgresStore struct {
	pool      *pgxpool.Pool
	namespace string
	cache     *readCache
	logger    zerolog.Logger
}

var _ domain.Store = (*PostgresStore)(nil)

// Connect открывает пул соединений к Postgres.
func Connect(dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("подключение к postgres: %w", err)
	}
	return pool, nil
}

// NewPostgres создаёт стор для указанного пространства имён.
func NewPostgres(pool *pgxpool.Pool, namespace string, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{
		pool:      pool,
		namespace: namespace,
		cache:     newReadCache(),
		logger:    logger.With().Str("store", namespace).Logger(),
	}
}

// Get читает документ по ключу, мягко деградируя до отсутствия данных.
func (s *PostgresStore) Get(ctx context.Context, key string, dst any) bool {
	if payload, ok := s.cache.get(key); ok {
		if err := json.Unmarshal(payload, dst); err == nil {
			return true
		}
		s.cache.invalidate(key)
	}

	start := time.Now()
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_documents WHERE namespace = $1 AND key = $2`,
		s.namespace, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
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

// Set сохраняет документ через upsert и инвалидирует кэш ключа.
func (s *PostgresStore) Set(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	start := time.Now()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO kv_documents (namespace, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (namespace, key) DO UPDATE SET value = $3, updated_at = now()`,
		s.namespace, key, payload)
	metrics.ObserveNetworkRequest("store", "set", s.namespace, start, err)
	if err != nil {
		return fmt.Errorf("set %s:%s: %w", s.namespace, key, err)
	}
	s.cache.invalidate(key)
	return nil
}

// Delete удаляет документ и инвалидирует кэш ключа.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx,
		`DELETE FROM kv_documents WHERE namespace = $1 AND key = $2`,
		s.namespace, key)
	metrics.ObserveNetworkRequest("store", "delete", s.namespace, start, err)
	if err != nil {
		return fmt.Errorf("delete %s:%s: %w", s.namespace, key, err)
	}
	s.cache.invalidate(key)
	return nil
}
