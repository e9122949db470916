package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"seed-oracle/internal/domain"
	"seed-oracle/internal/infra/config"
)

// Пространства имён хранилища. Каждая логическая сущность живёт в своём
// пространстве одним документом.
const (
	NamespaceSentiment    = "sentiment-data"
	NamespaceQueue        = "queue-data"
	NamespaceQueueControl = "queue-control"
	NamespaceTransmission = "transmission-log"
	NamespaceHistory      = "sentiment-history"
)

// Factory выдаёт сторы по пространствам имён поверх одного подключения.
type Factory struct {
	redis  *redis.Client
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewFactory подключается к бэкенду из конфига: Redis при REDIS_ADDR,
// иначе Postgres при PG_DSN.
func NewFactory(cfg config.AppConfig, logger zerolog.Logger) (*Factory, error) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return &Factory{redis: client, logger: logger}, nil
	}
	if cfg.PGDSN != "" {
		pool, err := Connect(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		return &Factory{pool: pool, logger: logger}, nil
	}
	return nil, errors.New("store: не задан ни REDIS_ADDR, ни PG_DSN")
}

// Namespace возвращает стор, привязанный к пространству имён.
func (f *Factory) Namespace(ns string) domain.Store {
	if f.redis != nil {
		return NewRedis(f.redis, ns, f.logger)
	}
	return NewPostgres(f.pool, ns, f.logger)
}

// Close закрывает подключения.
func (f *Factory) Close() {
	if f.redis != nil {
		_ = f.redis.Close()
	}
	if f.pool != nil {
		f.pool.Close()
	}
}
