package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"seed-oracle/internal/adapters/narrator"
	"seed-oracle/internal/infra/config"
	applog "seed-oracle/internal/infra/log"
	"seed-oracle/internal/infra/metrics"
	"seed-oracle/internal/infra/openai"
	"seed-oracle/internal/infra/queue"
	"seed-oracle/internal/infra/store"
	sentimentusecase "seed-oracle/internal/usecase/sentiment"
	transmissionusecase "seed-oracle/internal/usecase/transmission"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	factory, err := store.NewFactory(cfg, applog.ForComponent(logger, "store"))
	if err != nil {
		logger.Fatal().Err(err).Msg("poller: нет подключения к хранилищу")
	}
	defer factory.Close()

	source, err := queue.NewAMQPSignalSource(cfg.AMQP.URL, cfg.AMQP.Queue)
	if err != nil {
		logger.Fatal().Err(err).Msg("poller: нет подключения к брокеру")
	}
	defer source.Close()

	chat := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	narr := narrator.NewOpenAI(chat, cfg.OpenAI.Model, cfg.OpenAI.Timeout, narrator.PersonaByName(cfg.Persona))

	queueStore := factory.Namespace(store.NamespaceQueue)
	transmissionSvc := transmissionusecase.NewService(
		queueStore,
		factory.Namespace(store.NamespaceQueueControl),
		factory.Namespace(store.NamespaceTransmission),
		nil, // постер не нужен: поллер только накапливает очередь
		applog.ForComponent(logger, "transmission"),
	)
	sentimentSvc := sentimentusecase.NewService(
		factory.Namespace(store.NamespaceSentiment),
		queueStore,
		narr,
		transmissionSvc,
		applog.ForComponent(logger, "sentiment"),
	)

	metrics.StartServer(ctx, applog.ForComponent(logger, "metrics"), cfg.MetricsAddr)

	logger.Info().Str("queue", cfg.AMQP.Queue).Msg("poller: старт")
	for {
		bundle, err := source.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				break
			}
			logger.Error().Err(err).Msg("poller: источник сигналов недоступен")
			break
		}
		if err := sentimentSvc.ProcessBatch(ctx, bundle.Transactions); err != nil {
			logger.Error().Err(err).Msg("poller: ошибка обработки пачки")
		}
		if err := sentimentSvc.Heartbeat(ctx); err != nil {
			logger.Warn().Err(err).Msg("poller: не удалось записать пульс")
		}
	}
	logger.Info().Msg("poller: остановка")
}
