package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"seed-oracle/internal/adapters/narrator"
	"seed-oracle/internal/adapters/permastore"
	"seed-oracle/internal/adapters/poster"
	"seed-oracle/internal/domain"
	"seed-oracle/internal/infra/config"
	applog "seed-oracle/internal/infra/log"
	"seed-oracle/internal/infra/metrics"
	"seed-oracle/internal/infra/openai"
	"seed-oracle/internal/infra/store"
	archiveusecase "seed-oracle/internal/usecase/archive"
	prophecyusecase "seed-oracle/internal/usecase/prophecy"
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
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к хранилищу")
	}
	defer factory.Close()

	dataStore := factory.Namespace(store.NamespaceSentiment)
	queueStore := factory.Namespace(store.NamespaceQueue)

	chat := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	narr := narrator.NewOpenAI(chat, cfg.OpenAI.Model, cfg.OpenAI.Timeout, narrator.PersonaByName(cfg.Persona))
	social := choosePoster(cfg, logger)
	perma := permastore.NewClient(permastore.Config{
		NodeURL:   cfg.Archive.NodeURL,
		Currency:  cfg.Archive.Currency,
		WalletKey: cfg.Archive.WalletKey,
		Timeout:   cfg.Archive.Timeout,
	})

	transmissionSvc := transmissionusecase.NewService(
		queueStore,
		factory.Namespace(store.NamespaceQueueControl),
		factory.Namespace(store.NamespaceTransmission),
		social,
		applog.ForComponent(logger, "transmission"),
	)
	prophecySvc := prophecyusecase.NewService(dataStore, factory.Namespace(store.NamespaceHistory), narr, social, applog.ForComponent(logger, "prophecy"))
	archiveSvc := archiveusecase.NewService(dataStore, queueStore, prophecySvc, perma, applog.ForComponent(logger, "archive"))

	metrics.StartServer(ctx, applog.ForComponent(logger, "metrics"), cfg.MetricsAddr)

	logger.Info().
		Str("reset", cfg.Schedule.Reset).
		Str("generate", cfg.Schedule.Generate).
		Str("reveal", cfg.Schedule.Reveal).
		Str("flush", cfg.Schedule.Flush).
		Str("archive", cfg.Schedule.Archive).
		Msg("scheduler: старт")

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler: остановка")
			return
		case now := <-ticker.C:
			tick := now.UTC().Format("15:04")

			if tick == cfg.Schedule.Reset {
				if err := prophecySvc.Reset(ctx); err != nil {
					logger.Error().Err(err).Msg("scheduler: дневной сброс не удался")
				}
			}
			if matchesAny(tick, cfg.Schedule.Flush) {
				if _, err := transmissionSvc.Flush(ctx); err != nil {
					logger.Error().Err(err).Msg("scheduler: выгрузка очереди не удалась")
				}
			}
			if tick == cfg.Schedule.Generate {
				if _, err := prophecySvc.Generate(ctx, false); err != nil {
					logger.Error().Err(err).Msg("scheduler: генерация пророчества не удалась")
				}
			}
			if tick == cfg.Schedule.Reveal {
				if _, err := prophecySvc.Reveal(ctx); err != nil {
					logger.Error().Err(err).Msg("scheduler: раскрытие пророчества не удалось")
				}
			}
			if tick == cfg.Schedule.Archive {
				result, err := archiveSvc.Run(ctx, false)
				if err != nil {
					logger.Error().Err(err).Msg("scheduler: архивация не удалась")
				} else if result.ChaosMode {
					logger.Warn().Str("reason", result.Reason).Msg("scheduler: архив отложен, chaos mode")
				}
			}
		}
	}
}

// matchesAny сравнивает отметку ЧЧ:ММ со списком через запятую.
func matchesAny(tick, schedule string) bool {
	for _, slot := range strings.Split(schedule, ",") {
		if strings.TrimSpace(slot) == tick {
			return true
		}
	}
	return false
}

// choosePoster выбирает соцсеть: X при полном наборе ключей, иначе
// Telegram-канал.
func choosePoster(cfg config.AppConfig, logger zerolog.Logger) domain.Poster {
	xCfg := poster.XConfig{
		ConsumerKey:    cfg.X.ConsumerKey,
		ConsumerSecret: cfg.X.ConsumerSecret,
		AccessToken:    cfg.X.AccessToken,
		AccessSecret:   cfg.X.AccessSecret,
	}
	if xCfg.ConsumerKey != "" && xCfg.ConsumerSecret != "" && xCfg.AccessToken != "" && xCfg.AccessSecret != "" {
		return poster.NewX(xCfg)
	}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		tg, err := poster.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err == nil {
			logger.Info().Msg("poster: ключи X не заданы, публикуем в Telegram")
			return tg
		}
		logger.Warn().Err(err).Msg("poster: не удалось инициализировать Telegram")
	}
	return poster.NewX(xCfg)
}
