package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
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
	sentimentusecase "seed-oracle/internal/usecase/sentiment"
	transmissionusecase "seed-oracle/internal/usecase/transmission"
)

// heartbeatMaxAge порог, после которого пайплайн сигналов считается мёртвым.
const heartbeatMaxAge = 15 * time.Minute

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	factory, err := store.NewFactory(cfg, applog.ForComponent(logger, "store"))
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к хранилищу")
	}
	defer factory.Close()

	dataStore := factory.Namespace(store.NamespaceSentiment)
	queueStore := factory.Namespace(store.NamespaceQueue)
	controlStore := factory.Namespace(store.NamespaceQueueControl)
	translogStore := factory.Namespace(store.NamespaceTransmission)
	historyStore := factory.Namespace(store.NamespaceHistory)

	chat := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	narr := narrator.NewOpenAI(chat, cfg.OpenAI.Model, cfg.OpenAI.Timeout, narrator.PersonaByName(cfg.Persona))
	social := choosePoster(cfg, logger)
	perma := permastore.NewClient(permastore.Config{
		NodeURL:   cfg.Archive.NodeURL,
		Currency:  cfg.Archive.Currency,
		WalletKey: cfg.Archive.WalletKey,
		Timeout:   cfg.Archive.Timeout,
	})

	transmissionSvc := transmissionusecase.NewService(queueStore, controlStore, translogStore, social, applog.ForComponent(logger, "transmission"))
	sentimentSvc := sentimentusecase.NewService(dataStore, queueStore, narr, transmissionSvc, applog.ForComponent(logger, "sentiment"))
	prophecySvc := prophecyusecase.NewService(dataStore, historyStore, narr, social, applog.ForComponent(logger, "prophecy"))
	archiveSvc := archiveusecase.NewService(dataStore, queueStore, prophecySvc, perma, applog.ForComponent(logger, "archive"))

	r := chi.NewRouter()

	r.Get("/api/v1/sentiment", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, sentimentSvc.Snapshot(r.Context()))
	})

	r.Post("/api/v1/sentiment/inject", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req map[domain.Category]int
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		data, err := sentimentSvc.Inject(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, data)
	})

	r.Get("/api/v1/prophecy", func(w http.ResponseWriter, r *http.Request) {
		// Наружу уходит усечённый вид: служебные поля пророчества
		// (проценты, идентификатор поста) фронту не нужны.
		data := sentimentSvc.Snapshot(r.Context())
		p := prophecySvc.Current(r.Context())
		writeJSON(w, map[string]any{
			"text":            p.Text,
			"date":            p.Date,
			"ready":           p.Ready,
			"x_post_status":   p.XPostStatus,
			"revealedAt":      p.RevealedAt,
			"system_status":   data.SystemStatus,
			"last_error":      data.LastError,
			"last_error_time": data.LastErrorTime,
		})
	})

	r.Post("/api/v1/prophecy", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
			writeError(w, http.StatusBadRequest, "missing 'text' field")
			return
		}
		p, err := prophecySvc.SetText(r.Context(), req.Text)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"success": true, "prophecy": p})
	})

	r.Post("/api/v1/prophecy/generate", func(w http.ResponseWriter, r *http.Request) {
		force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
		result, err := prophecySvc.Generate(r.Context(), force)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"success": true, "dominant": result.Dominant, "prophecy": result.Prophecy})
	})

	r.Post("/api/v1/prophecy/reveal", func(w http.ResponseWriter, r *http.Request) {
		p, err := prophecySvc.Reveal(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"success": true, "revealed": p.Ready, "prophecy": p.Text})
	})

	r.Post("/api/v1/reset", func(w http.ResponseWriter, r *http.Request) {
		if err := prophecySvc.Reset(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"success": true, "message": "daily reset complete"})
	})

	r.Get("/api/v1/queue", func(w http.ResponseWriter, r *http.Request) {
		items, err := transmissionSvc.ListActive(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{
			"queue":  items,
			"paused": transmissionSvc.Status(r.Context()).Paused,
		})
	})

	r.Post("/api/v1/queue", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req struct {
			Memo  string `json:"memo"`
			AILog string `json:"aiLog"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Memo == "" {
			writeError(w, http.StatusBadRequest, "missing 'memo' field")
			return
		}
		added, err := transmissionSvc.Enqueue(r.Context(), req.Memo, req.AILog)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"added": added})
	})

	r.Post("/api/v1/queue/remove", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
			writeError(w, http.StatusBadRequest, "missing 'ids' field")
			return
		}
		removed, err := transmissionSvc.RemoveByIDs(r.Context(), req.IDs)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"removed": removed})
	})

	r.Get("/api/v1/queue/toggle", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, transmissionSvc.Status(r.Context()))
	})

	r.Post("/api/v1/queue/toggle", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req struct {
			Paused *bool `json:"paused"`
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		paused := !transmissionSvc.Status(r.Context()).Paused
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if req.Paused != nil {
				paused = *req.Paused
			}
		}
		if paused {
			err = transmissionSvc.Pause(r.Context())
		} else {
			err = transmissionSvc.Resume(r.Context())
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, transmissionSvc.Status(r.Context()))
	})

	r.Post("/api/v1/queue/flush", func(w http.ResponseWriter, r *http.Request) {
		postID, err := transmissionSvc.Flush(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"success": true, "postId": postID})
	})

	r.Post("/api/v1/queue/clear", func(w http.ResponseWriter, r *http.Request) {
		if err := transmissionSvc.Clear(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]any{"success": true})
	})

	r.Get("/api/v1/transmissions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"logs": transmissionSvc.TransmissionLog(r.Context())})
	})

	r.Delete("/api/v1/transmissions", func(w http.ResponseWriter, r *http.Request) {
		if err := transmissionSvc.ClearLog(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/api/v1/archive", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, archiveSvc.Status(r.Context()))
	})

	r.Post("/api/v1/archive/run", func(w http.ResponseWriter, r *http.Request) {
		result, err := archiveSvc.Run(r.Context(), true)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, result)
	})

	r.Post("/api/v1/archive/retry/{date}", func(w http.ResponseWriter, r *http.Request) {
		result, err := archiveSvc.RetryPending(r.Context(), chi.URLParam(r, "date"))
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, result)
	})

	r.Get("/api/v1/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		last := sentimentSvc.LastHeartbeat(r.Context())
		online := !last.IsZero() && time.Since(last) < heartbeatMaxAge
		writeJSON(w, map[string]any{"online": online, "lastHeartbeat": last})
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: r}
	metrics.StartServer(ctx, applog.ForComponent(logger, "metrics"), cfg.MetricsAddr)
	go func() {
		logger.Info().Int("port", cfg.Port).Msg("api: старт")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// choosePoster выбирает соцсеть: X при полном наборе ключей, иначе
// Telegram-канал. Без настроек остаётся X, который вернёт ошибку
// зависимости при первой публикации.
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

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
