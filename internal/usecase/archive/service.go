package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"seed-oracle/internal/domain"
	"seed-oracle/internal/infra/metrics"
)

// Ключи документов.
const (
	keyData         = "data"
	keyArchiveState = "archive-state"
	keyQueue        = "queue"
	keyHistory      = "posted-history"
)

// Result итог попытки архивации. ChaosMode означает, что запись
// отложена и ждёт пополнения кошелька.
type Result struct {
	Success   bool   `json:"success"`
	ChaosMode bool   `json:"chaosMode"`
	TxID      string `json:"txId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// PendingSummary краткая сводка отложенного архива для статуса.
type PendingSummary struct {
	Date        string    `json:"date"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"lastAttempt"`
	Reason      string    `json:"reason,omitempty"`
	SizeBytes   int       `json:"sizeBytes"`
}

// Status состояние устойчивости архивации.
type Status struct {
	ChaosMode bool                    `json:"chaosMode"`
	Pending   []PendingSummary        `json:"pending"`
	History   []domain.ArchivedRecord `json:"history"`
}

// Service собирает дневной снимок и загружает его в постоянный архив.
// Нехватка средств не теряет данные: снимок уходит в отложенные и ждёт
// ручного повтора после пополнения.
type Service struct {
	data   domain.Store
	queue  domain.Store
	oracle domain.ProphecyGenerator
	perma  domain.PermanentStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewService создаёт сервис архивации.
func NewService(data, queue domain.Store, oracle domain.ProphecyGenerator, perma domain.PermanentStore, logger zerolog.Logger) *Service {
	return &Service{
		data:   data,
		queue:  queue,
		oracle: oracle,
		perma:  perma,
		logger: logger,
		now:    time.Now,
	}
}

// Run выполняет архивацию текущего дня. Сбои загрузки не возвращаются
// ошибкой: плановый запуск не должен падать, итог виден в Result.
func (s *Service) Run(ctx context.Context, manual bool) (Result, error) {
	record := s.buildRecord(ctx)

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("сериализация снимка дня: %w", err)
	}
	s.logger.Info().Str("date", record.Date).Int("size", len(payload)).Msg("archive: снимок дня собран")

	txID, reason, err := s.upload(ctx, payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("reason", reason).Msg("archive: загрузка не удалась, откладываем")
		if pendErr := s.addToPending(ctx, record, reason); pendErr != nil {
			return Result{}, pendErr
		}
		metrics.ArchiveAttempts.WithLabelValues("pending").Inc()
		return Result{ChaosMode: true, Reason: reason}, nil
	}

	if err := s.recordSuccess(ctx, record, txID, manual); err != nil {
		return Result{}, err
	}
	metrics.ArchiveAttempts.WithLabelValues("success").Inc()
	s.logger.Info().Str("tx_id", txID).Msg("archive: снимок загружен в постоянное хранилище")
	return Result{Success: true, TxID: txID}, nil
}

// buildRecord собирает снимок дня. Устаревшее пророчество сначала
// дорабатывается принудительной генерацией; неудача лечения помечается
// в снимке, но не блокирует архивацию.
func (s *Service) buildRecord(ctx context.Context) domain.DailyRecord {
	data := domain.NewSentimentData()
	s.data.Get(ctx, keyData, &data)
	data.EnsureDefaults()

	var history []string
	s.queue.Get(ctx, keyHistory, &history)
	var queue []domain.QueueItem
	s.queue.Get(ctx, keyQueue, &queue)

	today := s.now().UTC().Format(domain.DateLayout)
	healNote := ""
	if data.Prophecy.Date != today {
		s.logger.Warn().Str("last", data.Prophecy.Date).Str("today", today).Msg("archive: пророчество устарело, будим оракула")
		result, err := s.oracle.Generate(ctx, true)
		if err != nil {
			healNote = "prophecy regeneration failed: " + err.Error()
			s.logger.Error().Err(err).Msg("archive: лечение пророчества не удалось, архивируем как есть")
		} else {
			data.Prophecy = result.Prophecy
		}
	}

	prophecy := data.Prophecy
	return domain.DailyRecord{
		Date:             today,
		Timestamp:        s.now().UTC(),
		Prophecy:         &prophecy,
		Sentiments:       data.Sentiments,
		TotalMemos:       data.TotalMemos,
		Transactions:     history,
		PendingQueueSize: len(queue),
		HealNote:         healNote,
	}
}

// upload проводит платёжную цепочку: цена → баланс → пополнение на
// недостачу → загрузка. Возвращает идентификатор или причину отказа.
func (s *Service) upload(ctx context.Context, payload []byte) (string, string, error) {
	price, err := s.perma.Price(ctx, len(payload))
	if err != nil {
		return "", "price check failed", err
	}
	balance, err := s.perma.Balance(ctx)
	if err != nil {
		return "", "balance check failed", err
	}
	if balance < price {
		if err := s.perma.Fund(ctx, price-balance); err != nil {
			return "", "funding failed", err
		}
	}
	txID, err := s.perma.Upload(ctx, payload, "application/json")
	if err != nil {
		reason := "upload failed"
		if errors.Is(err, domain.ErrInsufficientFunds) {
			reason = "insufficient funds"
		}
		return "", reason, err
	}
	return txID, "", nil
}

// recordSuccess фиксирует удачную загрузку: запись в историю архива и
// очистка истории публикаций, чтобы те же передачи не архивировались
// повторно.
func (s *Service) recordSuccess(ctx context.Context, record domain.DailyRecord, txID string, manual bool) error {
	state := s.loadState(ctx)

	state.History = append([]domain.ArchivedRecord{{
		Date:      record.Date,
		TxID:      txID,
		Timestamp: s.now().UTC(),
		Manual:    manual,
		Data:      record,
	}}, state.History...)
	if len(state.History) > domain.ArchiveHistoryLimit {
		state.History = state.History[:domain.ArchiveHistoryLimit]
	}

	if err := s.saveState(ctx, state); err != nil {
		return err
	}
	if err := s.queue.Set(ctx, keyHistory, []string{}); err != nil {
		return fmt.Errorf("очистка истории публикаций: %w", err)
	}
	return nil
}

// addToPending откладывает снимок: по одной записи на дату, повтор той же
// даты обновляет данные и наращивает счётчик попыток.
func (s *Service) addToPending(ctx context.Context, record domain.DailyRecord, reason string) error {
	state := s.loadState(ctx)

	found := false
	for i := range state.Pending {
		if state.Pending[i].Date == record.Date {
			state.Pending[i].Data = record
			state.Pending[i].Attempts++
			state.Pending[i].LastAttempt = s.now().UTC()
			state.Pending[i].Reason = reason
			found = true
			break
		}
	}
	if !found {
		state.Pending = append(state.Pending, domain.PendingRecord{
			Date:        record.Date,
			Data:        record,
			Attempts:    1,
			LastAttempt: s.now().UTC(),
			Reason:      reason,
		})
	}
	return s.saveState(ctx, state)
}

// RetryPending повторяет загрузку отложенного снимка из сохранённой
// копии. Успех убирает запись из отложенных и кладёт её в историю как
// ручную.
func (s *Service) RetryPending(ctx context.Context, date string) (Result, error) {
	state := s.loadState(ctx)

	idx := -1
	for i := range state.Pending {
		if state.Pending[i].Date == date {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Result{}, fmt.Errorf("нет отложенного архива за %s", date)
	}
	record := state.Pending[idx].Data

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("сериализация отложенного снимка: %w", err)
	}

	txID, reason, err := s.upload(ctx, payload)
	if err != nil {
		state.Pending[idx].Attempts++
		state.Pending[idx].LastAttempt = s.now().UTC()
		state.Pending[idx].Reason = reason
		if saveErr := s.saveState(ctx, state); saveErr != nil {
			return Result{}, saveErr
		}
		metrics.ArchiveAttempts.WithLabelValues("pending").Inc()
		return Result{ChaosMode: true, Reason: reason}, nil
	}

	state.Pending = append(state.Pending[:idx], state.Pending[idx+1:]...)
	state.History = append([]domain.ArchivedRecord{{
		Date:      record.Date,
		TxID:      txID,
		Timestamp: s.now().UTC(),
		Manual:    true,
		Data:      record,
	}}, state.History...)
	if len(state.History) > domain.ArchiveHistoryLimit {
		state.History = state.History[:domain.ArchiveHistoryLimit]
	}
	if err := s.saveState(ctx, state); err != nil {
		return Result{}, err
	}
	metrics.ArchiveAttempts.WithLabelValues("success").Inc()
	s.logger.Info().Str("date", date).Str("tx_id", txID).Msg("archive: отложенный снимок загружен")
	return Result{Success: true, TxID: txID}, nil
}

// Status возвращает состояние архивации.
func (s *Service) Status(ctx context.Context) Status {
	state := s.loadState(ctx)

	pending := make([]PendingSummary, 0, len(state.Pending))
	for _, p := range state.Pending {
		size := 0
		if raw, err := json.Marshal(p.Data); err == nil {
			size = len(raw)
		}
		pending = append(pending, PendingSummary{
			Date:        p.Date,
			Attempts:    p.Attempts,
			LastAttempt: p.LastAttempt,
			Reason:      p.Reason,
			SizeBytes:   size,
		})
	}
	return Status{
		ChaosMode: len(state.Pending) > 0,
		Pending:   pending,
		History:   state.History,
	}
}

func (s *Service) loadState(ctx context.Context) domain.ArchiveState {
	state := domain.ArchiveState{Pending: []domain.PendingRecord{}, History: []domain.ArchivedRecord{}}
	s.data.Get(ctx, keyArchiveState, &state)
	return state
}

func (s *Service) saveState(ctx context.Context, state domain.ArchiveState) error {
	if err := s.data.Set(ctx, keyArchiveState, state); err != nil {
		return fmt.Errorf("сохранение состояния архива: %w", err)
	}
	metrics.ChaosPending.Set(float64(len(state.Pending)))
	return nil
}
