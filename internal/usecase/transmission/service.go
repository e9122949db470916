package transmission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"seed-oracle/internal/domain"
	"seed-oracle/internal/infra/metrics"
)

// Ключи документов.
const (
	keyQueue   = "queue"
	keyHistory = "posted-history"
	keyControl = "status"
	keyLogs    = "logs"
)

// Service ведёт очередь передач: накопление комментариев, дедупликацию,
// паузу и выгрузку сводного поста.
type Service struct {
	queue   domain.Store
	control domain.Store
	logs    domain.Store
	poster  domain.Poster
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() string
}

// NewService создаёт сервис очереди передач.
func NewService(queue, control, logs domain.Store, poster domain.Poster, logger zerolog.Logger) *Service {
	return &Service{
		queue:   queue,
		control: control,
		logs:    logs,
		poster:  poster,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Enqueue ставит комментарий в очередь. Мемо, которое уже публиковалось
// или уже ждёт в очереди, повторно не ставится. Возвращает признак
// фактической постановки.
func (s *Service) Enqueue(ctx context.Context, memo, aiLog string) (bool, error) {
	if memo == "" {
		return false, nil
	}

	var history []string
	s.queue.Get(ctx, keyHistory, &history)
	for _, posted := range history {
		if posted == memo {
			return false, nil
		}
	}

	var queue []domain.QueueItem
	s.queue.Get(ctx, keyQueue, &queue)
	for _, item := range queue {
		if item.Memo == memo {
			return false, nil
		}
	}

	queue = append(queue, domain.QueueItem{
		ID:        s.newID(),
		Memo:      memo,
		AILog:     aiLog,
		CreatedAt: s.now().UTC(),
	})
	if err := s.queue.Set(ctx, keyQueue, queue); err != nil {
		return false, fmt.Errorf("сохранение очереди: %w", err)
	}
	return true, nil
}

// ListActive возвращает живые записи очереди. Записи старше суток
// отбрасываются и вычищаются из хранилища.
func (s *Service) ListActive(ctx context.Context) ([]domain.QueueItem, error) {
	var queue []domain.QueueItem
	s.queue.Get(ctx, keyQueue, &queue)

	cutoff := s.now().UTC().Add(-domain.QueueRetention)
	active := make([]domain.QueueItem, 0, len(queue))
	for _, item := range queue {
		if item.CreatedAt.After(cutoff) {
			active = append(active, item)
		}
	}
	if len(active) != len(queue) {
		if err := s.queue.Set(ctx, keyQueue, active); err != nil {
			return nil, fmt.Errorf("очистка устаревшей очереди: %w", err)
		}
		s.logger.Info().Int("dropped", len(queue)-len(active)).Msg("transmission: устаревшие записи удалены")
	}
	return active, nil
}

// RemoveByIDs убирает записи из очереди по идентификаторам. Мемо
// убранных записей попадает в историю публикаций, чтобы не вернуться.
func (s *Service) RemoveByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	var queue []domain.QueueItem
	s.queue.Get(ctx, keyQueue, &queue)

	kept := make([]domain.QueueItem, 0, len(queue))
	var removed []string
	for _, item := range queue {
		if drop[item.ID] {
			removed = append(removed, item.Memo)
			continue
		}
		kept = append(kept, item)
	}
	if len(removed) == 0 {
		return 0, nil
	}

	if err := s.rememberPosted(ctx, removed); err != nil {
		return 0, err
	}
	if err := s.queue.Set(ctx, keyQueue, kept); err != nil {
		return 0, fmt.Errorf("сохранение очереди: %w", err)
	}
	return len(removed), nil
}

// Clear полностью очищает очередь без следа в истории.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.queue.Set(ctx, keyQueue, []domain.QueueItem{}); err != nil {
		return fmt.Errorf("очистка очереди: %w", err)
	}
	return nil
}

// Pause останавливает плановую выгрузку.
func (s *Service) Pause(ctx context.Context) error {
	return s.setPaused(ctx, true)
}

// Resume возобновляет плановую выгрузку.
func (s *Service) Resume(ctx context.Context) error {
	return s.setPaused(ctx, false)
}

func (s *Service) setPaused(ctx context.Context, paused bool) error {
	now := s.now().UTC()
	control := domain.QueueControl{Paused: paused, UpdatedAt: &now}
	if err := s.control.Set(ctx, keyControl, control); err != nil {
		return fmt.Errorf("сохранение управляющего документа: %w", err)
	}
	s.logger.Info().Bool("paused", paused).Msg("transmission: статус очереди изменён")
	return nil
}

// Status возвращает управляющий документ очереди.
func (s *Service) Status(ctx context.Context) domain.QueueControl {
	var control domain.QueueControl
	s.control.Get(ctx, keyControl, &control)
	return control
}

// Flush выгружает очередь одним сводным постом. Пауза и пустая очередь
// дают тихий пропуск. Публикация — точка невозврата: до успеха ни одна
// запись не меняется, после успеха очередь очищается, мемо уходят в
// историю, журнал передач получает новую запись.
func (s *Service) Flush(ctx context.Context) (string, error) {
	if s.Status(ctx).Paused {
		s.logger.Info().Msg("transmission: очередь на паузе, выгрузка пропущена")
		metrics.QueueFlushes.WithLabelValues("paused").Inc()
		return "", nil
	}

	queue, err := s.ListActive(ctx)
	if err != nil {
		return "", err
	}
	if len(queue) == 0 {
		s.logger.Info().Msg("transmission: очередь пуста, выгружать нечего")
		metrics.QueueFlushes.WithLabelValues("empty").Inc()
		return "", nil
	}

	text := FormatDigest(queue)
	postID, err := s.poster.Post(ctx, text)
	if err != nil {
		metrics.QueueFlushes.WithLabelValues("error").Inc()
		return "", fmt.Errorf("публикация сводного поста: %w", err)
	}

	memos := make([]string, 0, len(queue))
	for _, item := range queue {
		memos = append(memos, item.Memo)
	}
	if err := s.rememberPosted(ctx, memos); err != nil {
		return "", err
	}
	if err := s.queue.Set(ctx, keyQueue, []domain.QueueItem{}); err != nil {
		return "", fmt.Errorf("очистка очереди: %w", err)
	}

	entry := domain.TransmissionEntry{
		ID:   postID,
		Text: text,
		Date: s.now().UTC(),
		Type: domain.TransmissionAutoDigest,
		Link: "https://x.com/i/status/" + postID,
	}
	var logs []domain.TransmissionEntry
	s.logs.Get(ctx, keyLogs, &logs)
	logs = append([]domain.TransmissionEntry{entry}, logs...)
	if len(logs) > domain.TransmissionLogLimit {
		logs = logs[:domain.TransmissionLogLimit]
	}
	if err := s.logs.Set(ctx, keyLogs, logs); err != nil {
		return "", fmt.Errorf("сохранение журнала передач: %w", err)
	}

	metrics.QueueFlushes.WithLabelValues("posted").Inc()
	s.logger.Info().Str("post_id", postID).Int("items", len(queue)).Msg("transmission: сводный пост опубликован")
	return postID, nil
}

// rememberPosted добавляет мемо в историю публикаций без дублей,
// удерживая её в пределах лимита (новые вытесняют старые).
func (s *Service) rememberPosted(ctx context.Context, memos []string) error {
	var history []string
	s.queue.Get(ctx, keyHistory, &history)

	seen := make(map[string]bool, len(history))
	for _, posted := range history {
		seen[posted] = true
	}
	for _, memo := range memos {
		if memo == "" || seen[memo] {
			continue
		}
		history = append(history, memo)
		seen[memo] = true
	}
	if len(history) > domain.PostedHistoryLimit {
		history = history[len(history)-domain.PostedHistoryLimit:]
	}
	if err := s.queue.Set(ctx, keyHistory, history); err != nil {
		return fmt.Errorf("сохранение истории публикаций: %w", err)
	}
	return nil
}

// TransmissionLog возвращает журнал опубликованных передач.
func (s *Service) TransmissionLog(ctx context.Context) []domain.TransmissionEntry {
	var logs []domain.TransmissionEntry
	s.logs.Get(ctx, keyLogs, &logs)
	return logs
}

// ClearLog очищает журнал передач.
func (s *Service) ClearLog(ctx context.Context) error {
	if err := s.logs.Set(ctx, keyLogs, []domain.TransmissionEntry{}); err != nil {
		return fmt.Errorf("очистка журнала передач: %w", err)
	}
	return nil
}
