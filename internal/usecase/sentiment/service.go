package sentiment

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"seed-oracle/internal/domain"
	"seed-oracle/internal/infra/metrics"
)

// Ключи документов в пространстве настроений.
const (
	keyData      = "data"
	keyHeartbeat = "last-heartbeat"
)

// fallbackLogText текст-заглушка, когда генератор недоступен.
const fallbackLogText = "[SEED_LOG] signal received. interpretation pending."

// Enqueuer кладёт сгенерированный комментарий в очередь передач.
type Enqueuer interface {
	Enqueue(ctx context.Context, memo, aiLog string) (bool, error)
}

// Service ведёт дневной агрегат настроений по входящим сигналам.
type Service struct {
	data     domain.Store
	status   domain.Store
	narrator domain.Narrator
	queue    Enqueuer
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService создаёт сервис. status — пространство очереди, в нём
// живёт отметка пульса опросника.
func NewService(data, status domain.Store, narrator domain.Narrator, queue Enqueuer, logger zerolog.Logger) *Service {
	return &Service{
		data:     data,
		status:   status,
		narrator: narrator,
		queue:    queue,
		logger:   logger,
		now:      time.Now,
	}
}

// ProcessBatch обрабатывает пачку сигналов. Сигнал с уже записанной
// подписью повторно не считается: журнал служит защитой от повторной
// доставки. Ошибка генератора не валит пачку — такой сигнал получает
// текст-заглушку и попадает только в очередь, без следа в журнале,
// чтобы повторная доставка смогла обработать его полноценно.
func (s *Service) ProcessBatch(ctx context.Context, signals []domain.Signal) error {
	if len(signals) == 0 {
		return nil
	}

	data := domain.NewSentimentData()
	s.data.Get(ctx, keyData, &data)
	data.EnsureDefaults()

	today := s.now().UTC().Format(domain.DateLayout)
	changed := false

	for _, signal := range signals {
		if _, ok := data.FindLog(signal.Signature); ok {
			metrics.SignalsProcessed.WithLabelValues("replayed").Inc()
			s.logger.Debug().Str("signature", signal.Signature).Msg("sentiment: повторная доставка, пропускаем")
			continue
		}

		narration, err := s.narrator.Narrate(ctx, signal, domain.NarrationStats{
			TotalMemos: data.TotalMemos,
			Sentiments: data.Sentiments,
		})
		if err != nil {
			metrics.SignalsProcessed.WithLabelValues("fallback").Inc()
			metrics.NarrationFallbacks.Inc()
			s.logger.Warn().Err(err).Str("memo", signal.Memo).Msg("sentiment: генератор недоступен, ставим заглушку")
			s.enqueue(ctx, signal.Memo, fallbackLogText)
			continue
		}

		if signal.Signature != "" {
			data.Log = append(data.Log, domain.LogEntry{
				Signature: signal.Signature,
				Text:      narration.Text,
				Category:  narration.Category,
				CreatedAt: s.now().UTC(),
			})
		}
		data.Sentiments[narration.Category]++
		data.TotalMemos++
		changed = true
		metrics.SignalsProcessed.WithLabelValues("processed").Inc()

		// Первый сигнал дня даёт черновик пророчества. Существующее
		// пророчество текущего дня никогда не перетирается.
		if !data.Prophecy.IsForDate(today) {
			now := s.now().UTC()
			data.Prophecy = domain.Prophecy{
				Text:        narration.Text,
				Date:        today,
				Ready:       false,
				Dominant:    narration.Category,
				XPostStatus: domain.PostStatusPending,
				GeneratedAt: &now,
			}
		}

		s.enqueue(ctx, signal.Memo, narration.Text)
	}

	if !changed {
		return nil
	}

	if len(data.Log) > domain.LogLimit {
		data.Log = data.Log[len(data.Log)-domain.LogLimit:]
	}
	now := s.now().UTC()
	data.LastUpdated = &now

	if err := s.data.Set(ctx, keyData, data); err != nil {
		return fmt.Errorf("сохранение агрегата настроений: %w", err)
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, memo, aiLog string) {
	added, err := s.queue.Enqueue(ctx, memo, aiLog)
	if err != nil {
		s.logger.Error().Err(err).Str("memo", memo).Msg("sentiment: не удалось поставить в очередь")
		return
	}
	if !added {
		s.logger.Debug().Str("memo", memo).Msg("sentiment: мемо уже публиковалось, очередь пропущена")
	}
}

// Snapshot возвращает текущий агрегат.
func (s *Service) Snapshot(ctx context.Context) domain.SentimentData {
	data := domain.NewSentimentData()
	s.data.Get(ctx, keyData, &data)
	data.EnsureDefaults()
	return data
}

// Inject вручную сдвигает счётчики категорий. Значения не уходят ниже нуля.
func (s *Service) Inject(ctx context.Context, deltas map[domain.Category]int) (domain.SentimentData, error) {
	valid := 0
	for category := range deltas {
		if domain.IsValidCategory(category) {
			valid++
		}
	}
	if valid == 0 {
		return domain.SentimentData{}, fmt.Errorf("нет ни одной известной категории")
	}

	data := domain.NewSentimentData()
	s.data.Get(ctx, keyData, &data)
	data.EnsureDefaults()

	for category, delta := range deltas {
		if !domain.IsValidCategory(category) {
			continue
		}
		next := data.Sentiments[category] + delta
		if next < 0 {
			next = 0
		}
		data.TotalMemos += next - data.Sentiments[category]
		data.Sentiments[category] = next
	}
	if data.TotalMemos < 0 {
		data.TotalMemos = 0
	}
	now := s.now().UTC()
	data.LastUpdated = &now

	if err := s.data.Set(ctx, keyData, data); err != nil {
		return domain.SentimentData{}, fmt.Errorf("сохранение агрегата настроений: %w", err)
	}
	return data, nil
}

// Heartbeat фиксирует отметку живости пайплайна сигналов.
func (s *Service) Heartbeat(ctx context.Context) error {
	if err := s.status.Set(ctx, keyHeartbeat, s.now().UTC()); err != nil {
		return fmt.Errorf("сохранение пульса: %w", err)
	}
	return nil
}

// LastHeartbeat возвращает последнюю отметку пульса (нулевое время,
// если опросник ещё ни разу не отчитался).
func (s *Service) LastHeartbeat(ctx context.Context) time.Time {
	var ts time.Time
	s.status.Get(ctx, keyHeartbeat, &ts)
	return ts
}
