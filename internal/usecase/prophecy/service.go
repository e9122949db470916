package prophecy

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"seed-oracle/internal/domain"
	"seed-oracle/internal/infra/metrics"
)

// Ключи документов.
const (
	keyData    = "data"
	keyHistory = "history"
)

// revealTemplate формат публикации раскрытого пророчества.
const revealTemplate = "🔮 BADSEED DAILY PROPHECY 🔮\n\n%s\n\n📊 Dominant energy: %s\n\n#BADSEED #Solana #Crypto"

// Service управляет жизненным циклом дневного пророчества:
// генерация (размытое) → раскрытие с публикацией → ночной сброс.
type Service struct {
	data    domain.Store
	history domain.Store
	writer  domain.ProphecyWriter
	poster  domain.Poster
	logger  zerolog.Logger
	now     func() time.Time
	pick    func(n int) int
}

var _ domain.ProphecyGenerator = (*Service)(nil)

// NewService создаёт сервис пророчеств.
func NewService(data, history domain.Store, writer domain.ProphecyWriter, poster domain.Poster, logger zerolog.Logger) *Service {
	return &Service{
		data:    data,
		history: history,
		writer:  writer,
		poster:  poster,
		logger:  logger,
		now:     time.Now,
		pick:    rand.Intn,
	}
}

// Generate строит пророчество текущего дня в размытом состоянии.
// Без force существующее пророчество дня не перетирается: плановый
// запуск идемпотентен, свежую генерацию даёт только явный запрос.
func (s *Service) Generate(ctx context.Context, force bool) (domain.ProphecyResult, error) {
	data := domain.NewSentimentData()
	s.data.Get(ctx, keyData, &data)
	data.EnsureDefaults()

	today := s.now().UTC().Format(domain.DateLayout)
	if !force && data.Prophecy.IsForDate(today) {
		s.logger.Info().Str("date", today).Msg("prophecy: пророчество дня уже есть, пропускаем")
		return domain.ProphecyResult{Dominant: data.Prophecy.Dominant, Prophecy: data.Prophecy}, nil
	}

	mode := "scheduled"
	if force {
		mode = "forced"
	}
	metrics.ProphecyGenerations.WithLabelValues(mode).Inc()

	dominant := dominantCategory(data.Sentiments)
	percentages := percentageMix(data.Sentiments)

	text, err := s.writer.ComposeProphecy(ctx, today, percentages, s.pick(10000))
	if err != nil {
		s.logger.Warn().Err(err).Msg("prophecy: генератор недоступен, берём резервный текст")
		now := s.now().UTC()
		data.SystemStatus = "error"
		data.LastError = err.Error()
		data.LastErrorTime = &now
		text = fallbackText(dominant, s.pick)
	}

	now := s.now().UTC()
	data.Prophecy = domain.Prophecy{
		Text:        text,
		Date:        today,
		Ready:       false,
		Dominant:    dominant,
		Percentages: percentages,
		XPostStatus: domain.PostStatusPending,
		GeneratedAt: &now,
	}

	if err := s.data.Set(ctx, keyData, data); err != nil {
		return domain.ProphecyResult{}, fmt.Errorf("сохранение пророчества: %w", err)
	}
	s.logger.Info().Str("dominant", string(dominant)).Str("mode", mode).Msg("prophecy: пророчество сгенерировано")
	return domain.ProphecyResult{Dominant: dominant, Prophecy: data.Prophecy}, nil
}

// dominantCategory выбирает доминанту строгим сравнением в каноническом
// порядке: при равенстве побеждает более ранняя категория. Пустой день
// даёт mystery.
func dominantCategory(sentiments map[domain.Category]int) domain.Category {
	dominant := domain.CategoryMystery
	best := 0
	for _, c := range domain.Categories() {
		if sentiments[c] > best {
			dominant = c
			best = sentiments[c]
		}
	}
	return dominant
}

// percentageMix раскладывает счётчики в проценты (округление к ближайшему).
// Пустой день считается равновесием 25/25/25/25.
func percentageMix(sentiments map[domain.Category]int) map[domain.Category]int {
	total := 0
	for _, c := range domain.Categories() {
		total += sentiments[c]
	}
	mix := make(map[domain.Category]int, 4)
	if total == 0 {
		for _, c := range domain.Categories() {
			mix[c] = 25
		}
		return mix
	}
	for _, c := range domain.Categories() {
		mix[c] = int(math.Round(float64(sentiments[c]) / float64(total) * 100))
	}
	return mix
}

// Reveal раскрывает пророчество дня и публикует его. Отсутствующее или
// устаревшее пророчество сначала дорабатывается принудительной
// генерацией. Повторное раскрытие — no-op. Неудача публикации не
// откатывает раскрытие: пророчество остаётся раскрытым со статусом failed.
func (s *Service) Reveal(ctx context.Context) (domain.Prophecy, error) {
	data := domain.NewSentimentData()
	s.data.Get(ctx, keyData, &data)
	data.EnsureDefaults()

	today := s.now().UTC().Format(domain.DateLayout)
	if !data.Prophecy.IsForDate(today) {
		s.logger.Warn().Str("date", today).Msg("prophecy: нет пророчества дня, запускаем самолечение")
		result, err := s.Generate(ctx, true)
		if err != nil {
			return domain.Prophecy{}, fmt.Errorf("самолечение перед раскрытием: %w", err)
		}
		data = domain.NewSentimentData()
		s.data.Get(ctx, keyData, &data)
		data.EnsureDefaults()
		data.Prophecy = result.Prophecy
	}

	if data.Prophecy.Ready {
		s.logger.Info().Msg("prophecy: уже раскрыто")
		return data.Prophecy, nil
	}

	now := s.now().UTC()
	data.Prophecy.Ready = true
	if data.Prophecy.RevealedAt == nil {
		data.Prophecy.RevealedAt = &now
	}
	if data.Prophecy.XPostStatus == "" {
		data.Prophecy.XPostStatus = domain.PostStatusPending
	}
	// Правило раскрытия: накопленная неопределённость обнуляется.
	data.Sentiments[domain.CategoryMystery] = 0

	if err := s.data.Set(ctx, keyData, data); err != nil {
		return domain.Prophecy{}, fmt.Errorf("сохранение раскрытия: %w", err)
	}

	dominant := strings.ToUpper(string(data.Prophecy.Dominant))
	if dominant == "" {
		dominant = "MYSTERY"
	}
	postText := fmt.Sprintf(revealTemplate, data.Prophecy.Text, dominant)

	postID, err := s.poster.Post(ctx, postText)
	if err != nil {
		s.logger.Error().Err(err).Msg("prophecy: публикация не удалась, пророчество остаётся раскрытым")
		data.Prophecy.XPostStatus = domain.PostStatusFailed
	} else {
		data.Prophecy.PostID = postID
		data.Prophecy.XPostStatus = domain.PostStatusPosted
	}
	if err := s.data.Set(ctx, keyData, data); err != nil {
		return domain.Prophecy{}, fmt.Errorf("сохранение статуса публикации: %w", err)
	}
	return data.Prophecy, nil
}

// SetText вручную перезаписывает пророчество дня. Текст сразу помечается
// раскрытым и принудительным.
func (s *Service) SetText(ctx context.Context, text string) (domain.Prophecy, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Prophecy{}, fmt.Errorf("пустой текст пророчества")
	}

	data := domain.NewSentimentData()
	s.data.Get(ctx, keyData, &data)
	data.EnsureDefaults()

	now := s.now().UTC()
	data.Prophecy.Text = text
	data.Prophecy.Date = now.Format(domain.DateLayout)
	data.Prophecy.Ready = true
	data.Prophecy.Forced = true
	data.Prophecy.UpdatedAt = &now

	if err := s.data.Set(ctx, keyData, data); err != nil {
		return domain.Prophecy{}, fmt.Errorf("сохранение пророчества: %w", err)
	}
	return data.Prophecy, nil
}

// Current возвращает пророчество в публичном виде: текст отдаётся только
// для сегодняшнего дня, вчерашние тексты наружу не утекают.
func (s *Service) Current(ctx context.Context) domain.Prophecy {
	data := domain.NewSentimentData()
	s.data.Get(ctx, keyData, &data)

	today := s.now().UTC().Format(domain.DateLayout)
	if !data.Prophecy.IsForDate(today) {
		return domain.Prophecy{Date: today}
	}
	return data.Prophecy
}

// Reset ночной сброс: сводка прошедшего дня уходит в документ истории,
// счётчики и пророчество обнуляются. Неудача записи истории не блокирует
// сброс — история вспомогательна.
func (s *Service) Reset(ctx context.Context) error {
	data := domain.NewSentimentData()
	s.data.Get(ctx, keyData, &data)
	data.EnsureDefaults()

	now := s.now().UTC()
	yesterday := now.AddDate(0, 0, -1).Format(domain.DateLayout)

	if data.TotalMemos > 0 || data.Prophecy.Text != "" {
		history := map[string]domain.DayRecord{}
		s.history.Get(ctx, keyHistory, &history)
		history[yesterday] = domain.DayRecord{
			Sentiments: data.Sentiments,
			Prophecy:   data.Prophecy,
			TotalMemos: data.TotalMemos,
		}
		if err := s.history.Set(ctx, keyHistory, history); err != nil {
			s.logger.Warn().Err(err).Msg("prophecy: не удалось записать историю дня")
		}
	}

	fresh := domain.NewSentimentData()
	fresh.LastReset = &now
	if err := s.data.Set(ctx, keyData, fresh); err != nil {
		return fmt.Errorf("сброс агрегата: %w", err)
	}
	s.logger.Info().Str("archived", yesterday).Msg("prophecy: дневной сброс выполнен")
	return nil
}
