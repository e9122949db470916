package prophecy

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"seed-oracle/internal/domain"
)

type memStore struct {
	docs map[string]json.RawMessage
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]json.RawMessage{}}
}

func (m *memStore) Get(_ context.Context, key string, dst any) bool {
	raw, ok := m.docs[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (m *memStore) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.docs[key] = raw
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	delete(m.docs, key)
	return nil
}

type stubWriter struct {
	text  string
	err   error
	calls int
	mixes []map[domain.Category]int
}

func (w *stubWriter) ComposeProphecy(_ context.Context, _ string, percentages map[domain.Category]int, _ int) (string, error) {
	w.calls++
	w.mixes = append(w.mixes, percentages)
	if w.err != nil {
		return "", w.err
	}
	return w.text, nil
}

type stubPoster struct {
	id    string
	err   error
	posts []string
}

func (p *stubPoster) Post(_ context.Context, text string) (string, error) {
	p.posts = append(p.posts, text)
	if p.err != nil {
		return "", p.err
	}
	return p.id, nil
}

func newService(data, history *memStore, writer domain.ProphecyWriter, poster domain.Poster) *Service {
	s := NewService(data, history, writer, poster, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	s.pick = func(n int) int { return 0 }
	return s
}

func seedData(t *testing.T, store *memStore, data domain.SentimentData) {
	t.Helper()
	if err := store.Set(context.Background(), keyData, data); err != nil {
		t.Fatalf("не удалось подготовить данные: %v", err)
	}
}

func TestGenerateEmptyDayFallsToMystery(t *testing.T) {
	data := newMemStore()
	writer := &stubWriter{text: "the veil thins"}
	s := newService(data, newMemStore(), writer, &stubPoster{})

	got, err := s.Generate(context.Background(), false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Dominant != domain.CategoryMystery {
		t.Fatalf("пустой день должен давать mystery, получили %s", got.Dominant)
	}
	for _, c := range domain.Categories() {
		if got.Prophecy.Percentages[c] != 25 {
			t.Fatalf("ожидали равновесие 25%%, получили %v", got.Prophecy.Percentages)
		}
	}
	if got.Prophecy.Ready {
		t.Fatalf("свежее пророчество должно быть размытым")
	}
	if got.Prophecy.Date != "2025-06-01" {
		t.Fatalf("неверная дата: %s", got.Prophecy.Date)
	}
}

func TestGenerateDominantAndPercentages(t *testing.T) {
	data := newMemStore()
	base := domain.NewSentimentData()
	base.Sentiments = map[domain.Category]int{
		domain.CategoryHope:    6,
		domain.CategoryGreed:   2,
		domain.CategoryFear:    1,
		domain.CategoryMystery: 1,
	}
	base.TotalMemos = 10
	seedData(t, data, base)

	writer := &stubWriter{text: "roots drink the light"}
	s := newService(data, newMemStore(), writer, &stubPoster{})

	got, err := s.Generate(context.Background(), false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Dominant != domain.CategoryHope {
		t.Fatalf("ожидали доминанту hope, получили %s", got.Dominant)
	}
	want := map[domain.Category]int{
		domain.CategoryHope:    60,
		domain.CategoryGreed:   20,
		domain.CategoryFear:    10,
		domain.CategoryMystery: 10,
	}
	for c, p := range want {
		if got.Prophecy.Percentages[c] != p {
			t.Fatalf("категория %s: ожидали %d%%, получили %d%%", c, p, got.Prophecy.Percentages[c])
		}
	}
}

func TestGenerateKeepsExistingWithoutForce(t *testing.T) {
	data := newMemStore()
	base := domain.NewSentimentData()
	base.Prophecy = domain.Prophecy{Text: "existing", Date: "2025-06-01"}
	seedData(t, data, base)

	writer := &stubWriter{text: "fresh"}
	s := newService(data, newMemStore(), writer, &stubPoster{})

	got, err := s.Generate(context.Background(), false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Prophecy.Text != "existing" {
		t.Fatalf("плановая генерация перетёрла пророчество дня: %q", got.Prophecy.Text)
	}
	if writer.calls != 0 {
		t.Fatalf("генератор не должен вызываться, вызовов: %d", writer.calls)
	}

	got, err = s.Generate(context.Background(), true)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Prophecy.Text != "fresh" {
		t.Fatalf("принудительная генерация обязана перетереть текст: %q", got.Prophecy.Text)
	}
}

func TestGenerateWriterFailureUsesTemplate(t *testing.T) {
	data := newMemStore()
	writer := &stubWriter{err: errors.New("llm down")}
	s := newService(data, newMemStore(), writer, &stubPoster{})

	got, err := s.Generate(context.Background(), false)
	if err != nil {
		t.Fatalf("отказ генератора не должен быть фатальным: %v", err)
	}
	if !strings.HasSuffix(got.Prophecy.Text, fallbackMarker) {
		t.Fatalf("резервный текст должен нести маркер, получили %q", got.Prophecy.Text)
	}

	stored := domain.SentimentData{}
	data.Get(context.Background(), keyData, &stored)
	if stored.SystemStatus != "error" || stored.LastError == "" {
		t.Fatalf("отказ генератора должен фиксироваться в статусе: %+v", stored.SystemStatus)
	}
}

func TestRevealPostsAndResetsMystery(t *testing.T) {
	data := newMemStore()
	base := domain.NewSentimentData()
	base.Sentiments[domain.CategoryHope] = 4
	base.Sentiments[domain.CategoryMystery] = 3
	base.Prophecy = domain.Prophecy{
		Text:        "the gates open",
		Date:        "2025-06-01",
		Dominant:    domain.CategoryHope,
		XPostStatus: domain.PostStatusPending,
	}
	seedData(t, data, base)

	poster := &stubPoster{id: "777"}
	s := newService(data, newMemStore(), &stubWriter{text: "unused"}, poster)

	got, err := s.Reveal(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !got.Ready || got.PostID != "777" || got.XPostStatus != domain.PostStatusPosted {
		t.Fatalf("неверное состояние после раскрытия: %+v", got)
	}
	if len(poster.posts) != 1 || !strings.Contains(poster.posts[0], "the gates open") {
		t.Fatalf("неверный текст публикации: %v", poster.posts)
	}
	if !strings.Contains(poster.posts[0], "HOPE") {
		t.Fatalf("в публикации нет доминанты: %q", poster.posts[0])
	}

	stored := domain.SentimentData{}
	data.Get(context.Background(), keyData, &stored)
	if stored.Sentiments[domain.CategoryMystery] != 0 {
		t.Fatalf("mystery должен обнуляться при раскрытии: %d", stored.Sentiments[domain.CategoryMystery])
	}
	if stored.Sentiments[domain.CategoryHope] != 4 {
		t.Fatalf("остальные счётчики не должны меняться: %d", stored.Sentiments[domain.CategoryHope])
	}

	// Повторное раскрытие — no-op без новой публикации.
	if _, err := s.Reveal(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку повтора: %v", err)
	}
	if len(poster.posts) != 1 {
		t.Fatalf("повторное раскрытие не должно публиковать, постов: %d", len(poster.posts))
	}
}

func TestRevealSelfHealsStaleProphecy(t *testing.T) {
	data := newMemStore()
	base := domain.NewSentimentData()
	base.Prophecy = domain.Prophecy{Text: "stale", Date: "2025-05-31"}
	seedData(t, data, base)

	writer := &stubWriter{text: "healed"}
	poster := &stubPoster{id: "1"}
	s := newService(data, newMemStore(), writer, poster)

	got, err := s.Reveal(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if writer.calls != 1 {
		t.Fatalf("ожидали принудительную генерацию, вызовов: %d", writer.calls)
	}
	if got.Text != "healed" || !got.Ready {
		t.Fatalf("неверный итог самолечения: %+v", got)
	}
}

func TestRevealPostFailureKeepsRevealed(t *testing.T) {
	data := newMemStore()
	base := domain.NewSentimentData()
	base.Prophecy = domain.Prophecy{Text: "doomed post", Date: "2025-06-01"}
	seedData(t, data, base)

	poster := &stubPoster{err: errors.New("api down")}
	s := newService(data, newMemStore(), &stubWriter{}, poster)

	got, err := s.Reveal(context.Background())
	if err != nil {
		t.Fatalf("неудача публикации не должна быть ошибкой раскрытия: %v", err)
	}
	if !got.Ready {
		t.Fatalf("пророчество обязано остаться раскрытым")
	}
	if got.XPostStatus != domain.PostStatusFailed {
		t.Fatalf("ожидали статус failed, получили %s", got.XPostStatus)
	}
}

func TestResetArchivesAndZeroes(t *testing.T) {
	data := newMemStore()
	history := newMemStore()
	base := domain.NewSentimentData()
	base.Sentiments[domain.CategoryGreed] = 9
	base.TotalMemos = 9
	base.Prophecy = domain.Prophecy{Text: "old", Date: "2025-05-31", Ready: true}
	base.SystemStatus = "error"
	base.LastError = "llm down"
	seedData(t, data, base)

	s := newService(data, history, &stubWriter{}, &stubPoster{})
	if err := s.Reset(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	stored := domain.SentimentData{}
	data.Get(context.Background(), keyData, &stored)
	if stored.TotalMemos != 0 || stored.Sentiments[domain.CategoryGreed] != 0 {
		t.Fatalf("счётчики не обнулены: %+v", stored.Sentiments)
	}
	if stored.Prophecy.Text != "" || stored.Prophecy.Ready {
		t.Fatalf("пророчество не размыто: %+v", stored.Prophecy)
	}
	if stored.SystemStatus != "" || stored.LastError != "" {
		t.Fatalf("статус ошибки должен очищаться при сбросе")
	}
	if stored.LastReset == nil {
		t.Fatalf("не проставлена отметка сброса")
	}

	archived := map[string]domain.DayRecord{}
	history.Get(context.Background(), keyHistory, &archived)
	day, ok := archived["2025-05-31"]
	if !ok {
		t.Fatalf("сводка дня не попала в историю: %v", archived)
	}
	if day.TotalMemos != 9 || day.Prophecy.Text != "old" {
		t.Fatalf("неверная сводка дня: %+v", day)
	}
}

func TestCurrentHidesStaleText(t *testing.T) {
	data := newMemStore()
	base := domain.NewSentimentData()
	base.Prophecy = domain.Prophecy{Text: "yesterday secret", Date: "2025-05-31", Ready: true}
	seedData(t, data, base)

	s := newService(data, newMemStore(), &stubWriter{}, &stubPoster{})
	got := s.Current(context.Background())
	if got.Text != "" {
		t.Fatalf("вчерашний текст не должен отдаваться наружу: %q", got.Text)
	}
	if got.Date != "2025-06-01" {
		t.Fatalf("ожидали текущую дату, получили %s", got.Date)
	}
}
