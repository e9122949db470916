package transmission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

func newService(queue *memStore, poster domain.Poster) *Service {
	s := NewService(queue, newMemStore(), newMemStore(), poster, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	counter := 0
	s.newID = func() string {
		counter++
		return fmt.Sprintf("id-%d", counter)
	}
	return s
}

func TestEnqueueDedup(t *testing.T) {
	queue := newMemStore()
	s := newService(queue, &stubPoster{})

	added, err := s.Enqueue(context.Background(), "gm", "[ECHO] signal")
	if err != nil || !added {
		t.Fatalf("первая постановка должна пройти: added=%v err=%v", added, err)
	}
	added, err = s.Enqueue(context.Background(), "gm", "[ECHO] other")
	if err != nil || added {
		t.Fatalf("повторное мемо в очереди не должно ставиться: added=%v err=%v", added, err)
	}

	// Уже публиковавшееся мемо тоже отвергается.
	if err := queue.Set(context.Background(), keyHistory, []string{"old memo"}); err != nil {
		t.Fatalf("подготовка истории: %v", err)
	}
	added, err = s.Enqueue(context.Background(), "old memo", "log")
	if err != nil || added {
		t.Fatalf("публиковавшееся мемо не должно ставиться: added=%v err=%v", added, err)
	}

	items, err := s.ListActive(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(items) != 1 || items[0].Memo != "gm" {
		t.Fatalf("неверное содержимое очереди: %+v", items)
	}
}

func TestListActiveDropsStale(t *testing.T) {
	queue := newMemStore()
	s := newService(queue, &stubPoster{})

	fresh := domain.QueueItem{ID: "1", Memo: "fresh", CreatedAt: time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)}
	stale := domain.QueueItem{ID: "2", Memo: "stale", CreatedAt: time.Date(2025, 5, 30, 6, 0, 0, 0, time.UTC)}
	if err := queue.Set(context.Background(), keyQueue, []domain.QueueItem{fresh, stale}); err != nil {
		t.Fatalf("подготовка очереди: %v", err)
	}

	items, err := s.ListActive(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(items) != 1 || items[0].Memo != "fresh" {
		t.Fatalf("устаревшая запись не отброшена: %+v", items)
	}

	var persisted []domain.QueueItem
	queue.Get(context.Background(), keyQueue, &persisted)
	if len(persisted) != 1 {
		t.Fatalf("очистка должна сохраняться, в хранилище %d записей", len(persisted))
	}
}

func TestFlushSkipsWhenPausedOrEmpty(t *testing.T) {
	queue := newMemStore()
	poster := &stubPoster{id: "1"}
	s := newService(queue, poster)

	if _, err := s.Flush(context.Background()); err != nil {
		t.Fatalf("пустая очередь не должна быть ошибкой: %v", err)
	}

	if _, err := s.Enqueue(context.Background(), "gm", "log"); err != nil {
		t.Fatalf("постановка: %v", err)
	}
	if err := s.Pause(context.Background()); err != nil {
		t.Fatalf("пауза: %v", err)
	}
	if _, err := s.Flush(context.Background()); err != nil {
		t.Fatalf("пауза не должна быть ошибкой: %v", err)
	}
	if len(poster.posts) != 0 {
		t.Fatalf("публикаций быть не должно: %v", poster.posts)
	}

	items, _ := s.ListActive(context.Background())
	if len(items) != 1 {
		t.Fatalf("очередь должна остаться нетронутой: %+v", items)
	}
}

func TestFlushPostsAndClears(t *testing.T) {
	queue := newMemStore()
	poster := &stubPoster{id: "42"}
	s := newService(queue, poster)

	for i, memo := range []string{"gm", "moon"} {
		if _, err := s.Enqueue(context.Background(), memo, fmt.Sprintf("log-%d", i)); err != nil {
			t.Fatalf("постановка: %v", err)
		}
	}

	postID, err := s.Flush(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if postID != "42" {
		t.Fatalf("ожидали идентификатор поста 42, получили %s", postID)
	}
	if len(poster.posts) != 1 || !strings.HasPrefix(poster.posts[0], digestHeader) {
		t.Fatalf("неверный текст сводного поста: %v", poster.posts)
	}

	items, _ := s.ListActive(context.Background())
	if len(items) != 0 {
		t.Fatalf("очередь должна опустеть: %+v", items)
	}

	var history []string
	queue.Get(context.Background(), keyHistory, &history)
	if len(history) != 2 {
		t.Fatalf("мемо должны уйти в историю: %v", history)
	}

	logs := s.TransmissionLog(context.Background())
	if len(logs) != 1 || logs[0].ID != "42" || logs[0].Type != domain.TransmissionAutoDigest {
		t.Fatalf("неверная запись журнала: %+v", logs)
	}
	if logs[0].Link != "https://x.com/i/status/42" {
		t.Fatalf("неверная ссылка: %s", logs[0].Link)
	}

	// Выгруженное мемо больше не принимается.
	added, err := s.Enqueue(context.Background(), "gm", "again")
	if err != nil || added {
		t.Fatalf("мемо из истории не должно ставиться: added=%v err=%v", added, err)
	}
}

func TestFlushFailureLeavesQueueIntact(t *testing.T) {
	queue := newMemStore()
	poster := &stubPoster{err: errors.New("api down")}
	s := newService(queue, poster)

	if _, err := s.Enqueue(context.Background(), "gm", "log"); err != nil {
		t.Fatalf("постановка: %v", err)
	}
	if _, err := s.Flush(context.Background()); err == nil {
		t.Fatalf("ожидали ошибку публикации")
	}

	items, _ := s.ListActive(context.Background())
	if len(items) != 1 {
		t.Fatalf("очередь не должна меняться при неудаче: %+v", items)
	}
	var history []string
	queue.Get(context.Background(), keyHistory, &history)
	if len(history) != 0 {
		t.Fatalf("история не должна меняться при неудаче: %v", history)
	}
	if len(s.TransmissionLog(context.Background())) != 0 {
		t.Fatalf("журнал не должен меняться при неудаче")
	}
}

func TestRemoveByIDsMarksPosted(t *testing.T) {
	queue := newMemStore()
	s := newService(queue, &stubPoster{})

	for _, memo := range []string{"a", "b", "c"} {
		if _, err := s.Enqueue(context.Background(), memo, "log"); err != nil {
			t.Fatalf("постановка: %v", err)
		}
	}
	items, _ := s.ListActive(context.Background())

	removed, err := s.RemoveByIDs(context.Background(), []string{items[0].ID, items[2].ID, "missing"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if removed != 2 {
		t.Fatalf("ожидали две убранные записи, получили %d", removed)
	}

	items, _ = s.ListActive(context.Background())
	if len(items) != 1 || items[0].Memo != "b" {
		t.Fatalf("неверный остаток очереди: %+v", items)
	}
	var history []string
	queue.Get(context.Background(), keyHistory, &history)
	if len(history) != 2 {
		t.Fatalf("убранные мемо должны попасть в историю: %v", history)
	}
}

func TestFormatDigestTruncates(t *testing.T) {
	items := []domain.QueueItem{
		{Memo: "first", AILog: strings.Repeat("x", 200)},
		{Memo: "second", AILog: strings.Repeat("y", 200)},
		{Memo: "never", AILog: "z"},
	}
	got := FormatDigest(items)
	runes := []rune(got)
	if len(runes) > digestMaxLen {
		t.Fatalf("пост длиннее предела: %d рун", len(runes))
	}
	if !strings.HasPrefix(got, digestHeader) {
		t.Fatalf("нет заголовка: %q", got)
	}
	if !strings.Contains(got, "…") {
		t.Fatalf("ожидали многоточие усечения: %q", got)
	}
	if strings.Contains(got, "never") {
		t.Fatalf("после усечения строки не добавляются: %q", got)
	}
}
