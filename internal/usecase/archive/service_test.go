package archive

import (
	"context"
	"encoding/json"
	"errors"
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

type stubOracle struct {
	prophecy domain.Prophecy
	err      error
	calls    int
}

func (o *stubOracle) Generate(context.Context, bool) (domain.ProphecyResult, error) {
	o.calls++
	if o.err != nil {
		return domain.ProphecyResult{}, o.err
	}
	return domain.ProphecyResult{Dominant: o.prophecy.Dominant, Prophecy: o.prophecy}, nil
}

type stubPerma struct {
	price      int64
	balance    int64
	txID       string
	priceErr   error
	balanceErr error
	fundErr    error
	uploadErr  error
	funded     []int64
	uploads    int
}

func (p *stubPerma) Price(context.Context, int) (int64, error) {
	if p.priceErr != nil {
		return 0, p.priceErr
	}
	return p.price, nil
}

func (p *stubPerma) Balance(context.Context) (int64, error) {
	if p.balanceErr != nil {
		return 0, p.balanceErr
	}
	return p.balance, nil
}

func (p *stubPerma) Fund(_ context.Context, amount int64) error {
	if p.fundErr != nil {
		return p.fundErr
	}
	p.funded = append(p.funded, amount)
	p.balance += amount
	return nil
}

func (p *stubPerma) Upload(context.Context, []byte, string) (string, error) {
	p.uploads++
	if p.uploadErr != nil {
		return "", p.uploadErr
	}
	return p.txID, nil
}

func newService(data, queue *memStore, oracle domain.ProphecyGenerator, perma domain.PermanentStore) *Service {
	s := NewService(data, queue, oracle, perma, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2025, 6, 1, 23, 55, 0, 0, time.UTC) }
	return s
}

func freshData() domain.SentimentData {
	data := domain.NewSentimentData()
	data.Prophecy = domain.Prophecy{Text: "today", Date: "2025-06-01", Ready: true}
	data.TotalMemos = 5
	data.Sentiments[domain.CategoryHope] = 5
	return data
}

func TestRunSuccessClearsPostedHistory(t *testing.T) {
	data := newMemStore()
	queue := newMemStore()
	if err := data.Set(context.Background(), keyData, freshData()); err != nil {
		t.Fatalf("подготовка данных: %v", err)
	}
	if err := queue.Set(context.Background(), keyHistory, []string{"gm", "moon"}); err != nil {
		t.Fatalf("подготовка истории: %v", err)
	}

	perma := &stubPerma{price: 100, balance: 500, txID: "tx-1"}
	s := newService(data, queue, &stubOracle{}, perma)

	got, err := s.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !got.Success || got.TxID != "tx-1" || got.ChaosMode {
		t.Fatalf("неверный итог: %+v", got)
	}
	if len(perma.funded) != 0 {
		t.Fatalf("при достаточном балансе пополнения быть не должно: %v", perma.funded)
	}

	var history []string
	queue.Get(context.Background(), keyHistory, &history)
	if len(history) != 0 {
		t.Fatalf("история публикаций должна очищаться: %v", history)
	}

	status := s.Status(context.Background())
	if status.ChaosMode || len(status.History) != 1 {
		t.Fatalf("неверный статус: %+v", status)
	}
	if status.History[0].Data.TotalMemos != 5 || len(status.History[0].Data.Transactions) != 2 {
		t.Fatalf("неверный снимок в истории: %+v", status.History[0].Data)
	}
}

func TestRunFundsExactShortfall(t *testing.T) {
	data := newMemStore()
	if err := data.Set(context.Background(), keyData, freshData()); err != nil {
		t.Fatalf("подготовка данных: %v", err)
	}

	perma := &stubPerma{price: 100, balance: 30, txID: "tx-2"}
	s := newService(data, newMemStore(), &stubOracle{}, perma)

	got, err := s.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !got.Success {
		t.Fatalf("ожидали успех после пополнения: %+v", got)
	}
	if len(perma.funded) != 1 || perma.funded[0] != 70 {
		t.Fatalf("ожидали пополнение ровно на недостачу, получили %v", perma.funded)
	}

	status := s.Status(context.Background())
	if len(status.History) != 1 || !status.History[0].Manual {
		t.Fatalf("ручной запуск должен помечаться: %+v", status.History)
	}
}

func TestRunRepeatedFailureKeepsOnePendingRecord(t *testing.T) {
	data := newMemStore()
	if err := data.Set(context.Background(), keyData, freshData()); err != nil {
		t.Fatalf("подготовка данных: %v", err)
	}

	perma := &stubPerma{price: 100, balance: 500, uploadErr: domain.ErrInsufficientFunds}
	s := newService(data, newMemStore(), &stubOracle{}, perma)

	for i := 0; i < 2; i++ {
		got, err := s.Run(context.Background(), false)
		if err != nil {
			t.Fatalf("плановый запуск не должен падать: %v", err)
		}
		if !got.ChaosMode || got.Reason != "insufficient funds" {
			t.Fatalf("неверный итог отказа: %+v", got)
		}
	}

	status := s.Status(context.Background())
	if !status.ChaosMode {
		t.Fatalf("ожидали chaos mode")
	}
	if len(status.Pending) != 1 {
		t.Fatalf("повтор той же даты не должен плодить записи: %+v", status.Pending)
	}
	if status.Pending[0].Attempts != 2 {
		t.Fatalf("ожидали две попытки, получили %d", status.Pending[0].Attempts)
	}
}

func TestRunHealsStaleProphecy(t *testing.T) {
	data := newMemStore()
	stale := freshData()
	stale.Prophecy = domain.Prophecy{Text: "old", Date: "2025-05-31"}
	if err := data.Set(context.Background(), keyData, stale); err != nil {
		t.Fatalf("подготовка данных: %v", err)
	}

	oracle := &stubOracle{prophecy: domain.Prophecy{Text: "healed", Date: "2025-06-01"}}
	perma := &stubPerma{price: 1, balance: 10, txID: "tx-3"}
	s := newService(data, newMemStore(), oracle, perma)

	if _, err := s.Run(context.Background(), false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if oracle.calls != 1 {
		t.Fatalf("ожидали вызов оракула для лечения, вызовов: %d", oracle.calls)
	}

	status := s.Status(context.Background())
	if status.History[0].Data.Prophecy.Text != "healed" {
		t.Fatalf("в снимок должно попасть вылеченное пророчество: %+v", status.History[0].Data.Prophecy)
	}
}

func TestRunHealFailureArchivesWithNote(t *testing.T) {
	data := newMemStore()
	stale := freshData()
	stale.Prophecy = domain.Prophecy{Text: "old", Date: "2025-05-31"}
	if err := data.Set(context.Background(), keyData, stale); err != nil {
		t.Fatalf("подготовка данных: %v", err)
	}

	oracle := &stubOracle{err: errors.New("oracle down")}
	perma := &stubPerma{price: 1, balance: 10, txID: "tx-4"}
	s := newService(data, newMemStore(), oracle, perma)

	got, err := s.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !got.Success {
		t.Fatalf("неудача лечения не должна блокировать архивацию: %+v", got)
	}

	status := s.Status(context.Background())
	if status.History[0].Data.HealNote == "" {
		t.Fatalf("снимок должен нести пометку о неудаче лечения")
	}
}

func TestRetryPendingRemovesRecord(t *testing.T) {
	data := newMemStore()
	if err := data.Set(context.Background(), keyData, freshData()); err != nil {
		t.Fatalf("подготовка данных: %v", err)
	}

	perma := &stubPerma{price: 100, balance: 500, uploadErr: domain.ErrInsufficientFunds}
	s := newService(data, newMemStore(), &stubOracle{}, perma)

	if _, err := s.Run(context.Background(), false); err != nil {
		t.Fatalf("подготовка отложенного: %v", err)
	}

	// Кошелёк пополнен, повтор должен пройти.
	perma.uploadErr = nil
	perma.txID = "tx-retry"
	got, err := s.RetryPending(context.Background(), "2025-06-01")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !got.Success || got.TxID != "tx-retry" {
		t.Fatalf("неверный итог повтора: %+v", got)
	}

	status := s.Status(context.Background())
	if status.ChaosMode || len(status.Pending) != 0 {
		t.Fatalf("отложенная запись должна исчезнуть: %+v", status.Pending)
	}
	if len(status.History) != 1 || !status.History[0].Manual {
		t.Fatalf("повтор должен помечаться ручным: %+v", status.History)
	}

	if _, err := s.RetryPending(context.Background(), "2025-06-01"); err == nil {
		t.Fatalf("повтор без отложенной записи должен быть ошибкой")
	}
}
