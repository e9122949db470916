package domain

import (
	"context"
	"errors"
)

// Store типизированный доступ к документам одного пространства имён.
// Get деградирует мягко: любая ошибка транспорта или разбора логируется
// и отдаётся как отсутствие данных, поэтому вызывающая сторона обязана
// одинаково обрабатывать «нет данных» и «ошибка чтения».
// Set и Delete, напротив, возвращают ошибку вызывающему.
type Store interface {
	Get(ctx context.Context, key string, dst any) bool
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// NarrationStats текущие счётчики, попадающие в промпт генерации.
type NarrationStats struct {
	TotalMemos int
	Sentiments map[Category]int
}

// Narrator генерирует комментарий и категорию по входящему сигналу.
type Narrator interface {
	Narrate(ctx context.Context, signal Signal, stats NarrationStats) (Narration, error)
}

// ProphecyWriter сочиняет текст дневного пророчества по смеси категорий.
type ProphecyWriter interface {
	ComposeProphecy(ctx context.Context, date string, percentages map[Category]int, seed int) (string, error)
}

// Poster публикует текст во внешней соцсети и возвращает идентификатор поста.
type Poster interface {
	Post(ctx context.Context, text string) (string, error)
}

// ErrInsufficientFunds сигнализирует, что загрузка в постоянное хранилище
// не оплачена. Определяется адаптером по содержимому ответа (best effort).
var ErrInsufficientFunds = errors.New("недостаточно средств для загрузки")

// PermanentStore платная загрузка в постоянный архив.
// Суммы в атомарных единицах валюты узла.
type PermanentStore interface {
	Price(ctx context.Context, size int) (int64, error)
	Balance(ctx context.Context) (int64, error)
	Fund(ctx context.Context, amount int64) error
	Upload(ctx context.Context, payload []byte, contentType string) (string, error)
}

// ProphecyResult итог генерации пророчества.
type ProphecyResult struct {
	Dominant Category
	Prophecy Prophecy
}

// ProphecyGenerator используется контроллером архива для «лечения»
// устаревшего пророчества перед архивацией.
type ProphecyGenerator interface {
	Generate(ctx context.Context, force bool) (ProphecyResult, error)
}

// SignalSource источник пачек сигналов (очередь внешнего опросника).
type SignalSource interface {
	Pop(ctx context.Context) (SignalBundle, error)
}
