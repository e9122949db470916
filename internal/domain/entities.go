package domain

import "time"

// Category обозначает одну из фиксированных категорий настроения.
type Category string

const (
	// CategoryHope надежда.
	CategoryHope Category = "hope"
	// CategoryGreed жадность.
	CategoryGreed Category = "greed"
	// CategoryFear страх.
	CategoryFear Category = "fear"
	// CategoryMystery неопределённость, корзина для всего нераспознанного.
	CategoryMystery Category = "mystery"
)

// Categories возвращает категории в каноническом порядке.
// Порядок фиксирован: он же используется при выборе доминанты.
func Categories() []Category {
	return []Category{CategoryHope, CategoryGreed, CategoryFear, CategoryMystery}
}

// IsValidCategory проверяет, что строка является известной категорией.
func IsValidCategory(c Category) bool {
	switch c {
	case CategoryHope, CategoryGreed, CategoryFear, CategoryMystery:
		return true
	}
	return false
}

// Статусы публикации пророчества во внешней соцсети.
const (
	PostStatusPending = "pending"
	PostStatusPosted  = "posted"
	PostStatusFailed  = "failed"
)

// DateLayout формат дня, единственный ключ идентичности пророчества.
const DateLayout = "2006-01-02"

// Prophecy описывает дневное пророчество.
// Пока Ready=false текст считается «размытым» и не отдаётся наружу.
type Prophecy struct {
	Text        string           `json:"text"`
	Date        string           `json:"date"`
	Ready       bool             `json:"ready"`
	Dominant    Category         `json:"dominant,omitempty"`
	Percentages map[Category]int `json:"percentages,omitempty"`
	GeneratedAt *time.Time       `json:"generatedAt,omitempty"`
	RevealedAt  *time.Time       `json:"revealedAt,omitempty"`
	UpdatedAt   *time.Time       `json:"updatedAt,omitempty"`
	PostID      string           `json:"postId,omitempty"`
	XPostStatus string           `json:"x_post_status,omitempty"`
	Forced      bool             `json:"forced,omitempty"`
}

// IsForDate сообщает, относится ли непустое пророчество к указанному дню.
func (p Prophecy) IsForDate(date string) bool {
	return p.Text != "" && p.Date == date
}

// LogEntry неизменяемая запись журнала по одному сигналу.
// Записанная подпись никогда не перезаписывается.
type LogEntry struct {
	Signature string    `json:"signature"`
	Text      string    `json:"text"`
	Category  Category  `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
}

// LogLimit максимум записей журнала в агрегате, старые вытесняются.
const LogLimit = 100

// SentimentData единый агрегат дневной статистики.
type SentimentData struct {
	TotalMemos    int              `json:"totalMemos"`
	Sentiments    map[Category]int `json:"sentiments"`
	LastUpdated   *time.Time       `json:"lastUpdated,omitempty"`
	Prophecy      Prophecy         `json:"prophecy"`
	Log           []LogEntry       `json:"log,omitempty"`
	LastReset     *time.Time       `json:"lastReset,omitempty"`
	SystemStatus  string           `json:"system_status,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
	LastErrorTime *time.Time       `json:"last_error_time,omitempty"`
}

// NewSentimentData возвращает пустой агрегат с нулевыми счётчиками.
// Все читающие пути обязаны использовать этот конструктор вместо
// самодельных значений по умолчанию.
func NewSentimentData() SentimentData {
	return SentimentData{
		Sentiments: map[Category]int{
			CategoryHope:    0,
			CategoryGreed:   0,
			CategoryFear:    0,
			CategoryMystery: 0,
		},
		Prophecy: Prophecy{},
	}
}

// EnsureDefaults дозаполняет агрегат после чтения из хранилища.
func (d *SentimentData) EnsureDefaults() {
	if d.Sentiments == nil {
		d.Sentiments = NewSentimentData().Sentiments
	}
	for _, c := range Categories() {
		if _, ok := d.Sentiments[c]; !ok {
			d.Sentiments[c] = 0
		}
	}
}

// FindLog ищет запись журнала по подписи сигнала.
func (d *SentimentData) FindLog(signature string) (LogEntry, bool) {
	if signature == "" {
		return LogEntry{}, false
	}
	for _, entry := range d.Log {
		if entry.Signature == signature {
			return entry, true
		}
	}
	return LogEntry{}, false
}

// Signal входящее событие от внешнего опросника леджера.
type Signal struct {
	Signature string    `json:"signature"`
	Memo      string    `json:"memo"`
	Amount    float64   `json:"amount"`
	Direction string    `json:"direction"`
	BlockTime time.Time `json:"blockTime"`
}

// SignalBundle пачка сигналов, приходящая одним сообщением очереди.
type SignalBundle struct {
	BalanceSol   float64  `json:"balanceSol,omitempty"`
	Transactions []Signal `json:"transactions"`
}

// Narration результат генерации комментария по сигналу.
type Narration struct {
	Text     string
	Category Category
}

// QueueItem недоставленный комментарий в очереди передач.
type QueueItem struct {
	ID        string    `json:"id"`
	Memo      string    `json:"memo"`
	AILog     string    `json:"aiLog"`
	CreatedAt time.Time `json:"createdAt"`
}

// QueueControl управляющий документ очереди.
type QueueControl struct {
	Paused    bool       `json:"paused"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// TransmissionEntry запись журнала опубликованных передач.
type TransmissionEntry struct {
	ID   string    `json:"id"`
	Text string    `json:"text"`
	Date time.Time `json:"date"`
	Type string    `json:"type"`
	Link string    `json:"link,omitempty"`
}

// Типы записей журнала передач.
const (
	TransmissionAutoDigest = "AUTO_DIGEST"
	TransmissionProphecy   = "PROPHECY"
)

// Пределы удержания очереди и истории публикаций.
const (
	QueueRetention       = 24 * time.Hour
	PostedHistoryLimit   = 200
	TransmissionLogLimit = 50
)

// DailyRecord снимок дня, уходящий в постоянный архив.
type DailyRecord struct {
	Date             string           `json:"date"`
	Timestamp        time.Time        `json:"timestamp"`
	Prophecy         *Prophecy        `json:"prophecy"`
	Sentiments       map[Category]int `json:"sentiments"`
	TotalMemos       int              `json:"totalMemos"`
	Transactions     []string         `json:"transactions"`
	PendingQueueSize int              `json:"pendingQueueSize"`
	HealNote         string           `json:"healNote,omitempty"`
}

// PendingRecord отложенный архив: по одной записи на дату.
type PendingRecord struct {
	Date        string      `json:"date"`
	Data        DailyRecord `json:"data"`
	Attempts    int         `json:"attempts"`
	LastAttempt time.Time   `json:"lastAttempt"`
	Reason      string      `json:"reason,omitempty"`
}

// ArchivedRecord успешно загруженный архив.
type ArchivedRecord struct {
	Date      string      `json:"date"`
	TxID      string      `json:"txId"`
	Timestamp time.Time   `json:"timestamp"`
	Manual    bool        `json:"manual"`
	Data      DailyRecord `json:"data"`
}

// ArchiveHistoryLimit максимум записей истории архива.
const ArchiveHistoryLimit = 256

// ArchiveState состояние устойчивости архивации.
type ArchiveState struct {
	Pending []PendingRecord  `json:"pending"`
	History []ArchivedRecord `json:"history"`
}

// DayRecord сводка прошедшего дня в документе истории.
type DayRecord struct {
	Sentiments map[Category]int `json:"sentiments"`
	Prophecy   Prophecy         `json:"prophecy"`
	TotalMemos int              `json:"totalMemos"`
}
