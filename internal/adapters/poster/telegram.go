package poster

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"seed-oracle/internal/domain"
	"seed-oracle/internal/infra/metrics"
)

// Telegram публикует посты в канал через Bot API.
// Используется как альтернатива X, когда его ключи не заданы.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

var _ domain.Poster = (*Telegram)(nil)

// NewTelegram создаёт постер для указанного канала.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" {
		return nil, errors.New("telegram: пустой токен бота")
	}
	if chatID == 0 {
		return nil, errors.New("telegram: не указан канал")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// Post отправляет сообщение в канал и возвращает его идентификатор.
func (t *Telegram) Post(ctx context.Context, text string) (string, error) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	start := time.Now()
	sent, err := t.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram", "send_message", "channel", start, err)
	if err != nil {
		return "", fmt.Errorf("telegram: send: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}
