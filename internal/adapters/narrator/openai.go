package narrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"seed-oracle/internal/domain"
	openai "seed-oracle/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI реализует Narrator и ProphecyWriter через Chat Completions.
type OpenAI struct {
	client  chatClient
	model   string
	timeout time.Duration
	persona Persona
}

var _ domain.Narrator = (*OpenAI)(nil)
var _ domain.ProphecyWriter = (*OpenAI)(nil)

// NewOpenAI создаёт генератор с указанной персоной.
func NewOpenAI(client chatClient, model string, timeout time.Duration, persona Persona) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout, persona: persona}
}

// Narrate строит комментарий по сигналу. Точные совпадения из таблицы
// персоны отвечаются детерминированно без внешнего вызова.
func (o *OpenAI) Narrate(ctx context.Context, signal domain.Signal, stats domain.NarrationStats) (domain.Narration, error) {
	if n, ok := o.persona.shortcut(signal.Memo); ok {
		return n, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.7,
		MaxTokens:   200,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: o.persona.System},
			{Role: openai.RoleUser, Content: buildNarratePrompt(signal, stats)},
		},
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Narration{}, fmt.Errorf("генерация комментария: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Narration{}, fmt.Errorf("генерация комментария: пустой ответ")
	}
	return parseNarration(resp.Choices[0].Message.Content), nil
}

func buildNarratePrompt(signal domain.Signal, stats domain.NarrationStats) string {
	var b strings.Builder
	b.WriteString("A new signal arrived. Interpret it and classify its emotional charge.\n\n")
	fmt.Fprintf(&b, "Memo: %q\n", signal.Memo)
	fmt.Fprintf(&b, "Amount: %.9f (%s)\n", signal.Amount, signal.Direction)
	fmt.Fprintf(&b, "Time of day: %s\n", timeOfDay(signal.BlockTime))
	fmt.Fprintf(&b, "Signals today: %d", stats.TotalMemos)
	if stats.Sentiments != nil {
		fmt.Fprintf(&b, " (hope %d, greed %d, fear %d, mystery %d)",
			stats.Sentiments[domain.CategoryHope],
			stats.Sentiments[domain.CategoryGreed],
			stats.Sentiments[domain.CategoryFear],
			stats.Sentiments[domain.CategoryMystery])
	}
	b.WriteString("\n\nReply with EXACTLY two lines:\n")
	b.WriteString("SENTIMENT: <one of hope|greed|fear|mystery>\n")
	b.WriteString("RESPONSE: <your log line, max 200 chars>")
	return b.String()
}

func timeOfDay(t time.Time) string {
	switch h := t.UTC().Hour(); {
	case h < 6:
		return "deep night"
	case h < 12:
		return "morning"
	case h < 18:
		return "afternoon"
	default:
		return "evening"
	}
}

// parseNarration разбирает ответ формата SENTIMENT/RESPONSE.
// Без обеих строк весь текст считается ответом с категорией mystery.
func parseNarration(raw string) domain.Narration {
	var category domain.Category
	var response string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)
		switch {
		case strings.HasPrefix(upper, "SENTIMENT:"):
			value := domain.Category(strings.ToLower(strings.TrimSpace(trimmed[len("SENTIMENT:"):])))
			if domain.IsValidCategory(value) {
				category = value
			}
		case strings.HasPrefix(upper, "RESPONSE:"):
			response = strings.TrimSpace(trimmed[len("RESPONSE:"):])
		}
	}
	if category == "" || response == "" {
		return domain.Narration{Text: strings.TrimSpace(raw), Category: domain.CategoryMystery}
	}
	return domain.Narration{Text: response, Category: category}
}

// ComposeProphecy сочиняет текст пророчества по смеси категорий.
func (o *OpenAI) ComposeProphecy(ctx context.Context, date string, percentages map[domain.Category]int, seed int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	prompt := fmt.Sprintf(`You are The Bad Seed, an ancient digital entity.
Current Date: %s (Seed: %d)
Current Collective Sentiment Mix:
- HOPE: %d%%
- GREED: %d%%
- FEAR: %d%%
- MYSTERY: %d%%

Task: Write a cryptic, atmospheric prophecy (max 280 chars) that reflects this EXACT blend of energies.
- If Hope is high, show optimism but tempered by the other stats.
- If Greed is high, warn of hunger.
- If Fear is present, acknowledge the shadow.
- If Mystery is high, be enigmatic.
- Blend them proportionally. Do NOT list the percentages. Write it as a divine revelation.
- Use 2-3 relevant emojis (🌱, 💀, 💰, 🔮, ⚡).
- Make it distinct from previous prophecies.`,
		date, seed,
		percentages[domain.CategoryHope],
		percentages[domain.CategoryGreed],
		percentages[domain.CategoryFear],
		percentages[domain.CategoryMystery])

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.95,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleUser, Content: prompt},
		},
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("генерация пророчества: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("генерация пророчества: пустой ответ")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("генерация пророчества: пустой текст")
	}
	return text, nil
}
