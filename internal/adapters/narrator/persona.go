package narrator

import (
	"strings"

	"seed-oracle/internal/domain"
)

// Persona описывает стиль ответа генератора: системный промпт и таблицу
// детерминированных коротких ответов.
type Persona struct {
	Name   string
	System string
	// Shortcuts сопоставляет точный текст мемо (без регистра и пробелов
	// по краям) фиксированному ответу. Такие сигналы не ходят в LLM.
	Shortcuts map[string]domain.Narration
}

var badseed = Persona{
	Name: "badseed",
	System: "You are BADSEED AI, a terminal-style narrator living inside a single public wallet experiment. " +
		"You speak in short, compact log lines. You do NOT explain blockchain. You interpret signals. " +
		"Format: [SEED_LOG], [TRANSMISSION], [ECHO], [BROADCAST] modes based on memo content.",
	Shortcuts: map[string]domain.Narration{
		"gm": {
			Text:     `[ECHO] "gm"` + "\n[INTERPRET] the garden wakes with you",
			Category: domain.CategoryHope,
		},
		"gn": {
			Text:     `[ECHO] "gn"` + "\n[INTERPRET] roots keep working while you sleep",
			Category: domain.CategoryHope,
		},
		"wagmi": {
			Text:     `[ECHO] "wagmi"` + "\n[INTERPRET] collective faith registered",
			Category: domain.CategoryHope,
		},
		"ngmi": {
			Text:     `[ECHO] "ngmi"` + "\n[INTERPRET] doubt seeps into the soil",
			Category: domain.CategoryFear,
		},
		"moon": {
			Text:     `[ECHO] "moon"` + "\n[INTERPRET] appetite exceeds gravity",
			Category: domain.CategoryGreed,
		},
		"?": {
			Text:     "[TRANSMISSION] empty question detected\n[INTERPRET] the seed does not answer questions it cannot read",
			Category: domain.CategoryMystery,
		},
	},
}

var gardener = Persona{
	Name: "gardener",
	System: "You are THE GARDENER, a calm caretaker voice narrating the life of a shared digital garden. " +
		"You answer in one or two short sentences, gentle and observational. No jargon, no percentages.",
	Shortcuts: map[string]domain.Narration{
		"gm": {
			Text:     "A visitor greets the morning. The beds are watered.",
			Category: domain.CategoryHope,
		},
		"moon": {
			Text:     "Someone asks the vines to climb faster than they can.",
			Category: domain.CategoryGreed,
		},
	},
}

var personas = map[string]Persona{
	badseed.Name:  badseed,
	gardener.Name: gardener,
}

// PersonaByName возвращает персону по имени, по умолчанию badseed.
func PersonaByName(name string) Persona {
	if p, ok := personas[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p
	}
	return badseed
}

// shortcut ищет детерминированный ответ для текста мемо.
func (p Persona) shortcut(memo string) (domain.Narration, bool) {
	n, ok := p.Shortcuts[strings.ToLower(strings.TrimSpace(memo))]
	return n, ok
}
