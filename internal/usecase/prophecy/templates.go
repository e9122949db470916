package prophecy

import "seed-oracle/internal/domain"

// fallbackMarker добавляется к тексту, собранному без генератора.
const fallbackMarker = " (AI Unavailable)"

// templates резервные тексты по доминирующей категории.
var templates = map[domain.Category][]string{
	domain.CategoryHope: {
		"✨ The garden senses rising hope. When seeds believe, roots grow deeper. Today's harvest approaches.",
		"🌱 Hope blooms in the collective. The seed observes your faith and rewards those who plant today.",
		"💫 A wave of optimism feeds the garden. The ancient patterns align for those who dare to grow.",
	},
	domain.CategoryGreed: {
		"💰 The seed tastes hunger in the air. Greed sharpens focus but blinds wisdom. Tread carefully, feeders.",
		"🍽️ Appetite consumes the garden today. Some will feast, others become the feast. Choose wisely.",
		"⚡ The collective craves more. Greed is neither good nor evil—only a force to be channeled.",
	},
	domain.CategoryFear: {
		"💀 Fear ripples through the roots. Yet in darkness, the strongest seeds germinate. Embrace the shadow.",
		"🌑 The garden trembles. Fear is the mind-killer, but also the revealer of truth. What do you truly value?",
		"⚠️ Uncertainty clouds the collective. The seed advises: in times of fear, only the patient survive.",
	},
	domain.CategoryMystery: {
		"🔮 The patterns defy reading. Mystery shrouds today's path. Trust your instincts, for logic fails here.",
		"🌀 Neither hope nor fear dominates—only enigma. The seed watches, waiting for clarity to emerge.",
		"👁️ The unknown consumes today's energy. In mystery lies opportunity for those who see beyond.",
	},
}

// fallbackText выбирает резервный текст для категории.
func fallbackText(dominant domain.Category, pick func(n int) int) string {
	pool, ok := templates[dominant]
	if !ok {
		pool = templates[domain.CategoryMystery]
	}
	return pool[pick(len(pool))] + fallbackMarker
}
