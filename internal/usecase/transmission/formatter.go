package transmission

import (
	"fmt"

	"seed-oracle/internal/domain"
)

// digestHeader заголовок сводного поста.
const digestHeader = "🌱 BADSEED TRANSMISSION LOG 🌱\n\n"

// digestMaxLen предел длины поста, считается в рунах.
const digestMaxLen = 280

// FormatDigest собирает сводный пост из очереди: старые записи первыми,
// не влезающая строка усекается с многоточием, дальше ничего не
// добавляется. Итог никогда не длиннее предела.
func FormatDigest(items []domain.QueueItem) string {
	header := []rune(digestHeader)
	body := make([]rune, 0, digestMaxLen)

	for _, item := range items {
		line := []rune(fmt.Sprintf("📨 \"%s\"\n→ %s\n\n", item.Memo, item.AILog))
		remaining := digestMaxLen - len(header) - len(body)
		if remaining <= 0 {
			break
		}
		if len(line) > remaining {
			if remaining > 2 {
				body = append(body, line[:remaining-2]...)
				body = append(body, '…')
			}
			break
		}
		body = append(body, line...)
	}

	out := append(header, body...)
	if len(out) > digestMaxLen {
		out = out[:digestMaxLen]
	}
	return string(out)
}
