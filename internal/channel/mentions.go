package channel

import (
	"strings"

	"omnigate/internal/domain"
)

// RenderMentions rewrites "@<id>" placeholders in text into each
// platform's native mention token. A mention whose placeholder is absent
// is prepended instead. token returns "" to skip a mention.
func RenderMentions(text string, mentions []domain.Mention, token func(domain.Mention) string) string {
	var prefix []string
	for _, m := range mentions {
		tok := token(m)
		if tok == "" {
			continue
		}
		placeholder := "@" + m.ID
		if m.ID != "" && strings.Contains(text, placeholder) {
			text = strings.ReplaceAll(text, placeholder, tok)
			continue
		}
		if !strings.Contains(text, tok) {
			prefix = append(prefix, tok)
		}
	}
	if len(prefix) == 0 {
		return text
	}
	if text == "" {
		return strings.Join(prefix, " ")
	}
	return strings.Join(prefix, " ") + " " + text
}

// Allowed reports whether any of ids is in allow. An empty list allows
// everyone.
func Allowed(allow []string, ids ...string) bool {
	if len(allow) == 0 {
		return true
	}
	for _, a := range allow {
		for _, id := range ids {
			if id != "" && strings.TrimSpace(a) == id {
				return true
			}
		}
	}
	return false
}
