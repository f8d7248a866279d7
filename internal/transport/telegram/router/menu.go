package router

import "strings"

// sanitizeTelegramCommand maps a name onto Telegram's [a-z0-9_]{1,32}
// command alphabet. Separators become single underscores; other runes drop.
func sanitizeTelegramCommand(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	prevSep := true
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			prevSep = false
		case r == '_' || r == '-' || r == ' ' || r == '/':
			if !prevSep {
				b.WriteByte('_')
				prevSep = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = strings.TrimRight(("cmd_" + out)[:min(32, len(out)+4)], "_")
	}
	return out
}
