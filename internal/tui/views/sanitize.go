package views

import (
	"strings"
	"unicode/utf8"
)

// sanitizeForTerminal strips codepoints that break tcell cell-width
// accounting: skin tone modifiers, zero width joiners, and variation
// selectors. Multi-codepoint emoji collapse to their base glyph, which
// renders at a stable width.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isProblematicRune(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

func isProblematicRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tone modifiers
		return true
	case r == 0x200D: // zero width joiner
		return true
	case r >= 0xFE00 && r <= 0xFE0F: // variation selectors
		return true
	case r >= 0xE0100 && r <= 0xE01EF: // variation selectors supplement
		return true
	default:
		return false
	}
}
