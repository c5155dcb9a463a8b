package retrieval

import (
	"strings"
	"unicode/utf8"

	"github.com/kalambet/jarvis/internal/storage"
)

const (
	minKeywordRunes   = 5
	minRememberRunes  = 21
	longResponseRunes = 101

	importanceLong    = 0.7
	importanceDefault = 0.5
)

var stopwords = map[string]struct{}{
	"el": {}, "la": {}, "de": {}, "que": {}, "y": {}, "a": {}, "en": {}, "un": {},
	"ser": {}, "se": {}, "no": {}, "haber": {}, "por": {}, "con": {}, "su": {},
	"para": {}, "como": {}, "estar": {}, "tener": {}, "le": {}, "lo": {}, "todo": {},
	"pero": {}, "más": {}, "hacer": {}, "o": {}, "poder": {},
}

// ExtractKeywords returns up to five lowercased words longer than four
// characters that are not stopwords, in the order they appear.
func ExtractKeywords(text string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if utf8.RuneCountInString(w) < minKeywordRunes {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		out = append(out, w)
		if len(out) == storage.MaxContextKeywords {
			break
		}
	}
	return out
}

// Importance scores a remembered turn by how substantial the answer was.
func Importance(response string) float64 {
	if utf8.RuneCountInString(response) >= longResponseRunes {
		return importanceLong
	}
	return importanceDefault
}

// ShouldRemember reports whether a turn is kept as retrievable context.
func ShouldRemember(kind storage.InteractionKind, userInput string) bool {
	return kind == storage.KindAI && utf8.RuneCountInString(userInput) >= minRememberRunes
}

// FormatTurn renders a conversation turn as stored context content.
func FormatTurn(userInput, response string) string {
	return "Usuario: " + userInput + "\nAsistente: " + response
}
