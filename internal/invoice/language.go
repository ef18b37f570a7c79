package invoice

import (
	"strings"
	"unicode"

	"github.com/garyjia/docledger/internal/domain/entity"
)

var languageMarkers = map[entity.Lang][]string{
	entity.LangGerman:  {"rechnung", "mwst", "betrag", "datum", "zahlbar", "total", "und", "der", "die", "inkl"},
	entity.LangFrench:  {"facture", "tva", "montant", "date", "payable", "ttc", "et", "le", "la", "dont"},
	entity.LangItalian: {"fattura", "iva", "importo", "data", "pagabile", "totale", "e", "il", "la", "di"},
	entity.LangEnglish: {"invoice", "vat", "amount", "date", "payable", "total", "and", "the", "due", "of"},
}

var languageOrder = []entity.Lang{entity.LangGerman, entity.LangFrench, entity.LangItalian, entity.LangEnglish}

// DetectLanguage guesses the document language from marker words.
// Words shared by several languages count for each of them; ties and texts without any
// marker return LangUnknown.
func DetectLanguage(text string) entity.Lang {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	seen := make(map[string]int, len(words))
	for _, w := range words {
		seen[w]++
	}

	best, bestScore, tie := entity.LangUnknown, 0, false
	for _, lang := range languageOrder {
		score := 0
		for _, m := range languageMarkers[lang] {
			score += seen[m]
		}
		switch {
		case score > bestScore:
			best, bestScore, tie = lang, score, false
		case score == bestScore && score > 0:
			tie = true
		}
	}
	if tie {
		return entity.LangUnknown
	}
	return best
}
