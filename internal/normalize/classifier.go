package normalize

import (
	"strings"
	"unicode"

	"github.com/dennisdiepolder/monti/livestats/internal/types"
)

// Classifier maps an outcome label onto a coarse category
type Classifier interface {
	Classify(label string) types.Category
}

// ClassifierFunc adapts a function to the Classifier interface
type ClassifierFunc func(label string) types.Category

// Classify calls f(label)
func (f ClassifierFunc) Classify(label string) types.Category { return f(label) }

// Default keyword lists. Matching is a case-insensitive substring test, so
// stems ("declin", "absag") catch inflected labels. DefaultNeutralWords only
// match whole words.
var (
	DefaultNeutralWords = []string{
		"none",
		"n/a",
	}

	DefaultNeutralMarkers = []string{
		"keine angabe",
		"kein termin",
		"follow-up",
		"follow up",
		"followup",
		"wiedervorlage",
		"rückruf",
		"callback",
		"nicht erreicht",
	}

	DefaultNegativeKeywords = []string{
		"gatekeeper",
		"sekretariat",
		"vorzimmer",
		"wrong number",
		"wrong person",
		"wrong contact",
		"falsche nummer",
		"falscher ansprechpartner",
		"does not exist",
		"not exist",
		"nonexist",
		"non-exist",
		"existiert nicht",
		"nicht vergeben",
		"kein interesse",
		"no interest",
		"not interested",
		"declin",
		"absag",
		"abgesagt",
		"storniert",
		"storno",
		"cancel",
		"abgelehnt",
		"refused",
	}

	DefaultPositiveKeywords = []string{
		"termin",
		"appointment",
		"booked",
		"booking",
		"gebucht",
		"success",
		"erfolg",
		"sale",
		"verkauf",
		"abschluss",
		"zusage",
		"meeting",
	}
)

// KeywordClassifier classifies by substring match. Neutral markers are
// checked first, then negative terms, then positive terms. Anything else is
// neutral. It is a heuristic and will misclassify labels it has never seen.
type KeywordClassifier struct {
	words    []string
	neutral  []string
	negative []string
	positive []string
}

// NewKeywordClassifier builds a classifier from keyword lists. Empty lists
// fall back to the defaults; the whole-word neutral markers only apply with
// the default neutral list.
func NewKeywordClassifier(positive, negative, neutral []string) *KeywordClassifier {
	var words []string
	if len(positive) == 0 {
		positive = DefaultPositiveKeywords
	}
	if len(negative) == 0 {
		negative = DefaultNegativeKeywords
	}
	if len(neutral) == 0 {
		neutral = DefaultNeutralMarkers
		words = DefaultNeutralWords
	}
	return &KeywordClassifier{
		words:    lowerAll(words),
		neutral:  lowerAll(neutral),
		negative: lowerAll(negative),
		positive: lowerAll(positive),
	}
}

// Classify implements Classifier
func (c *KeywordClassifier) Classify(label string) types.Category {
	l := strings.ToLower(strings.TrimSpace(label))
	if l == "" {
		return types.CategoryNeutral
	}
	switch {
	case containsWord(l, c.words), containsAny(l, c.neutral):
		return types.CategoryNeutral
	case containsAny(l, c.negative):
		return types.CategoryNegative
	case containsAny(l, c.positive):
		return types.CategoryPositive
	default:
		return types.CategoryNeutral
	}
}

// TableClassifier looks labels up in an exact table and defers to a fallback
// for labels it does not know. It is the drop-in replacement for a
// server-provided outcome mapping.
type TableClassifier struct {
	table    map[string]types.Category
	fallback Classifier
}

// NewTableClassifier builds a lookup classifier. Keys are matched
// case-insensitively. A nil fallback classifies unknown labels as neutral.
func NewTableClassifier(table map[string]types.Category, fallback Classifier) *TableClassifier {
	t := make(map[string]types.Category, len(table))
	for label, cat := range table {
		t[strings.ToLower(strings.TrimSpace(label))] = cat
	}
	return &TableClassifier{table: t, fallback: fallback}
}

// Classify implements Classifier
func (c *TableClassifier) Classify(label string) types.Category {
	if cat, ok := c.table[strings.ToLower(strings.TrimSpace(label))]; ok {
		return cat
	}
	if c.fallback != nil {
		return c.fallback.Classify(label)
	}
	return types.CategoryNeutral
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if t != "" && strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// containsWord reports whether one of words appears in s delimited by
// letters and digits on neither side
func containsWord(s string, words []string) bool {
	for _, w := range words {
		if w == "" {
			continue
		}
		for i := 0; ; {
			j := strings.Index(s[i:], w)
			if j < 0 {
				break
			}
			start, end := i+j, i+j+len(w)
			if !wordRuneBefore(s, start) && !wordRuneAt(s, end) {
				return true
			}
			i = start + 1
		}
	}
	return false
}

func wordRuneBefore(s string, i int) bool {
	if i == 0 {
		return false
	}
	r := []rune(s[:i])
	return isWordRune(r[len(r)-1])
}

func wordRuneAt(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	for _, r := range s[i:] {
		return isWordRune(r)
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}
