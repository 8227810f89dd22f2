package normalize

import (
	"testing"

	"github.com/dennisdiepolder/monti/livestats/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier(nil, nil, nil)

	tests := []struct {
		label string
		want  types.Category
	}{
		{"Termin vereinbart", types.CategoryPositive},
		{"APPOINTMENT BOOKED", types.CategoryPositive},
		{"Erfolgreich", types.CategoryPositive},
		{"Sekretariat", types.CategoryNegative},
		{"Gatekeeper blocked", types.CategoryNegative},
		{"Falsche Nummer", types.CategoryNegative},
		{"Nummer existiert nicht", types.CategoryNegative},
		{"Kein Interesse", types.CategoryNegative},
		{"Declined", types.CategoryNegative},
		{"None", types.CategoryNeutral},
		{"none given", types.CategoryNeutral},
		{"Nonexistent number", types.CategoryNegative},
		{"Termin abgesagt", types.CategoryNegative},
		{"Termin storniert", types.CategoryNegative},
		{"Wiedervorlage", types.CategoryNeutral},
		{"Kein Termin", types.CategoryNeutral},
		{"Follow-up next week", types.CategoryNeutral},
		{"Mailbox", types.CategoryNeutral},
		{"", types.CategoryNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.label))
		})
	}
}

func TestKeywordClassifierCustomLists(t *testing.T) {
	c := NewKeywordClassifier([]string{"won"}, []string{"lost"}, []string{"pending"})

	assert.Equal(t, types.CategoryPositive, c.Classify("Deal WON"))
	assert.Equal(t, types.CategoryNegative, c.Classify("lost to competitor"))
	assert.Equal(t, types.CategoryNeutral, c.Classify("won, pending signature"))
	assert.Equal(t, types.CategoryNeutral, c.Classify("Termin"))
}

func TestTableClassifier(t *testing.T) {
	table := map[string]types.Category{
		"Termin":   types.CategoryNegative,
		" Absage ": types.CategoryPositive,
	}
	c := NewTableClassifier(table, NewKeywordClassifier(nil, nil, nil))

	assert.Equal(t, types.CategoryNegative, c.Classify("termin"))
	assert.Equal(t, types.CategoryPositive, c.Classify("ABSAGE"))
	assert.Equal(t, types.CategoryNegative, c.Classify("Sekretariat"), "unknown labels use the fallback")

	bare := NewTableClassifier(table, nil)
	assert.Equal(t, types.CategoryNeutral, bare.Classify("Sekretariat"))
}

func TestClassifierFunc(t *testing.T) {
	var c Classifier = ClassifierFunc(func(string) types.Category { return types.CategoryPositive })
	assert.Equal(t, types.CategoryPositive, c.Classify("anything"))
}
