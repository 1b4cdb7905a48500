package embeddings

import (
	"math"
	"strings"
	"unicode"
)

// stopwords excluded from the sparse representation. Matching the lexical
// half of the index on function words only adds noise.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {},
	"the": {}, "this": {}, "to": {}, "was": {}, "were": {}, "will": {},
	"with": {}, "you": {}, "your": {},
}

// Tokenize splits text into lowercase alphanumeric terms, dropping
// stopwords and single-character fragments. It is the shared tokenizer for
// the sparse pipeline; changing it changes the sparse model version.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		out = append(out, f)
	}
	return out
}

// SparseWeights computes the sparse term-weight map for text: sublinear
// term frequency, 1 + ln(tf). Document frequency is corpus state and
// therefore lives in the index, not here; this function stays a pure
// function of its input so rebuilds are idempotent.
func SparseWeights(text string) map[string]float64 {
	terms := Tokenize(text)
	if len(terms) == 0 {
		return nil
	}

	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}

	weights := make(map[string]float64, len(tf))
	for t, n := range tf {
		weights[t] = 1 + math.Log(float64(n))
	}
	return weights
}
