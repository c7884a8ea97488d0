package corpus

import (
	"math"
	"strings"
	"unicode"

	prose "github.com/jdkato/prose/v2"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "do": true, "for": true, "from": true, "how": true,
	"i": true, "in": true, "is": true, "it": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "to": true, "was": true, "what": true,
	"when": true, "where": true, "which": true, "with": true,
}

// ExtractTerms builds the lexical index for a text: lowercased token term
// frequencies with stopwords and punctuation removed.
func ExtractTerms(text string) map[string]int {
	terms := make(map[string]int)

	doc, err := prose.NewDocument(text,
		prose.WithExtraction(false),
		prose.WithTagging(false),
	)
	if err != nil {
		// Tokenizer failure degrades to whitespace splitting.
		for _, tok := range strings.Fields(text) {
			addTerm(terms, tok)
		}
		return terms
	}

	for _, tok := range doc.Tokens() {
		addTerm(terms, tok.Text)
	}

	return terms
}

func addTerm(terms map[string]int, raw string) {
	term := strings.ToLower(strings.TrimFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
	if len(term) < 2 || stopwords[term] {
		return
	}
	terms[term]++
}

// lexicalScore is the fraction of distinct query terms present in the chunk,
// which keeps the lexical component in [0, 1] regardless of chunk length.
func lexicalScore(queryTerms, chunkTerms map[string]int) float64 {
	if len(queryTerms) == 0 {
		return 0
	}

	matched := 0
	for term := range queryTerms {
		if chunkTerms[term] > 0 {
			matched++
		}
	}

	return float64(matched) / float64(len(queryTerms))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
