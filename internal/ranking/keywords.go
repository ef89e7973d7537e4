package ranking

import (
	"strings"
	"unicode"

	prose "github.com/jdkato/prose/v2"
)

// stopwords excluded from term matching; everything else in a job
// description or artifact text is treated as a potential skill term.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"built": {}, "by": {}, "for": {}, "from": {}, "had": {}, "has": {},
	"have": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {},
	"our": {}, "that": {}, "the": {}, "their": {}, "this": {}, "to": {},
	"was": {}, "we": {}, "were": {}, "with": {}, "you": {},
	"your": {}, "will": {}, "using": {}, "used": {}, "use": {},
	"experience": {}, "developer": {}, "engineer": {}, "work": {},
	"working": {}, "years": {}, "strong": {}, "team": {},
}

// significantTerms tokenizes text and returns the lowercased set of
// non-stopword terms. Tokenization falls back to whitespace splitting when
// the NLP pipeline cannot process the input.
func significantTerms(text string) map[string]struct{} {
	terms := make(map[string]struct{})

	doc, err := prose.NewDocument(text,
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
		prose.WithTagging(false),
	)
	if err != nil {
		for _, field := range strings.Fields(text) {
			addTerm(terms, field)
		}
		return terms
	}

	for _, token := range doc.Tokens() {
		addTerm(terms, token.Text)
	}

	return terms
}

func addTerm(terms map[string]struct{}, raw string) {
	term := strings.ToLower(strings.TrimFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))

	if len(term) < 2 {
		return
	}
	if _, ok := stopwords[term]; ok {
		return
	}

	// Light plural folding so "APIs" matches "API".
	if len(term) > 3 && strings.HasSuffix(term, "s") && !strings.HasSuffix(term, "ss") {
		term = strings.TrimSuffix(term, "s")
	}

	terms[term] = struct{}{}
}
