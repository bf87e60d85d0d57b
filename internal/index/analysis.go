package index

import (
	"fmt"
	"unicode/utf8"

	"gramsearch/internal/analysis"
)

// Token represents a single normalized token with its position and byte span in the field text.
type Token struct {
	Term     string
	Position int
	Start    int
	End      int
}

// Tokenizer exposes the minimal interface required by the in-memory indexer.
type Tokenizer interface {
	Tokenize(text string) []Token
}

// Analyzer adapts an analysis pipeline to the indexer and derives the query-side view of it.
type Analyzer struct {
	analyzer *analysis.Analyzer
	settings analysis.Settings
}

// NewAnalyzer wraps a configured analyzer.
func NewAnalyzer(a *analysis.Analyzer) *Analyzer {
	return &Analyzer{analyzer: a, settings: a.Settings()}
}

// TokenizerFor resolves the analyzer an index definition refers to. Inline settings win over the
// analyzer name.
func TokenizerFor(analyzers *analysis.Registry, def Definition) (*Analyzer, error) {
	if def.AnalyzerSettings != nil {
		a, err := analyzers.Build(def.Name, *def.AnalyzerSettings)
		if err != nil {
			return nil, err
		}
		return NewAnalyzer(a), nil
	}

	name := def.Analyzer
	if name == "" {
		name = defaultAnalyzer
	}
	a, err := analyzers.Get(name)
	if err != nil {
		return nil, fmt.Errorf("index '%s': %w", def.Name, err)
	}
	return NewAnalyzer(a), nil
}

// Name returns the analyzer name.
func (a *Analyzer) Name() string {
	return a.analyzer.Name()
}

// Settings returns the normalized analyzer settings.
func (a *Analyzer) Settings() analysis.Settings {
	return a.settings
}

// Tokenize runs the field pipeline and resolves increments into zero-based positions.
func (a *Analyzer) Tokenize(text string) []Token {
	res, err := a.analyzer.Analyze(text)
	if err != nil {
		return nil
	}
	return positioned(res.Tokens)
}

// QueryWords normalizes query text without producing grams.
func (a *Analyzer) QueryWords(text string) []string {
	tokens := a.queryTokens(text)
	words := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		words = append(words, tok.Term)
	}
	return words
}

// queryTokens is QueryWords with positions, which keep the gaps left by removed stopwords.
func (a *Analyzer) queryTokens(text string) []Token {
	res, err := a.analyzer.Normalize(text)
	if err != nil {
		return nil
	}
	return positioned(res.Tokens)
}

// WholeInput reports whether a field is grammed as one unit rather than per word.
func (a *Analyzer) WholeInput() bool {
	return a.settings.WholeInput()
}

// Expand returns the index terms that must all be present for word to match. Words within the
// gram range are looked up directly; longer words are cut with the same gram engine the field
// pipeline uses. An empty result means the pipeline would not index the word at all.
func (a *Analyzer) Expand(word string) []string {
	if word == "" {
		return nil
	}
	grams, ok := a.settings.Grams()
	if !ok {
		return []string{word}
	}

	n := utf8.RuneCountInString(word)
	anchored := a.settings.Anchored()
	switch {
	case n < grams.Min:
		if anchored && !a.settings.PreserveOriginal {
			return nil
		}
		return []string{word}
	case n <= grams.Max:
		return []string{word}
	}

	if anchored && a.settings.Side == analysis.SideBack.String() {
		// Back-anchored grams index suffixes.
		r := []rune(word)
		return []string{string(r[len(r)-grams.Max:])}
	}

	src := analysis.NewTokenSlice([]analysis.Token{{Term: word, End: len(word), PosInc: 1, Type: analysis.TypeWord}}, analysis.Final{Offset: len(word)})
	var stream analysis.TokenStream
	var err error
	if anchored {
		stream, err = analysis.NewEdgeNGramFilter(src, grams.Max, grams.Max, false)
	} else {
		stream, err = analysis.NewNGramFilter(src, grams.Max, grams.Max, false)
	}
	if err != nil {
		return nil
	}
	tokens, _, err := analysis.Drain(stream)
	if err != nil {
		return nil
	}

	return uniqueStrings(termsOf(tokens))
}

func positioned(tokens []analysis.Token) []Token {
	out := make([]Token, 0, len(tokens))
	pos := -1
	for _, tok := range tokens {
		pos += tok.PosInc
		if pos < 0 {
			pos = 0
		}
		out = append(out, Token{Term: tok.Term, Position: pos, Start: tok.Start, End: tok.End})
	}
	return out
}

func termsOf(tokens []analysis.Token) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Term
	}
	return out
}
