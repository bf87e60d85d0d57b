package analysis

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func word(term string, start, posInc int) Token {
	return Token{Term: term, Start: start, End: start + len(term), PosInc: posInc, Type: TypeWord}
}

func upstream(tokens ...Token) *TokenSlice {
	final := Final{}
	if n := len(tokens); n > 0 {
		final.Offset = tokens[n-1].End
	}
	return NewTokenSlice(tokens, final)
}

func drainStream(t *testing.T, stream TokenStream) ([]Token, Final) {
	t.Helper()
	tokens, final, err := Drain(stream)
	require.NoError(t, err)
	return tokens, final
}

func posIncs(tokens []Token) []int {
	out := make([]int, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.PosInc
	}
	return out
}

func TestEdgeNGramFilterPrefixes(t *testing.T) {
	f, err := NewEdgeNGramFilter(upstream(word("cat", 0, 1)), 1, 2, false)
	require.NoError(t, err)

	tokens, _ := drainStream(t, f)
	require.Equal(t, []span{{"c", 0, 1}, {"ca", 0, 2}}, spans(tokens))
	require.Equal(t, []int{1, 0}, posIncs(tokens))
}

func TestEdgeNGramFilterPreserveOriginal(t *testing.T) {
	f, err := NewEdgeNGramFilter(upstream(word("cat", 0, 1)), 1, 2, true)
	require.NoError(t, err)

	tokens, _ := drainStream(t, f)
	require.Equal(t, []span{{"c", 0, 1}, {"ca", 0, 2}, {"cat", 0, 3}}, spans(tokens))
	require.Equal(t, []int{1, 0, 0}, posIncs(tokens))
	require.Equal(t, TypeWord, tokens[2].Type)
}

func TestEdgeNGramFilterShortTokens(t *testing.T) {
	t.Run("preserved", func(t *testing.T) {
		f, err := NewEdgeNGramFilter(upstream(word("a", 0, 1)), 2, 3, true)
		require.NoError(t, err)

		tokens, _ := drainStream(t, f)
		require.Equal(t, []span{{"a", 0, 1}}, spans(tokens))
		require.Equal(t, []int{1}, posIncs(tokens))
	})

	t.Run("dropped increment carries forward", func(t *testing.T) {
		f, err := NewEdgeNGramFilter(upstream(word("a", 0, 1), word("bc", 2, 1)), 2, 3, false)
		require.NoError(t, err)

		tokens, final := drainStream(t, f)
		require.Equal(t, []span{{"bc", 2, 4}}, spans(tokens))
		require.Equal(t, []int{2}, posIncs(tokens))
		require.Equal(t, 0, final.PosInc)
	})

	t.Run("trailing drop reported by end", func(t *testing.T) {
		f, err := NewEdgeNGramFilter(upstream(word("bc", 0, 1), word("a", 3, 1)), 2, 3, false)
		require.NoError(t, err)

		tokens, final := drainStream(t, f)
		require.Equal(t, []string{"bc"}, terms(tokens))
		require.Equal(t, 1, final.PosInc)
		require.Equal(t, 4, final.Offset)
	})
}

func TestEdgeNGramFilterMultibyte(t *testing.T) {
	f, err := NewEdgeNGramFilter(upstream(word("héllo", 4, 1)), 1, 2, false)
	require.NoError(t, err)

	tokens, _ := drainStream(t, f)
	require.Equal(t, []span{{"h", 4, 5}, {"hé", 4, 7}}, spans(tokens))
}

func TestEdgeNGramFilterClipsOffsets(t *testing.T) {
	// A rewritten term can be longer than the span it came from.
	src := Token{Term: "abcd", Start: 0, End: 2, PosInc: 1, Type: TypeWord}
	f, err := NewEdgeNGramFilter(upstream(src), 1, 4, false)
	require.NoError(t, err)

	tokens, _ := drainStream(t, f)
	require.Equal(t, []span{{"a", 0, 1}, {"ab", 0, 2}, {"abc", 0, 2}, {"abcd", 0, 2}}, spans(tokens))
}

func TestNGramFilterSkipsEmptySpans(t *testing.T) {
	// Only the first rune of the rewritten term still maps onto source text.
	src := Token{Term: "abc", Start: 0, End: 1, PosInc: 1, Type: TypeWord}
	f, err := NewNGramFilter(upstream(src, word("x", 2, 1)), 1, 1, false)
	require.NoError(t, err)

	tokens, _ := drainStream(t, f)
	require.Equal(t, []span{{"a", 0, 1}, {"x", 2, 3}}, spans(tokens))
	require.Equal(t, []int{1, 1}, posIncs(tokens))
}

func TestEdgeNGramFilterEndAddsDroppedIncrements(t *testing.T) {
	in := upstream(word("abc", 0, 1), word("ab", 4, 1))
	f, err := NewEdgeNGramFilter(in, 3, 3, false)
	require.NoError(t, err)

	tokens, final := drainStream(t, f)
	require.Equal(t, []string{"abc"}, terms(tokens))
	require.Equal(t, 0, in.End().PosInc)
	require.Equal(t, 1, final.PosInc)
	require.Equal(t, 6, final.Offset)
}

func TestNGramFilterOrder(t *testing.T) {
	f, err := NewNGramFilter(upstream(word("abc", 0, 1)), 1, 2, false)
	require.NoError(t, err)

	tokens, _ := drainStream(t, f)
	require.Equal(t, []span{{"a", 0, 1}, {"ab", 0, 2}, {"b", 1, 2}, {"bc", 1, 3}, {"c", 2, 3}}, spans(tokens))
	require.Equal(t, []int{1, 0, 0, 0, 0}, posIncs(tokens))
}

func TestNGramFilterShortTokensAlwaysPass(t *testing.T) {
	for _, preserve := range []bool{false, true} {
		f, err := NewNGramFilter(upstream(word("a", 0, 1), word("xyz", 2, 1)), 2, 3, preserve)
		require.NoError(t, err)

		tokens, _ := drainStream(t, f)
		require.Equal(t, []string{"a", "xy", "xyz", "yz"}, terms(tokens))
		require.Equal(t, []int{1, 1, 0, 0}, posIncs(tokens))
		require.Equal(t, TypeWord, tokens[0].Type)
	}
}

func TestNGramFilterSubstringCount(t *testing.T) {
	const text = "abcdef"
	n := utf8.RuneCountInString(text)
	f, err := NewNGramFilter(upstream(word(text, 0, 1)), 1, n, false)
	require.NoError(t, err)

	tokens, _ := drainStream(t, f)
	require.Len(t, tokens, n*(n+1)/2)
	for _, tok := range tokens {
		require.Contains(t, text, tok.Term)
		require.Equal(t, tok.Term, text[tok.Start:tok.End])
	}
}

func TestNGramFilterPreserveOriginal(t *testing.T) {
	f, err := NewNGramFilter(upstream(word("abcd", 0, 1)), 1, 2, true)
	require.NoError(t, err)

	tokens, _ := drainStream(t, f)
	require.Len(t, tokens, 8)
	last := tokens[len(tokens)-1]
	require.Equal(t, span{"abcd", 0, 4}, span{last.Term, last.Start, last.End})
	require.Equal(t, 0, last.PosInc)
}

func TestNGramFilterWholeTokenOncePerStart(t *testing.T) {
	stacked := Token{Term: "wxyz", Start: 0, End: 4, PosInc: 0, Type: TypeWord}
	f, err := NewNGramFilter(upstream(word("abcd", 0, 1), stacked), 1, 2, true)
	require.NoError(t, err)

	tokens, _ := drainStream(t, f)
	require.Len(t, tokens, 15)
	var whole []string
	for _, tok := range tokens {
		if len(tok.Term) == 4 {
			whole = append(whole, tok.Term)
		}
	}
	require.Equal(t, []string{"abcd"}, whole)
}

func TestFilterResetIsIdempotent(t *testing.T) {
	src := upstream(word("hello", 0, 1), word("a", 6, 1), word("world", 8, 1))
	edge, err := NewEdgeNGramFilter(src, 2, 3, true)
	require.NoError(t, err)

	first, firstFinal := drainStream(t, edge)
	second, secondFinal := drainStream(t, edge)
	require.Equal(t, first, second)
	require.Equal(t, firstFinal, secondFinal)

	full, err := NewNGramFilter(src, 2, 3, true)
	require.NoError(t, err)
	first, _ = drainStream(t, full)
	second, _ = drainStream(t, full)
	require.Equal(t, first, second)
}

func TestLowercaseFilter(t *testing.T) {
	tokens, _ := drainStream(t, NewLowercaseFilter(upstream(word("ÀBC", 0, 1), word("Straße", 5, 1))))
	require.Equal(t, []string{"àbc", "straße"}, terms(tokens))

	tokens, _ = drainStream(t, NewLowercaseFilter(upstream(word("İSTANBUL", 0, 1), word("a\xffB", 10, 1))))
	require.Equal(t, []string{"istanbul", "a\xffb"}, terms(tokens))
	require.Equal(t, utf8.RuneCountInString("İSTANBUL"), utf8.RuneCountInString(tokens[0].Term))
}

func TestStopFilterCarriesIncrements(t *testing.T) {
	stop := stopSet{"the": {}, "a": {}}
	f := NewStopFilter(upstream(word("the", 0, 1), word("cat", 4, 1), word("a", 8, 1)), stop)

	tokens, final := drainStream(t, f)
	require.Equal(t, []string{"cat"}, terms(tokens))
	require.Equal(t, []int{2}, posIncs(tokens))
	require.Equal(t, 1, final.PosInc)
}

func TestConvertFilterKeepBoth(t *testing.T) {
	conv := converterFunc(func(term string) string {
		if term == "書" {
			return "书"
		}
		return term
	})

	tokens, _ := drainStream(t, NewConvertFilter(upstream(word("書", 0, 1), word("x", 4, 1)), conv, true))
	require.Equal(t, []string{"书", "書", "x"}, terms(tokens))
	require.Equal(t, []int{1, 0, 1}, posIncs(tokens))
	require.Equal(t, tokens[0].Start, tokens[1].Start)

	tokens, _ = drainStream(t, NewConvertFilter(upstream(word("書", 0, 1)), conv, false))
	require.Equal(t, []string{"书"}, terms(tokens))
}

type stopSet map[string]struct{}

func (s stopSet) Contains(term string) bool {
	_, ok := s[term]
	return ok
}

type converterFunc func(string) string

func (f converterFunc) Convert(term string) string { return f(term) }
