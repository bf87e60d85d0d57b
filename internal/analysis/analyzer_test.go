package analysis

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSettingsNormalize(t *testing.T) {
	cases := []struct {
		name    string
		in      Settings
		wantMin int
		wantMax int
	}{
		{name: "zero values", in: Settings{}, wantMin: 2, wantMax: 100},
		{name: "negative", in: Settings{MinGram: -3, MaxGram: -1}, wantMin: 2, wantMax: 100},
		{name: "oversized max", in: Settings{MinGram: 3, MaxGram: 256}, wantMin: 3, wantMax: 100},
		{name: "ceiling kept", in: Settings{MinGram: 1, MaxGram: 255}, wantMin: 1, wantMax: 255},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.in.Normalize()
			require.Equal(t, tc.wantMin, got.MinGram)
			require.Equal(t, tc.wantMax, got.MaxGram)
			require.Equal(t, TypeNGramAnalyzer, got.Type)
			require.Equal(t, "front", got.Side)
			require.Equal(t, "t2s", got.ConvertType)
		})
	}
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	cases := []struct {
		name     string
		settings Settings
	}{
		{name: "unknown type", settings: Settings{Type: "bogus"}},
		{name: "min above max", settings: Settings{MinGram: 5, MaxGram: 3}},
		{name: "min above clamped max", settings: Settings{MinGram: 150, MaxGram: 300}},
		{name: "bad side", settings: Settings{Type: TypeEdgeNGramTokenizer, Side: "middle"}},
		{name: "back side on filter", settings: Settings{Type: TypeEdgeNGramAnalyzer, Side: "back"}},
		{name: "bad convert type", settings: Settings{ConvertType: "x2y"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.name, tc.settings, Dependencies{})
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestAnalyzerNGram(t *testing.T) {
	a, err := New("grams", Settings{Type: TypeNGramAnalyzer, MinGram: 2, MaxGram: 3}, Dependencies{})
	require.NoError(t, err)

	res, err := a.Analyze("Abc d")
	require.NoError(t, err)
	require.Equal(t, []string{"ab", "abc", "bc", "d"}, terms(res.Tokens))
	require.Equal(t, []int{1, 0, 0, 1}, posIncs(res.Tokens))
	require.Equal(t, 5, res.Final.Offset)
	require.False(t, res.Truncated)
}

func TestAnalyzerEdgeNGramConverts(t *testing.T) {
	a, err := New("edge", Settings{Type: TypeEdgeNGramAnalyzer, MinGram: 1, MaxGram: 2}, Dependencies{})
	require.NoError(t, err)

	res, err := a.Analyze("說話")
	require.NoError(t, err)
	require.Equal(t, []span{{"说", 0, 3}, {"说话", 0, 6}}, spans(res.Tokens))
}

func TestAnalyzerConvertDisabled(t *testing.T) {
	a, err := New("raw", Settings{MinGram: 1, MaxGram: 1, ConvertType: ConvertTypeNone}, Dependencies{})
	require.NoError(t, err)

	res, err := a.Analyze("書")
	require.NoError(t, err)
	require.Equal(t, []string{"書"}, terms(res.Tokens))
}

func TestAnalyzerLowercaseKeepsRuneCount(t *testing.T) {
	a, err := New("dotted", Settings{Type: TypeNGramAnalyzer, MinGram: 1, MaxGram: 2, ConvertType: ConvertTypeNone}, Dependencies{})
	require.NoError(t, err)

	res, err := a.Analyze("İİ")
	require.NoError(t, err)
	require.Equal(t, []span{{"i", 0, 1}, {"ii", 0, 2}, {"i", 1, 2}}, spans(res.Tokens))
	for _, tok := range res.Tokens {
		require.Less(t, tok.Start, tok.End, "token %q", tok.Term)
		require.LessOrEqual(t, tok.End, len("İİ"))
	}
}

func TestAnalyzerWholeInputTruncates(t *testing.T) {
	a, err := New("prefix", Settings{Type: TypeEdgeNGramTokenizer, MinGram: 1, MaxGram: 10, MaxInputChars: 3}, Dependencies{})
	require.NoError(t, err)

	res, err := a.Analyze("ABCDEF")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "ab", "abc"}, terms(res.Tokens))
	require.True(t, res.Truncated)
}

func TestAnalyzerBackEdgeTokenizer(t *testing.T) {
	a, err := New("suffix", Settings{Type: TypeEdgeNGramTokenizer, MinGram: 2, MaxGram: 3, Side: "back"}, Dependencies{})
	require.NoError(t, err)

	res, err := a.Analyze("Hello")
	require.NoError(t, err)
	require.Equal(t, []string{"lo", "llo"}, terms(res.Tokens))
}

func TestAnalyzerStopwords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stop.txt")
	require.NoError(t, os.WriteFile(path, []byte("# common words\nthe\n\nA\n"), 0o644))

	a, err := New("standard-stop", Settings{Type: TypeStandard, StopwordDictPath: path, StopwordIgnoreCase: true}, Dependencies{})
	require.NoError(t, err)

	res, err := a.Analyze("The cat and a dog")
	require.NoError(t, err)
	require.Equal(t, []string{"cat", "and", "dog"}, terms(res.Tokens))
	require.Equal(t, []int{2, 1, 2}, posIncs(res.Tokens))
}

func TestAnalyzerMissingStopwordFile(t *testing.T) {
	_, err := New("broken", Settings{StopwordDictPath: filepath.Join(t.TempDir(), "missing.txt")}, Dependencies{})
	require.Error(t, err)
}

func TestAnalyzerNormalize(t *testing.T) {
	a, err := New("grams", Settings{MinGram: 2, MaxGram: 3}, Dependencies{})
	require.NoError(t, err)

	res, err := a.Normalize("Hello  書本")
	require.NoError(t, err)
	require.Equal(t, []span{{"hello", 0, 5}, {"书本", 7, 13}}, spans(res.Tokens))
}

func TestAnalyzerConcurrentUse(t *testing.T) {
	a, err := New("grams", Settings{MinGram: 1, MaxGram: 3}, Dependencies{})
	require.NoError(t, err)

	want, err := a.Analyze("concurrent analyzers share nothing")
	require.NoError(t, err)

	done := make(chan []Token, 8)
	for i := 0; i < 8; i++ {
		go func() {
			res, err := a.Analyze("concurrent analyzers share nothing")
			if err != nil {
				done <- nil
				return
			}
			done <- res.Tokens
		}()
	}
	for i := 0; i < 8; i++ {
		require.Equal(t, want.Tokens, <-done)
	}
}

func TestRegistryBuiltins(t *testing.T) {
	r, err := NewRegistry(Dependencies{})
	require.NoError(t, err)
	require.Equal(t, BuiltinTypes(), r.Names())

	a, err := r.Get(TypeStandard)
	require.NoError(t, err)
	res, err := a.Analyze("Hello WORLD")
	require.NoError(t, err)
	require.Equal(t, []string{"hello", "world"}, terms(res.Tokens))

	_, err = r.Get("missing")
	require.Error(t, err)
}

func TestRegistryRegister(t *testing.T) {
	r, err := NewRegistry(Dependencies{})
	require.NoError(t, err)

	_, err = r.Register("title", Settings{Type: TypeEdgeNGramAnalyzer, MinGram: 1, MaxGram: 5})
	require.NoError(t, err)
	require.Contains(t, r.Names(), "title")

	_, err = r.Register("title", Settings{})
	require.Error(t, err)

	_, err = r.Register("broken", Settings{MinGram: 4, MaxGram: 2})
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.NotContains(t, r.Names(), "broken")
}

func TestRegistryFilters(t *testing.T) {
	r, err := NewRegistry(Dependencies{})
	require.NoError(t, err)

	stream, err := r.Filter(FilterTSConvert, upstream(word("國語", 0, 1)), FilterSettings{})
	require.NoError(t, err)
	tokens, _ := drainStream(t, stream)
	require.Equal(t, []string{"国语"}, terms(tokens))

	stream, err = r.Filter(FilterTSConvert, upstream(word("国", 0, 1)), FilterSettings{ConvertType: "s2t"})
	require.NoError(t, err)
	tokens, _ = drainStream(t, stream)
	require.Equal(t, []string{"國"}, terms(tokens))

	path := filepath.Join(t.TempDir(), "stop.txt")
	require.NoError(t, os.WriteFile(path, []byte("of\n"), 0o644))
	stream, err = r.Filter(FilterStopword, upstream(word("end", 0, 1), word("of", 4, 1), word("days", 7, 1)), FilterSettings{StopwordDictPath: path})
	require.NoError(t, err)
	tokens, _ = drainStream(t, stream)
	require.Equal(t, []string{"end", "days"}, terms(tokens))

	_, err = r.Filter(FilterStopword, upstream(), FilterSettings{})
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = r.Filter("unknown-filter", upstream(), FilterSettings{})
	require.Error(t, err)
}

func TestDisplay(t *testing.T) {
	tok, err := NewEdgeNGramTokenizer(SideFront, 1, 2)
	require.NoError(t, err)
	tok.SetInput(strings.NewReader("abc"))

	var buf bytes.Buffer
	require.NoError(t, Display(&buf, tok))
	require.Equal(t, "1:[a]:(0-->1):gram\n2:[ab]:(0-->2):gram\nend:(3):+0\n", buf.String())
}

func TestDisplayStackedPositions(t *testing.T) {
	f, err := NewEdgeNGramFilter(upstream(word("ab", 0, 1), word("cd", 3, 1)), 1, 2, false)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Display(&buf, f))
	require.Equal(t, strings.Join([]string{
		"1:[a]:(0-->1):gram",
		"1:[ab]:(0-->2):gram",
		"2:[c]:(3-->4):gram",
		"2:[cd]:(3-->5):gram",
		"end:(5):+0",
		"",
	}, "\n"), buf.String())
}
