package analysis

// Token types emitted by the built-in stages.
const (
	TypeWord = "word"
	TypeGram = "gram"
)

// Token is a single emission of a TokenStream. Offsets are byte offsets into
// the original field text and form the half-open interval [Start, End).
type Token struct {
	Term   string
	Start  int
	End    int
	PosInc int
	Type   string
}

// Final carries the end-of-stream bookkeeping reported by End.
type Final struct {
	Offset int
	PosInc int
}

// TokenStream is a pull iterator over tokens.
//
// Callers drive a stream with Reset, then Next until it returns false, then End.
// A stream must be Reset before every pass; streams are not safe for concurrent use.
type TokenStream interface {
	Reset() error
	Next() (Token, bool)
	End() Final
}

// OffsetCorrector maps an offset in the text a tokenizer saw back to the
// original input. Character filters that rewrite text install one.
type OffsetCorrector func(offset int) int

func identityOffset(offset int) int { return offset }

// TokenSlice replays an already materialized token sequence.
type TokenSlice struct {
	tokens []Token
	final  Final
	next   int
}

// NewTokenSlice returns a stream over tokens. final is reported by End.
func NewTokenSlice(tokens []Token, final Final) *TokenSlice {
	return &TokenSlice{tokens: tokens, final: final}
}

func (s *TokenSlice) Reset() error {
	s.next = 0
	return nil
}

func (s *TokenSlice) Next() (Token, bool) {
	if s.next >= len(s.tokens) {
		return Token{}, false
	}
	tok := s.tokens[s.next]
	s.next++
	return tok, true
}

func (s *TokenSlice) End() Final {
	return s.final
}

// Drain runs a full reset/next/end pass over stream.
func Drain(stream TokenStream) ([]Token, Final, error) {
	if err := stream.Reset(); err != nil {
		return nil, Final{}, err
	}
	var tokens []Token
	for {
		tok, ok := stream.Next()
		if !ok {
			break
		}
		tokens = append(tokens, tok)
	}
	return tokens, stream.End(), nil
}

// runeBounds returns the byte index of every rune start in term followed by
// len(term), so the bytes of runes [i, j) are term[b[i]:b[j]].
func runeBounds(term string) []int {
	bounds := make([]int, 0, len(term)+1)
	for i := range term {
		bounds = append(bounds, i)
	}
	return append(bounds, len(term))
}

// sourceToken is the captured state of one upstream token being expanded.
type sourceToken struct {
	tok    Token
	bounds []int
}

func captureToken(tok Token) sourceToken {
	return sourceToken{tok: tok, bounds: runeBounds(tok.Term)}
}

func (s sourceToken) runeCount() int {
	return len(s.bounds) - 1
}

// gram returns the runes [from, from+size) of the source term as a token whose
// offsets are clipped to the source token's span. It reports false when the
// clipped span is empty, which happens when a rewritten term is longer than
// the text it came from.
func (s sourceToken) gram(from, size int) (Token, bool) {
	lo, hi := s.bounds[from], s.bounds[from+size]
	start := s.tok.Start + lo
	end := s.tok.Start + hi
	if end > s.tok.End {
		end = s.tok.End
	}
	if start >= end {
		return Token{}, false
	}
	return Token{
		Term:  s.tok.Term[lo:hi],
		Start: start,
		End:   end,
		Type:  TypeGram,
	}, true
}
