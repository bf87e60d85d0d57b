package analysis

// NGramFilter expands every upstream token into all of its grams of
// [minGram, maxGram] runes, ordered by start rune and then by size:
// "abc" with [1, 2] yields "a", "ab", "b", "bc", "c". All grams of one
// token share a position.
//
// Tokens shorter than minGram always pass through unchanged. With
// preserveOriginal, tokens longer than maxGram are also emitted whole after
// their grams, once per start offset.
type NGramFilter struct {
	input            TokenStream
	grams            GramRange
	preserveOriginal bool

	state         passState
	cur           sourceToken
	pos           int
	gramSize      int
	posInc        int
	lastWholeFrom int
}

// NewNGramFilter validates the range and wraps input.
func NewNGramFilter(input TokenStream, minGram, maxGram int, preserveOriginal bool) (*NGramFilter, error) {
	grams, err := NewGramRange(minGram, maxGram)
	if err != nil {
		return nil, err
	}
	return &NGramFilter{input: input, grams: grams, preserveOriginal: preserveOriginal, lastWholeFrom: -1}, nil
}

func (f *NGramFilter) Reset() error {
	f.state = stateIdle
	f.cur = sourceToken{}
	f.pos = 0
	f.gramSize = 0
	f.posInc = 0
	f.lastWholeFrom = -1
	return f.input.Reset()
}

func (f *NGramFilter) Next() (Token, bool) {
	for {
		switch f.state {
		case stateIdle:
			tok, ok := f.input.Next()
			if !ok {
				f.state = stateExhausted
				return Token{}, false
			}
			f.cur = captureToken(tok)
			f.posInc += tok.PosInc

			if f.cur.runeCount() < f.grams.Min {
				out := f.cur.tok
				out.PosInc = f.takePosInc()
				return out, true
			}
			f.pos = 0
			f.gramSize = f.grams.Min
			f.state = stateGrams

		case stateGrams:
			n := f.cur.runeCount()
			if f.gramSize > f.grams.Max || f.pos+f.gramSize > n {
				f.pos++
				f.gramSize = f.grams.Min
			}
			if f.pos+f.gramSize <= n {
				out, ok := f.cur.gram(f.pos, f.gramSize)
				f.gramSize++
				if !ok {
					continue
				}
				out.PosInc = f.takePosInc()
				return out, true
			}
			if f.preserveOriginal && n > f.grams.Max && f.lastWholeFrom != f.cur.tok.Start {
				f.state = stateOriginal
				continue
			}
			f.state = stateIdle

		case stateOriginal:
			f.state = stateIdle
			f.lastWholeFrom = f.cur.tok.Start
			out := f.cur.tok
			out.PosInc = 0
			return out, true

		default:
			return Token{}, false
		}
	}
}

// End forwards the upstream bookkeeping plus any increment still pending.
func (f *NGramFilter) End() Final {
	final := f.input.End()
	final.PosInc += f.posInc
	return final
}

func (f *NGramFilter) takePosInc() int {
	inc := f.posInc
	f.posInc = 0
	return inc
}
