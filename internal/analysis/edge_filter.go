package analysis

// passState is the position of a per-token filter within the expansion of
// one upstream token.
type passState int

const (
	stateIdle passState = iota
	stateGrams
	stateOriginal
	stateExhausted
)

// EdgeNGramFilter expands every upstream token into its prefixes of
// [minGram, maxGram] runes. All prefixes of one token share a position.
//
// With preserveOriginal, tokens shorter than minGram pass through unchanged
// and tokens longer than maxGram are additionally emitted whole after their
// prefixes. Without it, tokens shorter than minGram are dropped and their
// position increment moves to the next emission.
type EdgeNGramFilter struct {
	input            TokenStream
	grams            GramRange
	preserveOriginal bool

	state    passState
	cur      sourceToken
	gramSize int
	posInc   int
}

// NewEdgeNGramFilter validates the range and wraps input.
func NewEdgeNGramFilter(input TokenStream, minGram, maxGram int, preserveOriginal bool) (*EdgeNGramFilter, error) {
	grams, err := NewGramRange(minGram, maxGram)
	if err != nil {
		return nil, err
	}
	return &EdgeNGramFilter{input: input, grams: grams, preserveOriginal: preserveOriginal}, nil
}

func (f *EdgeNGramFilter) Reset() error {
	f.state = stateIdle
	f.cur = sourceToken{}
	f.gramSize = 0
	f.posInc = 0
	return f.input.Reset()
}

func (f *EdgeNGramFilter) Next() (Token, bool) {
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

			if f.preserveOriginal && f.cur.runeCount() < f.grams.Min {
				out := f.cur.tok
				out.PosInc = f.takePosInc()
				return out, true
			}
			f.gramSize = f.grams.Min
			f.state = stateGrams

		case stateGrams:
			if f.gramSize <= f.cur.runeCount() && f.gramSize <= f.grams.Max {
				out, ok := f.cur.gram(0, f.gramSize)
				f.gramSize++
				if !ok {
					continue
				}
				out.PosInc = f.takePosInc()
				return out, true
			}
			if f.preserveOriginal && f.cur.runeCount() > f.grams.Max {
				f.state = stateOriginal
				continue
			}
			f.state = stateIdle

		case stateOriginal:
			f.state = stateIdle
			out := f.cur.tok
			out.PosInc = 0
			return out, true

		default:
			return Token{}, false
		}
	}
}

// End forwards the upstream bookkeeping. Unlike a plain pass-through, it adds
// the increments of trailing tokens that produced no output (tokens shorter
// than minGram without preserveOriginal), so the total position count is
// preserved. With no dropped trailing tokens the result equals the upstream's.
func (f *EdgeNGramFilter) End() Final {
	final := f.input.End()
	final.PosInc += f.posInc
	return final
}

func (f *EdgeNGramFilter) takePosInc() int {
	inc := f.posInc
	f.posInc = 0
	return inc
}
