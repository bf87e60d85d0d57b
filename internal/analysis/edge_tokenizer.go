package analysis

import "io"

// EdgeNGramTokenizer emits grams anchored to one end of the whole input:
// with the front side "hello" yields "he", "hel", "hell" for the range [2, 4].
type EdgeNGramTokenizer struct {
	grams GramRange
	side  Side
	in    wholeInput

	gramSize int
}

// NewEdgeNGramTokenizer validates the range and returns a tokenizer.
func NewEdgeNGramTokenizer(side Side, minGram, maxGram int, opts ...TokenizerOption) (*EdgeNGramTokenizer, error) {
	grams, err := NewGramRange(minGram, maxGram)
	if err != nil {
		return nil, err
	}
	if side != SideFront && side != SideBack {
		return nil, configErrorf("unknown side %d", side)
	}
	return &EdgeNGramTokenizer{grams: grams, side: side, in: newWholeInput(opts), gramSize: minGram}, nil
}

func (t *EdgeNGramTokenizer) SetInput(r io.Reader) {
	t.in.input = r
}

// Truncated reports whether the last loaded input exceeded the read cap.
func (t *EdgeNGramTokenizer) Truncated() bool {
	return t.in.truncated
}

func (t *EdgeNGramTokenizer) Reset() error {
	t.gramSize = t.grams.Min
	return t.in.load()
}

func (t *EdgeNGramTokenizer) Next() (Token, bool) {
	length := t.in.runeCount()
	if t.gramSize > length || t.gramSize > t.grams.Max {
		return Token{}, false
	}

	start := 0
	if t.side == SideBack {
		start = length - t.gramSize
	}
	tok := t.in.token(start, start+t.gramSize)
	t.gramSize++
	return tok, true
}

func (t *EdgeNGramTokenizer) End() Final {
	return t.in.final()
}
