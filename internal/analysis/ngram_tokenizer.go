package analysis

import "io"

// NGramTokenizer emits every window of the whole input, all windows of one
// size before the next size: "ab" with [1, 2] yields "a", "b", "ab".
type NGramTokenizer struct {
	grams GramRange
	in    wholeInput

	gramSize int
	pos      int
}

// NewNGramTokenizer validates the range and returns a tokenizer.
func NewNGramTokenizer(minGram, maxGram int, opts ...TokenizerOption) (*NGramTokenizer, error) {
	grams, err := NewGramRange(minGram, maxGram)
	if err != nil {
		return nil, err
	}
	return &NGramTokenizer{grams: grams, in: newWholeInput(opts), gramSize: minGram}, nil
}

func (t *NGramTokenizer) SetInput(r io.Reader) {
	t.in.input = r
}

// Truncated reports whether the last loaded input exceeded the read cap.
func (t *NGramTokenizer) Truncated() bool {
	return t.in.truncated
}

func (t *NGramTokenizer) Reset() error {
	t.gramSize = t.grams.Min
	t.pos = 0
	return t.in.load()
}

func (t *NGramTokenizer) Next() (Token, bool) {
	length := t.in.runeCount()
	if t.pos+t.gramSize > length {
		t.pos = 0
		t.gramSize++
	}
	// Only the first window at a size can fail to fit once pos is back at 0.
	if t.gramSize > t.grams.Max || t.gramSize > length {
		return Token{}, false
	}

	tok := t.in.token(t.pos, t.pos+t.gramSize)
	t.pos++
	return tok, true
}

func (t *NGramTokenizer) End() Final {
	return t.in.final()
}
