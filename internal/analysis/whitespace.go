package analysis

import (
	"io"
	"unicode"
	"unicode/utf8"
)

// WhitespaceTokenizer splits its input on Unicode whitespace.
type WhitespaceTokenizer struct {
	in  wholeInput
	pos int
}

// DefaultMaxFieldChars is the read cap of WhitespaceTokenizer.
const DefaultMaxFieldChars = 1 << 20

// NewWhitespaceTokenizer returns a tokenizer; the read cap and offset hook
// options apply as for the n-gram tokenizers.
func NewWhitespaceTokenizer(opts ...TokenizerOption) *WhitespaceTokenizer {
	opts = append([]TokenizerOption{WithMaxInputChars(DefaultMaxFieldChars)}, opts...)
	return &WhitespaceTokenizer{in: newWholeInput(opts)}
}

func (t *WhitespaceTokenizer) SetInput(r io.Reader) {
	t.in.input = r
}

// Truncated reports whether the last loaded input exceeded the read cap.
func (t *WhitespaceTokenizer) Truncated() bool {
	return t.in.truncated
}

func (t *WhitespaceTokenizer) Reset() error {
	t.pos = 0
	return t.in.load()
}

func (t *WhitespaceTokenizer) Next() (Token, bool) {
	text := t.in.text
	for t.pos < len(text) {
		r, size := utf8.DecodeRuneInString(text[t.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		t.pos += size
	}
	if t.pos >= len(text) {
		return Token{}, false
	}

	start := t.pos
	for t.pos < len(text) {
		r, size := utf8.DecodeRuneInString(text[t.pos:])
		if unicode.IsSpace(r) {
			break
		}
		t.pos += size
	}

	return Token{
		Term:   text[start:t.pos],
		Start:  t.in.opts.correct(t.in.base + start),
		End:    t.in.opts.correct(t.in.base + t.pos),
		PosInc: 1,
		Type:   TypeWord,
	}, true
}

func (t *WhitespaceTokenizer) End() Final {
	return t.in.final()
}
