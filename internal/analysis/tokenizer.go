package analysis

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxInputChars is the number of runes whole-input tokenizers read
// before truncating.
const DefaultMaxInputChars = 1024

// Tokenizer is a TokenStream that reads its text from an io.Reader. SetInput
// installs the reader for the next pass; Reset consumes it.
type Tokenizer interface {
	TokenStream
	SetInput(r io.Reader)
}

// TokenizerOption customizes whole-input tokenizers.
type TokenizerOption func(*tokenizerOptions)

type tokenizerOptions struct {
	maxChars int
	correct  OffsetCorrector
}

// WithMaxInputChars caps the number of runes read per pass. Runes past the
// cap are dropped and Truncated reports true. Values < 1 are ignored.
func WithMaxInputChars(n int) TokenizerOption {
	return func(o *tokenizerOptions) {
		if n > 0 {
			o.maxChars = n
		}
	}
}

// WithOffsetCorrector installs a hook applied to every emitted offset.
func WithOffsetCorrector(fn OffsetCorrector) TokenizerOption {
	return func(o *tokenizerOptions) {
		if fn != nil {
			o.correct = fn
		}
	}
}

func buildTokenizerOptions(opts []TokenizerOption) tokenizerOptions {
	o := tokenizerOptions{maxChars: DefaultMaxInputChars, correct: identityOffset}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// wholeInput holds the trimmed text of one pass over a whole-input tokenizer.
type wholeInput struct {
	opts  tokenizerOptions
	input io.Reader

	text      string
	bounds    []int
	base      int
	truncated bool
}

func newWholeInput(opts []TokenizerOption) wholeInput {
	return wholeInput{opts: buildTokenizerOptions(opts), bounds: []int{0}}
}

// load consumes the pending reader. Without a new reader the previously
// loaded text is kept, so Reset replays the same pass.
func (w *wholeInput) load() error {
	if w.input == nil {
		return nil
	}

	raw, truncated, err := readRunes(w.input, w.opts.maxChars)
	w.input = nil
	if err != nil {
		w.text, w.bounds, w.base, w.truncated = "", []int{0}, 0, false
		return err
	}

	trimmed := strings.TrimLeftFunc(raw, unicode.IsSpace)
	w.base = len(raw) - len(trimmed)
	w.text = strings.TrimRightFunc(trimmed, unicode.IsSpace)
	w.bounds = runeBounds(w.text)
	w.truncated = truncated
	return nil
}

func (w *wholeInput) runeCount() int {
	return len(w.bounds) - 1
}

func (w *wholeInput) token(from, to int) Token {
	lo, hi := w.bounds[from], w.bounds[to]
	return Token{
		Term:   w.text[lo:hi],
		Start:  w.opts.correct(w.base + lo),
		End:    w.opts.correct(w.base + hi),
		PosInc: 1,
		Type:   TypeGram,
	}
}

func (w *wholeInput) final() Final {
	return Final{Offset: w.opts.correct(w.base + len(w.text))}
}

// readRunes reads at most limit runes from r, keeping invalid bytes as they
// are so byte offsets stay aligned with the input.
func readRunes(r io.Reader, limit int) (string, bool, error) {
	br := bufio.NewReader(r)
	var sb strings.Builder
	for n := 0; n < limit; n++ {
		ch, size, err := br.ReadRune()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return sb.String(), false, nil
			}
			return "", false, fmt.Errorf("read tokenizer input: %w", err)
		}
		if ch == utf8.RuneError && size == 1 {
			if err := br.UnreadRune(); err != nil {
				return "", false, fmt.Errorf("read tokenizer input: %w", err)
			}
			b, err := br.ReadByte()
			if err != nil {
				return "", false, fmt.Errorf("read tokenizer input: %w", err)
			}
			sb.WriteByte(b)
			continue
		}
		sb.WriteRune(ch)
	}

	if _, err := br.Peek(1); err == nil {
		return sb.String(), true, nil
	}
	return sb.String(), false, nil
}
