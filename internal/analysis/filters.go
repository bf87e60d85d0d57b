package analysis

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// LowercaseFilter lowercases every term one rune at a time. A rune whose
// Unicode lowercase form spans several runes (İ becomes i + U+0307) falls
// back to its simple mapping, so the rune count of a term never changes.
type LowercaseFilter struct {
	input TokenStream
	caser cases.Caser
}

// NewLowercaseFilter wraps input. Each filter owns its caser, which is not
// safe to share between goroutines.
func NewLowercaseFilter(input TokenStream) *LowercaseFilter {
	return &LowercaseFilter{input: input, caser: cases.Lower(language.Und)}
}

func (f *LowercaseFilter) Reset() error {
	f.caser.Reset()
	return f.input.Reset()
}

func (f *LowercaseFilter) Next() (Token, bool) {
	tok, ok := f.input.Next()
	if !ok {
		return Token{}, false
	}
	tok.Term = f.lower(tok.Term)
	return tok, true
}

func (f *LowercaseFilter) lower(term string) string {
	var b strings.Builder
	b.Grow(len(term))
	for i := 0; i < len(term); {
		r, size := utf8.DecodeRuneInString(term[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			b.WriteByte(term[i])
		case r < utf8.RuneSelf:
			b.WriteRune(unicode.ToLower(r))
		default:
			folded := f.caser.String(term[i : i+size])
			if utf8.RuneCountInString(folded) != 1 {
				folded = string(unicode.ToLower(r))
			}
			b.WriteString(folded)
		}
		i += size
	}
	return b.String()
}

func (f *LowercaseFilter) End() Final {
	return f.input.End()
}

// StopSet answers stopword membership. Implementations must be safe for
// concurrent reads.
type StopSet interface {
	Contains(term string) bool
}

// StopFilter drops tokens whose term is in the stop set. The increments of
// dropped tokens are carried to the next emitted token.
type StopFilter struct {
	input   TokenStream
	stop    StopSet
	skipped int
}

// NewStopFilter wraps input. A nil set drops nothing.
func NewStopFilter(input TokenStream, stop StopSet) *StopFilter {
	return &StopFilter{input: input, stop: stop}
}

func (f *StopFilter) Reset() error {
	f.skipped = 0
	return f.input.Reset()
}

func (f *StopFilter) Next() (Token, bool) {
	for {
		tok, ok := f.input.Next()
		if !ok {
			return Token{}, false
		}
		if f.stop != nil && f.stop.Contains(tok.Term) {
			f.skipped += tok.PosInc
			continue
		}
		tok.PosInc += f.skipped
		f.skipped = 0
		return tok, true
	}
}

func (f *StopFilter) End() Final {
	final := f.input.End()
	final.PosInc += f.skipped
	return final
}

// Converter maps a term to its script-converted form.
type Converter interface {
	Convert(term string) string
}

// ConvertFilter rewrites terms through a Converter. With keepBoth, a term
// that changes is emitted converted and then original at the same position.
type ConvertFilter struct {
	input    TokenStream
	conv     Converter
	keepBoth bool

	pending    Token
	hasPending bool
}

// NewConvertFilter wraps input. A nil converter passes tokens through.
func NewConvertFilter(input TokenStream, conv Converter, keepBoth bool) *ConvertFilter {
	return &ConvertFilter{input: input, conv: conv, keepBoth: keepBoth}
}

func (f *ConvertFilter) Reset() error {
	f.pending = Token{}
	f.hasPending = false
	return f.input.Reset()
}

func (f *ConvertFilter) Next() (Token, bool) {
	if f.hasPending {
		f.hasPending = false
		return f.pending, true
	}

	tok, ok := f.input.Next()
	if !ok || f.conv == nil {
		return tok, ok
	}

	converted := f.conv.Convert(tok.Term)
	if converted == tok.Term {
		return tok, true
	}
	if f.keepBoth {
		f.pending = tok
		f.pending.PosInc = 0
		f.hasPending = true
	}
	tok.Term = converted
	return tok, true
}

func (f *ConvertFilter) End() Final {
	return f.input.End()
}
