package analysis

import (
	"strings"
	"testing"
)

func FuzzNGramFilterOffsets(f *testing.F) {
	f.Add("hello world", 1, 3)
	f.Add("", 2, 2)
	f.Add("  spaces  everywhere  ", 2, 5)
	f.Add("café résumé naïve", 1, 2)
	f.Add("中文 分词 測試", 1, 4)
	f.Add("a\xffb \xc3", 1, 2)
	f.Add("İİ İSTANBUL", 1, 2)

	f.Fuzz(func(t *testing.T, input string, minGram, maxGram int) {
		if minGram < 1 || minGram > 8 || maxGram < minGram || maxGram > 16 {
			t.Skip()
		}
		for _, edge := range []bool{false, true} {
			ws := NewWhitespaceTokenizer()
			ws.SetInput(strings.NewReader(input))

			var stream TokenStream
			var err error
			lower := NewLowercaseFilter(ws)
			if edge {
				stream, err = NewEdgeNGramFilter(lower, minGram, maxGram, true)
			} else {
				stream, err = NewNGramFilter(lower, minGram, maxGram, true)
			}
			if err != nil {
				t.Fatalf("construct filter: %v", err)
			}

			tokens, final, err := Drain(stream)
			if err != nil {
				t.Fatalf("drain: %v", err)
			}
			for i, tok := range tokens {
				if tok.Start < 0 || tok.End > len(input) || tok.Start >= tok.End {
					t.Fatalf("token %d has invalid offsets: start=%d end=%d input_len=%d", i, tok.Start, tok.End, len(input))
				}
				if tok.Term == "" {
					t.Fatalf("token %d has an empty term", i)
				}
				if tok.PosInc < 0 {
					t.Fatalf("token %d has negative increment %d", i, tok.PosInc)
				}
				if i == 0 && tok.PosInc == 0 {
					t.Fatalf("first token has zero increment")
				}
			}
			if final.Offset > len(input) {
				t.Fatalf("final offset %d beyond input length %d", final.Offset, len(input))
			}
		}
	})
}

func FuzzNGramTokenizer(f *testing.F) {
	f.Add("hello", 1, 3)
	f.Add("", 1, 1)
	f.Add(" \t中文字 ", 2, 3)

	f.Fuzz(func(t *testing.T, input string, minGram, maxGram int) {
		if minGram < 1 || minGram > 8 || maxGram < minGram || maxGram > 16 {
			t.Skip()
		}
		tok, err := NewNGramTokenizer(minGram, maxGram)
		if err != nil {
			t.Fatalf("construct tokenizer: %v", err)
		}
		tok.SetInput(strings.NewReader(input))

		first, _, err := Drain(tok)
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		for i, g := range first {
			if g.Start < 0 || g.End > len(input) || g.Start >= g.End {
				t.Fatalf("gram %d has invalid offsets: start=%d end=%d", i, g.Start, g.End)
			}
			if input[g.Start:g.End] != g.Term {
				t.Fatalf("gram %d term %q does not match input span %q", i, g.Term, input[g.Start:g.End])
			}
		}

		second, _, err := Drain(tok)
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		if len(first) != len(second) {
			t.Fatalf("replay produced %d grams, first pass %d", len(second), len(first))
		}
	})
}
