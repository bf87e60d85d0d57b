package analysis

import (
	"fmt"
	"io"
)

// Display drains stream and writes one line per token in the form
// position:[term]:(start-->end):type. Positions start at 1 and advance by
// each token's increment.
func Display(w io.Writer, stream TokenStream) error {
	tokens, final, err := Drain(stream)
	if err != nil {
		return err
	}
	pos := 0
	for _, tok := range tokens {
		pos += tok.PosInc
		if _, err := fmt.Fprintf(w, "%d:[%s]:(%d-->%d):%s\n", pos, tok.Term, tok.Start, tok.End, tok.Type); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "end:(%d):+%d\n", final.Offset, final.PosInc); err != nil {
		return err
	}
	return nil
}
