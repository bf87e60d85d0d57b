package lexicon

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

const byteOrderMark = "\ufeff"

// WordSet is an immutable set of words, optionally matched without regard to
// case. It is safe for concurrent reads.
type WordSet struct {
	words      map[string]struct{}
	ignoreCase bool
}

// NewWordSet builds a set from words. Blank entries are skipped.
func NewWordSet(words []string, ignoreCase bool) *WordSet {
	set := &WordSet{words: make(map[string]struct{}, len(words)), ignoreCase: ignoreCase}
	for _, word := range words {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		set.words[set.key(word)] = struct{}{}
	}
	return set
}

// Contains reports whether term is in the set.
func (s *WordSet) Contains(term string) bool {
	if s == nil {
		return false
	}
	_, ok := s.words[s.key(term)]
	return ok
}

// Len returns the number of distinct entries.
func (s *WordSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.words)
}

// Words returns the entries in sorted order.
func (s *WordSet) Words() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.words))
	for word := range s.words {
		out = append(out, word)
	}
	sort.Strings(out)
	return out
}

func (s *WordSet) key(word string) string {
	if s.ignoreCase {
		return strings.ToLower(word)
	}
	return word
}

// LoadWordSet reads one word per line. Surrounding whitespace is trimmed and
// blank lines or lines starting with '#' are skipped.
func LoadWordSet(r io.Reader, ignoreCase bool) (*WordSet, error) {
	var words []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), byteOrderMark))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read word list: %w", err)
	}
	return NewWordSet(words, ignoreCase), nil
}

// LoadWordSetFile loads a word list from path.
func LoadWordSetFile(path string, ignoreCase bool) (*WordSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stopword dictionary: %w", err)
	}
	defer f.Close()

	set, err := LoadWordSet(f, ignoreCase)
	if err != nil {
		return nil, fmt.Errorf("load stopword dictionary %s: %w", path, err)
	}
	return set, nil
}
