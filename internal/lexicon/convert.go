package lexicon

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

// Direction selects the script a ConversionTable converts into.
type Direction string

const (
	TraditionalToSimplified Direction = "t2s"
	SimplifiedToTraditional Direction = "s2t"
)

// ParseDirection resolves a convert_type setting. An empty value means t2s.
func ParseDirection(value string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(TraditionalToSimplified):
		return TraditionalToSimplified, nil
	case string(SimplifiedToTraditional):
		return SimplifiedToTraditional, nil
	default:
		return "", fmt.Errorf("convert type must be t2s or s2t, got %q", value)
	}
}

//go:embed data/ts.dict
var builtinDictionary string

// ConversionTable rewrites text by longest-match dictionary substitution. It is
// immutable after load and safe for concurrent use.
type ConversionTable struct {
	direction Direction
	mapping   map[string]string
	maxKey    int
}

// LoadConversionTable reads lines of "traditional simplified" pairs separated
// by whitespace. Blank lines and '#' comments are skipped. When a target has
// several sources, the first line wins.
func LoadConversionTable(r io.Reader, direction Direction) (*ConversionTable, error) {
	table := &ConversionTable{direction: direction, mapping: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), byteOrderMark))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("conversion dictionary line %d: expected two columns", lineNo)
		}

		from, to := fields[0], fields[1]
		if direction == SimplifiedToTraditional {
			from, to = to, from
		}
		if _, exists := table.mapping[from]; exists {
			continue
		}
		table.mapping[from] = to
		if n := utf8.RuneCountInString(from); n > table.maxKey {
			table.maxKey = n
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read conversion dictionary: %w", err)
	}
	return table, nil
}

// LoadConversionTableFile loads a dictionary from path.
func LoadConversionTableFile(path string, direction Direction) (*ConversionTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open conversion dictionary: %w", err)
	}
	defer f.Close()

	table, err := LoadConversionTable(f, direction)
	if err != nil {
		return nil, fmt.Errorf("load conversion dictionary %s: %w", path, err)
	}
	return table, nil
}

// BuiltinConversionTable returns the embedded table of common characters.
func BuiltinConversionTable(direction Direction) *ConversionTable {
	table, err := LoadConversionTable(strings.NewReader(builtinDictionary), direction)
	if err != nil {
		panic(fmt.Sprintf("builtin conversion dictionary: %v", err))
	}
	return table
}

// Direction reports which way the table converts.
func (t *ConversionTable) Direction() Direction {
	return t.direction
}

// Len returns the number of entries.
func (t *ConversionTable) Len() int {
	return len(t.mapping)
}

// Convert substitutes the longest dictionary match at every position.
func (t *ConversionTable) Convert(text string) string {
	if t == nil || len(t.mapping) == 0 || text == "" {
		return text
	}

	runes := []rune(text)
	var sb strings.Builder
	sb.Grow(len(text))
	changed := false
	for i := 0; i < len(runes); {
		width := t.maxKey
		if rest := len(runes) - i; rest < width {
			width = rest
		}
		matched := false
		for ; width > 0; width-- {
			if to, ok := t.mapping[string(runes[i:i+width])]; ok {
				sb.WriteString(to)
				i += width
				matched, changed = true, true
				break
			}
		}
		if !matched {
			sb.WriteRune(runes[i])
			i++
		}
	}
	if !changed {
		return text
	}
	return sb.String()
}
