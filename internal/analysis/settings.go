package analysis

import (
	"fmt"
	"strings"
)

// Analyzer types understood by New.
const (
	TypeNGramAnalyzer      = "ngram-analyzer"
	TypeEdgeNGramAnalyzer  = "edge-ngram-analyzer"
	TypeNGramTokenizer     = "ngram-tokenizer"
	TypeEdgeNGramTokenizer = "edge-ngram-tokenizer"
	TypeWhitespace         = "whitespace"
	TypeStandard           = "standard"
)

// Setting defaults and the clamp applied by Normalize.
const (
	DefaultMinGram  = 2
	DefaultMaxGram  = 100
	MaxGramCeiling  = 255
	ConvertTypeNone = "none"
)

// Settings is the named, host-facing description of an analyzer.
type Settings struct {
	Type               string `json:"type"`
	MinGram            int    `json:"min_gram,omitempty"`
	MaxGram            int    `json:"max_gram,omitempty"`
	PreserveOriginal   bool   `json:"keep_original,omitempty"`
	Side               string `json:"side,omitempty"`
	ConvertType        string `json:"convert_type,omitempty"`
	KeepBoth           bool   `json:"keep_both,omitempty"`
	ConversionDictPath string `json:"conversion_dict_path,omitempty"`
	StopwordDictPath   string `json:"stopword_dict_path,omitempty"`
	StopwordIgnoreCase bool   `json:"stopword_ignore_case,omitempty"`
	MaxInputChars      int    `json:"max_input_chars,omitempty"`
}

// DefaultSettings returns the settings of the default n-gram analyzer.
func DefaultSettings() Settings {
	return Settings{
		Type:        TypeNGramAnalyzer,
		MinGram:     DefaultMinGram,
		MaxGram:     DefaultMaxGram,
		Side:        SideFront.String(),
		ConvertType: "t2s",
	}
}

// Normalize fills unset values with defaults. Gram bounds follow the plugin
// policy: a non-positive min becomes 2, a non-positive or oversized max
// becomes 100. A min above max is left for New to reject.
func (s Settings) Normalize() Settings {
	s.Type = strings.ToLower(strings.TrimSpace(s.Type))
	if s.Type == "" {
		s.Type = TypeNGramAnalyzer
	}
	if s.MinGram <= 0 {
		s.MinGram = DefaultMinGram
	}
	if s.MaxGram <= 0 || s.MaxGram > MaxGramCeiling {
		s.MaxGram = DefaultMaxGram
	}
	if s.Side == "" {
		s.Side = SideFront.String()
	}
	if s.ConvertType == "" {
		s.ConvertType = "t2s"
	}
	if s.MaxInputChars <= 0 {
		s.MaxInputChars = DefaultMaxInputChars
	}
	return s
}

// Grams reports the gram range of gram-producing types.
func (s Settings) Grams() (GramRange, bool) {
	switch s.Type {
	case TypeNGramAnalyzer, TypeEdgeNGramAnalyzer, TypeNGramTokenizer, TypeEdgeNGramTokenizer:
		return GramRange{Min: s.MinGram, Max: s.MaxGram}, true
	default:
		return GramRange{}, false
	}
}

// Anchored reports whether grams are anchored to the start of their source.
func (s Settings) Anchored() bool {
	return s.Type == TypeEdgeNGramAnalyzer || s.Type == TypeEdgeNGramTokenizer
}

// WholeInput reports whether the type grams the whole field value.
func (s Settings) WholeInput() bool {
	return s.Type == TypeNGramTokenizer || s.Type == TypeEdgeNGramTokenizer
}

func (s Settings) converts() bool {
	return s.Type != TypeWhitespace && s.Type != TypeStandard && s.ConvertType != ConvertTypeNone
}

func (s Settings) validate() error {
	switch s.Type {
	case TypeNGramAnalyzer, TypeEdgeNGramAnalyzer, TypeNGramTokenizer, TypeEdgeNGramTokenizer, TypeWhitespace, TypeStandard:
	default:
		return configErrorf("unknown analyzer type %q", s.Type)
	}
	if grams, ok := s.Grams(); ok {
		if err := grams.Validate(); err != nil {
			return err
		}
	}
	if _, err := ParseSide(s.Side); err != nil {
		return err
	}
	if s.Side == SideBack.String() && s.Type != TypeEdgeNGramTokenizer {
		return configErrorf("side %q is only supported by %s", s.Side, TypeEdgeNGramTokenizer)
	}
	return nil
}

func (s Settings) String() string {
	if _, ok := s.Grams(); !ok {
		return s.Type
	}
	return fmt.Sprintf("%s[%d,%d]", s.Type, s.MinGram, s.MaxGram)
}
