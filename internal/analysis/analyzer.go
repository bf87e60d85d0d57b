package analysis

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gramsearch/internal/lexicon"
)

// Dependencies are the shared collaborators analyzers resolve dictionaries
// and report through. Both fields are optional.
type Dependencies struct {
	Dictionaries *lexicon.Cache
	Logger       *slog.Logger
}

// Analyzer builds token pipelines from validated Settings. It holds only
// immutable state and is safe for concurrent use; every call to TokenStream
// returns fresh components.
type Analyzer struct {
	name     string
	settings Settings
	side     Side
	stop     StopSet
	conv     Converter
	logger   *slog.Logger
}

// Result is the complete output of one analysis pass.
type Result struct {
	Tokens    []Token
	Final     Final
	Truncated bool
}

// New validates settings and resolves the dictionaries they reference.
func New(name string, settings Settings, deps Dependencies) (*Analyzer, error) {
	settings = settings.Normalize()
	if err := settings.validate(); err != nil {
		return nil, fmt.Errorf("analyzer %q: %w", name, err)
	}
	side, _ := ParseSide(settings.Side)

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Analyzer{name: name, settings: settings, side: side, logger: logger}

	if settings.converts() {
		direction, err := lexicon.ParseDirection(settings.ConvertType)
		if err != nil {
			return nil, fmt.Errorf("analyzer %q: %w: %v", name, ErrInvalidConfig, err)
		}
		var table *lexicon.ConversionTable
		if deps.Dictionaries != nil {
			table, err = deps.Dictionaries.ConversionTable(settings.ConversionDictPath, direction)
		} else if settings.ConversionDictPath != "" {
			table, err = lexicon.LoadConversionTableFile(settings.ConversionDictPath, direction)
		} else {
			table = lexicon.BuiltinConversionTable(direction)
		}
		if err != nil {
			return nil, fmt.Errorf("analyzer %q: %w", name, err)
		}
		a.conv = table
	}

	if path := strings.TrimSpace(settings.StopwordDictPath); path != "" {
		var (
			set *lexicon.WordSet
			err error
		)
		if deps.Dictionaries != nil {
			set, err = deps.Dictionaries.WordSet(path, settings.StopwordIgnoreCase)
		} else {
			set, err = lexicon.LoadWordSetFile(path, settings.StopwordIgnoreCase)
		}
		if err != nil {
			return nil, fmt.Errorf("analyzer %q: %w", name, err)
		}
		a.stop = set
	}

	return a, nil
}

// Name returns the name the analyzer was created under.
func (a *Analyzer) Name() string {
	return a.name
}

// Settings returns the normalized settings.
func (a *Analyzer) Settings() Settings {
	return a.settings
}

// Pipeline is one set of components reading from one input.
type Pipeline struct {
	TokenStream
	source Tokenizer
}

type truncator interface {
	Truncated() bool
}

// Truncated reports whether the source hit its read cap on the last Reset.
func (p *Pipeline) Truncated() bool {
	if t, ok := p.source.(truncator); ok {
		return t.Truncated()
	}
	return false
}

// TokenStream assembles fresh components reading from r.
func (a *Analyzer) TokenStream(r io.Reader) (*Pipeline, error) {
	s := a.settings
	opts := []TokenizerOption{WithMaxInputChars(s.MaxInputChars)}

	var (
		source Tokenizer
		stream TokenStream
		err    error
	)
	switch s.Type {
	case TypeNGramTokenizer:
		source, err = NewNGramTokenizer(s.MinGram, s.MaxGram, opts...)
		if err != nil {
			return nil, err
		}
		stream = a.normalizer(source)
	case TypeEdgeNGramTokenizer:
		source, err = NewEdgeNGramTokenizer(a.side, s.MinGram, s.MaxGram, opts...)
		if err != nil {
			return nil, err
		}
		stream = a.normalizer(source)
	case TypeNGramAnalyzer:
		source = NewWhitespaceTokenizer()
		stream, err = NewNGramFilter(a.normalizer(source), s.MinGram, s.MaxGram, s.PreserveOriginal)
		if err != nil {
			return nil, err
		}
	case TypeEdgeNGramAnalyzer:
		source = NewWhitespaceTokenizer()
		stream, err = NewEdgeNGramFilter(a.normalizer(source), s.MinGram, s.MaxGram, s.PreserveOriginal)
		if err != nil {
			return nil, err
		}
	case TypeStandard:
		source = NewWhitespaceTokenizer()
		stream = NewLowercaseFilter(source)
	default:
		source = NewWhitespaceTokenizer()
		stream = source
	}

	if a.stop != nil {
		stream = NewStopFilter(stream, a.stop)
	}
	source.SetInput(r)
	return &Pipeline{TokenStream: stream, source: source}, nil
}

// normalizer lowercases and script-converts the output of source.
func (a *Analyzer) normalizer(source TokenStream) TokenStream {
	stream := TokenStream(NewLowercaseFilter(source))
	if a.conv != nil {
		stream = NewConvertFilter(stream, a.conv, a.settings.KeepBoth)
	}
	return stream
}

// Analyze runs one complete pass over text.
func (a *Analyzer) Analyze(text string) (Result, error) {
	pipeline, err := a.TokenStream(strings.NewReader(text))
	if err != nil {
		return Result{}, err
	}
	return a.drain(pipeline)
}

// Normalize splits text on whitespace and applies the lowercase, conversion
// and stopword stages without producing grams. It is the query-side view of
// the analyzer.
func (a *Analyzer) Normalize(text string) (Result, error) {
	source := NewWhitespaceTokenizer(WithMaxInputChars(DefaultMaxFieldChars))
	source.SetInput(strings.NewReader(text))
	stream := TokenStream(source)
	if a.settings.Type != TypeWhitespace {
		stream = a.normalizer(source)
	}
	if a.stop != nil {
		stream = NewStopFilter(stream, a.stop)
	}
	return a.drain(&Pipeline{TokenStream: stream, source: source})
}

func (a *Analyzer) drain(p *Pipeline) (Result, error) {
	tokens, final, err := Drain(p)
	if err != nil {
		return Result{}, fmt.Errorf("analyzer %q: %w", a.name, err)
	}
	res := Result{Tokens: tokens, Final: final, Truncated: p.Truncated()}
	if res.Truncated {
		a.logger.Warn("analysis input truncated", "analyzer", a.name, "max_input_chars", a.settings.MaxInputChars)
	}
	return res, nil
}
