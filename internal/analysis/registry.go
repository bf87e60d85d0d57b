package analysis

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"gramsearch/internal/lexicon"
)

// Token filter names accepted by Registry.Filter.
const (
	FilterStopword  = "stopword-filter"
	FilterTSConvert = "tsconvert-filter"
)

// FilterSettings configures a named token filter.
type FilterSettings struct {
	StopwordDictPath   string `json:"stopword_dict_path,omitempty"`
	StopwordIgnoreCase bool   `json:"stopword_ignore_case,omitempty"`
	ConvertType        string `json:"convert_type,omitempty"`
	ConversionDictPath string `json:"conversion_dict_path,omitempty"`
	KeepBoth           bool   `json:"keep_both,omitempty"`
}

// Registry manages analyzers by name. The built-in types are registered
// under their own names with default settings.
type Registry struct {
	deps      Dependencies
	analyzers map[string]*Analyzer
	mu        sync.RWMutex
}

// NewRegistry creates a Registry with the built-in analyzers registered.
func NewRegistry(deps Dependencies) (*Registry, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Dictionaries == nil {
		cache, err := lexicon.NewCache(0, deps.Logger)
		if err != nil {
			return nil, err
		}
		deps.Dictionaries = cache
	}

	r := &Registry{deps: deps, analyzers: make(map[string]*Analyzer)}
	for _, typ := range BuiltinTypes() {
		a, err := New(typ, Settings{Type: typ}, deps)
		if err != nil {
			return nil, err
		}
		r.analyzers[typ] = a
	}
	return r, nil
}

// BuiltinTypes lists the analyzer types New understands.
func BuiltinTypes() []string {
	return []string{
		TypeEdgeNGramAnalyzer,
		TypeEdgeNGramTokenizer,
		TypeNGramAnalyzer,
		TypeNGramTokenizer,
		TypeStandard,
		TypeWhitespace,
	}
}

// Dependencies returns the collaborators analyzers of this registry share.
func (r *Registry) Dependencies() Dependencies {
	return r.deps
}

// Get returns the analyzer registered under name.
func (r *Registry) Get(name string) (*Analyzer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyzers[name]
	if !ok {
		return nil, fmt.Errorf("unknown analyzer: %q", name)
	}
	return a, nil
}

// Register builds an analyzer from settings and adds it under name.
func (r *Registry) Register(name string, settings Settings) (*Analyzer, error) {
	if name == "" {
		return nil, fmt.Errorf("analyzer name is required")
	}
	a, err := New(name, settings, r.deps)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.analyzers[name]; exists {
		return nil, fmt.Errorf("analyzer already registered: %q", name)
	}
	r.analyzers[name] = a
	return a, nil
}

// Build returns an unregistered analyzer sharing the registry's dictionaries.
func (r *Registry) Build(name string, settings Settings) (*Analyzer, error) {
	return New(name, settings, r.deps)
}

// Names returns the registered analyzer names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.analyzers))
	for name := range r.analyzers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Filter wraps input with the named token filter.
func (r *Registry) Filter(name string, input TokenStream, settings FilterSettings) (TokenStream, error) {
	switch name {
	case FilterStopword:
		if settings.StopwordDictPath == "" {
			return nil, configErrorf("%s requires a stopword dictionary path", name)
		}
		set, err := r.deps.Dictionaries.WordSet(settings.StopwordDictPath, settings.StopwordIgnoreCase)
		if err != nil {
			return nil, err
		}
		return NewStopFilter(input, set), nil
	case FilterTSConvert:
		direction, err := lexicon.ParseDirection(settings.ConvertType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		table, err := r.deps.Dictionaries.ConversionTable(settings.ConversionDictPath, direction)
		if err != nil {
			return nil, err
		}
		return NewConvertFilter(input, table, settings.KeepBoth), nil
	default:
		return nil, fmt.Errorf("unknown token filter: %q", name)
	}
}
