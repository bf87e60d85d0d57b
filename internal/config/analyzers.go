package config

import (
	"log/slog"
	"sort"

	"gramsearch/internal/analysis"
	"gramsearch/internal/lexicon"
)

// NewAnalyzerRegistry builds the built-in analyzers plus those declared under
// analysis.analyzers, registered in name order.
func (cfg AppConfig) NewAnalyzerRegistry(logger *slog.Logger) (*analysis.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lexicon.NewCache(cfg.Analysis.DictionaryCacheSize, logger)
	if err != nil {
		return nil, err
	}
	registry, err := analysis.NewRegistry(analysis.Dependencies{Dictionaries: cache, Logger: logger})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(cfg.Analysis.Analyzers))
	for name := range cfg.Analysis.Analyzers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a, err := registry.Register(name, cfg.Analysis.Analyzers[name].ToAnalysisSettings())
		if err != nil {
			return nil, err
		}
		logger.Info("analyzer registered", "name", name, "settings", a.Settings().String())
	}
	return registry, nil
}
