package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"gramsearch/internal/analysis"
)

// AppConfig captures configuration for the server, storage, analysis, and index defaults.
type AppConfig struct {
	Server        ServerConfig        `toml:"server" yaml:"server"`
	Paths         PathsConfig         `toml:"paths" yaml:"paths"`
	Analysis      AnalysisConfig      `toml:"analysis" yaml:"analysis"`
	IndexDefaults IndexDefaultsConfig `toml:"index_defaults" yaml:"index_defaults"`
	Logging       LoggingConfig       `toml:"logging" yaml:"logging"`
	Metrics       MetricsConfig       `toml:"metrics" yaml:"metrics"`
}

// ServerConfig controls network settings.
type ServerConfig struct {
	Listen string `toml:"listen" yaml:"listen"`
}

// PathsConfig configures the on-disk layout.
type PathsConfig struct {
	IndexDir string `toml:"index_dir" yaml:"index_dir"`
}

// AnalysisConfig declares named analyzers and the dictionary cache shared by them.
type AnalysisConfig struct {
	DictionaryCacheSize int                       `toml:"dictionary_cache_size" yaml:"dictionary_cache_size"`
	Analyzers           map[string]AnalyzerConfig `toml:"analyzers" yaml:"analyzers"`
}

// AnalyzerConfig mirrors analysis.Settings for configuration files.
type AnalyzerConfig struct {
	Type               string `toml:"type" yaml:"type"`
	MinGram            int    `toml:"min_gram" yaml:"min_gram"`
	MaxGram            int    `toml:"max_gram" yaml:"max_gram"`
	KeepOriginal       bool   `toml:"keep_original" yaml:"keep_original"`
	Side               string `toml:"side" yaml:"side"`
	ConvertType        string `toml:"convert_type" yaml:"convert_type"`
	KeepBoth           bool   `toml:"keep_both" yaml:"keep_both"`
	ConversionDictPath string `toml:"conversion_dict_path" yaml:"conversion_dict_path"`
	StopwordDictPath   string `toml:"stopword_dict_path" yaml:"stopword_dict_path"`
	StopwordIgnoreCase bool   `toml:"stopword_ignore_case" yaml:"stopword_ignore_case"`
	MaxInputChars      int    `toml:"max_input_chars" yaml:"max_input_chars"`
}

// IndexDefaultsConfig provides baseline settings used when new indexes are created.
type IndexDefaultsConfig struct {
	Analyzer       string        `toml:"analyzer" yaml:"analyzer"`
	BM25           BM25Config    `toml:"bm25" yaml:"bm25"`
	MergeInterval  time.Duration `toml:"merge_interval" yaml:"merge_interval"`
	MergeThreshold int           `toml:"merge_threshold" yaml:"merge_threshold"`
	FlushMaxDocs   int           `toml:"flush_max_documents" yaml:"flush_max_documents"`
	FlushMaxPosts  int           `toml:"flush_max_postings" yaml:"flush_max_postings"`
	AnalyzeWorkers int           `toml:"analyze_workers" yaml:"analyze_workers"`
}

// BM25Config mirrors the scoring parameters exposed by the index package.
type BM25Config struct {
	K1 float64 `toml:"k1" yaml:"k1"`
	B  float64 `toml:"b" yaml:"b"`
}

// LoggingConfig toggles observability around requests.
type LoggingConfig struct {
	RequestLogs *bool  `toml:"request_logs" yaml:"request_logs"`
	Level       string `toml:"level" yaml:"level"`
}

// MetricsConfig enables counters/telemetry endpoints.
type MetricsConfig struct {
	Enabled *bool `toml:"enabled" yaml:"enabled"`
}

// DefaultConfig returns the baseline configuration used when no file is supplied.
func DefaultConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{Listen: ":8080"},
		Paths:  PathsConfig{IndexDir: "data/indexes"},
		Analysis: AnalysisConfig{
			DictionaryCacheSize: 64,
		},
		IndexDefaults: IndexDefaultsConfig{
			Analyzer:       analysis.TypeNGramAnalyzer,
			BM25:           BM25Config{K1: 1.2, B: 0.75},
			MergeInterval:  30 * time.Second,
			MergeThreshold: 4,
			FlushMaxDocs:   512,
			FlushMaxPosts:  50000,
			AnalyzeWorkers: 4,
		},
		Logging: LoggingConfig{RequestLogs: boolPtr(true), Level: "info"},
		Metrics: MetricsConfig{Enabled: boolPtr(true)},
	}
}

// Load reads the provided config path, merging it onto the defaults.
func Load(path string) (AppConfig, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	var fileCfg AppConfig
	switch ext {
	case ".toml":
		if err := toml.Unmarshal(content, &fileCfg); err != nil {
			return AppConfig{}, fmt.Errorf("parse toml: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &fileCfg); err != nil {
			return AppConfig{}, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		return AppConfig{}, errors.New("config file must be .toml, .yaml, or .yml")
	}

	merged := mergeConfig(cfg, fileCfg)
	if err := merged.Validate(); err != nil {
		return AppConfig{}, err
	}
	return merged, nil
}

func mergeConfig(base, override AppConfig) AppConfig {
	if override.Server.Listen != "" {
		base.Server.Listen = override.Server.Listen
	}
	if override.Paths.IndexDir != "" {
		base.Paths.IndexDir = override.Paths.IndexDir
	}

	if override.Analysis.DictionaryCacheSize != 0 {
		base.Analysis.DictionaryCacheSize = override.Analysis.DictionaryCacheSize
	}
	if len(override.Analysis.Analyzers) > 0 {
		merged := make(map[string]AnalyzerConfig, len(base.Analysis.Analyzers)+len(override.Analysis.Analyzers))
		for name, a := range base.Analysis.Analyzers {
			merged[name] = a
		}
		for name, a := range override.Analysis.Analyzers {
			merged[name] = a
		}
		base.Analysis.Analyzers = merged
	}

	if override.IndexDefaults.Analyzer != "" {
		base.IndexDefaults.Analyzer = override.IndexDefaults.Analyzer
	}
	if override.IndexDefaults.BM25.K1 != 0 {
		base.IndexDefaults.BM25.K1 = override.IndexDefaults.BM25.K1
	}
	if override.IndexDefaults.BM25.B != 0 {
		base.IndexDefaults.BM25.B = override.IndexDefaults.BM25.B
	}
	if override.IndexDefaults.MergeInterval != 0 {
		base.IndexDefaults.MergeInterval = override.IndexDefaults.MergeInterval
	}
	if override.IndexDefaults.MergeThreshold != 0 {
		base.IndexDefaults.MergeThreshold = override.IndexDefaults.MergeThreshold
	}
	if override.IndexDefaults.FlushMaxDocs != 0 {
		base.IndexDefaults.FlushMaxDocs = override.IndexDefaults.FlushMaxDocs
	}
	if override.IndexDefaults.FlushMaxPosts != 0 {
		base.IndexDefaults.FlushMaxPosts = override.IndexDefaults.FlushMaxPosts
	}
	if override.IndexDefaults.AnalyzeWorkers != 0 {
		base.IndexDefaults.AnalyzeWorkers = override.IndexDefaults.AnalyzeWorkers
	}

	if override.Logging.RequestLogs != nil {
		base.Logging.RequestLogs = override.Logging.RequestLogs
	}
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if override.Metrics.Enabled != nil {
		base.Metrics.Enabled = override.Metrics.Enabled
	}

	return base
}

// Validate checks cross-field references the loader cannot express in types.
func (cfg AppConfig) Validate() error {
	for name := range cfg.Analysis.Analyzers {
		if strings.TrimSpace(name) == "" {
			return errors.New("analysis.analyzers: analyzer name must not be empty")
		}
	}
	name := cfg.IndexDefaults.Analyzer
	if _, ok := cfg.Analysis.Analyzers[name]; ok {
		return nil
	}
	for _, builtin := range analysis.BuiltinTypes() {
		if name == builtin {
			return nil
		}
	}
	return fmt.Errorf("index_defaults.analyzer %q is neither a built-in nor a configured analyzer", name)
}

// ToAnalysisSettings converts a configured analyzer into the value expected by the analysis package.
func (a AnalyzerConfig) ToAnalysisSettings() analysis.Settings {
	return analysis.Settings{
		Type:               a.Type,
		MinGram:            a.MinGram,
		MaxGram:            a.MaxGram,
		PreserveOriginal:   a.KeepOriginal,
		Side:               a.Side,
		ConvertType:        a.ConvertType,
		KeepBoth:           a.KeepBoth,
		ConversionDictPath: a.ConversionDictPath,
		StopwordDictPath:   a.StopwordDictPath,
		StopwordIgnoreCase: a.StopwordIgnoreCase,
		MaxInputChars:      a.MaxInputChars,
	}.Normalize()
}

// ToBM25 converts the config BM25 representation into the value expected by the index package.
func (cfg AppConfig) ToBM25() (float64, float64) {
	return cfg.IndexDefaults.BM25.K1, cfg.IndexDefaults.BM25.B
}

func boolPtr(v bool) *bool {
	return &v
}
