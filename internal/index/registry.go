package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gramsearch/internal/analysis"
)

// FieldType represents the supported indexable field types.
type FieldType string

const (
	FieldTypeText    FieldType = "text"
	FieldTypeKeyword FieldType = "keyword"
)

// FieldDefinition describes how a field should be indexed.
type FieldDefinition struct {
	Type       FieldType `json:"type"`
	Weight     float64   `json:"weight,omitempty"`
	FilterOnly bool      `json:"filterOnly,omitempty"`
}

// BM25Parameters stores tunable ranking parameters.
type BM25Parameters struct {
	K1 float64 `json:"k1"`
	B  float64 `json:"b"`
}

// SegmentMetadata captures immutable segment level information.
type SegmentMetadata struct {
	ID            string `json:"id"`
	DocumentCount int    `json:"documentCount"`
}

// IndexMetadata exposes runtime statistics for an index.
type IndexMetadata struct {
	DocCount int               `json:"docCount"`
	Segments []SegmentMetadata `json:"segments"`
}

// Definition represents a fully resolved index definition. AnalyzerSettings, when present, defines
// an analyzer private to the index and takes precedence over the Analyzer name.
type Definition struct {
	Name             string                     `json:"name"`
	Fields           map[string]FieldDefinition `json:"fields"`
	Analyzer         string                     `json:"analyzer"`
	AnalyzerSettings *analysis.Settings         `json:"analyzerSettings,omitempty"`
	BM25             BM25Parameters             `json:"bm25"`
	Metadata         IndexMetadata              `json:"metadata"`
}

// CreateRequest captures the payload for creating an index.
type CreateRequest struct {
	Name             string                     `json:"name"`
	Fields           map[string]FieldDefinition `json:"fields"`
	Analyzer         string                     `json:"analyzer"`
	AnalyzerSettings *analysis.Settings         `json:"analyzerSettings,omitempty"`
	BM25             *BM25Parameters            `json:"bm25,omitempty"`
}

// CreateDefaults supplies the values applied when a create request leaves them unset. When Analyzers
// is set, the analyzer of every new definition must resolve against it.
type CreateDefaults struct {
	Analyzer  string
	BM25      BM25Parameters
	Analyzers *analysis.Registry
}

// Registry persists index definitions on disk and serves them at runtime.
type Registry struct {
	basePath string
	defaults CreateDefaults
	indexes  map[string]Definition
	mu       sync.RWMutex
}

const (
	defaultAnalyzer = analysis.TypeNGramAnalyzer
	defaultK1       = 1.2
	defaultB        = 0.75
	maxFields       = 64
	maxNameLength   = 64
)

// NewRegistry loads existing index definitions from disk, ensuring the storage path exists.
func NewRegistry(basePath string) (*Registry, error) {
	return NewRegistryWithDefaults(basePath, CreateDefaults{})
}

// NewRegistryWithDefaults is NewRegistry with configured creation defaults.
func NewRegistryWithDefaults(basePath string, defaults CreateDefaults) (*Registry, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	if defaults.Analyzer == "" {
		defaults.Analyzer = defaultAnalyzer
	}
	if defaults.BM25.K1 == 0 && defaults.BM25.B == 0 {
		defaults.BM25 = BM25Parameters{K1: defaultK1, B: defaultB}
	}
	if err := validateBM25(defaults.BM25); err != nil {
		return nil, fmt.Errorf("default %w", err)
	}

	r := &Registry{
		basePath: basePath,
		defaults: defaults,
		indexes:  make(map[string]Definition),
	}

	if err := r.loadFromDisk(); err != nil {
		return nil, err
	}

	return r, nil
}

// Create registers and persists a new index definition.
func (r *Registry) Create(req CreateRequest) (Definition, error) {
	if err := req.validate(); err != nil {
		return Definition{}, err
	}

	def := Definition{
		Name:     strings.TrimSpace(req.Name),
		Fields:   normalizeFields(req.Fields),
		Analyzer: r.defaults.Analyzer,
		BM25:     r.defaults.BM25,
		Metadata: IndexMetadata{DocCount: 0, Segments: []SegmentMetadata{}},
	}

	if req.Analyzer != "" {
		def.Analyzer = strings.TrimSpace(req.Analyzer)
	}

	if req.AnalyzerSettings != nil {
		settings := req.AnalyzerSettings.Normalize()
		def.AnalyzerSettings = &settings
	}

	if req.BM25 != nil {
		def.BM25 = *req.BM25
	}

	if r.defaults.Analyzers != nil {
		if _, err := TokenizerFor(r.defaults.Analyzers, def); err != nil {
			return Definition{}, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.indexes[def.Name]; exists {
		return Definition{}, fmt.Errorf("index '%s' already exists", def.Name)
	}

	if err := r.persist(def); err != nil {
		return Definition{}, err
	}

	r.indexes[def.Name] = def
	return def, nil
}

// List returns all known index definitions ordered by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definitions := make([]Definition, 0, len(r.indexes))
	for _, def := range r.indexes {
		definitions = append(definitions, def)
	}
	sort.Slice(definitions, func(i, j int) bool { return definitions[i].Name < definitions[j].Name })

	return definitions
}

// Delete removes a definition and its persisted file. Index data directories are owned by the caller.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.indexes[name]; !ok {
		return fmt.Errorf("index '%s' not found", name)
	}

	if err := os.Remove(r.definitionPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove definition: %w", err)
	}

	delete(r.indexes, name)
	return nil
}

// IndexPath returns the data directory of the named index.
func (r *Registry) IndexPath(name string) string {
	return filepath.Join(r.basePath, name)
}

// Get retrieves an index definition by name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.indexes[name]
	return def, ok
}

// UpdateDefinition persists changes to an existing definition (e.g. runtime metadata updates).
func (r *Registry) UpdateDefinition(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.indexes[def.Name]; !ok {
		return fmt.Errorf("index '%s' not found", def.Name)
	}

	if err := r.persist(def); err != nil {
		return err
	}

	r.indexes[def.Name] = def
	return nil
}

func (r *Registry) persist(def Definition) error {
	content, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize definition: %w", err)
	}

	if err := os.WriteFile(r.definitionPath(def.Name), content, 0o644); err != nil {
		return fmt.Errorf("write definition: %w", err)
	}

	return nil
}

func (r *Registry) definitionPath(name string) string {
	return filepath.Join(r.basePath, fmt.Sprintf("%s.json", name))
}

func (r *Registry) loadFromDisk() error {
	return r.loadFS(os.DirFS(r.basePath), ".")
}

// loadFS reads the definition files directly under dir. Index data directories are skipped.
func (r *Registry) loadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read index directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read definition %s: %w", entry.Name(), err)
		}

		def, err := decodeDefinition(content)
		if err != nil {
			return fmt.Errorf("definition file %s: %w", entry.Name(), err)
		}
		r.indexes[def.Name] = def
	}

	return nil
}

func decodeDefinition(content []byte) (Definition, error) {
	var def Definition
	if err := json.Unmarshal(content, &def); err != nil {
		return Definition{}, fmt.Errorf("decode: %w", err)
	}

	if def.Name == "" {
		return Definition{}, errors.New("missing name")
	}

	if err := validateFields(def.Fields); err != nil {
		return Definition{}, fmt.Errorf("invalid fields: %w", err)
	}

	if err := validateBM25(def.BM25); err != nil {
		return Definition{}, fmt.Errorf("invalid bm25: %w", err)
	}

	if def.AnalyzerSettings != nil {
		settings := def.AnalyzerSettings.Normalize()
		def.AnalyzerSettings = &settings
	}
	return def, nil
}

func normalizeFields(fields map[string]FieldDefinition) map[string]FieldDefinition {
	normalized := make(map[string]FieldDefinition, len(fields))
	for name, def := range fields {
		key := strings.TrimSpace(name)
		weight := def.Weight
		if weight == 0 {
			weight = 1.0
		}
		normalized[key] = FieldDefinition{
			Type:       def.Type,
			Weight:     weight,
			FilterOnly: def.FilterOnly,
		}
	}
	return normalized
}

func (req CreateRequest) validate() error {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return errors.New("name is required")
	}

	if len(name) > maxNameLength {
		return fmt.Errorf("name must be <= %d characters", maxNameLength)
	}

	if len(req.Fields) == 0 {
		return errors.New("at least one field is required")
	}

	if len(req.Fields) > maxFields {
		return fmt.Errorf("field count exceeds limit of %d", maxFields)
	}

	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("name '%s' must not contain path separators", name)
	}

	if err := validateFields(req.Fields); err != nil {
		return err
	}

	if req.BM25 != nil {
		if err := validateBM25(*req.BM25); err != nil {
			return err
		}
	}

	return nil
}

func validateFields(fields map[string]FieldDefinition) error {
	for name, def := range fields {
		key := strings.TrimSpace(name)
		if key == "" {
			return fmt.Errorf("field name cannot be empty")
		}

		switch def.Type {
		case FieldTypeText, FieldTypeKeyword:
		default:
			return fmt.Errorf("field '%s' has invalid type '%s'", key, def.Type)
		}

		if def.Weight < 0 {
			return fmt.Errorf("field '%s' weight must be non-negative", key)
		}
	}

	return nil
}

func validateBM25(bm25 BM25Parameters) error {
	if bm25.K1 <= 0 {
		return errors.New("bm25.k1 must be > 0")
	}

	if bm25.B < 0 || bm25.B > 1 {
		return errors.New("bm25.b must be between 0 and 1")
	}

	return nil
}

// LoadFromFS reconstructs a read-only view of a registry from an fs.FS, useful for testing.
func LoadFromFS(fsys fs.FS, basePath string) (*Registry, error) {
	r := &Registry{
		basePath: basePath,
		defaults: CreateDefaults{Analyzer: defaultAnalyzer, BM25: BM25Parameters{K1: defaultK1, B: defaultB}},
		indexes:  make(map[string]Definition),
	}

	if err := r.loadFS(fsys, basePath); err != nil {
		return nil, err
	}

	return r, nil
}
