package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gramsearch/internal/analysis"
	"gramsearch/internal/index"
)

type apiServer struct {
	registry  *index.Registry
	analyzers *analysis.Registry

	engines   map[string]*indexEngine
	engineCfg indexEngineConfig
	telemetry *telemetry
	logger    *slog.Logger
	mu        sync.RWMutex
	ready     atomic.Bool
}

// analyzeRequest selects an analyzer by name or describes one inline.
type analyzeRequest struct {
	Analyzer string             `json:"analyzer"`
	Settings *analysis.Settings `json:"settings,omitempty"`
	Text     string             `json:"text"`
}

type analyzedToken struct {
	Term              string `json:"term"`
	Start             int    `json:"start"`
	End               int    `json:"end"`
	Position          int    `json:"position"`
	PositionIncrement int    `json:"positionIncrement"`
	Type              string `json:"type"`
}

func newAPIServer(registry *index.Registry, analyzers *analysis.Registry, engCfg indexEngineConfig, telemetry *telemetry, logger *slog.Logger) *apiServer {
	if logger == nil {
		logger = slog.Default()
	}
	server := &apiServer{
		registry:  registry,
		analyzers: analyzers,
		engines:   make(map[string]*indexEngine),
		engineCfg: engCfg,
		telemetry: telemetry,
		logger:    logger,
	}

	for _, def := range registry.List() {
		engine, err := server.openEngine(def)
		if err != nil {
			// The index stays registered; readiness reports the missing engine.
			logger.Error("failed to open index", "index", def.Name, "error", err)
			continue
		}
		server.engines[def.Name] = engine
	}
	server.ready.Store(true)

	return server
}

func (s *apiServer) openEngine(def index.Definition) (*indexEngine, error) {
	analyzer, err := index.TokenizerFor(s.analyzers, def)
	if err != nil {
		return nil, err
	}
	return newIndexEngine(def, s.registry, analyzer, s.engineCfg, s.telemetry, s.logger)
}

func (s *apiServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/indexes", s.handleIndexes)
	mux.HandleFunc("/v1/indexes/", s.handleIndexByName)
	mux.HandleFunc("/v1/search", s.handleSearch)
	mux.HandleFunc("/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("/v1/analyzers", s.handleAnalyzers)
	mux.HandleFunc("/v1/health", s.handleHealth)
	mux.HandleFunc("/v1/ready", s.handleReadiness)
	if s.telemetry != nil && s.telemetry.enabled {
		mux.HandleFunc("/v1/metrics", s.telemetry.handleMetrics)
	}
	return mux
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *apiServer) handleIndexes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createIndex(w, r)
	case http.MethodGet:
		s.listIndexes(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *apiServer) handleIndexByName(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/v1/indexes/")
	segments := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		http.NotFound(w, r)
		return
	}

	name := segments[0]
	if len(segments) == 1 {
		switch r.Method {
		case http.MethodGet:
			def, ok := s.registry.Get(name)
			if !ok {
				http.NotFound(w, r)
				return
			}
			respond(w, http.StatusOK, def)
		case http.MethodDelete:
			s.deleteIndex(w, r, name)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch segments[1] {
	case "documents":
		switch {
		case len(segments) == 2 && r.Method == http.MethodPost:
			s.indexDocuments(w, r, name)
		case len(segments) == 3 && r.Method == http.MethodDelete:
			s.deleteDocument(w, r, name, segments[2])
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case "stats":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.indexStats(w, r, name)
	default:
		http.NotFound(w, r)
	}
}

func (s *apiServer) createIndex(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req index.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json payload", start)
		return
	}

	def, err := s.registry.Create(req)
	if err != nil {
		respondError(w, httpStatusForError(err), err.Error(), start)
		return
	}

	engine, err := s.openEngine(def)
	if err != nil {
		_ = s.registry.Delete(def.Name)
		respondError(w, http.StatusInternalServerError, err.Error(), start)
		return
	}

	s.mu.Lock()
	s.engines[def.Name] = engine
	s.mu.Unlock()

	respond(w, http.StatusCreated, map[string]any{"index": def, "timingMs": time.Since(start).Milliseconds()})
}

func (s *apiServer) listIndexes(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	indexes := s.registry.List()
	respond(w, http.StatusOK, map[string]any{"indexes": indexes, "timingMs": time.Since(start).Milliseconds()})
}

func (s *apiServer) deleteIndex(w http.ResponseWriter, _ *http.Request, name string) {
	start := time.Now()

	s.mu.Lock()
	engine, ok := s.engines[name]
	delete(s.engines, name)
	s.mu.Unlock()

	if ok {
		if err := engine.destroy(); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error(), start)
			return
		}
	}
	if err := s.registry.Delete(name); err != nil {
		respondError(w, httpStatusForError(err), err.Error(), start)
		return
	}
	s.telemetry.forgetIndex(name)

	respond(w, http.StatusOK, map[string]any{"deleted": name, "timingMs": time.Since(start).Milliseconds()})
	s.logger.Info("index deleted", "index", name)
}

func (s *apiServer) indexDocuments(w http.ResponseWriter, r *http.Request, name string) {
	start := time.Now()

	engine, ok := s.getEngine(name)
	if !ok {
		respondError(w, http.StatusNotFound, "index not found", start)
		return
	}

	var payload struct {
		Documents []map[string]any `json:"documents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json payload", start)
		return
	}
	if len(payload.Documents) == 0 {
		respondError(w, http.StatusBadRequest, "no documents provided", start)
		return
	}

	indexed, segmentIDs, errs, err := engine.indexDocuments(r.Context(), payload.Documents)
	if err != nil {
		s.logger.Error("index request failed", "index", name, "error", err)
		respondError(w, http.StatusInternalServerError, err.Error(), start)
		return
	}
	status := http.StatusOK
	if indexed == 0 {
		status = http.StatusBadRequest
	}

	segmentID := ""
	if len(segmentIDs) > 0 {
		segmentID = segmentIDs[len(segmentIDs)-1]
	}

	respond(w, status, map[string]any{
		"indexed":    indexed,
		"errors":     errs,
		"segmentId":  segmentID,
		"segmentIds": segmentIDs,
		"timingMs":   time.Since(start).Milliseconds(),
	})

	s.logger.Info("index request processed", "index", name, "documents", len(payload.Documents), "indexed", indexed, "status", status, "duration_ms", time.Since(start).Milliseconds())
}

func (s *apiServer) deleteDocument(w http.ResponseWriter, r *http.Request, name, docID string) {
	start := time.Now()

	engine, ok := s.getEngine(name)
	if !ok {
		respondError(w, http.StatusNotFound, "index not found", start)
		return
	}

	segmentID, err := engine.deleteDocument(r.Context(), docID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), start)
		return
	}

	respond(w, http.StatusOK, map[string]any{"deleted": docID, "segmentId": segmentID, "timingMs": time.Since(start).Milliseconds()})
}

func (s *apiServer) indexStats(w http.ResponseWriter, _ *http.Request, name string) {
	start := time.Now()

	def, ok := s.registry.Get(name)
	if !ok {
		respondError(w, http.StatusNotFound, "index not found", start)
		return
	}

	analyzer := def.Analyzer
	if def.AnalyzerSettings != nil {
		analyzer = def.AnalyzerSettings.String()
	}

	respond(w, http.StatusOK, map[string]any{
		"name":     def.Name,
		"analyzer": analyzer,
		"docCount": def.Metadata.DocCount,
		"segments": def.Metadata.Segments,
		"timingMs": time.Since(start).Milliseconds(),
	})
}

func (s *apiServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	indexName := r.URL.Query().Get("index")
	if indexName == "" {
		respondError(w, http.StatusBadRequest, "index parameter is required", start)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, http.StatusBadRequest, "q parameter is required", start)
		return
	}

	engine, ok := s.getEngine(indexName)
	if !ok {
		respondError(w, http.StatusNotFound, "index not found", start)
		return
	}

	page, err := parseIntDefault(r.URL.Query().Get("page"), 1)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid page: %v", err), start)
		return
	}
	pageSize, err := parseIntDefault(r.URL.Query().Get("pageSize"), 10)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid pageSize: %v", err), start)
		return
	}

	req := index.SearchRequest{
		Query:    query,
		Page:     page,
		PageSize: pageSize,
		Filters:  r.URL.Query().Get("filters"),
	}

	resp := engine.search(r.Context(), req)

	respond(w, http.StatusOK, map[string]any{
		"index":     indexName,
		"query":     query,
		"totalHits": resp.TotalHits,
		"page":      resp.Page,
		"pageSize":  resp.PageSize,
		"results":   resp.Hits,
		"timingMs":  time.Since(start).Milliseconds(),
	})

	s.logger.Info("search completed", "index", indexName, "query", query, "hits", resp.TotalHits, "duration_ms", time.Since(start).Milliseconds())
}

func (s *apiServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json payload", start)
		return
	}

	var (
		analyzer *analysis.Analyzer
		err      error
	)
	switch {
	case req.Settings != nil:
		analyzer, err = s.analyzers.Build("inline", *req.Settings)
	case req.Analyzer != "":
		analyzer, err = s.analyzers.Get(req.Analyzer)
	default:
		analyzer, err = s.analyzers.Get(analysis.TypeNGramAnalyzer)
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), start)
		return
	}

	result, err := analyzer.Analyze(req.Text)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), start)
		return
	}

	tokens := make([]analyzedToken, 0, len(result.Tokens))
	position := 0
	for _, tok := range result.Tokens {
		position += tok.PosInc
		tokens = append(tokens, analyzedToken{
			Term:              tok.Term,
			Start:             tok.Start,
			End:               tok.End,
			Position:          position,
			PositionIncrement: tok.PosInc,
			Type:              tok.Type,
		})
	}

	s.telemetry.recordAnalysis(r.Context(), analyzer.Name(), len(tokens), result.Truncated)

	respond(w, http.StatusOK, map[string]any{
		"analyzer": analyzer.Name(),
		"settings": analyzer.Settings(),
		"tokens":   tokens,
		"final": map[string]int{
			"offset":            result.Final.Offset,
			"positionIncrement": result.Final.PosInc,
		},
		"truncated": result.Truncated,
		"timingMs":  time.Since(start).Milliseconds(),
	})
}

func (s *apiServer) handleAnalyzers(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	type entry struct {
		Name     string            `json:"name"`
		Settings analysis.Settings `json:"settings"`
	}
	names := s.analyzers.Names()
	entries := make([]entry, 0, len(names))
	for _, name := range names {
		a, err := s.analyzers.Get(name)
		if err != nil {
			continue
		}
		entries = append(entries, entry{Name: name, Settings: a.Settings()})
	}

	respond(w, http.StatusOK, map[string]any{"analyzers": entries, "timingMs": time.Since(start).Milliseconds()})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	respond(w, http.StatusOK, map[string]any{"status": "ok", "timingMs": time.Since(start).Milliseconds()})
}

func (s *apiServer) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	ready := s.ready.Load()
	s.mu.RLock()
	engineCount := len(s.engines)
	s.mu.RUnlock()
	registered := len(s.registry.List())
	if ready && engineCount != registered {
		ready = false
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	respond(w, status, map[string]any{
		"status":   map[bool]string{true: "ready", false: "initializing"}[ready],
		"engines":  engineCount,
		"registry": registered,
		"timingMs": time.Since(start).Milliseconds(),
	})
}

func (s *apiServer) getEngine(name string) (*indexEngine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eng, ok := s.engines[name]
	return eng, ok
}

// close shuts every engine down.
func (s *apiServer) close() error {
	s.ready.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, engine := range s.engines {
		if err := engine.close(); err != nil {
			errs = append(errs, fmt.Errorf("close index '%s': %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func respond(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string, start time.Time) {
	respond(w, status, map[string]any{"error": message, "timingMs": time.Since(start).Milliseconds()})
}

func parseIntDefault(raw string, defaultVal int) (int, error) {
	if raw == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return val, nil
}

func httpStatusForError(err error) int {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "exists"):
		return http.StatusConflict
	case strings.Contains(msg, "not found"):
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}
