package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"gramsearch/internal/analysis"
	"gramsearch/internal/index"
	"gramsearch/internal/index/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func booksDefinition() index.Definition {
	return index.Definition{
		Name:   "books",
		Fields: map[string]index.FieldDefinition{"title": {Type: index.FieldTypeText, Weight: 1}},
		BM25:   index.BM25Parameters{K1: 1.2, B: 0.75},
	}
}

func newMemoryEngine(t *testing.T) *indexEngine {
	t.Helper()
	eng, err := newIndexEngine(booksDefinition(), nil, index.StandardAnalyzer(), indexEngineConfig{}, nil, discardLogger())
	if err != nil {
		t.Fatalf("newIndexEngine: %v", err)
	}
	t.Cleanup(func() { _ = eng.close() })
	return eng
}

func searchIDs(t *testing.T, eng *indexEngine, query string) []string {
	t.Helper()
	resp := eng.search(context.Background(), index.SearchRequest{Query: query})
	ids := make([]string, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		ids = append(ids, hit.ID)
	}
	return ids
}

func segmentCount(eng *indexEngine) int {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	return len(eng.segments)
}

func equalIDs(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestMergeSegmentsPrunesDeletesAndRebuildsStats(t *testing.T) {
	seg1 := index.SegmentSnapshot{
		Postings: map[string][]index.Posting{
			"quick": {{DocID: "1", TermFreq: 1, Positions: []int{0}, Spans: []index.Span{{Field: "title", Start: 0, End: 5}}}},
			"fox":   {{DocID: "1", TermFreq: 1, Positions: []int{1}, Spans: []index.Span{{Field: "title", Start: 6, End: 9}}}},
		},
		Docs:  []map[string]any{{"id": "1", "title": "quick fox"}},
		Stats: index.BM25Stats{TotalDocs: 1, AvgFieldLengths: map[string]float64{"title": 2}},
	}

	seg2 := index.SegmentSnapshot{
		Postings: map[string][]index.Posting{
			"new": {{DocID: "2", TermFreq: 1, Positions: []int{0}, Spans: []index.Span{{Field: "title", Start: 0, End: 3}}}},
			"fox": {{DocID: "2", TermFreq: 1, Positions: []int{1}, Spans: []index.Span{{Field: "title", Start: 4, End: 7}}}},
		},
		Docs:  []map[string]any{{"id": "1", index.DeletedField: true}, {"id": "2", "title": "new fox"}},
		Stats: index.BM25Stats{TotalDocs: 1, AvgFieldLengths: map[string]float64{"title": 2}},
	}

	merged := mergeSegments([]index.SegmentSnapshot{seg1, seg2})

	if merged.Stats.TotalDocs != 1 {
		t.Fatalf("expected only one live doc, got %d", merged.Stats.TotalDocs)
	}
	if got := len(merged.Docs); got != 1 || merged.Docs[0]["id"] != "2" {
		t.Fatalf("expected only doc 2 to survive deletion, got %+v", merged.Docs)
	}
	if fox := merged.Postings["fox"]; len(fox) != 1 || fox[0].DocID != "2" {
		t.Fatalf("expected postings to drop deleted doc, got %+v", fox)
	}
	if _, ok := merged.Postings["quick"]; ok {
		t.Fatalf("expected terms of deleted docs to disappear")
	}
	if avg := merged.Stats.AvgFieldLengths["title"]; avg != 2 {
		t.Fatalf("expected recomputed avg length of 2, got %f", avg)
	}
}

func TestMergeSegmentsKeepsLatestVersion(t *testing.T) {
	older := index.SegmentSnapshot{
		Postings: map[string][]index.Posting{
			"draft": {{DocID: "1", TermFreq: 1, Positions: []int{0}, Spans: []index.Span{{Field: "title", Start: 0, End: 5}}}},
		},
		Docs: []map[string]any{{"id": "1", "title": "draft"}},
	}
	newer := index.SegmentSnapshot{
		Postings: map[string][]index.Posting{
			"final": {{DocID: "1", TermFreq: 1, Positions: []int{0}, Spans: []index.Span{{Field: "title", Start: 0, End: 5}}}},
			"cut":   {{DocID: "1", TermFreq: 1, Positions: []int{1}, Spans: []index.Span{{Field: "title", Start: 6, End: 9}}}},
		},
		Docs: []map[string]any{{"id": "1", "title": "final cut"}},
	}

	merged := mergeSegments([]index.SegmentSnapshot{older, newer})

	if _, ok := merged.Postings["draft"]; ok {
		t.Fatalf("expected postings of the replaced version to be dropped")
	}
	if len(merged.Postings["final"]) != 1 || len(merged.Postings["cut"]) != 1 {
		t.Fatalf("expected postings of the latest version, got %+v", merged.Postings)
	}
	if got := len(merged.Docs); got != 1 || merged.Docs[0]["title"] != "final cut" {
		t.Fatalf("expected the latest stored document, got %+v", merged.Docs)
	}
	if avg := merged.Stats.AvgFieldLengths["title"]; avg != 2 {
		t.Fatalf("expected avg length 2 from the latest version, got %f", avg)
	}
}

func TestIndexEngineIndexUpdateAndDelete(t *testing.T) {
	eng := newMemoryEngine(t)
	ctx := context.Background()

	indexed, segmentIDs, errs, err := eng.indexDocuments(ctx, []map[string]any{
		{"id": "1", "title": "quick brown fox"},
		{"id": "2", "title": "lazy dog"},
		{"title": "no id"},
	})
	if err != nil {
		t.Fatalf("indexDocuments: %v", err)
	}
	if indexed != 2 || len(errs) != 1 || len(segmentIDs) != 1 {
		t.Fatalf("unexpected result: indexed=%d errs=%v segments=%v", indexed, errs, segmentIDs)
	}

	if got := searchIDs(t, eng, "fox"); !equalIDs(got, []string{"1"}) {
		t.Fatalf("expected doc 1 for fox, got %v", got)
	}

	if _, _, _, err := eng.indexDocuments(ctx, []map[string]any{{"id": "1", "title": "slow grey wolf"}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := searchIDs(t, eng, "fox"); len(got) != 0 {
		t.Fatalf("expected the old version to be gone, got %v", got)
	}
	if got := searchIDs(t, eng, "wolf"); !equalIDs(got, []string{"1"}) {
		t.Fatalf("expected the new version to match, got %v", got)
	}

	if _, err := eng.deleteDocument(ctx, "2"); err != nil {
		t.Fatalf("deleteDocument: %v", err)
	}
	if got := searchIDs(t, eng, "dog"); len(got) != 0 {
		t.Fatalf("expected deleted doc to disappear, got %v", got)
	}
}

func TestIndexEngineCompactionReplacesSegmentsAndMetadata(t *testing.T) {
	eng := newMemoryEngine(t)
	ctx := context.Background()

	for _, doc := range []map[string]any{
		{"id": "1", "title": "first"},
		{"id": "2", "title": "second"},
		{"id": "3", "title": "third"},
	} {
		if _, _, _, err := eng.indexDocuments(ctx, []map[string]any{doc}); err != nil {
			t.Fatalf("indexDocuments: %v", err)
		}
	}
	if _, err := eng.deleteDocument(ctx, "3"); err != nil {
		t.Fatalf("deleteDocument: %v", err)
	}

	// A background merge may win the race and leave newer segments behind; retry until one remains.
	for i := 0; i < 10 && segmentCount(eng) > 1; i++ {
		eng.compactSegments()
	}

	eng.mu.RLock()
	defer eng.mu.RUnlock()

	if got := len(eng.segments); got != 1 {
		t.Fatalf("expected a single merged segment, got %d", got)
	}
	if eng.def.Metadata.DocCount != 2 {
		t.Fatalf("expected metadata doc count to reflect merge, got %d", eng.def.Metadata.DocCount)
	}
	if got := len(eng.def.Metadata.Segments); got != 1 {
		t.Fatalf("expected metadata to be replaced with new segment, got %d entries", got)
	}
}

func TestIndexEngineRecoversFromDisk(t *testing.T) {
	registry, err := index.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	def, err := registry.Create(index.CreateRequest{
		Name:   "books",
		Fields: map[string]index.FieldDefinition{"title": {Type: index.FieldTypeText}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	analyzers, err := analysis.NewRegistry(analysis.Dependencies{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("analysis.NewRegistry: %v", err)
	}
	analyzer, err := index.TokenizerFor(analyzers, def)
	if err != nil {
		t.Fatalf("TokenizerFor: %v", err)
	}
	cfg := indexEngineConfig{persist: true}
	open := func() *indexEngine {
		t.Helper()
		current, _ := registry.Get(def.Name)
		eng, err := newIndexEngine(current, registry, analyzer, cfg, nil, discardLogger())
		if err != nil {
			t.Fatalf("newIndexEngine: %v", err)
		}
		return eng
	}

	eng := open()
	if _, _, _, err := eng.indexDocuments(context.Background(), []map[string]any{
		{"id": "1", "title": "quick brown fox"},
		{"id": "2", "title": "lazy dog"},
	}); err != nil {
		t.Fatalf("indexDocuments: %v", err)
	}
	if err := eng.close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A write that reached the WAL but no segment before the process died.
	store, pending, err := storage.OpenEngineStorage(registry.IndexPath(def.Name))
	if err != nil {
		t.Fatalf("OpenEngineStorage: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected a checkpointed WAL, got %d pending records", len(pending))
	}
	if _, err := store.WAL.Append(storage.WALRecord{Operation: storage.OpIndex, Index: def.Name, Document: map[string]any{"id": "3", "title": "red fox"}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	eng = open()
	if got := searchIDs(t, eng, "fox"); !equalIDs(got, []string{"1", "3"}) && !equalIDs(got, []string{"3", "1"}) {
		t.Fatalf("expected persisted and replayed docs, got %v", got)
	}
	eng.mu.RLock()
	size, err := eng.storage.WAL.Size()
	eng.mu.RUnlock()
	if err != nil || size != 0 {
		t.Fatalf("expected replayed WAL to be checkpointed, size=%d err=%v", size, err)
	}

	if _, err := eng.deleteDocument(context.Background(), "1"); err != nil {
		t.Fatalf("deleteDocument: %v", err)
	}
	if err := eng.close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	eng = open()
	defer eng.close()
	if got := searchIDs(t, eng, "fox"); !equalIDs(got, []string{"3"}) {
		t.Fatalf("expected the delete to survive a restart, got %v", got)
	}
	if stored, _ := registry.Get(def.Name); len(stored.Metadata.Segments) == 0 {
		t.Fatalf("expected segment metadata to be persisted in the definition")
	}
}
