package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gramsearch/internal/index"
	"gramsearch/internal/index/storage"
)

type indexEngineConfig struct {
	mergeInterval   time.Duration
	mergeThreshold  int
	flushThresholds index.FlushThresholds
	analyzeWorkers  int
	// persist stores segments and the WAL under the registry's index path.
	persist bool
}

type segmentEntry struct {
	meta index.SegmentMetadata
	snap index.SegmentSnapshot
}

type indexEngine struct {
	def       index.Definition
	registry  *index.Registry
	analyzer  *index.Analyzer
	writer    *index.InMemoryIndex
	storage   *storage.EngineStorage
	dataDir   string
	segments  []segmentEntry
	workers   int
	telemetry *telemetry
	logger    *slog.Logger

	mergeInterval  time.Duration
	mergeThreshold int
	mergeCh        chan struct{}
	stopCh         chan struct{}
	doneCh         chan struct{}
	stopOnce       sync.Once

	// generation changes with every segment list change; searcher caches the merged view of one.
	generation uint64
	searcher   *index.Searcher

	mu sync.RWMutex
}

func newIndexEngine(def index.Definition, registry *index.Registry, analyzer *index.Analyzer, cfg indexEngineConfig, telemetry *telemetry, logger *slog.Logger) (*indexEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mergeInterval := cfg.mergeInterval
	if mergeInterval == 0 {
		mergeInterval = 30 * time.Second
	}
	mergeThreshold := cfg.mergeThreshold
	if mergeThreshold == 0 {
		mergeThreshold = 4
	}

	eng := &indexEngine{
		def:            def,
		registry:       registry,
		analyzer:       analyzer,
		writer:         index.NewInMemoryIndex(def, analyzer, cfg.flushThresholds),
		workers:        cfg.analyzeWorkers,
		telemetry:      telemetry,
		logger:         logger.With("index", def.Name),
		mergeInterval:  mergeInterval,
		mergeThreshold: mergeThreshold,
		mergeCh:        make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}

	if cfg.persist && registry != nil {
		if err := eng.open(registry.IndexPath(def.Name)); err != nil {
			if eng.storage != nil {
				_ = eng.storage.Close()
			}
			return nil, fmt.Errorf("open index '%s': %w", def.Name, err)
		}
	}

	go eng.mergeLoop()
	return eng, nil
}

// open loads persisted segments and replays the WAL records no segment covers yet.
func (e *indexEngine) open(dir string) error {
	store, pending, err := storage.OpenEngineStorage(dir)
	if err != nil {
		return err
	}
	metas, snaps, err := store.LoadSnapshots()
	if err != nil {
		_ = store.Close()
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.storage = store
	e.dataDir = dir
	for i := range metas {
		e.segments = append(e.segments, segmentEntry{meta: metas[i], snap: snaps[i]})
	}

	for _, rec := range pending {
		switch rec.Operation {
		case storage.OpIndex:
			analyzed, err := e.writer.Analyze(rec.Document)
			if err != nil {
				e.logger.Warn("skipping unreplayable wal record", "error", err)
				continue
			}
			e.writer.Apply(analyzed)
		case storage.OpDelete:
			e.writer.Delete(rec.DocumentID)
		}
	}

	if len(pending) > 0 {
		size, err := store.WAL.Size()
		if err != nil {
			return err
		}
		if err := e.commitLocked(size); err != nil {
			return err
		}
		e.logger.Info("wal replayed", "records", len(pending), "segments", len(e.segments))
	}

	e.syncMetadataLocked()
	return nil
}

func (e *indexEngine) indexDocuments(ctx context.Context, docs []map[string]any) (int, []string, []string, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []string
	accepted := make([]map[string]any, 0, len(docs))
	positions := make([]int, 0, len(docs))
	for i, doc := range docs {
		if _, err := index.DocumentID(doc); err != nil {
			errs = append(errs, fmt.Sprintf("doc %d: %v", i, err))
			continue
		}
		accepted = append(accepted, doc)
		positions = append(positions, i)
	}
	if len(accepted) == 0 {
		return 0, nil, errs, nil
	}

	var watermark, end int64
	if e.storage != nil {
		records := make([]storage.WALRecord, len(accepted))
		for i, doc := range accepted {
			records[i] = storage.WALRecord{Operation: storage.OpIndex, Index: e.def.Name, Document: doc}
		}
		_, watermark = e.storage.Manifest.Snapshot()
		var err error
		if end, err = e.storage.WAL.AppendBatch(records); err != nil {
			return 0, nil, errs, fmt.Errorf("append wal: %w", err)
		}
		e.telemetry.observeWAL(e.def.Name, end)
	}

	// The batch is durable from here on, so analysis must not stop halfway through it.
	analyzed, analyzeErrs := e.writer.AnalyzeBatch(context.WithoutCancel(ctx), accepted, e.workers)

	indexed := 0
	var segmentIDs []string
	for i, doc := range analyzed {
		if analyzeErrs[i] != nil {
			errs = append(errs, fmt.Sprintf("doc %d: %v", positions[i], analyzeErrs[i]))
			continue
		}
		e.writer.Apply(doc)
		indexed++

		if e.writer.ShouldFlush() {
			// The rest of the batch is not in a segment yet, so the watermark stays put.
			id, err := e.flushLocked(watermark)
			if err != nil {
				return indexed, segmentIDs, errs, err
			}
			segmentIDs = append(segmentIDs, id)
		}
	}

	if e.writer.Pending() > 0 {
		id, err := e.flushLocked(end)
		if err != nil {
			return indexed, segmentIDs, errs, err
		}
		segmentIDs = append(segmentIDs, id)
	} else if e.storage != nil {
		if err := e.storage.Manifest.UpdateOffset(end); err != nil {
			return indexed, segmentIDs, errs, err
		}
	}
	if err := e.checkpointLocked(); err != nil {
		return indexed, segmentIDs, errs, err
	}

	e.syncMetadataLocked()
	e.maybeScheduleMergeLocked()

	e.telemetry.recordIndexing(ctx, e.def.Name, indexed, len(e.segments), len(errs), time.Since(start))
	e.logger.Info("indexed documents", "documents", len(docs), "indexed", indexed, "errors", len(errs), "segments", len(e.segments), "duration_ms", time.Since(start).Milliseconds())

	return indexed, segmentIDs, errs, nil
}

// deleteDocument records a tombstone for docID in its own segment.
func (e *indexEngine) deleteDocument(ctx context.Context, docID string) (string, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	var end int64
	if e.storage != nil {
		var err error
		end, err = e.storage.WAL.Append(storage.WALRecord{Operation: storage.OpDelete, Index: e.def.Name, DocumentID: docID})
		if err != nil {
			return "", fmt.Errorf("append wal: %w", err)
		}
	}

	e.writer.Delete(docID)
	id, err := e.flushLocked(end)
	if err != nil {
		return "", err
	}
	if err := e.checkpointLocked(); err != nil {
		return id, err
	}

	e.syncMetadataLocked()
	e.maybeScheduleMergeLocked()

	e.telemetry.recordIndexing(ctx, e.def.Name, 0, len(e.segments), 0, time.Since(start))
	e.logger.Info("document deleted", "id", docID, "segment", id)
	return id, nil
}

// commitLocked flushes whatever is buffered, or just advances the watermark, and empties the WAL.
func (e *indexEngine) commitLocked(appliedOffset int64) error {
	if e.writer.Pending() > 0 {
		if _, err := e.flushLocked(appliedOffset); err != nil {
			return err
		}
	} else if e.storage != nil {
		if err := e.storage.Manifest.UpdateOffset(appliedOffset); err != nil {
			return err
		}
	}
	return e.checkpointLocked()
}

func (e *indexEngine) flushLocked(appliedOffset int64) (string, error) {
	id, err := newSegmentID()
	if err != nil {
		return "", err
	}

	snapshot := e.writer.Flush()
	meta := index.SegmentMetadata{ID: id, DocumentCount: snapshot.Stats.TotalDocs}
	if e.storage != nil {
		if meta, err = e.storage.WriteSnapshot(id, snapshot, appliedOffset); err != nil {
			return "", fmt.Errorf("write segment %s: %w", id, err)
		}
	}

	e.segments = append(e.segments, segmentEntry{meta: meta, snap: snapshot})
	e.invalidateLocked()
	return id, nil
}

func (e *indexEngine) checkpointLocked() error {
	if e.storage == nil {
		return nil
	}
	if err := e.storage.Checkpoint(); err != nil {
		return fmt.Errorf("checkpoint wal: %w", err)
	}
	_, offset := e.storage.Manifest.Snapshot()
	e.telemetry.observeWAL(e.def.Name, offset)
	return nil
}

func (e *indexEngine) invalidateLocked() {
	e.generation++
	e.searcher = nil
}

// syncMetadataLocked mirrors the segment list into the definition. DocCount sums segment counts and
// overcounts documents updated across segments until they are compacted.
func (e *indexEngine) syncMetadataLocked() {
	metas := make([]index.SegmentMetadata, 0, len(e.segments))
	count := 0
	for _, seg := range e.segments {
		metas = append(metas, seg.meta)
		count += seg.meta.DocumentCount
	}
	e.def.Metadata = index.IndexMetadata{DocCount: count, Segments: metas}

	if e.registry != nil {
		if err := e.registry.UpdateDefinition(e.def); err != nil {
			e.logger.Warn("failed to persist index metadata", "error", err)
		}
	}
}

func newSegmentID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("segment id: %w", err)
	}
	return "seg-" + id.String(), nil
}

func (e *indexEngine) maybeScheduleMergeLocked() {
	if len(e.segments) <= 1 {
		return
	}
	if len(e.segments) >= e.mergeThreshold {
		e.enqueueMerge()
		return
	}

	smallSegments := 0
	for _, seg := range e.segments {
		if seg.meta.DocumentCount < 10 {
			smallSegments++
		}
	}
	if smallSegments >= 2 {
		e.enqueueMerge()
	}
}

func (e *indexEngine) enqueueMerge() {
	select {
	case e.mergeCh <- struct{}{}:
	default:
	}
}

func (e *indexEngine) mergeLoop() {
	defer close(e.doneCh)
	ticker := time.NewTicker(e.mergeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.compactSegments()
		case <-e.mergeCh:
			e.compactSegments()
		case <-e.stopCh:
			return
		}
	}
}

// compactSegments merges the current segments into one. Segments flushed while the merge runs are
// kept after the merged segment.
func (e *indexEngine) compactSegments() {
	e.mu.RLock()
	inputs := append([]segmentEntry(nil), e.segments...)
	e.mu.RUnlock()

	if len(inputs) <= 1 {
		return
	}
	start := time.Now()

	snaps := make([]index.SegmentSnapshot, len(inputs))
	replaced := make([]string, len(inputs))
	for i, seg := range inputs {
		snaps[i] = seg.snap
		replaced[i] = seg.meta.ID
	}
	merged := mergeSegments(snaps)
	mergedID := replaced[len(replaced)-1] + ".m"

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.segments) < len(inputs) {
		return
	}
	for i := range inputs {
		if e.segments[i].meta.ID != replaced[i] {
			return
		}
	}

	meta := index.SegmentMetadata{ID: mergedID, DocumentCount: merged.Stats.TotalDocs}
	if e.storage != nil {
		var err error
		meta, err = e.storage.ReplaceSnapshots(replaced, mergedID, merged)
		if err != nil {
			e.logger.Error("segment compaction failed", "error", err)
			if meta.ID == "" {
				return
			}
		}
	}

	e.segments = append([]segmentEntry{{meta: meta, snap: merged}}, e.segments[len(inputs):]...)
	e.invalidateLocked()
	e.syncMetadataLocked()

	e.telemetry.recordCompaction(e.def.Name, len(e.segments))
	e.logger.Info("segments compacted", "mergedSegments", len(inputs), "docCount", merged.Stats.TotalDocs, "duration_ms", time.Since(start).Milliseconds())
}

func (e *indexEngine) search(ctx context.Context, req index.SearchRequest) index.SearchResponse {
	start := time.Now()
	resp := e.currentSearcher().Search(req)

	e.telemetry.recordSearch(ctx, e.def.Name, time.Since(start))
	e.logger.Debug("search pipeline executed", "hits", resp.TotalHits, "duration_ms", time.Since(start).Milliseconds())
	return resp
}

func (e *indexEngine) currentSearcher() *index.Searcher {
	e.mu.RLock()
	if s := e.searcher; s != nil {
		e.mu.RUnlock()
		return s
	}
	generation := e.generation
	snaps := make([]index.SegmentSnapshot, len(e.segments))
	for i, seg := range e.segments {
		snaps[i] = seg.snap
	}
	def := e.def
	e.mu.RUnlock()

	searcher := index.NewSearcher(def, mergeSegments(snaps), e.analyzer)

	e.mu.Lock()
	if e.generation == generation {
		e.searcher = searcher
	}
	e.mu.Unlock()
	return searcher
}

// close stops background compaction and releases storage handles.
func (e *indexEngine) close() error {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.doneCh

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.storage == nil {
		return nil
	}
	return e.storage.Close()
}

// destroy closes the engine and deletes everything it stored.
func (e *indexEngine) destroy() error {
	if err := e.close(); err != nil {
		return err
	}
	if e.storage == nil {
		return nil
	}
	if err := e.storage.RemoveAll(); err != nil {
		return err
	}
	return os.RemoveAll(e.dataDir)
}

// mergeSegments folds segments, oldest first, into one snapshot. Each document keeps only the
// postings of the segment holding its latest version; tombstoned documents disappear entirely.
func mergeSegments(segments []index.SegmentSnapshot) index.SegmentSnapshot {
	merged := index.SegmentSnapshot{
		Postings: make(map[string][]index.Posting),
		Docs:     []map[string]any{},
		Stats: index.BM25Stats{
			AvgFieldLengths: make(map[string]float64),
		},
	}

	if len(segments) == 0 {
		return merged
	}

	// owner maps a live document id to the segment holding its latest version.
	owner := make(map[string]int)
	liveDocs := make(map[string]map[string]any)
	for i, seg := range segments {
		for _, doc := range seg.Docs {
			id, err := index.DocumentID(doc)
			if err != nil {
				continue
			}
			if index.IsDeleted(doc) {
				delete(owner, id)
				delete(liveDocs, id)
				continue
			}
			owner[id] = i
			liveDocs[id] = doc
		}
	}

	for i, seg := range segments {
		for term, postings := range seg.Postings {
			for _, p := range postings {
				if at, ok := owner[p.DocID]; !ok || at != i {
					continue
				}
				merged.Postings[term] = append(merged.Postings[term], p)
			}
		}
	}

	for term, postings := range merged.Postings {
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].DocID < postings[j].DocID
		})
		merged.Postings[term] = postings
	}

	ids := make([]string, 0, len(liveDocs))
	for id := range liveDocs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		merged.Docs = append(merged.Docs, liveDocs[id])
	}

	merged.Stats = rebuildStats(merged)

	return merged
}

// rebuildStats recomputes BM25 statistics from the spans of a merged snapshot. Every span is one
// emitted token, so no re-analysis is needed.
func rebuildStats(snapshot index.SegmentSnapshot) index.BM25Stats {
	totals := make(map[string]int)
	for _, postings := range snapshot.Postings {
		for _, p := range postings {
			for _, span := range p.Spans {
				totals[span.Field]++
			}
		}
	}

	stats := index.BM25Stats{TotalDocs: len(snapshot.Docs), AvgFieldLengths: make(map[string]float64)}
	if stats.TotalDocs == 0 {
		return stats
	}

	for field, total := range totals {
		stats.AvgFieldLengths[field] = float64(total) / float64(stats.TotalDocs)
	}

	return stats
}
