package storage

import (
	"testing"

	"gramsearch/internal/index"
)

func TestSnapshotCodec(t *testing.T) {
	snapshot := index.SegmentSnapshot{
		Postings: map[string][]index.Posting{
			"fo": {{DocID: "1", TermFreq: 2, Positions: []int{0, 0}, Spans: []index.Span{{Field: "title", Start: 0, End: 2}, {Field: "title", Start: 0, End: 2}}}},
		},
		Docs:  []map[string]any{{"id": "1", "title": "fox", "views": 3}},
		Stats: index.BM25Stats{TotalDocs: 1, AvgFieldLengths: map[string]float64{"title": 3}},
	}

	files, err := EncodeSnapshot("seg-1", snapshot)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeSnapshot(files)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	p := decoded.Postings["fo"]
	if len(p) != 1 || p[0].TermFreq != 2 || len(p[0].Spans) != 2 || p[0].Spans[1].End != 2 {
		t.Fatalf("unexpected postings %+v", p)
	}
	if decoded.Docs[0]["views"] != float64(3) {
		t.Fatalf("expected numbers to decode as float64, got %T", decoded.Docs[0]["views"])
	}
	if decoded.Stats.TotalDocs != 1 || decoded.Stats.AvgFieldLengths["title"] != 3 {
		t.Fatalf("unexpected stats %+v", decoded.Stats)
	}
}

func TestDecodeSnapshotRejectsCorruptMeta(t *testing.T) {
	files, err := EncodeSnapshot("seg-1", index.SegmentSnapshot{Docs: []map[string]any{{"id": "1"}}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	bad := files
	bad.Meta = []byte(`{"version":99}`)
	if _, err := DecodeSnapshot(bad); err == nil {
		t.Fatalf("expected unknown version to fail")
	}

	bad = files
	bad.Docs = []byte(`[]`)
	if _, err := DecodeSnapshot(bad); err == nil {
		t.Fatalf("expected document count mismatch to fail")
	}

	empty, err := DecodeSnapshot(files)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if empty.Postings == nil || empty.Stats.AvgFieldLengths == nil {
		t.Fatalf("expected decoded maps to be initialized")
	}
}
