package storage

import (
	"testing"

	"gramsearch/internal/index"
)

func TestSegmentManifestLifecycle(t *testing.T) {
	dir := t.TempDir()

	manifest, err := LoadSegmentManifest(dir)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}

	if manifest.AppliedWALOffset != 0 || len(manifest.Segments) != 0 {
		t.Fatalf("expected empty manifest, got %+v", manifest)
	}

	meta := index.SegmentMetadata{ID: "seg-1", DocumentCount: 10}
	if err := manifest.AddSegment(meta, 128); err != nil {
		t.Fatalf("add segment: %v", err)
	}

	if manifest.AppliedWALOffset != 128 {
		t.Fatalf("expected wal offset 128, got %d", manifest.AppliedWALOffset)
	}
	if len(manifest.Segments) != 1 || manifest.Segments[0].ID != "seg-1" {
		t.Fatalf("unexpected segments %+v", manifest.Segments)
	}

	// Ensure it round-trips to disk.
	manifestReloaded, err := LoadSegmentManifest(dir)
	if err != nil {
		t.Fatalf("reload manifest: %v", err)
	}
	if manifestReloaded.AppliedWALOffset != 128 || len(manifestReloaded.Segments) != 1 {
		t.Fatalf("unexpected reloaded manifest %+v", manifestReloaded)
	}
}

func TestSegmentManifestReplaceSegments(t *testing.T) {
	dir := t.TempDir()

	manifest, err := LoadSegmentManifest(dir)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}

	segs := []index.SegmentMetadata{
		{ID: "seg-1", DocumentCount: 1},
		{ID: "seg-2", DocumentCount: 1},
		{ID: "seg-3", DocumentCount: 1},
	}
	for i, seg := range segs {
		if err := manifest.AddSegment(seg, int64(10*(i+1))); err != nil {
			t.Fatalf("add segment: %v", err)
		}
	}

	merged := index.SegmentMetadata{ID: "seg-2.m", DocumentCount: 2}
	if err := manifest.ReplaceSegments([]string{"seg-1", "seg-2"}, []index.SegmentMetadata{merged}); err != nil {
		t.Fatalf("replace segments: %v", err)
	}

	segments, offset := manifest.Snapshot()
	if offset != 30 {
		t.Fatalf("expected wal offset to be preserved, got %d", offset)
	}

	if len(segments) != 2 || segments[0].ID != merged.ID || segments[1].ID != "seg-3" {
		t.Fatalf("expected merged segment ahead of newer segments, got %+v", segments)
	}
}
