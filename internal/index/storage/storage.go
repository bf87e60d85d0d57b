package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"gramsearch/internal/index"
)

// EngineStorage glues together the WAL and manifest around a segment directory layout.
type EngineStorage struct {
	WAL      *WAL
	Manifest *SegmentManifest

	compressor   Compressor
	walPath      string
	segmentsPath string
}

// OpenEngineStorage initializes durability primitives and returns pending WAL entries for replay.
// Pending entries stay unapplied until the caller persists them with WriteSnapshot.
func OpenEngineStorage(basePath string) (*EngineStorage, []WALRecord, error) {
	walPath := filepath.Join(basePath, "wal")
	segmentsPath := filepath.Join(basePath, "segments")

	wal, walSize, err := OpenWAL(walPath)
	if err != nil {
		return nil, nil, err
	}

	manifest, err := LoadSegmentManifest(segmentsPath)
	if err != nil {
		_ = wal.Close()
		return nil, nil, err
	}

	// A checkpoint interrupted after truncating the WAL leaves the watermark past its end.
	if manifest.AppliedWALOffset > walSize {
		if err := manifest.UpdateOffset(walSize); err != nil {
			_ = wal.Close()
			return nil, nil, err
		}
	}

	// Replay only the portion of the WAL that hasn't been materialized into immutable segments.
	pending, nextOffset, err := wal.Recover(manifest.AppliedWALOffset)
	if err != nil {
		_ = wal.Close()
		return nil, nil, err
	}

	if nextOffset < walSize {
		if err := wal.TruncateTail(nextOffset); err != nil {
			_ = wal.Close()
			return nil, nil, err
		}
	}

	return &EngineStorage{
		WAL:          wal,
		Manifest:     manifest,
		compressor:   GzipCompressor{},
		walPath:      walPath,
		segmentsPath: segmentsPath,
	}, pending, nil
}

// SegmentsPath exposes the directory where immutable segment files live.
func (s *EngineStorage) SegmentsPath() string {
	return s.segmentsPath
}

// WriteSnapshot persists snapshot as segment id and records it in the manifest together with the
// WAL offset the snapshot covers.
func (s *EngineStorage) WriteSnapshot(id string, snapshot index.SegmentSnapshot, appliedOffset int64) (index.SegmentMetadata, error) {
	if err := s.writeSegment(id, snapshot); err != nil {
		return index.SegmentMetadata{}, err
	}
	meta := index.SegmentMetadata{ID: id, DocumentCount: snapshot.Stats.TotalDocs}
	if err := s.Manifest.AddSegment(meta, appliedOffset); err != nil {
		return index.SegmentMetadata{}, err
	}
	return meta, nil
}

// ReplaceSnapshots writes merged as segment id, swaps it for the segments in replaced, and deletes
// the replaced files.
func (s *EngineStorage) ReplaceSnapshots(replaced []string, id string, merged index.SegmentSnapshot) (index.SegmentMetadata, error) {
	if err := s.writeSegment(id, merged); err != nil {
		return index.SegmentMetadata{}, err
	}
	meta := index.SegmentMetadata{ID: id, DocumentCount: merged.Stats.TotalDocs}
	if err := s.Manifest.ReplaceSegments(replaced, []index.SegmentMetadata{meta}); err != nil {
		return index.SegmentMetadata{}, err
	}
	for _, old := range replaced {
		if err := RemoveSegment(s.segmentsPath, old); err != nil {
			return meta, err
		}
	}
	return meta, nil
}

// LoadSnapshots reads every segment listed in the manifest, in manifest order.
func (s *EngineStorage) LoadSnapshots() ([]index.SegmentMetadata, []index.SegmentSnapshot, error) {
	metas, _ := s.Manifest.Snapshot()
	snapshots := make([]index.SegmentSnapshot, 0, len(metas))
	for _, meta := range metas {
		files, err := ReadSegment(s.segmentsPath, meta.ID, SegmentReadOptions{Compressor: s.compressor, UseMmap: true})
		if err != nil {
			return nil, nil, err
		}
		snapshot, err := DecodeSnapshot(files)
		if err != nil {
			return nil, nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return metas, snapshots, nil
}

// Checkpoint empties the WAL once everything in it has been applied to segments. It must not run
// concurrently with appends.
func (s *EngineStorage) Checkpoint() error {
	_, applied := s.Manifest.Snapshot()
	size, err := s.WAL.Size()
	if err != nil {
		return err
	}
	if applied != size || size == 0 {
		return nil
	}
	if err := s.WAL.TruncateTail(0); err != nil {
		return err
	}
	return s.Manifest.UpdateOffset(0)
}

func (s *EngineStorage) writeSegment(id string, snapshot index.SegmentSnapshot) error {
	files, err := EncodeSnapshot(id, snapshot)
	if err != nil {
		return err
	}
	return WriteSegment(s.segmentsPath, files, SegmentWriteOptions{Compressor: s.compressor})
}

// Close releases underlying handles.
func (s *EngineStorage) Close() error {
	if s.WAL != nil {
		return s.WAL.Close()
	}
	return nil
}

// RemoveAll clears the storage directories.
func (s *EngineStorage) RemoveAll() error {
	if err := os.RemoveAll(s.walPath); err != nil {
		return fmt.Errorf("cleanup wal: %w", err)
	}
	if err := os.RemoveAll(s.segmentsPath); err != nil {
		return fmt.Errorf("cleanup segments: %w", err)
	}
	return nil
}
