package storage

import (
	"encoding/json"
	"fmt"

	"gramsearch/internal/index"
)

const segmentFormatVersion = 1

type segmentMeta struct {
	Version   int             `json:"version"`
	Documents int             `json:"documents"`
	Stats     index.BM25Stats `json:"stats"`
}

// EncodeSnapshot serializes a flushed snapshot into the components of segment id.
func EncodeSnapshot(id string, snapshot index.SegmentSnapshot) (SegmentFiles, error) {
	postings, err := json.Marshal(snapshot.Postings)
	if err != nil {
		return SegmentFiles{}, fmt.Errorf("encode postings: %w", err)
	}
	docs, err := json.Marshal(snapshot.Docs)
	if err != nil {
		return SegmentFiles{}, fmt.Errorf("encode docs: %w", err)
	}
	meta, err := json.Marshal(segmentMeta{Version: segmentFormatVersion, Documents: len(snapshot.Docs), Stats: snapshot.Stats})
	if err != nil {
		return SegmentFiles{}, fmt.Errorf("encode meta: %w", err)
	}
	return SegmentFiles{ID: id, Postings: postings, Docs: docs, Meta: meta}, nil
}

// DecodeSnapshot is the inverse of EncodeSnapshot.
func DecodeSnapshot(files SegmentFiles) (index.SegmentSnapshot, error) {
	var meta segmentMeta
	if err := json.Unmarshal(files.Meta, &meta); err != nil {
		return index.SegmentSnapshot{}, fmt.Errorf("segment %s: decode meta: %w", files.ID, err)
	}
	if meta.Version != segmentFormatVersion {
		return index.SegmentSnapshot{}, fmt.Errorf("segment %s: unsupported format version %d", files.ID, meta.Version)
	}

	snapshot := index.SegmentSnapshot{Stats: meta.Stats}
	if err := json.Unmarshal(files.Postings, &snapshot.Postings); err != nil {
		return index.SegmentSnapshot{}, fmt.Errorf("segment %s: decode postings: %w", files.ID, err)
	}
	if err := json.Unmarshal(files.Docs, &snapshot.Docs); err != nil {
		return index.SegmentSnapshot{}, fmt.Errorf("segment %s: decode docs: %w", files.ID, err)
	}
	if len(snapshot.Docs) != meta.Documents {
		return index.SegmentSnapshot{}, fmt.Errorf("segment %s: expected %d documents, found %d", files.ID, meta.Documents, len(snapshot.Docs))
	}
	if snapshot.Postings == nil {
		snapshot.Postings = make(map[string][]index.Posting)
	}
	if snapshot.Stats.AvgFieldLengths == nil {
		snapshot.Stats.AvgFieldLengths = make(map[string]float64)
	}
	return snapshot, nil
}
