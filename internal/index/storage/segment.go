package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	postingsExt = ".postings"
	docsExt     = ".docs"
	metaExt     = ".meta"
)

var segmentExts = []string{postingsExt, docsExt, metaExt}

// Compressor exposes hooks for optional compression/decompression.
type Compressor interface {
	Compress([]byte) ([]byte, error)
	Decompress([]byte) ([]byte, error)
}

// SegmentWriteOptions controls how immutable segment files are emitted.
type SegmentWriteOptions struct {
	Compressor Compressor
}

// SegmentReadOptions controls how immutable segment files are opened.
type SegmentReadOptions struct {
	Compressor Compressor
	UseMmap    bool
}

// SegmentFiles holds the raw bytes for each immutable segment component.
type SegmentFiles struct {
	ID       string
	Postings []byte
	Docs     []byte
	Meta     []byte
}

// WriteSegment materializes the immutable segment files to disk. Each component is written to a
// temporary file and renamed into place, so a reader never observes a partial file.
func WriteSegment(basePath string, files SegmentFiles, opts SegmentWriteOptions) error {
	if files.ID == "" {
		return fmt.Errorf("segment id is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return fmt.Errorf("create segments dir: %w", err)
	}

	blobs := map[string][]byte{postingsExt: files.Postings, docsExt: files.Docs, metaExt: files.Meta}
	// meta goes last: a segment without its meta file is incomplete.
	for _, ext := range segmentExts {
		data := blobs[ext]
		if opts.Compressor != nil {
			compressed, err := opts.Compressor.Compress(data)
			if err != nil {
				return fmt.Errorf("compress %s: %w", ext, err)
			}
			data = compressed
		}

		path := filepath.Join(basePath, files.ID+ext)
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return fmt.Errorf("write segment %s: %w", path, err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("publish segment %s: %w", path, err)
		}
	}
	return nil
}

// ReadSegment loads the immutable segment files from disk.
// When UseMmap is enabled and supported the files are mapped instead of read; a failed mapping falls
// back to a standard read.
func ReadSegment(basePath, segmentID string, opts SegmentReadOptions) (SegmentFiles, error) {
	decode := func(data []byte) ([]byte, error) {
		if opts.Compressor == nil {
			return bytes.Clone(data), nil
		}
		decoded, err := opts.Compressor.Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("decompress: %w", err)
		}
		return decoded, nil
	}

	loadBlob := func(ext string) ([]byte, error) {
		path := filepath.Join(basePath, segmentID+ext)
		if opts.UseMmap {
			if data, err := readMapped(path, decode); err == nil {
				return data, nil
			}
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read segment %s: %w", path, err)
		}
		return decode(data)
	}

	files := SegmentFiles{ID: segmentID}
	targets := []*[]byte{&files.Postings, &files.Docs, &files.Meta}
	for i, ext := range segmentExts {
		data, err := loadBlob(ext)
		if err != nil {
			return SegmentFiles{}, err
		}
		*targets[i] = data
	}
	return files, nil
}

// RemoveSegment deletes the files of a segment. Missing files are ignored.
func RemoveSegment(basePath, segmentID string) error {
	var errs []error
	for _, ext := range segmentExts {
		err := os.Remove(filepath.Join(basePath, segmentID+ext))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("remove segment %s: %w", segmentID, errors.Join(errs...))
	}
	return nil
}
