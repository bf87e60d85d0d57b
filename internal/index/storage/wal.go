package storage

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	walFilename = "wal.log"
	// maxRecordSize bounds a single record; a larger length prefix is treated as a torn write.
	maxRecordSize = 64 << 20
)

// WAL operations.
const (
	OpIndex  = "index"
	OpDelete = "delete"
)

// WALRecord represents a single append-only mutation event. Index records carry the document,
// delete records only its id.
type WALRecord struct {
	Operation  string         `json:"op"`
	Index      string         `json:"index"`
	Document   map[string]any `json:"document,omitempty"`
	DocumentID string         `json:"documentId,omitempty"`
}

// WAL provides append-only durability for incoming writes.
type WAL struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// OpenWAL ensures the WAL file exists and is ready for appends.
// It returns the opened WAL and its current size (next offset).
func OpenWAL(basePath string) (*WAL, int64, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, 0, fmt.Errorf("create wal directory: %w", err)
	}

	path := filepath.Join(basePath, walFilename)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("open wal: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, 0, fmt.Errorf("stat wal: %w", err)
	}

	return &WAL{path: path, file: file}, info.Size(), nil
}

// Append writes a single record. See AppendBatch.
func (w *WAL) Append(record WALRecord) (int64, error) {
	return w.AppendBatch([]WALRecord{record})
}

// AppendBatch writes length-prefixed JSON records and fsyncs the file once.
// It returns the offset immediately after the last record has been persisted.
func (w *WAL) AppendBatch(records []WALRecord) (int64, error) {
	var buf []byte
	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return 0, fmt.Errorf("marshal wal record: %w", err)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	offset, err := w.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek wal end: %w", err)
	}
	if len(buf) == 0 {
		return offset, nil
	}

	if _, err := w.file.Write(buf); err != nil {
		return 0, fmt.Errorf("write wal: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return 0, fmt.Errorf("fsync wal: %w", err)
	}

	return offset + int64(len(buf)), nil
}

// Recover reads records after the provided offset (typically manifest.AppliedWALOffset).
// It stops at the first incomplete record to guarantee idempotent replay and returns the offset
// just past the last complete one.
func (w *WAL) Recover(fromOffset int64) ([]WALRecord, int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(fromOffset, io.SeekStart); err != nil {
		return nil, fromOffset, fmt.Errorf("seek wal: %w", err)
	}

	reader := bufio.NewReader(w.file)
	var records []WALRecord
	currentOffset := fromOffset
	var lengthBuf [4]byte

	for {
		if _, err := io.ReadFull(reader, lengthBuf[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return records, currentOffset, nil
			}
			return records, currentOffset, fmt.Errorf("read wal length: %w", err)
		}

		length := binary.LittleEndian.Uint32(lengthBuf[:])
		if length > maxRecordSize {
			return records, currentOffset, nil
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(reader, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return records, currentOffset, nil
			}
			return records, currentOffset, fmt.Errorf("read wal payload: %w", err)
		}

		var record WALRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return records, currentOffset, fmt.Errorf("decode wal record at %d: %w", currentOffset, err)
		}

		currentOffset += int64(4 + length)
		records = append(records, record)
	}
}

// TruncateTail cuts the log at offset, discarding a torn record left by a crash so later appends
// stay readable.
func (w *WAL) TruncateTail(offset int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(offset); err != nil {
		return fmt.Errorf("truncate wal: %w", err)
	}
	return w.file.Sync()
}

// Size reports the current length of the log.
func (w *WAL) Size() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := w.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat wal: %w", err)
	}
	return info.Size(), nil
}

// Close closes the underlying file handle.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
