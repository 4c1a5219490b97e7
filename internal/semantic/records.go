package semantic

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ChunkRecord is one persisted chunk embedding. The full record set for a
// vault is the durable semantic index, stored as newline-delimited JSON,
// one object per line, UTF-8, no header or trailer.
type ChunkRecord struct {
	// ID is the chunk identifier (documentPath#index).
	ID string `json:"id"`

	// Path is the vault-relative document path.
	Path string `json:"path"`

	// Title is the document title at indexing time.
	Title string `json:"title"`

	// MTime is the document modification time, Unix seconds.
	MTime int64 `json:"mtime"`

	// CTime is the record creation time, Unix seconds.
	CTime int64 `json:"ctime"`

	// Embedding is the chunk's embedding vector.
	Embedding []float32 `json:"embedding"`
}

// maxRecordLineBytes bounds a single JSONL line; embeddings of a few
// thousand dimensions fit comfortably.
const maxRecordLineBytes = 8 * 1024 * 1024

// loadRecords reads all persisted records. A missing file yields an empty
// set. Corrupt lines are skipped with a log; a fully unreadable file is
// treated as empty rather than failing the caller.
func loadRecords(path string) []ChunkRecord {
	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("semantic_index_unreadable",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return nil
	}
	defer file.Close()

	var records []ChunkRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxRecordLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		var rec ChunkRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			slog.Warn("semantic_index_corrupt_line",
				slog.String("path", path),
				slog.Int("line", line),
				slog.String("error", err.Error()))
			continue
		}
		if rec.ID == "" || len(rec.Embedding) == 0 {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("semantic_index_read_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}

	return records
}

// saveRecords writes the full record set atomically (temp file + rename).
// Last writer wins for the whole index file.
func saveRecords(path string, records []ChunkRecord) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}

	writer := bufio.NewWriter(file)
	enc := json.NewEncoder(writer)
	for i := range records {
		// Encoder appends the newline, giving one object per line.
		if err := enc.Encode(&records[i]); err != nil {
			_ = file.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("encode record %s: %w", records[i].ID, err)
		}
	}
	if err := writer.Flush(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

// appendRecords appends a batch of records to the index file, creating it
// if needed. Used during full indexing so already-written batches survive
// a cancelled run (at-least-once, not atomic).
func appendRecords(path string, records []ChunkRecord) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	enc := json.NewEncoder(writer)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("encode record %s: %w", records[i].ID, err)
		}
	}
	return writer.Flush()
}
