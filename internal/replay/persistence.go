// Package replay implements the atomic file-based recording contract used
// to checkpoint and resume a simulation session: a temp-file-then-rename
// writer for full snapshots and a newline-delimited append log for the
// event stream.
package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// atomicWriteBytes writes data to a temp file in dir(path) and renames it
// into place, so a reader never observes a partially written file.
func atomicWriteBytes(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("replay: create parent dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".tmp_*")
	if err != nil {
		return fmt.Errorf("replay: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("replay: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("replay: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replay: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replay: rename into place: %w", err)
	}
	return nil
}

// WriteJSON atomically writes obj to path as indented JSON (map keys are
// sorted; struct fields keep their declaration order).
func WriteJSON(path string, obj any) error {
	payload, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return fmt.Errorf("replay: marshal json: %w", err)
	}
	return atomicWriteBytes(path, payload)
}

// ReadJSON reads and unmarshals a JSON document written by WriteJSON.
func ReadJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("replay: read json: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("replay: unmarshal json: %w", err)
	}
	return nil
}

// WriteJSONL atomically writes records as a newline-delimited JSON log,
// replacing whatever file was previously at path.
func WriteJSONL(path string, records []any) error {
	var b strings.Builder
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("replay: marshal jsonl record: %w", err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return atomicWriteBytes(path, []byte(b.String()))
}

// ReadJSONL reads a newline-delimited JSON log into raw messages, one per
// non-empty line, for the caller to unmarshal into concrete types.
func ReadJSONL(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replay: read jsonl: %w", err)
	}
	var out []json.RawMessage
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, json.RawMessage(line))
	}
	return out, nil
}

// Recorder accumulates event records in memory and periodically flushes
// them to an append-only newline-delimited JSON file. It does not keep the
// file open between flushes — each Flush is a fresh atomic rewrite of the
// whole log, matching the original's whole-file rewrite semantics rather
// than a true append, since atomic replace cannot be done with O_APPEND.
type Recorder struct {
	path    string
	records []any
}

// NewRecorder creates a recorder that will write to path on Flush.
func NewRecorder(path string) *Recorder {
	return &Recorder{path: path}
}

// Append queues a record for the next Flush.
func (r *Recorder) Append(record any) {
	r.records = append(r.records, record)
}

// Flush atomically rewrites the log file with every record queued so far.
func (r *Recorder) Flush() error {
	return WriteJSONL(r.path, r.records)
}

// Len reports how many records are queued.
func (r *Recorder) Len() int {
	return len(r.records)
}
