package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cwbudde/clglinterop/internal/interop"
)

// TraceEntry is one perf report of a run, serialized as a JSON line in
// trace.jsonl.
type TraceEntry struct {
	// Seq numbers the reports of a run from 0.
	Seq int `json:"seq"`

	interop.PerfReport
}

// TracePath returns the location of the trace of runID.
func TracePath(baseDir, runID string) string {
	return filepath.Join(runDir(baseDir, runID), "trace.jsonl")
}

// TraceWriter writes trace entries to a JSONL file.
// It uses buffered I/O and is safe for concurrent use.
//
// TraceWriter is an interop.Reporter, so it can be attached to a session
// directly.
type TraceWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
	seq    int
}

var _ interop.Reporter = (*TraceWriter)(nil)

// NewTraceWriter creates a trace writer for the given run at
// <baseDir>/runs/<runID>/trace.jsonl.
func NewTraceWriter(baseDir, runID string) (*TraceWriter, error) {
	dir := runDir(baseDir, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	path := TracePath(baseDir, runID)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	return &TraceWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		path:   path,
	}, nil
}

// Write appends a perf report to the trace. The entry is buffered and
// reaches the file on Flush or Close.
func (tw *TraceWriter) Write(r interop.PerfReport) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data, err := json.Marshal(TraceEntry{Seq: tw.seq, PerfReport: r})
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}
	if _, err := tw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	if err := tw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	tw.seq++
	return nil
}

// Report implements interop.Reporter. Write errors are logged.
func (tw *TraceWriter) Report(r interop.PerfReport) {
	if err := tw.Write(r); err != nil {
		slog.Warn("Failed to record perf report", "path", tw.path, "error", err)
	}
}

// Count returns the number of entries written so far.
func (tw *TraceWriter) Count() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.seq
}

// Flush writes any buffered data to the file and syncs it.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close flushes buffered data and closes the trace file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		tw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := tw.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the trace file.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader reads trace entries from a JSONL file.
type TraceReader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewTraceReader opens the trace of the given run.
func NewTraceReader(baseDir, runID string) (*TraceReader, error) {
	file, err := os.Open(TracePath(baseDir, runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{RunID: runID}
		}
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &TraceReader{file: file, scanner: scanner}, nil
}

// Read reads the next trace entry. It returns io.EOF after the last one.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	if !tr.scanner.Scan() {
		if err := tr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan trace line: %w", err)
		}
		return nil, io.EOF
	}

	var entry TraceEntry
	if err := json.Unmarshal(tr.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace entry: %w", err)
	}
	return &entry, nil
}

// ReadAll reads all remaining trace entries.
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	var entries []TraceEntry
	for {
		entry, err := tr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// Close closes the trace reader.
func (tr *TraceReader) Close() error {
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}
