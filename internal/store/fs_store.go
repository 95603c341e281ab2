package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// FSStore implements the Store interface on the filesystem.
// Runs are stored in a directory structure: <baseDir>/runs/<runID>/
//
// Thread-safety: writes go through temp file + rename, so concurrent
// readers never observe a partial run.json.
type FSStore struct {
	baseDir string
}

var _ Store = (*FSStore)(nil)

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir returns the root directory of the store.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

func runDir(baseDir, runID string) string {
	return filepath.Join(baseDir, "runs", runID)
}

func (fs *FSStore) runPath(runID string) string {
	return filepath.Join(runDir(fs.baseDir, runID), "run.json")
}

// SaveRun atomically saves the metadata of a run.
func (fs *FSStore) SaveRun(run *Run) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	dir := runDir(fs.baseDir, run.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	finalPath := fs.runPath(run.ID)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp run file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename run file: %w", err)
	}

	slog.Debug("Run saved", "runID", run.ID, "state", run.State)
	return nil
}

// LoadRun retrieves the metadata of a run.
func (fs *FSStore) LoadRun(runID string) (*Run, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	data, err := os.ReadFile(fs.runPath(runID))
	if os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}

	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to deserialize run: %w", err)
	}
	return &run, nil
}

// ListRuns returns a summary of every stored run, newest first.
func (fs *FSStore) ListRuns() ([]RunInfo, error) {
	runsDir := filepath.Join(fs.baseDir, "runs")
	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return []RunInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	infos := []RunInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := fs.LoadRun(entry.Name())
		if err != nil {
			slog.Warn("Failed to load run for listing", "runID", entry.Name(), "error", err)
			continue
		}
		info := run.ToInfo()
		if st, err := os.Stat(TracePath(fs.baseDir, run.ID)); err == nil {
			info.TraceBytes = st.Size()
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.After(infos[j].StartedAt) })
	slog.Debug("Listed runs", "count", len(infos))
	return infos, nil
}

// DeleteRun removes the run directory and everything in it.
func (fs *FSStore) DeleteRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	dir := runDir(fs.baseDir, runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{RunID: runID}
	} else if err != nil {
		return fmt.Errorf("failed to stat run directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}
	slog.Debug("Run deleted", "runID", runID)
	return nil
}
