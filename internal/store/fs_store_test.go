package store

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/clglinterop/internal/interop"
)

// setupTestStore creates a temporary directory and returns an FSStore for testing.
func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir()
	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	return store, tempDir
}

func createTestRun() *Run {
	return NewRun("Test Platform", "Test GPU", 1024, 1024, interop.ModeBufferPBO)
}

func TestNewFSStore_CreatesBaseDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	store, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	if store.BaseDir() != dir {
		t.Errorf("BaseDir = %q, want %q", store.BaseDir(), dir)
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Fatal("Base directory was not created")
	}
}

func TestSaveRun(t *testing.T) {
	store, tempDir := setupTestStore(t)
	run := createTestRun()

	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	path := filepath.Join(tempDir, "runs", run.ID, "run.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("run.json not written: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file left behind")
	}
}

func TestSaveRun_Nil(t *testing.T) {
	store, _ := setupTestStore(t)
	if err := store.SaveRun(nil); err == nil {
		t.Fatal("Expected error for nil run")
	}
}

func TestSaveRun_Invalid(t *testing.T) {
	store, _ := setupTestStore(t)

	tests := map[string]func(*Run){
		"empty id":     func(r *Run) { r.ID = "" },
		"bad id":       func(r *Run) { r.ID = "../escape" },
		"zero width":   func(r *Run) { r.Width = 0 },
		"bad mode":     func(r *Run) { r.InitialMode = interop.Mode(9) },
		"zero started": func(r *Run) { r.StartedAt = time.Time{} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			run := createTestRun()
			mutate(run)
			if err := store.SaveRun(run); err == nil {
				t.Fatal("Expected validation error")
			}
		})
	}
}

func TestSaveRun_Overwrite(t *testing.T) {
	store, _ := setupTestStore(t)
	run := createTestRun()
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	run.Finish(1234, nil)
	run.Reports = 4
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := store.LoadRun(run.ID)
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}
	if loaded.State != RunCompleted || loaded.Frames != 1234 || loaded.Reports != 4 {
		t.Errorf("Loaded run not updated: %+v", loaded)
	}
}

func TestLoadRun(t *testing.T) {
	store, _ := setupTestStore(t)
	run := createTestRun()
	run.ImplicitSync = true
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	loaded, err := store.LoadRun(run.ID)
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}
	if loaded.ID != run.ID {
		t.Errorf("ID = %q, want %q", loaded.ID, run.ID)
	}
	if loaded.Device != "Test GPU" || loaded.Platform != "Test Platform" {
		t.Errorf("Device/platform mismatch: %q/%q", loaded.Device, loaded.Platform)
	}
	if loaded.InitialMode != interop.ModeBufferPBO {
		t.Errorf("InitialMode = %v, want pbo", loaded.InitialMode)
	}
	if !loaded.ImplicitSync {
		t.Error("ImplicitSync not preserved")
	}
	if !loaded.StartedAt.Equal(run.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", loaded.StartedAt, run.StartedAt)
	}
}

func TestLoadRun_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.LoadRun("nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.RunID != "nonexistent" {
		t.Errorf("Expected NotFoundError for nonexistent, got %v", err)
	}
}

func TestLoadRun_EmptyID(t *testing.T) {
	store, _ := setupTestStore(t)
	if _, err := store.LoadRun(""); err == nil {
		t.Fatal("Expected error for empty run ID")
	}
}

func TestListRuns_Empty(t *testing.T) {
	store, _ := setupTestStore(t)

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if infos == nil || len(infos) != 0 {
		t.Errorf("Expected empty non-nil list, got %v", infos)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	store, tempDir := setupTestStore(t)

	older := createTestRun()
	older.StartedAt = time.Now().Add(-time.Hour)
	newer := createTestRun()
	for _, r := range []*Run{older, newer} {
		if err := store.SaveRun(r); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	tw, err := NewTraceWriter(tempDir, newer.ID)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	tw.Report(interop.PerfReport{Mode: interop.ModeTexture, Frames: 255})
	if err := tw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(infos))
	}
	if infos[0].ID != newer.ID || infos[1].ID != older.ID {
		t.Errorf("Wrong order: %s, %s", infos[0].ID, infos[1].ID)
	}
	if infos[0].TraceBytes == 0 {
		t.Error("Expected trace size for newer run")
	}
	if infos[1].TraceBytes != 0 {
		t.Errorf("Expected no trace for older run, got %d bytes", infos[1].TraceBytes)
	}
}

func TestListRuns_SkipsInvalidDirectories(t *testing.T) {
	store, tempDir := setupTestStore(t)
	run := createTestRun()
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	// Directory without run.json.
	if err := os.MkdirAll(filepath.Join(tempDir, "runs", "empty"), 0755); err != nil {
		t.Fatal(err)
	}
	// Directory with corrupt run.json.
	corrupt := filepath.Join(tempDir, "runs", "corrupt")
	if err := os.MkdirAll(corrupt, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(corrupt, "run.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	// Stray file.
	if err := os.WriteFile(filepath.Join(tempDir, "runs", "stray.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != run.ID {
		t.Errorf("Expected only the valid run, got %+v", infos)
	}
}

func TestDeleteRun(t *testing.T) {
	store, tempDir := setupTestStore(t)
	run := createTestRun()
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	tw, err := NewTraceWriter(tempDir, run.ID)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	tw.Close()

	if err := store.DeleteRun(run.ID); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "runs", run.ID)); !os.IsNotExist(err) {
		t.Error("Run directory still exists")
	}
	if _, err := store.LoadRun(run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteRun_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)
	if err := store.DeleteRun("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRun_EmptyID(t *testing.T) {
	store, _ := setupTestStore(t)
	if err := store.DeleteRun(""); err == nil {
		t.Fatal("Expected error for empty run ID")
	}
}

func TestConcurrentSave(t *testing.T) {
	store, _ := setupTestStore(t)

	const n = 10
	runs := make([]*Run, n)
	for i := range runs {
		runs[i] = createTestRun()
	}

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for _, r := range runs {
		wg.Add(1)
		go func(r *Run) {
			defer wg.Done()
			if err := store.SaveRun(r); err != nil {
				errCh <- err
			}
		}(r)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("Concurrent save failed: %v", err)
	}

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != n {
		t.Errorf("Expected %d runs, got %d", n, len(infos))
	}
}
