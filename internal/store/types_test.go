package store

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/clglinterop/internal/interop"
)

func TestNewRun(t *testing.T) {
	run := NewRun("P", "D", 640, 480, interop.ModeTexture)

	if _, err := uuid.Parse(run.ID); err != nil {
		t.Errorf("ID is not a UUID: %v", err)
	}
	if run.State != RunRunning {
		t.Errorf("State = %q, want running", run.State)
	}
	if run.PerfWindow != interop.DefaultPerfWindow {
		t.Errorf("PerfWindow = %d, want %d", run.PerfWindow, interop.DefaultPerfWindow)
	}
	if run.StartedAt.IsZero() {
		t.Error("StartedAt not set")
	}
	if err := run.Validate(); err != nil {
		t.Errorf("New run does not validate: %v", err)
	}
	if NewRun("P", "D", 1, 1, interop.ModeTexture).ID == run.ID {
		t.Error("Expected unique IDs")
	}
}

func TestRun_Finish(t *testing.T) {
	run := NewRun("P", "D", 640, 480, interop.ModeTexture)
	run.Finish(42, nil)
	if run.State != RunCompleted || run.Frames != 42 || run.Error != "" {
		t.Errorf("Unexpected completed run: %+v", run)
	}
	if run.EndedAt.IsZero() {
		t.Error("EndedAt not set")
	}

	failed := NewRun("P", "D", 640, 480, interop.ModeTexture)
	failed.Finish(7, errors.New("clEnqueueAcquireGLObjects failed"))
	if failed.State != RunFailed {
		t.Errorf("State = %q, want failed", failed.State)
	}
	if !strings.Contains(failed.Error, "AcquireGLObjects") {
		t.Errorf("Error = %q", failed.Error)
	}
}

func TestRun_Duration(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	run := &Run{StartedAt: start, EndedAt: start.Add(90 * time.Second)}
	if run.Duration() != 90*time.Second {
		t.Errorf("Duration = %v, want 90s", run.Duration())
	}
}

func TestRun_JSONModeName(t *testing.T) {
	run := NewRun("P", "D", 640, 480, interop.ModeBufferMap)

	data, err := json.Marshal(run)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"initialMode":"map"`) {
		t.Errorf("Expected mode name in JSON, got %s", data)
	}
	if strings.Contains(string(data), "endedAt") {
		t.Errorf("Expected endedAt omitted while running, got %s", data)
	}
}

func TestRun_ToInfo(t *testing.T) {
	run := NewRun("P", "Radeon", 640, 480, interop.ModeBufferPBO)
	run.Reports = 3
	run.Finish(765, nil)

	info := run.ToInfo()
	if info.ID != run.ID || info.Device != "Radeon" {
		t.Errorf("Identity mismatch: %+v", info)
	}
	if info.InitialMode != interop.ModeBufferPBO || info.State != RunCompleted {
		t.Errorf("Mode/state mismatch: %+v", info)
	}
	if info.Frames != 765 || info.Reports != 3 {
		t.Errorf("Counters mismatch: %+v", info)
	}
	if info.TraceBytes != 0 {
		t.Errorf("TraceBytes = %d, want 0", info.TraceBytes)
	}
}
